// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the request and response types of the relay.
//
// Every response body is an Envelope variant: a JSON object carrying a
// "success" boolean plus either an action payload or an error.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Actions
// =============================================================================

// Action selects which upstream integration a relay call targets.
type Action string

const (
	ActionGenerateText Action = "generate_text"
	ActionSearchImages Action = "search_images"
	ActionSendEmail    Action = "send_email"
)

// Actions lists every accepted action.
var Actions = []Action{ActionGenerateText, ActionSearchImages, ActionSendEmail}

// Valid reports whether a is an accepted action.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// =============================================================================
// Response Envelopes
// =============================================================================

// ErrorResponse is the envelope for every failure.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewErrorResponse builds a failure envelope.
func NewErrorResponse(errText, message string) ErrorResponse {
	return ErrorResponse{Success: false, Error: errText, Message: message}
}

// MessageResponse is a success envelope carrying only a message.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TextResponse is the generate_text result.
type TextResponse struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
}

// PhotosResponse is the search_images result.
type PhotosResponse struct {
	Success bool    `json:"success"`
	Photos  []Photo `json:"photos"`
}

// Photo is the normalized image-search result item.
type Photo struct {
	ID             string    `json:"id"`
	URLs           PhotoURLs `json:"urls"`
	AltDescription string    `json:"alt_description"`
	Description    string    `json:"description"`
}

// PhotoURLs holds the sizes callers may render.
type PhotoURLs struct {
	Full    string `json:"full"`
	Regular string `json:"regular"`
	Small   string `json:"small"`
}

// FallbackBody is written when a response cannot be encoded.
var FallbackBody = []byte(`{"success":false,"error":"JSON encoding failed"}`)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// relayValidate is the validator instance for relay request types.
var relayValidate = validator.New()

// Validate runs struct-tag validation on v.
func Validate(v any) error {
	return relayValidate.Struct(v)
}
