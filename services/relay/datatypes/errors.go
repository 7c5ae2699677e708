// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"net/http"
)

// ErrorKind classifies a relay failure. It decides the HTTP status and the
// caller-visible error text.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidInput
	KindNotConfigured
	KindUpstreamError
	KindInvalidUpstreamResponse
	KindInvalidAIOutput
	KindSerializationFailure
)

var kindNames = map[ErrorKind]string{
	KindInternal:                "internal",
	KindInvalidInput:            "invalid_input",
	KindNotConfigured:           "not_configured",
	KindUpstreamError:           "upstream_error",
	KindInvalidUpstreamResponse: "invalid_upstream_response",
	KindInvalidAIOutput:         "invalid_ai_output",
	KindSerializationFailure:    "serialization_failure",
}

// String returns the snake_case name used in logs and metric labels.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "internal"
}

// HTTPStatus maps the kind to a response status.
func (k ErrorKind) HTTPStatus() int {
	if k == KindInvalidInput {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ErrorText is the caller-visible "error" field for the kind.
func (k ErrorKind) ErrorText() string {
	switch k {
	case KindInvalidInput:
		return "Invalid input"
	case KindSerializationFailure:
		return "JSON encoding failed"
	default:
		return "Internal server error"
	}
}

// RelayError is a classified failure raised by an action handler.
//
// Public is a fixed, caller-safe message. Err carries the diagnostic
// cause for the server log; it only reaches a caller when error detail is
// explicitly enabled, and then only after secret scrubbing.
type RelayError struct {
	Kind   ErrorKind
	Public string
	Err    error
}

// NewError builds a RelayError.
func NewError(kind ErrorKind, public string, cause error) *RelayError {
	return &RelayError{Kind: kind, Public: public, Err: cause}
}

func (e *RelayError) Error() string {
	if e.Err == nil {
		return e.Kind.String() + ": " + e.Public
	}
	return e.Kind.String() + ": " + e.Public + ": " + e.Err.Error()
}

func (e *RelayError) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) ErrorKind {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}
