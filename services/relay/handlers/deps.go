// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the relay's HTTP handlers: the action router,
// the three action adapters, and the admin and site-config endpoints.
package handlers

import (
	"time"

	"github.com/aiwebsite/keyrelay/pkg/extensions"
	"github.com/aiwebsite/keyrelay/services/credentials"
	"github.com/aiwebsite/keyrelay/services/relay/observability"
	"github.com/aiwebsite/keyrelay/services/upstream"
	"go.opentelemetry.io/otel"
)

var relayTracer = otel.Tracer("keyrelay.relay.handlers")

// Default upstream endpoints.
const (
	DefaultGeminiURL   = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent"
	DefaultUnsplashURL = "https://api.unsplash.com/search/photos"
	DefaultEmailJSURL  = "https://api.emailjs.com/api/v1.0/email/send"
)

// Endpoints are the upstream base URLs. Overridable for proxies and tests.
type Endpoints struct {
	GeminiURL   string
	UnsplashURL string
	EmailJSURL  string
}

func (e Endpoints) withDefaults() Endpoints {
	if e.GeminiURL == "" {
		e.GeminiURL = DefaultGeminiURL
	}
	if e.UnsplashURL == "" {
		e.UnsplashURL = DefaultUnsplashURL
	}
	if e.EmailJSURL == "" {
		e.EmailJSURL = DefaultEmailJSURL
	}
	return e
}

// RelayDeps are the collaborators shared by the relay handlers.
type RelayDeps struct {
	Store     credentials.Store
	Caller    upstream.Caller
	Endpoints Endpoints

	// Metrics may be nil.
	Metrics *observability.RelayMetrics

	// Filter scrubs diagnostic text. Default: no-op.
	Filter extensions.MessageFilter

	// RetryBudget bounds generate_text including retries.
	// Default: DefaultRetryBudget.
	RetryBudget time.Duration

	// ExposeErrorDetail appends the scrubbed cause to the "message" of
	// internal errors. Off in production.
	ExposeErrorDetail bool
}

// normalized returns a copy with defaults applied.
func (d RelayDeps) normalized() *RelayDeps {
	d.Endpoints = d.Endpoints.withDefaults()
	if d.Filter == nil {
		d.Filter = &extensions.NopMessageFilter{}
	}
	if d.Caller == nil {
		d.Caller = upstream.NewClient(upstream.ClientOptions{Observer: d.Metrics})
	}
	return &d
}
