// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultTimeoutSeconds bounds ordinary upstream calls.
	DefaultTimeoutSeconds = 30
	// ExtendedTimeoutSeconds bounds text generation, which is slow.
	ExtendedTimeoutSeconds = 300
	// DefaultMaxAttempts is the text-generation retry budget.
	DefaultMaxAttempts = 3
	// DefaultRetryBaseSeconds is the text-generation backoff base.
	DefaultRetryBaseSeconds = 5
	// DefaultSubdomainDir is the document root new subdomains point at.
	DefaultSubdomainDir = "/editor.ai-web.site"
)

// Credentials is an immutable snapshot of everything the relay reads from
// the store. A new value is built on every reload.
type Credentials struct {
	GeminiKey         Secret
	UnsplashKey       Secret
	EmailJSServiceID  Secret
	EmailJSTemplateID Secret
	EmailJSPublicKey  Secret

	Hosting HostingSettings

	DefaultTimeout  time.Duration
	ExtendedTimeout time.Duration
	MaxAttempts     int
	RetryBase       time.Duration

	LoadedAt time.Time
}

// HostingSettings are the control-panel connection details.
type HostingSettings struct {
	Username     string
	Token        Secret
	Host         string
	MainDomain   string
	SubdomainDir string
	VerifyTLS    bool
}

// HostingUpdate carries operator edits from the admin API. An empty Token
// keeps the stored token.
type HostingUpdate struct {
	Username   string
	Token      string
	Host       string
	MainDomain string
}

// Store is the read side consumed by the relay and the admin API.
type Store interface {
	// Snapshot returns the current credentials. Never nil.
	Snapshot() *Credentials

	// SaveHosting persists hosting settings and reloads.
	SaveHosting(ctx context.Context, update HostingUpdate) error

	// Secrets returns the plaintext of every configured secret, for
	// scrubbing diagnostic output. The slice is shared: it is rebuilt only
	// when the credentials change and must not be modified.
	Secrets() []string
}

// secretValues reveals every present secret in c. An enclave that cannot
// be opened is reported rather than skipped, since a missing value would
// go unscrubbed.
func (c *Credentials) secretValues() ([]string, error) {
	all := []struct {
		name   string
		secret Secret
	}{
		{"gemini.api_key", c.GeminiKey},
		{"unsplash.api_key", c.UnsplashKey},
		{"emailjs.service_id", c.EmailJSServiceID},
		{"emailjs.template_id", c.EmailJSTemplateID},
		{"emailjs.public_key", c.EmailJSPublicKey},
		{"hosting.api_token", c.Hosting.Token},
	}
	out := make([]string, 0, len(all))
	var errs []error
	for _, s := range all {
		if !s.secret.Present() {
			continue
		}
		v, err := s.secret.open()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out, errors.Join(errs...)
}
