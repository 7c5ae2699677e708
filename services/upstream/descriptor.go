// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// sensitiveParams are query parameters whose values never reach a log.
var sensitiveParams = []string{"key", "api_key", "apikey", "token", "access_token"}

// Descriptor describes a single outbound HTTP call. Build a fresh one per
// attempt and treat it as immutable once handed to Call.
type Descriptor struct {
	// Service labels the upstream in logs, metrics and spans ("gemini").
	Service string

	URL    string
	Method string

	// Headers are "Name: Value" lines, applied in order.
	Headers []string

	// Body is sent as-is. Nil means no body.
	Body []byte

	// Timeout is a hard deadline covering connect, request and the full
	// response read.
	Timeout time.Duration

	// VerifyTLS must only be false for a specific trusted internal
	// endpoint.
	VerifyTLS bool
}

// RedactedURL returns URL with sensitive query values replaced. It is the
// only form of the URL that may be logged.
func (d Descriptor) RedactedURL() string {
	return RedactURL(d.URL)
}

// RedactURL replaces sensitive query values in raw with REDACTED. Unparseable
// input is replaced wholesale.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	u.User = nil
	q := u.Query()
	changed := false
	for name := range q {
		for _, s := range sensitiveParams {
			if strings.EqualFold(name, s) {
				q.Set(name, "REDACTED")
				changed = true
			}
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (d Descriptor) newRequest(ctx context.Context) (*http.Request, error) {
	method := d.Method
	if method == "" {
		method = http.MethodGet
	}
	var body *bytes.Reader
	if d.Body != nil {
		body = bytes.NewReader(d.Body)
	}
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, d.URL, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, d.URL, nil)
	}
	if err != nil {
		// url.Parse errors echo the raw URL, which may carry a key.
		return nil, fmt.Errorf("invalid request for %s", d.RedactedURL())
	}
	for _, line := range d.Headers {
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("malformed header line for %s", d.Service)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return req, nil
}
