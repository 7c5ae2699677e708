// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hosting is a client for the hosting control panel's UAPI, used
// to provision and remove subdomains.
package hosting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aiwebsite/keyrelay/services/credentials"
	"github.com/aiwebsite/keyrelay/services/upstream"
)

const (
	// panelPort is the control panel's TLS port.
	panelPort = "2083"

	callTimeout  = 30 * time.Second
	probeTimeout = 10 * time.Second
)

// ErrNotConfigured is returned when username, host or token is missing.
var ErrNotConfigured = fmt.Errorf("hosting panel: %w", credentials.ErrNotConfigured)

// APIError is a completed call the panel reported as failed.
type APIError struct {
	Function string
	Errors   []string
}

func (e *APIError) Error() string {
	msg := "Unknown error"
	if len(e.Errors) > 0 {
		msg = strings.Join(e.Errors, "; ")
	}
	return e.Function + ": " + msg
}

// uapiResponse is the common UAPI envelope.
type uapiResponse struct {
	Status   int             `json:"status"`
	Errors   []string        `json:"errors"`
	Messages []string        `json:"messages"`
	Data     json.RawMessage `json:"data"`
}

// Client calls the control panel. It reads settings from the store on
// every call so saved changes apply immediately.
type Client struct {
	caller upstream.Caller
	store  credentials.Store
}

// NewClient creates a Client.
func NewClient(caller upstream.Caller, store credentials.Store) *Client {
	return &Client{caller: caller, store: store}
}

// CreateSubdomain creates sub.rootDomain pointing at the configured
// document root.
func (c *Client) CreateSubdomain(ctx context.Context, sub, rootDomain string) error {
	settings := c.store.Snapshot().Hosting
	form := url.Values{}
	form.Set("domain", sub)
	form.Set("rootdomain", rootDomain)
	form.Set("dir", settings.SubdomainDir)
	form.Set("disallowdot", "0")

	_, err := c.execute(ctx, "SubDomain/addsubdomain", http.MethodPost, form, callTimeout)
	if err != nil {
		return err
	}
	slog.Info("Subdomain created", "subdomain", sub, "root_domain", rootDomain)
	return nil
}

// DeleteSubdomain removes sub.rootDomain.
func (c *Client) DeleteSubdomain(ctx context.Context, sub, rootDomain string) error {
	form := url.Values{}
	form.Set("domain", sub)
	form.Set("rootdomain", rootDomain)

	_, err := c.execute(ctx, "SubDomain/delsubdomain", http.MethodPost, form, callTimeout)
	if err != nil {
		return err
	}
	slog.Info("Subdomain deleted", "subdomain", sub, "root_domain", rootDomain)
	return nil
}

// TestConnection verifies credentials with a cheap stats query.
func (c *Client) TestConnection(ctx context.Context) error {
	q := url.Values{}
	q.Set("display", "diskusage")
	_, err := c.execute(ctx, "StatsBar/get_stats", http.MethodGet, q, probeTimeout)
	return err
}

// execute performs one UAPI call and decodes the envelope.
func (c *Client) execute(ctx context.Context, function, method string, params url.Values, timeout time.Duration) (*uapiResponse, error) {
	settings := c.store.Snapshot().Hosting
	token, err := settings.Token.Reveal()
	if err != nil || settings.Username == "" || settings.Host == "" {
		return nil, ErrNotConfigured
	}

	d := upstream.Descriptor{
		Service:   "cpanel",
		Method:    method,
		Headers:   []string{"Authorization: cpanel " + settings.Username + ":" + token},
		Timeout:   timeout,
		VerifyTLS: settings.VerifyTLS,
	}
	endpoint := BaseURL(settings.Host) + function
	if method == http.MethodGet {
		d.URL = endpoint + "?" + params.Encode()
	} else {
		d.URL = endpoint
		d.Headers = append(d.Headers, "Content-Type: application/x-www-form-urlencoded")
		d.Body = []byte(params.Encode())
	}

	resp, _, err := upstream.WithRetry(ctx, c.caller, func(int) (upstream.Descriptor, error) { return d, nil }, upstream.SingleAttempt())
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", function, err)
	}

	var out uapiResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("%s returned invalid JSON: %w", function, err)
	}
	if out.Status != 1 {
		return nil, &APIError{Function: function, Errors: out.Errors}
	}
	return &out, nil
}

// BaseURL returns the UAPI execute root for host. A host that already
// carries a scheme is used as-is; otherwise https on the panel port.
func BaseURL(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if strings.Contains(host, "://") {
		return host + "/execute/"
	}
	return "https://" + host + ":" + panelPort + "/execute/"
}

// IsNotConfigured reports whether err means hosting settings are missing.
func IsNotConfigured(err error) bool {
	return errors.Is(err, credentials.ErrNotConfigured)
}
