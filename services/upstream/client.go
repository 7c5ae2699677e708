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
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("keyrelay.upstream")

// maxResponseBytes caps how much of an upstream body is buffered.
const maxResponseBytes = 8 << 20

// defaultTimeout applies when a Descriptor carries none.
const defaultTimeout = 30 * time.Second

// Response is a completed exchange with status < 400.
type Response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Failure is a failed call. It is returned as an error so callers can
// recover it with errors.As.
//
// Reason is a diagnostic string for the server log. It never contains the
// request URL.
type Failure struct {
	Reason string

	// StatusCode is set when the upstream answered with status >= 400.
	StatusCode int

	// Body is the upstream error body, if any.
	Body []byte
}

func (f *Failure) Error() string { return f.Reason }

// HTTPFailure builds the Failure for a completed exchange with status >= 400.
func HTTPFailure(status int, body []byte) *Failure {
	return &Failure{
		Reason:     "HTTP " + strconv.Itoa(status),
		StatusCode: status,
		Body:       body,
	}
}

// Caller executes one upstream call.
type Caller interface {
	Call(ctx context.Context, d Descriptor) (*Response, error)
}

// Observer is notified after every attempt.
type Observer interface {
	ObserveUpstream(service, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveUpstream(string, string, time.Duration) {}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Transport is cloned for the secure and insecure clients.
	// Default: http.DefaultTransport.
	Transport *http.Transport

	// Observer receives per-attempt outcomes. Default: no-op.
	Observer Observer
}

// Client executes single upstream calls. It holds no per-call state and
// is safe for concurrent use.
type Client struct {
	secure   *http.Client
	insecure *http.Client
	observer Observer
}

// NewClient builds a Client. Connection pools are shared across calls;
// nothing else is.
func NewClient(opts ClientOptions) *Client {
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport.(*http.Transport)
	}
	secureTransport := base.Clone()

	insecureTransport := base.Clone()
	if insecureTransport.TLSClientConfig == nil {
		insecureTransport.TLSClientConfig = &tls.Config{}
	}
	insecureTransport.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec // opt-in per descriptor

	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Client{
		secure:   &http.Client{Transport: secureTransport},
		insecure: &http.Client{Transport: insecureTransport},
		observer: observer,
	}
}

// Call executes d once.
//
// # Outputs
//
//   - *Response: status < 400, full body read.
//   - error: *Failure for transport errors ("timeout: ...",
//     "connection error: ...") or status >= 400 ("HTTP <status>", body kept).
//
// # Limitations
//
// Bodies larger than 8 MiB are truncated.
func (c *Client) Call(ctx context.Context, d Descriptor) (*Response, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "upstream.call", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("upstream.service", d.Service),
		attribute.String("http.method", d.Method),
	)

	start := time.Now()
	resp, err := c.do(ctx, d)
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	var f *Failure
	if errors.As(err, &f) && f.StatusCode != 0 {
		span.SetAttributes(attribute.Int("http.status_code", f.StatusCode))
	} else if resp != nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	}
	c.observer.ObserveUpstream(d.Service, outcome, elapsed)

	if err != nil {
		slog.Warn("Upstream call failed",
			"service", d.Service,
			"url", d.RedactedURL(),
			"reason", err.Error(),
			"duration_ms", elapsed.Milliseconds())
		return nil, err
	}
	resp.Duration = elapsed
	slog.Debug("Upstream call succeeded",
		"service", d.Service,
		"url", d.RedactedURL(),
		"status", resp.StatusCode,
		"duration_ms", elapsed.Milliseconds())
	return resp, nil
}

func (c *Client) do(ctx context.Context, d Descriptor) (*Response, error) {
	req, err := d.newRequest(ctx)
	if err != nil {
		return nil, &Failure{Reason: err.Error()}
	}

	httpClient := c.secure
	if !d.VerifyTLS {
		httpClient = c.insecure
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &Failure{Reason: transportReason(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Failure{Reason: transportReason(err)}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, HTTPFailure(resp.StatusCode, body)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// transportReason describes err without the request URL. The prefix tells
// IsRetryable whether the failure was transient: only "timeout:" and
// "connection error:" are retried.
func transportReason(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}

	var (
		nerr      net.Error
		dnsErr    *net.DNSError
		unknownCA x509.UnknownAuthorityError
		hostErr   x509.HostnameError
		certErr   x509.CertificateInvalidError
		verifyErr *tls.CertificateVerificationError
		recordErr tls.RecordHeaderError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &nerr) && nerr.Timeout():
		return "timeout: " + err.Error()
	case errors.Is(err, context.Canceled):
		return "canceled: " + err.Error()
	case errors.As(err, &dnsErr):
		return "dns error: " + err.Error()
	case errors.As(err, &verifyErr), errors.As(err, &unknownCA), errors.As(err, &hostErr),
		errors.As(err, &certErr), errors.As(err, &recordErr):
		return "tls error: " + err.Error()
	case isConnectionFailure(err):
		return "connection error: " + err.Error()
	default:
		return fmt.Sprintf("transport error: %v", err)
	}
}

// isConnectionFailure matches refused, reset and dropped connections.
func isConnectionFailure(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial", "read", "write":
			return true
		}
	}
	return false
}

var _ Caller = (*Client)(nil)
