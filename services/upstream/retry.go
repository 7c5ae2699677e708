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
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig configures WithRetry.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Values below 1 mean a single attempt.
	MaxAttempts int

	// BaseDelay scales the wait before attempt n+1: 2^n * BaseDelay.
	BaseDelay time.Duration

	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration

	// MaxElapsed bounds total time including waits. Zero means unbounded.
	MaxElapsed time.Duration

	// Classify decides whether a failure may be retried.
	// Default: IsRetryable.
	Classify func(error) bool

	// OnRetry is called before each wait with the attempt that just
	// failed.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// SingleAttempt is the policy for upstreams whose failures are terminal.
func SingleAttempt() RetryConfig {
	return RetryConfig{MaxAttempts: 1}
}

// RetryResult contains the outcome of a retry operation.
type RetryResult struct {
	// Attempts is the number of calls made.
	Attempts int

	// TotalDuration includes waits.
	TotalDuration time.Duration

	// LastError is the error from the last attempt (nil if successful).
	LastError error
}

// IsRetryable reports whether err is a transient upstream failure: HTTP
// 502, 503 or 504, or a transport failure whose reason mentions a timeout
// or a connection problem.
func IsRetryable(err error) bool {
	var f *Failure
	if !errors.As(err, &f) {
		return false
	}
	switch f.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	case 0:
		reason := strings.ToLower(f.Reason)
		for _, terminal := range terminalReasons {
			if strings.HasPrefix(reason, terminal) {
				return false
			}
		}
		return strings.Contains(reason, "timeout") || strings.Contains(reason, "connection")
	default:
		return false
	}
}

// terminalReasons are transport failure classes that a retry cannot fix.
var terminalReasons = []string{"transport error:", "tls error:", "dns error:", "canceled:"}

// doublingBackOff yields 2*base, 4*base, 8*base, ...
type doublingBackOff struct {
	base  time.Duration
	max   time.Duration
	waits int
}

func (b *doublingBackOff) NextBackOff() time.Duration {
	b.waits++
	shift := b.waits
	if shift > 30 {
		shift = 30
	}
	next := b.base << shift
	if b.max > 0 && next > b.max {
		return b.max
	}
	return next
}

func (b *doublingBackOff) Reset() { b.waits = 0 }

// WithRetry calls build then caller.Call until success, a non-retryable
// failure, or MaxAttempts is reached.
//
// # Description
//
// build is invoked once per attempt with the 1-based attempt number so
// every call gets a fresh Descriptor. Between attempts the caller waits
// 2^attempt * BaseDelay; no wait follows a non-retryable failure or the
// final attempt.
//
// # Outputs
//
//   - *Response: the successful response, nil on failure.
//   - RetryResult: statistics about the operation.
//   - error: the last failure (usually a *Failure), or ctx's error if it
//     ended during a wait.
//
// # Thread Safety
//
// Safe for concurrent use; all state is local to the call.
func WithRetry(
	ctx context.Context,
	caller Caller,
	build func(attempt int) (Descriptor, error),
	cfg RetryConfig,
) (*Response, RetryResult, error) {
	start := time.Now()
	classify := cfg.Classify
	if classify == nil {
		classify = IsRetryable
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	result := RetryResult{}
	op := func() (*Response, error) {
		result.Attempts++
		d, err := build(result.Attempts)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		resp, err := caller.Call(ctx, d)
		if err == nil {
			return resp, nil
		}
		if !classify(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(&doublingBackOff{base: cfg.BaseDelay, max: cfg.MaxDelay}),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(cfg.MaxElapsed),
	}
	if cfg.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			cfg.OnRetry(result.Attempts, wait, err)
		}))
	}

	resp, err := backoff.Retry(ctx, op, opts...)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	result.TotalDuration = time.Since(start)
	result.LastError = err
	if err != nil {
		return nil, result, err
	}
	return resp, result, nil
}
