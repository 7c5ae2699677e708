// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
)

// Redacted replaces every secret found by SecretFilter.
const Redacted = "[REDACTED]"

// FilterResult contains the outcome of a filter operation.
type FilterResult struct {
	// Original is the input before filtering.
	Original string

	// Filtered is the text after filtering. Equals Original when
	// WasModified is false.
	Filtered string

	// WasModified indicates if any replacement was applied.
	WasModified bool

	// Detections counts replaced occurrences.
	Detections int
}

// MessageFilter transforms diagnostic text before it leaves the process,
// either in a response body or a log line.
type MessageFilter interface {
	// FilterOutput scrubs text bound for a caller.
	FilterOutput(ctx context.Context, message string) (*FilterResult, error)

	// FilterLog scrubs text bound for the server log.
	FilterLog(ctx context.Context, message string) (*FilterResult, error)
}

// NopMessageFilter passes messages through unchanged.
type NopMessageFilter struct{}

func (f *NopMessageFilter) FilterOutput(_ context.Context, message string) (*FilterResult, error) {
	return &FilterResult{Original: message, Filtered: message}, nil
}

func (f *NopMessageFilter) FilterLog(_ context.Context, message string) (*FilterResult, error) {
	return &FilterResult{Original: message, Filtered: message}, nil
}

// SecretFilter replaces every configured secret value with Redacted.
//
// The secret source is consulted on every call so credential reloads take
// effect without rebuilding the filter. The sorted replacement list is
// cached against the identity of the slice the source returns, so a source
// that hands back the same slice until its secrets change costs one atomic
// load per call.
//
// # Limitations
//
// Only literal occurrences are found. Encoded forms (URL escaping,
// base64) of a secret are not detected.
type SecretFilter struct {
	secrets func() []string
	extra   []string
	minLen  int
	cache   atomic.Pointer[scrubSet]
}

// scrubSet is the replacement list built from one source slice.
type scrubSet struct {
	source []string
	values []string
}

// NewSecretFilter creates a filter over the values returned by secrets plus
// any fixed extra values. Values shorter than four characters are ignored
// to avoid shredding ordinary text.
func NewSecretFilter(secrets func() []string, extra ...string) *SecretFilter {
	return &SecretFilter{secrets: secrets, extra: extra, minLen: 4}
}

// Scrub returns message with all secrets replaced.
func (f *SecretFilter) Scrub(message string) string {
	out, _ := f.scrub(message)
	return out
}

func (f *SecretFilter) scrub(message string) (string, int) {
	if message == "" {
		return message, 0
	}
	count := 0
	for _, v := range f.values() {
		if n := strings.Count(message, v); n > 0 {
			count += n
			message = strings.ReplaceAll(message, v, Redacted)
		}
	}
	return message, count
}

// values returns the replacement list, longest first so a secret
// containing another is replaced whole.
func (f *SecretFilter) values() []string {
	var source []string
	if f.secrets != nil {
		source = f.secrets()
	}
	if set := f.cache.Load(); set != nil && sameSlice(set.source, source) {
		return set.values
	}

	values := make([]string, 0, len(source)+len(f.extra))
	for _, v := range append(append([]string(nil), f.extra...), source...) {
		if len(v) >= f.minLen {
			values = append(values, v)
		}
	}
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })
	f.cache.Store(&scrubSet{source: source, values: values})
	return values
}

func sameSlice(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

func (f *SecretFilter) result(message string) *FilterResult {
	filtered, n := f.scrub(message)
	return &FilterResult{
		Original:    message,
		Filtered:    filtered,
		WasModified: n > 0,
		Detections:  n,
	}
}

func (f *SecretFilter) FilterOutput(_ context.Context, message string) (*FilterResult, error) {
	return f.result(message), nil
}

func (f *SecretFilter) FilterLog(_ context.Context, message string) (*FilterResult, error) {
	return f.result(message), nil
}

var (
	_ MessageFilter = (*NopMessageFilter)(nil)
	_ MessageFilter = (*SecretFilter)(nil)
)
