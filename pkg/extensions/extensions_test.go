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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions_FailClosed(t *testing.T) {
	opts := DefaultOptions()

	info, err := opts.AuthProvider.Validate(context.Background(), "anything")
	assert.Nil(t, info)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	require.NoError(t, opts.AuditLogger.Log(context.Background(), AuditEvent{EventType: "x"}))
	res, err := opts.MessageFilter.FilterOutput(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Filtered)
	assert.False(t, res.WasModified)
}

func TestServiceOptions_NormalizeFillsNil(t *testing.T) {
	opts := ServiceOptions{}.WithAudit(NewSlogAuditLogger(nil)).Normalize()

	assert.NotNil(t, opts.AuthProvider)
	assert.NotNil(t, opts.MessageFilter)
	assert.IsType(t, &SlogAuditLogger{}, opts.AuditLogger)
}

func TestStaticTokenAuthProvider(t *testing.T) {
	p := NewStaticTokenAuthProvider("s3cret-admin")
	ctx := context.Background()

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"correct token", "s3cret-admin", false},
		{"wrong token", "s3cret-admiN", true},
		{"prefix only", "s3cret", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := p.Validate(ctx, tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthorized)
				assert.Nil(t, info)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "admin", info.UserID)
			assert.True(t, info.HasRole("admin"))
			assert.False(t, info.HasRole("viewer"))
		})
	}
}

func TestNewStaticTokenAuthProvider_EmptyTokenDeniesAll(t *testing.T) {
	p := NewStaticTokenAuthProvider("")
	_, err := p.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthInfo_HasRole_Nil(t *testing.T) {
	var info *AuthInfo
	assert.False(t, info.HasRole("admin"))
}

func TestSlogAuditLogger_LogAndQuery(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	logger.now = func() time.Time { return base }
	ctx := context.Background()

	require.NoError(t, logger.Log(ctx, AuditEvent{
		EventType:    "hosting.subdomain",
		UserID:       "admin",
		Action:       "create",
		ResourceType: "subdomain",
		ResourceID:   "shop.example.com",
		Outcome:      "success",
	}))
	require.NoError(t, logger.Log(ctx, AuditEvent{
		EventType: "settings.hosting",
		UserID:    "admin",
		Action:    "update",
		Outcome:   "failure",
		Metadata:  map[string]any{"reason": "write failed"},
	}))

	out := buf.String()
	assert.Contains(t, out, `"event_type":"hosting.subdomain"`)
	assert.Contains(t, out, `"meta_reason":"write failed"`)
	assert.Contains(t, out, `"level":"WARN"`)

	all, err := logger.Query(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.NotEmpty(t, all[0].EventID)
	assert.Equal(t, base, all[0].Timestamp)

	subs, err := logger.Query(ctx, AuditFilter{EventTypes: []string{"hosting.subdomain"}})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "shop.example.com", subs[0].ResourceID)

	none, err := logger.Query(ctx, AuditFilter{StartTime: base.Add(time.Second)})
	require.NoError(t, err)
	assert.Empty(t, none)

	last, err := logger.Query(ctx, AuditFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "settings.hosting", last[0].EventType)
}

func TestSlogAuditLogger_RingIsBounded(t *testing.T) {
	logger := NewSlogAuditLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	logger.capacity = 3
	for i := 0; i < 5; i++ {
		require.NoError(t, logger.Log(context.Background(), AuditEvent{ResourceID: strings.Repeat("x", i+1)}))
	}
	events, err := logger.Query(context.Background(), AuditFilter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "xxx", events[0].ResourceID)
	assert.Equal(t, "xxxxx", events[2].ResourceID)
}

func TestSecretFilter(t *testing.T) {
	secrets := []string{"AIzaKEY123", "AIzaKEY123-long", "ab", ""}
	f := NewSecretFilter(func() []string { return secrets })

	tests := []struct {
		name     string
		in       string
		want     string
		detected int
	}{
		{"no secret", "plain failure", "plain failure", 0},
		{"single", "key=AIzaKEY123 failed", "key=[REDACTED] failed", 1},
		{"longest first", "tok AIzaKEY123-long", "tok [REDACTED]", 1},
		{"repeated", "AIzaKEY123/AIzaKEY123", "[REDACTED]/[REDACTED]", 2},
		{"short values ignored", "ab cd", "ab cd", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.FilterOutput(context.Background(), tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Filtered)
			assert.Equal(t, tt.detected, res.Detections)
			assert.Equal(t, tt.detected > 0, res.WasModified)
			assert.Equal(t, tt.in, res.Original)
		})
	}

	// The caller's slice order must not be disturbed.
	assert.Equal(t, "AIzaKEY123", secrets[0])
	assert.Equal(t, "x [REDACTED]", f.Scrub("x AIzaKEY123"))
}

func TestSecretFilter_FilterLogSeesReloadedSecrets(t *testing.T) {
	current := []string{"first-secret"}
	f := NewSecretFilter(func() []string { return current })

	res, err := f.FilterLog(context.Background(), "first-secret second-secret")
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED] second-secret", res.Filtered)

	current = []string{"second-secret"}
	res, err = f.FilterLog(context.Background(), "first-secret second-secret")
	require.NoError(t, err)
	assert.Equal(t, "first-secret [REDACTED]", res.Filtered)
}

func TestSecretFilter_ReusesListUntilSourceChanges(t *testing.T) {
	current := []string{"short-secret", "a-much-longer-secret"}
	calls := 0
	f := NewSecretFilter(func() []string {
		calls++
		return current
	}, "admin-token-value", "")

	first := f.values()
	assert.Equal(t, []string{"a-much-longer-secret", "admin-token-value", "short-secret"}, first)
	for i := 0; i < 10; i++ {
		again := f.values()
		require.Same(t, &first[0], &again[0])
	}
	assert.Equal(t, 11, calls)

	current = []string{"rotated-secret"}
	assert.Equal(t, "[REDACTED] [REDACTED] short-secret", f.Scrub("rotated-secret admin-token-value short-secret"))
}

func TestSecretFilter_NilSourceUsesExtras(t *testing.T) {
	f := NewSecretFilter(nil, "admin-token-value")
	assert.Equal(t, "bearer [REDACTED]", f.Scrub("bearer admin-token-value"))
}
