// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" DEBUG ", LevelDebug},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"info", LevelInfo},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestDecorate_ScrubsMessageAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	scrub := func(s string) string { return strings.ReplaceAll(s, "sk-secret", "[REDACTED]") }

	logger := slog.New(decorate(slog.NewJSONHandler(&buf, nil), Config{Service: "relay", Scrub: scrub}))
	logger.Error("call failed for sk-secret",
		"url", "https://example.com/?key=sk-secret",
		"error", errors.New("dial tcp: key sk-secret rejected"),
		"attempt", 2,
	)

	out := buf.String()
	assert.NotContains(t, out, "sk-secret")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, `"attempt":2`)
	assert.Contains(t, out, `"service":"relay"`)
}

func TestDecorate_ScrubsWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	scrub := func(s string) string { return strings.ReplaceAll(s, "tok", "***") }

	logger := slog.New(decorate(slog.NewTextHandler(&buf, nil), Config{Scrub: scrub}))
	logger.With("credential", "tok").Info("hello", slog.Group("req", slog.String("auth", "tok")))

	assert.NotContains(t, buf.String(), "tok")
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{Level: LevelDebug, LogDir: dir, Service: "unit", Quiet: true})
	logger.Debug("written to file", "k", "v")
	require.NoError(t, logger.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "unit_"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestLogger_CloseWithoutFile(t *testing.T) {
	logger := New(Config{Quiet: true})
	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
}
