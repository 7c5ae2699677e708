// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package siteconfig

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	fixed := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	ts, err := store.Save(context.Background(), "Shop.Example.com", map[string]any{
		"title": "Shop",
		"theme": map[string]any{"color": "blue"},
	})
	require.NoError(t, err)
	assert.Equal(t, fixed, ts)

	raw, err := os.ReadFile(filepath.Join(dir, "shop.example.com.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n    \"theme\"", "documents are pretty printed")

	data, err := store.Load(context.Background(), "shop.example.com")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "Shop", doc["title"])
}

func TestStore_DefaultDocument(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	_, err := store.Save(context.Background(), "", map[string]any{"a": 1})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "site-config.json"))
	assert.NoError(t, err)
}

func TestStore_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	_, err := store.Load(context.Background(), "missing.example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.example.com.json"), []byte("{nope"), 0o644))
	_, err = store.Load(context.Background(), "broken.example.com")
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestStore_RejectsPathTraversal(t *testing.T) {
	store := NewStore(t.TempDir())
	for _, name := range []string{"../etc/passwd", "a/b", `a\b`, ".hidden"} {
		_, err := store.Load(context.Background(), name)
		assert.ErrorIs(t, err, ErrInvalidDomain, name)
		_, err = store.Save(context.Background(), name, map[string]any{})
		assert.ErrorIs(t, err, ErrInvalidDomain, name)
	}
}
