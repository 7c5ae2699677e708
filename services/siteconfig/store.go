// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package siteconfig stores the JSON configuration documents that drive
// the generated sites, one file per domain.
package siteconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultName is the document used when no domain is given.
const DefaultName = "site-config"

var (
	// ErrNotFound is returned when no document exists for a domain.
	ErrNotFound = errors.New("site configuration not found")

	// ErrInvalidDocument is returned when a stored document is not JSON.
	ErrInvalidDocument = errors.New("site configuration is not valid JSON")

	// ErrInvalidDomain is returned for names that cannot map to a file.
	ErrInvalidDomain = errors.New("invalid domain")
)

// Store reads and writes documents under a directory.
//
// # Thread Safety
//
// Safe for concurrent use. Writes replace files atomically.
type Store struct {
	dir string
	now func() time.Time
	mu  sync.RWMutex
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

func (s *Store) path(domain string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(domain))
	if name == "" {
		name = DefaultName
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// Load returns the stored document verbatim.
func (s *Store) Load(ctx context.Context, domain string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(domain)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read site configuration: %w", err)
	}
	if !json.Valid(data) {
		return nil, ErrInvalidDocument
	}
	return data, nil
}

// Save writes config as indented JSON and returns the save time.
func (s *Store) Save(ctx context.Context, domain string, config map[string]any) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	p, err := s.path(domain)
	if err != nil {
		return time.Time{}, err
	}
	data, err := json.MarshalIndent(config, "", "    ")
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to encode site configuration: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return time.Time{}, fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".site-config-*.json")
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return time.Time{}, fmt.Errorf("failed to write site configuration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return time.Time{}, fmt.Errorf("failed to write site configuration: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return time.Time{}, fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return time.Time{}, fmt.Errorf("failed to replace site configuration: %w", err)
	}
	return s.now(), nil
}
