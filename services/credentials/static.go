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
	"log/slog"
	"sync"
)

// StaticStore is an in-memory Store. SaveHosting updates the held
// snapshot without touching disk.
type StaticStore struct {
	mu      sync.RWMutex
	creds   *Credentials
	secrets []string
}

// NewStaticStore wraps creds. A nil creds yields defaults with no secrets.
func NewStaticStore(creds *Credentials) *StaticStore {
	if creds == nil {
		creds = build(FileConfig{})
	}
	s := &StaticStore{}
	logRevealError(s.set(creds))
	return s
}

// set swaps in creds with their revealed secrets. Callers hold mu or own
// s, and must log the error only after releasing mu: the default logger
// scrubs through Secrets.
func (s *StaticStore) set(creds *Credentials) error {
	secrets, err := creds.secretValues()
	s.creds = creds
	s.secrets = secrets
	return err
}

func logRevealError(err error) {
	if err != nil {
		slog.Error("Failed to reveal secrets for scrubbing", "error", err)
	}
}

func (s *StaticStore) Snapshot() *Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

func (s *StaticStore) Secrets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secrets
}

func (s *StaticStore) SaveHosting(ctx context.Context, update HostingUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	next := *s.creds
	next.Hosting.Username = update.Username
	next.Hosting.Host = update.Host
	next.Hosting.MainDomain = update.MainDomain
	if update.Token != "" {
		next.Hosting.Token = NewSecret(update.Token)
	}
	err := s.set(&next)
	s.mu.Unlock()

	logRevealError(err)
	return nil
}

var _ Store = (*StaticStore)(nil)
