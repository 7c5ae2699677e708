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
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when authentication fails.
// Implementations should wrap this error with additional context.
var ErrUnauthorized = errors.New("unauthorized")

// RoleAdmin is required for every admin API call.
const RoleAdmin = "admin"

// AuthInfo contains identity information returned after successful
// authentication.
type AuthInfo struct {
	// UserID identifies the caller. Always populated.
	UserID string

	// Roles lists the roles the caller holds.
	Roles []string

	// Metadata holds implementation-specific claims.
	Metadata map[string]string
}

// HasRole reports whether the caller holds role.
func (a *AuthInfo) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates credentials presented to the admin API.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuthProvider interface {
	// Validate checks the token and returns the caller's identity.
	//
	// # Outputs
	//
	//   - *AuthInfo: identity if valid
	//   - error: ErrUnauthorized (or wrapped) if invalid
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// DenyAllAuthProvider rejects every token. It is the default so an
// unconfigured admin surface stays closed.
type DenyAllAuthProvider struct{}

// Validate always returns ErrUnauthorized.
func (p *DenyAllAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return nil, fmt.Errorf("no admin token configured: %w", ErrUnauthorized)
}

// StaticTokenAuthProvider accepts a single shared bearer token.
//
// Tokens are compared as SHA-256 digests in constant time, so neither the
// content nor the length of the configured token leaks through timing.
type StaticTokenAuthProvider struct {
	digest [sha256.Size]byte
	userID string
}

// NewStaticTokenAuthProvider builds a provider for token. An empty token
// yields a provider that rejects everything.
func NewStaticTokenAuthProvider(token string) AuthProvider {
	if token == "" {
		return &DenyAllAuthProvider{}
	}
	return &StaticTokenAuthProvider{
		digest: sha256.Sum256([]byte(token)),
		userID: "admin",
	}
}

// Validate compares token against the configured one.
func (p *StaticTokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token: %w", ErrUnauthorized)
	}
	got := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(got[:], p.digest[:]) != 1 {
		return nil, fmt.Errorf("token mismatch: %w", ErrUnauthorized)
	}
	return &AuthInfo{
		UserID: p.userID,
		Roles:  []string{RoleAdmin},
	}, nil
}

var (
	_ AuthProvider = (*DenyAllAuthProvider)(nil)
	_ AuthProvider = (*StaticTokenAuthProvider)(nil)
)
