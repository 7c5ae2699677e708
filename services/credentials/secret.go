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
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
)

// placeholderPrefix marks the sample values shipped in example config
// files ("your_gemini_api_key_here" and friends).
const placeholderPrefix = "your_"

// ErrNotConfigured is returned when a credential is absent or still holds
// a placeholder value.
var ErrNotConfigured = errors.New("credential not configured")

// Secret holds one credential sealed in a memguard Enclave.
//
// The plaintext only exists in ordinary memory for the duration of a
// Reveal call's result. The zero value is an absent secret.
type Secret struct {
	enclave    *memguard.Enclave
	configured bool
}

// NewSecret seals value. value is copied; the caller's string is untouched.
func NewSecret(value string) Secret {
	value = strings.TrimSpace(value)
	if value == "" {
		return Secret{}
	}
	// NewEnclave wipes its argument, so hand it a private copy.
	buf := []byte(value)
	return Secret{
		enclave:    memguard.NewEnclave(buf),
		configured: !strings.HasPrefix(value, placeholderPrefix),
	}
}

// Configured reports whether the secret is present and not a placeholder.
func (s Secret) Configured() bool {
	return s.enclave != nil && s.configured
}

// Present reports whether any value, placeholder or not, was supplied.
func (s Secret) Present() bool {
	return s.enclave != nil
}

// Reveal decrypts the secret. It returns ErrNotConfigured for absent or
// placeholder values.
func (s Secret) Reveal() (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	return s.open()
}

func (s Secret) open() (string, error) {
	lb, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open secret enclave: %w", err)
	}
	defer lb.Destroy()
	// string() copies out of the locked buffer before it is destroyed.
	return string(lb.Bytes()), nil
}

// String never prints the value.
func (s Secret) String() string {
	switch {
	case s.enclave == nil:
		return "<unset>"
	case !s.configured:
		return "<placeholder>"
	default:
		return "<redacted>"
	}
}

// GoString keeps %#v from leaking the enclave internals.
func (s Secret) GoString() string { return s.String() }
