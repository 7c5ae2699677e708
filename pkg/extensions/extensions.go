// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable collaborators of the relay:
// who may call the admin API, where security-relevant events go, and how
// outbound diagnostic text is scrubbed of secrets.
//
// # Extension Categories
//
//   - auth.go: Admin authentication (AuthProvider)
//   - audit.go: Audit trail for admin actions (AuditLogger)
//   - filter.go: Secret redaction for error messages (MessageFilter)
//
// # Usage
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(extensions.NewStaticTokenAuthProvider(token)).
//	    WithAudit(extensions.NewSlogAuditLogger(slog.Default())).
//	    WithFilter(extensions.NewSecretFilter(store.Secrets))
//	svc, err := relay.New(cfg, opts)
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups all extension points for service configuration.
//
// All fields are optional; nil values are replaced with no-op defaults
// by Normalize.
type ServiceOptions struct {
	// AuthProvider validates admin bearer tokens.
	// Default: DenyAllAuthProvider (admin API locked)
	AuthProvider AuthProvider

	// AuditLogger records admin actions.
	// Default: NopAuditLogger (discards all events)
	AuditLogger AuditLogger

	// MessageFilter scrubs diagnostic text before it leaves the process.
	// Default: NopMessageFilter (passes through unchanged)
	MessageFilter MessageFilter
}

// DefaultOptions returns ServiceOptions with fail-closed defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:  &DenyAllAuthProvider{},
		AuditLogger:   &NopAuditLogger{},
		MessageFilter: &NopMessageFilter{},
	}
}

// Normalize fills any nil field with its default.
func (opts ServiceOptions) Normalize() ServiceOptions {
	def := DefaultOptions()
	if opts.AuthProvider == nil {
		opts.AuthProvider = def.AuthProvider
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = def.AuditLogger
	}
	if opts.MessageFilter == nil {
		opts.MessageFilter = def.MessageFilter
	}
	return opts
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// WithFilter returns a copy of opts with the given MessageFilter.
func (opts ServiceOptions) WithFilter(filter MessageFilter) ServiceOptions {
	opts.MessageFilter = filter
	return opts
}
