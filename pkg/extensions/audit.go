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
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEvent represents a security-relevant admin action.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "hosting.subdomain",
//	    UserID:       authInfo.UserID,
//	    Action:       "create",
//	    ResourceType: "subdomain",
//	    ResourceID:   "shop.example.com",
//	    Outcome:      "success",
//	}
type AuditEvent struct {
	// EventID uniquely identifies the event. Generated when empty.
	EventID string

	// EventType categorizes the event. Format: "category.subject".
	EventType string

	// Timestamp is when the event occurred (UTC). Set when zero.
	Timestamp time.Time

	// UserID identifies who performed the action.
	UserID string

	// Action is the operation attempted ("create", "delete", "update", "test").
	Action string

	// ResourceType is the category of resource involved.
	ResourceType string

	// ResourceID is the specific resource instance (optional).
	ResourceID string

	// Outcome is "success" or "failure".
	Outcome string

	// Metadata holds event-specific details. Never put secrets here.
	Metadata map[string]any
}

// AuditFilter selects events in Query. Zero-valued fields match everything.
type AuditFilter struct {
	EventTypes []string
	UserID     string
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

func (f AuditFilter) matches(e AuditEvent) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.UserID != "" && f.UserID != e.UserID {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && !e.Timestamp.Before(f.EndTime) {
		return false
	}
	return true
}

// AuditLogger records admin events.
//
// Implementations must be safe for concurrent use. Log should not block
// the request path for long.
type AuditLogger interface {
	// Log records an audit event.
	Log(ctx context.Context, event AuditEvent) error

	// Query returns events matching filter, newest last.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush writes any buffered events.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error { return nil }

func (l *NopAuditLogger) Query(_ context.Context, _ AuditFilter) ([]AuditEvent, error) {
	return nil, nil
}

func (l *NopAuditLogger) Flush(_ context.Context) error { return nil }

// SlogAuditLogger writes each event as a structured log line and keeps a
// bounded in-memory ring of recent events for Query.
type SlogAuditLogger struct {
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	recent   []AuditEvent
	capacity int
}

// NewSlogAuditLogger creates an audit logger writing to logger. A nil
// logger uses slog.Default().
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{
		logger:   logger.With("component", "audit"),
		now:      func() time.Time { return time.Now().UTC() },
		capacity: 256,
	}
}

// Log stamps and records event.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}

	attrs := []any{
		"event_id", event.EventID,
		"event_type", event.EventType,
		"user_id", event.UserID,
		"action", event.Action,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
		"outcome", event.Outcome,
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.Any("meta_"+k, v))
	}
	level := slog.LevelInfo
	if event.Outcome != "success" {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "audit event", attrs...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.recent) == l.capacity {
		copy(l.recent, l.recent[1:])
		l.recent = l.recent[:l.capacity-1]
	}
	l.recent = append(l.recent, event)
	return nil
}

// Query returns recorded events matching filter.
func (l *SlogAuditLogger) Query(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []AuditEvent
	for _, e := range l.recent {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

// Flush is a no-op; events are written synchronously.
func (l *SlogAuditLogger) Flush(_ context.Context) error { return nil }

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
