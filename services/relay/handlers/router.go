// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aiwebsite/keyrelay/pkg/telemetry"
	"github.com/aiwebsite/keyrelay/services/relay/datatypes"
	"github.com/aiwebsite/keyrelay/services/relay/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// actionFunc handles one action. raw is the complete request body. The
// returned payload is encoded as the success envelope.
type actionFunc func(ctx context.Context, raw []byte) (any, error)

// HandleRelay returns the action router.
//
// # Description
//
// Answers OPTIONS with an empty 200 and any other non-POST method with a
// 405 envelope, both before reading the body. POST bodies must be a JSON
// object with a string "action" naming a known action. The action handler
// runs under a panic guard and every outcome is written as an envelope.
//
// # Thread Safety
//
// Handlers share no mutable state; concurrent calls are independent.
func HandleRelay(deps RelayDeps) gin.HandlerFunc {
	d := deps.normalized()
	actions := map[datatypes.Action]actionFunc{
		datatypes.ActionGenerateText: newGenerateTextHandler(d).handle,
		datatypes.ActionSearchImages: newSearchImagesHandler(d).handle,
		datatypes.ActionSendEmail:    newSendEmailHandler(d).handle,
	}
	return d.route(actions)
}

func (d *RelayDeps) route(actions map[datatypes.Action]actionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodOptions:
			c.Status(http.StatusOK)
			return
		case http.MethodPost:
		default:
			c.Header("Allow", "POST, OPTIONS")
			writeEnvelope(c, http.StatusMethodNotAllowed, datatypes.NewErrorResponse("Method not allowed", ""))
			return
		}

		ctx, span := relayTracer.Start(c.Request.Context(), "relay.route")
		defer span.End()
		start := time.Now()
		requestID := c.GetString(middleware.RequestIDKey)

		action, raw, rejection := readEnvelope(c)
		if rejection != "" {
			span.SetStatus(codes.Error, rejection)
			slog.Warn("Rejected relay request", "request_id", requestID, "reason", rejection)
			d.Metrics.RecordRequest("unknown", http.StatusBadRequest, time.Since(start))
			d.Metrics.RecordError("unknown", datatypes.KindInvalidInput.String())
			writeEnvelope(c, http.StatusBadRequest, datatypes.NewErrorResponse(rejection, ""))
			return
		}
		span.SetAttributes(attribute.String("relay.action", string(action)))

		payload, err := invoke(ctx, actions[action], raw)
		status := http.StatusOK
		var body any = payload
		if err != nil {
			var resp datatypes.ErrorResponse
			status, resp = errorEnvelope(ctx, err, d.Filter, d.ExposeErrorDetail)
			body = resp
			kind := datatypes.KindOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, kind.String())
			attrs := []any{
				"request_id", requestID,
				"action", action,
				"kind", kind.String(),
				"status", status,
				"error", scrubForLog(ctx, d.Filter, err),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			slog.Error("Relay action failed", append(attrs, telemetry.LogAttrs(ctx)...)...)
			d.Metrics.RecordError(string(action), kind.String())
		} else {
			attrs := []any{
				"request_id", requestID,
				"action", action,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			slog.Info("Relay action completed", append(attrs, telemetry.LogAttrs(ctx)...)...)
		}

		status, encoded := marshalEnvelope(status, body)
		span.SetAttributes(attribute.Int("http.status_code", status))
		d.Metrics.RecordRequest(string(action), status, time.Since(start))
		c.Data(status, jsonContentType, encoded)
	}
}

// readEnvelope reads the body and extracts the action. A non-empty
// rejection is the caller-facing error text.
func readEnvelope(c *gin.Context) (datatypes.Action, []byte, string) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, "Request body too large"
		}
		return "", nil, "Missing action parameter"
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", nil, "Missing action parameter"
	}
	rawAction, ok := fields["action"]
	if !ok || string(rawAction) == "null" {
		return "", nil, "Missing action parameter"
	}
	var name string
	if err := json.Unmarshal(rawAction, &name); err != nil {
		return "", nil, "Invalid action"
	}
	if name == "" {
		return "", nil, "Missing action parameter"
	}
	action := datatypes.Action(name)
	if !action.Valid() {
		return "", nil, "Invalid action"
	}
	return action, raw, ""
}

// invoke runs fn, converting a panic into an internal error.
func invoke(ctx context.Context, fn actionFunc, raw []byte) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered panic in relay action", "panic", fmt.Sprint(r))
			payload = nil
			err = fmt.Errorf("panic in action handler: %v", r)
		}
	}()
	return fn(ctx, raw)
}

// decodeInput unmarshals raw into dst and validates it. Any failure is an
// InvalidInput error carrying public.
func decodeInput(raw []byte, dst any, public string) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return datatypes.NewError(datatypes.KindInvalidInput, public, err)
	}
	if err := datatypes.Validate(dst); err != nil {
		return datatypes.NewError(datatypes.KindInvalidInput, public, err)
	}
	return nil
}
