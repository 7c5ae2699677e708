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
	"net/http"

	"github.com/aiwebsite/keyrelay/services/relay/datatypes"
	"github.com/aiwebsite/keyrelay/services/upstream"
	"go.opentelemetry.io/otel/codes"
)

type emailJSRequest struct {
	ServiceID      string         `json:"service_id"`
	TemplateID     string         `json:"template_id"`
	UserID         string         `json:"user_id"`
	TemplateParams map[string]any `json:"template_params"`
}

type sendEmailHandler struct {
	deps *RelayDeps
}

func newSendEmailHandler(deps *RelayDeps) *sendEmailHandler {
	return &sendEmailHandler{deps: deps}
}

func (h *sendEmailHandler) handle(ctx context.Context, raw []byte) (any, error) {
	ctx, span := relayTracer.Start(ctx, "relay.send_email")
	defer span.End()

	var req datatypes.SendEmailRequest
	if err := decodeInput(raw, &req, "Missing template_data or recipient_email parameter"); err != nil {
		return nil, err
	}

	creds := h.deps.Store.Snapshot()
	var ids [3]string
	for i, s := range []interface{ Reveal() (string, error) }{
		creds.EmailJSServiceID, creds.EmailJSTemplateID, creds.EmailJSPublicKey,
	} {
		v, err := s.Reveal()
		if err != nil {
			return nil, datatypes.NewError(datatypes.KindNotConfigured, "Email service is not configured", err)
		}
		ids[i] = v
	}

	body, err := json.Marshal(emailJSRequest{
		ServiceID:      ids[0],
		TemplateID:     ids[1],
		UserID:         ids[2],
		TemplateParams: req.TemplateParams(),
	})
	if err != nil {
		return nil, datatypes.NewError(datatypes.KindInvalidInput, "template_data could not be encoded", err)
	}

	build := func(int) (upstream.Descriptor, error) {
		return upstream.Descriptor{
			Service:   "emailjs",
			URL:       h.deps.Endpoints.EmailJSURL,
			Method:    http.MethodPost,
			Headers:   []string{"Content-Type: application/json"},
			Body:      body,
			Timeout:   creds.DefaultTimeout,
			VerifyTLS: true,
		}, nil
	}

	if _, _, err := upstream.WithRetry(context.WithoutCancel(ctx), h.deps.Caller, build, upstream.SingleAttempt()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream failure")
		logUpstreamFailure(ctx, h.deps, "emailjs", err)
		return nil, datatypes.NewError(datatypes.KindUpstreamError, "Email delivery failed", err)
	}
	return datatypes.MessageResponse{Success: true, Message: "Email sent successfully"}, nil
}
