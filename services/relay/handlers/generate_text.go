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
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/aiwebsite/keyrelay/services/relay/datatypes"
	"github.com/aiwebsite/keyrelay/services/upstream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// jsonOnlyInstruction is appended to prompts when the caller wants JSON.
const jsonOnlyInstruction = "\n\nIMPORTANT: Return ONLY valid JSON. Do not include any text before or after the JSON. " +
	"Do not use markdown formatting like ```json. The response must start with { and end with }."

// DefaultRetryBudget bounds the total wall-clock time of one
// generate_text call, including waits between attempts.
const DefaultRetryBudget = 15 * time.Minute

var (
	leadingFence  = regexp.MustCompile("^```(?:json|JSON)?\\s*")
	trailingFence = regexp.MustCompile("\\s*```$")
)

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type generateTextHandler struct {
	deps *RelayDeps
}

func newGenerateTextHandler(deps *RelayDeps) *generateTextHandler {
	return &generateTextHandler{deps: deps}
}

func (h *generateTextHandler) handle(ctx context.Context, raw []byte) (any, error) {
	ctx, span := relayTracer.Start(ctx, "relay.generate_text")
	defer span.End()

	var req datatypes.GenerateTextRequest
	if err := decodeInput(raw, &req, "Missing prompt or format parameter"); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("relay.format_json", req.WantsJSON()))

	creds := h.deps.Store.Snapshot()
	key, err := creds.GeminiKey.Reveal()
	if err != nil {
		return nil, datatypes.NewError(datatypes.KindNotConfigured, "Text generation service is not configured", err)
	}

	prompt := *req.Prompt
	if req.WantsJSON() {
		prompt += jsonOnlyInstruction
	}
	body, err := json.Marshal(geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}})
	if err != nil {
		return nil, datatypes.NewError(datatypes.KindInternal, "Failed to build upstream request", err)
	}

	endpoint := h.deps.Endpoints.GeminiURL + "?key=" + url.QueryEscape(key)
	build := func(int) (upstream.Descriptor, error) {
		return upstream.Descriptor{
			Service:   "gemini",
			URL:       endpoint,
			Method:    http.MethodPost,
			Headers:   []string{"Content-Type: application/json"},
			Body:      body,
			Timeout:   creds.ExtendedTimeout,
			VerifyTLS: true,
		}, nil
	}

	budget := h.deps.RetryBudget
	if budget <= 0 {
		budget = DefaultRetryBudget
	}
	// Detached so a disconnecting caller does not abort an in-flight call;
	// the per-call timeout and the retry budget still bound it.
	callCtx := context.WithoutCancel(ctx)
	resp, result, err := upstream.WithRetry(callCtx, h.deps.Caller, build, upstream.RetryConfig{
		MaxAttempts: creds.MaxAttempts,
		BaseDelay:   creds.RetryBase,
		MaxElapsed:  budget,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			h.deps.Metrics.RecordRetry("gemini")
			slog.Warn("Retrying text generation",
				"attempt", attempt,
				"max_attempts", creds.MaxAttempts,
				"wait", wait.String(),
				"reason", scrubForLog(ctx, h.deps.Filter, err))
		},
	})
	span.SetAttributes(attribute.Int("relay.attempts", result.Attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream failure")
		logUpstreamFailure(ctx, h.deps, "gemini", err)
		return nil, datatypes.NewError(datatypes.KindUpstreamError, "Text generation request failed", err)
	}

	text, err := extractGeneratedText(resp.Body)
	if err != nil {
		return nil, datatypes.NewError(datatypes.KindInvalidUpstreamResponse, "Invalid response from text generation service", err)
	}

	if req.WantsJSON() {
		text = stripCodeFences(text)
		if !json.Valid([]byte(text)) {
			return nil, datatypes.NewError(datatypes.KindInvalidAIOutput, "Generated content is not valid JSON", nil)
		}
	}
	return datatypes.TextResponse{Success: true, Text: text}, nil
}

// extractGeneratedText reads candidates[0].content.parts[0].text.
func extractGeneratedText(body []byte) (string, error) {
	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return "", errors.New("no candidates in response")
	}
	parts := parsed.Candidates[0].Content.Parts
	if len(parts) == 0 || parts[0].Text == nil {
		return "", errors.New("no text part in first candidate")
	}
	return *parts[0].Text, nil
}

// stripCodeFences removes a leading ```json (or bare ```) marker and a
// trailing ``` marker.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	text = leadingFence.ReplaceAllString(text, "")
	text = trailingFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// logUpstreamFailure logs the terminal failure with the upstream status and
// a bounded, scrubbed excerpt of its body.
func logUpstreamFailure(ctx context.Context, deps *RelayDeps, service string, err error) {
	attrs := []any{"service", service, "reason", scrubForLog(ctx, deps.Filter, err)}
	var f *upstream.Failure
	if errors.As(err, &f) {
		if f.StatusCode != 0 {
			attrs = append(attrs, "status", f.StatusCode)
		}
		if len(f.Body) > 0 {
			excerpt := string(f.Body)
			if len(excerpt) > 512 {
				excerpt = excerpt[:512]
			}
			attrs = append(attrs, "body", scrubForLog(ctx, deps.Filter, errors.New(excerpt)))
		}
	}
	slog.Error("Upstream call failed", attrs...)
}
