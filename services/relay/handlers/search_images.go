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
	"net/http"
	"net/url"
	"strconv"

	"github.com/aiwebsite/keyrelay/services/relay/datatypes"
	"github.com/aiwebsite/keyrelay/services/upstream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type unsplashResponse struct {
	Results *[]unsplashPhoto `json:"results"`
}

type unsplashPhoto struct {
	ID   string `json:"id"`
	URLs struct {
		Full    string `json:"full"`
		Regular string `json:"regular"`
		Small   string `json:"small"`
	} `json:"urls"`
	AltDescription *string `json:"alt_description"`
	Description    *string `json:"description"`
}

type searchImagesHandler struct {
	deps *RelayDeps
}

func newSearchImagesHandler(deps *RelayDeps) *searchImagesHandler {
	return &searchImagesHandler{deps: deps}
}

func (h *searchImagesHandler) handle(ctx context.Context, raw []byte) (any, error) {
	ctx, span := relayTracer.Start(ctx, "relay.search_images")
	defer span.End()

	var req datatypes.SearchImagesRequest
	if err := decodeInput(raw, &req, "Missing query parameter"); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("relay.per_page", req.PageSize()))

	creds := h.deps.Store.Snapshot()
	key, err := creds.UnsplashKey.Reveal()
	if err != nil {
		return nil, datatypes.NewError(datatypes.KindNotConfigured, "Image search service is not configured", err)
	}

	q := url.Values{}
	q.Set("query", *req.Query)
	q.Set("per_page", strconv.Itoa(req.PageSize()))
	build := func(int) (upstream.Descriptor, error) {
		return upstream.Descriptor{
			Service:   "unsplash",
			URL:       h.deps.Endpoints.UnsplashURL + "?" + q.Encode(),
			Method:    http.MethodGet,
			Headers:   []string{"Authorization: Client-ID " + key},
			Timeout:   creds.DefaultTimeout,
			VerifyTLS: true,
		}, nil
	}

	resp, _, err := upstream.WithRetry(context.WithoutCancel(ctx), h.deps.Caller, build, upstream.SingleAttempt())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream failure")
		logUpstreamFailure(ctx, h.deps, "unsplash", err)
		return nil, datatypes.NewError(datatypes.KindUpstreamError, "Image search request failed", err)
	}

	photos, err := normalizePhotos(resp.Body)
	if err != nil {
		return nil, datatypes.NewError(datatypes.KindInvalidUpstreamResponse, "Invalid response from image search service", err)
	}
	span.SetAttributes(attribute.Int("relay.photos", len(photos)))
	return datatypes.PhotosResponse{Success: true, Photos: photos}, nil
}

// normalizePhotos reshapes upstream results into the caller contract.
// Absent descriptions become "".
func normalizePhotos(body []byte) ([]datatypes.Photo, error) {
	var parsed unsplashResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	if parsed.Results == nil {
		return nil, errors.New("response has no results list")
	}
	photos := make([]datatypes.Photo, 0, len(*parsed.Results))
	for _, r := range *parsed.Results {
		photos = append(photos, datatypes.Photo{
			ID: r.ID,
			URLs: datatypes.PhotoURLs{
				Full:    r.URLs.Full,
				Regular: r.URLs.Regular,
				Small:   r.URLs.Small,
			},
			AltDescription: deref(r.AltDescription),
			Description:    deref(r.Description),
		})
	}
	return photos, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
