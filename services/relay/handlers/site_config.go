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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aiwebsite/keyrelay/services/relay/datatypes"
	"github.com/aiwebsite/keyrelay/services/siteconfig"
	"github.com/gin-gonic/gin"
)

// siteConfigTimeFormat matches the timestamp format the site editor
// displays.
const siteConfigTimeFormat = "2006-01-02 15:04:05"

// SiteConfigStore persists site configuration documents.
type SiteConfigStore interface {
	Load(ctx context.Context, domain string) ([]byte, error)
	Save(ctx context.Context, domain string, config map[string]any) (time.Time, error)
}

// HandleGetSiteConfig returns the stored document for :domain (or the
// default document) verbatim.
func HandleGetSiteConfig(store SiteConfigStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		domain := c.Param("domain")
		data, err := store.Load(c.Request.Context(), domain)
		switch {
		case err == nil:
			c.Data(http.StatusOK, jsonContentType, data)
		case errors.Is(err, siteconfig.ErrNotFound):
			writeEnvelope(c, http.StatusNotFound, datatypes.NewErrorResponse("Configuration not found", ""))
		case errors.Is(err, siteconfig.ErrInvalidDomain):
			writeEnvelope(c, http.StatusBadRequest, datatypes.NewErrorResponse("Invalid input", "Invalid domain"))
		case errors.Is(err, siteconfig.ErrInvalidDocument):
			slog.Error("Stored site configuration is not valid JSON", "domain", domain)
			writeEnvelope(c, http.StatusInternalServerError, datatypes.NewErrorResponse("Internal server error", "Invalid JSON in configuration file"))
		default:
			slog.Error("Failed to load site configuration", "domain", domain, "error", err)
			writeEnvelope(c, http.StatusInternalServerError, datatypes.NewErrorResponse("Internal server error", "Failed to load configuration"))
		}
	}
}

// HandleSaveSiteConfig stores {config, domain?}. A :domain path parameter
// is used when the body names none.
func HandleSaveSiteConfig(store SiteConfigStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SiteConfigSaveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeEnvelope(c, http.StatusBadRequest, datatypes.NewErrorResponse("Invalid input", "Invalid JSON data"))
			return
		}
		if req.Domain == "" {
			req.Domain = c.Param("domain")
		}
		if err := datatypes.Validate(&req); err != nil {
			writeEnvelope(c, http.StatusBadRequest, datatypes.NewErrorResponse("Invalid input", validationSummary(err)))
			return
		}

		saved, err := store.Save(c.Request.Context(), req.Domain, req.Config)
		if err != nil {
			if errors.Is(err, siteconfig.ErrInvalidDomain) {
				writeEnvelope(c, http.StatusBadRequest, datatypes.NewErrorResponse("Invalid input", "Invalid domain"))
				return
			}
			slog.Error("Failed to save site configuration", "domain", req.Domain, "error", err)
			writeEnvelope(c, http.StatusInternalServerError, datatypes.NewErrorResponse("Internal server error", "Failed to save configuration"))
			return
		}
		slog.Info("Site configuration saved", "domain", req.Domain)
		writeEnvelope(c, http.StatusOK, datatypes.SiteConfigSaveResponse{
			Success:   true,
			Message:   "Configuration saved successfully",
			Timestamp: saved.Format(siteConfigTimeFormat),
		})
	}
}
