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
	"strings"

	"github.com/aiwebsite/keyrelay/pkg/extensions"
	"github.com/aiwebsite/keyrelay/services/credentials"
	"github.com/aiwebsite/keyrelay/services/hosting"
	"github.com/aiwebsite/keyrelay/services/relay/datatypes"
	"github.com/aiwebsite/keyrelay/services/relay/middleware"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// HostingPanel is the subset of the hosting client the admin API uses.
type HostingPanel interface {
	CreateSubdomain(ctx context.Context, sub, rootDomain string) error
	DeleteSubdomain(ctx context.Context, sub, rootDomain string) error
	TestConnection(ctx context.Context) error
}

// AdminDeps are the collaborators of the admin handlers.
type AdminDeps struct {
	Store   credentials.Store
	Hosting HostingPanel
	Audit   extensions.AuditLogger
	Filter  extensions.MessageFilter
}

func (d AdminDeps) normalized() AdminDeps {
	if d.Audit == nil {
		d.Audit = &extensions.NopAuditLogger{}
	}
	if d.Filter == nil {
		d.Filter = &extensions.NopMessageFilter{}
	}
	return d
}

// audit records an admin action. Audit failures are logged, never
// surfaced to the caller.
func (d AdminDeps) audit(c *gin.Context, eventType, action, resourceType, resourceID string, err error) {
	event := extensions.AuditEvent{
		EventType:    eventType,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      "success",
		Metadata: map[string]any{
			"client_ip":  c.ClientIP(),
			"request_id": c.GetString(middleware.RequestIDKey),
		},
	}
	if info := middleware.GetAuthInfo(c); info != nil {
		event.UserID = info.UserID
	}
	if err != nil {
		event.Outcome = "failure"
		event.Metadata["error"] = scrubForLog(c.Request.Context(), d.Filter, err)
	}
	if aerr := d.Audit.Log(c.Request.Context(), event); aerr != nil {
		slog.Error("Failed to record audit event", "event_type", eventType, "error", aerr)
	}
}

// hostingFailure maps a hosting client error to a status and envelope.
// Panel error text is operator-facing and passes through the filter.
func (d AdminDeps) hostingFailure(ctx context.Context, err error) (int, datatypes.ErrorResponse) {
	var apiErr *hosting.APIError
	switch {
	case hosting.IsNotConfigured(err):
		return http.StatusBadRequest, datatypes.NewErrorResponse("Hosting panel is not configured", "")
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, datatypes.NewErrorResponse("Hosting panel rejected the request", scrubForLog(ctx, d.Filter, apiErr))
	default:
		return http.StatusBadGateway, datatypes.NewErrorResponse("Hosting panel request failed", "")
	}
}

// HandleGetSettings returns the hosting settings without the token.
func HandleGetSettings(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := deps.Store.Snapshot().Hosting
		writeEnvelope(c, http.StatusOK, datatypes.HostingSettingsResponse{
			Success:         true,
			Username:        h.Username,
			Host:            h.Host,
			MainDomain:      h.MainDomain,
			SubdomainDir:    h.SubdomainDir,
			VerifyTLS:       h.VerifyTLS,
			TokenConfigured: h.Token.Configured(),
		})
	}
}

// HandleUpdateSettings saves hosting settings.
func HandleUpdateSettings(deps AdminDeps) gin.HandlerFunc {
	deps = deps.normalized()
	return func(c *gin.Context) {
		ctx, span := relayTracer.Start(c.Request.Context(), "admin.update_settings")
		defer span.End()

		var req datatypes.HostingSettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeEnvelope(c, http.StatusBadRequest, datatypes.NewErrorResponse("Invalid input", "Invalid settings payload"))
			return
		}
		if err := datatypes.Validate(&req); err != nil {
			writeEnvelope(c, http.StatusBadRequest, datatypes.NewErrorResponse("Invalid input", validationSummary(err)))
			return
		}

		err := deps.Store.SaveHosting(ctx, credentials.HostingUpdate{
			Username:   req.Username,
			Token:      req.APIToken,
			Host:       req.Host,
			MainDomain: req.MainDomain,
		})
		deps.audit(c, "settings.hosting", "update", "settings", "hosting", err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "save failed")
			slog.Error("Failed to save hosting settings", "error", scrubForLog(ctx, deps.Filter, err))
			writeEnvelope(c, http.StatusInternalServerError, datatypes.NewErrorResponse("Internal server error", "Failed to save settings"))
			return
		}
		writeEnvelope(c, http.StatusOK, datatypes.MessageResponse{Success: true, Message: "Settings saved successfully"})
	}
}

// HandleTestHosting probes the hosting panel with the stored settings.
func HandleTestHosting(deps AdminDeps) gin.HandlerFunc {
	deps = deps.normalized()
	return func(c *gin.Context) {
		ctx, span := relayTracer.Start(c.Request.Context(), "admin.test_hosting")
		defer span.End()

		err := deps.Hosting.TestConnection(ctx)
		deps.audit(c, "hosting.connection", "test", "hosting", deps.Store.Snapshot().Hosting.Host, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "connection test failed")
			slog.Warn("Hosting connection test failed", "error", scrubForLog(ctx, deps.Filter, err))
			status, body := deps.hostingFailure(ctx, err)
			writeEnvelope(c, status, body)
			return
		}
		writeEnvelope(c, http.StatusOK, datatypes.MessageResponse{Success: true, Message: "Connection successful"})
	}
}

// HandleCreateSubdomain provisions a subdomain.
func HandleCreateSubdomain(deps AdminDeps) gin.HandlerFunc {
	deps = deps.normalized()
	return func(c *gin.Context) {
		ctx, span := relayTracer.Start(c.Request.Context(), "admin.create_subdomain")
		defer span.End()

		var req datatypes.SubdomainRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeEnvelope(c, http.StatusBadRequest, datatypes.NewErrorResponse("Invalid input", "Invalid subdomain payload"))
			return
		}
		if err := datatypes.Validate(&req); err != nil {
			writeEnvelope(c, http.StatusBadRequest, datatypes.NewErrorResponse("Invalid input", validationSummary(err)))
			return
		}
		root, ok := deps.rootDomain(req.Domain)
		if !ok {
			writeEnvelope(c, http.StatusBadRequest, datatypes.NewErrorResponse("Invalid input", "No domain given and no main domain configured"))
			return
		}
		fqdn := strings.ToLower(req.Subdomain) + "." + root
		span.SetAttributes(attribute.String("hosting.fqdn", fqdn))

		err := deps.Hosting.CreateSubdomain(ctx, strings.ToLower(req.Subdomain), root)
		deps.audit(c, "hosting.subdomain", "create", "subdomain", fqdn, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "create failed")
			slog.Error("Failed to create subdomain", "fqdn", fqdn, "error", scrubForLog(ctx, deps.Filter, err))
			status, body := deps.hostingFailure(ctx, err)
			writeEnvelope(c, status, body)
			return
		}
		writeEnvelope(c, http.StatusCreated, datatypes.SubdomainResponse{
			Success: true,
			Message: "Subdomain created successfully",
			FQDN:    fqdn,
		})
	}
}

// HandleDeleteSubdomain removes a subdomain named by the :subdomain path
// parameter. The optional ?domain= overrides the main domain.
func HandleDeleteSubdomain(deps AdminDeps) gin.HandlerFunc {
	deps = deps.normalized()
	return func(c *gin.Context) {
		ctx, span := relayTracer.Start(c.Request.Context(), "admin.delete_subdomain")
		defer span.End()

		sub := strings.ToLower(c.Param("subdomain"))
		if !datatypes.ValidSubdomain(sub) {
			writeEnvelope(c, http.StatusBadRequest, datatypes.NewErrorResponse("Invalid input", "Invalid subdomain"))
			return
		}
		domain := c.Query("domain")
		if domain != "" {
			if err := datatypes.Validate(&datatypes.SubdomainRequest{Subdomain: sub, Domain: domain}); err != nil {
				writeEnvelope(c, http.StatusBadRequest, datatypes.NewErrorResponse("Invalid input", "Invalid domain"))
				return
			}
		}
		root, ok := deps.rootDomain(domain)
		if !ok {
			writeEnvelope(c, http.StatusBadRequest, datatypes.NewErrorResponse("Invalid input", "No domain given and no main domain configured"))
			return
		}
		fqdn := sub + "." + root

		err := deps.Hosting.DeleteSubdomain(ctx, sub, root)
		deps.audit(c, "hosting.subdomain", "delete", "subdomain", fqdn, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delete failed")
			slog.Error("Failed to delete subdomain", "fqdn", fqdn, "error", scrubForLog(ctx, deps.Filter, err))
			status, body := deps.hostingFailure(ctx, err)
			writeEnvelope(c, status, body)
			return
		}
		writeEnvelope(c, http.StatusOK, datatypes.SubdomainResponse{
			Success: true,
			Message: "Subdomain deleted successfully",
			FQDN:    fqdn,
		})
	}
}

func (d AdminDeps) rootDomain(requested string) (string, bool) {
	if requested != "" {
		return strings.ToLower(requested), true
	}
	main := d.Store.Snapshot().Hosting.MainDomain
	return strings.ToLower(main), main != ""
}

// validationSummary lists the failing fields without echoing values.
func validationSummary(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	return "Invalid fields: " + strings.Join(fields, ", ")
}
