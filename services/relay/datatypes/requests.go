// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultPerPage is used when search_images omits per_page.
	DefaultPerPage = 30

	// MaxPerPage is the image-search upstream's page ceiling.
	MaxPerPage = 30

	// RecipientKey is the template parameter carrying the recipient.
	RecipientKey = "to_email"
)

// subdomainPattern accepts single DNS labels that start and end with an
// alphanumeric character.
var subdomainPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*[a-zA-Z0-9]$`)

func init() {
	_ = relayValidate.RegisterValidation("subdomain", validateSubdomain)
	relayValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// validateSubdomain validates a single subdomain label.
func validateSubdomain(fl validator.FieldLevel) bool {
	return subdomainPattern.MatchString(fl.Field().String())
}

// GenerateTextRequest is the generate_text payload. Pointer fields tell a
// missing key apart from an empty value.
type GenerateTextRequest struct {
	Prompt *string `json:"prompt" validate:"required"`
	Format *string `json:"format" validate:"required,oneof=text json"`
}

// WantsJSON reports whether the caller asked for a JSON document.
func (r GenerateTextRequest) WantsJSON() bool {
	return r.Format != nil && *r.Format == "json"
}

// SearchImagesRequest is the search_images payload.
type SearchImagesRequest struct {
	Query   *string `json:"query" validate:"required,min=1"`
	PerPage *int    `json:"per_page" validate:"omitempty,min=1,max=30"`
}

// PageSize returns per_page or its default.
func (r SearchImagesRequest) PageSize() int {
	if r.PerPage == nil {
		return DefaultPerPage
	}
	return *r.PerPage
}

// SendEmailRequest is the send_email payload.
type SendEmailRequest struct {
	TemplateData   map[string]any `json:"template_data" validate:"required"`
	RecipientEmail *string        `json:"recipient_email" validate:"required,email"`
}

// TemplateParams returns a copy of TemplateData with the recipient merged
// in under RecipientKey.
func (r SendEmailRequest) TemplateParams() map[string]any {
	params := make(map[string]any, len(r.TemplateData)+1)
	for k, v := range r.TemplateData {
		params[k] = v
	}
	if r.RecipientEmail != nil {
		params[RecipientKey] = *r.RecipientEmail
	}
	return params
}

// =============================================================================
// Admin Types
// =============================================================================

// HostingSettingsRequest updates the control-panel connection. An empty
// APIToken keeps the stored token.
type HostingSettingsRequest struct {
	Username   string `json:"username" validate:"required,max=64"`
	APIToken   string `json:"api_token" validate:"max=512"`
	Host       string `json:"host" validate:"required,hostname_rfc1123"`
	MainDomain string `json:"main_domain" validate:"required,fqdn"`
}

// HostingSettingsResponse never carries the token itself.
type HostingSettingsResponse struct {
	Success         bool   `json:"success"`
	Username        string `json:"username"`
	Host            string `json:"host"`
	MainDomain      string `json:"main_domain"`
	SubdomainDir    string `json:"subdomain_dir"`
	VerifyTLS       bool   `json:"verify_tls"`
	TokenConfigured bool   `json:"token_configured"`
}

// SubdomainRequest creates a subdomain. Domain defaults to the configured
// main domain.
type SubdomainRequest struct {
	Subdomain string `json:"subdomain" validate:"required,max=63,subdomain"`
	Domain    string `json:"domain" validate:"omitempty,fqdn"`
}

// SubdomainResponse reports a created or deleted subdomain.
type SubdomainResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	FQDN    string `json:"fqdn"`
}

// ValidSubdomain reports whether label is an acceptable subdomain.
func ValidSubdomain(label string) bool {
	return len(label) <= 63 && subdomainPattern.MatchString(label)
}

// =============================================================================
// Site Configuration Types
// =============================================================================

// SiteConfigSaveRequest stores a site configuration document.
type SiteConfigSaveRequest struct {
	Config map[string]any `json:"config" validate:"required"`
	Domain string         `json:"domain" validate:"omitempty,fqdn"`
}

// SiteConfigSaveResponse acknowledges a save.
type SiteConfigSaveResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}
