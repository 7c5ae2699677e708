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
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aiwebsite/keyrelay/pkg/extensions"
	"github.com/aiwebsite/keyrelay/services/credentials"
	"github.com/aiwebsite/keyrelay/services/hosting"
	"github.com/aiwebsite/keyrelay/services/siteconfig"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePanel records hosting panel calls and returns err.
type fakePanel struct {
	mu      sync.Mutex
	err     error
	created []string
	deleted []string
	tested  int
}

func (p *fakePanel) CreateSubdomain(_ context.Context, sub, root string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, sub+"."+root)
	return p.err
}

func (p *fakePanel) DeleteSubdomain(_ context.Context, sub, root string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, sub+"."+root)
	return p.err
}

func (p *fakePanel) TestConnection(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tested++
	return p.err
}

func adminCredentials() *credentials.Credentials {
	creds := testCredentials()
	creds.Hosting = credentials.HostingSettings{
		Username:     "siteuser",
		Token:        credentials.NewSecret("CPANEL-TOKEN-SECRET"),
		Host:         "panel.example.com",
		MainDomain:   "example.com",
		SubdomainDir: credentials.DefaultSubdomainDir,
		VerifyTLS:    true,
	}
	return creds
}

func newAdminRouter(deps AdminDeps) *gin.Engine {
	router := gin.New()
	router.GET("/settings", HandleGetSettings(deps))
	router.PUT("/settings", HandleUpdateSettings(deps))
	router.POST("/hosting/test", HandleTestHosting(deps))
	router.POST("/subdomains", HandleCreateSubdomain(deps))
	router.DELETE("/subdomains/:subdomain", HandleDeleteSubdomain(deps))
	return router
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Settings
// =============================================================================

func TestGetSettings_HidesToken(t *testing.T) {
	router := newAdminRouter(AdminDeps{Store: credentials.NewStaticStore(adminCredentials()), Hosting: &fakePanel{}})

	w := doJSON(router, http.MethodGet, "/settings", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "CPANEL-TOKEN-SECRET")
	body := decodeBody(t, w)
	assert.Equal(t, "siteuser", body["username"])
	assert.Equal(t, "panel.example.com", body["host"])
	assert.Equal(t, "example.com", body["main_domain"])
	assert.Equal(t, true, body["token_configured"])
}

func TestUpdateSettings_SavesAndAudits(t *testing.T) {
	store := credentials.NewStaticStore(adminCredentials())
	audit := extensions.NewSlogAuditLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	router := newAdminRouter(AdminDeps{Store: store, Hosting: &fakePanel{}, Audit: audit})

	w := doJSON(router, http.MethodPut, "/settings",
		`{"username":"newuser","host":"cp.example.org","main_domain":"example.org"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Settings saved successfully", decodeBody(t, w)["message"])

	h := store.Snapshot().Hosting
	assert.Equal(t, "newuser", h.Username)
	assert.Equal(t, "cp.example.org", h.Host)
	assert.Equal(t, "example.org", h.MainDomain)
	assert.True(t, h.Token.Configured(), "blank token keeps the existing one")

	events, err := audit.Query(context.Background(), extensions.AuditFilter{EventTypes: []string{"settings.hosting"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "success", events[0].Outcome)
	assert.Equal(t, "update", events[0].Action)
}

func TestUpdateSettings_RejectsInvalidPayload(t *testing.T) {
	router := newAdminRouter(AdminDeps{Store: credentials.NewStaticStore(adminCredentials()), Hosting: &fakePanel{}})

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{username`},
		{"missing username", `{"host":"cp.example.org","main_domain":"example.org"}`},
		{"bad host", `{"username":"u","host":"not a host!","main_domain":"example.org"}`},
		{"bad domain", `{"username":"u","host":"cp.example.org","main_domain":"nodot"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPut, "/settings", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "Invalid input", decodeBody(t, w)["error"])
		})
	}
}

// =============================================================================
// Hosting
// =============================================================================

func TestTestHosting(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"success", nil, http.StatusOK, ""},
		{"not configured", hosting.ErrNotConfigured, http.StatusBadRequest, "Hosting panel is not configured"},
		{"api error", &hosting.APIError{Function: "StatsBar/get_stats", Errors: []string{"Access denied"}}, http.StatusBadGateway, "Hosting panel rejected the request"},
		{"transport", errors.New("dial tcp: refused"), http.StatusBadGateway, "Hosting panel request failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			panel := &fakePanel{err: tt.err}
			router := newAdminRouter(AdminDeps{Store: credentials.NewStaticStore(adminCredentials()), Hosting: panel})

			w := doJSON(router, http.MethodPost, "/hosting/test", "")

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, 1, panel.tested)
			body := decodeBody(t, w)
			if tt.wantError == "" {
				assert.Equal(t, "Connection successful", body["message"])
			} else {
				assert.Equal(t, false, body["success"])
				assert.Equal(t, tt.wantError, body["error"])
			}
		})
	}
}

func TestCreateSubdomain(t *testing.T) {
	panel := &fakePanel{}
	router := newAdminRouter(AdminDeps{Store: credentials.NewStaticStore(adminCredentials()), Hosting: panel})

	w := doJSON(router, http.MethodPost, "/subdomains", `{"subdomain":"Bakery"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "bakery.example.com", decodeBody(t, w)["fqdn"])

	w = doJSON(router, http.MethodPost, "/subdomains", `{"subdomain":"shop","domain":"other.org"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, []string{"bakery.example.com", "shop.other.org"}, panel.created)
}

func TestCreateSubdomain_Invalid(t *testing.T) {
	panel := &fakePanel{}
	router := newAdminRouter(AdminDeps{Store: credentials.NewStaticStore(adminCredentials()), Hosting: panel})

	for _, b := range []string{`{}`, `{"subdomain":"-bad"}`, `{"subdomain":"a.b"}`, `{"subdomain":"ok","domain":"bad domain"}`} {
		w := doJSON(router, http.MethodPost, "/subdomains", b)
		assert.Equal(t, http.StatusBadRequest, w.Code, b)
	}
	assert.Empty(t, panel.created)
}

func TestCreateSubdomain_NoMainDomain(t *testing.T) {
	creds := adminCredentials()
	creds.Hosting.MainDomain = ""
	panel := &fakePanel{}
	router := newAdminRouter(AdminDeps{Store: credentials.NewStaticStore(creds), Hosting: panel})

	w := doJSON(router, http.MethodPost, "/subdomains", `{"subdomain":"bakery"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, panel.created)
}

func TestDeleteSubdomain(t *testing.T) {
	panel := &fakePanel{}
	router := newAdminRouter(AdminDeps{Store: credentials.NewStaticStore(adminCredentials()), Hosting: panel})

	w := doJSON(router, http.MethodDelete, "/subdomains/bakery", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Subdomain deleted successfully", decodeBody(t, w)["message"])

	w = doJSON(router, http.MethodDelete, "/subdomains/shop?domain=other.org", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodDelete, "/subdomains/shop?domain=bad%20domain", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, []string{"bakery.example.com", "shop.other.org"}, panel.deleted)
}

func TestDeleteSubdomain_APIErrorIsScrubbed(t *testing.T) {
	store := credentials.NewStaticStore(adminCredentials())
	panel := &fakePanel{err: &hosting.APIError{Function: "SubDomain/delsubdomain", Errors: []string{"token CPANEL-TOKEN-SECRET rejected"}}}
	router := newAdminRouter(AdminDeps{
		Store:   store,
		Hosting: panel,
		Filter:  extensions.NewSecretFilter(store.Secrets),
	})

	w := doJSON(router, http.MethodDelete, "/subdomains/bakery", "")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "CPANEL-TOKEN-SECRET")
	assert.Contains(t, w.Body.String(), extensions.Redacted)
}

// =============================================================================
// Site Configuration
// =============================================================================

func newSiteConfigRouter(store SiteConfigStore) *gin.Engine {
	router := gin.New()
	router.GET("/site-config", HandleGetSiteConfig(store))
	router.POST("/site-config", HandleSaveSiteConfig(store))
	router.GET("/site-config/:domain", HandleGetSiteConfig(store))
	router.POST("/site-config/:domain", HandleSaveSiteConfig(store))
	return router
}

func TestSiteConfig_SaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	router := newSiteConfigRouter(siteconfig.NewStore(dir))

	w := doJSON(router, http.MethodPost, "/site-config", `{"config":{"title":"Bakery","sections":[1,2]}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Configuration saved successfully", body["message"])
	assert.Len(t, body["timestamp"], len(siteConfigTimeFormat))

	w = doJSON(router, http.MethodGet, "/site-config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"title":"Bakery","sections":[1,2]}`, w.Body.String())
}

func TestSiteConfig_PerDomain(t *testing.T) {
	dir := t.TempDir()
	router := newSiteConfigRouter(siteconfig.NewStore(dir))

	w := doJSON(router, http.MethodPost, "/site-config/shop.example.com", `{"config":{"title":"Shop"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, err := os.Stat(filepath.Join(dir, "shop.example.com.json"))
	require.NoError(t, err)

	w = doJSON(router, http.MethodGet, "/site-config/shop.example.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Shop", got["title"])

	w = doJSON(router, http.MethodGet, "/site-config", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSiteConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, siteconfig.DefaultName+".json"), []byte("{broken"), 0o644))
	router := newSiteConfigRouter(siteconfig.NewStore(dir))

	w := doJSON(router, http.MethodGet, "/site-config", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Invalid JSON in configuration file", decodeBody(t, w)["message"])

	w = doJSON(router, http.MethodGet, "/site-config/missing.example.com", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Configuration not found", decodeBody(t, w)["error"])

	w = doJSON(router, http.MethodGet, "/site-config/..hidden", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/site-config", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/site-config", `{"domain":"x.example.com"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthCheck(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := doJSON(router, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
