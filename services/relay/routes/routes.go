// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/aiwebsite/keyrelay/pkg/extensions"
	"github.com/aiwebsite/keyrelay/services/relay/handlers"
	"github.com/aiwebsite/keyrelay/services/relay/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LegacyRelayPath is the path browsers built against the old PHP relay still call.
const LegacyRelayPath = "/api/ai-service.php"

// Deps groups what SetupRoutes needs to build handlers.
type Deps struct {
	Relay      handlers.RelayDeps
	Admin      handlers.AdminDeps
	SiteConfig handlers.SiteConfigStore

	// Auth guards /admin/v1. Admin routes are not registered when nil.
	Auth extensions.AuthProvider

	// Metrics serves /metrics. Defaults to promhttp.Handler().
	Metrics http.Handler
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(metrics))

	relay := handlers.HandleRelay(deps.Relay)
	router.Any(LegacyRelayPath, relay)

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.Any("/relay", relay)

		if deps.SiteConfig != nil {
			siteConfig := v1.Group("/site-config")
			{
				siteConfig.GET("", handlers.HandleGetSiteConfig(deps.SiteConfig))
				siteConfig.POST("", handlers.HandleSaveSiteConfig(deps.SiteConfig))
				siteConfig.OPTIONS("", preflight)
				siteConfig.GET("/:domain", handlers.HandleGetSiteConfig(deps.SiteConfig))
				siteConfig.POST("/:domain", handlers.HandleSaveSiteConfig(deps.SiteConfig))
				siteConfig.OPTIONS("/:domain", preflight)
			}
		}
	}

	if deps.Auth == nil || deps.Admin.Hosting == nil || deps.Admin.Store == nil {
		return
	}
	admin := router.Group("/admin/v1", middleware.AuthMiddleware(deps.Auth))
	{
		admin.GET("/settings", handlers.HandleGetSettings(deps.Admin))
		admin.PUT("/settings", handlers.HandleUpdateSettings(deps.Admin))
		admin.POST("/hosting/test", handlers.HandleTestHosting(deps.Admin))
		admin.POST("/subdomains", handlers.HandleCreateSubdomain(deps.Admin))
		admin.DELETE("/subdomains/:subdomain", handlers.HandleDeleteSubdomain(deps.Admin))
	}
}

func preflight(c *gin.Context) {
	c.Status(http.StatusOK)
}
