// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"

	"github.com/aiwebsite/keyrelay/pkg/extensions"
	"github.com/aiwebsite/keyrelay/services/relay"
	"github.com/spf13/cobra"
)

func runServe(_ *cobra.Command, flags *globalFlags, port int, watch bool) error {
	rt, err := newRuntime(flags)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := serveConfig(rt, port, watch)
	slog.Info("Starting keyrelay",
		"version", Version,
		"port", cfg.Port,
		"config", flags.configPath,
		"admin_api", cfg.AdminToken != "",
		"allowed_origins", cfg.AllowedOrigins)

	opts := serveOptions(rt, cfg)
	svc, err := relay.New(cfg, &opts)
	if err != nil {
		return fmt.Errorf("failed to create relay: %w", err)
	}
	return svc.Run()
}

// serveOptions wires the scrubbing filter, audit log, and admin token
// provider for the relay.
func serveOptions(rt *runtime, cfg relay.Config) extensions.ServiceOptions {
	opts := extensions.DefaultOptions().
		WithAudit(extensions.NewSlogAuditLogger(rt.logger.Slog())).
		WithFilter(rt.filter)
	if cfg.AdminToken != "" {
		opts = opts.WithAuth(extensions.NewStaticTokenAuthProvider(cfg.AdminToken))
	}
	return opts
}

// serveConfig builds relay.Config from the environment.
func serveConfig(rt *runtime, port int, watch bool) relay.Config {
	return relay.Config{
		Port:               port,
		GinMode:            getEnvString("GIN_MODE", "release"),
		Store:              rt.store,
		WatchConfig:        watch,
		SiteConfigDir:      getEnvString("KEYRELAY_SITE_CONFIG_DIR", "./data"),
		AdminToken:         rt.adminToken,
		AllowedOrigins:     splitList(getEnvString("KEYRELAY_ALLOWED_ORIGINS", "*")),
		RateLimitPerMinute: getEnvInt("KEYRELAY_RATE_LIMIT_PER_MINUTE", 60),
		TrustedProxies:     splitList(getEnvString("KEYRELAY_TRUSTED_PROXIES", "")),
		ExposeErrorDetail:  getEnvBool("KEYRELAY_EXPOSE_ERROR_DETAIL", false),
	}
}
