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
	"os"
	"strings"

	"github.com/aiwebsite/keyrelay/pkg/extensions"
	"github.com/aiwebsite/keyrelay/pkg/logging"
	"github.com/aiwebsite/keyrelay/services/credentials"
	"github.com/mattn/go-isatty"
)

// adminTokenEnv names the admin bearer token, resolved like other secrets.
const adminTokenEnv = "KEYRELAY_ADMIN_TOKEN"

// runtime is the state every subcommand shares: the credential store, the
// scrubbing filter built over it, and the process logger.
type runtime struct {
	store      *credentials.FileStore
	filter     *extensions.SecretFilter
	logger     *logging.Logger
	adminToken string
}

// newRuntime installs a scrubbing default logger before loading credentials
// so that nothing logged during load can carry a secret.
func newRuntime(flags *globalFlags) (*runtime, error) {
	rt := &runtime{
		store: credentials.NewFileStore(flags.configPath, credentials.FileStoreOptions{
			SecretsDir: flags.secretsDir,
		}),
	}
	if token, ok := rt.store.LookupSecret(adminTokenEnv); ok {
		rt.adminToken = strings.TrimSpace(token)
	}
	rt.filter = extensions.NewSecretFilter(rt.store.Secrets, rt.adminToken)

	rt.logger = logging.New(loggingConfig(rt.filter.Scrub))
	slog.SetDefault(rt.logger.Slog())

	if err := rt.store.Load(); err != nil {
		rt.logger.Close()
		return nil, fmt.Errorf("failed to load credentials from %s: %w", flags.configPath, err)
	}
	return rt, nil
}

func (rt *runtime) Close() {
	if err := rt.logger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", err)
	}
}

// loggingConfig picks text output for terminals and JSON otherwise;
// KEYRELAY_LOG_FORMAT overrides the choice.
func loggingConfig(scrub func(string) string) logging.Config {
	fd := os.Stderr.Fd()
	cfg := logging.Config{
		Level:   logging.ParseLevel(getEnvString("KEYRELAY_LOG_LEVEL", "info")),
		LogDir:  os.Getenv("KEYRELAY_LOG_DIR"),
		Service: "keyrelay",
		JSON:    !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd),
		Scrub:   scrub,
	}
	switch strings.ToLower(os.Getenv("KEYRELAY_LOG_FORMAT")) {
	case "json":
		cfg.JSON = true
	case "text":
		cfg.JSON = false
	}
	return cfg
}
