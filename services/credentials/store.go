// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSecretsDir is where container runtimes mount secret files.
const DefaultSecretsDir = "/run/secrets"

// FileConfig is the on-disk YAML layout.
type FileConfig struct {
	Gemini struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"gemini"`
	Unsplash struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"unsplash"`
	EmailJS struct {
		ServiceID  string `yaml:"service_id"`
		TemplateID string `yaml:"template_id"`
		PublicKey  string `yaml:"public_key"`
	} `yaml:"emailjs"`
	Hosting  HostingFileConfig `yaml:"hosting"`
	Timeouts struct {
		DefaultSeconds  int `yaml:"default_seconds,omitempty"`
		ExtendedSeconds int `yaml:"extended_seconds,omitempty"`
	} `yaml:"timeouts"`
	Retry struct {
		MaxAttempts int `yaml:"max_attempts,omitempty"`
		BaseSeconds int `yaml:"base_seconds,omitempty"`
	} `yaml:"retry"`
}

type HostingFileConfig struct {
	Username     string `yaml:"username"`
	APIToken     string `yaml:"api_token"`
	Host         string `yaml:"host"`
	MainDomain   string `yaml:"main_domain"`
	SubdomainDir string `yaml:"subdomain_dir,omitempty"`
	VerifyTLS    *bool  `yaml:"verify_tls,omitempty"`
}

// secretSource binds a config field to its env var. The secret file name
// is the lowercased env var.
type secretSource struct {
	env   string
	field func(*FileConfig) *string
}

var secretSources = []secretSource{
	{"GEMINI_API_KEY", func(c *FileConfig) *string { return &c.Gemini.APIKey }},
	{"UNSPLASH_API_KEY", func(c *FileConfig) *string { return &c.Unsplash.APIKey }},
	{"EMAILJS_SERVICE_ID", func(c *FileConfig) *string { return &c.EmailJS.ServiceID }},
	{"EMAILJS_TEMPLATE_ID", func(c *FileConfig) *string { return &c.EmailJS.TemplateID }},
	{"EMAILJS_PUBLIC_KEY", func(c *FileConfig) *string { return &c.EmailJS.PublicKey }},
	{"CPANEL_USERNAME", func(c *FileConfig) *string { return &c.Hosting.Username }},
	{"CPANEL_API_TOKEN", func(c *FileConfig) *string { return &c.Hosting.APIToken }},
	{"CPANEL_HOST", func(c *FileConfig) *string { return &c.Hosting.Host }},
}

// FileStoreOptions tunes where a FileStore looks for overrides.
type FileStoreOptions struct {
	// SecretsDir holds one file per secret. Default: /run/secrets.
	SecretsDir string

	// LookupEnv resolves env overrides. Default: os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// FileStore is a Store backed by a YAML file with env and secret-file
// overlays.
//
// # Description
//
// Resolution order per secret: environment variable, then
// SecretsDir/<lowercase env name>, then the YAML file. A missing YAML
// file is not an error; defaults and overlays still apply.
//
// # Thread Safety
//
// Snapshot is lock-free. Load and SaveHosting serialize on an internal
// mutex.
type FileStore struct {
	path string
	opts FileStoreOptions

	mu      sync.Mutex
	raw     FileConfig
	current atomic.Pointer[snapshot]
}

// snapshot pairs credentials with their revealed secrets so both swap
// together.
type snapshot struct {
	creds   *Credentials
	secrets []string
}

// NewFileStore creates a store for path. Call Load before use; until then
// Snapshot returns an empty credential set.
func NewFileStore(path string, opts FileStoreOptions) *FileStore {
	if opts.SecretsDir == "" {
		opts.SecretsDir = DefaultSecretsDir
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	s := &FileStore{path: path, opts: opts}
	s.current.Store(&snapshot{creds: build(FileConfig{})})
	return s
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Snapshot returns the current credentials.
func (s *FileStore) Snapshot() *Credentials { return s.current.Load().creds }

// Secrets returns the secrets revealed when the current snapshot was
// loaded.
func (s *FileStore) Secrets() []string { return s.current.Load().secrets }

// Load reads the file, applies overlays, and swaps in a new snapshot.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileStore) loadLocked() error {
	raw, err := readFileConfig(s.path)
	if err != nil {
		return err
	}
	s.raw = raw

	effective := raw
	for _, src := range secretSources {
		if v, ok := s.lookup(src.env); ok {
			*src.field(&effective) = v
		}
	}

	creds := build(effective)
	secrets, err := creds.secretValues()
	if err != nil {
		return fmt.Errorf("failed to reveal secrets for scrubbing: %w", err)
	}
	s.current.Store(&snapshot{creds: creds, secrets: secrets})
	slog.Info("Credentials loaded",
		"path", s.path,
		"gemini", creds.GeminiKey.Configured(),
		"unsplash", creds.UnsplashKey.Configured(),
		"emailjs", creds.EmailJSServiceID.Configured() && creds.EmailJSTemplateID.Configured() && creds.EmailJSPublicKey.Configured(),
		"hosting", creds.Hosting.Token.Configured())
	return nil
}

// LookupSecret resolves env the way credential fields are resolved: the
// environment first, then <SecretsDir>/<lowercase env>.
func (s *FileStore) LookupSecret(env string) (string, bool) {
	return s.lookup(env)
}

func (s *FileStore) lookup(env string) (string, bool) {
	if v, ok := s.opts.LookupEnv(env); ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	secretPath := filepath.Join(s.opts.SecretsDir, strings.ToLower(env))
	if content, err := os.ReadFile(secretPath); err == nil {
		if v := strings.TrimSpace(string(content)); v != "" {
			return v, true
		}
	}
	return "", false
}

// SaveHosting writes the hosting section back to the YAML file with 0600
// permissions and reloads. Env or secret-file overrides still win after
// the reload.
func (s *FileStore) SaveHosting(ctx context.Context, update HostingUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := s.raw
	raw.Hosting.Username = strings.TrimSpace(update.Username)
	raw.Hosting.Host = strings.TrimSpace(update.Host)
	raw.Hosting.MainDomain = strings.TrimSpace(update.MainDomain)
	if tok := strings.TrimSpace(update.Token); tok != "" {
		raw.Hosting.APIToken = tok
	}

	if err := writeFileConfig(s.path, raw); err != nil {
		return err
	}
	s.warnMaskedHosting()
	return s.loadLocked()
}

// hostingOverrides are the overrides that outrank saved hosting settings.
var hostingOverrides = []struct {
	env   string
	field string
}{
	{"CPANEL_USERNAME", "username"},
	{"CPANEL_HOST", "host"},
	{"CPANEL_API_TOKEN", "api_token"},
}

// warnMaskedHosting logs each saved hosting field an override will hide
// once the store reloads.
func (s *FileStore) warnMaskedHosting() {
	for _, o := range hostingOverrides {
		if _, ok := s.lookup(o.env); ok {
			slog.Warn("Saved hosting setting is masked by an override",
				"field", o.field,
				"override", o.env)
		}
	}
}

func readFileConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("Credential file not found, using environment only", "path", path)
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read credential file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse credential file %s: %w", path, err)
	}
	return cfg, nil
}

func writeFileConfig(path string, cfg FileConfig) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to encode credential file: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".keyrelay-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

func build(cfg FileConfig) *Credentials {
	verify := true
	if cfg.Hosting.VerifyTLS != nil {
		verify = *cfg.Hosting.VerifyTLS
	}
	dir := cfg.Hosting.SubdomainDir
	if dir == "" {
		dir = DefaultSubdomainDir
	}
	return &Credentials{
		GeminiKey:         NewSecret(cfg.Gemini.APIKey),
		UnsplashKey:       NewSecret(cfg.Unsplash.APIKey),
		EmailJSServiceID:  NewSecret(cfg.EmailJS.ServiceID),
		EmailJSTemplateID: NewSecret(cfg.EmailJS.TemplateID),
		EmailJSPublicKey:  NewSecret(cfg.EmailJS.PublicKey),
		Hosting: HostingSettings{
			Username:     strings.TrimSpace(cfg.Hosting.Username),
			Token:        NewSecret(cfg.Hosting.APIToken),
			Host:         strings.TrimSpace(cfg.Hosting.Host),
			MainDomain:   strings.TrimSpace(cfg.Hosting.MainDomain),
			SubdomainDir: dir,
			VerifyTLS:    verify,
		},
		DefaultTimeout:  seconds(cfg.Timeouts.DefaultSeconds, DefaultTimeoutSeconds),
		ExtendedTimeout: seconds(cfg.Timeouts.ExtendedSeconds, ExtendedTimeoutSeconds),
		MaxAttempts:     positive(cfg.Retry.MaxAttempts, DefaultMaxAttempts),
		RetryBase:       seconds(cfg.Retry.BaseSeconds, DefaultRetryBaseSeconds),
		LoadedAt:        time.Now(),
	}
}

func seconds(v, def int) time.Duration {
	return time.Duration(positive(v, def)) * time.Second
}

func positive(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

var _ Store = (*FileStore)(nil)
