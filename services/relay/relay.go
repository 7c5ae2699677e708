// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package relay composes the keyrelay HTTP service.
//
// The service sits between browser code and third-party APIs (text
// generation, image search, transactional email, hosting panel). Browsers
// call it with an action name and parameters; the service attaches the
// credentials it alone holds, calls the upstream, and answers with a JSON
// envelope that never contains a credential.
//
// # Extension Points
//
// extensions.ServiceOptions can replace:
//   - AuthProvider: admin API authentication (default: static bearer token
//     from Config.AdminToken, or deny-all when unset)
//   - AuditLogger: admin action audit trail (default: slog)
//   - MessageFilter: scrubbing of diagnostic text (default: removes every
//     configured credential value)
//
// # Usage
//
//	svc, err := relay.New(relay.Config{Port: 8080, ConfigPath: "keyrelay.yaml"}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Run(); err != nil {
//	    log.Fatal(err)
//	}
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aiwebsite/keyrelay/pkg/extensions"
	"github.com/aiwebsite/keyrelay/pkg/telemetry"
	"github.com/aiwebsite/keyrelay/services/credentials"
	"github.com/aiwebsite/keyrelay/services/hosting"
	"github.com/aiwebsite/keyrelay/services/relay/handlers"
	"github.com/aiwebsite/keyrelay/services/relay/middleware"
	"github.com/aiwebsite/keyrelay/services/relay/observability"
	"github.com/aiwebsite/keyrelay/services/relay/routes"
	"github.com/aiwebsite/keyrelay/services/siteconfig"
	"github.com/aiwebsite/keyrelay/services/upstream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the relay lifecycle.
//
// # Thread Safety
//
// Run and Serve block and must be called at most once per instance.
type Service interface {
	// Run serves until SIGINT or SIGTERM, then shuts down gracefully.
	Run() error

	// Serve serves until ctx is done, then shuts down gracefully.
	Serve(ctx context.Context) error

	// Router returns the configured engine, for tests.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds relay configuration. Zero values take the defaults noted on
// each field.
type Config struct {
	// Port is the HTTP listen port. Default: 8080
	Port int

	// GinMode is release, debug, or test. Default: release
	GinMode string

	// ConfigPath is the credential YAML file. Default: keyrelay.yaml
	ConfigPath string

	// SecretsDir holds one file per secret. Default: /run/secrets
	SecretsDir string

	// Store replaces the file-backed credential store when set.
	Store credentials.Store

	// WatchConfig reloads ConfigPath when it changes on disk.
	WatchConfig bool

	// SiteConfigDir holds site configuration documents. Default: ./data
	SiteConfigDir string

	// AdminToken enables /admin/v1 with this bearer token.
	AdminToken string

	// AllowedOrigins for CORS. Default: ["*"]
	AllowedOrigins []string

	// RateLimitPerMinute per client IP. 0 disables limiting.
	RateLimitPerMinute int

	// TrustedProxies are the addresses or CIDRs whose X-Forwarded-For is
	// believed when resolving the client IP. Default: none, so the
	// connection's remote address is used.
	TrustedProxies []string

	// MaxBodyBytes caps request bodies. Default: 1 MiB
	MaxBodyBytes int64

	// ExposeErrorDetail appends scrubbed causes to error messages.
	ExposeErrorDetail bool

	// RetryBudget bounds all text generation attempts. Default: 15m
	RetryBudget time.Duration

	// WriteTimeout must exceed RetryBudget. Default: 16m
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown. Default: 30s
	ShutdownTimeout time.Duration

	// Endpoints overrides upstream URLs.
	Endpoints handlers.Endpoints

	// Telemetry configures tracing. Default: telemetry.DefaultConfig()
	Telemetry *telemetry.Config
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config        Config
	opts          extensions.ServiceOptions
	store         credentials.Store
	registry      *prometheus.Registry
	metrics       *observability.RelayMetrics
	router        *gin.Engine
	adminEnabled  bool
	tracerCleanup func(context.Context) error
}

// New builds the service: credentials, tracing, metrics, and routes.
// A nil opts uses the defaults described in the package documentation.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	if err := s.initStore(); err != nil {
		return nil, err
	}
	s.initOptions(opts)

	tcfg := telemetry.DefaultConfig()
	if s.config.Telemetry != nil {
		tcfg = *s.config.Telemetry
	}
	cleanup, err := telemetry.Init(context.Background(), tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewRelayMetrics(s.registry)

	if err := s.initRouter(); err != nil {
		s.cleanup()
		return nil, err
	}
	return s, nil
}

func (s *service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

func (s *service) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		s.cleanup()
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}
	return s.serveListener(ctx, ln)
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// serveListener runs the HTTP server and, when enabled, the credential
// watcher until ctx is done or the server fails.
func (s *service) serveListener(ctx context.Context, ln net.Listener) error {
	defer s.cleanup()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting keyrelay server",
			"addr", ln.Addr().String(),
			"admin_api", s.adminEnabled,
			"rate_limit_per_minute", s.config.RateLimitPerMinute)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	if w, ok := s.store.(interface{ Watch(context.Context) error }); ok && s.config.WatchConfig {
		g.Go(func() error {
			if err := w.Watch(gctx); err != nil {
				slog.Error("Credential watcher stopped", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		slog.Info("Shutting down keyrelay server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// =============================================================================
// Helper Functions
// =============================================================================

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = "keyrelay.yaml"
	}
	if cfg.SecretsDir == "" {
		cfg.SecretsDir = credentials.DefaultSecretsDir
	}
	if cfg.SiteConfigDir == "" {
		cfg.SiteConfigDir = "./data"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.RateLimitPerMinute < 0 {
		cfg.RateLimitPerMinute = 0
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = middleware.DefaultMaxBodyBytes
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = handlers.DefaultRetryBudget
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = cfg.RetryBudget + time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return cfg
}

func (s *service) initStore() error {
	if s.config.Store != nil {
		s.store = s.config.Store
		return nil
	}
	fs := credentials.NewFileStore(s.config.ConfigPath, credentials.FileStoreOptions{
		SecretsDir: s.config.SecretsDir,
	})
	if err := fs.Load(); err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	s.store = fs
	return nil
}

func (s *service) initOptions(opts *extensions.ServiceOptions) {
	if opts != nil {
		s.opts = opts.Normalize()
		_, denyAll := s.opts.AuthProvider.(*extensions.DenyAllAuthProvider)
		if denyAll && s.config.AdminToken != "" {
			s.opts.AuthProvider = extensions.NewStaticTokenAuthProvider(s.config.AdminToken)
			denyAll = false
		}
		s.adminEnabled = !denyAll
		return
	}

	s.opts = extensions.ServiceOptions{
		AuthProvider:  extensions.NewStaticTokenAuthProvider(s.config.AdminToken),
		AuditLogger:   extensions.NewSlogAuditLogger(slog.Default()),
		MessageFilter: extensions.NewSecretFilter(s.store.Secrets),
	}
	s.adminEnabled = s.config.AdminToken != ""
}

func (s *service) initRouter() error {
	gin.SetMode(s.config.GinMode)

	caller := upstream.NewClient(upstream.ClientOptions{Observer: s.metrics})

	s.router = gin.New()
	if err := s.router.SetTrustedProxies(s.config.TrustedProxies); err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}
	s.router.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		otelgin.Middleware("keyrelay"),
		middleware.CORS(s.config.AllowedOrigins),
		middleware.BodyLimit(s.config.MaxBodyBytes),
		middleware.NewRateLimiter(s.config.RateLimitPerMinute).Middleware(),
	)

	deps := routes.Deps{
		Relay: handlers.RelayDeps{
			Store:             s.store,
			Caller:            caller,
			Endpoints:         s.config.Endpoints,
			Metrics:           s.metrics,
			Filter:            s.opts.MessageFilter,
			RetryBudget:       s.config.RetryBudget,
			ExposeErrorDetail: s.config.ExposeErrorDetail,
		},
		SiteConfig: siteconfig.NewStore(s.config.SiteConfigDir),
		Metrics:    promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}),
	}
	if s.adminEnabled {
		deps.Auth = s.opts.AuthProvider
		deps.Admin = handlers.AdminDeps{
			Store:   s.store,
			Hosting: hosting.NewClient(caller, s.store),
			Audit:   s.opts.AuditLogger,
			Filter:  s.opts.MessageFilter,
		}
	}
	routes.SetupRoutes(s.router, deps)
	return nil
}

func (s *service) cleanup() {
	if err := s.opts.AuditLogger.Flush(context.Background()); err != nil {
		slog.Warn("Audit logger flush failed", "error", err)
	}
	if s.tracerCleanup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tracerCleanup(ctx); err != nil {
			slog.Error("Failed to shut down tracer", "error", err)
		}
	}
}

// Compile-time interface check
var _ Service = (*service)(nil)
