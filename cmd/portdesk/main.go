// Package main is the entry point for the portdesk server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/portdesk/internal/backend"
	"github.com/pitabwire/portdesk/internal/config"
	"github.com/pitabwire/portdesk/internal/definition"
	"github.com/pitabwire/portdesk/internal/draft"
	"github.com/pitabwire/portdesk/internal/forms"
	"github.com/pitabwire/portdesk/internal/observability"
	"github.com/pitabwire/portdesk/internal/openapi"
	"github.com/pitabwire/portdesk/internal/transport"
	"github.com/pitabwire/portdesk/internal/workspace"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "portdesk", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load the backend's OpenAPI document (optional).
	var oaIndex *openapi.Index
	if cfg.Backend.OpenAPISpec != "" {
		oaIndex = openapi.NewIndex()
		if err := oaIndex.Load(ctx, cfg.Backend.OpenAPISpec); err != nil {
			logger.Error("OpenAPI index load failed", zap.Error(err))
			return 1
		}
		metrics.SetOpenAPIOperationsIndexed(float64(oaIndex.Len()))
	}

	// Step 5: Load definitions, validate, build registry.
	defs, err := loadDefinitions(cfg.Definitions)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}
	if oaIndex == nil {
		if ids := operationIDForms(defs); len(ids) > 0 {
			logger.Error("forms address operation ids but backend.openapi_spec is not set",
				zap.Strings("forms", ids))
			return 1
		}
	}
	if verrs := definition.NewValidator().Validate(defs, oaIndex); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		logger.Error("definition validation failed", zap.Int("errors", len(verrs)))
		return 1
	}
	registry := definition.NewRegistry(defs)
	metrics.SetDefinitionsLoaded(float64(registry.Len()))

	// Step 6: Initialize the draft store.
	draftBackend, draftCloser, err := buildDraftBackend(ctx, cfg.Drafts, logger)
	if err != nil {
		logger.Error("draft store initialization failed", zap.Error(err))
		return 1
	}
	drafts := draft.NewStore(draftBackend, logger, metrics)

	// Step 7: Build the backend client and the workspace manager.
	clientOpts := []backend.Option{
		backend.WithLoginRedirect(cfg.Session.LoginRedirect),
		backend.WithLogger(logger),
		backend.WithMetrics(metrics),
	}
	if oaIndex != nil {
		clientOpts = append(clientOpts, backend.WithIndex(oaIndex))
	}
	client := backend.New(cfg.Backend, clientOpts...)

	manager := workspace.NewManager(workspace.Deps{
		Client:      client,
		Registry:    registry,
		Drafts:      drafts,
		Collections: cfg.Collections,
		Session:     cfg.Session,
		Workspace:   cfg.Workspace,
		Alerts:      cfg.Alerts,
		Logger:      logger,
		Metrics:     metrics,
	})

	// Step 8: Build HTTP router.
	readinessChecks := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return registry.Len() > 0 },
		DraftStore:        drafts,
		Backend:           client,
	}
	if oaIndex != nil {
		readinessChecks.OpenAPILoaded = func() bool { return oaIndex.Len() > 0 }
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Manager:  manager,
		Logger:   logger,
		Metrics:  metrics,
		Gatherer: prometheus.DefaultGatherer,
		Ready:    readinessChecks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		manager.Run(bgCtx)
	}()

	// Step 10: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", registry.Len()),
		zap.Int("collections", len(cfg.Collections)),
		zap.String("drafts", cfg.Drafts.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exitCode = 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Close workspaces, then the draft store they write to.
	bgCancel()
	<-sweepDone
	if draftCloser != nil {
		draftCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return exitCode
}

// loadDefinitions returns the built-in forms overridden by any definitions
// found in the configured directories.
func loadDefinitions(cfg config.DefinitionsConfig) ([]definition.FormDefinition, error) {
	builtin, err := forms.Definitions()
	if err != nil {
		return nil, fmt.Errorf("built-in forms: %w", err)
	}
	if len(cfg.Directories) == 0 {
		return builtin, nil
	}
	extra, err := definition.NewLoader().LoadAll(cfg.Directories)
	if err != nil {
		return nil, err
	}
	return forms.Merge(builtin, extra), nil
}

// operationIDForms lists the forms whose submit endpoints need the OpenAPI
// index.
func operationIDForms(defs []definition.FormDefinition) []string {
	var ids []string
	for _, d := range defs {
		if d.Submit.Create.OperationID != "" || d.Submit.Update.OperationID != "" {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// buildDraftBackend creates the draft backend selected by config. The
// returned closer is nil for backends without resources to release.
func buildDraftBackend(ctx context.Context, cfg config.DraftsConfig, logger *zap.Logger) (draft.Backend, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory draft store")
		return draft.NewMemoryBackend(cfg.TTL), nil, nil

	case "redis":
		addr := cfg.Redis.Addr
		if cfg.Redis.AddrEnv != "" {
			if v := os.Getenv(cfg.Redis.AddrEnv); v != "" {
				addr = v
			}
		}
		if addr == "" {
			return nil, nil, fmt.Errorf("draft store: redis address not configured")
		}
		rdb := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("draft store: redis ping: %w", err)
		}
		logger.Info("using redis draft store", zap.String("addr", addr))
		return draft.NewRedisBackend(rdb, cfg.Redis.Prefix, cfg.TTL), func() { rdb.Close() }, nil

	case "sqlite":
		b, err := draft.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("draft store: %w", err)
		}
		logger.Info("using sqlite draft store", zap.String("path", cfg.SQLite.Path))
		return b, func() { b.Close() }, nil

	case "postgres":
		dsn := os.Getenv(cfg.Postgres.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("draft store: %s environment variable not set", cfg.Postgres.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("draft store: parse DSN: %w", err)
		}
		if cfg.Postgres.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
		}
		poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
		if cfg.Postgres.ConnMaxLifetime > 0 {
			poolCfg.MaxConnLifetime = cfg.Postgres.ConnMaxLifetime
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("draft store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("draft store: ping: %w", err)
		}

		b := draft.NewPgBackend(pool)
		if err := b.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("draft store: %w", err)
		}
		logger.Info("using postgres draft store")
		return b, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported draft store driver: %q", cfg.Driver)
	}
}
