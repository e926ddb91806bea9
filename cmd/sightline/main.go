package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/sightline-hq/sightline/api"
	"github.com/sightline-hq/sightline/internal/auth"
	"github.com/sightline-hq/sightline/internal/config"
	"github.com/sightline-hq/sightline/internal/processor"
	"github.com/sightline-hq/sightline/internal/ratelimit"
	"github.com/sightline-hq/sightline/internal/runner"
	"github.com/sightline-hq/sightline/internal/server"
	"github.com/sightline-hq/sightline/internal/storage"
	"github.com/sightline-hq/sightline/internal/telemetry"
	"github.com/sightline-hq/sightline/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("SIGHTLINE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("sightline starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	// RunMigrations tracks applied files in schema_migrations and skips
	// duplicates, so errors here indicate real failures.
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Tenant bootstrap: ensure the configured org exists with its API key so
	// a fresh deployment can authenticate without manual SQL.
	if err := bootstrapOrg(ctx, db, cfg); err != nil {
		return fmt.Errorf("bootstrap org: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	proc, err := processor.NewHTTP(processor.Config{
		BaseURL: cfg.ProcessorURL,
		APIKey:  cfg.ProcessorAPIKey,
		Timeout: cfg.ProcessorTimeout,
	})
	if err != nil {
		return fmt.Errorf("processor: %w", err)
	}

	// One pacer per processing pass so token buckets are not shared across
	// runs.
	newPacer := func() runner.Pacer {
		if cfg.Pacer == config.PacerBucket {
			return runner.TokenBucket(cfg.PacerRate, cfg.PacerBurst)
		}
		return runner.FixedDelay(cfg.QueryDelay)
	}
	manager := runner.NewManager(db, proc, newPacer, logger, cfg.ProgressLogLines)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		Store:               db,
		Manager:             manager,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Version:             version,
		OpenAPISpec:         api.OpenAPISpec,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Wait for a shutdown signal or a server failure.
	<-gctx.Done()

	// Graceful shutdown: stop accepting HTTP first, then ask active passes
	// to stop and wait for them to land in paused. Each phase gets its own
	// timeout so early completion doesn't steal budget from later phases.
	slog.Info("sightline shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	runCtx, runCancel := context.WithTimeout(context.Background(), 2*cfg.ProcessorTimeout)
	if err := manager.Shutdown(runCtx); err != nil {
		slog.Error("runner shutdown error", "error", err)
	}
	runCancel()

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("sightline stopped")
	return nil
}

// bootstrapOrg ensures the configured organization exists. No-op unless all
// three bootstrap settings are present.
func bootstrapOrg(ctx context.Context, db *storage.DB, cfg config.Config) error {
	if cfg.BootstrapOrgID == "" || cfg.BootstrapOrgName == "" || cfg.BootstrapAPIKey == "" {
		return nil
	}
	orgID, err := uuid.Parse(cfg.BootstrapOrgID)
	if err != nil {
		return fmt.Errorf("parse SIGHTLINE_BOOTSTRAP_ORG_ID: %w", err)
	}
	hash, err := auth.HashAPIKey(cfg.BootstrapAPIKey)
	if err != nil {
		return err
	}
	if err := db.EnsureOrganization(ctx, orgID, cfg.BootstrapOrgName, hash); err != nil {
		return err
	}
	slog.Info("bootstrap org ensured", "org_id", orgID, "name", cfg.BootstrapOrgName)
	return nil
}
