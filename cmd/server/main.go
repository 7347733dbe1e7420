// Copyright 2026 The Holidesk Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

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

	"github.com/holidesk/holidesk/internal/config"
	"github.com/holidesk/holidesk/internal/observability/logger"
	"github.com/holidesk/holidesk/internal/observability/tracing"
	"github.com/holidesk/holidesk/internal/store/postgres"
	transportHTTP "github.com/holidesk/holidesk/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		OTelBridge:  cfg.Observability.OTELEnabled,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			err = runMigrate(ctx, cfg)
		case "bootstrap":
			err = runBootstrap(ctx, cfg)
		default:
			err = fmt.Errorf("unknown command %q", os.Args[1])
		}
		if err != nil {
			slog.Error("command failed", slog.String("command", os.Args[1]), logger.Error(err))
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg); err != nil {
		slog.Error("server failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.InfoContext(ctx, "starting holidesk auth service",
		slog.String("version", cfg.Observability.ServiceVersion),
		slog.String("store", cfg.Store.Driver),
	)

	tracer, err := tracing.Setup(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.SamplingRate,
		Endpoint:       cfg.Observability.OTELEndpoint,
		Insecure:       cfg.Observability.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to flush traces", logger.Error(err))
		}
	}()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	app, err := buildApplication(cfg, st, rdb)
	if err != nil {
		return err
	}

	if err := app.identity.Bootstrap(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword); err != nil {
		return err
	}

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, 10*time.Minute)
	defer rateLimiter.Close()

	// The router deadline sits above the per-operation budget so the
	// orchestrator reports its own timeout first.
	handler := transportHTTP.NewHandler(app.orch, transportHTTP.HandlerConfig{
		ServiceName:    cfg.Observability.ServiceName,
		CookieSecure:   cfg.Server.CookieSecure,
		StateTTL:       cfg.OAuth.StateTTL,
		RequestTimeout: cfg.Server.OperationTimeout + 5*time.Second,
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      transportHTTP.NewRouter(handler, rateLimiter, app.registry),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go runCleanup(ctx, app, cfg.Session.CleanupInterval, cfg.Session.Retention)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"), slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// runCleanup periodically purges sessions that ended more than retention ago
func runCleanup(ctx context.Context, app *application, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.orch.CleanupSessions(ctx, time.Now().Add(-retention))
			if err != nil {
				slog.ErrorContext(ctx, "failed to cleanup sessions", logger.Error(err))
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "purged sessions", logger.RowsAffected(n))
			}
		}
	}
}

func runMigrate(ctx context.Context, cfg *config.Config) error {
	if cfg.Store.Driver != "postgres" {
		return fmt.Errorf("migrate requires STORE_DRIVER=postgres")
	}
	db, err := postgres.New(ctx, databaseConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := db.Migrate(ctx)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "migrations complete", slog.Int("applied", len(applied)))
	return nil
}

func runBootstrap(ctx context.Context, cfg *config.Config) error {
	if cfg.Bootstrap.AdminEmail == "" || cfg.Bootstrap.AdminPassword == "" {
		return fmt.Errorf("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD are required")
	}
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	app, err := buildApplication(cfg, st, rdb)
	if err != nil {
		return err
	}
	return app.identity.Bootstrap(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword)
}
