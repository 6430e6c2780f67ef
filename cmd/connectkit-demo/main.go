// Command connectkit-demo is a reference HTTP host for the connectkit
// SDK: it reads configuration from the environment, constructs an
// *connectkit.SDK, and exposes the connect/callback/fetch/disconnect
// lifecycle plus health and metrics endpoints.
//
// PKCE state created by /connect is held in this process's memory, so a
// /callback completes only on the instance that served the matching
// /connect; running several instances needs sticky sessions.
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

	"github.com/wisbric/connectkit"
	"github.com/wisbric/connectkit/internal/config"
	"github.com/wisbric/connectkit/internal/httpserver"
	"github.com/wisbric/connectkit/internal/platform"
	"github.com/wisbric/connectkit/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	ckCfg, err := toConnectkitConfig(cfg)
	if err != nil {
		return fmt.Errorf("translating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.TokenStoreBackend == "relational" {
		if err := platform.RunTokenStoreMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running token store migrations: %w", err)
		}
		logger.Info("token store migrations applied")
	}

	sdk, err := connectkit.New(ctx, ckCfg)
	if err != nil {
		return fmt.Errorf("constructing connectkit SDK: %w", err)
	}
	defer func() {
		if err := sdk.Close(); err != nil {
			logger.Error("closing connectkit SDK", "error", err)
		}
	}()

	srv := httpserver.NewServer(sdk, logger, cfg.CORSAllowedOrigins)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("connectkit-demo listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down connectkit-demo")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
