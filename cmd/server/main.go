package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"patient-summary-agent/internal/config"
	"patient-summary-agent/internal/core"
	"patient-summary-agent/internal/db"
	httpserver "patient-summary-agent/internal/http"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "patient-summary-agent",
		Short: "Care plan advice and SOAP note service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(warmCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func warmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Generate and cache SOAP note pages, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			pages, _ := cmd.Flags().GetInt("pages")
			size, _ := cmd.Flags().GetInt("size")
			return runWarm(cmd.Context(), pages, size)
		},
	}
	cmd.Flags().Int("pages", 0, "Maximum number of pages to warm (0 walks the whole dataset)")
	cmd.Flags().Int("size", 0, "Page size (defaults to WARM_PAGE_SIZE)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL must be set")
			}
			logger := newLogger(cfg)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			conn, err := openDB(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := db.Migrate(ctx, conn); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info().Msg("schema is up to date")
			return nil
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialise service")
		return err
	}
	defer a.Close()

	// Count once at startup so the first request does not pay for it.
	total, err := a.Notes.Total(ctx)
	if err != nil {
		logger.Error().Err(err).Str("file", cfg.DataFile).Msg("failed to read conversations")
		return err
	}
	logger.Info().Int("total", total).Str("file", cfg.DataFile).Msg("conversations loaded")

	var warmer *core.Warmer
	if cfg.WarmEnabled {
		warmer = core.NewWarmer(a.Notes, cfg.WarmPageSize, cfg.WarmMaxPages, cfg.WarmInterval, logger)
		warmer.Start(ctx)
	}

	opts := httpserver.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}
	if cfg.AuthJWTSecret != "" {
		opts.JWT = &httpserver.JWTConfig{
			Secret:   []byte(cfg.AuthJWTSecret),
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
		}
	}
	var events httpserver.EventSource
	if a.Notifier != nil {
		events = a.Notifier
	}
	handler := httpserver.NewServer(a.Advice, a.Notes, events, logger, opts)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("llm", cfg.LLMBackend).Str("cache", cfg.CacheBackend).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	stop()
	if warmer != nil {
		warmer.Wait()
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runWarm(parent context.Context, pages, size int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if size <= 0 {
		size = cfg.WarmPageSize
	}
	if size > config.MaxPageSize {
		return fmt.Errorf("size must be between 1 and %d", config.MaxPageSize)
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	warmed, err := core.NewWarmer(a.Notes, size, pages, 0, logger).Run(ctx)
	if err != nil {
		return err
	}
	logger.Info().Int("pages", warmed).Int("size", size).Msg("warm finished")
	return nil
}
