package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"patient-summary-agent/internal/cache"
	"patient-summary-agent/internal/config"
	"patient-summary-agent/internal/core"
	"patient-summary-agent/internal/dataset"
	"patient-summary-agent/internal/db"
	"patient-summary-agent/internal/llm"

	_ "github.com/lib/pq"
)

// app holds the services shared by the serve and warm commands.
type app struct {
	Advice   *core.AdviceService
	Notes    *core.NoteService
	Notifier *db.Notifier

	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}

// buildApp wires the dataset, cache, model backend and optional database
// into the advice and note services.
func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}

	src, err := dataset.Open(cfg.DataFile)
	if err != nil {
		return nil, err
	}

	pages, err := cache.New(cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := pages.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	client, err := llm.New(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	notes := core.NewNoteService(src, pages, client, cfg.BatchSize, logger.With().Str("component", "notes").Logger())
	notes.Truncator = llm.NewTruncator(cfg.MaxPromptTokens)

	var recorder core.AdviceRecorder
	if cfg.DatabaseURL != "" {
		conn, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, conn)
		if err := db.Migrate(ctx, conn); err != nil {
			a.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		repo := db.NewRepository(conn)
		a.Notifier = db.NewNotifier(conn, cfg.DatabaseURL, cfg.NotifyChannel, logger.With().Str("component", "notify").Logger())

		notes.Store = repo
		notes.Notifier = a.Notifier
		recorder = repo
		logger.Info().Str("channel", cfg.NotifyChannel).Msg("connected to database")
	}

	a.Notes = notes
	a.Advice = core.NewAdviceService(client, recorder, logger.With().Str("component", "advice").Logger())
	return a, nil
}
