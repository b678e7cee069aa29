package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"recognition-orchestrator/internal/archive"
	"recognition-orchestrator/internal/config"
	"recognition-orchestrator/internal/orchestrator"
	"recognition-orchestrator/internal/pdf"
	"recognition-orchestrator/internal/recognition"
	"recognition-orchestrator/internal/store"
)

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h).With("env", cfg.Env)
}

// Components are the long-lived collaborators shared by the api and worker.
type Components struct {
	Store        *store.Store
	Archiver     *archive.Archiver
	Orchestrator *orchestrator.Orchestrator
}

// Close releases the database pool.
func (c *Components) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
}

// Build connects storage and assembles the orchestrator.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*Components, error) {
	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := st.RunMigrations(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	objects, err := archive.NewObjectStore(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("archive backend: %w", err)
	}
	archiver := archive.New(objects, cfg.ArchiveRoot)

	client := recognition.NewClient(recognition.Options{
		BaseURL:       cfg.RecognitionBaseURL,
		SyncPath:      cfg.RecognitionSyncPath,
		AsyncPath:     cfg.RecognitionAsyncPath,
		Dialect:       recognition.DialectByName(cfg.RecognitionStatusDialect),
		SubmitTimeout: cfg.SubmitTimeout,
		PollTimeout:   cfg.PollRequestTimeout,
		MaxAttempts:   cfg.SyncMaxAttempts,
		BaseDelay:     cfg.SyncBaseDelay,
		Logger:        log,
	})

	orch := orchestrator.New(orchestrator.Deps{
		Extractor: pdf.NewExtractor(),
		Client:    client,
		Store:     st,
		Archiver:  archiver,
		Logger:    log,
	}, orchestrator.Options{
		MaxAttempts:  cfg.PollMaxAttempts,
		PollInterval: cfg.PollInterval,
	})

	return &Components{Store: st, Archiver: archiver, Orchestrator: orch}, nil
}
