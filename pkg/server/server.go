// Package server provides the public entry point for initializing the
// Peupajoh backend: it wires the store, the capability clients, the
// workflow engine, and the HTTP router into one ready-to-serve unit.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/peupajoh/peupajoh/internal/api"
	"github.com/peupajoh/peupajoh/internal/api/handlers"
	"github.com/peupajoh/peupajoh/internal/config"
	"github.com/peupajoh/peupajoh/internal/llm"
	"github.com/peupajoh/peupajoh/internal/resolve"
	"github.com/peupajoh/peupajoh/internal/retention"
	"github.com/peupajoh/peupajoh/internal/scrape"
	"github.com/peupajoh/peupajoh/internal/store"
	"github.com/peupajoh/peupajoh/internal/telemetry"
	"github.com/peupajoh/peupajoh/internal/workflow"
)

// Server holds the initialized Peupajoh backend.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the SQLite-backed data store.
	Store store.Store

	// Config is the resolved configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// Janitor purges stale sessions in the background; nil when
	// retention is disabled.
	Janitor *retention.Janitor

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration and
// returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the backend with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client := llm.NewClient(cfg.LLM)
	scraper := scrape.NewFatSecret(cfg.Scraper)
	resolver := resolve.NewResolver(dataStore, client, cfg.Resolution)
	engine := workflow.NewEngine(dataStore, resolver, client, client, scraper)

	log.Info().Msg("✅ Workflow engine initialized")

	h := handlers.New(dataStore, engine, cfg.Resolution)
	router := api.NewRouter(cfg, h)

	var janitor *retention.Janitor
	if cfg.Retention.Enabled {
		janitor = retention.NewJanitor(
			dataStore,
			time.Duration(cfg.Retention.IntervalHours)*time.Hour,
			time.Duration(cfg.Retention.MaxAgeDays)*24*time.Hour,
		)
		if cfg.Retention.ArchiveDir != "" {
			janitor.SetArchiver(retention.NewLocalFileArchiver(cfg.Retention.ArchiveDir))
		}
		janitor.SetPurgeHook(engine.ForgetSession)
	}

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Config:       cfg,
		Port:         cfg.Port,
		Janitor:      janitor,
		ShutdownFunc: shutdown,
	}, nil
}
