// Package app assembles the application: configuration, database, Genkit,
// vector index, and the services built on top of them.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pautahq/newsbot/internal/auth"
	"github.com/pautahq/newsbot/internal/config"
	"github.com/pautahq/newsbot/internal/feed"
	"github.com/pautahq/newsbot/internal/history"
	"github.com/pautahq/newsbot/internal/index"
	"github.com/pautahq/newsbot/internal/ingest"
	"github.com/pautahq/newsbot/internal/rag"
	"github.com/pautahq/newsbot/internal/store"
)

// App is the assembled application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Pool     *pgxpool.Pool
	Index    *index.Index

	Store   *store.Store
	History *history.Store
	Auth    *auth.Service
	Fetcher *feed.Fetcher
	Ingest  *ingest.Service
	Engine  *rag.Engine

	otelCleanup func()
}

// Close releases resources in reverse order of acquisition. Safe to call
// after a partial Setup failure.
func (a *App) Close() error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("shutting down application")

	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			logger.Warn("closing vector index", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
		logger.Debug("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
