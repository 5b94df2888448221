// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

// Command server runs the Freshlake ingestion and freshness engine.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freshlake/freshlake/internal/api"
	"github.com/freshlake/freshlake/internal/config"
	"github.com/freshlake/freshlake/internal/fetch"
	"github.com/freshlake/freshlake/internal/freshness"
	"github.com/freshlake/freshlake/internal/logging"
	"github.com/freshlake/freshlake/internal/progress"
	"github.com/freshlake/freshlake/internal/scheduler"
	"github.com/freshlake/freshlake/internal/sink"
	"github.com/freshlake/freshlake/internal/store"
	"github.com/freshlake/freshlake/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	st, err := store.Open(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed to open store")
	}

	datasets := cfg.Descriptors()
	client := fetch.NewClient(cfg.Catalog)
	catalog := fetch.NewBreakerClient(client, "catalog-api")
	scorer := freshness.NewScorer(cfg.Sync.StaleThresholdDays)
	checker := freshness.NewChecker(catalog, st, scorer, datasets, cfg.Sync.InterCheckDelay, cfg.Catalog.SampleSize)
	broadcaster := progress.NewMemoryBroadcaster()
	sched := scheduler.New(
		checker,
		scorer,
		catalog,
		fetch.NewPager(catalog, cfg.Sync),
		sink.NewRegistry(sink.StoreFactory(st)),
		st,
		broadcaster,
		cfg.Sync,
		cfg.Catalog.SampleSize,
	)

	handler := api.NewHandler(sched, st, broadcaster, cfg.Sync, catalog.State)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(cfg.Server, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddEngineService(supervisor.NewSchedulerLoopService(checker, sched, broadcaster, cfg.Sync))
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Int("datasets", len(datasets)).
		Bool("app_token", cfg.Catalog.AppToken != "").
		Msg("Freshlake starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree stopped with error")
	}

	if err := st.Close(); err != nil {
		logging.Error().Err(err).Msg("Failed to close store")
	}
	logging.Info().Msg("Freshlake stopped")
}
