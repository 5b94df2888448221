// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

// Package scheduler turns freshness state into prioritized, time-boxed,
// concurrency-bounded sync actions: ranked urgency buckets, the bounded
// executor, and the sync job itself.
package scheduler

import (
	"github.com/freshlake/freshlake/internal/config"
	"github.com/freshlake/freshlake/internal/fetch"
	"github.com/freshlake/freshlake/internal/freshness"
	"github.com/freshlake/freshlake/internal/progress"
	"github.com/freshlake/freshlake/internal/sink"
	"github.com/freshlake/freshlake/internal/store"
)

// Scheduler coordinates freshness checks, recommendations, and sync jobs.
type Scheduler struct {
	checker     *freshness.Checker
	scorer      *freshness.Scorer
	fetcher     fetch.Fetcher
	pager       *fetch.Pager
	sinks       *sink.Registry
	store       *store.Store
	broadcaster progress.Broadcaster
	cfg         config.SyncConfig
	sampleSize  int
}

// New wires a scheduler from its collaborators.
func New(
	checker *freshness.Checker,
	scorer *freshness.Scorer,
	fetcher fetch.Fetcher,
	pager *fetch.Pager,
	sinks *sink.Registry,
	st *store.Store,
	broadcaster progress.Broadcaster,
	cfg config.SyncConfig,
	sampleSize int,
) *Scheduler {
	return &Scheduler{
		checker:     checker,
		scorer:      scorer,
		fetcher:     fetcher,
		pager:       pager,
		sinks:       sinks,
		store:       st,
		broadcaster: broadcaster,
		cfg:         cfg,
		sampleSize:  sampleSize,
	}
}

// Checker exposes the freshness checker for the API layer.
func (s *Scheduler) Checker() *freshness.Checker {
	return s.checker
}
