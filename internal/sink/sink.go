// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

// Package sink defines where fetched records go. The engine only ever
// talks to the RecordSink contract; dataset-specific field mapping and
// conflict resolution live behind it. Sinks are selected per dataset id at
// wiring time through the Registry, never by runtime record sniffing.
package sink

import (
	"context"
	"sync"

	"github.com/freshlake/freshlake/internal/fetch"
	"github.com/freshlake/freshlake/internal/models"
	"github.com/freshlake/freshlake/internal/store"
)

// RecordSink receives one fetched batch at a time. OnBatch must be
// idempotent: the same record may be delivered twice after a retry, and
// implementations are expected to upsert by natural key. The signature
// matches fetch.BatchFunc so a sink plugs directly into the page loop.
type RecordSink interface {
	OnBatch(ctx context.Context, records []models.Record, offset int, progress fetch.BatchProgress) error
}

// AddedCounter is implemented by sinks that can report how many delivered
// records were new rather than overwrites.
type AddedCounter interface {
	Added() int64
}

// Factory builds a sink bound to one dataset for the duration of a sync.
type Factory func(ds models.Dataset) RecordSink

// Registry maps dataset ids to sink factories, with a default for datasets
// without a dedicated registration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	def       Factory
}

// NewRegistry builds a registry with the given default factory.
func NewRegistry(def Factory) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		def:       def,
	}
}

// Register binds a factory to a dataset id, replacing any previous one.
func (r *Registry) Register(datasetID string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[datasetID] = f
}

// For returns a fresh sink for the dataset, falling back to the default.
func (r *Registry) For(ds models.Dataset) RecordSink {
	r.mu.RLock()
	f, ok := r.factories[ds.ID]
	r.mu.RUnlock()
	if !ok {
		f = r.def
	}
	return f(ds)
}

// StoreSink is the default sink: raw records upserted into the embedded
// store keyed by dataset and natural key.
type StoreSink struct {
	store *store.Store
	ds    models.Dataset

	mu    sync.Mutex
	added int64
}

// NewStoreSink binds a store-backed sink to one dataset.
func NewStoreSink(st *store.Store, ds models.Dataset) *StoreSink {
	return &StoreSink{store: st, ds: ds}
}

// StoreFactory returns a Factory producing store-backed sinks.
func StoreFactory(st *store.Store) Factory {
	return func(ds models.Dataset) RecordSink {
		return NewStoreSink(st, ds)
	}
}

// OnBatch implements RecordSink.
func (s *StoreSink) OnBatch(ctx context.Context, records []models.Record, _ int, _ fetch.BatchProgress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	added, err := s.store.UpsertRecords(s.ds, records)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.added += added
	s.mu.Unlock()
	return nil
}

// Added reports how many records this sink created, across all batches.
func (s *StoreSink) Added() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.added
}
