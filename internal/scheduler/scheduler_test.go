// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/freshlake/freshlake/internal/config"
	"github.com/freshlake/freshlake/internal/fetch"
	"github.com/freshlake/freshlake/internal/freshness"
	"github.com/freshlake/freshlake/internal/models"
	"github.com/freshlake/freshlake/internal/progress"
	"github.com/freshlake/freshlake/internal/sink"
	"github.com/freshlake/freshlake/internal/store"
)

// fakeCatalog serves synthetic datasets in memory and records how it was
// called, so tests can assert on queries and concurrency.
type fakeCatalog struct {
	mu        sync.Mutex
	total     map[string]int
	pageErr   map[string]error
	mdErr     map[string]error
	lastQuery map[string]*fetch.Query

	pageDelay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		total:     make(map[string]int),
		pageErr:   make(map[string]error),
		mdErr:     make(map[string]error),
		lastQuery: make(map[string]*fetch.Query),
	}
}

func (f *fakeCatalog) FetchPage(ctx context.Context, ds models.Dataset, offset, limit int, q *fetch.Query) ([]models.Record, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if cur <= peak || f.maxInFlight.CompareAndSwap(peak, cur) {
			break
		}
	}
	if f.pageDelay > 0 {
		select {
		case <-time.After(f.pageDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.lastQuery[ds.ID] = q
	err := f.pageErr[ds.ID]
	total := f.total[ds.ID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if q != nil && len(q.Select) == 1 && strings.HasPrefix(q.Select[0], "count(") {
		return []models.Record{{"total": fmt.Sprintf("%d", total)}}, nil
	}
	var out []models.Record
	for i := offset; i < total && len(out) < limit; i++ {
		out = append(out, models.Record{"case_number": fmt.Sprintf("C-%06d", i)})
	}
	return out, nil
}

func (f *fakeCatalog) Metadata(ctx context.Context, ds models.Dataset) (*fetch.DatasetMetadata, error) {
	f.mu.Lock()
	err := f.mdErr[ds.ID]
	total := f.total[ds.ID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	modified := time.Now().UTC().Add(-time.Hour)
	return &fetch.DatasetMetadata{RowCount: int64(total), LastModified: &modified}, nil
}

func (f *fakeCatalog) query(datasetID string) *fetch.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery[datasetID]
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		PageDelayFloor:     time.Millisecond,
		EndOfDataFraction:  0.5,
		MaxBatches:         1000,
		StaleThresholdDays: 7,
		CheckInterval:      time.Hour,
		ExecuteInterval:    time.Hour,
		MaxConcurrent:      3,
		MaxDuration:        time.Minute,
	}
}

func testDataset(id string, priority int) models.Dataset {
	return models.Dataset{
		ID:          id,
		Name:        id,
		Endpoint:    "https://data.example.gov/resource/" + id + ".json",
		NaturalKeys: []string{"case_number"},
		PageSize:    100,
		Priority:    priority,
	}
}

func newTestScheduler(t *testing.T, f fetch.Fetcher, datasets ...models.Dataset) (*Scheduler, *store.Store, *progress.MemoryBroadcaster) {
	t.Helper()
	b := progress.NewMemoryBroadcaster()
	s, st := newTestSchedulerWith(t, f, b, datasets...)
	return s, st, b
}

func newTestSchedulerWith(t *testing.T, f fetch.Fetcher, b progress.Broadcaster, datasets ...models.Dataset) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.Open(config.StoreConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := testSyncConfig()
	scorer := freshness.NewScorer(cfg.StaleThresholdDays)
	checker := freshness.NewChecker(f, st, scorer, datasets, 0, 10)
	s := New(checker, scorer, f, fetch.NewPager(f, cfg), sink.NewRegistry(sink.StoreFactory(st)), st, b, cfg, 10)
	return s, st
}

// staleRecord is a healthy freshness record staleDays behind upstream.
func staleRecord(id string, staleDays int) *models.FreshnessRecord {
	lastSync := time.Now().UTC().AddDate(0, 0, -staleDays)
	return &models.FreshnessRecord{
		DatasetID:       id,
		UpstreamCount:   100,
		CountMethod:     models.CountMethodMetadata,
		LocalLastSync:   &lastSync,
		LocalCount:      100,
		StaleDays:       staleDays,
		IsStale:         staleDays > 7,
		SuccessRate:     1.0,
		AvgSyncDuration: 5 * time.Second,
		CheckedAt:       time.Now().UTC(),
	}
}

func seedFreshness(t *testing.T, st *store.Store, rec *models.FreshnessRecord) {
	t.Helper()
	if err := st.PutFreshness(rec); err != nil {
		t.Fatalf("seed freshness %s: %v", rec.DatasetID, err)
	}
}
