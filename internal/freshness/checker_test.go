// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package freshness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/freshlake/freshlake/internal/config"
	"github.com/freshlake/freshlake/internal/fetch"
	"github.com/freshlake/freshlake/internal/models"
	"github.com/freshlake/freshlake/internal/store"
)

// stubFetcher serves scripted metadata; page fetches only back the count
// estimation chain.
type stubFetcher struct {
	md    *fetch.DatasetMetadata
	mdErr error
}

func (s *stubFetcher) FetchPage(context.Context, models.Dataset, int, int, *fetch.Query) ([]models.Record, error) {
	return nil, errors.New("no pages scripted")
}

func (s *stubFetcher) Metadata(context.Context, models.Dataset) (*fetch.DatasetMetadata, error) {
	if s.mdErr != nil {
		return nil, s.mdErr
	}
	return s.md, nil
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(config.StoreConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testChecker(f fetch.Fetcher, st *store.Store, datasets ...models.Dataset) *Checker {
	return NewChecker(f, st, NewScorer(DefaultStaleThresholdDays), datasets, 0, 10)
}

func TestCheckFreshDataset(t *testing.T) {
	st := testStore(t)
	now := time.Now().UTC()
	lastSync := now.Add(-time.Hour)

	ds := models.Dataset{ID: "d", Priority: 95}
	if err := st.PutFreshness(&models.FreshnessRecord{DatasetID: "d", LocalLastSync: &lastSync}); err != nil {
		t.Fatal(err)
	}

	upstream := now.Add(-2 * time.Hour) // modified before the last sync
	f := &stubFetcher{md: &fetch.DatasetMetadata{RowCount: 1000, LastModified: &upstream}}
	c := testChecker(f, st, ds)

	check, err := c.Check(context.Background(), ds)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if check.Score != 100 || check.IsStale || check.RecommendSync || check.StaleDays != 0 {
		t.Errorf("check = %+v, want perfectly fresh", check)
	}
	if check.UpstreamCount != 1000 || check.CountEstimated {
		t.Errorf("count = %d (estimated=%v), want 1000 exact", check.UpstreamCount, check.CountEstimated)
	}

	rec, err := st.GetFreshness("d")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Score != 100 || rec.IsStale || rec.StaleSince != nil {
		t.Errorf("persisted record = %+v, want fresh with nil StaleSince", rec)
	}
}

func TestCheckStaleDataset(t *testing.T) {
	st := testStore(t)
	now := time.Now().UTC()
	lastSync := now.AddDate(0, 0, -10)

	ds := models.Dataset{ID: "d", Priority: 95}
	if err := st.PutFreshness(&models.FreshnessRecord{DatasetID: "d", LocalLastSync: &lastSync}); err != nil {
		t.Fatal(err)
	}

	f := &stubFetcher{md: &fetch.DatasetMetadata{RowCount: 500, LastModified: &now}}
	c := testChecker(f, st, ds)

	check, err := c.Check(context.Background(), ds)
	if err != nil {
		t.Fatal(err)
	}
	if check.StaleDays != 10 || !check.IsStale || !check.RecommendSync {
		t.Errorf("check = %+v, want 10 days stale and recommended", check)
	}

	rec, _ := st.GetFreshness("d")
	if rec.StaleSince == nil {
		t.Fatal("StaleSince not set on stale record")
	}

	// A second check while still stale keeps the original StaleSince.
	firstSince := *rec.StaleSince
	if _, err := c.Check(context.Background(), ds); err != nil {
		t.Fatal(err)
	}
	rec, _ = st.GetFreshness("d")
	if rec.StaleSince == nil || !rec.StaleSince.Equal(firstSince) {
		t.Errorf("StaleSince changed on repeat check: %v != %v", rec.StaleSince, firstSince)
	}
}

func TestCheckMetadataOutageWorstCase(t *testing.T) {
	st := testStore(t)
	ds := models.Dataset{ID: "d", Priority: 50}
	f := &stubFetcher{mdErr: errors.New("metadata outage")}
	c := testChecker(f, st, ds)

	check, err := c.Check(context.Background(), ds)
	if err != nil {
		t.Fatalf("Check must not fail on metadata outage: %v", err)
	}
	if check.Score != 0 || !check.IsStale || !check.RecommendSync {
		t.Errorf("check = %+v, want worst-case verdict", check)
	}

	rec, err := st.GetFreshness("d")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Score != 0 || !rec.IsStale || rec.StaleSince == nil {
		t.Errorf("persisted worst case = %+v", rec)
	}
}

func TestCheckNeverSyncedIsMaximallyStale(t *testing.T) {
	st := testStore(t)
	now := time.Now().UTC()
	ds := models.Dataset{ID: "new", Priority: 50}
	f := &stubFetcher{md: &fetch.DatasetMetadata{RowCount: 10, LastModified: &now}}
	c := testChecker(f, st, ds)

	check, err := c.Check(context.Background(), ds)
	if err != nil {
		t.Fatal(err)
	}
	if check.StaleDays != staleSentinelDays || check.Score != 0 || !check.IsStale {
		t.Errorf("check = %+v, want maximally stale for never-synced dataset", check)
	}
}

func TestCheckAllContinuesPastFailures(t *testing.T) {
	st := testStore(t)
	now := time.Now().UTC()
	a := models.Dataset{ID: "a", Priority: 50}
	b := models.Dataset{ID: "b", Priority: 50}

	f := &stubFetcher{md: &fetch.DatasetMetadata{RowCount: 10, LastModified: &now}}
	c := testChecker(f, st, a, b)

	checks, err := c.CheckAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(checks) != 2 {
		t.Fatalf("got %d checks, want 2", len(checks))
	}
}

func TestCheckAllCancellation(t *testing.T) {
	st := testStore(t)
	f := &stubFetcher{md: &fetch.DatasetMetadata{RowCount: 10}}
	datasets := []models.Dataset{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	c := NewChecker(f, st, NewScorer(0), datasets, time.Hour, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var checks []*models.FreshnessCheck
	go func() {
		defer close(done)
		checks, _ = c.CheckAll(ctx)
	}()

	// The hour-long inter-check delay blocks after the first dataset;
	// cancellation must end the sweep promptly.
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CheckAll did not stop after cancellation")
	}
	if len(checks) >= 3 {
		t.Errorf("sweep completed all datasets despite cancellation")
	}
}

func TestRecordSyncOutcome(t *testing.T) {
	st := testStore(t)
	ds := models.Dataset{ID: "d", Priority: 80, NaturalKeys: []string{"id"}}
	c := testChecker(&stubFetcher{}, st, ds)

	if _, err := st.UpsertRecords(ds, []models.Record{{"id": "1"}, {"id": "2"}}); err != nil {
		t.Fatal(err)
	}

	started := time.Now().Add(-time.Minute)
	finished := time.Now()
	l := &models.SyncLog{
		DatasetID:  "d",
		StartedAt:  started,
		FinishedAt: finished,
		Status:     models.SyncStatusSuccess,
	}
	if err := st.AppendSyncLog(l); err != nil {
		t.Fatal(err)
	}
	if err := c.RecordSyncOutcome(ds, l); err != nil {
		t.Fatal(err)
	}

	rec, err := st.GetFreshness("d")
	if err != nil {
		t.Fatal(err)
	}
	if rec.LocalLastSync == nil {
		t.Fatal("LocalLastSync not set after successful sync")
	}
	if rec.LocalCount != 2 {
		t.Errorf("LocalCount = %d, want 2", rec.LocalCount)
	}
	if rec.SuccessRate != 1 {
		t.Errorf("SuccessRate = %v, want 1", rec.SuccessRate)
	}

	// A failed sync must not advance the last-sync timestamp.
	prev := *rec.LocalLastSync
	fail := &models.SyncLog{DatasetID: "d", StartedAt: finished, FinishedAt: finished, Status: models.SyncStatusFailed}
	_ = st.AppendSyncLog(fail)
	if err := c.RecordSyncOutcome(ds, fail); err != nil {
		t.Fatal(err)
	}
	rec, _ = st.GetFreshness("d")
	if !rec.LocalLastSync.Equal(prev) {
		t.Error("LocalLastSync advanced by a failed sync")
	}
}
