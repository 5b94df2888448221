// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/freshlake/freshlake/internal/models"
)

func TestDrawLimits(t *testing.T) {
	buckets := &Buckets{}
	for i := 0; i < 5; i++ {
		buckets.Immediate = append(buckets.Immediate, models.Recommendation{DatasetID: fmt.Sprintf("imm-%d", i)})
	}
	for i := 0; i < 4; i++ {
		buckets.WithinHour = append(buckets.WithinHour, models.Recommendation{DatasetID: fmt.Sprintf("hour-%d", i)})
	}
	buckets.Today = []models.Recommendation{{DatasetID: "today-0"}}

	jobs := draw(buckets)
	want := []string{"imm-0", "imm-1", "imm-2", "hour-0", "hour-1"}
	if len(jobs) != len(want) {
		t.Fatalf("drew %d jobs, want %d", len(jobs), len(want))
	}
	for i, id := range want {
		if jobs[i].DatasetID != id {
			t.Errorf("jobs[%d] = %s, want %s", i, jobs[i].DatasetID, id)
		}
	}
}

func TestExecuteRecommendedBoundedConcurrency(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.pageDelay = 20 * time.Millisecond

	var datasets []models.Dataset
	for i, priority := range []int{95, 90, 85} {
		id := fmt.Sprintf("ds-%d", i)
		datasets = append(datasets, testDataset(id, priority))
		catalog.total[id] = 150
	}
	s, st, _ := newTestScheduler(t, catalog, datasets...)
	for _, ds := range datasets {
		seedFreshness(t, st, staleRecord(ds.ID, 10))
	}

	result, err := s.ExecuteRecommended(context.Background(), 2, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if result.Executed != 3 || result.Failed != 0 || result.Skipped != 0 {
		t.Fatalf("result = %+v, want 3 executed", result)
	}
	if peak := catalog.maxInFlight.Load(); peak != 2 {
		t.Errorf("peak concurrent fetches = %d, want exactly the bound 2", peak)
	}

	for _, ds := range datasets {
		count, err := st.CountRecords(ds.ID)
		if err != nil {
			t.Fatal(err)
		}
		if count != 150 {
			t.Errorf("dataset %s stored %d records, want 150", ds.ID, count)
		}
	}
}

func TestExecuteRecommendedTimeBudgetSkips(t *testing.T) {
	catalog := newFakeCatalog()
	datasets := []models.Dataset{testDataset("a", 95), testDataset("b", 90), testDataset("c", 85)}
	s, st, _ := newTestScheduler(t, catalog, datasets...)
	for _, ds := range datasets {
		seedFreshness(t, st, staleRecord(ds.ID, 10))
	}

	// An exhausted budget skips every job up front; skips are counted, not
	// silently dropped.
	result, err := s.ExecuteRecommended(context.Background(), 2, time.Nanosecond)
	if err != nil {
		t.Fatal(err)
	}
	if result.Skipped != 3 || result.Executed != 0 || result.Failed != 0 {
		t.Fatalf("result = %+v, want 3 skipped", result)
	}
	for _, out := range result.Results {
		if !out.Skipped {
			t.Errorf("job %s not marked skipped", out.DatasetID)
		}
	}
	for _, ds := range datasets {
		logs, err := st.ListSyncLogs(ds.ID, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(logs) != 0 {
			t.Errorf("skipped dataset %s has %d sync logs, want none", ds.ID, len(logs))
		}
	}
}

func TestExecuteRecommendedIsolatedFailures(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.total["good"] = 40
	catalog.pageErr["bad"] = errors.New("boom")

	datasets := []models.Dataset{testDataset("bad", 95), testDataset("good", 90)}
	s, st, _ := newTestScheduler(t, catalog, datasets...)
	seedFreshness(t, st, staleRecord("bad", 10))
	seedFreshness(t, st, staleRecord("good", 10))

	result, err := s.ExecuteRecommended(context.Background(), 2, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if result.Executed != 1 || result.Failed != 1 {
		t.Fatalf("result = %+v, want 1 executed / 1 failed", result)
	}
	for _, out := range result.Results {
		switch out.DatasetID {
		case "bad":
			if out.Status != models.SyncStatusFailed || out.Error == "" {
				t.Errorf("bad job = %+v, want failed with error", out)
			}
		case "good":
			if out.Status != models.SyncStatusSuccess {
				t.Errorf("good job = %+v, want success", out)
			}
		}
	}

	// The failed sync still leaves a log.
	logs, err := st.ListSyncLogs("bad", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Status != models.SyncStatusFailed {
		t.Fatalf("bad sync logs = %+v, want one failed entry", logs)
	}
}

func TestExecuteRecommendedNothingToDo(t *testing.T) {
	catalog := newFakeCatalog()
	datasets := []models.Dataset{testDataset("a", 95), testDataset("b", 50)}
	s, st, _ := newTestScheduler(t, catalog, datasets...)
	seedFreshness(t, st, staleRecord("a", 0))
	seedFreshness(t, st, staleRecord("b", 0))

	result, err := s.ExecuteRecommended(context.Background(), 2, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Results) != 0 || result.Executed != 0 {
		t.Fatalf("result = %+v, want empty pass", result)
	}
}
