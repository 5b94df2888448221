// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/freshlake/freshlake/internal/models"
)

func TestBucketFor(t *testing.T) {
	tests := []struct {
		name       string
		shouldSync bool
		priority   int
		staleDays  int
		want       models.UrgencyBucket
	}{
		{"not recommended", false, 95, 30, models.BucketNoAction},
		{"high priority very stale", true, 95, 10, models.BucketImmediate},
		{"high priority at boundary", true, 95, 7, models.BucketWithinHour},
		{"priority 80 not immediate", true, 80, 10, models.BucketWithinHour},
		{"medium priority", true, 70, 5, models.BucketWithinHour},
		{"low priority stale", true, 50, 15, models.BucketToday},
		{"barely stale", true, 50, 2, models.BucketToday},
		{"nearly fresh", true, 50, 1, models.BucketThisWeek},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := models.Recommendation{ShouldSync: tt.shouldSync, Priority: tt.priority, StaleDays: tt.staleDays}
			if got := bucketFor(rec); got != tt.want {
				t.Errorf("bucketFor(sync=%v p=%d stale=%d) = %q, want %q",
					tt.shouldSync, tt.priority, tt.staleDays, got, tt.want)
			}
		})
	}
}

func TestRankOrdering(t *testing.T) {
	recs := []models.Recommendation{
		{DatasetID: "fresh-low", ShouldSync: false, Priority: 40, StaleDays: 0},
		{DatasetID: "stale-mid", ShouldSync: true, Priority: 70, StaleDays: 12},
		{DatasetID: "stale-high-slow", ShouldSync: true, Priority: 90, StaleDays: 20},
		{DatasetID: "stale-high-quick", ShouldSync: true, Priority: 90, StaleDays: 8},
		{DatasetID: "fresh-high", ShouldSync: false, Priority: 95, StaleDays: 1},
	}
	rank(recs)

	want := []string{"stale-high-quick", "stale-high-slow", "stale-mid", "fresh-high", "fresh-low"}
	for i, id := range want {
		if recs[i].DatasetID != id {
			t.Errorf("rank[%d] = %s, want %s", i, recs[i].DatasetID, id)
		}
	}
}

func TestChooseMode(t *testing.T) {
	lastSync := time.Now().UTC().Add(-48 * time.Hour)
	base := func() *models.FreshnessRecord {
		return &models.FreshnessRecord{
			UpstreamCount:   1000,
			LocalCount:      1000,
			LocalLastSync:   &lastSync,
			StaleDays:       2,
			SuccessRate:     0.95,
			AvgSyncDuration: time.Minute,
		}
	}
	ds := testDataset("d", 80)
	ds.LastModifiedField = "updated_at"

	t.Run("healthy incremental", func(t *testing.T) {
		if got := chooseMode(ds, base()); got != models.SyncModeIncremental {
			t.Errorf("mode = %q, want incremental", got)
		}
	})
	t.Run("long staleness forces full", func(t *testing.T) {
		fr := base()
		fr.StaleDays = 31
		if got := chooseMode(ds, fr); got != models.SyncModeFull {
			t.Errorf("mode = %q, want full", got)
		}
	})
	t.Run("count drift forces full", func(t *testing.T) {
		fr := base()
		fr.LocalCount = 750 // 25% drift beats the staleness rule
		if got := chooseMode(ds, fr); got != models.SyncModeFull {
			t.Errorf("mode = %q, want full", got)
		}
	})
	t.Run("poor success rate forces full", func(t *testing.T) {
		fr := base()
		fr.SuccessRate = 0.5
		if got := chooseMode(ds, fr); got != models.SyncModeFull {
			t.Errorf("mode = %q, want full", got)
		}
	})
	t.Run("no last-modified field forces full", func(t *testing.T) {
		plain := testDataset("d", 80)
		if got := chooseMode(plain, base()); got != models.SyncModeFull {
			t.Errorf("mode = %q, want full", got)
		}
	})
	t.Run("no prior sync forces full", func(t *testing.T) {
		fr := base()
		fr.LocalLastSync = nil
		if got := chooseMode(ds, fr); got != models.SyncModeFull {
			t.Errorf("mode = %q, want full", got)
		}
	})
	t.Run("no history skips success-rate rule", func(t *testing.T) {
		fr := base()
		fr.SuccessRate = 0
		fr.AvgSyncDuration = 0
		if got := chooseMode(ds, fr); got != models.SyncModeIncremental {
			t.Errorf("mode = %q, want incremental without sync history", got)
		}
	})
}

func TestGenerateRecommendationsBuckets(t *testing.T) {
	catalog := newFakeCatalog()
	dsImmediate := testDataset("immediate", 95)
	dsWithinHour := testDataset("within-hour", 70)
	dsToday := testDataset("today", 50)
	dsFresh := testDataset("fresh", 95)
	s, st, _ := newTestScheduler(t, catalog, dsImmediate, dsWithinHour, dsToday, dsFresh)

	seedFreshness(t, st, staleRecord("immediate", 10))
	seedFreshness(t, st, staleRecord("within-hour", 8))
	seedFreshness(t, st, staleRecord("today", 15))
	seedFreshness(t, st, staleRecord("fresh", 0))

	buckets, err := s.GenerateRecommendations(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	expect := map[string][]models.Recommendation{
		"immediate":   buckets.Immediate,
		"within-hour": buckets.WithinHour,
		"today":       buckets.Today,
		"fresh":       buckets.NoAction,
	}
	for id, bucket := range expect {
		if len(bucket) != 1 || bucket[0].DatasetID != id {
			t.Errorf("dataset %s not in expected bucket: %+v", id, bucket)
		}
	}
	for _, rec := range buckets.All() {
		if rec.Bucket == "" {
			t.Errorf("recommendation %s missing bucket stamp", rec.DatasetID)
		}
	}
	if got := buckets.Immediate[0].EstimatedDuration; got != 5*time.Second {
		t.Errorf("estimated duration = %v, want 5s from sync history", got)
	}
}

func TestGenerateRecommendationsNeverChecked(t *testing.T) {
	catalog := newFakeCatalog()
	ds := testDataset("unseen", 95)
	s, _, _ := newTestScheduler(t, catalog, ds)

	buckets, err := s.GenerateRecommendations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets.Immediate) != 1 {
		t.Fatalf("unseen dataset not bucketed immediate: %+v", buckets)
	}
	rec := buckets.Immediate[0]
	if !rec.ShouldSync || rec.Mode != models.SyncModeFull {
		t.Errorf("unseen dataset rec = %+v, want full sync recommended", rec)
	}
	if rec.StaleDays < 1000 {
		t.Errorf("staleDays = %d, want maximal-staleness sentinel", rec.StaleDays)
	}
}

func TestDriftDominatesModeDecision(t *testing.T) {
	// Two days stale but 25% drifted: the drift rule alone selects full.
	catalog := newFakeCatalog()
	ds := testDataset("drifted", 95)
	ds.LastModifiedField = "updated_at"
	s, st, _ := newTestScheduler(t, catalog, ds)

	fr := staleRecord("drifted", 2)
	fr.UpstreamCount = 1000
	fr.LocalCount = 750
	fr.SuccessRate = 0.95
	seedFreshness(t, st, fr)

	buckets, err := s.GenerateRecommendations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	all := buckets.All()
	if len(all) != 1 {
		t.Fatalf("recommendations = %+v, want 1", all)
	}
	if !all[0].ShouldSync {
		t.Fatalf("drifted dataset not recommended: %+v", all[0])
	}
	if all[0].Mode != models.SyncModeFull {
		t.Errorf("mode = %q, want full from drift rule", all[0].Mode)
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name string
		rec  models.FreshnessRecord
		want float64
	}{
		{"no history estimated count", models.FreshnessRecord{CountEstimated: true}, 0.5},
		{"exact count no history", models.FreshnessRecord{}, 0.7},
		{"perfect history exact count", models.FreshnessRecord{SuccessRate: 1.0, AvgSyncDuration: time.Minute}, 1.0},
		{"shaky history estimated count", models.FreshnessRecord{CountEstimated: true, SuccessRate: 0.5, AvgSyncDuration: time.Minute}, 0.65},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := confidence(&tt.rec)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("confidence = %v, want %v", got, tt.want)
			}
		})
	}
}
