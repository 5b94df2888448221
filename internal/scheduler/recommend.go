// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package scheduler

import (
	"context"
	"errors"
	"sort"

	"github.com/freshlake/freshlake/internal/freshness"
	"github.com/freshlake/freshlake/internal/models"
	"github.com/freshlake/freshlake/internal/store"
)

// Full-resync triggers. A dataset this far gone is refetched from offset
// zero instead of incrementally.
const (
	fullResyncStaleDays     = 30
	fullResyncDriftFraction = 0.20
	fullResyncSuccessFloor  = 0.60
)

// Buckets groups ranked recommendations by urgency. Within each bucket the
// ranking order is preserved, so the executor can draw from the front.
type Buckets struct {
	Immediate  []models.Recommendation `json:"immediate"`
	WithinHour []models.Recommendation `json:"within_hour"`
	Today      []models.Recommendation `json:"today"`
	ThisWeek   []models.Recommendation `json:"this_week"`
	NoAction   []models.Recommendation `json:"no_action"`
}

// All returns every recommendation across buckets, most urgent first.
func (b *Buckets) All() []models.Recommendation {
	out := make([]models.Recommendation, 0,
		len(b.Immediate)+len(b.WithinHour)+len(b.Today)+len(b.ThisWeek)+len(b.NoAction))
	out = append(out, b.Immediate...)
	out = append(out, b.WithinHour...)
	out = append(out, b.Today...)
	out = append(out, b.ThisWeek...)
	out = append(out, b.NoAction...)
	return out
}

// GenerateRecommendations derives a fresh scheduling decision for every
// tracked dataset from the persisted freshness records. Recommendations are
// ephemeral: recomputed on every pass, never stored.
func (s *Scheduler) GenerateRecommendations(ctx context.Context) (*Buckets, error) {
	recs := make([]models.Recommendation, 0, len(s.checker.Datasets()))
	for _, ds := range s.checker.Datasets() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.recommend(ds)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	rank(recs)
	return bucketize(recs), nil
}

// recommend builds the decision for one dataset.
func (s *Scheduler) recommend(ds models.Dataset) (models.Recommendation, error) {
	fr, err := s.store.GetFreshness(ds.ID)
	if errors.Is(err, store.ErrNotFound) {
		// Never checked: maximally stale, full resync, low confidence.
		return models.Recommendation{
			DatasetID:  ds.ID,
			ShouldSync: true,
			Mode:       models.SyncModeFull,
			Reason:     "never synced, no freshness record",
			Priority:   ds.Priority,
			StaleDays:  freshness.StaleDays(nil, nil),
			Confidence: 0.2,
		}, nil
	}
	if err != nil {
		return models.Recommendation{}, err
	}

	verdict := s.scorer.Evaluate(fr.StaleDays, ds.Priority, fr.SuccessRate)
	return models.Recommendation{
		DatasetID:         ds.ID,
		ShouldSync:        verdict.RecommendSync,
		Mode:              chooseMode(ds, fr),
		Reason:            verdict.Reason,
		Priority:          ds.Priority,
		StaleDays:         fr.StaleDays,
		EstimatedDuration: fr.AvgSyncDuration,
		Confidence:        confidence(fr),
	}, nil
}

// chooseMode picks full when the local copy is suspect: long staleness,
// large count drift, or a poor recent success rate. Incremental additionally
// requires a last-modified field and a previous successful sync to filter
// against.
func chooseMode(ds models.Dataset, fr *models.FreshnessRecord) models.SyncMode {
	switch {
	case fr.StaleDays > fullResyncStaleDays:
		return models.SyncModeFull
	case fr.CountDrift() > fullResyncDriftFraction:
		return models.SyncModeFull
	case hasHistory(fr) && fr.SuccessRate < fullResyncSuccessFloor:
		return models.SyncModeFull
	case ds.LastModifiedField == "" || fr.LocalLastSync == nil:
		return models.SyncModeFull
	default:
		return models.SyncModeIncremental
	}
}

func hasHistory(fr *models.FreshnessRecord) bool {
	return fr.SuccessRate > 0 || fr.AvgSyncDuration > 0
}

// confidence grades how much the estimated duration and counts can be
// trusted, in [0, 1].
func confidence(fr *models.FreshnessRecord) float64 {
	c := 0.5
	if !fr.CountEstimated {
		c += 0.2
	}
	if hasHistory(fr) {
		c += 0.3 * fr.SuccessRate
	}
	if c > 1 {
		c = 1
	}
	return c
}

// rank orders recommendations: sync candidates first, then priority weight
// descending, then staleDays ascending so nearly-fresh datasets that are
// quick to catch up win priority ties.
func rank(recs []models.Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.ShouldSync != b.ShouldSync {
			return a.ShouldSync
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.StaleDays < b.StaleDays
	})
}

// bucketize assigns each ranked recommendation to its urgency bucket,
// stamping the bucket on the recommendation itself.
func bucketize(recs []models.Recommendation) *Buckets {
	b := &Buckets{}
	for _, rec := range recs {
		rec.Bucket = bucketFor(rec)
		switch rec.Bucket {
		case models.BucketImmediate:
			b.Immediate = append(b.Immediate, rec)
		case models.BucketWithinHour:
			b.WithinHour = append(b.WithinHour, rec)
		case models.BucketToday:
			b.Today = append(b.Today, rec)
		case models.BucketThisWeek:
			b.ThisWeek = append(b.ThisWeek, rec)
		default:
			b.NoAction = append(b.NoAction, rec)
		}
	}
	return b
}

func bucketFor(rec models.Recommendation) models.UrgencyBucket {
	if !rec.ShouldSync {
		return models.BucketNoAction
	}
	switch {
	case rec.Priority > 80 && rec.StaleDays > 7:
		return models.BucketImmediate
	case rec.Priority > 60 && rec.StaleDays > 3:
		return models.BucketWithinHour
	case rec.StaleDays > 1:
		return models.BucketToday
	default:
		return models.BucketThisWeek
	}
}
