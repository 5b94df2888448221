// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package freshness

import (
	"context"
	"errors"
	"time"

	"github.com/freshlake/freshlake/internal/fetch"
	"github.com/freshlake/freshlake/internal/logging"
	"github.com/freshlake/freshlake/internal/metrics"
	"github.com/freshlake/freshlake/internal/models"
	"github.com/freshlake/freshlake/internal/store"
)

// recentLogWindow is how many sync logs feed the rolling health stats.
const recentLogWindow = 20

// Checker runs freshness checks: metadata probe, count estimation, scoring,
// and persistence of the resulting freshness record.
type Checker struct {
	fetcher  fetch.Fetcher
	store    *store.Store
	scorer   *Scorer
	datasets []models.Dataset

	// interCheckDelay serializes sweep checks against the same upstream
	// rate budget bulk fetches use.
	interCheckDelay time.Duration
	sampleSize      int
}

// NewChecker wires a checker over the given datasets.
func NewChecker(f fetch.Fetcher, st *store.Store, scorer *Scorer, datasets []models.Dataset, interCheckDelay time.Duration, sampleSize int) *Checker {
	return &Checker{
		fetcher:         f,
		store:           st,
		scorer:          scorer,
		datasets:        datasets,
		interCheckDelay: interCheckDelay,
		sampleSize:      sampleSize,
	}
}

// Datasets returns the tracked dataset descriptors.
func (c *Checker) Datasets() []models.Dataset {
	return c.datasets
}

// Dataset resolves one descriptor by id.
func (c *Checker) Dataset(id string) (models.Dataset, bool) {
	for _, ds := range c.datasets {
		if ds.ID == id {
			return ds, true
		}
	}
	return models.Dataset{}, false
}

// Check runs one freshness check and persists the updated record. A
// metadata outage degrades to the worst-case verdict (score 0, stale)
// instead of failing: an upstream outage must never crash a check sweep.
// The returned error is reserved for context cancellation and store
// failures.
func (c *Checker) Check(ctx context.Context, ds models.Dataset) (*models.FreshnessCheck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	rec, err := c.store.GetFreshness(ds.ID)
	if errors.Is(err, store.ErrNotFound) {
		rec = &models.FreshnessRecord{DatasetID: ds.ID}
	} else if err != nil {
		return nil, err
	}
	rec.Priority = ds.Priority
	rec.CheckedAt = now

	successRate, avgDuration, err := c.store.RecentSyncStats(ds.ID, recentLogWindow)
	if err != nil {
		return nil, err
	}
	rec.SuccessRate = successRate
	rec.AvgSyncDuration = avgDuration

	localCount, err := c.store.CountRecords(ds.ID)
	if err != nil {
		return nil, err
	}
	rec.LocalCount = localCount

	md, mdErr := c.fetcher.Metadata(ctx, ds)
	if mdErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return c.worstCase(ds, rec, mdErr)
	}
	metrics.FreshnessChecks.WithLabelValues("ok").Inc()

	rec.UpstreamLastModified = md.LastModified
	if md.RowCount > 0 {
		rec.UpstreamCount = md.RowCount
		rec.CountMethod = models.CountMethodMetadata
		rec.CountEstimated = false
	} else {
		est := fetch.EstimateCount(ctx, c.fetcher, ds, c.sampleSize)
		rec.UpstreamCount = est.Count
		rec.CountMethod = est.Method
		rec.CountEstimated = est.Estimated
	}

	staleDays := StaleDays(md.LastModified, rec.LocalLastSync)
	verdict := c.scorer.Evaluate(staleDays, ds.Priority, successRate)
	c.applyVerdict(rec, staleDays, verdict, now)

	if err := c.store.PutFreshness(rec); err != nil {
		return nil, err
	}
	metrics.FreshnessScore.WithLabelValues(ds.ID).Set(float64(rec.Score))

	return &models.FreshnessCheck{
		DatasetID:            ds.ID,
		UpstreamLastModified: md.LastModified,
		UpstreamCount:        rec.UpstreamCount,
		CountEstimated:       rec.CountEstimated,
		Score:                rec.Score,
		IsStale:              rec.IsStale,
		RecommendSync:        verdict.RecommendSync,
		StaleDays:            staleDays,
		Reason:               verdict.Reason,
	}, nil
}

// worstCase persists and returns the degraded verdict for a metadata
// outage.
func (c *Checker) worstCase(ds models.Dataset, rec *models.FreshnessRecord, cause error) (*models.FreshnessCheck, error) {
	metrics.FreshnessChecks.WithLabelValues("metadata_unavailable").Inc()
	logging.Warn().Err(cause).Str("dataset", ds.ID).Msg("Metadata unavailable, recording worst-case freshness")

	now := rec.CheckedAt
	verdict := Verdict{
		Score:         0,
		IsStale:       true,
		RecommendSync: true,
		Reason:        "upstream metadata unavailable",
	}
	c.applyVerdict(rec, staleSentinelDays, verdict, now)

	if err := c.store.PutFreshness(rec); err != nil {
		return nil, err
	}
	metrics.FreshnessScore.WithLabelValues(ds.ID).Set(0)

	return &models.FreshnessCheck{
		DatasetID:     ds.ID,
		UpstreamCount: rec.UpstreamCount,
		Score:         0,
		IsStale:       true,
		RecommendSync: true,
		StaleDays:     staleSentinelDays,
		Reason:        verdict.Reason,
	}, nil
}

// applyVerdict writes the derived fields, maintaining the invariant that
// StaleSince is set iff IsStale.
func (c *Checker) applyVerdict(rec *models.FreshnessRecord, staleDays int, v Verdict, now time.Time) {
	rec.Score = v.Score
	rec.StaleDays = staleDays
	switch {
	case v.IsStale && !rec.IsStale:
		since := now
		rec.StaleSince = &since
	case !v.IsStale:
		rec.StaleSince = nil
	}
	rec.IsStale = v.IsStale
}

// CheckAll sweeps every tracked dataset sequentially with the configured
// inter-check delay between probes. Deliberately serialized: checks hit
// the same upstream API as bulk fetches and share its budget. A failing
// dataset does not stop the sweep.
func (c *Checker) CheckAll(ctx context.Context) ([]*models.FreshnessCheck, error) {
	out := make([]*models.FreshnessCheck, 0, len(c.datasets))
	for i, ds := range c.datasets {
		check, err := c.Check(ctx, ds)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			logging.Error().Err(err).Str("dataset", ds.ID).Msg("Freshness check failed")
			continue
		}
		out = append(out, check)

		if i < len(c.datasets)-1 && c.interCheckDelay > 0 {
			select {
			case <-time.After(c.interCheckDelay):
			case <-ctx.Done():
				return out, ctx.Err()
			}
		}
	}
	return out, nil
}

// RecordSyncOutcome folds a finished sync into the freshness record:
// local last-sync timestamp, refreshed counts, and health stats. Called by
// the scheduler after every sync, before the post-sync re-check.
func (c *Checker) RecordSyncOutcome(ds models.Dataset, l *models.SyncLog) error {
	rec, err := c.store.GetFreshness(ds.ID)
	if errors.Is(err, store.ErrNotFound) {
		rec = &models.FreshnessRecord{DatasetID: ds.ID, Priority: ds.Priority}
	} else if err != nil {
		return err
	}

	if l.Status != models.SyncStatusFailed {
		finished := l.FinishedAt.UTC()
		rec.LocalLastSync = &finished
	}
	if count, countErr := c.store.CountRecords(ds.ID); countErr == nil {
		rec.LocalCount = count
	}
	if rate, avg, statsErr := c.store.RecentSyncStats(ds.ID, recentLogWindow); statsErr == nil {
		rec.SuccessRate = rate
		rec.AvgSyncDuration = avg
	}
	return c.store.PutFreshness(rec)
}
