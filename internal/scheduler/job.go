// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/freshlake/freshlake/internal/fetch"
	"github.com/freshlake/freshlake/internal/logging"
	"github.com/freshlake/freshlake/internal/metrics"
	"github.com/freshlake/freshlake/internal/models"
	"github.com/freshlake/freshlake/internal/progress"
	"github.com/freshlake/freshlake/internal/sink"
)

// incrementalTimeFormat is the catalog's floating timestamp literal used in
// filter expressions.
const incrementalTimeFormat = "2006-01-02T15:04:05"

// SyncRequest describes one sync job.
type SyncRequest struct {
	DatasetID string `json:"dataset_id"`

	// FullSync forces a full refetch regardless of the mode decision.
	FullSync bool `json:"full_sync"`

	// Limit caps the records pulled; zero means unbounded.
	Limit int64 `json:"limit"`

	// SessionID names the progress session. Empty gets a generated id.
	SessionID string `json:"session_id"`
}

// RunSync executes one dataset sync: estimate, paginated fetch through the
// record sink with live progress, then the terminal sync log. The log is
// written for every outcome; a sync is never silently dropped. The returned
// error reflects the fetch outcome, and the log is non-nil whenever the
// dataset resolved.
func (s *Scheduler) RunSync(ctx context.Context, req SyncRequest) (*models.SyncLog, error) {
	ds, ok := s.checker.Dataset(req.DatasetID)
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q", req.DatasetID)
	}
	started := time.Now().UTC()

	mode := s.resolveMode(ds, req)
	est := fetch.EstimateCount(ctx, s.fetcher, ds, s.sampleSize)

	p := s.broadcaster.CreateSession(req.SessionID, ds, est.Count, est.Estimated)
	sessionID := p.SessionID

	logging.Info().
		Str("dataset", ds.ID).
		Str("session", sessionID).
		Str("mode", string(mode)).
		Int64("estimated_total", est.Count).
		Msg("Sync started")

	snk := s.sinks.For(ds)
	l := &models.SyncLog{
		DatasetID: ds.ID,
		SessionID: sessionID,
		Mode:      mode,
		StartedAt: started,
	}

	_, _ = s.broadcaster.UpdateProgress(sessionID, progress.Update{Status: models.SessionFetching})
	stats, fetchErr := s.pager.FetchAll(ctx, ds, s.buildQuery(ds, mode), s.batchHandler(sessionID, snk, l), fetch.FetchOptions{
		MaxRecords:     req.Limit,
		EstimatedTotal: est.Count,
		Estimated:      est.Estimated,
	})

	l.FinishedAt = time.Now().UTC()
	if stats != nil {
		l.Batches = stats.Batches
	}
	if counter, ok := snk.(sink.AddedCounter); ok {
		l.RecordsAdded = counter.Added()
	}
	l.Status = syncStatus(fetchErr, l)
	if fetchErr != nil {
		l.Error = fetchErr.Error()
	}

	s.finishSync(ctx, ds, l, sessionID, fetchErr)
	return l, fetchErr
}

// resolveMode applies the request override, then the freshness-driven mode
// decision.
func (s *Scheduler) resolveMode(ds models.Dataset, req SyncRequest) models.SyncMode {
	if req.FullSync {
		return models.SyncModeFull
	}
	fr, err := s.store.GetFreshness(ds.ID)
	if err != nil {
		return models.SyncModeFull
	}
	return chooseMode(ds, fr)
}

// buildQuery returns the incremental filter for incremental mode, nil for a
// full fetch. Incremental mode is only chosen when the last-modified field
// and local last-sync timestamp both exist.
func (s *Scheduler) buildQuery(ds models.Dataset, mode models.SyncMode) *fetch.Query {
	if mode != models.SyncModeIncremental {
		return nil
	}
	fr, err := s.store.GetFreshness(ds.ID)
	if err != nil || fr.LocalLastSync == nil {
		return nil
	}
	return &fetch.Query{
		Where: fmt.Sprintf("%s > '%s'", ds.LastModifiedField, fr.LocalLastSync.UTC().Format(incrementalTimeFormat)),
	}
}

// batchHandler persists each page through the sink and reports progress.
// The sink call happens before the progress update so reported counts only
// cover persisted records. A sink failure aborts the fetch; the records of
// the failing batch are tallied as failed.
func (s *Scheduler) batchHandler(sessionID string, snk sink.RecordSink, l *models.SyncLog) fetch.BatchFunc {
	return func(ctx context.Context, records []models.Record, offset int, prog fetch.BatchProgress) error {
		if err := snk.OnBatch(ctx, records, offset, prog); err != nil {
			l.RecordsFailed += int64(len(records))
			_, _ = s.broadcaster.UpdateProgress(sessionID, progress.Update{
				Failed:    &l.RecordsFailed,
				AddErrors: []string{fmt.Sprintf("batch at offset %d: %v", offset, err)},
			})
			return err
		}

		l.RecordsProcessed += int64(len(records))
		batches := l.Batches + 1
		l.Batches = batches
		_, _ = s.broadcaster.UpdateProgress(sessionID, progress.Update{
			Status:         models.SessionProcessing,
			EstimatedTotal: &prog.EstimatedTotal,
			Estimated:      &prog.Estimated,
			Processed:      &l.RecordsProcessed,
			Batches:        &batches,
		})
		return nil
	}
}

// finishSync writes the terminal log, folds the outcome into the freshness
// record, closes the progress session, and re-checks freshness after a
// completed sync.
func (s *Scheduler) finishSync(ctx context.Context, ds models.Dataset, l *models.SyncLog, sessionID string, fetchErr error) {
	if err := s.store.AppendSyncLog(l); err != nil {
		logging.Error().Err(err).Str("dataset", ds.ID).Msg("Failed to append sync log")
	}
	if err := s.checker.RecordSyncOutcome(ds, l); err != nil {
		logging.Error().Err(err).Str("dataset", ds.ID).Msg("Failed to record sync outcome")
	}
	metrics.RecordSync(ds.ID, string(l.Mode), l.Duration(), l.RecordsProcessed, l.RecordsAdded, l.RecordsFailed)

	terminal := models.SessionCompleted
	var errs []string
	if fetchErr != nil {
		terminal = models.SessionFailed
		errs = []string{fetchErr.Error()}
	}
	_, _ = s.broadcaster.UpdateProgress(sessionID, progress.Update{Status: terminal, AddErrors: errs})

	logging.Info().
		Str("dataset", ds.ID).
		Str("session", sessionID).
		Str("status", string(l.Status)).
		Int64("processed", l.RecordsProcessed).
		Int64("added", l.RecordsAdded).
		Int64("failed", l.RecordsFailed).
		Dur("duration", l.Duration()).
		Msg("Sync finished")

	// Re-derive freshness from the new local state. Best effort: the next
	// sweep repairs a failed re-check.
	if fetchErr == nil && ctx.Err() == nil {
		if _, err := s.checker.Check(ctx, ds); err != nil {
			logging.Warn().Err(err).Str("dataset", ds.ID).Msg("Post-sync freshness check failed")
		}
	}
}

// syncStatus derives the terminal status: failed when nothing landed,
// partial when some records landed but the fetch errored or tallied
// failures.
func syncStatus(fetchErr error, l *models.SyncLog) models.SyncStatus {
	switch {
	case fetchErr == nil && l.RecordsFailed == 0:
		return models.SyncStatusSuccess
	case l.RecordsProcessed > 0:
		return models.SyncStatusPartial
	default:
		return models.SyncStatusFailed
	}
}
