// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/freshlake/freshlake/internal/logging"
	"github.com/freshlake/freshlake/internal/metrics"
	"github.com/freshlake/freshlake/internal/models"
)

// Draw limits per execution pass. Only the most urgent work runs; the rest
// waits for the next pass, so one pass can never monopolize the upstream
// budget.
const (
	immediateDraw  = 3
	withinHourDraw = 2

	// timeBudgetFraction is the point in the wall-clock budget past which
	// no new job starts. A job skipped here is counted, not silently
	// dropped; starting it and killing it mid-flight would waste the
	// upstream requests already spent.
	timeBudgetFraction = 0.8
)

// ExecuteRecommended generates recommendations and runs the most urgent
// ones: up to 3 from the immediate bucket, then up to 2 from within-hour.
// Jobs run in fixed-size chunks of at most maxConcurrent, each with its own
// independent sequential page loop. A failing job never aborts the others;
// the whole batch completes and reports per-job results.
func (s *Scheduler) ExecuteRecommended(ctx context.Context, maxConcurrent int, maxDuration time.Duration) (*models.BatchResult, error) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	buckets, err := s.GenerateRecommendations(ctx)
	if err != nil {
		return nil, err
	}
	jobs := draw(buckets)

	result := &models.BatchResult{Results: make([]models.JobResult, 0, len(jobs))}
	if len(jobs) == 0 {
		logging.Debug().Msg("No sync recommendations to execute")
		return result, nil
	}

	start := time.Now()
	cutoff := time.Duration(float64(maxDuration) * timeBudgetFraction)

	for chunkStart := 0; chunkStart < len(jobs); chunkStart += maxConcurrent {
		chunk := jobs[chunkStart:min(chunkStart+maxConcurrent, len(jobs))]
		outcomes := make([]models.JobResult, len(chunk))

		var wg sync.WaitGroup
		for i, rec := range chunk {
			if ctx.Err() != nil || time.Since(start) >= cutoff {
				outcomes[i] = models.JobResult{DatasetID: rec.DatasetID, Bucket: rec.Bucket, Skipped: true}
				continue
			}
			wg.Add(1)
			go func(i int, rec models.Recommendation) {
				defer wg.Done()
				outcomes[i] = s.runJob(ctx, rec)
			}(i, rec)
		}
		wg.Wait()

		for _, out := range outcomes {
			result.Results = append(result.Results, out)
			switch {
			case out.Skipped:
				result.Skipped++
				metrics.SchedulerJobs.WithLabelValues("skipped").Inc()
			case out.Status == models.SyncStatusFailed:
				result.Failed++
				metrics.SchedulerJobs.WithLabelValues("failed").Inc()
			default:
				result.Executed++
				metrics.SchedulerJobs.WithLabelValues("executed").Inc()
			}
		}
	}

	logging.Info().
		Int("executed", result.Executed).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Dur("elapsed", time.Since(start)).
		Msg("Scheduled execution pass finished")
	return result, nil
}

// runJob runs one recommended sync and folds the outcome into a JobResult.
func (s *Scheduler) runJob(ctx context.Context, rec models.Recommendation) models.JobResult {
	jobStart := time.Now()
	l, err := s.RunSync(ctx, SyncRequest{DatasetID: rec.DatasetID, FullSync: rec.Mode == models.SyncModeFull})

	out := models.JobResult{
		DatasetID: rec.DatasetID,
		Bucket:    rec.Bucket,
		Duration:  time.Since(jobStart),
	}
	switch {
	case l != nil:
		out.Status = l.Status
		out.Error = l.Error
	default:
		out.Status = models.SyncStatusFailed
		if err != nil {
			out.Error = err.Error()
		}
	}
	if err != nil {
		logging.Warn().Err(err).Str("dataset", rec.DatasetID).Msg("Scheduled sync failed")
	}
	return out
}

// draw selects the jobs for one pass: the front of the immediate bucket,
// then the front of within-hour.
func draw(b *Buckets) []models.Recommendation {
	jobs := make([]models.Recommendation, 0, immediateDraw+withinHourDraw)
	jobs = append(jobs, b.Immediate[:min(immediateDraw, len(b.Immediate))]...)
	jobs = append(jobs, b.WithinHour[:min(withinHourDraw, len(b.WithinHour))]...)
	return jobs
}
