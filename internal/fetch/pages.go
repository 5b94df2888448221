// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/freshlake/freshlake/internal/config"
	"github.com/freshlake/freshlake/internal/logging"
	"github.com/freshlake/freshlake/internal/metrics"
	"github.com/freshlake/freshlake/internal/models"
)

// BatchProgress rides along with every onBatch call so sinks can report
// position without tracking it themselves.
type BatchProgress struct {
	// Current is the number of records delivered including this batch.
	Current int64
	// EstimatedTotal is the expected record count, zero when unknown.
	EstimatedTotal int64
	// Estimated marks a low-confidence total.
	Estimated bool
}

// BatchFunc receives one fetched page. The next page is not requested until
// the callback returns: this is the backpressure point that bounds memory
// and keeps the sink from being overwhelmed. Returning an error aborts the
// fetch.
type BatchFunc func(ctx context.Context, records []models.Record, offset int, progress BatchProgress) error

// FetchOptions tunes one FetchAll run.
type FetchOptions struct {
	// MaxRecords stops the fetch once this many records are delivered.
	// Zero means unbounded.
	MaxRecords int64

	// MaxBatches overrides the configured safety cap. Zero keeps the
	// configured value.
	MaxBatches int

	// StartOffset begins paging at the given offset.
	StartOffset int

	// EstimatedTotal and Estimated seed the per-batch progress.
	EstimatedTotal int64
	Estimated      bool
}

// FetchStats is the terminal accounting of one FetchAll run.
type FetchStats struct {
	Batches  int
	Records  int64
	Duration time.Duration

	// Complete is true when the upstream end of data was reached, false
	// when a cap (records, batches) stopped the fetch early.
	Complete bool
}

// Pager drives the sequential page loop for one dataset at a time. The loop
// is deliberately sequential within a dataset; concurrency lives across
// datasets in the scheduler.
type Pager struct {
	fetcher Fetcher
	cfg     config.SyncConfig
	mem     *MemoryGuard
}

// NewPager builds a page loop around any Fetcher.
func NewPager(f Fetcher, cfg config.SyncConfig) *Pager {
	return &Pager{
		fetcher: f,
		cfg:     cfg,
		mem:     NewMemoryGuard(cfg.MemorySoftLimit, cfg.MemoryHardLimit),
	}
}

// FetchAll pages through the dataset until end of data or a cap, invoking
// onBatch for every non-empty page before requesting the next one.
//
// Termination: a short page (below pageSize * EndOfDataFraction), the
// MaxRecords bound, or the MaxBatches safety cap. Memory pressure above the
// hard ceiling aborts with ErrMemoryPressure; above the soft limit the
// inter-page delay is scaled up instead.
func (p *Pager) FetchAll(ctx context.Context, ds models.Dataset, q *Query, onBatch BatchFunc, opts FetchOptions) (*FetchStats, error) {
	start := time.Now()
	stats := &FetchStats{}

	maxBatches := opts.MaxBatches
	if maxBatches <= 0 {
		maxBatches = p.cfg.MaxBatches
	}

	offset := opts.StartOffset
	for {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}
		if stats.Batches >= maxBatches {
			logging.Warn().Str("dataset", ds.ID).Int("batches", stats.Batches).Msg("Batch safety cap reached, stopping fetch")
			break
		}

		level := p.mem.Level()
		if level == PressureHard {
			metrics.MemoryPressureAborts.Inc()
			logging.Error().Str("dataset", ds.ID).Uint64("usage", p.mem.Usage()).Msg("Memory hard limit exceeded, aborting fetch")
			stats.Duration = time.Since(start)
			return stats, ErrMemoryPressure
		}

		limit := ds.PageSize
		if opts.MaxRecords > 0 {
			if remaining := opts.MaxRecords - stats.Records; remaining < int64(limit) {
				limit = int(remaining)
			}
		}
		if limit <= 0 {
			stats.Complete = true
			break
		}

		records, err := p.fetcher.FetchPage(ctx, ds, offset, limit, q)
		if err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}

		stats.Batches++
		stats.Records += int64(len(records))

		if len(records) > 0 {
			progress := BatchProgress{
				Current:        stats.Records,
				EstimatedTotal: opts.EstimatedTotal,
				Estimated:      opts.Estimated,
			}
			if err := onBatch(ctx, records, offset, progress); err != nil {
				stats.Duration = time.Since(start)
				return stats, fmt.Errorf("batch callback at offset %d: %w", offset, err)
			}
		}
		offset += len(records)

		if len(records) < shortPageFloor(limit, p.cfg.EndOfDataFraction) {
			stats.Complete = true
			break
		}
		if opts.MaxRecords > 0 && stats.Records >= opts.MaxRecords {
			break
		}

		select {
		case <-time.After(p.pageDelay(len(records), limit, level)):
		case <-ctx.Done():
			stats.Duration = time.Since(start)
			return stats, ctx.Err()
		}
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// shortPageFloor is the record count below which a page signals end of
// data. Not a zero-check: some upstreams pad pages until the exact end.
// Never below 1, so an empty page always terminates even at tiny page
// sizes where the fraction truncates to zero.
func shortPageFloor(limit int, fraction float64) int {
	if fraction <= 0 || fraction > 1 {
		fraction = 0.5
	}
	floor := int(float64(limit) * fraction)
	if floor < 1 {
		floor = 1
	}
	return floor
}

// pageDelay scales the floor delay by how full the page was, and further
// under soft memory pressure. The hourly budget itself is enforced by the
// client's shared limiter; this delay only smooths sink load.
func (p *Pager) pageDelay(batch, limit int, level PressureLevel) time.Duration {
	d := p.cfg.PageDelayFloor
	if limit > 0 && batch > 0 {
		d += time.Duration(float64(d) * float64(batch) / float64(limit))
	}
	if level == PressureSoft {
		d *= 4
	}
	return d
}
