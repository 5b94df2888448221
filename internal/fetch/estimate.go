// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package fetch

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/freshlake/freshlake/internal/logging"
	"github.com/freshlake/freshlake/internal/metrics"
	"github.com/freshlake/freshlake/internal/models"
)

// maxCountProbes bounds the sampled-count probe so estimation never burns
// more than a handful of budget slots.
const maxCountProbes = 6

// EstimateCount resolves the dataset record count through the fallback
// chain, in order: metadata row count, an aggregate count query, offset
// extrapolation from bounded sample pages, the configured static fallback.
// Each rung's failure degrades to the next; the result carries provenance
// so consumers can discount low-confidence numbers. Never returns an error.
func EstimateCount(ctx context.Context, f Fetcher, ds models.Dataset, sampleSize int) models.CountEstimate {
	if md, err := f.Metadata(ctx, ds); err == nil && md.RowCount > 0 {
		metrics.CountEstimates.WithLabelValues(models.CountMethodMetadata).Inc()
		return models.CountEstimate{Count: md.RowCount, Method: models.CountMethodMetadata}
	} else if err != nil {
		logging.Debug().Err(err).Str("dataset", ds.ID).Msg("Metadata count unavailable")
	}

	if n, err := aggregateCount(ctx, f, ds); err == nil {
		metrics.CountEstimates.WithLabelValues(models.CountMethodAggregate).Inc()
		return models.CountEstimate{Count: n, Method: models.CountMethodAggregate}
	} else {
		logging.Debug().Err(err).Str("dataset", ds.ID).Msg("Aggregate count unavailable")
	}

	if n, ok := sampledCount(ctx, f, ds, sampleSize); ok {
		metrics.CountEstimates.WithLabelValues(models.CountMethodSampled).Inc()
		return models.CountEstimate{Count: n, Method: models.CountMethodSampled, Estimated: true}
	}

	metrics.CountEstimates.WithLabelValues(models.CountMethodFallback).Inc()
	logging.Warn().Str("dataset", ds.ID).Int64("fallback", ds.FallbackCount).Msg("All count estimation methods failed, using static fallback")
	return models.CountEstimate{Count: ds.FallbackCount, Method: models.CountMethodFallback, Estimated: true}
}

// aggregateCount asks the collection endpoint itself for a count.
func aggregateCount(ctx context.Context, f Fetcher, ds models.Dataset) (int64, error) {
	recs, err := f.FetchPage(ctx, ds, 0, 1, &Query{Select: []string{"count(*) AS total"}})
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, errors.New("empty aggregate response")
	}
	return recordInt64(recs[0], "total")
}

// sampledCount probes pages at geometrically growing offsets. A short
// non-empty page pins the count exactly at offset plus length; an empty
// page only bounds it, so the estimate falls to the midpoint between the
// last proven lower bound and the empty offset. Bounded to maxCountProbes
// requests, so very large datasets fall through to the static fallback.
func sampledCount(ctx context.Context, f Fetcher, ds models.Dataset, sampleSize int) (int64, bool) {
	if sampleSize <= 0 {
		sampleSize = 100
	}

	lower := 0
	offset := 0
	for probe := 0; probe < maxCountProbes; probe++ {
		recs, err := f.FetchPage(ctx, ds, offset, sampleSize, nil)
		if err != nil {
			logging.Debug().Err(err).Str("dataset", ds.ID).Int("offset", offset).Msg("Sampled count probe failed")
			return 0, false
		}
		if len(recs) == 0 {
			if offset == 0 {
				return 0, true
			}
			return int64((lower + offset) / 2), true
		}
		if len(recs) < sampleSize {
			return int64(offset + len(recs)), true
		}
		lower = offset + len(recs)
		if offset == 0 {
			offset = sampleSize * 4
		} else {
			offset *= 4
		}
	}
	return 0, false
}

// recordInt64 reads a numeric field that upstreams deliver inconsistently
// as a string, a JSON number, or a float.
func recordInt64(r models.Record, field string) (int64, error) {
	switch v := r[field].(type) {
	case string:
		return strconv.ParseInt(v, 10, 64)
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case int64:
		return v, nil
	}
	return 0, fmt.Errorf("field %q missing or non-numeric", field)
}
