// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

// Package freshness quantifies how current the local copy of each dataset
// is relative to upstream: a 0-100 score from a tiered decay curve, a
// binary stale verdict, and a priority-scaled sync recommendation.
package freshness

import (
	"fmt"
	"math"
	"time"
)

// staleSentinelDays stands in for "maximally stale" when either timestamp
// needed for the comparison is missing (never synced, or upstream never
// reported a modification time).
const staleSentinelDays = 9999

// DefaultStaleThresholdDays is the fixed staleness threshold.
const DefaultStaleThresholdDays = 7

// Verdict is the scorer's full output for one dataset.
type Verdict struct {
	Score         int
	IsStale       bool
	RecommendSync bool
	Reason        string
}

// Scorer derives freshness verdicts from staleness inputs. Pure
// computation, no I/O.
type Scorer struct {
	staleThresholdDays int
}

// NewScorer builds a scorer with the given stale threshold in days.
// Zero or negative applies the default.
func NewScorer(staleThresholdDays int) *Scorer {
	if staleThresholdDays <= 0 {
		staleThresholdDays = DefaultStaleThresholdDays
	}
	return &Scorer{staleThresholdDays: staleThresholdDays}
}

// StaleDays computes how many whole days the local copy lags upstream,
// rounded up. Missing timestamps are maximally stale.
func StaleDays(upstreamLastModified, localLastSync *time.Time) int {
	if upstreamLastModified == nil || localLastSync == nil {
		return staleSentinelDays
	}
	diff := upstreamLastModified.Sub(*localLastSync)
	if diff <= 0 {
		return 0
	}
	return int(math.Ceil(diff.Hours() / 24))
}

// Score maps staleDays to 0-100 through a tiered decay curve. The slopes
// are deliberately not linear: the first days cost little, the second week
// costs a lot, and past three weeks the score crawls to the floor.
//
//	0 days        -> 100
//	1-3 days      -> gentle, 3 pts/day (97..91)
//	4-7 days      -> moderate, 5 pts/day (86..71)
//	8-21 days     -> 3 pts/day from a lower base (60..21)
//	beyond 21     -> floor decay, 1 pt/day, clamped at 0
func Score(staleDays int) int {
	switch {
	case staleDays <= 0:
		return 100
	case staleDays <= 3:
		return 100 - 3*staleDays
	case staleDays <= 7:
		return 91 - 5*(staleDays-3)
	case staleDays <= 21:
		return 60 - 3*(staleDays-8)
	default:
		s := 21 - (staleDays - 21)
		if s < 0 {
			return 0
		}
		return s
	}
}

// RecommendThresholdDays returns the staleness, in days, at which a sync
// is recommended for the given priority weight. Inversely scaled: high
// priority datasets recommend sooner.
func RecommendThresholdDays(priority int) int {
	switch {
	case priority >= 90:
		return 3
	case priority >= 70:
		return 7
	default:
		return 14
	}
}

// Evaluate produces the full verdict. isStale compares against the fixed
// threshold independently of the numeric score; the recommendation uses
// the priority-scaled threshold, and a reliable sync history (success rate
// above 85%) pulls the recommendation one day earlier.
func (s *Scorer) Evaluate(staleDays, priority int, successRate float64) Verdict {
	v := Verdict{
		Score:   Score(staleDays),
		IsStale: staleDays > s.staleThresholdDays,
	}

	threshold := RecommendThresholdDays(priority)
	switch {
	case staleDays > threshold:
		v.RecommendSync = true
		v.Reason = fmt.Sprintf("stale for %d days, above the %d-day threshold for priority %d", staleDays, threshold, priority)
	case successRate > 0.85 && staleDays >= threshold-1 && staleDays > 0:
		v.RecommendSync = true
		v.Reason = fmt.Sprintf("approaching the %d-day threshold with a %.0f%% sync success rate", threshold, successRate*100)
	default:
		v.Reason = fmt.Sprintf("fresh: %d days behind, threshold %d", staleDays, threshold)
	}
	return v
}

// StaleThresholdDays exposes the configured threshold.
func (s *Scorer) StaleThresholdDays() int {
	return s.staleThresholdDays
}
