// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package models

import "time"

// FreshnessRecord is the mutable per-dataset state tracked by the engine.
//
// Created on the first freshness check, updated after every check or sync,
// never deleted while the dataset is tracked.
//
// Invariant: StaleSince is non-nil iff IsStale is true, and Score is always
// derived from the same timestamps stored on the record.
type FreshnessRecord struct {
	DatasetID string `json:"dataset_id"`

	// Upstream state from the last metadata probe.
	UpstreamLastModified *time.Time `json:"upstream_last_modified,omitempty"`
	UpstreamCount        int64      `json:"upstream_count"`
	CountMethod          string     `json:"count_method,omitempty"`
	CountEstimated       bool       `json:"count_estimated"`

	// Local state from the last completed sync.
	LocalLastSync *time.Time `json:"local_last_sync,omitempty"`
	LocalCount    int64      `json:"local_count"`

	// Derived freshness verdict.
	Score      int        `json:"score"` // 0-100
	StaleDays  int        `json:"stale_days"`
	IsStale    bool       `json:"is_stale"`
	StaleSince *time.Time `json:"stale_since,omitempty"`

	// Rolling sync health, maintained from recent sync logs.
	SuccessRate     float64       `json:"success_rate"`
	AvgSyncDuration time.Duration `json:"avg_sync_duration"`

	// Priority mirrors the descriptor weight so the scheduler can rank
	// records without re-resolving configuration.
	Priority int `json:"priority"`

	CheckedAt time.Time `json:"checked_at"`
}

// CountDrift returns the relative difference between the upstream count
// estimate and the local count, in [0, 1]. Reported for human inspection
// only; the scorer deliberately excludes drift from the score because
// upstream estimates are not reliable enough (the source's own data-quality
// filtering shifts counts without the data being stale).
func (r *FreshnessRecord) CountDrift() float64 {
	if r.UpstreamCount <= 0 {
		return 0
	}
	diff := r.UpstreamCount - r.LocalCount
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) / float64(r.UpstreamCount)
}

// FreshnessCheck is the outcome of a single checkFreshness call, exposed at
// the API boundary alongside the persisted record.
type FreshnessCheck struct {
	DatasetID            string     `json:"dataset_id"`
	UpstreamLastModified *time.Time `json:"upstream_last_modified,omitempty"`
	UpstreamCount        int64      `json:"upstream_count"`
	CountEstimated       bool       `json:"count_estimated"`
	Score                int        `json:"score"`
	IsStale              bool       `json:"is_stale"`
	RecommendSync        bool       `json:"recommend_sync"`
	StaleDays            int        `json:"stale_days"`
	Reason               string     `json:"reason,omitempty"`
}
