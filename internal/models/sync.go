// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package models

import "time"

// SyncMode selects how a dataset sync pulls upstream data.
type SyncMode string

const (
	// SyncModeFull refetches the entire collection from offset zero.
	SyncModeFull SyncMode = "full"

	// SyncModeIncremental filters on the dataset's last-modified field,
	// pulling only records changed since the local last sync.
	SyncModeIncremental SyncMode = "incremental"
)

// UrgencyBucket classifies how soon a recommended sync should run.
type UrgencyBucket string

const (
	BucketImmediate  UrgencyBucket = "immediate"
	BucketWithinHour UrgencyBucket = "within_hour"
	BucketToday      UrgencyBucket = "today"
	BucketThisWeek   UrgencyBucket = "this_week"
	BucketNoAction   UrgencyBucket = "no_action"
)

// Recommendation is an ephemeral scheduling decision for one dataset.
// Recomputed on every scheduling pass and never mutated in place.
type Recommendation struct {
	DatasetID         string        `json:"dataset_id"`
	ShouldSync        bool          `json:"should_sync"`
	Mode              SyncMode      `json:"mode"`
	Bucket            UrgencyBucket `json:"bucket"`
	Reason            string        `json:"reason"`
	Priority          int           `json:"priority"`
	StaleDays         int           `json:"stale_days"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	Confidence        float64       `json:"confidence"` // 0-1
}

// SyncStatus is the terminal outcome of one dataset sync.
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncLog is the terminal record written for every sync, regardless of
// outcome. A sync is never silently dropped: even an aborted job leaves a
// log with a failed status and error message.
type SyncLog struct {
	DatasetID        string     `json:"dataset_id"`
	SessionID        string     `json:"session_id,omitempty"`
	Mode             SyncMode   `json:"mode"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       time.Time  `json:"finished_at"`
	Batches          int        `json:"batches"`
	RecordsProcessed int64      `json:"records_processed"`
	RecordsAdded     int64      `json:"records_added"`
	RecordsFailed    int64      `json:"records_failed"`
	Status           SyncStatus `json:"status"`
	Error            string     `json:"error,omitempty"`
}

// Duration returns the wall-clock duration of the sync.
func (l *SyncLog) Duration() time.Duration {
	return l.FinishedAt.Sub(l.StartedAt)
}

// JobResult is one entry of a scheduled execution batch.
type JobResult struct {
	DatasetID string        `json:"dataset_id"`
	Bucket    UrgencyBucket `json:"bucket"`
	Status    SyncStatus    `json:"status"`
	Skipped   bool          `json:"skipped"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// BatchResult summarizes one ExecuteRecommended pass.
type BatchResult struct {
	Executed int         `json:"executed"`
	Failed   int         `json:"failed"`
	Skipped  int         `json:"skipped"`
	Results  []JobResult `json:"results"`
}
