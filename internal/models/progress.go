// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package models

import "time"

// SessionStatus is the lifecycle state of a sync session.
//
// Transitions: starting -> fetching -> processing -> {completed | failed}.
// Terminal states are never left; only error messages may still be appended.
type SessionStatus string

const (
	SessionStarting   SessionStatus = "starting"
	SessionFetching   SessionStatus = "fetching"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// SyncProgress is the live state of one observable sync session.
//
// Owned exclusively by the progress broadcaster; sync jobs submit updates
// and never hold a reference to the stored object. Sessions live only in
// memory: a process restart loses in-flight progress, which is acceptable
// because the next freshness check re-derives the resync need.
type SyncProgress struct {
	SessionID   string        `json:"session_id"`
	DatasetID   string        `json:"dataset_id"`
	DatasetName string        `json:"dataset_name,omitempty"`
	Status      SessionStatus `json:"status"`

	// EstimatedTotal is the expected record count for percentage math.
	// Zero means unknown; percentage stays at zero until an estimate lands.
	EstimatedTotal int64 `json:"estimated_total"`
	Estimated      bool  `json:"estimated"`

	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Batches   int   `json:"batches"`

	// Percent is derived from Processed/EstimatedTotal on every update,
	// clamped to [0, 100].
	Percent float64 `json:"percent"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Errors accumulates non-fatal error messages in arrival order.
	Errors []string `json:"errors,omitempty"`
}

// Clone returns a deep copy safe to hand to listeners and API responses
// while the broadcaster retains exclusive ownership of the original.
func (p *SyncProgress) Clone() *SyncProgress {
	cp := *p
	if p.Errors != nil {
		cp.Errors = make([]string, len(p.Errors))
		copy(cp.Errors, p.Errors)
	}
	return &cp
}
