// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

// Package models defines the shared data types of the ingestion engine:
// dataset descriptors, freshness records, sync recommendations, sync logs,
// and live progress state.
package models

import "strings"

// Dataset describes one remote paginated collection tracked by the engine.
//
// Descriptors are immutable once registered: they are built from
// configuration at startup and passed by value through the engine. Mutable
// per-dataset state lives in FreshnessRecord.
type Dataset struct {
	// ID is the stable identifier used as the store key prefix and in API
	// paths (e.g. "crime-reports-2024").
	ID string `json:"id"`

	// Name is the human-readable display name.
	Name string `json:"name"`

	// Endpoint is the full URL of the paginated collection resource
	// (e.g. https://data.example.gov/resource/abcd-1234.json).
	Endpoint string `json:"endpoint"`

	// MetadataEndpoint is the dataset-level metadata URL. When empty it is
	// derived from Endpoint by the fetch client (the catalog convention of
	// /api/views/<id>.json next to /resource/<id>.json).
	MetadataEndpoint string `json:"metadata_endpoint,omitempty"`

	// NaturalKeys are the field names that uniquely identify a record for
	// idempotent upserts. Empty means the sink falls back to whole-record
	// hashing.
	NaturalKeys []string `json:"natural_keys,omitempty"`

	// LastModifiedField is the record field carrying the upstream
	// modification timestamp, used for incremental sync filters.
	LastModifiedField string `json:"last_modified_field,omitempty"`

	// PageSize is the preferred page size for bulk fetches.
	PageSize int `json:"page_size"`

	// Priority is the scheduling weight, 1-100. Higher priority datasets
	// are recommended for sync sooner and drawn first by the scheduler.
	Priority int `json:"priority"`

	// FallbackCount is the static record-count estimate of last resort,
	// used when every live estimation method fails.
	FallbackCount int64 `json:"fallback_count,omitempty"`
}

// OrderClause returns the stable sort order for paginated fetches: the
// natural key fields joined, so offset paging stays deterministic across
// retries. Empty when the dataset declares no natural keys.
func (d Dataset) OrderClause() string {
	if len(d.NaturalKeys) == 0 {
		return ""
	}
	return strings.Join(d.NaturalKeys, ", ")
}

// Record is one raw upstream record. Field mapping is a sink concern; the
// engine moves records through untouched.
type Record map[string]interface{}

// CountEstimate is the result of the record-count estimation fallback chain.
// Method records which rung of the chain produced the number so downstream
// consumers can discount low-confidence estimates.
type CountEstimate struct {
	Count     int64  `json:"count"`
	Method    string `json:"method"`
	Estimated bool   `json:"estimated"`
}

// Count estimation methods, in fallback order.
const (
	CountMethodMetadata  = "metadata"
	CountMethodAggregate = "aggregate"
	CountMethodSampled   = "sampled"
	CountMethodFallback  = "fallback"
)
