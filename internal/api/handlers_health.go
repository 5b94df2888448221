// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package api

import (
	"net/http"
	"time"
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Datasets      int     `json:"datasets"`
	CatalogState  string  `json:"catalog_state"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

const version = "1.0.0"

// Health reports engine health. Degraded while the catalog circuit breaker
// is open: the process serves reads, but syncs and checks will fail fast.
//
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state := "unknown"
	if h.breakerState != nil {
		state = h.breakerState()
	}

	status := "healthy"
	if state == "open" {
		status = "degraded"
	}

	respondJSON(w, http.StatusOK, HealthStatus{
		Status:        status,
		Version:       version,
		Datasets:      len(h.sched.Checker().Datasets()),
		CatalogState:  state,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	})
}
