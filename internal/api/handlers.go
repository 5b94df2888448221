// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/freshlake/freshlake/internal/config"
	"github.com/freshlake/freshlake/internal/logging"
	"github.com/freshlake/freshlake/internal/models"
	"github.com/freshlake/freshlake/internal/progress"
	"github.com/freshlake/freshlake/internal/scheduler"
	"github.com/freshlake/freshlake/internal/store"
)

// maxRequestBody bounds request body reads.
const maxRequestBody = 1 << 20

// defaultLogLimit is the sync-log page size when the query omits one.
const defaultLogLimit = 20

// Handler carries the engine components the HTTP surface exposes.
type Handler struct {
	sched       *scheduler.Scheduler
	store       *store.Store
	broadcaster progress.Broadcaster
	syncCfg     config.SyncConfig

	// breakerState reports the catalog circuit breaker state for /health.
	breakerState func() string
	startTime    time.Time
}

// NewHandler wires the HTTP handler set.
func NewHandler(sched *scheduler.Scheduler, st *store.Store, b progress.Broadcaster, syncCfg config.SyncConfig, breakerState func() string) *Handler {
	return &Handler{
		sched:        sched,
		store:        st,
		broadcaster:  b,
		syncCfg:      syncCfg,
		breakerState: breakerState,
		startTime:    time.Now(),
	}
}

// decodeBody decodes an optional JSON request body into dst. An empty body
// leaves dst untouched.
func decodeBody(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

// TriggerSync runs one sync synchronously and returns its terminal log.
//
// POST /api/v1/sync/{datasetID}
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req scheduler.SyncRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.DatasetID = chi.URLParam(r, "datasetID")
	if req.Limit < 0 {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be non-negative")
		return
	}

	l, err := h.sched.RunSync(r.Context(), req)
	if l == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "unknown dataset: "+req.DatasetID)
		return
	}
	if err != nil {
		logging.Warn().Err(err).Str("dataset", req.DatasetID).Msg("Triggered sync failed")
		if l.Status == models.SyncStatusFailed {
			// Nothing landed; the persisted log carries the detail.
			respondError(w, http.StatusBadGateway, ErrCodeUpstreamFailed, "sync failed: "+err.Error())
			return
		}
	}
	// A partial sync still returns its log: records were persisted, and the
	// log itself carries the fetch error.
	respondJSON(w, http.StatusOK, l)
}

// Datasets lists the tracked dataset descriptors.
//
// GET /api/v1/datasets
func (h *Handler) Datasets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.sched.Checker().Datasets())
}

// FreshnessAll returns every persisted freshness record.
//
// GET /api/v1/freshness
func (h *Handler) FreshnessAll(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListFreshness()
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// FreshnessOne returns one dataset's freshness record.
//
// GET /api/v1/freshness/{datasetID}
func (h *Handler) FreshnessOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "datasetID")
	rec, err := h.store.GetFreshness(id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "no freshness record for dataset: "+id)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// FreshnessCheck runs a live freshness check: one dataset when the body
// names one, otherwise the full sweep.
//
// POST /api/v1/freshness/check
func (h *Handler) FreshnessCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DatasetID string `json:"dataset_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body: "+err.Error())
		return
	}

	checker := h.sched.Checker()
	if req.DatasetID != "" {
		ds, ok := checker.Dataset(req.DatasetID)
		if !ok {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "unknown dataset: "+req.DatasetID)
			return
		}
		check, err := checker.Check(r.Context(), ds)
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, check)
		return
	}

	checks, err := checker.CheckAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, checks)
}

// Recommendations returns the current urgency buckets.
//
// GET /api/v1/recommendations
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.sched.GenerateRecommendations(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, buckets)
}

// ExecuteRecommendations runs an execution pass over the recommended syncs.
//
// POST /api/v1/recommendations/execute
func (h *Handler) ExecuteRecommendations(w http.ResponseWriter, r *http.Request) {
	req := struct {
		MaxConcurrent      int `json:"max_concurrent"`
		MaxDurationSeconds int `json:"max_duration_seconds"`
	}{
		MaxConcurrent:      h.syncCfg.MaxConcurrent,
		MaxDurationSeconds: int(h.syncCfg.MaxDuration.Seconds()),
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.MaxConcurrent < 1 || req.MaxDurationSeconds < 1 {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "max_concurrent and max_duration_seconds must be positive")
		return
	}

	result, err := h.sched.ExecuteRecommended(r.Context(), req.MaxConcurrent, time.Duration(req.MaxDurationSeconds)*time.Second)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Progress returns the current snapshot of a sync session.
//
// GET /api/v1/progress/{sessionID}
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	p, ok := h.broadcaster.GetProgress(id)
	if !ok {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "unknown session: "+id)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// SyncLogs returns recent sync logs for a dataset, newest first.
//
// GET /api/v1/sync/{datasetID}/logs?limit=N
func (h *Handler) SyncLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "datasetID")
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	logs, err := h.store.ListSyncLogs(id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// ProgressSocket upgrades to the live progress subscription channel.
//
// GET /ws/progress/{sessionID}
func (h *Handler) ProgressSocket(w http.ResponseWriter, r *http.Request) {
	progress.ServeWS(h.broadcaster, w, r, chi.URLParam(r, "sessionID"))
}
