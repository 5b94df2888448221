// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/freshlake/freshlake/internal/config"
	"github.com/freshlake/freshlake/internal/logging"
)

// NewRouter assembles the full HTTP surface.
//
// Global middleware applies to every route; the rate limiter covers only
// /api/v1 so health probes and metrics scrapes stay unthrottled.
func NewRouter(cfg config.ServerConfig, h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws/progress/{sessionID}", h.ProgressSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RequestsPerMinute, time.Minute))

		r.Get("/datasets", h.Datasets)
		r.Post("/sync/{datasetID}", h.TriggerSync)
		r.Get("/sync/{datasetID}/logs", h.SyncLogs)
		r.Get("/freshness", h.FreshnessAll)
		r.Get("/freshness/{datasetID}", h.FreshnessOne)
		r.Post("/freshness/check", h.FreshnessCheck)
		r.Get("/recommendations", h.Recommendations)
		r.Post("/recommendations/execute", h.ExecuteRecommendations)
		r.Get("/progress/{sessionID}", h.Progress)
	})

	return r
}

// requestLogger logs one line per request with status and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("Request handled")
	})
}
