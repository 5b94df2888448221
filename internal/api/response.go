// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

// Package api provides the HTTP boundary: routing, request decoding, and
// standardized JSON responses for the ingestion engine.
package api

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/freshlake/freshlake/internal/logging"
)

// APIResponse is the response wrapper for all API endpoints.
type APIResponse struct {
	// Success indicates whether the request was successful
	Success bool `json:"success"`

	// Data contains the response payload (null on error)
	Data interface{} `json:"data,omitempty"`

	// Error contains error details (null on success)
	Error *APIError `json:"error,omitempty"`
}

// APIError represents an error response.
type APIError struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`
}

// Error codes for API responses
const (
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeUpstreamFailed = "UPSTREAM_FAILED"
)

// respondJSON writes a successful response wrapping data.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, &APIResponse{Success: true, Data: data})
}

// respondError writes an error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, &APIResponse{Success: false, Error: &APIError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode API response")
	}
}
