// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/freshlake/freshlake/internal/logging"
	"github.com/freshlake/freshlake/internal/metrics"
	"github.com/freshlake/freshlake/internal/models"
)

// BreakerClient wraps a Fetcher with a circuit breaker so a sustained
// upstream outage stops burning the request budget and retry attempts.
//
// Permanent errors do not count as failures: a 404 means the request is
// wrong, not that the upstream is unhealthy. A rejected request (open
// circuit) surfaces as transient so callers retry later.
type BreakerClient struct {
	inner Fetcher
	cb    *gobreaker.CircuitBreaker[any]
	name  string
}

// NewBreakerClient wraps inner with a breaker that opens after a 60%
// failure rate over at least 10 requests, resets counts every minute, and
// probes recovery after 2 minutes with up to 3 half-open requests.
func NewBreakerClient(inner Fetcher, name string) *BreakerClient {
	if name == "" {
		name = "catalog-api"
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= 0.6 {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", ratio*100).Str("breaker", name).Msg("Opening circuit")
				return true
			}
			return false
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &BreakerClient{inner: inner, cb: cb, name: name}
}

// FetchPage implements Fetcher.
func (b *BreakerClient) FetchPage(ctx context.Context, ds models.Dataset, offset, limit int, q *Query) ([]models.Record, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return b.inner.FetchPage(ctx, ds, offset, limit, q)
	})
	if err != nil {
		return nil, b.wrapRejection(err)
	}
	return castResult[[]models.Record](result)
}

// Metadata implements Fetcher.
func (b *BreakerClient) Metadata(ctx context.Context, ds models.Dataset) (*DatasetMetadata, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return b.inner.Metadata(ctx, ds)
	})
	if err != nil {
		return nil, b.wrapRejection(err)
	}
	return castResult[*DatasetMetadata](result)
}

// State exposes the breaker state for health reporting.
func (b *BreakerClient) State() string {
	return stateToString(b.cb.State())
}

func (b *BreakerClient) wrapRejection(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logging.Warn().Err(err).Str("breaker", b.name).Msg("Request rejected by circuit breaker")
		return &TransientError{Err: err}
	}
	return err
}

// castResult recovers the typed result from the breaker's any-typed
// execution path.
func castResult[T any](result any) (T, error) {
	out, ok := result.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected result type %T from circuit breaker", result)
	}
	return out, nil
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
