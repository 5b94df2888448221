// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/freshlake/freshlake/internal/config"
	"github.com/freshlake/freshlake/internal/logging"
	"github.com/freshlake/freshlake/internal/models"
)

// HTTPServer matches *http.Server's lifecycle methods, so the service can
// be tested with a mock.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService adapts the blocking ListenAndServe pattern to suture's
// context-aware Serve: the listener runs in a goroutine, and context
// cancellation triggers a bounded graceful shutdown.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPServerService wraps an HTTP server as a supervised service.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		// The original context is already canceled; shutdown needs its own.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string { return "http-server" }

// checkSweeper runs the periodic freshness sweep.
type checkSweeper interface {
	CheckAll(ctx context.Context) ([]*models.FreshnessCheck, error)
}

// recommendExecutor runs one scheduled execution pass.
type recommendExecutor interface {
	ExecuteRecommended(ctx context.Context, maxConcurrent int, maxDuration time.Duration) (*models.BatchResult, error)
}

// sessionPruner sweeps finished progress sessions.
type sessionPruner interface {
	PruneTerminal(olderThan time.Duration) int
}

// Terminal progress sessions are kept for this long so late subscribers can
// still read the outcome.
const (
	sessionRetention     = time.Hour
	sessionPruneInterval = 10 * time.Minute
)

// SchedulerLoopService drives the engine's periodic work: the freshness
// sweep on CheckInterval, a scheduled execution pass on ExecuteInterval,
// and progress-session pruning. One initial sweep runs at startup so the
// first execution pass has freshness state to rank.
type SchedulerLoopService struct {
	checker  checkSweeper
	executor recommendExecutor
	pruner   sessionPruner
	cfg      config.SyncConfig
}

// NewSchedulerLoopService wires the periodic engine loop.
func NewSchedulerLoopService(checker checkSweeper, executor recommendExecutor, pruner sessionPruner, cfg config.SyncConfig) *SchedulerLoopService {
	return &SchedulerLoopService{checker: checker, executor: executor, pruner: pruner, cfg: cfg}
}

// Serve implements suture.Service.
func (s *SchedulerLoopService) Serve(ctx context.Context) error {
	s.sweep(ctx)

	checkTicker := time.NewTicker(s.cfg.CheckInterval)
	defer checkTicker.Stop()
	execTicker := time.NewTicker(s.cfg.ExecuteInterval)
	defer execTicker.Stop()
	pruneTicker := time.NewTicker(sessionPruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-checkTicker.C:
			s.sweep(ctx)
		case <-execTicker.C:
			s.execute(ctx)
		case <-pruneTicker.C:
			if s.pruner != nil {
				s.pruner.PruneTerminal(sessionRetention)
			}
		}
	}
}

func (s *SchedulerLoopService) sweep(ctx context.Context) {
	checks, err := s.checker.CheckAll(ctx)
	if err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Freshness sweep failed")
		return
	}
	logging.Info().Int("datasets", len(checks)).Msg("Freshness sweep finished")
}

func (s *SchedulerLoopService) execute(ctx context.Context) {
	result, err := s.executor.ExecuteRecommended(ctx, s.cfg.MaxConcurrent, s.cfg.MaxDuration)
	if err != nil {
		if ctx.Err() == nil {
			logging.Error().Err(err).Msg("Scheduled execution pass failed")
		}
		return
	}
	logging.Info().
		Int("executed", result.Executed).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("Scheduled execution pass finished")
}

func (s *SchedulerLoopService) String() string { return "scheduler-loop" }
