// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

// Package progress tracks live sync sessions and fans updates out to
// subscribers. Sessions live only in memory: a process restart loses
// in-flight progress, and the next freshness check re-derives the resync
// need. The Broadcaster interface exists so a scaled deployment can swap
// the in-memory map for a shared broker without touching callers.
package progress

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/freshlake/freshlake/internal/logging"
	"github.com/freshlake/freshlake/internal/metrics"
	"github.com/freshlake/freshlake/internal/models"
)

// ErrSessionNotFound is returned for updates against unknown sessions.
var ErrSessionNotFound = errors.New("progress: session not found")

// Listener receives a snapshot after every update of a session. Called
// synchronously at update time; listeners that need to block must hand the
// snapshot off to their own goroutine.
type Listener func(p *models.SyncProgress)

// Update is a partial state change. Nil fields keep the current value.
// Counters are absolute, not deltas.
type Update struct {
	Status         models.SessionStatus
	EstimatedTotal *int64
	Estimated      *bool
	Processed      *int64
	Failed         *int64
	Batches        *int
	AddErrors      []string
}

// Broadcaster is the session-keyed progress store.
type Broadcaster interface {
	CreateSession(sessionID string, ds models.Dataset, estimatedTotal int64, estimated bool) *models.SyncProgress
	UpdateProgress(sessionID string, u Update) (*models.SyncProgress, error)
	GetProgress(sessionID string) (*models.SyncProgress, bool)
	AddListener(sessionID string, fn Listener) uint64
	RemoveListener(sessionID string, id uint64)
	CleanupSession(sessionID string)
}

type sessionState struct {
	progress  *models.SyncProgress
	listeners map[uint64]Listener
}

// MemoryBroadcaster is the single-process Broadcaster. Safe for concurrent
// use; the map is guarded by one mutex, and fan-out happens outside the
// lock against an id-ordered listener snapshot so delivery order is
// deterministic.
type MemoryBroadcaster struct {
	mu         sync.RWMutex
	sessions   map[string]*sessionState
	listenerID atomic.Uint64
}

// NewMemoryBroadcaster builds an empty broadcaster.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{
		sessions: make(map[string]*sessionState),
	}
}

// CreateSession registers a new session in the starting state. An empty
// sessionID gets a generated one; creating an existing session id replaces
// the previous session outright.
func (b *MemoryBroadcaster) CreateSession(sessionID string, ds models.Dataset, estimatedTotal int64, estimated bool) *models.SyncProgress {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := time.Now().UTC()
	p := &models.SyncProgress{
		SessionID:      sessionID,
		DatasetID:      ds.ID,
		DatasetName:    ds.Name,
		Status:         models.SessionStarting,
		EstimatedTotal: estimatedTotal,
		Estimated:      estimated,
		StartedAt:      now,
		UpdatedAt:      now,
	}

	b.mu.Lock()
	b.sessions[sessionID] = &sessionState{
		progress:  p,
		listeners: make(map[uint64]Listener),
	}
	metrics.ProgressSessions.Set(float64(len(b.sessions)))
	b.mu.Unlock()

	logging.Debug().Str("session", sessionID).Str("dataset", ds.ID).Msg("Sync session created")
	return p.Clone()
}

// UpdateProgress merges the partial update, recomputes the percentage, and
// pushes the new snapshot to every current listener synchronously.
// Terminal sessions accept only appended errors; all other fields of a
// late update are ignored.
func (b *MemoryBroadcaster) UpdateProgress(sessionID string, u Update) (*models.SyncProgress, error) {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return nil, ErrSessionNotFound
	}

	p := s.progress
	if p.Status.Terminal() {
		p.Errors = append(p.Errors, u.AddErrors...)
	} else {
		if u.Status != "" {
			p.Status = u.Status
		}
		if u.EstimatedTotal != nil {
			p.EstimatedTotal = *u.EstimatedTotal
		}
		if u.Estimated != nil {
			p.Estimated = *u.Estimated
		}
		if u.Processed != nil {
			p.Processed = *u.Processed
		}
		if u.Failed != nil {
			p.Failed = *u.Failed
		}
		if u.Batches != nil {
			p.Batches = *u.Batches
		}
		p.Errors = append(p.Errors, u.AddErrors...)
		p.Percent = percentage(p.Processed, p.EstimatedTotal)
	}
	p.UpdatedAt = time.Now().UTC()

	snapshot := p.Clone()
	listeners := snapshotListeners(s.listeners)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return snapshot, nil
}

// GetProgress returns a snapshot of the session state.
func (b *MemoryBroadcaster) GetProgress(sessionID string) (*models.SyncProgress, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return s.progress.Clone(), true
}

// AddListener attaches a listener to the session and returns its handle.
// Listening on a session that does not exist yet is allowed: the session
// is materialized empty so a subscriber can attach before the job starts.
func (b *MemoryBroadcaster) AddListener(sessionID string, fn Listener) uint64 {
	id := b.listenerID.Add(1)

	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		s = &sessionState{
			progress:  &models.SyncProgress{SessionID: sessionID, Status: models.SessionStarting, StartedAt: time.Now().UTC()},
			listeners: make(map[uint64]Listener),
		}
		b.sessions[sessionID] = s
		metrics.ProgressSessions.Set(float64(len(b.sessions)))
	}
	s.listeners[id] = fn
	metrics.ProgressListeners.Inc()
	b.mu.Unlock()
	return id
}

// RemoveListener detaches a listener. Unknown handles are ignored.
func (b *MemoryBroadcaster) RemoveListener(sessionID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return
	}
	if _, exists := s.listeners[id]; exists {
		delete(s.listeners, id)
		metrics.ProgressListeners.Dec()
	}
}

// CleanupSession destroys the session and detaches its listeners.
func (b *MemoryBroadcaster) CleanupSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return
	}
	metrics.ProgressListeners.Sub(float64(len(s.listeners)))
	delete(b.sessions, sessionID)
	metrics.ProgressSessions.Set(float64(len(b.sessions)))
}

// PruneTerminal removes terminal sessions whose last update is older than
// the given age, returning how many were removed. Run periodically so
// finished sessions do not accumulate for the life of the process.
func (b *MemoryBroadcaster) PruneTerminal(olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)
	var pruned int

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.sessions {
		if s.progress.Status.Terminal() && s.progress.UpdatedAt.Before(cutoff) {
			metrics.ProgressListeners.Sub(float64(len(s.listeners)))
			delete(b.sessions, id)
			pruned++
		}
	}
	if pruned > 0 {
		metrics.ProgressSessions.Set(float64(len(b.sessions)))
		logging.Debug().Int("pruned", pruned).Msg("Pruned terminal sync sessions")
	}
	return pruned
}

// percentage clamps processed/total to [0, 100]. Zero total reports zero
// until an estimate lands.
func percentage(processed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(processed) / float64(total) * 100
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// snapshotListeners copies listeners in handle order for deterministic
// fan-out.
func snapshotListeners(m map[uint64]Listener) []Listener {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}
