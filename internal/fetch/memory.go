// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

package fetch

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/freshlake/freshlake/internal/logging"
)

// PressureLevel classifies current process memory usage against the
// configured thresholds.
type PressureLevel int

const (
	// PressureNone: below the soft limit, no throttling.
	PressureNone PressureLevel = iota
	// PressureSoft: above the soft limit, inter-page delays scale up.
	PressureSoft
	// PressureHard: above the hard ceiling, streamed fetches abort.
	PressureHard
)

// MemoryGuard samples process memory between page fetches. RSS via gopsutil
// when the process handle is available, heap allocation from the runtime
// otherwise. Zero limits disable the corresponding threshold.
type MemoryGuard struct {
	soft uint64
	hard uint64
	proc *process.Process
}

// NewMemoryGuard builds a guard for the current process.
func NewMemoryGuard(soft, hard uint64) *MemoryGuard {
	g := &MemoryGuard{soft: soft, hard: hard}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logging.Debug().Err(err).Msg("Process memory telemetry unavailable, falling back to heap stats")
		return g
	}
	g.proc = p
	return g
}

// Usage returns the current memory usage in bytes.
func (g *MemoryGuard) Usage() uint64 {
	if g.proc != nil {
		if mi, err := g.proc.MemoryInfo(); err == nil && mi != nil {
			return mi.RSS
		}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Level classifies the current usage.
func (g *MemoryGuard) Level() PressureLevel {
	usage := g.Usage()
	switch {
	case g.hard > 0 && usage >= g.hard:
		return PressureHard
	case g.soft > 0 && usage >= g.soft:
		return PressureSoft
	default:
		return PressureNone
	}
}
