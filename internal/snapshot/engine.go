// Package snapshot captures point-in-time memory/resource snapshots,
// diffs them, and classifies regressions and fix effectiveness.
//
// The in-process snapshot map is single-writer: concurrent writers from
// multiple processes are unsupported. Concurrent readers are safe;
// comparisons are pure functions over immutable snapshots.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leakhound/internal/config"
	"leakhound/internal/leak"
)

// CounterSource supplies live resource counts for a snapshot. The
// runtime registry implements it; a nil source yields zero counts.
type CounterSource interface {
	Counts() leak.ResourceCounts
}

// Engine owns the snapshot store and every derived computation.
type Engine struct {
	mu        sync.RWMutex
	snapshots map[string]*leak.MemorySnapshot
	baselines map[string]*leak.MemorySnapshot

	cfg      config.SnapshotConfig
	regCfg   config.RegressionConfig
	counters CounterSource
	log      *zap.Logger
	now      func() time.Time
}

// NewEngine creates a snapshot engine. counters and log may be nil.
func NewEngine(cfg config.SnapshotConfig, regCfg config.RegressionConfig, counters CounterSource, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		snapshots: make(map[string]*leak.MemorySnapshot),
		baselines: make(map[string]*leak.MemorySnapshot),
		cfg:       cfg,
		regCfg:    regCfg,
		counters:  counters,
		log:       log,
		now:       time.Now,
	}
}

// WithClock overrides the engine clock, for deterministic tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// CreateSnapshot samples process memory, collector, CPU, and resource
// counters into an immutable snapshot stored under id. An empty id gets
// a generated one. When configured, a garbage collection is requested
// first and sampling waits a bounded settle delay so collector effects
// land before measurement.
func (e *Engine) CreateSnapshot(ctx context.Context, id, description string) (*leak.MemorySnapshot, error) {
	if id == "" {
		id = uuid.NewString()
	}
	e.mu.RLock()
	_, exists := e.snapshots[id]
	e.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("snapshot %q already exists: snapshots are append-only", id)
	}

	if e.cfg.ForceGC {
		runtime.GC()
		if e.cfg.GCSettle > 0 {
			select {
			case <-time.After(e.cfg.GCSettle):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := &leak.MemorySnapshot{
		ID:          id,
		Timestamp:   e.now(),
		Description: description,
		MemoryUsage: leak.MemoryUsage{
			HeapUsed:     ms.HeapAlloc,
			HeapTotal:    ms.HeapSys,
			External:     ms.StackSys,
			ArrayBuffers: ms.BuckHashSys,
			RSS:          ms.Sys,
		},
		PerformanceMetrics: leak.PerformanceMetrics{
			GCCount:    ms.NumGC,
			GCDuration: time.Duration(ms.PauseTotalNs),
			CPUUsage:   ms.GCCPUFraction,
		},
	}
	if e.counters != nil {
		snap.ResourceCounts = e.counters.Counts()
	}

	e.mu.Lock()
	e.snapshots[id] = snap
	e.mu.Unlock()

	e.log.Debug("snapshot created",
		zap.String("id", id),
		zap.Uint64("heap_used", snap.MemoryUsage.HeapUsed),
		zap.Int("resources", snap.ResourceCounts.Total()))
	return snap, nil
}

// Snapshot returns a stored snapshot by id, checking named baselines
// when no snapshot has the id.
func (e *Engine) Snapshot(id string) (*leak.MemorySnapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if snap, ok := e.snapshots[id]; ok {
		return snap, nil
	}
	if snap, ok := e.baselines[id]; ok {
		return snap, nil
	}
	return nil, fmt.Errorf("%w: %q", leak.ErrSnapshotNotFound, id)
}

// SetBaseline promotes a snapshot to a named baseline. The baseline is
// a second map entry referencing the same immutable data, not a copy.
func (e *Engine) SetBaseline(snapshotID, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap, ok := e.snapshots[snapshotID]
	if !ok {
		return fmt.Errorf("%w: %q", leak.ErrSnapshotNotFound, snapshotID)
	}
	e.baselines[name] = snap
	return nil
}

// ClearOldSnapshots drops snapshots older than maxAge and returns how
// many were removed. Baseline entries keep their snapshots reachable.
func (e *Engine) ClearOldSnapshots(maxAge time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := e.now().Add(-maxAge)
	removed := 0
	for id, snap := range e.snapshots {
		if snap.Timestamp.Before(cutoff) {
			delete(e.snapshots, id)
			removed++
		}
	}
	return removed
}

// exportPair serializes as the two-element array [key, snapshot] the
// export format requires.
type exportPair struct {
	Key      string
	Snapshot *leak.MemorySnapshot
}

func (p exportPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Key, p.Snapshot})
}

func (p *exportPair) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("expected [key, snapshot] pair, got %d elements", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.Key); err != nil {
		return fmt.Errorf("pair key: %w", err)
	}
	p.Snapshot = &leak.MemorySnapshot{}
	if err := json.Unmarshal(raw[1], p.Snapshot); err != nil {
		return fmt.Errorf("pair snapshot: %w", err)
	}
	return nil
}

type exportPayload struct {
	Snapshots []exportPair `json:"snapshots"`
	Baselines []exportPair `json:"baselines"`
}

// Export serializes the snapshot store. The format carries no schema
// version field; importing data from an incompatible engine version is
// undefined.
func (e *Engine) Export() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	payload := exportPayload{
		Snapshots: sortedPairs(e.snapshots),
		Baselines: sortedPairs(e.baselines),
	}
	return json.MarshalIndent(payload, "", "  ")
}

func sortedPairs(m map[string]*leak.MemorySnapshot) []exportPair {
	pairs := make([]exportPair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, exportPair{Key: k, Snapshot: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs
}

// Import loads exported snapshot data into the store. Entries without
// an id are rejected; existing entries with the same id are replaced.
func (e *Engine) Import(data []byte) error {
	var payload exportPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse snapshot export: %w", err)
	}
	for _, p := range payload.Snapshots {
		if p.Key == "" || p.Snapshot == nil || p.Snapshot.ID == "" {
			return fmt.Errorf("snapshot entry missing id")
		}
	}
	for _, p := range payload.Baselines {
		if p.Key == "" || p.Snapshot == nil {
			return fmt.Errorf("baseline entry missing name")
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range payload.Snapshots {
		e.snapshots[p.Key] = p.Snapshot
	}
	for _, p := range payload.Baselines {
		e.baselines[p.Key] = p.Snapshot
	}
	return nil
}
