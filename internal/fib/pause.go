package fib

import (
	"sync"
	"sync/atomic"
	"time"
)

// pauseGate serializes structural maintenance against query and indexing
// steps. Steps hold the read side for exactly one step; Pause takes the
// write side, which waits for in-flight steps and blocks new ones.
type pauseGate struct {
	rw      sync.RWMutex
	pausing atomic.Bool
	held    atomic.Bool
	epoch   atomic.Uint64
}

// enter must never be called while already inside the gate: a pending
// Pause blocks new readers, so a nested enter would deadlock.
func (g *pauseGate) enter() {
	g.rw.RLock()
}

func (g *pauseGate) leave() {
	g.rw.RUnlock()
}

// Pause blocks until no step is in flight and keeps new steps out until
// Unpause. Calls must be paired with Unpause.
func (m *Manager) Pause() {
	m.gate.pausing.Store(true)
	m.gate.rw.Lock()
	m.gate.held.Store(true)
	m.setQueryStates(QueryScanning, QueryPaused)
	m.logger.Debug("search paused", "epoch", m.gate.epoch.Load())
}

// Unpause compacts the index and releases waiting steps. It is a no-op
// when the gate is not held.
func (m *Manager) Unpause() {
	if !m.gate.held.CompareAndSwap(true, false) {
		return
	}
	removed := m.compactLocked()
	m.setQueryStates(QueryPaused, QueryScanning)
	epoch := m.gate.epoch.Add(1)
	m.gate.pausing.Store(false)
	m.gate.rw.Unlock()
	m.logger.Debug("search resumed", "epoch", epoch, "removed", removed)
}

// setQueryStates moves every active query in state from to state to.
func (m *Manager) setQueryStates(from, to QueryState) {
	m.queries.mu.Lock()
	defer m.queries.mu.Unlock()
	for q := range m.queries.cursors {
		q.state.CompareAndSwap(int32(from), int32(to))
	}
}

// IsPaused reports whether a pause has been requested and not yet released.
func (m *Manager) IsPaused() bool {
	return m.gate.pausing.Load()
}

// Compact drops tombstoned records while no step is in flight.
func (m *Manager) Compact() {
	m.Pause()
	m.Unpause()
}

// compactLocked rebuilds the record collection. Callers hold the gate exclusively.
func (m *Manager) compactLocked() int {
	start := time.Now()

	m.queries.mu.Lock()
	defer m.queries.mu.Unlock()
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	// Capture where each query will resume by path, since positions shift.
	positions := make(map[*cursor]string, len(m.queries.cursors))
	for _, cur := range m.queries.cursors {
		positions[cur] = m.store.nextLivePath(int(cur.pos.Load()))
	}
	removed := m.store.compactLocked(positions)

	m.metrics.Compaction(time.Since(start))
	return removed
}
