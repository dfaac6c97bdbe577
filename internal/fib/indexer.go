package fib

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrCacheBusy is returned when another process holds the bulk indexing lock.
var ErrCacheBusy = errors.New("bulk indexing is running in another process")

// CacheSummary describes a finished bulk indexing job.
type CacheSummary struct {
	Processed int  `json:"processed"`
	Cached    int  `json:"cached"`
	Failed    int  `json:"failed"`
	Remaining int  `json:"remaining"`
	Cancelled bool `json:"cancelled"`
}

type cacheJob struct {
	paths  []string
	index  int
	cached int
	failed int
}

// bulkIndexer owns the backlog of assets that could not be indexed without
// loading them, the failed list, and the running bulk job.
type bulkIndexer struct {
	mu        sync.Mutex
	backlog   []string
	queued    map[string]struct{}
	failed    map[string]string
	job       *cacheJob
	callbacks []func(CacheSummary)
	lock      *FileLock
}

func newBulkIndexer(lock *FileLock) *bulkIndexer {
	return &bulkIndexer{
		queued: make(map[string]struct{}),
		failed: make(map[string]string),
		lock:   lock,
	}
}

// enqueue appends path to the backlog once. Failed assets are not retried.
func (ix *bulkIndexer) enqueue(path string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.queued[path]; ok {
		return
	}
	if _, ok := ix.failed[path]; ok {
		return
	}
	ix.queued[path] = struct{}{}
	ix.backlog = append(ix.backlog, path)
}

// cached clears a previous failure for path.
func (ix *bulkIndexer) cached(path string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.failed, path)
}

func (ix *bulkIndexer) incomplete() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.backlog) > 0 || len(ix.failed) > 0
}

func (ix *bulkIndexer) restore(backlog []string, failed map[string]string) {
	ix.mu.Lock()
	maps.Copy(ix.failed, failed)
	ix.mu.Unlock()
	for _, path := range backlog {
		ix.enqueue(path)
	}
}

func (ix *bulkIndexer) snapshot() ([]string, map[string]string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return slices.Clone(ix.backlog), maps.Clone(ix.failed)
}

// CacheAllUncachedBlueprints starts a bulk indexing job over the current
// backlog. When a job is already running onComplete is only registered.
// onComplete may be nil and is called exactly once, after the job ends.
func (m *Manager) CacheAllUncachedBlueprints(onComplete func(CacheSummary)) error {
	ix := m.indexer
	ix.mu.Lock()

	if ix.job != nil {
		if onComplete != nil {
			ix.callbacks = append(ix.callbacks, onComplete)
		}
		ix.mu.Unlock()
		return nil
	}

	if len(ix.backlog) == 0 {
		ix.mu.Unlock()
		if onComplete != nil {
			onComplete(CacheSummary{})
		}
		return nil
	}

	ok, err := ix.lock.TryLock()
	if err != nil {
		ix.mu.Unlock()
		return fmt.Errorf("failed to acquire indexing lock: %w", err)
	}
	if !ok {
		ix.mu.Unlock()
		return ErrCacheBusy
	}

	ix.job = &cacheJob{paths: slices.Clone(ix.backlog)}
	if onComplete != nil {
		ix.callbacks = append(ix.callbacks, onComplete)
	}
	total := len(ix.job.paths)
	ix.mu.Unlock()

	m.logger.Info("bulk indexing started", "assets", total)
	return nil
}

// Tick processes one asset of the running job and reports whether the job
// is still running. A cancelled ctx ends the job with the assets done so far.
func (m *Manager) Tick(ctx context.Context) bool {
	job, running, cancelled := m.tickStep(ctx)
	// Finalize outside the gate; callbacks may start new queries.
	if job != nil && !running {
		m.finishCacheAll(job, cancelled)
	}
	return running
}

func (m *Manager) tickStep(ctx context.Context) (job *cacheJob, running, cancelled bool) {
	m.gate.enter()
	defer m.gate.leave()

	ix := m.indexer
	ix.mu.Lock()
	job = ix.job
	if job == nil {
		ix.mu.Unlock()
		return nil, false, false
	}
	if ctx.Err() != nil {
		ix.mu.Unlock()
		return job, false, true
	}
	path := job.paths[job.index]
	ix.mu.Unlock()

	err := m.cacheOne(ctx, path)
	if err != nil && ctx.Err() != nil && isContextError(err) {
		return job, false, true
	}

	ix.mu.Lock()
	if ix.job != job {
		// Cancelled while this tick was loading.
		ix.mu.Unlock()
		return nil, false, false
	}
	if err != nil {
		ix.failed[path] = err.Error()
		job.failed++
	} else {
		job.cached++
	}
	job.index++
	finished := job.index >= len(job.paths)
	ix.mu.Unlock()

	m.metrics.BulkIndexed(err)
	if err != nil {
		m.logger.Warn("failed to index asset", "path", path, "error", err)
	}
	return job, !finished, false
}

func (m *Manager) cacheOne(ctx context.Context, path string) error {
	bp, err := m.registry.Load(ctx, path)
	if err != nil {
		return err
	}
	if bp == nil {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, path)
	}
	_, err = m.refresh(bp)
	return err
}

// CancelCacheAll stops the running job, keeping the progress made so far.
func (m *Manager) CancelCacheAll() {
	m.indexer.mu.Lock()
	job := m.indexer.job
	m.indexer.mu.Unlock()
	if job != nil {
		m.finishCacheAll(job, true)
	}
}

// finishCacheAll removes the processed assets from the front of the backlog,
// notifies every registered callback once and releases the lock.
func (m *Manager) finishCacheAll(job *cacheJob, cancelled bool) {
	ix := m.indexer
	ix.mu.Lock()
	if ix.job != job {
		ix.mu.Unlock()
		return
	}

	n := min(job.index, len(ix.backlog))
	for _, path := range ix.backlog[:n] {
		delete(ix.queued, path)
	}
	ix.backlog = slices.Delete(ix.backlog, 0, n)

	summary := CacheSummary{
		Processed: job.index,
		Cached:    job.cached,
		Failed:    job.failed,
		Remaining: len(ix.backlog),
		Cancelled: cancelled,
	}
	callbacks := ix.callbacks
	ix.callbacks = nil
	ix.job = nil
	if err := ix.lock.Unlock(); err != nil {
		m.logger.Warn("failed to release indexing lock", "error", err)
	}
	ix.mu.Unlock()

	m.logger.Info("bulk indexing finished",
		"processed", summary.Processed,
		"cached", summary.Cached,
		"failed", summary.Failed,
		"remaining", summary.Remaining,
		"cancelled", cancelled)

	if err := m.saveManifest(); err != nil {
		m.logger.Warn("failed to save manifest", "error", err)
	}
	for _, cb := range callbacks {
		cb(summary)
	}
}

// IsCacheInProgress reports whether a bulk job is running.
func (m *Manager) IsCacheInProgress() bool {
	m.indexer.mu.Lock()
	defer m.indexer.mu.Unlock()
	return m.indexer.job != nil
}

// GetCurrentCacheIndex returns the number of assets the running job has
// processed, or 0 when idle.
func (m *Manager) GetCurrentCacheIndex() int {
	m.indexer.mu.Lock()
	defer m.indexer.mu.Unlock()
	if m.indexer.job == nil {
		return 0
	}
	return m.indexer.job.index
}

// GetCacheProgress returns the running job's progress, 1 when idle.
func (m *Manager) GetCacheProgress() float64 {
	m.indexer.mu.Lock()
	defer m.indexer.mu.Unlock()
	job := m.indexer.job
	if job == nil || len(job.paths) == 0 {
		return 1
	}
	return float64(job.index) / float64(len(job.paths))
}

// GetCurrentCacheBlueprintName returns the asset the running job will
// process next, or "" when idle.
func (m *Manager) GetCurrentCacheBlueprintName() string {
	m.indexer.mu.Lock()
	defer m.indexer.mu.Unlock()
	job := m.indexer.job
	if job == nil || job.index >= len(job.paths) {
		return ""
	}
	return job.paths[job.index]
}

// UncachedBlueprints returns a copy of the backlog.
func (m *Manager) UncachedBlueprints() []string {
	backlog, _ := m.indexer.snapshot()
	return backlog
}

// FailedBlueprints returns the assets that could not be indexed and why.
func (m *Manager) FailedBlueprints() map[string]string {
	_, failed := m.indexer.snapshot()
	return failed
}

// RunCacheAll drives the running job to completion, one asset per tick,
// paced by the configured tick interval.
func (m *Manager) RunCacheAll(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if m.tickInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(m.tickInterval), 1)
	}

	start := time.Now()
	for {
		if err := limiter.Wait(ctx); err != nil {
			m.CancelCacheAll()
			return err
		}
		if !m.Tick(ctx) {
			break
		}
	}
	m.logger.Debug("bulk indexing loop exited", "elapsed", time.Since(start))
	return ctx.Err()
}

// StartCacheAll starts bulk indexing like CacheAllUncachedBlueprints and
// drives it with RunCacheAll on a background goroutine until the job ends
// or the manager is closed. At most one driver runs at a time.
func (m *Manager) StartCacheAll(onComplete func(CacheSummary)) error {
	if err := m.CacheAllUncachedBlueprints(onComplete); err != nil {
		return err
	}
	if m.ctx.Err() != nil || !m.driving.CompareAndSwap(false, true) {
		return nil
	}

	m.drivers.Add(1)
	go func() {
		defer m.drivers.Done()
		for {
			if err := m.RunCacheAll(m.ctx); err != nil {
				m.logger.Debug("bulk indexing stopped", "error", err)
			}
			m.driving.Store(false)
			// A job started between the last tick and the store above has no driver yet.
			if m.ctx.Err() != nil || !m.IsCacheInProgress() || !m.driving.CompareAndSwap(false, true) {
				return
			}
		}
	}()
	return nil
}
