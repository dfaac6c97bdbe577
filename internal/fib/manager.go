// Package fib implements the blueprint search index: the record store kept
// consistent with asset registry events, incremental cancellable queries,
// the pause gate used for compaction and bulk indexing of uncached assets.
package fib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sha1n/mcp-fib-server/internal/cache"
	"github.com/sha1n/mcp-fib-server/internal/domain"
	"github.com/sha1n/mcp-fib-server/internal/metrics"
)

var (
	// ErrUnknownAsset is returned when the registry has no asset at a path.
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrAssetDestroyed is returned when indexing an asset that is going away.
	ErrAssetDestroyed = errors.New("asset destroyed")
)

// Registry is the asset registry the index is built from.
type Registry interface {
	// Assets lists every known blueprint without loading it.
	Assets(ctx context.Context) ([]domain.AssetData, error)
	// Load fully loads the blueprint at path.
	Load(ctx context.Context, path string) (*domain.Blueprint, error)
}

// Options configures a Manager.
type Options struct {
	Registry Registry
	Cache    *cache.Cache
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// LockPath is the bulk indexing lock file; empty disables cross-process locking.
	LockPath string
	// ManifestPath is where index state is persisted; empty disables persistence.
	ManifestPath string
	// TickInterval paces RunCacheAll.
	TickInterval time.Duration
}

// Manager is the search index service.
type Manager struct {
	registry     Registry
	cache        *cache.Cache
	logger       *slog.Logger
	metrics      *metrics.Metrics
	matcher      *matcher
	tickInterval time.Duration

	gate    pauseGate
	store   *indexStore
	queries queryTable
	indexer *bulkIndexer

	manifestPath string
	manifest     *Manifest

	// ctx bounds background bulk indexing started by StartCacheAll.
	ctx     context.Context
	cancel  context.CancelFunc
	driving atomic.Bool
	drivers sync.WaitGroup

	closeOnce sync.Once
}

// NewManager creates a Manager. Call Initialize before querying.
func NewManager(opts Options) (*Manager, error) {
	if opts.Registry == nil {
		return nil, errors.New("asset registry is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mt, err := newMatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ctx:          ctx,
		cancel:       cancel,
		registry:     opts.Registry,
		cache:        opts.Cache,
		logger:       logger.With("component", "fib"),
		metrics:      opts.Metrics,
		matcher:      mt,
		tickInterval: opts.TickInterval,
		store:        newIndexStore(),
		queries:      queryTable{cursors: make(map[*Query]*cursor)},
		indexer:      newBulkIndexer(NewFileLock(opts.LockPath)),
		manifestPath: opts.ManifestPath,
		manifest:     NewManifest(),
	}, nil
}

// Initialize restores persisted index state and registers every asset the
// registry knows about.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.manifestPath != "" {
		manifest, err := LoadManifest(m.manifestPath)
		if err != nil {
			m.logger.Warn("ignoring unreadable manifest", "path", m.manifestPath, "error", err)
		} else {
			m.manifest = manifest
			uncached, failed := manifest.State()
			m.indexer.restore(uncached, failed)
		}
	}

	start := time.Now()
	assets, err := m.registry.Assets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list assets: %w", err)
	}
	for _, data := range assets {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.OnAssetAdded(data)
	}

	m.manifest.UpdateLastBuild()
	if err := m.saveManifest(); err != nil {
		m.logger.Warn("failed to save manifest", "error", err)
	}

	status := m.Status()
	m.publishStatus(status)
	m.logger.Info("search index initialized",
		"assets", len(assets),
		"uncached", status.Uncached,
		"failed", status.Failed,
		"duration", time.Since(start))
	return nil
}

// Close cancels bulk indexing and persists index state. The cache is owned
// by the caller.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.cancel()
		m.drivers.Wait()
		m.CancelCacheAll()
		err = m.saveManifest()
	})
	return err
}

func (m *Manager) saveManifest() error {
	if m.manifestPath == "" {
		return nil
	}
	uncached, failed := m.indexer.snapshot()
	m.manifest.SetState(uncached, failed)
	return m.manifest.Save(m.manifestPath)
}

// QuerySingleBlueprint loads the asset at path, re-gathers its document and
// returns it.
func (m *Manager) QuerySingleBlueprint(ctx context.Context, path string) (string, error) {
	path = domain.PackagePath(path)
	bp, err := m.registry.Load(ctx, path)
	if err != nil {
		return "", err
	}
	if bp == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownAsset, path)
	}

	m.gate.enter()
	defer m.gate.leave()
	return m.refresh(bp)
}

// Status is a snapshot of the index.
type Status struct {
	Records          int     `json:"records"`
	Live             int     `json:"live"`
	Tombstoned       int     `json:"tombstoned"`
	Pending          int     `json:"pending"`
	Documents        int     `json:"documents"`
	Uncached         int     `json:"uncached"`
	Failed           int     `json:"failed"`
	Caching          bool    `json:"caching"`
	CacheIndex       int     `json:"cache_index"`
	CacheProgress    float64 `json:"cache_progress"`
	CurrentBlueprint string  `json:"current_blueprint,omitempty"`
	ActiveQueries    int     `json:"active_queries"`
	Epoch            uint64  `json:"epoch"`
	Paused           bool    `json:"paused"`
	PendingWrites    int     `json:"pending_writes"`
	// Incomplete is set while some assets have no indexed document.
	Incomplete bool `json:"incomplete"`
}

// Status returns a snapshot of index counters.
func (m *Manager) Status() Status {
	counts := m.store.counts()
	uncached, failed := m.indexer.snapshot()

	s := Status{
		Records:          counts.Total,
		Live:             counts.Live,
		Tombstoned:       counts.Tombstoned,
		Pending:          counts.Pending,
		Documents:        counts.Documents,
		Uncached:         len(uncached),
		Failed:           len(failed),
		Caching:          m.IsCacheInProgress(),
		CacheIndex:       m.GetCurrentCacheIndex(),
		CacheProgress:    m.GetCacheProgress(),
		CurrentBlueprint: m.GetCurrentCacheBlueprintName(),
		ActiveQueries:    m.ActiveQueries(),
		Epoch:            m.gate.epoch.Load(),
		Paused:           m.IsPaused(),
		PendingWrites:    m.cache.Pending(),
	}
	s.Incomplete = s.Uncached > 0 || s.Failed > 0
	return s
}

func (m *Manager) publishStatus(s Status) {
	m.metrics.SetRecords(s.Live, s.Tombstoned, s.Uncached, s.Failed)
}

// RunMaintenance compacts the index every interval while tombstones exist,
// until ctx is done.
func (m *Manager) RunMaintenance(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			status := m.Status()
			if status.Tombstoned > 0 {
				m.Compact()
				status = m.Status()
				m.logger.Debug("index compacted", "records", status.Records, "epoch", status.Epoch)
			}
			m.publishStatus(status)
		}
	}
}
