package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/sha1n/mcp-fib-server/internal/assets"
	"github.com/sha1n/mcp-fib-server/internal/cache"
	"github.com/sha1n/mcp-fib-server/internal/config"
	"github.com/sha1n/mcp-fib-server/internal/fib"
	"github.com/sha1n/mcp-fib-server/internal/metrics"
)

// SQLiteFilename is the cache database used by the sqlite backend.
const SQLiteFilename = "cache.db"

// Index bundles the asset registry, the document cache and the search index
// built on top of them.
type Index struct {
	Manager  *fib.Manager
	Registry *assets.Registry
	Cache    *cache.Cache

	settings config.IndexSettings
	logger   *slog.Logger
}

// OpenIndex builds the cache and registry described by settings and
// registers every blueprint of the project with a new index.
func OpenIndex(ctx context.Context, settings *config.Settings, m *metrics.Metrics, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := NewCacheStore(ctx, settings.Cache)
	if err != nil {
		return nil, err
	}
	codec, err := cache.ParseCodec(settings.Cache.Compression)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	c, err := cache.New(cache.Options{
		Store:         store,
		Codec:         codec,
		MemoryEntries: settings.Cache.MemoryEntries,
		Writers:       settings.Cache.Writers,
		Logger:        logger,
		Metrics:       m,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	registry, err := assets.NewRegistry(assets.Options{
		Root:        settings.Index.ProjectDir,
		MountPoint:  settings.Index.MountPoint,
		LoadedLimit: settings.Index.LoadedLimit,
		Filter:      assets.NewFilter(settings.Index.MaxFileSize),
		Logger:      logger,
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to open project: %w", err)
	}

	opts := fib.Options{
		Registry:     registry,
		Cache:        c,
		Logger:       logger,
		Metrics:      m,
		TickInterval: settings.Index.TickInterval,
	}
	// The lock and manifest live next to the cache so that processes sharing
	// a cache also share bulk indexing state.
	if settings.Cache.Backend != config.CacheBackendMemory && settings.Cache.Dir != "" {
		opts.LockPath = filepath.Join(settings.Cache.Dir, fib.LockFilename)
		opts.ManifestPath = filepath.Join(settings.Cache.Dir, fib.ManifestFilename)
	}
	manager, err := fib.NewManager(opts)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	registry.SetListener(manager)

	ix := &Index{
		Manager:  manager,
		Registry: registry,
		Cache:    c,
		settings: settings.Index,
		logger:   logger.With("component", "app"),
	}
	if err := manager.Initialize(ctx); err != nil {
		_ = ix.Close()
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}
	return ix, nil
}

// NewCacheStore opens the persistent store selected by the cache backend.
func NewCacheStore(ctx context.Context, settings config.CacheSettings) (cache.Store, error) {
	switch settings.Backend {
	case config.CacheBackendMemory:
		return cache.NewMemoryStore(), nil
	case config.CacheBackendDir, "":
		return cache.NewDirStore(filepath.Join(settings.Dir, "documents"))
	case config.CacheBackendSQLite:
		return cache.NewSQLiteStore(filepath.Join(settings.Dir, SQLiteFilename))
	case config.CacheBackendRedis:
		return cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:     settings.Redis.Addr,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
			TTL:      settings.Redis.TTL,
		})
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", settings.Backend)
	}
}

// StartCaching starts bulk indexing of every uncached blueprint and logs the
// summary when it finishes.
func (ix *Index) StartCaching() error {
	return ix.Manager.StartCacheAll(func(s fib.CacheSummary) {
		ix.logger.Info("bulk indexing done",
			"processed", s.Processed,
			"cached", s.Cached,
			"failed", s.Failed,
			"remaining", s.Remaining,
			"cancelled", s.Cancelled)
	})
}

// Run watches the project for changes, when enabled, and compacts the index
// until ctx is done.
func (ix *Index) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if ix.settings.Watch {
		g.Go(func() error {
			return ix.Registry.Watch(gctx)
		})
	}
	g.Go(func() error {
		return ix.Manager.RunMaintenance(gctx, ix.settings.CompactInterval)
	})
	return g.Wait()
}

// Close stops the index and flushes the cache to its store.
func (ix *Index) Close() error {
	return errors.Join(ix.Manager.Close(), ix.Cache.Close())
}
