package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/sha1n/mcp-fib-server/internal/metrics"
)

const (
	DefaultMemoryEntries   = 1024
	DefaultWriters         = 2
	DefaultQueueSize       = 256
	DefaultPresenceTimeout = 250 * time.Millisecond
)

// Options configures a Cache.
type Options struct {
	Store           Store
	Codec           Codec
	MemoryEntries   int
	Writers         int
	QueueSize       int
	// PresenceTimeout bounds the store round trip made by Exists.
	PresenceTimeout time.Duration
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

type writeRequest struct {
	key  string
	data []byte
}

// Cache fronts a Store with an in-memory LRU tier, deduplicated asynchronous
// reads and a queue of background writers.
type Cache struct {
	store   Store
	codec   Codec
	memory  *lru.Cache[string, []byte]
	group   singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Metrics

	presenceTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// queued holds writes that have not reached the store yet.
	queueMu sync.Mutex
	queued  map[string]*writeRequest
	pending atomic.Int64

	sendMu  sync.RWMutex
	closed  bool
	writes  chan *writeRequest
	writers sync.WaitGroup
}

// New creates a Cache and starts its background writers.
func New(opts Options) (*Cache, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.MemoryEntries <= 0 {
		opts.MemoryEntries = DefaultMemoryEntries
	}
	if opts.Writers <= 0 {
		opts.Writers = DefaultWriters
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.PresenceTimeout <= 0 {
		opts.PresenceTimeout = DefaultPresenceTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	memory, err := lru.New[string, []byte](opts.MemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory tier: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		store:   opts.Store,
		codec:   opts.Codec,
		memory:  memory,
		logger:  logger.With("component", "cache"),
		metrics: opts.Metrics,
		ctx:     ctx,

		presenceTimeout: opts.PresenceTimeout,
		cancel:  cancel,
		queued:  make(map[string]*writeRequest),
		writes:  make(chan *writeRequest, opts.QueueSize),
	}

	for i := 0; i < opts.Writers; i++ {
		c.writers.Add(1)
		go c.writeLoop()
	}
	return c, nil
}

// Exists reports whether an entry is known for key. It consults the memory
// tier and pending writes before asking the store, and gives up on the store
// after the presence timeout; an unanswered check counts as absent.
func (c *Cache) Exists(key string) bool {
	if c.memory.Contains(key) || c.queuedData(key) != nil {
		return true
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.presenceTimeout)
	defer cancel()
	ok, err := c.store.Has(ctx, key)
	if err != nil {
		c.logger.Warn("cache presence check failed", "key", key, "error", err)
		return false
	}
	return ok
}

// Get starts an asynchronous read and returns its handle immediately.
func (c *Cache) Get(key string) *Retrieval {
	r := newRetrieval(key)

	if data, ok := c.memory.Get(key); ok {
		r.complete(slices.Clone(data), nil)
		return r
	}
	if data := c.queuedData(key); data != nil {
		r.complete(slices.Clone(data), nil)
		return r
	}

	go func() {
		v, err, _ := c.group.Do(key, func() (any, error) {
			return c.read(key)
		})
		if err != nil {
			r.complete(nil, err)
			return
		}
		r.complete(slices.Clone(v.([]byte)), nil)
	}()
	return r
}

// Wait blocks on r and records the outcome.
func (c *Cache) Wait(ctx context.Context, r *Retrieval) ([]byte, error) {
	data, err := r.Wait(ctx)
	switch {
	case err == nil:
		c.metrics.CacheRead("hit")
	case errors.Is(err, ErrMiss):
		c.metrics.CacheRead("miss")
	case errors.Is(err, ErrCorrupt):
		c.metrics.CacheRead("corrupt")
	case errors.Is(err, ErrConsumed):
		c.metrics.CacheRead("consumed")
	default:
		c.metrics.CacheRead("error")
	}
	return data, err
}

func (c *Cache) read(key string) ([]byte, error) {
	frame, err := c.store.Load(c.ctx, key)
	if err != nil {
		return nil, err
	}
	payload, err := decodeFrame(frame)
	if err != nil {
		c.logger.Warn("discarding corrupt cache entry", "key", key, "error", err)
		return nil, err
	}
	c.memory.Add(key, payload)
	return payload, nil
}

// Put records data for key. The memory tier is updated immediately and the
// durable write happens in the background. Put never blocks: when the write
// queue is full the durable write is dropped and only the memory tier keeps
// the entry.
func (c *Cache) Put(key string, data []byte) {
	data = slices.Clone(data)
	req := &writeRequest{key: key, data: data}

	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		c.logger.Warn("dropping cache write after close", "key", key)
		return
	}

	c.memory.Add(key, data)
	c.queueMu.Lock()
	c.queued[key] = req
	c.queueMu.Unlock()
	c.pending.Add(1)

	select {
	case c.writes <- req:
	default:
		c.queueMu.Lock()
		if c.queued[key] == req {
			delete(c.queued, key)
		}
		c.queueMu.Unlock()
		c.pending.Add(-1)
		c.metrics.CacheWrite(ErrQueueFull)
		c.logger.Warn("dropping cache write, queue full", "key", key)
	}
}

func (c *Cache) queuedData(key string) []byte {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if req, ok := c.queued[key]; ok {
		return req.data
	}
	return nil
}

func (c *Cache) writeLoop() {
	defer c.writers.Done()
	for req := range c.writes {
		err := c.write(req)
		c.metrics.CacheWrite(err)
		if err != nil {
			c.logger.Error("cache write failed", "key", req.key, "error", err)
		}

		c.queueMu.Lock()
		if c.queued[req.key] == req {
			delete(c.queued, req.key)
		}
		c.queueMu.Unlock()
		c.pending.Add(-1)
	}
}

func (c *Cache) write(req *writeRequest) error {
	frame, err := encodeFrame(c.codec, req.data)
	if err != nil {
		return err
	}
	// Writes are flushed even while closing, so they use a fresh context.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return c.store.Save(ctx, req.key, frame)
}

// Pending returns the number of writes not yet flushed to the store.
func (c *Cache) Pending() int {
	return int(c.pending.Load())
}

// Flush waits until every queued write has reached the store.
func (c *Cache) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for c.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close drains queued writes, cancels in-flight reads and closes the store.
func (c *Cache) Close() error {
	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return nil
	}
	c.closed = true
	close(c.writes)
	c.sendMu.Unlock()

	c.writers.Wait()
	c.cancel()
	return c.store.Close()
}
