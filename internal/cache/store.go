// Package cache implements the persistent fingerprint to document cache used
// by the search index. Reads are asynchronous and single-consumer; writes are
// fire-and-forget and flushed by background writers.
package cache

import (
	"context"
	"errors"
)

var (
	// ErrMiss is returned when no entry exists for a key.
	ErrMiss = errors.New("cache miss")

	// ErrCorrupt is returned when a stored entry cannot be decoded.
	ErrCorrupt = errors.New("corrupt cache entry")

	// ErrConsumed is returned when a retrieval has already been consumed by another caller.
	ErrConsumed = errors.New("retrieval already consumed")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cache closed")

	// ErrQueueFull is recorded when a write is dropped because every writer is busy.
	ErrQueueFull = errors.New("cache write queue full")
)

// Store is a durable key/value backend. Values are opaque encoded frames.
type Store interface {
	// Load returns the stored bytes or ErrMiss.
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Has(ctx context.Context, key string) (bool, error)
	Close() error
}
