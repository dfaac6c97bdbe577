package cache

import (
	"context"
	"sync/atomic"
)

// Retrieval is a one-shot handle to an asynchronous cache read.
// Only the first successful Wait receives the payload.
type Retrieval struct {
	key  string
	done chan struct{}
	data []byte
	err  error

	taken atomic.Bool
}

func newRetrieval(key string) *Retrieval {
	return &Retrieval{key: key, done: make(chan struct{})}
}

// Key returns the fingerprint being read.
func (r *Retrieval) Key() string {
	return r.key
}

// Ready reports whether the read has completed without blocking.
func (r *Retrieval) Ready() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Retrieval) complete(data []byte, err error) {
	r.data, r.err = data, err
	close(r.done)
}

// Wait blocks until the read completes or ctx is done. A cancelled wait does
// not consume the handle.
func (r *Retrieval) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if !r.taken.CompareAndSwap(false, true) {
		return nil, ErrConsumed
	}
	if r.err != nil {
		return nil, r.err
	}
	data := r.data
	r.data = nil
	return data, nil
}
