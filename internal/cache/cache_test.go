package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, store Store, codec Codec) *Cache {
	t.Helper()
	c, err := New(Options{Store: store, Codec: codec, MemoryEntries: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCache_PutGet(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			store := NewMemoryStore()
			c := newTestCache(t, store, codec)
			ctx := waitCtx(t)

			c.Put("key", []byte("document"))
			assert.True(t, c.Exists("key"))

			data, err := c.Wait(ctx, c.Get("key"))
			require.NoError(t, err)
			assert.Equal(t, "document", string(data))

			require.NoError(t, c.Flush(ctx))
			frame, err := store.Load(ctx, "key")
			require.NoError(t, err)
			payload, err := decodeFrame(frame)
			require.NoError(t, err)
			assert.Equal(t, "document", string(payload))
		})
	}
}

func TestCache_ReadsThroughToStore(t *testing.T) {
	store := NewMemoryStore()
	frame, err := encodeFrame(CodecZstd, []byte("stored"))
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "key", frame))

	c := newTestCache(t, store, CodecNone)
	assert.True(t, c.Exists("key"))

	data, err := c.Wait(waitCtx(t), c.Get("key"))
	require.NoError(t, err)
	assert.Equal(t, "stored", string(data))
}

func TestCache_Miss(t *testing.T) {
	c := newTestCache(t, NewMemoryStore(), CodecNone)
	assert.False(t, c.Exists("absent"))

	_, err := c.Wait(waitCtx(t), c.Get("absent"))
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCache_Corrupt(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), "key", []byte("garbage")))

	c := newTestCache(t, store, CodecNone)
	_, err := c.Wait(waitCtx(t), c.Get("key"))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestRetrieval_SingleConsumption(t *testing.T) {
	c := newTestCache(t, NewMemoryStore(), CodecNone)
	c.Put("key", []byte("once"))
	r := c.Get("key")
	ctx := waitCtx(t)

	var wins, consumed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := r.Wait(ctx)
			switch {
			case err == nil:
				assert.Equal(t, "once", string(data))
				wins.Add(1)
			case errors.Is(err, ErrConsumed):
				consumed.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(7), consumed.Load())
}

type blockingStore struct {
	*MemoryStore
	release chan struct{}
	loads   atomic.Int32
}

func (s *blockingStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.loads.Add(1)
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.MemoryStore.Load(ctx, key)
}

func TestRetrieval_CancelledWaitDoesNotConsume(t *testing.T) {
	store := &blockingStore{MemoryStore: NewMemoryStore(), release: make(chan struct{})}
	frame, err := encodeFrame(CodecNone, []byte("late"))
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "key", frame))

	c := newTestCache(t, store, CodecNone)
	r := c.Get("key")
	assert.False(t, r.Ready())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(store.release)
	data, err := r.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "late", string(data))
}

func TestCache_ConcurrentGetsShareRead(t *testing.T) {
	store := &blockingStore{MemoryStore: NewMemoryStore(), release: make(chan struct{})}
	frame, err := encodeFrame(CodecNone, []byte("shared"))
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "key", frame))

	c := newTestCache(t, store, CodecNone)
	handles := []*Retrieval{c.Get("key"), c.Get("key"), c.Get("key")}

	require.Eventually(t, func() bool { return store.loads.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(store.release)

	for _, r := range handles {
		data, err := c.Wait(waitCtx(t), r)
		require.NoError(t, err)
		assert.Equal(t, "shared", string(data))
	}
	assert.LessOrEqual(t, store.loads.Load(), int32(3))
}

func TestCache_CloseDrainsWrites(t *testing.T) {
	store := NewMemoryStore()
	c, err := New(Options{Store: store, Writers: 1})
	require.NoError(t, err)

	for _, k := range []string{"a", "b", "c", "d"} {
		c.Put(k, []byte(k))
	}
	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Pending())

	for _, k := range []string{"a", "b", "c", "d"} {
		ok, err := store.Has(context.Background(), k)
		require.NoError(t, err)
		assert.True(t, ok, k)
	}

	c.Put("late", []byte("dropped"))
	ok, _ := store.Has(context.Background(), "late")
	assert.False(t, ok)
}

// stallingStore blocks Save until released and Has until the caller gives up.
type stallingStore struct {
	*MemoryStore
	release chan struct{}
	saves   atomic.Int32
}

func (s *stallingStore) Save(ctx context.Context, key string, data []byte) error {
	s.saves.Add(1)
	<-s.release
	return s.MemoryStore.Save(ctx, key, data)
}

func (s *stallingStore) Has(ctx context.Context, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestCache_PutDoesNotBlockOnFullQueue(t *testing.T) {
	store := &stallingStore{MemoryStore: NewMemoryStore(), release: make(chan struct{})}
	c, err := New(Options{Store: store, Writers: 1, QueueSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	c.Put("a", []byte("a"))
	require.Eventually(t, func() bool { return store.saves.Load() == 1 }, time.Second, time.Millisecond)
	c.Put("b", []byte("b"))

	done := make(chan struct{})
	go func() {
		c.Put("c", []byte("c"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		close(store.release)
		t.Fatal("Put blocked on a full write queue")
	}

	// The dropped write still serves readers of this process.
	data, err := c.Wait(waitCtx(t), c.Get("c"))
	require.NoError(t, err)
	assert.Equal(t, "c", string(data))
	assert.Equal(t, 2, c.Pending())

	close(store.release)
	require.NoError(t, c.Flush(waitCtx(t)))
	for key, want := range map[string]bool{"a": true, "b": true, "c": false} {
		ok, err := store.MemoryStore.Has(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, want, ok, key)
	}
}

func TestCache_ExistsGivesUpOnSlowStore(t *testing.T) {
	store := &stallingStore{MemoryStore: NewMemoryStore(), release: make(chan struct{})}
	close(store.release)
	c, err := New(Options{Store: store, PresenceTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	start := time.Now()
	assert.False(t, c.Exists("missing"))
	assert.Less(t, time.Since(start), time.Second)

	c.Put("key", []byte("doc"))
	assert.True(t, c.Exists("key"))
}
