package fib

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sha1n/mcp-fib-server/internal/cache"
	"github.com/sha1n/mcp-fib-server/internal/domain"
	"github.com/sha1n/mcp-fib-server/internal/metadata"
)

type tagList []domain.SearchTag

func (t tagList) SearchTags() []domain.SearchTag { return t }

func contentsWith(nodeNames ...string) domain.Contents {
	nodes := make([]*domain.Node, 0, len(nodeNames))
	for _, name := range nodeNames {
		nodes = append(nodes, &domain.Node{Tags: tagList{{Key: metadata.TagName, Value: name}}})
	}
	return domain.Contents{
		Compiled:   true,
		UberGraphs: []*domain.Graph{{Name: "EventGraph", Nodes: nodes}},
	}
}

func newBlueprint(path string, nodeNames ...string) *domain.Blueprint {
	return domain.NewBlueprint(path, "", contentsWith(nodeNames...))
}

type fakeAsset struct {
	bp      *domain.Blueprint
	guid    string
	loaded  bool
	loadErr error
}

// fakeRegistry is an in-memory asset registry. Loaded blueprints are held
// strongly, like an editor keeps loaded assets alive.
type fakeRegistry struct {
	mu       sync.Mutex
	order    []string
	assets   map[string]*fakeAsset
	listener domain.AssetListener
	loads    int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{assets: make(map[string]*fakeAsset)}
}

func (r *fakeRegistry) add(bp *domain.Blueprint, loaded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, bp.Path())
	r.assets[bp.Path()] = &fakeAsset{bp: bp, loaded: loaded}
}

func (r *fakeRegistry) failLoad(path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[path].loadErr = err
}

func (r *fakeRegistry) data(path string) domain.AssetData {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.assets[path]
	d := domain.AssetData{Path: path, SearchGUID: a.guid}
	if a.loaded {
		d.Asset = a.bp
	}
	return d
}

func (r *fakeRegistry) Assets(_ context.Context) ([]domain.AssetData, error) {
	r.mu.Lock()
	paths := append([]string(nil), r.order...)
	r.mu.Unlock()

	out := make([]domain.AssetData, 0, len(paths))
	for _, p := range paths {
		out = append(out, r.data(p))
	}
	return out, nil
}

func (r *fakeRegistry) Load(_ context.Context, path string) (*domain.Blueprint, error) {
	r.mu.Lock()
	a, ok := r.assets[path]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, path)
	}
	r.loads++
	if a.loadErr != nil {
		r.mu.Unlock()
		return nil, a.loadErr
	}
	a.loaded = true
	listener := r.listener
	r.mu.Unlock()

	if listener != nil {
		listener.OnAssetLoaded(a.bp)
	}
	return a.bp, nil
}

type testEnv struct {
	m        *Manager
	cache    *cache.Cache
	store    cache.Store
	registry *fakeRegistry
	dir      string
}

func newTestEnv(t *testing.T, registry *fakeRegistry) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, registry, cache.NewMemoryStore(), t.TempDir())
}

func newTestEnvWithStore(t *testing.T, registry *fakeRegistry, store cache.Store, dir string) *testEnv {
	t.Helper()

	c, err := cache.New(cache.Options{Store: store, Codec: cache.CodecLZ4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	m, err := NewManager(Options{
		Registry:     registry,
		Cache:        c,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		LockPath:     filepath.Join(dir, LockFilename),
		ManifestPath: filepath.Join(dir, ManifestFilename),
	})
	require.NoError(t, err)
	registry.listener = m
	t.Cleanup(func() { _ = m.Close() })

	return &testEnv{m: m, cache: c, store: store, registry: registry, dir: dir}
}

// seedCache stores bp's document under its fingerprint as if a previous run had indexed it.
func seedCache(t *testing.T, c *cache.Cache, bp *domain.Blueprint) {
	t.Helper()
	doc, err := metadata.Gather(bp)
	require.NoError(t, err)
	data, err := metadata.EncodeEntry(bp.Path(), doc)
	require.NoError(t, err)
	c.Put(Fingerprint(bp.Path(), bp.SearchGUID()), data)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// drain steps q to completion and returns the matching asset paths.
func drain(t *testing.T, m *Manager, q *Query) []string {
	t.Helper()
	ctx := testContext(t)
	var paths []string
	for i := 0; i < 10000; i++ {
		more, res := m.ContinueSearchQuery(ctx, q)
		if res != nil {
			paths = append(paths, res.AssetPath)
		}
		if !more {
			return paths
		}
	}
	t.Fatal("query did not finish")
	return nil
}
