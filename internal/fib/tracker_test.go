package fib

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sha1n/mcp-fib-server/internal/cache"
	"github.com/sha1n/mcp-fib-server/internal/domain"
	"github.com/sha1n/mcp-fib-server/internal/metadata"
)

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "guid-1", Fingerprint("/Game/BP_A", "guid-1"))

	fp := Fingerprint("/Game/BP_A", "")
	assert.Len(t, fp, 32)
	assert.Equal(t, fp, Fingerprint("/Game/BP_A.BP_A", ""))
	assert.NotEqual(t, fp, Fingerprint("/Game/BP_B", ""))
}

func TestOnAssetAdded_Idempotent(t *testing.T) {
	env := newTestEnv(t, newFakeRegistry())
	m := env.m

	data := domain.AssetData{Path: "/Game/BP_A.BP_A"}
	m.OnAssetAdded(data)
	m.OnAssetAdded(data)
	m.OnAssetAdded(domain.AssetData{Path: "/Game/BP_A"})

	status := m.Status()
	assert.Equal(t, 1, status.Records)
	assert.Equal(t, []string{"/Game/BP_A"}, m.UncachedBlueprints())
}

func TestOnAssetAdded_LoadedAssetIsGatheredAndCached(t *testing.T) {
	env := newTestEnv(t, newFakeRegistry())
	m := env.m
	bp := newBlueprint("/Game/BP_Loaded", "Jump")

	m.OnAssetAdded(domain.AssetData{Path: bp.Path(), Asset: bp})

	status := m.Status()
	assert.Equal(t, 1, status.Documents)
	assert.Equal(t, 0, status.Pending)
	assert.True(t, env.cache.Exists(Fingerprint(bp.Path(), "")))

	res, err := m.Search(testContext(t), "jump", 0)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
}

func TestOnAssetAdded_CachedAssetHasPendingRead(t *testing.T) {
	env := newTestEnv(t, newFakeRegistry())
	bp := newBlueprint("/Game/BP_Cached", "Jump")
	seedCache(t, env.cache, bp)

	env.m.OnAssetAdded(domain.AssetData{Path: bp.Path()})
	assert.Equal(t, 1, env.m.Status().Pending)
	assert.Empty(t, env.m.UncachedBlueprints())

	res, err := env.m.Search(testContext(t), "jump", 0)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, 0, env.m.Status().Pending)
}

func TestOnAssetAdded_RevivesTombstone(t *testing.T) {
	env := newTestEnv(t, newFakeRegistry())
	m := env.m
	bp := newBlueprint("/Game/BP_A", "Jump")

	m.OnAssetAdded(domain.AssetData{Path: bp.Path(), Asset: bp})
	m.OnAssetRemoved(bp.Path())
	assert.Equal(t, 1, m.Status().Tombstoned)

	m.OnAssetAdded(domain.AssetData{Path: bp.Path(), Asset: bp})
	status := m.Status()
	assert.Equal(t, 1, status.Records)
	assert.Equal(t, 1, status.Live)
}

func TestStaleRecordIsRegathered(t *testing.T) {
	env := newTestEnv(t, newFakeRegistry())
	m := env.m
	bp := newBlueprint("/Game/BP_Edit", "Delay")
	m.OnAssetAdded(domain.AssetData{Path: bp.Path(), Asset: bp})

	res, err := m.Search(testContext(t), "jump", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Results)

	bp.Update(contentsWith("Delay", "Jump"))

	res, err = m.Search(testContext(t), "jump", 0)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)

	// The edit was written back under the same fingerprint.
	require.NoError(t, env.cache.Flush(testContext(t)))
	fresh, err := cache.New(cache.Options{Store: env.store})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fresh.Close() })
	data, err := fresh.Wait(testContext(t), fresh.Get(Fingerprint(bp.Path(), "")))
	require.NoError(t, err)
	entry, err := metadata.DecodeEntry(data)
	require.NoError(t, err)
	root, err := metadata.Parse(entry.Document)
	require.NoError(t, err)
	assert.Contains(t, root.Values(), "Jump")
}

func TestDestroyedAssetIsSkipped(t *testing.T) {
	env := newTestEnv(t, newFakeRegistry())
	m := env.m
	a := newBlueprint("/Game/BP_A", "Jump")
	b := newBlueprint("/Game/BP_B", "Jump")
	m.OnAssetAdded(domain.AssetData{Path: a.Path(), Asset: a})
	m.OnAssetAdded(domain.AssetData{Path: b.Path(), Asset: b})

	a.Destroy()

	res, err := m.Search(testContext(t), "jump", 0)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "/Game/BP_B", res.Results[0].AssetPath)

	m.Compact()
	assert.Equal(t, 1, m.Status().Records)
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestOnAssetLoaded_AttachesOnce(t *testing.T) {
	env := newTestEnv(t, newFakeRegistry())
	m := env.m
	m.OnAssetAdded(domain.AssetData{Path: "/Game/BP_A"})

	first := newBlueprint("/Game/BP_A", "First")
	second := newBlueprint("/Game/BP_A", "Second")
	m.OnAssetLoaded(first)
	m.OnAssetLoaded(second)
	m.OnAssetLoaded(nil)
	m.OnAssetLoaded(newBlueprint("/Game/Unknown", "X"))

	res, err := m.Search(testContext(t), "first", 0)
	require.NoError(t, err)
	assert.Len(t, res.Results, 1)

	res, err = m.Search(testContext(t), "second", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Results)

	assert.Equal(t, 1, m.Status().Records)
	runtime.KeepAlive(first)
}

func TestOnAssetRenamed_TombstonesOldPath(t *testing.T) {
	env := newTestEnv(t, newFakeRegistry())
	m := env.m
	old := newBlueprint("/Game/Old/BP_A", "Jump")
	m.OnAssetAdded(domain.AssetData{Path: old.Path(), Asset: old})

	renamed := newBlueprint("/Game/New/BP_A", "Jump")
	m.OnAssetRenamed("/Game/Old/BP_A.BP_A", renamed.Path())
	m.OnAssetAdded(domain.AssetData{Path: renamed.Path(), Asset: renamed})

	status := m.Status()
	assert.Equal(t, 2, status.Records)
	assert.Equal(t, 1, status.Tombstoned)

	res, err := m.Search(testContext(t), "jump", 0)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "/Game/New/BP_A", res.Results[0].AssetPath)
}

func TestCorruptCacheEntryQueuesReindex(t *testing.T) {
	reg := newFakeRegistry()
	store := cache.NewMemoryStore()
	env := newTestEnvWithStore(t, reg, store, t.TempDir())
	bp := newBlueprint("/Game/BP_Corrupt", "Jump")
	require.NoError(t, store.Save(context.Background(), Fingerprint(bp.Path(), ""), []byte("not a frame")))

	env.m.OnAssetAdded(domain.AssetData{Path: bp.Path()})
	assert.Empty(t, env.m.UncachedBlueprints())

	res, err := env.m.Search(testContext(t), "jump", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.True(t, res.Incomplete)
	assert.Equal(t, []string{bp.Path()}, env.m.UncachedBlueprints())
}

func TestQuerySingleBlueprint(t *testing.T) {
	reg := newFakeRegistry()
	env := newTestEnv(t, reg)
	bp := newBlueprint("/Game/BP_Single", "Jump")
	reg.add(bp, false)

	doc, err := env.m.QuerySingleBlueprint(testContext(t), "/Game/BP_Single.BP_Single")
	require.NoError(t, err)

	root, err := metadata.Parse(doc)
	require.NoError(t, err)
	assert.Contains(t, root.Values(), "Jump")
	assert.Equal(t, 1, env.m.Status().Documents)

	_, err = env.m.QuerySingleBlueprint(testContext(t), "/Game/Missing")
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestRoundTrip_GatherPutGetParse(t *testing.T) {
	env := newTestEnv(t, newFakeRegistry())
	bp := newBlueprint("/Game/BP_Round", "Jump", "Print String")

	doc, err := env.m.refresh(bp)
	require.NoError(t, err)
	require.NoError(t, env.cache.Flush(testContext(t)))

	fresh, err := cache.New(cache.Options{Store: env.store, Codec: cache.CodecZstd})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fresh.Close() })
	data, err := fresh.Wait(testContext(t), fresh.Get(Fingerprint(bp.Path(), "")))
	require.NoError(t, err)
	entry, err := metadata.DecodeEntry(data)
	require.NoError(t, err)

	want, err := metadata.Parse(doc)
	require.NoError(t, err)
	got, err := metadata.Parse(entry.Document)
	require.NoError(t, err)

	assert.ElementsMatch(t, env.m.matcher.terms(joinValues(want)), env.m.matcher.terms(joinValues(got)))
}

func joinValues(el *metadata.Element) string {
	var s string
	for _, v := range el.Values() {
		s += v + " "
	}
	return s
}

func TestSharedSearchGUIDKeepsDocumentsApart(t *testing.T) {
	reg := newFakeRegistry()
	env := newTestEnv(t, reg)
	m := env.m

	source := domain.NewBlueprint("/Game/BP_A", "dup-guid", contentsWith("Jump"))
	duplicate := domain.NewBlueprint("/Game/BP_Copy", "dup-guid", contentsWith("Delay"))
	reg.add(source, false)
	reg.add(duplicate, false)
	seedCache(t, env.cache, source)

	m.OnAssetAdded(domain.AssetData{Path: source.Path(), SearchGUID: "dup-guid"})
	m.OnAssetAdded(domain.AssetData{Path: duplicate.Path(), SearchGUID: "dup-guid"})

	res, err := m.Search(testContext(t), "jump", 0)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, source.Path(), res.Results[0].AssetPath)
	assert.True(t, res.Incomplete)
	assert.Equal(t, []string{duplicate.Path()}, m.UncachedBlueprints())

	require.NoError(t, m.CacheAllUncachedBlueprints(nil))
	require.NoError(t, m.RunCacheAll(testContext(t)))

	res, err = m.Search(testContext(t), "delay", 0)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, duplicate.Path(), res.Results[0].AssetPath)

	res, err = m.Search(testContext(t), "jump", 0)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, source.Path(), res.Results[0].AssetPath)
}

// stallingStore blocks reads of one key until released.
type stallingStore struct {
	*cache.MemoryStore
	key     string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *stallingStore) Load(ctx context.Context, key string) ([]byte, error) {
	if key == s.key {
		s.once.Do(func() { close(s.entered) })
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.MemoryStore.Load(ctx, key)
}

func TestSlowCacheReadDoesNotStallOtherRecords(t *testing.T) {
	slow := newBlueprint("/Game/BP_Slow", "Jump")
	store := &stallingStore{
		MemoryStore: cache.NewMemoryStore(),
		key:         Fingerprint(slow.Path(), ""),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}

	// Seed the backend directly so the read has to go through the store.
	seeder, err := cache.New(cache.Options{Store: store.MemoryStore, Codec: cache.CodecLZ4})
	require.NoError(t, err)
	seedCache(t, seeder, slow)
	require.NoError(t, seeder.Close())

	env := newTestEnvWithStore(t, newFakeRegistry(), store, t.TempDir())
	m := env.m
	m.OnAssetAdded(domain.AssetData{Path: slow.Path()})

	q, err := m.NewQuery("jump")
	require.NoError(t, err)
	m.BeginSearchQuery(q)
	stepped := make(chan *Result, 1)
	go func() {
		_, match := m.ContinueSearchQuery(context.Background(), q)
		stepped <- match
	}()

	var released sync.Once
	release := func() { released.Do(func() { close(store.release) }) }
	t.Cleanup(release)

	select {
	case <-store.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("cache read never reached the store")
	}

	fast := newBlueprint("/Game/BP_Fast", "Jump")
	added := make(chan struct{})
	go func() {
		m.OnAssetAdded(domain.AssetData{Path: fast.Path(), Asset: fast})
		close(added)
	}()
	select {
	case <-added:
	case <-time.After(2 * time.Second):
		release()
		t.Fatal("gathering another asset waited on an unrelated cache read")
	}
	assert.Equal(t, 1, m.Status().Documents)

	release()
	select {
	case match := <-stepped:
		require.NotNil(t, match)
		assert.Equal(t, slow.Path(), match.AssetPath)
	case <-time.After(5 * time.Second):
		t.Fatal("query step did not finish")
	}
	m.EnsureSearchQueryEnds(q)
}
