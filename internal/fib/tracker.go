package fib

import (
	"context"
	"errors"
	"fmt"

	"github.com/sha1n/mcp-fib-server/internal/domain"
	"github.com/sha1n/mcp-fib-server/internal/metadata"
)

// OnAssetAdded registers an asset. A second call for a registered path is a
// no-op. Loaded assets are gathered immediately; others are read from the
// cache asynchronously, or queued for bulk indexing when not cached.
func (m *Manager) OnAssetAdded(data domain.AssetData) {
	path := domain.PackagePath(data.Path)
	fingerprint := Fingerprint(path, data.SearchGUID)

	rec, created := m.store.add(path, fingerprint)
	if !created {
		return
	}

	if data.Asset.IsValid() {
		rec.resolveMu.Lock()
		_, err := m.gatherLocked(rec, data.Asset)
		rec.resolveMu.Unlock()
		if err != nil {
			m.logger.Warn("failed to gather search document", "path", path, "error", err)
			m.indexer.enqueue(path)
		}
		return
	}

	if !m.cache.Exists(fingerprint) {
		m.indexer.enqueue(path)
		return
	}
	m.store.setPending(rec, m.cache.Get(fingerprint))
}

// OnAssetRemoved tombstones the record for path.
func (m *Manager) OnAssetRemoved(path string) {
	if m.store.tombstone(domain.PackagePath(path)) {
		m.logger.Debug("asset removed", "path", path)
	}
}

// OnAssetRenamed tombstones the record of the old path. The new path is
// registered by a following OnAssetAdded, so for a short window both records
// exist and an in-flight query may report the asset twice.
func (m *Manager) OnAssetRenamed(oldPath, newPath string) {
	if m.store.tombstone(domain.PackagePath(oldPath)) {
		m.logger.Debug("asset renamed", "old_path", oldPath, "new_path", newPath)
	}
}

// OnAssetLoaded attaches a freshly loaded asset to its record. An asset that
// is already attached is never replaced.
func (m *Manager) OnAssetLoaded(bp *domain.Blueprint) {
	if bp == nil {
		return
	}
	m.store.attach(bp)
}

var _ domain.AssetListener = (*Manager)(nil)

// refresh gathers bp unconditionally and overwrites its cache entry,
// registering the asset if needed.
func (m *Manager) refresh(bp *domain.Blueprint) (string, error) {
	if !bp.IsValid() {
		return "", fmt.Errorf("%w: %s", ErrAssetDestroyed, bp.Path())
	}
	rec, _ := m.store.add(bp.Path(), Fingerprint(bp.Path(), bp.SearchGUID()))

	rec.resolveMu.Lock()
	defer rec.resolveMu.Unlock()
	return m.gatherLocked(rec, bp)
}

// gatherLocked builds rec's document from bp and writes it back to the
// cache. Callers hold rec.resolveMu.
func (m *Manager) gatherLocked(rec *SearchRecord, bp *domain.Blueprint) (string, error) {
	// Read the revision first so a concurrent edit leaves the record stale.
	revision := bp.Revision()
	doc, err := metadata.Gather(bp)
	if err != nil {
		return "", err
	}
	data, err := metadata.EncodeEntry(rec.Path, doc)
	if err != nil {
		return "", err
	}

	m.cache.Put(rec.Fingerprint, data)
	m.store.setDocument(rec, doc, bp, revision)
	m.indexer.cached(rec.Path)
	return doc, nil
}

// documentFor returns the document of the record in v, re-gathering it from
// a modified live asset or resolving an outstanding cache read. A failed
// read, or an entry written for another path under the same fingerprint,
// queues the path for bulk indexing and yields no document.
func (m *Manager) documentFor(ctx context.Context, v recordView) (string, error) {
	v.rec.resolveMu.Lock()
	defer v.rec.resolveMu.Unlock()

	// Another step may have resolved the record while this one waited.
	v = m.store.viewOf(v.rec)
	if v.stale() {
		return m.gatherLocked(v.rec, v.asset)
	}
	if v.pending == nil {
		return v.document, nil
	}

	data, err := m.cache.Wait(ctx, v.pending)
	if err != nil && ctx.Err() != nil {
		return "", err
	}
	m.store.clearPending(v.rec, v.pending)
	if err != nil {
		m.logger.Debug("cache read failed, queueing for indexing", "path", v.rec.Path, "error", err)
		m.indexer.enqueue(v.rec.Path)
		return "", nil
	}

	entry, err := metadata.DecodeEntry(data)
	if err != nil {
		m.logger.Warn("discarding undecodable cache entry", "path", v.rec.Path, "error", err)
		m.indexer.enqueue(v.rec.Path)
		return "", nil
	}
	if entry.Path != v.rec.Path {
		// Copied assets share the search GUID of their source.
		m.logger.Warn("cache entry belongs to another asset, queueing for indexing",
			"path", v.rec.Path, "entry_path", entry.Path, "fingerprint", v.rec.Fingerprint)
		m.indexer.enqueue(v.rec.Path)
		return "", nil
	}
	m.store.setDocument(v.rec, entry.Document, nil, 0)
	return entry.Document, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
