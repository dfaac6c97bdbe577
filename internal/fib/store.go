package fib

import (
	"sync"
	"weak"

	"github.com/sha1n/mcp-fib-server/internal/cache"
	"github.com/sha1n/mcp-fib-server/internal/domain"
)

// indexStore is the authoritative path to record mapping. Records are kept
// in registration order; removal only tombstones them until compaction.
type indexStore struct {
	mu      sync.RWMutex
	records []*SearchRecord
	byPath  map[string]int
}

func newIndexStore() *indexStore {
	return &indexStore{byPath: make(map[string]int)}
}

// add registers path. It returns the record and whether it was created or
// revived from a tombstone; an existing live record is returned unchanged.
func (s *indexStore) add(path, fingerprint string) (*SearchRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.byPath[path]; ok {
		rec := s.records[idx]
		if !rec.tombstoned {
			return rec, false
		}
		// Re-added before compaction: revive in place so the path keeps one record.
		rec.Fingerprint = fingerprint
		rec.asset = weak.Pointer[domain.Blueprint]{}
		rec.revision = 0
		rec.document = ""
		rec.pending = nil
		rec.tombstoned = false
		return rec, true
	}

	rec := newRecord(path, fingerprint)
	s.byPath[path] = len(s.records)
	s.records = append(s.records, rec)
	return rec, true
}

func (s *indexStore) lookup(path string) *SearchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx, ok := s.byPath[path]; ok {
		return s.records[idx]
	}
	return nil
}

// tombstone marks the record for path. Unknown paths are ignored.
func (s *indexStore) tombstone(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byPath[path]
	if !ok || s.records[idx].tombstoned {
		return false
	}
	rec := s.records[idx]
	rec.tombstoned = true
	rec.pending = nil
	return true
}

// attach sets the live asset once. An attached asset that has been
// collected counts as detached.
func (s *indexStore) attach(bp *domain.Blueprint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byPath[bp.Path()]
	if !ok {
		return false
	}
	rec := s.records[idx]
	if rec.tombstoned || rec.liveAsset() != nil {
		return false
	}
	rec.asset = weak.Make(bp)
	return true
}

// at returns a snapshot of the record at idx and the current size.
func (s *indexStore) at(idx int) (recordView, bool, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx < 0 || idx >= len(s.records) {
		return recordView{}, false, len(s.records)
	}
	return s.records[idx].view(), true, len(s.records)
}

func (s *indexStore) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// setPending records an outstanding cache read.
func (s *indexStore) setPending(rec *SearchRecord, r *cache.Retrieval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.pending = r
}

// clearPending drops the outstanding read if it is still r.
func (s *indexStore) clearPending(rec *SearchRecord, r *cache.Retrieval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.pending == r {
		rec.pending = nil
	}
}

// setDocument stores a resolved or gathered document.
func (s *indexStore) setDocument(rec *SearchRecord, document string, bp *domain.Blueprint, revision uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.document = document
	rec.pending = nil
	if bp != nil {
		rec.revision = revision
		if rec.liveAsset() == nil {
			rec.asset = weak.Make(bp)
		}
	}
}

// markDead tombstones a record whose asset has been destroyed.
func (s *indexStore) markDead(rec *SearchRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.tombstoned = true
	rec.pending = nil
}

type storeCounts struct {
	Total      int
	Live       int
	Tombstoned int
	Pending    int
	Documents  int
}

func (s *indexStore) counts() storeCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := storeCounts{Total: len(s.records)}
	for _, rec := range s.records {
		if rec.dead() {
			c.Tombstoned++
			continue
		}
		c.Live++
		if rec.pending != nil {
			c.Pending++
		}
		if rec.document != "" {
			c.Documents++
		}
	}
	return c
}

// nextLivePath returns the path of the first live record at or after idx, or "".
// Callers hold s.mu.
func (s *indexStore) nextLivePath(idx int) string {
	for ; idx < len(s.records); idx++ {
		if !s.records[idx].dead() {
			return s.records[idx].Path
		}
	}
	return ""
}

// compactLocked rebuilds the dense record slice without dead records and
// remaps the given cursor positions by path. Callers hold s.mu.
func (s *indexStore) compactLocked(positions map[*cursor]string) int {
	kept := make([]*SearchRecord, 0, len(s.records))
	byPath := make(map[string]int, len(s.byPath))
	removed := 0
	for _, rec := range s.records {
		if rec.dead() {
			removed++
			continue
		}
		byPath[rec.Path] = len(kept)
		kept = append(kept, rec)
	}
	s.records = kept
	s.byPath = byPath

	for cur, path := range positions {
		idx, ok := byPath[path]
		if path == "" || !ok {
			idx = len(kept)
		}
		cur.pos.Store(int64(idx))
	}
	return removed
}

// viewOf re-reads a record's current state.
func (s *indexStore) viewOf(rec *SearchRecord) recordView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rec.view()
}
