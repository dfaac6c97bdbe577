package fib

import (
	"crypto/md5"
	"encoding/hex"
	"sync"
	"weak"

	"github.com/sha1n/mcp-fib-server/internal/cache"
	"github.com/sha1n/mcp-fib-server/internal/domain"
)

// Fingerprint returns the cache key for an asset: its search GUID when one
// is recorded, otherwise the MD5 of its object path.
func Fingerprint(path, searchGUID string) string {
	if searchGUID != "" {
		return searchGUID
	}
	sum := md5.Sum([]byte(domain.ObjectPath(path)))
	return hex.EncodeToString(sum[:])
}

// SearchRecord is the index entry for one asset path.
// Unexported state is guarded by the owning store's lock.
type SearchRecord struct {
	Path        string
	Fingerprint string

	// resolveMu serializes gathering and cache resolution of this record
	// only; steps over other records never wait on it.
	resolveMu sync.Mutex

	asset weak.Pointer[domain.Blueprint]
	// revision of the asset the document was gathered from.
	revision uint64
	document string
	pending  *cache.Retrieval

	tombstoned bool
}

func newRecord(path, fingerprint string) *SearchRecord {
	return &SearchRecord{Path: path, Fingerprint: fingerprint}
}

// liveAsset returns the attached asset, or nil when none is attached or it
// has been collected.
func (r *SearchRecord) liveAsset() *domain.Blueprint {
	return r.asset.Value()
}

// dead reports whether the record should be skipped and dropped on compaction.
func (r *SearchRecord) dead() bool {
	if r.tombstoned {
		return true
	}
	bp := r.liveAsset()
	return bp != nil && !bp.IsValid()
}

// recordView is an immutable snapshot of a record taken under the store lock.
type recordView struct {
	rec        *SearchRecord
	asset      *domain.Blueprint
	revision   uint64
	document   string
	pending    *cache.Retrieval
	tombstoned bool
}

func (r *SearchRecord) view() recordView {
	return recordView{
		rec:        r,
		asset:      r.liveAsset(),
		revision:   r.revision,
		document:   r.document,
		pending:    r.pending,
		tombstoned: r.tombstoned,
	}
}

// stale reports whether the attached asset changed since the document was
// gathered, or whether the asset is the only way left to produce one.
func (v recordView) stale() bool {
	if v.asset == nil {
		return false
	}
	return v.asset.Revision() != v.revision || (v.document == "" && v.pending == nil)
}
