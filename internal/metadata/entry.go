package metadata

import (
	"encoding/json"
	"fmt"

	"github.com/sha1n/mcp-fib-server/internal/domain"
)

// Entry is the cache payload for one blueprint.
type Entry struct {
	Path     string `json:"path"`
	Document string `json:"document"`
}

// EncodeEntry serializes a path and its document for storage.
func EncodeEntry(path, document string) ([]byte, error) {
	data, err := json.Marshal(Entry{Path: domain.PackagePath(path), Document: document})
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return data, nil
}

// DecodeEntry parses a cache payload. An entry without a path is rejected.
func DecodeEntry(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.Path == "" {
		return Entry{}, fmt.Errorf("%w: entry has no path", ErrMalformed)
	}
	return e, nil
}
