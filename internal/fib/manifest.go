package fib

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

const (
	// ManifestVersion is the current schema version
	ManifestVersion = 1

	// ManifestFilename is the default manifest filename
	ManifestFilename = "manifest.json"
)

// Manifest persists index state that must survive restarts: the bulk
// indexing backlog and the assets that failed to index.
type Manifest struct {
	Version   int               `json:"version"`
	LastBuild time.Time         `json:"last_build"`
	Uncached  []string          `json:"uncached"`
	Failed    map[string]string `json:"failed"`
	mu        sync.RWMutex      `json:"-"`
}

// NewManifest creates a new empty manifest.
func NewManifest() *Manifest {
	return &Manifest{
		Version: ManifestVersion,
		Failed:  make(map[string]string),
	}
}

// LoadManifest reads a manifest from disk, or creates a new one if it doesn't exist.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewManifest(), nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if manifest.Version > ManifestVersion {
		return nil, fmt.Errorf("manifest version %d is newer than supported version %d", manifest.Version, ManifestVersion)
	}
	if manifest.Failed == nil {
		manifest.Failed = make(map[string]string)
	}

	return &manifest, nil
}

// Save writes the manifest to disk atomically.
func (m *Manifest) Save(path string) error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename manifest file: %w", err)
	}

	return nil
}

// SetState replaces the recorded backlog and failures.
func (m *Manifest) SetState(uncached []string, failed map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Uncached = slices.Clone(uncached)
	m.Failed = maps.Clone(failed)
	if m.Failed == nil {
		m.Failed = make(map[string]string)
	}
}

// State returns copies of the recorded backlog and failures.
func (m *Manifest) State() ([]string, map[string]string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.Uncached), maps.Clone(m.Failed)
}

// UpdateLastBuild updates the last registry scan timestamp.
func (m *Manifest) UpdateLastBuild() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastBuild = time.Now()
}

// LastBuildTime returns the last registry scan timestamp.
func (m *Manifest) LastBuildTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastBuild
}
