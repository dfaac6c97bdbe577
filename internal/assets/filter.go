package assets

import (
	"path/filepath"
	"strings"
)

// Extension is the file suffix of blueprint asset files.
const Extension = ".bp.yaml"

// DefaultExcludePatterns contains project directories that never hold
// authored blueprints: engine caches, build output and VCS metadata.
var DefaultExcludePatterns = []string{
	".git/**", ".svn/**",
	"Intermediate/**", "Saved/**", "DerivedDataCache/**", "Binaries/**",
	"Collections/**", "Developers/**",
	"*~", "*.tmp",
}

// Filter determines which files under the project root are blueprint assets.
type Filter struct {
	patterns    []string
	maxFileSize int64
}

// NewFilter creates a Filter with the default exclusion patterns.
func NewFilter(maxFileSize int64) *Filter {
	return NewFilterWithPatterns(DefaultExcludePatterns, maxFileSize)
}

// NewFilterWithPatterns creates a Filter with custom patterns.
// A maxFileSize of zero disables the size check.
func NewFilterWithPatterns(patterns []string, maxFileSize int64) *Filter {
	return &Filter{
		patterns:    patterns,
		maxFileSize: maxFileSize,
	}
}

// Includes reports whether relPath names a blueprint file that should be indexed.
// The path should be relative to the project root.
func (f *Filter) Includes(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	if !strings.HasSuffix(relPath, Extension) || len(relPath) == len(Extension) {
		return false
	}
	return !f.ShouldExclude(relPath)
}

// ShouldExclude returns true if the given path matches any exclusion pattern.
func (f *Filter) ShouldExclude(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, pattern := range f.patterns {
		if matchPattern(pattern, relPath) {
			return true
		}
	}
	return false
}

// ExcludesDir reports whether a directory and everything below it is skipped.
func (f *Filter) ExcludesDir(relDir string) bool {
	relDir = filepath.ToSlash(relDir)
	if relDir == "." || relDir == "" {
		return false
	}
	return f.ShouldExclude(relDir + "/")
}

// MaxFileSize returns the maximum blueprint file size, zero when unlimited.
func (f *Filter) MaxFileSize() int64 {
	return f.maxFileSize
}

// TooLarge reports whether a file of the given size exceeds the limit.
func (f *Filter) TooLarge(size int64) bool {
	return f.maxFileSize > 0 && size > f.maxFileSize
}

// matchPattern matches a slash separated path against a glob pattern.
// "dir/**" matches the directory at any depth, other patterns are matched
// against the full path and the base name.
func matchPattern(pattern, path string) bool {
	if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
		parts := strings.Split(path, "/")
		for i, part := range parts {
			if part == dir && i < len(parts)-1 {
				return true
			}
		}
		return false
	}

	if matched, _ := filepath.Match(pattern, path); matched {
		return true
	}
	matched, _ := filepath.Match(pattern, filepath.Base(path))
	return matched
}
