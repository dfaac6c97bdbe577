// Package assets is a filesystem asset registry: every *.bp.yaml file under
// a project directory is a blueprint, addressed by a package path below a
// mount point ("/Game/Characters/BP_Hero").
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sha1n/mcp-fib-server/internal/domain"
)

// DefaultMountPoint is the package root of project content.
const DefaultMountPoint = "/Game"

var (
	// ErrNotFound is returned for paths that do not name a blueprint file.
	ErrNotFound = errors.New("blueprint not found")

	// ErrTooLarge is returned when a blueprint file exceeds the size limit.
	ErrTooLarge = errors.New("blueprint file too large")
)

// Options configures a Registry.
type Options struct {
	// Root is the project content directory.
	Root string
	// MountPoint is the package path Root is mounted at.
	MountPoint string
	// LoadedLimit bounds how many loaded blueprints are kept alive.
	LoadedLimit int
	Filter      *Filter
	Logger      *slog.Logger
}

// Registry lists and loads blueprint files and notifies a listener of changes.
// Loaded blueprints are kept alive by a bounded LRU; evicted blueprints are
// released to the garbage collector.
type Registry struct {
	root   string
	mount  string
	filter *Filter
	logger *slog.Logger

	mu       sync.Mutex
	listener domain.AssetListener
	// known holds the package paths announced to the listener.
	known  map[string]struct{}
	loaded *lru.Cache[string, *domain.Blueprint]
}

// NewRegistry creates a registry rooted at opts.Root.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Root == "" {
		return nil, errors.New("project directory is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat project directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project path is not a directory: %s", root)
	}

	mount := opts.MountPoint
	if mount == "" {
		mount = DefaultMountPoint
	}
	mount = "/" + strings.Trim(mount, "/")

	limit := opts.LoadedLimit
	if limit <= 0 {
		limit = 256
	}
	loaded, err := lru.New[string, *domain.Blueprint](limit)
	if err != nil {
		return nil, fmt.Errorf("failed to create loaded asset set: %w", err)
	}

	filter := opts.Filter
	if filter == nil {
		filter = NewFilter(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		root:   root,
		mount:  mount,
		filter: filter,
		logger: logger.With("component", "assets"),
		known:  make(map[string]struct{}),
		loaded: loaded,
	}, nil
}

// SetListener registers the receiver of asset change notifications.
func (r *Registry) SetListener(l domain.AssetListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = l
}

func (r *Registry) currentListener() domain.AssetListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listener
}

// remember records pkg as known and reports whether it already was.
func (r *Registry) remember(pkg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.known[pkg]
	r.known[pkg] = struct{}{}
	return ok
}

func (r *Registry) forget(pkg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.known, pkg)
}

// Root returns the absolute project directory.
func (r *Registry) Root() string {
	return r.root
}

// PackagePath maps a file below the root to its package path.
func (r *Registry) PackagePath(file string) (string, bool) {
	rel, err := filepath.Rel(r.root, file)
	if err != nil || strings.HasPrefix(rel, "..") || !r.filter.Includes(rel) {
		return "", false
	}
	rel = strings.TrimSuffix(filepath.ToSlash(rel), Extension)
	return path.Join(r.mount, rel), true
}

// FilePath maps a package or object path to its blueprint file.
func (r *Registry) FilePath(assetPath string) (string, error) {
	pkg := domain.PackagePath(assetPath)
	rel, ok := strings.CutPrefix(pkg, r.mount+"/")
	if !ok || rel == "" || path.Clean(rel) != rel || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrNotFound, assetPath)
	}
	return filepath.Join(r.root, filepath.FromSlash(rel)+Extension), nil
}

// Assets scans the project and returns every blueprint without loading it.
// Blueprints already loaded are returned with their live asset.
func (r *Registry) Assets(ctx context.Context) ([]domain.AssetData, error) {
	var out []domain.AssetData
	err := filepath.WalkDir(r.root, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			r.logger.Warn("skipping unreadable path", "path", file, "error", err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			rel, _ := filepath.Rel(r.root, file)
			if r.filter.ExcludesDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		data, ok := r.describe(file)
		if ok {
			r.remember(data.Path)
			out = append(out, data)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", r.root, err)
	}
	return out, nil
}

// describe reads the header of one blueprint file.
func (r *Registry) describe(file string) (domain.AssetData, bool) {
	pkg, ok := r.PackagePath(file)
	if !ok {
		return domain.AssetData{}, false
	}
	data := domain.AssetData{Path: pkg}
	if bp, ok := r.loaded.Peek(pkg); ok {
		data.Asset = bp
		data.SearchGUID = bp.SearchGUID()
		return data, true
	}

	raw, err := r.readFile(file)
	if err != nil {
		r.logger.Warn("skipping blueprint", "path", pkg, "error", err)
		return domain.AssetData{}, false
	}
	h, err := decodeHeader(raw)
	if err != nil {
		r.logger.Warn("skipping blueprint", "path", pkg, "error", err)
		return domain.AssetData{}, false
	}
	data.SearchGUID = h.SearchGUID
	return data, true
}

func (r *Registry) readFile(file string) ([]byte, error) {
	info, err := os.Stat(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, file)
		}
		return nil, err
	}
	if r.filter.TooLarge(info.Size()) {
		return nil, fmt.Errorf("%w: %s (%d bytes)", ErrTooLarge, file, info.Size())
	}
	return os.ReadFile(file)
}

// Load returns the loaded blueprint at assetPath, parsing its file on first use.
// A newly loaded blueprint is announced through OnAssetLoaded.
func (r *Registry) Load(ctx context.Context, assetPath string) (*domain.Blueprint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pkg := domain.PackagePath(assetPath)
	if bp, ok := r.loaded.Get(pkg); ok {
		return bp, nil
	}

	file, err := r.FilePath(pkg)
	if err != nil {
		return nil, err
	}
	raw, err := r.readFile(file)
	if err != nil {
		return nil, err
	}
	f, err := decodeFile(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pkg, err)
	}
	contents, err := f.contents()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pkg, err)
	}

	bp := domain.NewBlueprint(pkg, f.SearchGUID, contents)
	if prev, ok, _ := r.loaded.PeekOrAdd(pkg, bp); ok {
		// Lost a race with a concurrent load.
		return prev, nil
	}
	r.logger.Debug("loaded blueprint", "path", pkg)

	if l := r.currentListener(); l != nil {
		l.OnAssetLoaded(bp)
	}
	return bp, nil
}

// Lookup returns the blueprint at assetPath if it is currently loaded.
func (r *Registry) Lookup(assetPath string) (*domain.Blueprint, bool) {
	return r.loaded.Peek(domain.PackagePath(assetPath))
}

// Loaded returns the number of blueprints kept loaded.
func (r *Registry) Loaded() int {
	return r.loaded.Len()
}

// Reload re-reads a blueprint file. A loaded blueprint has its contents
// replaced; an unloaded one is loaded and marked modified so that its
// indexed document is refreshed.
func (r *Registry) Reload(ctx context.Context, assetPath string) error {
	pkg := domain.PackagePath(assetPath)
	bp, ok := r.loaded.Peek(pkg)
	if !ok {
		loaded, err := r.Load(ctx, pkg)
		if err != nil {
			return err
		}
		loaded.MarkModified()
		return nil
	}

	file, err := r.FilePath(pkg)
	if err != nil {
		return err
	}
	raw, err := r.readFile(file)
	if err != nil {
		return err
	}
	f, err := decodeFile(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", pkg, err)
	}
	contents, err := f.contents()
	if err != nil {
		return fmt.Errorf("%s: %w", pkg, err)
	}
	if f.SearchGUID != "" {
		bp.SetSearchGUID(f.SearchGUID)
	}
	bp.Update(contents)
	return nil
}

// Unload destroys a loaded blueprint and releases it.
func (r *Registry) Unload(assetPath string) {
	pkg := domain.PackagePath(assetPath)
	if bp, ok := r.loaded.Peek(pkg); ok {
		bp.Destroy()
		r.loaded.Remove(pkg)
	}
}

// AssignSearchGUIDs writes a new search GUID into every blueprint file that
// has none and returns how many files were stamped.
func (r *Registry) AssignSearchGUIDs(ctx context.Context) (int, error) {
	assets, err := r.Assets(ctx)
	if err != nil {
		return 0, err
	}

	stamped := 0
	for _, a := range assets {
		if a.SearchGUID != "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stamped, err
		}
		guid := uuid.NewString()
		if err := r.stamp(a.Path, guid); err != nil {
			return stamped, err
		}
		if bp, ok := r.loaded.Peek(a.Path); ok {
			bp.SetSearchGUID(guid)
		}
		stamped++
	}
	return stamped, nil
}

func (r *Registry) stamp(pkg, guid string) error {
	file, err := r.FilePath(pkg)
	if err != nil {
		return err
	}
	raw, err := r.readFile(file)
	if err != nil {
		return err
	}

	line := []byte(fmt.Sprintf("search_guid: %q", guid))
	var buf bytes.Buffer
	replaced := false
	for l := range bytes.Lines(raw) {
		if !replaced && bytes.HasPrefix(l, []byte("search_guid:")) {
			buf.Write(line)
			buf.WriteByte('\n')
			replaced = true
			continue
		}
		buf.Write(l)
	}
	if !replaced {
		buf.Reset()
		buf.Write(line)
		buf.WriteByte('\n')
		buf.Write(raw)
	}

	tmp, err := os.CreateTemp(filepath.Dir(file), ".stamp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", pkg, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", pkg, err)
	}
	if err := os.Rename(tmpName, file); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", pkg, err)
	}
	return nil
}
