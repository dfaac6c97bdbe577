package assets

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch forwards file system changes below the root to the listener until
// ctx is done:
//
//	create -> OnAssetAdded, or Reload when the path is already known
//	          (editors save by renaming a temp file over the original)
//	write  -> Reload (the live blueprint's revision changes)
//	remove -> OnAssetRemoved
//	rename -> OnAssetRenamed with an empty new path; the destination
//	          arrives as a separate create
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := r.addRecursive(w, r.root); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}
	r.logger.Info("watching project", "root", r.root)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			r.handleEvent(ctx, w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", "error", err)
		}
	}
}

// addRecursive adds root and every directory below it that the filter keeps.
func (r *Registry) addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(r.root, p)
		if r.filter.ExcludesDir(rel) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}

func (r *Registry) handleEvent(ctx context.Context, w *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			r.addDir(w, ev.Name)
			return
		}
	}

	pkg, ok := r.PackagePath(ev.Name)
	if !ok {
		return
	}
	listener := r.currentListener()

	switch {
	case ev.Has(fsnotify.Create):
		data, ok := r.describe(ev.Name)
		if !ok {
			return
		}
		if r.remember(pkg) {
			if err := r.Reload(ctx, pkg); err != nil {
				r.logger.Warn("failed to reload replaced blueprint", "path", pkg, "error", err)
			}
		}
		if listener != nil {
			listener.OnAssetAdded(data)
		}
	case ev.Has(fsnotify.Write):
		if err := r.Reload(ctx, pkg); err != nil {
			r.logger.Warn("failed to reload blueprint", "path", pkg, "error", err)
		}
	case ev.Has(fsnotify.Remove):
		r.forget(pkg)
		r.Unload(pkg)
		if listener != nil {
			listener.OnAssetRemoved(pkg)
		}
	case ev.Has(fsnotify.Rename):
		r.forget(pkg)
		r.Unload(pkg)
		if listener != nil {
			listener.OnAssetRenamed(pkg, "")
		}
	}
}

// addDir starts watching a directory that appeared after Watch started and
// announces the blueprints moved in with it.
func (r *Registry) addDir(w *fsnotify.Watcher, dir string) {
	rel, err := filepath.Rel(r.root, dir)
	if err != nil || r.filter.ExcludesDir(rel) {
		return
	}
	if w != nil {
		if err := r.addRecursive(w, dir); err != nil {
			r.logger.Warn("failed to watch directory", "path", dir, "error", err)
		}
	}

	listener := r.currentListener()
	if listener == nil {
		return
	}
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			sub, _ := filepath.Rel(r.root, p)
			if r.filter.ExcludesDir(sub) {
				return filepath.SkipDir
			}
			return nil
		}
		if data, ok := r.describe(p); ok {
			r.remember(data.Path)
			listener.OnAssetAdded(data)
		}
		return nil
	})
}
