// Package watch reports batches of changed project files, debounced, so a
// caller can re-verify while someone edits the tree.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/policy"
	"github.com/pders01/truthmint/internal/walk"
)

// Handler receives the repo-relative paths that changed during one quiet
// period, sorted.
type Handler func(ctx context.Context, paths []string)

// Watcher follows every directory the filter policy admits.
type Watcher struct {
	root     string
	pol      *policy.Policy
	debounce time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
}

// New returns a Watcher for root. Close it when done.
func New(root string, pol *policy.Policy, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(errors.KindScan, "start file watcher", err)
	}
	w := &Watcher{root: root, pol: pol, debounce: debounce, logger: logger.With("component", "watch.Watcher"), fsw: fsw}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// addTree watches dir and every admitted directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return errors.AtPath(errors.KindScan, p, "watch", err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && (w.pol.ExcludedDir(d.Name()) || w.ignored(p)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return errors.AtPath(errors.KindScan, p, "watch", err)
		}
		return nil
	})
}

// ignored reports whether abs lies outside what the policy enumerates.
func (w *Watcher) ignored(abs string) bool {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return true
	}
	return !walk.Admits(w.pol, filepath.ToSlash(rel), walk.Options{})
}

// Run delivers batches to h until ctx is done.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	pending := map[string]bool{}
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.ignored(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if w.pol.ExcludedDir(info.Name()) {
						continue
					}
					if err := w.addTree(ev.Name); err != nil {
						w.logger.Warn("could not watch new directory", "path", ev.Name, "error", err)
					}
				}
			}
			rel, _ := filepath.Rel(w.root, ev.Name)
			pending[filepath.ToSlash(rel)] = true
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			w.logger.Debug("change batch", "paths", len(paths))
			h(ctx, paths)
		}
	}
}
