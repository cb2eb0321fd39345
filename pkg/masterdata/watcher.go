package masterdata

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SeedWatcher re-applies the seed file whenever it changes on disk. Changes
// overwrite existing rows.
type SeedWatcher struct {
	path      string
	store     *Store
	onApplied func()
	debounce  time.Duration
	logger    *slog.Logger
}

// NewSeedWatcher creates a watcher for path. onApplied, if set, runs after
// each successful re-seed, e.g. to drop cached catalog entries.
func NewSeedWatcher(path string, store *Store, onApplied func(), logger *slog.Logger) *SeedWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SeedWatcher{
		path:      filepath.Clean(path),
		store:     store,
		onApplied: onApplied,
		debounce:  500 * time.Millisecond,
		logger:    logger,
	}
}

// Run watches the seed file's directory until ctx is cancelled. The
// directory is watched rather than the file so that editors which replace
// the file on save are still observed.
func (w *SeedWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create seed watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("seed watcher started", "path", w.path)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("seed watcher stopped")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("seed watcher error", "error", err)
		case <-fire:
			fire = nil
			w.Apply(ctx)
		}
	}
}

// Apply loads the seed file and overwrites the catalog with it. Invalid
// files are logged and leave the catalog unchanged.
func (w *SeedWatcher) Apply(ctx context.Context) bool {
	f, err := LoadSeedFile(w.path)
	if err != nil {
		w.logger.Error("seed file rejected", "path", w.path, "error", err)
		return false
	}
	res, err := w.store.Seed(ctx, f, SeedOptions{Overwrite: true})
	if err != nil {
		w.logger.Error("re-seed failed", "path", w.path, "error", err)
		return false
	}
	w.logger.Info("catalog re-seeded", "path", w.path, "written", res.Written)
	if w.onApplied != nil {
		w.onApplied()
	}
	return true
}
