package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/zettel/internal/storage"
)

// Syncer applies out-of-band file changes to the index. Paths are relative to
// the vault root and slash-separated.
type Syncer interface {
	Reindex(ctx context.Context, path string) error
	Forget(ctx context.Context, path string) error
	Resync(ctx context.Context) error
}

// resyncDelay debounces the full pass that follows renames.
const resyncDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the vault root and forwards note file
// changes to s until ctx is cancelled.
//
// New directories created at runtime are added to the watch list. Renames
// and a periodic tick (when every > 0) trigger s.Resync, which catches
// anything the event stream missed.
func Watch(ctx context.Context, s Syncer, store storage.Provider, logger *slog.Logger, every time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := store.Root()
	if err := addDirsRecursive(w, root, store); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var resyncTimer *time.Timer
	var resyncCh <-chan time.Time

	scheduleResync := func() {
		if resyncTimer == nil {
			resyncTimer = time.NewTimer(resyncDelay)
			resyncCh = resyncTimer.C
		} else {
			resyncTimer.Reset(resyncDelay)
		}
	}

	var tickCh <-chan time.Time
	if every > 0 {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		tickCh = ticker.C
	}

	resync := func() {
		if err := s.Resync(ctx); err != nil {
			logger.Warn("watcher: resync failed", slog.String("error", err.Error()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			if resyncTimer != nil {
				resyncTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-resyncCh:
			resync()

		case <-tickCh:
			resync()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if store.Ignored(rel) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name, store); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", rel))
					}
					// Files may have landed before the watch was added.
					scheduleResync()
					continue
				}
			}

			if !strings.HasSuffix(rel, ".md") {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if err := s.Reindex(ctx, rel); err != nil {
					logger.Warn("watcher: reindex failed", slog.String("path", rel), slog.String("error", err.Error()))
				}

			case ev.Op&fsnotify.Remove != 0:
				if err := s.Forget(ctx, rel); err != nil {
					logger.Warn("watcher: forget failed", slog.String("path", rel), slog.String("error", err.Error()))
				}

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify reports the old name only; the new one arrives as
				// a Create if it stays inside a watched directory.
				if err := s.Forget(ctx, rel); err != nil {
					logger.Warn("watcher: forget after rename failed", slog.String("path", rel), slog.String("error", err.Error()))
				}
				scheduleResync()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds dir and all its non-ignored subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, dir string, store storage.Provider) error {
	root := store.Root()
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(root, path); relErr == nil && rel != "." && store.Ignored(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
