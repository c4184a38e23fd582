package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/checksum"
	"github.com/starford/zettel/internal/codec"
	"github.com/starford/zettel/internal/index"
)

// DriftReport lists the ways the index disagrees with the file tree.
type DriftReport struct {
	// Missing are indexed paths whose file is gone.
	Missing []string `json:"missing"`
	// Stale are files whose content changed since they were indexed.
	Stale []string `json:"stale"`
	// Unindexed are files the index has no row for.
	Unindexed []string `json:"unindexed"`
	// Pending are ids queued by reads or failed index writes.
	Pending []string `json:"pending"`
}

// Clean reports whether no drift was found.
func (d DriftReport) Clean() bool {
	return len(d.Missing)+len(d.Stale)+len(d.Unindexed)+len(d.Pending) == 0
}

// ReconcileReport summarizes one Reconcile run.
type ReconcileReport struct {
	Indexed []string    `json:"indexed"`
	Removed []string    `json:"removed"`
	Errors  []FileError `json:"errors"`
}

func (r *Repository) markDrift(id, reason string) {
	r.driftMu.Lock()
	r.pending[id] = reason
	r.driftMu.Unlock()
}

func (r *Repository) clearDrift(id string) {
	r.driftMu.Lock()
	delete(r.pending, id)
	r.driftMu.Unlock()
}

// Pending returns the ids queued for reconciliation, sorted.
func (r *Repository) Pending() []string {
	r.driftMu.Lock()
	defer r.driftMu.Unlock()
	out := make([]string, 0, len(r.pending))
	for id := range r.pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CheckDrift compares index fingerprints with the file tree without changing
// either.
func (r *Repository) CheckDrift(ctx context.Context) (*DriftReport, error) {
	files, err := r.store.List("")
	if err != nil {
		return nil, apperr.Storage("repository: drift: list", err)
	}
	indexed, err := r.index.Fingerprints(ctx)
	if err != nil {
		return nil, err
	}

	report := &DriftReport{Pending: r.Pending()}
	onDisk := make(map[string]struct{}, len(files))
	for _, f := range files {
		onDisk[f.Path] = struct{}{}
		fp, ok := indexed[f.Path]
		switch {
		case !ok:
			report.Unindexed = append(report.Unindexed, f.Path)
		case fp.Checksum != f.Checksum:
			report.Stale = append(report.Stale, f.Path)
		}
	}
	for p := range indexed {
		if _, ok := onDisk[p]; !ok {
			report.Missing = append(report.Missing, p)
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Stale)
	sort.Strings(report.Unindexed)
	return report, nil
}

// Reconcile repairs the drift CheckDrift finds one file at a time, then
// retries the queued ids. Unlike Rebuild it leaves untouched rows alone.
func (r *Repository) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	drift, err := r.CheckDrift(ctx)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{}
	for _, p := range drift.Missing {
		if err := r.Forget(ctx, p); err != nil {
			report.Errors = append(report.Errors, FileError{Path: p, Err: err})
			continue
		}
		report.Removed = append(report.Removed, p)
	}
	for _, p := range append(drift.Stale, drift.Unindexed...) {
		if err := r.Reindex(ctx, p); err != nil {
			report.Errors = append(report.Errors, FileError{Path: p, Err: err})
			continue
		}
		report.Indexed = append(report.Indexed, p)
	}

	for _, id := range r.Pending() {
		if err := r.reconcileID(ctx, id); err != nil {
			report.Errors = append(report.Errors, FileError{Path: codec.FileName(id), Err: err})
		}
	}

	if len(report.Indexed)+len(report.Removed)+len(report.Errors) > 0 {
		r.logger.Info("reconcile: done",
			slog.Int("indexed", len(report.Indexed)),
			slog.Int("removed", len(report.Removed)),
			slog.Int("errors", len(report.Errors)))
	}
	return report, nil
}

// Resync runs Reconcile and only reports whether it could run at all. It
// lets the repository drive the file watcher.
func (r *Repository) Resync(ctx context.Context) error {
	_, err := r.Reconcile(ctx)
	return err
}

// reconcileID brings the index row for a queued id in line with its file.
func (r *Repository) reconcileID(ctx context.Context, id string) error {
	path := codec.FileName(id)
	fp, err := r.index.Lookup(ctx, id)
	switch {
	case err == nil:
		path = fp.Path
	case !errors.Is(err, apperr.ErrNotFound):
		return err
	}

	ok, err := r.store.Exists(path)
	if err != nil {
		return apperr.Storage("repository: reconcile", err)
	}
	if ok {
		return r.Reindex(ctx, path)
	}

	r.gate.RLock()
	defer r.gate.RUnlock()
	unlock := r.locks.Lock(id)
	defer unlock()
	return r.unmirror(ctx, id)
}

// Reindex brings the index row for the file at path in line with its
// content. Unchanged files are skipped. A file claiming an id that another
// existing file already holds is rejected with ErrConflict.
func (r *Repository) Reindex(ctx context.Context, path string) error {
	r.gate.RLock()
	defer r.gate.RUnlock()
	return r.reindex(ctx, path)
}

func (r *Repository) reindex(ctx context.Context, path string) error {
	data, err := r.store.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r.forget(ctx, path)
	}
	if err != nil {
		return apperr.Storage("repository: reindex", err)
	}
	n, err := codec.Decode(data, path)
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(n.ID)
	defer unlock()

	// Re-read under the lock: a repository write may have landed meanwhile.
	if data, err = r.store.Read(path); err != nil {
		return apperr.Storage("repository: reindex", err)
	}
	if n, err = codec.Decode(data, path); err != nil {
		return err
	}
	sum := checksum.Sum(data)

	kind := EventCreated
	fp, err := r.index.Lookup(ctx, n.ID)
	switch {
	case err == nil && fp.Path == path && checksum.Matches(data, fp.Checksum):
		r.clearDrift(n.ID)
		return nil
	case err == nil && fp.Path != path:
		taken, existsErr := r.store.Exists(fp.Path)
		if existsErr != nil {
			return apperr.Storage("repository: reindex", existsErr)
		}
		if taken {
			return fmt.Errorf("repository: reindex %s: %w: id %s already used by %s", path, apperr.ErrConflict, n.ID, fp.Path)
		}
		kind = EventUpdated
	case err == nil:
		kind = EventUpdated
	case !errors.Is(err, apperr.ErrNotFound):
		return err
	}

	settle(n)
	dedupeLinks(n)
	if err := r.mirror(ctx, index.Entry{Note: *n, Path: path, Checksum: sum}); err != nil {
		return err
	}
	r.logger.Debug("repository: reindexed", slog.String("path", path), slog.String("id", n.ID))
	r.emit(Event{Kind: kind, ID: n.ID, Path: path})
	return nil
}

// Forget drops the index row built from path once the file is gone. If the
// file is still there (an editor replaced it in place) it is reindexed.
func (r *Repository) Forget(ctx context.Context, path string) error {
	r.gate.RLock()
	defer r.gate.RUnlock()
	return r.forget(ctx, path)
}

func (r *Repository) forget(ctx context.Context, path string) error {
	ok, err := r.store.Exists(path)
	if err != nil {
		return apperr.Storage("repository: forget", err)
	}
	if ok {
		return r.reindex(ctx, path)
	}

	fp, err := r.index.LookupPath(ctx, path)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(fp.ID)
	defer unlock()

	// A write under this id may have recreated the file while we waited.
	if ok, err := r.store.Exists(path); err != nil || ok {
		return apperr.Storage("repository: forget", err)
	}
	if err := r.unmirror(ctx, fp.ID); err != nil {
		return err
	}
	r.logger.Debug("repository: forgot", slog.String("path", path), slog.String("id", fp.ID))
	r.emit(Event{Kind: EventDeleted, ID: fp.ID, Path: path})
	return nil
}
