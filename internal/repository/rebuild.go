package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/checksum"
	"github.com/starford/zettel/internal/codec"
	"github.com/starford/zettel/internal/index"
	"github.com/starford/zettel/internal/models"
)

// FileError records a file that could not be brought into the index.
type FileError struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

func (e FileError) Error() string { return e.Path + ": " + e.Err.Error() }

// MarshalJSON renders the error message alongside the path.
func (e FileError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Path  string `json:"path"`
		Error string `json:"error"`
	}{e.Path, e.Err.Error()})
}

// RebuildReport summarizes one Rebuild run.
type RebuildReport struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Scanned    int           `json:"scanned"`
	Indexed    int           `json:"indexed"`
	Errors     []FileError   `json:"errors"`
	Broken     []models.Link `json:"broken_links"`
}

// decoded is the outcome of reading one file during a rebuild.
type decoded struct {
	entry index.Entry
	err   error
}

// Rebuild reconstructs the index from the file tree. Files are decoded in
// parallel; files that fail to decode are listed in the report and skipped.
// The swap happens in one transaction, so readers see either the old index
// or the new one. Writes through the repository wait until it finishes.
func (r *Repository) Rebuild(ctx context.Context) (*RebuildReport, error) {
	r.gate.Lock()
	defer r.gate.Unlock()

	report := &RebuildReport{RunID: uuid.NewString(), StartedAt: r.clock()}
	logger := r.logger.With(slog.String("run_id", report.RunID))

	files, err := r.store.List("")
	if err != nil {
		return nil, apperr.Storage("repository: rebuild: list", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	report.Scanned = len(files)

	results := make([]decoded, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = r.decodeFile(f.Path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("repository: rebuild: %w", err)
	}

	seen := make(map[string]string, len(results))
	entries := make([]index.Entry, 0, len(results))
	for i, res := range results {
		path := files[i].Path
		if res.err != nil {
			report.Errors = append(report.Errors, FileError{Path: path, Err: res.err})
			continue
		}
		id := res.entry.Note.ID
		if first, dup := seen[id]; dup {
			report.Errors = append(report.Errors, FileError{
				Path: path,
				Err:  fmt.Errorf("%w: id %s already used by %s", apperr.ErrConflict, id, first),
			})
			continue
		}
		seen[id] = path
		entries = append(entries, res.entry)
	}

	broken, err := r.index.ReplaceAll(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("repository: rebuild: %w", err)
	}
	report.Indexed = len(entries)
	report.Broken = broken
	report.Duration = r.clock().Sub(report.StartedAt)

	r.driftMu.Lock()
	clear(r.pending)
	r.driftMu.Unlock()

	for _, fe := range report.Errors {
		logger.Warn("rebuild: skipped file", slog.String("path", fe.Path), slog.String("error", fe.Err.Error()))
	}
	logger.Info("rebuild: done",
		slog.Int("scanned", report.Scanned),
		slog.Int("indexed", report.Indexed),
		slog.Int("errors", len(report.Errors)),
		slog.Int("broken_links", len(broken)),
		slog.Duration("took", report.Duration))
	r.emit(Event{Kind: EventRebuilt})
	return report, nil
}

// decodeFile reads and decodes path into an index entry.
func (r *Repository) decodeFile(path string) decoded {
	data, err := r.store.Read(path)
	if err != nil {
		return decoded{err: apperr.Storage("read", err)}
	}
	n, err := codec.Decode(data, path)
	if err != nil {
		return decoded{err: err}
	}
	settle(n)
	dedupeLinks(n)
	return decoded{entry: index.Entry{Note: *n, Path: path, Checksum: checksum.Sum(data)}}
}

// dedupeLinks drops repeated (target, type) pairs a hand edit may contain;
// the first occurrence wins.
func dedupeLinks(n *models.Note) {
	links := n.Links
	n.Links = nil
	for _, l := range links {
		n.AddLink(l)
	}
}
