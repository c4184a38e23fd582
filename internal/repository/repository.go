// Package repository keeps the note files and the SQLite index in agreement.
// Files are authoritative: reads go to disk, and every write lands in the
// file first and is then mirrored into the index.
package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/checksum"
	"github.com/starford/zettel/internal/codec"
	"github.com/starford/zettel/internal/idgen"
	"github.com/starford/zettel/internal/index"
	"github.com/starford/zettel/internal/models"
	"github.com/starford/zettel/internal/storage"
)

// EventKind names a change observed by the repository.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
	EventRebuilt EventKind = "rebuilt"
)

// Event describes one committed change. Rebuild events carry no id.
type Event struct {
	Kind EventKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
	Path string    `json:"path,omitempty"`
}

// IDSource hands out note identifiers.
type IDSource interface {
	NewID() string
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDSource replaces the ULID generator.
func WithIDSource(ids IDSource) Option {
	return func(r *Repository) { r.ids = ids }
}

// WithRequireContent rejects notes with a blank body.
func WithRequireContent(v bool) Option {
	return func(r *Repository) { r.requireContent = v }
}

// WithIndexRetries sets how many times a failed index mirror is retried
// before the note is recorded as drifted.
func WithIndexRetries(n int) Option {
	return func(r *Repository) { r.retries = n }
}

// WithEventFunc registers fn to be called after each committed change.
func WithEventFunc(fn func(Event)) Option {
	return func(r *Repository) { r.onEvent = fn }
}

// Repository orchestrates the file store and the index.
type Repository struct {
	store  storage.Provider
	index  index.Writer
	ids    IDSource
	logger *slog.Logger
	now    func() time.Time

	requireContent bool
	retries        int
	onEvent        func(Event)

	// gate is held shared by single-note mutations and exclusively by
	// Rebuild, so no write lands between a rebuild's scan and its swap.
	gate  sync.RWMutex
	locks *keyedMutex

	driftMu sync.Mutex
	pending map[string]string // id -> reason, awaiting Reconcile
}

// New creates a Repository over store and idx.
func New(store storage.Provider, idx index.Writer, opts ...Option) *Repository {
	r := &Repository{
		store:   store,
		index:   idx,
		ids:     idgen.New(),
		logger:  slog.Default(),
		now:     time.Now,
		retries: 2,
		locks:   newKeyedMutex(),
		pending: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores a new note. The id is generated unless n carries one;
// created_at defaults to now. It fails with a ValidationError when the note
// breaks policy and with ErrConflict when the id is taken.
func (r *Repository) Create(ctx context.Context, n models.Note) (*models.Note, error) {
	r.gate.RLock()
	defer r.gate.RUnlock()

	note := n.Clone()
	if note.ID == "" {
		note.ID = r.ids.NewID()
	}
	if note.Type == "" {
		note.Type = models.NotePermanent
	}
	unlock := r.locks.Lock(note.ID)
	defer unlock()

	now := r.clock()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.CreatedAt = note.CreatedAt.UTC()
	note.UpdatedAt = later(now, note.CreatedAt)
	canonicalize(&note, nil)
	if err := r.validate(&note); err != nil {
		return nil, err
	}

	path := codec.FileName(note.ID)
	exists, err := r.store.Exists(path)
	if err != nil {
		return nil, apperr.Storage("repository: create", err)
	}
	if !exists {
		if _, err := r.index.Lookup(ctx, note.ID); err == nil {
			exists = true
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}
	if exists {
		return nil, fmt.Errorf("repository: create %s: %w: id already exists", note.ID, apperr.ErrConflict)
	}

	if err := r.persist(ctx, note, path, r.store.Create); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("repository: create %s: %w: id already exists", note.ID, apperr.ErrConflict)
		}
		return nil, err
	}
	r.logger.Debug("repository: created", slog.String("id", note.ID))
	r.emit(Event{Kind: EventCreated, ID: note.ID, Path: path})
	return &note, nil
}

// Get reads id from its file. The index is consulted only to find a file
// that is not at the default location. A file that is gone while the index
// still lists it is reported as ErrNotFound and queued for reconciliation.
func (r *Repository) Get(ctx context.Context, id string) (*models.Note, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	n, _, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Update replaces the mutable fields of the stored note with those of n.
// The id and created_at are kept and updated_at is refreshed. An empty
// note type keeps the current one.
func (r *Repository) Update(ctx context.Context, n models.Note) (*models.Note, error) {
	return r.Modify(ctx, n.ID, func(cur *models.Note) error {
		cur.Title = n.Title
		cur.Content = n.Content
		if n.Type != "" {
			cur.Type = n.Type
		}
		cur.Tags = n.Tags
		cur.Links = n.Links
		cur.Metadata = n.Metadata
		return nil
	})
}

// Modify applies fn to the current version of id under the note's lock and
// stores the result. The file keeps its path.
func (r *Repository) Modify(ctx context.Context, id string, fn func(*models.Note) error) (*models.Note, error) {
	r.gate.RLock()
	defer r.gate.RUnlock()
	unlock := r.locks.Lock(id)
	defer unlock()

	cur, path, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}

	next := cur.Clone()
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = later(r.clock(), cur.UpdatedAt)
	canonicalize(&next, cur)
	if err := r.validate(&next); err != nil {
		return nil, err
	}

	if err := r.persist(ctx, next, path, r.store.Write); err != nil {
		return nil, err
	}
	r.logger.Debug("repository: updated", slog.String("id", id))
	r.emit(Event{Kind: EventUpdated, ID: id, Path: path})
	return &next, nil
}

// Delete removes the note file and its index row. Links on other notes that
// target id are left alone and show up as broken. When only a stale index row
// remains, the row is removed and ErrNotFound is returned.
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.gate.RLock()
	defer r.gate.RUnlock()
	unlock := r.locks.Lock(id)
	defer unlock()

	path, err := r.locate(ctx, id)
	if err != nil {
		if !errors.Is(err, errFileMissing) {
			return err
		}
		r.logger.Warn("repository: delete found index row without file", slog.String("id", id))
		if err := r.unmirror(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("repository: delete %s: %w", id, apperr.ErrNotFound)
	}

	if err := r.store.Delete(path); err != nil {
		return apperr.Storage("repository: delete", err)
	}
	if err := r.unmirror(ctx, id); err != nil {
		return err
	}
	r.logger.Debug("repository: deleted", slog.String("id", id))
	r.emit(Event{Kind: EventDeleted, ID: id, Path: path})
	return nil
}

// AddLink adds a link from source to target. With bidirectional set, the
// inverse-typed link is also added to target as a link target owns. Both
// notes must exist. Adding a link that is already present is a no-op.
func (r *Repository) AddLink(ctx context.Context, source, target string, lt models.LinkType, description string, bidirectional bool) (*models.Note, error) {
	if !lt.Valid() {
		return nil, apperr.NewValidationError(fmt.Errorf("unknown link type %q", lt))
	}
	if source == target {
		return nil, apperr.NewValidationError(errors.New("a note cannot link to itself"))
	}
	if _, err := r.Get(ctx, target); err != nil {
		return nil, err
	}

	src, err := r.Modify(ctx, source, func(n *models.Note) error {
		n.AddLink(models.Link{TargetID: target, Type: lt, Description: description})
		return nil
	})
	if err != nil || !bidirectional {
		return src, err
	}
	_, err = r.Modify(ctx, target, func(n *models.Note) error {
		n.AddLink(models.Link{TargetID: source, Type: lt.Inverse(), Description: description})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

// RemoveLink drops links from source to target. An empty lt removes links of
// every type. With bidirectional set, the matching inverse links on target
// are removed too.
func (r *Repository) RemoveLink(ctx context.Context, source, target string, lt models.LinkType, bidirectional bool) (*models.Note, error) {
	if lt != "" && !lt.Valid() {
		return nil, apperr.NewValidationError(fmt.Errorf("unknown link type %q", lt))
	}
	src, err := r.Modify(ctx, source, func(n *models.Note) error {
		n.RemoveLinks(target, lt)
		return nil
	})
	if err != nil || !bidirectional {
		return src, err
	}
	inverse := lt
	if lt != "" {
		inverse = lt.Inverse()
	}
	_, err = r.Modify(ctx, target, func(n *models.Note) error {
		n.RemoveLinks(source, inverse)
		return nil
	})
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return src, nil
}

// errFileMissing marks an id the index knows but the file tree does not.
var errFileMissing = errors.New("indexed file missing")

// locate finds the path of id's file: the default file name first, then the
// path recorded in the index. An id no note could carry is simply not found.
func (r *Repository) locate(ctx context.Context, id string) (string, error) {
	if !idPattern.MatchString(id) {
		return "", fmt.Errorf("repository: note %q: %w", id, apperr.ErrNotFound)
	}
	path := codec.FileName(id)
	ok, err := r.store.Exists(path)
	if err != nil {
		return "", apperr.Storage("repository: locate", err)
	}
	if ok {
		return path, nil
	}
	fp, err := r.index.Lookup(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", fmt.Errorf("repository: note %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	ok, err = r.store.Exists(fp.Path)
	if err != nil {
		return "", apperr.Storage("repository: locate", err)
	}
	if !ok {
		r.markDrift(id, "indexed file missing")
		return "", errFileMissing
	}
	return fp.Path, nil
}

// load reads and decodes id's file. Callers hold the id lock.
func (r *Repository) load(ctx context.Context, id string) (*models.Note, string, error) {
	path, err := r.locate(ctx, id)
	if errors.Is(err, errFileMissing) {
		r.logger.Warn("repository: index lists a note whose file is gone", slog.String("id", id))
		return nil, "", fmt.Errorf("repository: note %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, "", err
	}

	data, err := r.store.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("repository: note %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, "", apperr.Storage("repository: read", err)
	}
	n, err := codec.Decode(data, path)
	if err != nil {
		return nil, "", err
	}
	if n.ID != id {
		r.markDrift(id, "file "+path+" holds id "+n.ID)
		return nil, "", fmt.Errorf("repository: note %s: %w", id, apperr.ErrNotFound)
	}
	settle(n)
	return n, path, nil
}

// persist writes the file with write, then mirrors it into the index.
func (r *Repository) persist(ctx context.Context, n models.Note, path string, write func(string, []byte) error) error {
	data, err := codec.Encode(n)
	if err != nil {
		return err
	}
	if err := write(path, data); err != nil {
		return apperr.Storage("repository: write", err)
	}
	return r.mirror(ctx, index.Entry{Note: n, Path: path, Checksum: checksum.Sum(data)})
}

// mirror upserts e, retrying storage failures. When the index cannot be
// brought in line the note is recorded as drifted and a DriftError returned;
// the file write is never reported as a success on its own.
func (r *Repository) mirror(ctx context.Context, e index.Entry) error {
	err := r.retry(ctx, func() error { return r.index.UpsertNote(ctx, e) })
	if err == nil {
		r.clearDrift(e.Note.ID)
		return nil
	}
	r.markDrift(e.Note.ID, "index mirror failed")
	r.logger.Warn("repository: index mirror failed",
		slog.String("id", e.Note.ID),
		slog.String("error", err.Error()))
	return &apperr.DriftError{ID: e.Note.ID, Reason: "file written but index not updated", Err: err}
}

func (r *Repository) unmirror(ctx context.Context, id string) error {
	err := r.retry(ctx, func() error { return r.index.DeleteNote(ctx, id) })
	if err == nil {
		r.clearDrift(id)
		return nil
	}
	r.markDrift(id, "index delete failed")
	r.logger.Warn("repository: index delete failed",
		slog.String("id", id),
		slog.String("error", err.Error()))
	return &apperr.DriftError{ID: id, Reason: "file removed but index row kept", Err: err}
}

// retry runs fn up to 1+r.retries times. Conflicts are not retried.
func (r *Repository) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
			}
		}
		if err = fn(); err == nil || errors.Is(err, apperr.ErrConflict) {
			return err
		}
	}
	return err
}

func (r *Repository) emit(e Event) {
	if r.onEvent != nil {
		r.onEvent(e)
	}
}

func (r *Repository) clock() time.Time {
	return r.now().UTC()
}

// later returns the later of a and b.
func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// settle fills timestamps a hand-written file left out, keeping
// created_at <= updated_at. Stamped link times are left alone.
func settle(n *models.Note) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = n.UpdatedAt
	}
	if n.UpdatedAt.Before(n.CreatedAt) {
		n.UpdatedAt = n.CreatedAt
	}
	for i := range n.Links {
		if n.Links[i].CreatedAt.IsZero() {
			n.Links[i].CreatedAt = n.UpdatedAt
		}
	}
}
