package index

import (
	"context"

	"github.com/starford/zettel/internal/models"
)

// Writer is the mutating half of the index, used by the repository.
type Writer interface {
	UpsertNote(ctx context.Context, e Entry) error
	DeleteNote(ctx context.Context, id string) error
	ReplaceAll(ctx context.Context, entries []Entry) ([]models.Link, error)
	Lookup(ctx context.Context, id string) (Fingerprint, error)
	LookupPath(ctx context.Context, path string) (Fingerprint, error)
	Fingerprints(ctx context.Context) (map[string]Fingerprint, error)
}

// Reader is the query half of the index, used by the graph service.
type Reader interface {
	Search(ctx context.Context, q Query) ([]models.Note, error)
	GetNote(ctx context.Context, id string) (*models.Note, error)
	LinksFrom(ctx context.Context, id string) ([]LinkRow, error)
	LinksTo(ctx context.Context, id string) ([]LinkRow, error)
	BrokenLinks(ctx context.Context) ([]LinkRow, error)
	Orphans(ctx context.Context) ([]models.Note, error)
	Degrees(ctx context.Context, minDegree, limit int) ([]Degree, error)
	TagCounts(ctx context.Context) ([]TagCount, error)
	Count(ctx context.Context) (int, error)
}

// NoteIndex defines the interface for note indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type NoteIndex interface {
	Writer
	Reader
	Close() error
}

// Verify *DB satisfies NoteIndex at compile time.
var _ NoteIndex = (*DB)(nil)
