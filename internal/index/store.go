package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/models"
)

// Entry is one decoded note together with the file it was read from.
type Entry struct {
	Note     models.Note
	Path     string
	Checksum string
}

// Fingerprint identifies the file an index row was built from.
type Fingerprint struct {
	ID       string
	Path     string
	Checksum string
}

// UpsertNote replaces the note row, its tag associations and its outgoing
// links in one transaction. A row previously indexed from the same path under
// another id is dropped: the file now belongs to e.Note.ID.
func (db *DB) UpsertNote(ctx context.Context, e Entry) error {
	return db.withTx(ctx, "index: upsert note", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE path = ? AND id <> ?`, e.Path, e.Note.ID); err != nil {
			return err
		}
		if err := writeNote(ctx, tx, e); err != nil {
			return err
		}
		if err := writeLinks(ctx, tx, e.Note); err != nil {
			return err
		}
		return pruneTags(ctx, tx)
	})
}

// DeleteNote removes the note row with its tags and outgoing links. Links
// from other notes that target id are left in place. Deleting an unknown id
// is not an error.
func (db *DB) DeleteNote(ctx context.Context, id string) error {
	return db.withTx(ctx, "index: delete note", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
			return err
		}
		return pruneTags(ctx, tx)
	})
}

// ReplaceAll clears the index and loads entries in a single transaction.
// Note and tag rows are written first so that every link target that will
// exist does exist when links are inserted. Entries are written in id order,
// which keeps tag surrogate keys stable across identical rebuilds.
// It returns the links whose target is not among entries.
func (db *DB) ReplaceAll(ctx context.Context, entries []Entry) ([]models.Link, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Note.ID < sorted[j].Note.ID })

	var broken []models.Link
	err := db.withTx(ctx, "index: replace all", func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM links`,
			`DELETE FROM note_tags`,
			`DELETE FROM notes`,
			`DELETE FROM tags`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}

		known := make(map[string]struct{}, len(sorted))
		for _, e := range sorted {
			if _, dup := known[e.Note.ID]; dup {
				return fmt.Errorf("note %s: %w: duplicate id", e.Note.ID, apperr.ErrConflict)
			}
			if err := writeNote(ctx, tx, e); err != nil {
				return fmt.Errorf("note %s: %w", e.Note.ID, err)
			}
			known[e.Note.ID] = struct{}{}
		}

		for _, e := range sorted {
			if err := writeLinks(ctx, tx, e.Note); err != nil {
				return fmt.Errorf("links of %s: %w", e.Note.ID, err)
			}
			for _, l := range e.Note.Links {
				if _, ok := known[l.TargetID]; !ok {
					broken = append(broken, l)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return broken, nil
}

// Lookup returns the fingerprint of the row indexed under id.
func (db *DB) Lookup(ctx context.Context, id string) (Fingerprint, error) {
	return db.fingerprint(ctx, `SELECT id, path, checksum FROM notes WHERE id = ?`, id)
}

// LookupPath returns the fingerprint of the row indexed from path.
func (db *DB) LookupPath(ctx context.Context, path string) (Fingerprint, error) {
	return db.fingerprint(ctx, `SELECT id, path, checksum FROM notes WHERE path = ?`, path)
}

func (db *DB) fingerprint(ctx context.Context, query, arg string) (Fingerprint, error) {
	var fp Fingerprint
	err := db.conn.QueryRowContext(ctx, query, arg).Scan(&fp.ID, &fp.Path, &fp.Checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return Fingerprint{}, fmt.Errorf("index: %s: %w", arg, apperr.ErrNotFound)
	}
	if err != nil {
		return Fingerprint{}, apperr.Storage("index: lookup", err)
	}
	return fp, nil
}

// Fingerprints returns every indexed row keyed by path.
func (db *DB) Fingerprints(ctx context.Context) (map[string]Fingerprint, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, path, checksum FROM notes`)
	if err != nil {
		return nil, apperr.Storage("index: fingerprints", err)
	}
	defer rows.Close()

	out := make(map[string]Fingerprint)
	for rows.Next() {
		var fp Fingerprint
		if err := rows.Scan(&fp.ID, &fp.Path, &fp.Checksum); err != nil {
			return nil, apperr.Storage("index: fingerprints", err)
		}
		out[fp.Path] = fp
	}
	return out, apperr.Storage("index: fingerprints", rows.Err())
}

// withTx runs fn in a transaction, rolling back on any error. Unique
// constraint violations surface as apperr.ErrConflict, everything else as a
// StorageError.
func (db *DB) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return translate(op, err)
	}
	if err := tx.Commit(); err != nil {
		return translate(op, err)
	}
	return nil
}

func translate(op string, err error) error {
	if errors.Is(err, apperr.ErrConflict) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%s: %w: %v", op, apperr.ErrConflict, err)
	}
	return apperr.Storage(op, err)
}

func writeNote(ctx context.Context, tx *sql.Tx, e Entry) error {
	n := e.Note
	meta := "{}"
	if len(n.Metadata) > 0 {
		b, err := json.Marshal(n.Metadata)
		if err != nil {
			return err
		}
		meta = string(b)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO notes (id, path, title, content, note_type, metadata, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			title = excluded.title,
			content = excluded.content,
			note_type = excluded.note_type,
			metadata = excluded.metadata,
			checksum = excluded.checksum,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		n.ID, e.Path, n.Title, n.Content, string(n.Type), meta, e.Checksum,
		formatTime(n.CreatedAt), formatTime(n.UpdatedAt))
	if err != nil {
		return err
	}

	// The association set is replaced wholesale; a duplicate name in the
	// input trips UNIQUE(note_id, tag_id) and aborts the transaction.
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_tags WHERE note_id = ?`, n.ID); err != nil {
		return err
	}
	if len(n.Tags) == 0 {
		return nil
	}

	ensure, err := tx.PrepareContext(ctx, `INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO NOTHING`)
	if err != nil {
		return err
	}
	defer ensure.Close()
	lookup, err := tx.PrepareContext(ctx, `SELECT id FROM tags WHERE name = ?`)
	if err != nil {
		return err
	}
	defer lookup.Close()
	assoc, err := tx.PrepareContext(ctx, `INSERT INTO note_tags (note_id, tag_id) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer assoc.Close()

	for _, t := range n.Tags {
		if _, err := ensure.ExecContext(ctx, t.Name); err != nil {
			return err
		}
		var tagID int64
		if err := lookup.QueryRowContext(ctx, t.Name).Scan(&tagID); err != nil {
			return err
		}
		if _, err := assoc.ExecContext(ctx, n.ID, tagID); err != nil {
			return err
		}
	}
	return nil
}

func writeLinks(ctx context.Context, tx *sql.Tx, n models.Note) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE source_id = ?`, n.ID); err != nil {
		return err
	}
	if len(n.Links) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO links (source_id, target_id, link_type, description, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, l := range n.Links {
		if _, err := stmt.ExecContext(ctx, n.ID, l.TargetID, string(l.Type), l.Description, i, formatTime(l.CreatedAt)); err != nil {
			return err
		}
	}
	return nil
}

func pruneTags(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE id NOT IN (SELECT tag_id FROM note_tags)`)
	return err
}
