package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/models"
)

// Order selects how query results are sorted.
type Order string

const (
	// OrderID sorts by id ascending, which is creation order.
	OrderID Order = ""
	// OrderCreated sorts newest-created first.
	OrderCreated Order = "created"
	// OrderUpdated sorts most recently updated first.
	OrderUpdated Order = "updated"
)

// Query is the filter set accepted by Search. Zero-valued fields are ignored
// and the remaining ones combine with AND.
type Query struct {
	// Content matches case-insensitively against title and body.
	Content string
	// Title matches case-insensitively against the title only.
	Title string
	// Tags must all be carried by the note.
	Tags     []string
	NoteType models.NoteType
	// LinkedTo requires an edge between the note and this id in either
	// direction. Incoming edges are compared using the inverse link type.
	LinkedTo string
	// LinkType narrows LinkedTo; on its own it requires any edge of the type.
	LinkType models.LinkType

	CreatedFrom, CreatedTo time.Time
	UpdatedFrom, UpdatedTo time.Time

	Order  Order
	Limit  int
	Offset int
}

// LinkRow is a stored link plus what the index knows about the note on the
// other end.
type LinkRow struct {
	models.Link
	PeerTitle  string
	PeerExists bool
}

// Degree counts the stored links leaving and entering a note.
type Degree struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Outgoing int    `json:"outgoing"`
	Incoming int    `json:"incoming"`
}

// Total returns the combined degree.
func (d Degree) Total() int { return d.Outgoing + d.Incoming }

// TagCount is a tag name with the number of notes carrying it.
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

const noteColumns = `n.id, n.title, n.content, n.note_type, n.metadata, n.created_at, n.updated_at`

// Search returns the notes matching q, with tags and links loaded.
func (db *DB) Search(ctx context.Context, q Query) ([]models.Note, error) {
	var (
		where []string
		args  []any
	)

	if s := strings.TrimSpace(q.Content); s != "" {
		where = append(where, `(instr(fold(n.title), ?) > 0 OR instr(fold(n.content), ?) > 0)`)
		args = append(args, fold(s), fold(s))
	}
	if s := strings.TrimSpace(q.Title); s != "" {
		where = append(where, `instr(fold(n.title), ?) > 0`)
		args = append(args, fold(s))
	}
	for _, name := range models.NewTagSet(q.Tags...).Names() {
		where = append(where, `EXISTS (SELECT 1 FROM note_tags nt JOIN tags t ON t.id = nt.tag_id
			WHERE nt.note_id = n.id AND t.name = ?)`)
		args = append(args, name)
	}
	if q.NoteType != "" {
		where = append(where, `n.note_type = ?`)
		args = append(args, string(q.NoteType))
	}
	if clause, clauseArgs := linkClause(q.LinkedTo, q.LinkType); clause != "" {
		where = append(where, clause)
		args = append(args, clauseArgs...)
	}
	for _, r := range []struct {
		col  string
		op   string
		when time.Time
	}{
		{"n.created_at", ">=", q.CreatedFrom},
		{"n.created_at", "<=", q.CreatedTo},
		{"n.updated_at", ">=", q.UpdatedFrom},
		{"n.updated_at", "<=", q.UpdatedTo},
	} {
		if !r.when.IsZero() {
			where = append(where, r.col+" "+r.op+" ?")
			args = append(args, formatTime(r.when))
		}
	}

	query := `SELECT ` + noteColumns + ` FROM notes n`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	switch q.Order {
	case OrderCreated:
		query += ` ORDER BY n.created_at DESC, n.id DESC`
	case OrderUpdated:
		query += ` ORDER BY n.updated_at DESC, n.id DESC`
	default:
		query += ` ORDER BY n.id`
	}
	if q.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, q.Offset)
	}

	return db.queryNotes(ctx, query, args...)
}

func linkClause(linkedTo string, lt models.LinkType) (string, []any) {
	switch {
	case linkedTo != "" && lt != "":
		return `(EXISTS (SELECT 1 FROM links l WHERE l.source_id = n.id AND l.target_id = ? AND l.link_type = ?)
			OR EXISTS (SELECT 1 FROM links l WHERE l.target_id = n.id AND l.source_id = ? AND l.link_type = ?))`,
			[]any{linkedTo, string(lt), linkedTo, string(lt.Inverse())}
	case linkedTo != "":
		return `(EXISTS (SELECT 1 FROM links l WHERE l.source_id = n.id AND l.target_id = ?)
			OR EXISTS (SELECT 1 FROM links l WHERE l.target_id = n.id AND l.source_id = ?))`,
			[]any{linkedTo, linkedTo}
	case lt != "":
		return `(EXISTS (SELECT 1 FROM links l WHERE l.source_id = n.id AND l.link_type = ?)
			OR EXISTS (SELECT 1 FROM links l WHERE l.target_id = n.id AND l.link_type = ?))`,
			[]any{string(lt), string(lt.Inverse())}
	}
	return "", nil
}

// GetNote returns the indexed projection of id. Callers that need current
// content must read the file instead.
func (db *DB) GetNote(ctx context.Context, id string) (*models.Note, error) {
	notes, err := db.queryNotes(ctx, `SELECT `+noteColumns+` FROM notes n WHERE n.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, fmt.Errorf("index: note %s: %w", id, apperr.ErrNotFound)
	}
	return &notes[0], nil
}

// LinksFrom returns the links stored on id, in the order the note holds them.
func (db *DB) LinksFrom(ctx context.Context, id string) ([]LinkRow, error) {
	return db.queryLinkRows(ctx, `
		SELECT l.source_id, l.target_id, l.link_type, l.description, l.created_at,
			COALESCE(p.title, ''), p.id IS NOT NULL
		FROM links l LEFT JOIN notes p ON p.id = l.target_id
		WHERE l.source_id = ?
		ORDER BY l.position`, id)
}

// LinksTo returns the links stored on other notes that target id.
func (db *DB) LinksTo(ctx context.Context, id string) ([]LinkRow, error) {
	return db.queryLinkRows(ctx, `
		SELECT l.source_id, l.target_id, l.link_type, l.description, l.created_at,
			p.title, 1
		FROM links l JOIN notes p ON p.id = l.source_id
		WHERE l.target_id = ?
		ORDER BY l.source_id, l.position`, id)
}

// BrokenLinks returns every stored link whose target has no index row.
func (db *DB) BrokenLinks(ctx context.Context) ([]LinkRow, error) {
	return db.queryLinkRows(ctx, `
		SELECT l.source_id, l.target_id, l.link_type, l.description, l.created_at,
			'', 0
		FROM links l
		WHERE NOT EXISTS (SELECT 1 FROM notes p WHERE p.id = l.target_id)
		ORDER BY l.source_id, l.position`)
}

// Orphans returns notes with no stored link in either direction.
func (db *DB) Orphans(ctx context.Context) ([]models.Note, error) {
	return db.queryNotes(ctx, `SELECT `+noteColumns+` FROM notes n
		WHERE NOT EXISTS (SELECT 1 FROM links l WHERE l.source_id = n.id)
		AND NOT EXISTS (SELECT 1 FROM links l WHERE l.target_id = n.id)
		ORDER BY n.id`)
}

// Degrees returns notes whose combined degree is at least minDegree, highest first.
// A non-positive limit returns every match.
func (db *DB) Degrees(ctx context.Context, minDegree, limit int) ([]Degree, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, outgoing, incoming FROM (
			SELECT n.id AS id, n.title AS title,
				(SELECT COUNT(*) FROM links l WHERE l.source_id = n.id) AS outgoing,
				(SELECT COUNT(*) FROM links l WHERE l.target_id = n.id) AS incoming
			FROM notes n
		)
		WHERE outgoing + incoming >= ?
		ORDER BY outgoing + incoming DESC, id
		LIMIT ?`, minDegree, limit)
	if err != nil {
		return nil, apperr.Storage("index: degrees", err)
	}
	defer rows.Close()

	var out []Degree
	for rows.Next() {
		var d Degree
		if err := rows.Scan(&d.ID, &d.Title, &d.Outgoing, &d.Incoming); err != nil {
			return nil, apperr.Storage("index: degrees", err)
		}
		out = append(out, d)
	}
	return out, apperr.Storage("index: degrees", rows.Err())
}

// TagCounts returns every tag in use with its note count, by name.
func (db *DB) TagCounts(ctx context.Context) ([]TagCount, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT t.name, COUNT(nt.note_id)
		FROM tags t JOIN note_tags nt ON nt.tag_id = t.id
		GROUP BY t.id
		ORDER BY t.name`)
	if err != nil {
		return nil, apperr.Storage("index: tags", err)
	}
	defer rows.Close()

	var out []TagCount
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Name, &tc.Count); err != nil {
			return nil, apperr.Storage("index: tags", err)
		}
		out = append(out, tc)
	}
	return out, apperr.Storage("index: tags", rows.Err())
}

// Count returns the number of indexed notes.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&n); err != nil {
		return 0, apperr.Storage("index: count", err)
	}
	return n, nil
}

// Snapshot renders every row of every table in a stable order. Two indexes
// built from the same files produce equal snapshots.
func (db *DB) Snapshot(ctx context.Context) ([]string, error) {
	var out []string
	for _, table := range []string{"notes", "tags", "note_tags", "links"} {
		rows, err := db.conn.QueryContext(ctx, `SELECT * FROM `+table+` ORDER BY rowid`)
		if err != nil {
			return nil, apperr.Storage("index: snapshot", err)
		}
		cols, err := rows.Columns()
		if err != nil {
			rows.Close()
			return nil, apperr.Storage("index: snapshot", err)
		}
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		for rows.Next() {
			if err := rows.Scan(ptrs...); err != nil {
				rows.Close()
				return nil, apperr.Storage("index: snapshot", err)
			}
			fields := make([]string, len(vals))
			for i, v := range vals {
				fields[i] = v.String
			}
			out = append(out, table+"|"+strings.Join(fields, "|"))
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, apperr.Storage("index: snapshot", err)
		}
	}
	return out, nil
}

func (db *DB) queryNotes(ctx context.Context, query string, args ...any) ([]models.Note, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("index: query notes", err)
	}
	defer rows.Close()

	var notes []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("index: query notes", err)
	}
	if err := db.hydrate(ctx, notes); err != nil {
		return nil, err
	}
	return notes, nil
}

func scanNote(rows *sql.Rows) (models.Note, error) {
	var (
		n                  models.Note
		noteType, metadata string
		created, updated   string
	)
	if err := rows.Scan(&n.ID, &n.Title, &n.Content, &noteType, &metadata, &created, &updated); err != nil {
		return n, apperr.Storage("index: scan note", err)
	}
	n.Type = models.NoteType(noteType)
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &n.Metadata); err != nil {
			return n, apperr.Storage("index: scan note", err)
		}
	}
	var err error
	if n.CreatedAt, err = parseTime(created); err != nil {
		return n, apperr.Storage("index: scan note", err)
	}
	if n.UpdatedAt, err = parseTime(updated); err != nil {
		return n, apperr.Storage("index: scan note", err)
	}
	return n, nil
}

// hydrateChunk bounds the number of bound parameters per IN list.
const hydrateChunk = 500

// hydrate loads tags and outgoing links for notes in place.
func (db *DB) hydrate(ctx context.Context, notes []models.Note) error {
	pos := make(map[string]int, len(notes))
	for i, n := range notes {
		pos[n.ID] = i
	}
	for start := 0; start < len(notes); start += hydrateChunk {
		end := min(start+hydrateChunk, len(notes))
		ids := make([]any, 0, end-start)
		for _, n := range notes[start:end] {
			ids = append(ids, n.ID)
		}
		in := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

		tagRows, err := db.conn.QueryContext(ctx, `
			SELECT nt.note_id, t.name FROM note_tags nt JOIN tags t ON t.id = nt.tag_id
			WHERE nt.note_id IN (`+in+`) ORDER BY nt.note_id, t.name`, ids...)
		if err != nil {
			return apperr.Storage("index: load tags", err)
		}
		for tagRows.Next() {
			var id, name string
			if err := tagRows.Scan(&id, &name); err != nil {
				tagRows.Close()
				return apperr.Storage("index: load tags", err)
			}
			i := pos[id]
			notes[i].Tags = append(notes[i].Tags, models.Tag{Name: name})
		}
		err = tagRows.Err()
		tagRows.Close()
		if err != nil {
			return apperr.Storage("index: load tags", err)
		}

		links, err := db.queryLinkRows(ctx, `
			SELECT l.source_id, l.target_id, l.link_type, l.description, l.created_at, '', 0
			FROM links l WHERE l.source_id IN (`+in+`) ORDER BY l.source_id, l.position`, ids...)
		if err != nil {
			return err
		}
		for _, l := range links {
			i := pos[l.SourceID]
			notes[i].Links = append(notes[i].Links, l.Link)
		}
	}
	return nil
}

func (db *DB) queryLinkRows(ctx context.Context, query string, args ...any) ([]LinkRow, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("index: query links", err)
	}
	defer rows.Close()

	var out []LinkRow
	for rows.Next() {
		var (
			r        LinkRow
			linkType string
			created  string
		)
		if err := rows.Scan(&r.SourceID, &r.TargetID, &linkType, &r.Description, &created, &r.PeerTitle, &r.PeerExists); err != nil {
			return nil, apperr.Storage("index: query links", err)
		}
		r.Type = models.LinkType(linkType)
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, apperr.Storage("index: query links", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("index: query links", err)
	}
	return out, nil
}
