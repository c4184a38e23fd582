// Package index provides the SQLite projection of the note tree: notes, tags,
// their associations and outgoing links. It holds no business rules; every
// row can be rebuilt from the files.
package index

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/text/cases"
)

// driverName is go-sqlite3 with the fold() SQL function registered.
const driverName = "sqlite3_zettel"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("fold", fold, true)
		},
	})
}

// fold applies Unicode case folding, so substring matches are
// case-insensitive beyond ASCII.
func fold(s string) string {
	return cases.Fold().String(s)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL UNIQUE,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	note_type  TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	checksum   TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tags (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS note_tags (
	note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	tag_id  INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	UNIQUE(note_id, tag_id)
);

CREATE TABLE IF NOT EXISTS links (
	id          INTEGER PRIMARY KEY,
	source_id   TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	target_id   TEXT NOT NULL,
	link_type   TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	position    INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	UNIQUE(source_id, target_id, link_type)
);

CREATE INDEX IF NOT EXISTS idx_note_tags_tag ON note_tags(tag_id);
CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_id);
CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created_at);
CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated_at);
`

// timeLayout is fixed-width so that text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
// Write transactions take the database lock up front so that concurrent
// writers queue on the busy timeout instead of failing on lock upgrade.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open(driverName, dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("index: bad timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
