// Package testutil provides shared test helpers for setting up vaults and databases.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/zettel/internal/index"
	"github.com/starford/zettel/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "zettel-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with a storage provider.
func TestVault(t *testing.T, opts ...storage.Option) (string, *storage.FS) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// WriteFile writes a vault file behind the repository's back, the way a
// text editor would.
func WriteFile(t *testing.T, vaultDir, rel, content string) {
	t.Helper()
	p := filepath.Join(vaultDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
