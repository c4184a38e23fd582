package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func newVault(t *testing.T, opts ...Option) *FS {
	t.Helper()
	s, err := NewFS(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return s
}

func mustRead(t *testing.T, s *FS, path string) string {
	t.Helper()
	got, err := s.Read(path)
	if err != nil {
		t.Fatalf("Read(%s): %v", path, err)
	}
	return string(got)
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	matches, _ := filepath.Glob(filepath.Join(dir, tmpPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestWriteReplacesAtomically(t *testing.T) {
	s := newVault(t)
	if err := s.Write("n.md", []byte("first")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write("n.md", []byte("second")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := mustRead(t, s, "n.md"); got != "second" {
		t.Errorf("content = %q", got)
	}
	info, err := os.Stat(filepath.Join(s.Root(), "n.md"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("mode = %v, want 0644", info.Mode().Perm())
	}
	assertNoTempFiles(t, s.Root())
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := newVault(t)
	if err := s.Write("a/b/c.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := mustRead(t, s, "a/b/c.md"); got != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestCreateNeverClobbers(t *testing.T) {
	s := newVault(t)
	if err := s.Create("n.md", []byte("mine")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := s.Create("n.md", []byte("theirs"))
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("second Create err = %v, want fs.ErrExist", err)
	}
	if got := mustRead(t, s, "n.md"); got != "mine" {
		t.Errorf("content = %q, existing file was replaced", got)
	}
	assertNoTempFiles(t, s.Root())
}

func TestDelete(t *testing.T) {
	s := newVault(t)
	_ = s.Write("del.md", []byte("bye"))
	if err := s.Delete("del.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.md"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Read after delete err = %v, want fs.ErrNotExist", err)
	}
	if err := s.Delete("del.md"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("second Delete err = %v", err)
	}
}

func TestPathsOutsideVault(t *testing.T) {
	s := newVault(t)

	for _, p := range []string{"../../etc/passwd", "../outside.md", "/etc/shadow", "a/../../x.md"} {
		t.Run(p, func(t *testing.T) {
			if _, err := s.Read(p); !errors.Is(err, ErrOutsideVault) {
				t.Errorf("Read err = %v", err)
			}
			if err := s.Write(p, []byte("x")); !errors.Is(err, ErrOutsideVault) {
				t.Errorf("Write err = %v", err)
			}
			if err := s.Create(p, []byte("x")); !errors.Is(err, ErrOutsideVault) {
				t.Errorf("Create err = %v", err)
			}
			if _, err := s.Exists(p); !errors.Is(err, ErrOutsideVault) {
				t.Errorf("Exists err = %v", err)
			}
		})
	}

	// Cleaned paths that stay inside are fine.
	if err := s.Write("a/../inside.md", []byte("ok")); err != nil {
		t.Errorf("Write inside: %v", err)
	}
}

func TestReadRefusesSymlinksLeavingVault(t *testing.T) {
	s := newVault(t)
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.md")
	if err := os.WriteFile(secret, []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(secret, filepath.Join(s.Root(), "leak.md")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(s.Root(), "elsewhere")); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{"leak.md", "elsewhere/secret.md"} {
		got, err := s.Read(p)
		if !errors.Is(err, ErrOutsideVault) {
			t.Errorf("Read(%s) = %q, %v; want ErrOutsideVault", p, got, err)
		}
	}

	// A link that stays inside is followed.
	_ = s.Write("real.md", []byte("inside"))
	if err := os.Symlink(filepath.Join(s.Root(), "real.md"), filepath.Join(s.Root(), "alias.md")); err != nil {
		t.Fatal(err)
	}
	if got := mustRead(t, s, "alias.md"); got != "inside" {
		t.Errorf("content = %q", got)
	}
}

func TestNewFS_Root(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for non-existent dir")
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFS(file); err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestExists(t *testing.T) {
	s := newVault(t)
	_ = s.Write("here.md", []byte("x"))
	_ = os.MkdirAll(filepath.Join(s.Root(), "dir.md"), 0o755)

	tests := []struct {
		path string
		want bool
	}{
		{"here.md", true},
		{"missing.md", false},
		{"dir.md", false},
	}
	for _, tt := range tests {
		got, err := s.Exists(tt.path)
		if err != nil || got != tt.want {
			t.Errorf("Exists(%s) = %v, %v; want %v", tt.path, got, err, tt.want)
		}
	}
}

func TestList(t *testing.T) {
	s := newVault(t, WithIgnore(".*", "templates/**", "**/draft-*.md"))
	root := s.Root()
	_ = s.Write("b.md", []byte("b"))
	_ = s.Write("a.md", []byte("a"))
	_ = s.Write("sub/c.md", []byte("c"))
	_ = s.Write("sub/draft-1.md", []byte("draft"))
	_ = s.Write("templates/t.md", []byte("tmpl"))
	_ = s.Write(".git/HEAD.md", []byte("git"))
	_ = s.Write("readme.txt", []byte("not a note"))
	_ = os.WriteFile(filepath.Join(root, tmpPrefix+"stale.md"), []byte("tmp"), 0o644)
	if err := os.Symlink(filepath.Join(root, "a.md"), filepath.Join(root, "link.md")); err != nil {
		t.Fatal(err)
	}

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var paths []string
	for _, it := range items {
		paths = append(paths, it.Path)
	}
	want := []string{"a.md", "b.md", "sub/c.md"}
	if len(paths) != len(want) {
		t.Fatalf("listed %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("listed %v, want %v", paths, want)
		}
	}

	sums := map[string]string{}
	for _, it := range items {
		sums[it.Path] = it.Checksum
	}
	_ = s.Write("a.md", []byte("a2"))
	again, _ := s.List("")
	if again[0].Checksum == sums["a.md"] {
		t.Error("checksum did not change after edit")
	}
	if again[1].Checksum != sums["b.md"] {
		t.Error("checksum of untouched file changed")
	}
}

func TestListSubdir(t *testing.T) {
	s := newVault(t)
	_ = s.Write("top.md", []byte("t"))
	_ = s.Write("sub/inner.md", []byte("i"))

	items, err := s.List("sub")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].Path != "sub/inner.md" {
		t.Errorf("items = %+v", items)
	}
}

func TestWithIgnore_BadPattern(t *testing.T) {
	if _, err := NewFS(t.TempDir(), WithIgnore("[unclosed")); err == nil {
		t.Error("expected error for invalid glob")
	}
}
