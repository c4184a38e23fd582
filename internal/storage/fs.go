package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/starford/zettel/internal/checksum"
)

const (
	noteExt   = ".md"
	tmpPrefix = ".zettel-tmp-"
)

// ErrOutsideVault is returned for paths that are absolute or resolve outside
// the vault root.
var ErrOutsideVault = errors.New("storage: path outside vault")

// FS implements Provider backed by the local file system.
type FS struct {
	root   string // absolute path to vault directory
	ignore []glob.Glob
}

// Option configures an FS.
type Option func(*FS) error

// WithIgnore skips paths (slash-separated, relative to the root) matching any
// of the glob patterns. A directory that matches is not descended into.
func WithIgnore(patterns ...string) Option {
	return func(f *FS) error {
		for _, p := range patterns {
			g, err := glob.Compile(p, '/')
			if err != nil {
				return fmt.Errorf("storage: ignore pattern %q: %w", p, err)
			}
			f.ignore = append(f.ignore, g)
		}
		return nil
	}
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string, opts ...Option) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	f := &FS{root: abs}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Root returns the absolute vault directory.
func (f *FS) Root() string { return f.root }

// resolve maps a slash-separated vault path to an absolute one.
func (f *FS) resolve(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: %s", ErrOutsideVault, rel)
	}
	abs := filepath.Join(f.root, cleaned)
	if !f.inside(abs) {
		return "", fmt.Errorf("%w: %s", ErrOutsideVault, rel)
	}
	return abs, nil
}

func (f *FS) inside(abs string) bool {
	return abs == f.root || strings.HasPrefix(abs, f.root+string(os.PathSeparator))
}

// Ignored reports whether rel matches one of the ignore patterns. The
// provider's own temp files are always ignored.
func (f *FS) Ignored(rel string) bool {
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(filepath.Base(rel), tmpPrefix) {
		return true
	}
	for _, g := range f.ignore {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// List walks dir and fingerprints every regular .md file that is not
// ignored. Symlinks are skipped. Results are in lexical path order.
func (f *FS) List(dir string) ([]FileInfo, error) {
	base, err := f.resolve(dir)
	if err != nil {
		return nil, err
	}
	var out []FileInfo
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, _ := filepath.Rel(f.root, p)
		if p != base && f.Ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), noteExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sum, err := fileSum(p)
		if err != nil {
			return err
		}
		out = append(out, FileInfo{
			Path:     filepath.ToSlash(rel),
			Checksum: sum,
			ModTime:  info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

func fileSum(p string) (string, error) {
	fh, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer fh.Close()
	return checksum.Stream(fh)
}

// Read returns the raw bytes of a vault file. Symlinks are followed only while
// they stay inside the vault.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	target, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	if !f.inside(target) {
		return nil, fmt.Errorf("%w: %s links outside", ErrOutsideVault, path)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Write replaces path with content atomically: readers see the old file or
// the new one, never a partial write.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	return f.commit(abs, content, func(tmp string) error {
		return os.Rename(tmp, abs)
	})
}

// Create writes content to path only if nothing exists there yet. An
// existing file yields an error matching fs.ErrExist and is left untouched.
func (f *FS) Create(path string, content []byte) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	return f.commit(abs, content, func(tmp string) error {
		// link(2) refuses to replace an existing name.
		if err := os.Link(tmp, abs); err != nil {
			return err
		}
		return os.Remove(tmp)
	})
}

// commit stages content in a synced temp file next to abs, then publishes it
// with place and syncs the directory.
func (f *FS) commit(abs string, content []byte, place func(tmp string) error) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()
	placed := false
	defer func() {
		if !placed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("storage: chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := place(tmpName); err != nil {
		return fmt.Errorf("storage: publish %s: %w", filepath.Base(abs), err)
	}
	placed = true
	return syncDir(dir)
}

// syncDir makes a rename or link in dir durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("storage: open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("storage: fsync dir: %w", err)
	}
	return nil
}

// Delete removes a file from the vault.
func (f *FS) Delete(path string) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	return syncDir(filepath.Dir(abs))
}

// Exists reports whether a regular file exists at path.
func (f *FS) Exists(path string) (bool, error) {
	abs, err := f.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}
