// Package storage defines the vault file-system abstraction. Every path is
// relative to the vault root; paths that escape the root are rejected.
package storage

import "time"

// FileInfo describes one note file found under the vault root.
type FileInfo struct {
	Path     string
	Checksum string
	ModTime  time.Time
}

// Provider is the interface for vault file operations.
type Provider interface {
	// List returns every note file under dir (relative to vault root),
	// skipping ignored paths.
	List(dir string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Create is Write that fails with fs.ErrExist instead of replacing a file.
	Create(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) (bool, error)
	// Ignored reports whether path is excluded from the vault.
	Ignored(path string) bool
	// Root returns the absolute vault directory.
	Root() string
}
