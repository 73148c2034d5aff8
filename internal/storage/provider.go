// Package storage defines the vault file-system abstraction.
package storage

import "time"

// FileInfo is the lightweight listing entry for a vault file.
type FileInfo struct {
	// Path is relative to the vault root.
	Path    string
	Name    string
	ModTime time.Time
}

// Provider is the interface for vault file operations. All paths are
// relative to the vault root.
type Provider interface {
	// List returns every .md file directly under dir, sorted by name.
	// A missing directory lists as empty, not as an error.
	List(dir string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) (bool, error)
}
