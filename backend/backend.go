// Package backend provides path-addressed storage for managed repositories.
package backend

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a key does not exist in the backend.
var ErrNotFound = errors.New("not found")

// ErrOutsideRoot is returned when a path does not resolve below the backend root.
var ErrOutsideRoot = errors.New("path outside root")

// Info describes a stored object.
type Info struct {
	Key     string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Entry is one child of a listed directory.
type Entry struct {
	Name  string
	IsDir bool
}

// Backend defines the interface for storage backends.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Write stores data at the given key.
	// If the key already exists, it is replaced atomically.
	Write(ctx context.Context, key string, r io.Reader) error

	// Read retrieves data at the given key.
	// Returns ErrNotFound if the key does not exist.
	// The caller must close the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes data at the given key.
	// Returns nil if the key does not exist (idempotent).
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys with the given prefix.
	// The prefix should use "/" as the path separator.
	List(ctx context.Context, prefix string) ([]string, error)

	// ListDir returns the immediate children of the directory at key.
	// Returns ErrNotFound if the directory does not exist.
	ListDir(ctx context.Context, key string) ([]Entry, error)

	// Stat returns size and modification time for the key.
	// Returns ErrNotFound if the key does not exist.
	Stat(ctx context.Context, key string) (Info, error)
}
