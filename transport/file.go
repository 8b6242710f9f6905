package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wolfeidau/repository-proxy/repository"
)

// File copies from repositories addressed by file:// URLs, such as a mounted
// mirror.
type File struct {
	root string
}

// NewFile returns an unconnected file transport.
func NewFile() *File {
	return &File{}
}

// Connect checks that the repository directory exists.
func (f *File) Connect(ctx context.Context, target *repository.Repository, _ *repository.NetworkProxy) error {
	if target == nil || target.URL == nil {
		return fmt.Errorf("%w: repository has no url", ErrConnection)
	}
	root := filepath.FromSlash(target.URL.Path)
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrConnection, root)
	}
	f.root = root
	return nil
}

// Get copies remotePath to dest, keeping its modification time.
func (f *File) Get(ctx context.Context, remotePath, dest string) error {
	_, err := f.copy(remotePath, dest, time.Time{})
	return err
}

// GetIfNewer copies remotePath when it was modified after since.
func (f *File) GetIfNewer(ctx context.Context, remotePath, dest string, since time.Time) (bool, error) {
	return f.copy(remotePath, dest, since)
}

// Disconnect forgets the repository root.
func (f *File) Disconnect() error {
	f.root = ""
	return nil
}

func (f *File) copy(remotePath, dest string, since time.Time) (bool, error) {
	if f.root == "" {
		return false, ErrNotConnected
	}
	src := filepath.Join(f.root, filepath.FromSlash(remotePath))
	url := "file://" + filepath.ToSlash(src)

	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return false, &Error{URL: url, Err: ErrResourceNotFound}
		}
		return false, &Error{URL: url, Err: err}
	}
	if info.IsDir() {
		return false, &Error{URL: url, Err: ErrResourceNotFound}
	}
	if !since.IsZero() && !info.ModTime().After(since) {
		return false, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return false, &Error{URL: url, Err: err}
	}
	defer func() { _ = in.Close() }()

	if err := writeFile(dest, in); err != nil {
		return false, &Error{URL: url, Err: err}
	}
	_ = os.Chtimes(dest, info.ModTime(), info.ModTime())
	return true, nil
}

var _ Transport = (*File)(nil)
