//go:generate mockgen -destination=./mocks/transport.go -package=mocks . Transport

// Package transport retrieves files from remote repositories. Implementations
// are selected by URL scheme.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wolfeidau/repository-proxy/repository"
)

var (
	// ErrResourceNotFound is returned when the remote does not have the path.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrConnection is returned when the remote cannot be reached.
	ErrConnection = errors.New("connection failed")

	// ErrAuthorization is returned when the remote rejects the credentials.
	ErrAuthorization = errors.New("authorization failed")

	// ErrUnsupportedProtocol is returned when no transport handles a scheme.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")

	// ErrNotConnected is returned by transfers attempted before Connect.
	ErrNotConnected = errors.New("transport not connected")
)

// Transport moves files from one remote repository to local paths. A value
// is used by a single fetch attempt: Connect, transfers, then Disconnect.
type Transport interface {
	// Connect prepares transfers from target, through proxy when non-nil.
	Connect(ctx context.Context, target *repository.Repository, proxy *repository.NetworkProxy) error

	// Get writes the remote path to dest, replacing any content.
	Get(ctx context.Context, remotePath, dest string) error

	// GetIfNewer writes the remote path to dest only when the remote copy is
	// newer than since. It reports whether a transfer happened.
	GetIfNewer(ctx context.Context, remotePath, dest string, since time.Time) (bool, error)

	Disconnect() error
}

// Error describes a failed transfer.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Factory creates a Transport for one fetch attempt.
type Factory func() Transport

// Registry maps URL schemes to transport factories.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for scheme.
func (r *Registry) Register(scheme string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(scheme)] = f
}

// For returns a new transport for scheme.
func (r *Registry) For(scheme string) (Transport, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(scheme)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, scheme)
	}
	return f(), nil
}

// Schemes lists the registered schemes in order.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemes := make([]string, 0, len(r.factories))
	for s := range r.factories {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// NewDefaultRegistry registers the HTTP transport for http and https and the
// file transport for file URLs.
func NewDefaultRegistry(opts ...HTTPOption) *Registry {
	r := NewRegistry()
	pool := NewHTTPPool(opts...)
	r.Register("http", pool.New)
	r.Register("https", pool.New)
	r.Register("file", func() Transport { return NewFile() })
	return r
}
