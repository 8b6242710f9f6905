// Package repository describes managed and remote repositories and the
// network proxies used to reach remote ones.
package repository

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wolfeidau/repository-proxy/backend"
	"github.com/wolfeidau/repository-proxy/protocol/maven"
)

// DefaultTimeout bounds a single transfer from a remote repository.
const DefaultTimeout = 60 * time.Second

// ErrInvalidRepository is returned for incomplete repository definitions.
var ErrInvalidRepository = errors.New("invalid repository")

// Kind distinguishes managed from remote repositories.
type Kind int

const (
	// KindManaged repositories have a writable local root and receive proxied content.
	KindManaged Kind = iota
	// KindRemote repositories are reachable by URL only.
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindManaged:
		return "managed"
	case KindRemote:
		return "remote"
	}
	return "unknown"
}

// Repository identifies a repository by id, location and layout.
type Repository struct {
	ID     string
	Name   string
	Kind   Kind
	Layout maven.Layout

	// Storage is the local tree of a managed repository.
	Storage *backend.Filesystem
	// Files is Storage with backend metrics recorded per operation.
	Files backend.Backend

	// URL is the base URL of a remote repository.
	URL      *url.URL
	Username string
	Password string
	Timeout  time.Duration
}

// Option configures a Repository.
type Option func(*Repository)

// WithName sets the display name.
func WithName(name string) Option {
	return func(r *Repository) {
		r.Name = name
	}
}

// WithLayout sets the layout. The default layout is used otherwise.
func WithLayout(layout maven.Layout) Option {
	return func(r *Repository) {
		r.Layout = layout
	}
}

// WithCredentials sets basic auth credentials for a remote repository.
func WithCredentials(username, password string) Option {
	return func(r *Repository) {
		r.Username = username
		r.Password = password
	}
}

// WithTimeout sets the transfer timeout for a remote repository.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Repository) {
		if timeout > 0 {
			r.Timeout = timeout
		}
	}
}

// NewManaged creates a managed repository rooted at location, creating the
// directory if needed.
func NewManaged(id, location string, opts ...Option) (*Repository, error) {
	if id == "" || location == "" {
		return nil, fmt.Errorf("%w: managed repository needs an id and a location", ErrInvalidRepository)
	}
	storage, err := backend.NewFilesystem(location)
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", id, err)
	}
	r := &Repository{
		ID:      id,
		Name:    id,
		Kind:    KindManaged,
		Layout:  maven.DefaultLayout{},
		Storage: storage,
		Files:   backend.NewInstrumentedBackend(storage, id),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// NewRemote creates a remote repository at rawURL.
func NewRemote(id, rawURL string, opts ...Option) (*Repository, error) {
	if id == "" || rawURL == "" {
		return nil, fmt.Errorf("%w: remote repository needs an id and a url", ErrInvalidRepository)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: repository %s: %w", ErrInvalidRepository, id, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: repository %s: url %q has no scheme", ErrInvalidRepository, id, rawURL)
	}
	r := &Repository{
		ID:      id,
		Name:    id,
		Kind:    KindRemote,
		Layout:  maven.DefaultLayout{},
		URL:     u,
		Timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// IsManaged reports whether the repository has a writable local root.
func (r *Repository) IsManaged() bool {
	return r.Kind == KindManaged && r.Storage != nil
}

// Root returns the local root of a managed repository, or "".
func (r *Repository) Root() string {
	if r.Storage == nil {
		return ""
	}
	return r.Storage.Root()
}

// Scheme returns the URL scheme of a remote repository.
func (r *Repository) Scheme() string {
	if r.URL == nil {
		return ""
	}
	return strings.ToLower(r.URL.Scheme)
}

// URLFor joins the remote base URL and a repository-relative path.
func (r *Repository) URLFor(path string) string {
	if r.URL == nil {
		return ""
	}
	return strings.TrimSuffix(r.URL.String(), "/") + "/" + strings.TrimPrefix(path, "/")
}

func (r *Repository) String() string {
	return r.Kind.String() + ":" + r.ID
}

// NetworkProxy is an HTTP or SOCKS proxy used to reach remote repositories.
type NetworkProxy struct {
	ID       string
	Protocol string
	Host     string
	Port     int
	Username string
	Password string
}

// Address returns host:port.
func (p *NetworkProxy) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// URL returns the proxy as a URL including credentials.
func (p *NetworkProxy) URL() *url.URL {
	scheme := strings.ToLower(p.Protocol)
	if scheme == "" {
		scheme = "http"
	}
	u := &url.URL{Scheme: scheme, Host: p.Address()}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}
