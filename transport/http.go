package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/net/proxy"

	"github.com/wolfeidau/repository-proxy/repository"
	"github.com/wolfeidau/repository-proxy/telemetry"
)

// DefaultUserAgent is sent with every upstream request.
const DefaultUserAgent = "repository-proxy"

// HTTPPool shares connection pools between HTTP transports. Transports that
// go through the same network proxy share one pool.
type HTTPPool struct {
	base      *http.Transport
	logger    *slog.Logger
	userAgent string

	direct  http.RoundTripper
	mu      sync.Mutex
	proxied map[string]http.RoundTripper
}

// HTTPOption configures an HTTPPool.
type HTTPOption func(*HTTPPool)

// WithLogger sets the logger for HTTP transports.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(p *HTTPPool) {
		p.logger = logger
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(p *HTTPPool) {
		p.userAgent = ua
	}
}

// WithBaseTransport sets the transport cloned for every pool.
func WithBaseTransport(t *http.Transport) HTTPOption {
	return func(p *HTTPPool) {
		p.base = t
	}
}

// NewHTTPPool creates a pool of HTTP transports.
func NewHTTPPool(opts ...HTTPOption) *HTTPPool {
	p := &HTTPPool{
		base:      http.DefaultTransport.(*http.Transport).Clone(),
		logger:    slog.Default(),
		userAgent: DefaultUserAgent,
		proxied:   make(map[string]http.RoundTripper),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.direct = gzhttp.Transport(p.base)
	return p
}

// New returns an unconnected HTTP transport backed by the pool.
func (p *HTTPPool) New() Transport {
	return &HTTP{pool: p}
}

// roundTripper returns the shared round tripper for a network proxy.
func (p *HTTPPool) roundTripper(np *repository.NetworkProxy) (http.RoundTripper, error) {
	if np == nil {
		return p.direct, nil
	}

	key := np.ID + "|" + np.URL().String()
	p.mu.Lock()
	defer p.mu.Unlock()
	if rt, ok := p.proxied[key]; ok {
		return rt, nil
	}

	tr := p.base.Clone()
	switch strings.ToLower(np.Protocol) {
	case "", "http", "https":
		tr.Proxy = http.ProxyURL(np.URL())
	case "socks5", "socks5h", "socks":
		var auth *proxy.Auth
		if np.Username != "" {
			auth = &proxy.Auth{User: np.Username, Password: np.Password}
		}
		d, err := proxy.SOCKS5("tcp", np.Address(), auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks proxy %s: %w", np.ID, err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks proxy %s: dialer does not support contexts", np.ID)
		}
		tr.Proxy = nil
		tr.DialContext = cd.DialContext
	default:
		return nil, fmt.Errorf("network proxy %s: unsupported protocol %q", np.ID, np.Protocol)
	}

	rt := gzhttp.Transport(tr)
	p.proxied[key] = rt
	return rt, nil
}

// HTTP fetches files from http and https repositories.
type HTTP struct {
	pool   *HTTPPool
	client *http.Client
	target *repository.Repository
}

// Connect binds the transport to target. No request is made; connection
// problems surface from the transfers.
func (h *HTTP) Connect(ctx context.Context, target *repository.Repository, np *repository.NetworkProxy) error {
	if target == nil || target.URL == nil {
		return fmt.Errorf("%w: repository has no url", ErrConnection)
	}
	rt, err := h.pool.roundTripper(np)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	timeout := target.Timeout
	if timeout <= 0 {
		timeout = repository.DefaultTimeout
	}
	h.client = &http.Client{
		Transport: telemetry.NewInstrumentedTransport(rt, target.ID),
		Timeout:   timeout,
	}
	h.target = target
	return nil
}

// Get downloads remotePath into dest.
func (h *HTTP) Get(ctx context.Context, remotePath, dest string) error {
	_, err := h.fetch(ctx, remotePath, dest, time.Time{})
	return err
}

// GetIfNewer downloads remotePath into dest when the remote copy was modified
// after since. Servers that ignore If-Modified-Since are handled by comparing
// the Last-Modified header.
func (h *HTTP) GetIfNewer(ctx context.Context, remotePath, dest string, since time.Time) (bool, error) {
	return h.fetch(ctx, remotePath, dest, since)
}

// Disconnect releases the client. Pooled connections stay open.
func (h *HTTP) Disconnect() error {
	h.client = nil
	return nil
}

func (h *HTTP) fetch(ctx context.Context, remotePath, dest string, since time.Time) (bool, error) {
	if h.client == nil {
		return false, ErrNotConnected
	}

	url := h.target.URLFor(remotePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, &Error{URL: url, Err: fmt.Errorf("creating request: %w", err)}
	}
	if h.target.Username != "" {
		req.SetBasicAuth(h.target.Username, h.target.Password)
	}
	req.Header.Set("User-Agent", h.pool.userAgent)
	if !since.IsZero() {
		req.Header.Set("If-Modified-Since", since.UTC().Format(http.TimeFormat))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return false, &Error{URL: url, Err: fmt.Errorf("%w: %w", ErrConnection, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		return false, nil
	case http.StatusNotFound, http.StatusGone:
		return false, &Error{URL: url, Err: ErrResourceNotFound}
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusProxyAuthRequired:
		return false, &Error{URL: url, Err: fmt.Errorf("%w: upstream returned %d", ErrAuthorization, resp.StatusCode)}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, &Error{URL: url, Err: fmt.Errorf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	modified, _ := http.ParseTime(resp.Header.Get("Last-Modified"))
	if !since.IsZero() && !modified.IsZero() && !modified.After(since) {
		return false, nil
	}

	if err := writeFile(dest, resp.Body); err != nil {
		return false, &Error{URL: url, Err: err}
	}
	if !modified.IsZero() {
		_ = os.Chtimes(dest, modified, modified)
	}

	h.pool.logger.Debug("downloaded", "url", url, "dest", dest)
	return true, nil
}

// writeFile replaces dest with the content of r.
func writeFile(dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dest, err)
	}
	return nil
}

// IsNotFound reports whether err means the remote lacks the resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrResourceNotFound)
}

var _ Transport = (*HTTP)(nil)
