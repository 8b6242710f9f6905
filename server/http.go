// Package server provides the HTTP front end of the repository proxy.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/repository-proxy/download"
	"github.com/wolfeidau/repository-proxy/protocol/maven"
	"github.com/wolfeidau/repository-proxy/proxy"
	"github.com/wolfeidau/repository-proxy/repository"
	"github.com/wolfeidau/repository-proxy/telemetry"
)

// DefaultAddress is used when Config.Address is empty.
const DefaultAddress = ":8080"

// Repositories looks up repositories by id.
type Repositories interface {
	Repository(id string) (*repository.Repository, bool)
}

// Fetcher runs proxy fetches into managed repositories.
type Fetcher interface {
	FetchArtifact(ctx context.Context, repo *repository.Repository, c maven.ArtifactCoordinate) (*proxy.Result, error)
	FetchVersionMetadata(ctx context.Context, repo *repository.Repository, ref maven.VersionedReference) (*proxy.Result, error)
	FetchProjectMetadata(ctx context.Context, repo *repository.Repository, ref maven.ProjectReference) (*proxy.Result, error)
}

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// AuthToken, when set, is required as a Bearer token or Basic password
	// on every request except /health and /metrics.
	AuthToken string

	// Repositories resolves the repository id of a request path.
	Repositories Repositories

	// Fetcher fetches missing or stale files through proxy connectors.
	Fetcher Fetcher

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for the repository proxy.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	repositories Repositories
	fetcher      Fetcher
	downloader   *download.Downloader
}

// New creates a new server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Repositories == nil || cfg.Fetcher == nil {
		return nil, errors.New("server needs repositories and a fetcher")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}

	s := &Server{
		config:       cfg,
		logger:       cfg.Logger,
		repositories: cfg.Repositories,
		fetcher:      cfg.Fetcher,
		downloader:   download.New(download.WithLogger(cfg.Logger.With("component", "download"))),
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // connectors are tried in turn, each with its own timeout
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the root handler with logging and authentication.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.loggingMiddleware(s.authMiddleware(mux))
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	// Managed repository content, fetched through proxy connectors.
	mux.HandleFunc("GET /repository/{id}/{path...}", s.handleRepository)
	mux.HandleFunc("HEAD /repository/{id}/{path...}", s.handleRepository)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Inject request tags so handlers can set cache_result, endpoint, etc.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"area", deriveArea(r.URL.Path),
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
			"http_version", fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		}

		// Add handler-set tags
		if tags.Repository != "" {
			attrs = append(attrs, "repository", tags.Repository)
		}
		if tags.Endpoint != "" {
			attrs = append(attrs, "endpoint", tags.Endpoint)
		}
		if tags.CacheResult != "" {
			attrs = append(attrs, "cache_result", string(tags.CacheResult))
		}
		if ct := wrapped.Header().Get("Content-Type"); ct != "" {
			attrs = append(attrs, "content_type", ct)
		}

		s.logger.Info("http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// It preserves http.Flusher and http.Hijacker.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// deriveArea classifies the request path for logging.
func deriveArea(path string) string {
	switch {
	case path == "/health" || path == "/metrics":
		return "internal"
	case strings.HasPrefix(path, "/repository/"):
		return "repository"
	default:
		return "unknown"
	}
}
