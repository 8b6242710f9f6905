// Package telemetry provides request tagging for structured logging and metrics.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	// requestTagsKey is the context key for request tags holder.
	requestTagsKey contextKey = "request_tags"
	// repositoryKey is the context key for propagating the managed repository id.
	repositoryKey contextKey = "repository"
)

// CacheResult represents whether a request was served from the managed
// repository or fetched through a connector.
type CacheResult string

const (
	CacheHit    CacheResult = "hit"
	CacheMiss   CacheResult = "miss"
	CacheBypass CacheResult = "bypass"
	CacheNA     CacheResult = "na"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Repository  string
	CacheResult CacheResult
	Endpoint    string
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{CacheResult: CacheBypass}
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, tags))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	if tags, ok := r.Context().Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetCacheResult sets the cache result for logging.
func SetCacheResult(r *http.Request, result CacheResult) {
	if tags := GetTags(r); tags != nil {
		tags.CacheResult = result
	}
}

// SetRepository sets the repository tag for metrics and logging.
func SetRepository(r *http.Request, repository string) {
	if tags := GetTags(r); tags != nil {
		tags.Repository = repository
	}
}

// SetEndpoint sets the endpoint type for logging.
func SetEndpoint(r *http.Request, endpoint string) {
	if tags := GetTags(r); tags != nil {
		tags.Endpoint = endpoint
	}
}

// RepositoryFromContext retrieves the repository id from a context.
// It checks both contexts set by WithRepositoryContext and request contexts
// tagged by SetRepository.
func RepositoryFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(repositoryKey).(string); ok && p != "" {
		return p
	}
	if tags, ok := ctx.Value(requestTagsKey).(*RequestTags); ok && tags != nil {
		return tags.Repository
	}
	return ""
}

// WithRepositoryContext returns a context with the repository id stored.
func WithRepositoryContext(ctx context.Context, repository string) context.Context {
	return context.WithValue(ctx, repositoryKey, repository)
}
