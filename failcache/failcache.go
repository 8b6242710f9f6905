// Package failcache remembers recently failed upstream URLs so connectors do
// not hammer a remote that just refused them.
package failcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/wolfeidau/repository-proxy/telemetry"
)

// DefaultTTL is how long a failure is remembered.
const DefaultTTL = time.Hour

// DefaultSize bounds the in-memory cache.
const DefaultSize = 10000

// Cache records failed URLs. Implementations are safe for concurrent use and
// never report a URL that was not recorded.
type Cache interface {
	// CacheFailure records url as failed now.
	CacheFailure(url string)

	// HasFailedBefore reports whether url failed within the TTL.
	HasFailedBefore(url string) bool

	// Clear forgets every failure.
	Clear()
}

// Memory is an in-process failure cache bounded by size and TTL.
type Memory struct {
	lru *expirable.LRU[string, time.Time]
}

// NewMemory creates a cache holding at most size URLs for ttl each.
// Non-positive values select DefaultSize and DefaultTTL.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{lru: expirable.NewLRU[string, time.Time](size, nil, ttl)}
}

func (m *Memory) CacheFailure(url string) {
	m.lru.Add(url, time.Now())
	telemetry.RecordFailureCache(context.Background(), "store")
}

func (m *Memory) HasFailedBefore(url string) bool {
	_, ok := m.lru.Get(url)
	if ok {
		telemetry.RecordFailureCache(context.Background(), "hit")
	}
	return ok
}

func (m *Memory) Clear() {
	m.lru.Purge()
	telemetry.RecordFailureCache(context.Background(), "clear")
}

// Len returns the number of remembered URLs, including expired entries not
// yet evicted.
func (m *Memory) Len() int {
	return m.lru.Len()
}

var (
	_ Cache = (*Memory)(nil)
	_ Cache = (*Bolt)(nil)
)
