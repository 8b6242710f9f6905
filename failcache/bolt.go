package failcache

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wolfeidau/repository-proxy/telemetry"
)

var bucketFailures = []byte("failures") // url -> 8-byte expiry timestamp

// Bolt is a failure cache persisted in a bbolt database so recorded failures
// survive restarts.
type Bolt struct {
	db     *bbolt.DB
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
	noSync bool
}

// BoltOption configures a Bolt cache.
type BoltOption func(*Bolt)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BoltOption {
	return func(b *Bolt) {
		b.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) BoltOption {
	return func(b *Bolt) {
		b.now = now
	}
}

// WithNoSync disables fsync per transaction. Use only in tests.
func WithNoSync(noSync bool) BoltOption {
	return func(b *Bolt) {
		b.noSync = noSync
	}
}

// OpenBolt opens or creates the cache database at path and sweeps expired
// entries.
func OpenBolt(path string, ttl time.Duration, opts ...BoltOption) (*Bolt, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	b := &Bolt{
		ttl:    ttl,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening failure cache: %w", err)
	}
	b.db = db

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFailures)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket %s: %w", bucketFailures, err)
	}

	swept, err := b.sweep()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	b.logger.Debug("opened failure cache", "path", path, "ttl", ttl, "swept", swept)
	return b, nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *Bolt) CacheFailure(url string) {
	expires := encodeTimestamp(b.now().Add(b.ttl))
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFailures).Put([]byte(url), expires)
	})
	if err != nil {
		b.logger.Warn("recording failure", "url", url, "error", err)
		return
	}
	telemetry.RecordFailureCache(context.Background(), "store")
}

func (b *Bolt) HasFailedBefore(url string) bool {
	var expires time.Time
	err := b.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketFailures).Get([]byte(url)); v != nil {
			expires = decodeTimestamp(v)
		}
		return nil
	})
	if err != nil {
		b.logger.Warn("reading failure cache", "url", url, "error", err)
		return false
	}
	if expires.IsZero() || !b.now().Before(expires) {
		return false
	}
	telemetry.RecordFailureCache(context.Background(), "hit")
	return true
}

// Clear removes every entry.
func (b *Bolt) Clear() {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketFailures); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketFailures)
		return err
	})
	if err != nil {
		b.logger.Warn("clearing failure cache", "error", err)
		return
	}
	telemetry.RecordFailureCache(context.Background(), "clear")
}

// Len returns the number of unexpired entries.
func (b *Bolt) Len() int {
	now := b.now()
	n := 0
	_ = b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFailures).ForEach(func(_, v []byte) error {
			if now.Before(decodeTimestamp(v)) {
				n++
			}
			return nil
		})
	})
	return n
}

// sweep deletes expired entries.
func (b *Bolt) sweep() (int, error) {
	now := b.now()
	var expired [][]byte
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketFailures)
		err := bucket.ForEach(func(k, v []byte) error {
			if !now.Before(decodeTimestamp(v)) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweeping failure cache: %w", err)
	}
	return len(expired), nil
}

// encodeTimestamp converts t to a fixed-width big-endian byte slice.
func encodeTimestamp(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()-(-1<<63))) //nolint:gosec // intentional signed->unsigned shift
	return buf
}

// decodeTimestamp reverses encodeTimestamp.
func decodeTimestamp(b []byte) time.Time {
	if len(b) < 8 {
		return time.Time{}
	}
	ns := int64(binary.BigEndian.Uint64(b[:8])) + (-1 << 63) //nolint:gosec // intentional unsigned->signed shift
	return time.Unix(0, ns).UTC()
}
