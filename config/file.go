package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wolfeidau/repository-proxy/credentials"
)

// DefaultDebounce delays a reload after the last file event.
const DefaultDebounce = 100 * time.Millisecond

// File serves the configuration stored in a YAML file, reloading it when the
// file changes on disk.
type File struct {
	path     string
	debounce time.Duration
	creds    *credentials.Credentials
	logger   *slog.Logger

	mu        sync.RWMutex
	writeMu   sync.Mutex
	cfg       *Configuration
	listeners listeners

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// FileOption configures a File provider.
type FileOption func(*File)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FileOption {
	return func(f *File) {
		f.logger = logger
	}
}

// WithDebounce sets the reload delay.
func WithDebounce(d time.Duration) FileOption {
	return func(f *File) {
		f.debounce = d
	}
}

// WithFileCredentials merges secrets into every loaded configuration.
func WithFileCredentials(creds *credentials.Credentials) FileOption {
	return func(f *File) {
		f.creds = creds
	}
}

// NewFileProvider loads path and starts watching it. The initial load must
// succeed; later reload failures keep the last good configuration.
func NewFileProvider(path string, opts ...FileOption) (*File, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	f := &File{
		path:     absPath,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	cfg, err := f.read()
	if err != nil {
		return nil, err
	}
	f.cfg = cfg

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are noticed.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching config directory: %w", err)
	}
	f.watcher = watcher

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.watchLoop(ctx)

	return f, nil
}

// Path returns the absolute path of the watched file.
func (f *File) Path() string {
	return f.path
}

func (f *File) Current() *Configuration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}

func (f *File) Subscribe(fn Listener) func() {
	return f.listeners.subscribe(fn)
}

// Update writes the mutated configuration back to the file atomically.
// Credentials merged at load time are not written.
func (f *File) Update(ctx context.Context, mutate func(*Configuration) error) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	onDisk, err := f.readRaw()
	if err != nil {
		return err
	}
	if err := mutate(onDisk); err != nil {
		return err
	}
	if err := onDisk.Validate(); err != nil {
		return err
	}

	data, err := Marshal(onDisk)
	if err != nil {
		return err
	}
	if err := writeAtomic(f.path, data); err != nil {
		return err
	}

	next := onDisk.Clone()
	if f.creds != nil {
		next.ApplyCredentials(f.creds)
	}
	f.swap(next)
	return nil
}

// Reload re-reads the file and notifies listeners of changed sections.
func (f *File) Reload() error {
	cfg, err := f.read()
	if err != nil {
		return err
	}
	f.swap(cfg)
	return nil
}

// Close stops watching the file.
func (f *File) Close() error {
	if f.cancel == nil {
		return nil
	}
	f.cancel()
	err := f.watcher.Close()
	<-f.done
	return err
}

func (f *File) swap(cfg *Configuration) {
	f.mu.Lock()
	prev := f.cfg
	f.cfg = cfg
	f.mu.Unlock()

	changed := Diff(prev, cfg)
	if len(changed) > 0 {
		f.logger.Info("configuration reloaded", "path", f.path, "changed", changed)
	}
	f.listeners.notify(changed)
}

func (f *File) read() (*Configuration, error) {
	var opts []LoadOption
	if f.creds != nil {
		opts = append(opts, WithCredentials(f.creds))
	}
	return Load(f.path, opts...)
}

func (f *File) readRaw() (*Configuration, error) {
	return Load(f.path)
}

func (f *File) watchLoop(ctx context.Context) {
	defer close(f.done)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(f.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				if err := f.Reload(); err != nil {
					f.logger.Warn("reloading configuration", "path", f.path, "error", err)
				}
			})
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("config watcher error", "error", err)
		}
	}
}

// writeAtomic replaces path with data through a sibling temp file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}
