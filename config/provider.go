package config

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
)

// Listener receives the sections that changed in a new configuration.
type Listener func(changed []Section)

// Provider publishes the current configuration.
type Provider interface {
	// Current returns the active configuration. Callers must not modify it.
	Current() *Configuration

	// Subscribe registers fn for change notifications and returns a function
	// that removes it.
	Subscribe(fn Listener) (unsubscribe func())

	// Update applies mutate to a copy of the configuration, validates and
	// persists it, then notifies listeners.
	Update(ctx context.Context, mutate func(*Configuration) error) error
}

// Diff returns the sections that differ between two configurations.
func Diff(a, b *Configuration) []Section {
	if a == nil {
		a = &Configuration{}
	}
	if b == nil {
		b = &Configuration{}
	}
	var changed []Section
	check := func(s Section, x, y any) {
		if !reflect.DeepEqual(x, y) {
			changed = append(changed, s)
		}
	}
	check(SectionServer, a.Server, b.Server)
	check(SectionManagedRepositories, a.ManagedRepositories, b.ManagedRepositories)
	check(SectionRemoteRepositories, a.RemoteRepositories, b.RemoteRepositories)
	check(SectionNetworkProxies, a.NetworkProxies, b.NetworkProxies)
	check(SectionProxyConnectors, a.ProxyConnectors, b.ProxyConnectors)
	check(SectionFileTypes, a.FileTypes, b.FileTypes)
	check(SectionFailureCache, a.FailureCache, b.FailureCache)
	return changed
}

// Contains reports whether changed names any of sections.
func Contains(changed []Section, sections ...Section) bool {
	for _, c := range changed {
		for _, s := range sections {
			if c == s {
				return true
			}
		}
	}
	return false
}

// listeners is the subscription list shared by providers.
type listeners struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]Listener
}

func (l *listeners) subscribe(fn Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]Listener)
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners) notify(changed []Section) {
	if len(changed) == 0 {
		return
	}
	l.mu.Lock()
	fns := make([]Listener, 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(changed)
	}
}

// Memory holds a configuration in memory. Updates are validated but not
// persisted.
type Memory struct {
	mu        sync.RWMutex
	cfg       *Configuration
	listeners listeners
	logger    *slog.Logger
}

// NewMemory creates a provider serving cfg. The configuration is used as
// given; callers that need validation call cfg.Validate first.
func NewMemory(cfg *Configuration) *Memory {
	if cfg == nil {
		cfg = Default()
	}
	return &Memory{cfg: cfg, logger: slog.Default()}
}

func (m *Memory) Current() *Configuration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Memory) Subscribe(fn Listener) func() {
	return m.listeners.subscribe(fn)
}

func (m *Memory) Update(ctx context.Context, mutate func(*Configuration) error) error {
	m.mu.Lock()
	next := m.cfg.Clone()
	if err := mutate(next); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return err
	}
	prev := m.cfg
	m.cfg = next
	m.mu.Unlock()

	changed := Diff(prev, next)
	m.logger.Debug("configuration updated", "changed", changed)
	m.listeners.notify(changed)
	return nil
}

// Replace swaps in cfg and notifies listeners of the differences.
func (m *Memory) Replace(cfg *Configuration) {
	m.mu.Lock()
	prev := m.cfg
	m.cfg = cfg
	m.mu.Unlock()
	m.listeners.notify(Diff(prev, cfg))
}

var (
	_ Provider = (*Memory)(nil)
	_ Provider = (*File)(nil)
)
