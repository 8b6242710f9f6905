package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/wolfeidau/repository-proxy/config"
	"github.com/wolfeidau/repository-proxy/policy"
	"github.com/wolfeidau/repository-proxy/protocol/maven"
	"github.com/wolfeidau/repository-proxy/repository"
	"github.com/wolfeidau/repository-proxy/telemetry"
)

// ErrConnectorNotFound is returned by Move for an unknown source and target
// pair.
var ErrConnectorNotFound = errors.New("connector not found")

// Direction moves a connector within its source's ordering.
type Direction int

const (
	Up Direction = iota
	Down
)

// rebuildSections trigger a rebuild when they change.
var rebuildSections = []config.Section{
	config.SectionManagedRepositories,
	config.SectionRemoteRepositories,
	config.SectionNetworkProxies,
	config.SectionProxyConnectors,
}

// snapshot is an immutable view of the configured repositories and
// connectors.
type snapshot struct {
	repositories map[string]*repository.Repository
	managed      []*repository.Repository
	connectors   map[string][]*Connector
	proxies      map[string]*repository.NetworkProxy
}

// Registry serves connectors from a snapshot that is replaced as a whole
// when the configuration changes. Reads never block; rebuilds are
// serialized so a slow rebuild cannot publish a stale snapshot over a newer
// one.
type Registry struct {
	provider    config.Provider
	logger      *slog.Logger
	mu          sync.Mutex
	snap        atomic.Pointer[snapshot]
	unsubscribe func()
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New builds the registry from the provider's configuration and rebuilds it
// whenever a repository, network proxy or connector section changes.
// Unusable entries are skipped and reported in the returned error, which
// does not prevent the registry from being used.
func New(provider config.Provider, opts ...Option) (*Registry, error) {
	r := &Registry{
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	err := r.Rebuild()
	r.unsubscribe = provider.Subscribe(func(changed []config.Section) {
		if !config.Contains(changed, rebuildSections...) {
			return
		}
		if err := r.Rebuild(); err != nil {
			r.logger.Warn("registry rebuilt with skipped entries", "error", err)
		}
	})
	return r, err
}

// Close stops listening for configuration changes.
func (r *Registry) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

// Rebuild replaces the snapshot with one built from the current
// configuration. Entries that cannot be used are skipped and joined into the
// returned error; the new snapshot is published either way.
func (r *Registry) Rebuild() error {
	r.mu.Lock()
	s, errs := r.build(r.provider.Current())
	r.snap.Store(s)
	r.mu.Unlock()

	n := 0
	for _, cs := range s.connectors {
		n += len(cs)
	}
	outcome := "ok"
	if len(errs) > 0 {
		outcome = "partial"
	}
	telemetry.RecordRegistryRebuild(context.Background(), outcome, n)
	r.logger.Debug("registry rebuilt",
		"repositories", len(s.repositories),
		"connectors", n,
		"network_proxies", len(s.proxies),
		"skipped", len(errs))
	return errors.Join(errs...)
}

func (r *Registry) build(cfg *config.Configuration) (*snapshot, []error) {
	s := &snapshot{
		repositories: make(map[string]*repository.Repository),
		connectors:   make(map[string][]*Connector),
		proxies:      make(map[string]*repository.NetworkProxy),
	}
	if cfg == nil {
		return s, nil
	}

	var errs []error
	skip := func(err error) {
		r.logger.Warn("skipping configuration entry", "error", err)
		errs = append(errs, err)
	}

	for _, mr := range cfg.ManagedRepositories {
		layout, err := maven.LayoutFor(mr.Layout)
		if err != nil {
			skip(fmt.Errorf("managed repository %s: %w", mr.ID, err))
			continue
		}
		opts := []repository.Option{repository.WithLayout(layout)}
		if mr.Name != "" {
			opts = append(opts, repository.WithName(mr.Name))
		}
		repo, err := repository.NewManaged(mr.ID, mr.Location, opts...)
		if err != nil {
			skip(err)
			continue
		}
		s.repositories[repo.ID] = repo
		s.managed = append(s.managed, repo)
	}

	for _, rr := range cfg.RemoteRepositories {
		layout, err := maven.LayoutFor(rr.Layout)
		if err != nil {
			skip(fmt.Errorf("remote repository %s: %w", rr.ID, err))
			continue
		}
		opts := []repository.Option{
			repository.WithLayout(layout),
			repository.WithCredentials(rr.Username, rr.Password),
			repository.WithTimeout(rr.Timeout),
		}
		if rr.Name != "" {
			opts = append(opts, repository.WithName(rr.Name))
		}
		repo, err := repository.NewRemote(rr.ID, rr.URL, opts...)
		if err != nil {
			skip(err)
			continue
		}
		if _, dup := s.repositories[repo.ID]; dup {
			skip(fmt.Errorf("remote repository %s: id already used", repo.ID))
			continue
		}
		s.repositories[repo.ID] = repo
	}

	for _, np := range cfg.NetworkProxies {
		s.proxies[np.ID] = &repository.NetworkProxy{
			ID:       np.ID,
			Protocol: np.Protocol,
			Host:     np.Host,
			Port:     np.Port,
			Username: np.Username,
			Password: np.Password,
		}
	}

	for _, pc := range cfg.ProxyConnectors {
		name := pc.Source + "->" + pc.Target
		source, ok := s.repositories[pc.Source]
		if !ok || !source.IsManaged() {
			skip(fmt.Errorf("connector %s: source is not a managed repository", name))
			continue
		}
		target, ok := s.repositories[pc.Target]
		if !ok || target.Kind != repository.KindRemote {
			skip(fmt.Errorf("connector %s: target is not a remote repository", name))
			continue
		}
		if pc.Proxy != "" {
			if _, ok := s.proxies[pc.Proxy]; !ok {
				skip(fmt.Errorf("connector %s: unknown network proxy %q", name, pc.Proxy))
				continue
			}
		}
		settings, err := policy.ParseSettings(pc.Policies)
		if err != nil {
			skip(fmt.Errorf("connector %s: %w", name, err))
			continue
		}
		if err := errors.Join(maven.ValidatePatterns(pc.Whitelist), maven.ValidatePatterns(pc.Blacklist)); err != nil {
			skip(fmt.Errorf("connector %s: %w", name, err))
			continue
		}
		s.connectors[source.ID] = append(s.connectors[source.ID], &Connector{
			Source:         source,
			Target:         target,
			Order:          pc.Order,
			NetworkProxyID: pc.Proxy,
			Settings:       settings,
			Whitelist:      append([]string(nil), pc.Whitelist...),
			Blacklist:      append([]string(nil), pc.Blacklist...),
			Disabled:       pc.Disabled,
		})
	}

	for _, cs := range s.connectors {
		sortConnectors(cs)
	}
	return s, errs
}

// sortConnectors orders by ascending Order with unordered connectors last.
// Ties keep configuration order.
func sortConnectors(cs []*Connector) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i].Order, cs[j].Order
		switch {
		case a == 0:
			return false
		case b == 0:
			return true
		}
		return a < b
	})
}

func (r *Registry) current() *snapshot {
	if s := r.snap.Load(); s != nil {
		return s
	}
	return &snapshot{}
}

// ConnectorsFor returns the connectors of sourceID in consultation order,
// including disabled ones. The slice must not be modified.
func (r *Registry) ConnectorsFor(sourceID string) []*Connector {
	return r.current().connectors[sourceID]
}

// HasConnectors reports whether sourceID has any connector.
func (r *Registry) HasConnectors(sourceID string) bool {
	return len(r.current().connectors[sourceID]) > 0
}

// Repository returns a managed or remote repository by id.
func (r *Registry) Repository(id string) (*repository.Repository, bool) {
	repo, ok := r.current().repositories[id]
	return repo, ok
}

// ManagedRepositories lists the managed repositories in configuration order.
func (r *Registry) ManagedRepositories() []*repository.Repository {
	return r.current().managed
}

// NetworkProxy returns a network proxy by id.
func (r *Registry) NetworkProxy(id string) (*repository.NetworkProxy, bool) {
	np, ok := r.current().proxies[id]
	return np, ok
}

// ProxiedRepositories returns the target ids of sourceID's connectors in
// consultation order.
func (r *Registry) ProxiedRepositories(sourceID string) []string {
	cs := r.current().connectors[sourceID]
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.Target.ID)
	}
	return ids
}

// Move shifts the connector from sourceID to targetID one place up or down
// and renumbers every connector of sourceID densely from 1. Moving past
// either end is a no-op. The change is committed through the provider and
// becomes visible once the registry is rebuilt from it.
func (r *Registry) Move(ctx context.Context, sourceID, targetID string, dir Direction) error {
	cs := r.ConnectorsFor(sourceID)
	idx := -1
	order := make([]string, len(cs))
	for i, c := range cs {
		order[i] = c.Target.ID
		if c.Target.ID == targetID {
			idx = i
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s->%s", ErrConnectorNotFound, sourceID, targetID)
	}

	swap := idx - 1
	if dir == Down {
		swap = idx + 1
	}
	if swap < 0 || swap >= len(order) {
		return nil
	}
	order[idx], order[swap] = order[swap], order[idx]

	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i + 1
	}

	err := r.provider.Update(ctx, func(cfg *config.Configuration) error {
		for i := range cfg.ProxyConnectors {
			pc := &cfg.ProxyConnectors[i]
			if pc.Source != sourceID {
				continue
			}
			if n, ok := rank[pc.Target]; ok {
				pc.Order = n
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("moving connector %s->%s: %w", sourceID, targetID, err)
	}
	return nil
}
