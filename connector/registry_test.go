package connector

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/repository-proxy/config"
	"github.com/wolfeidau/repository-proxy/policy"
	"github.com/wolfeidau/repository-proxy/protocol/maven"
)

func testConfig(t *testing.T) *config.Configuration {
	t.Helper()
	root := t.TempDir()
	return &config.Configuration{
		ManagedRepositories: []config.ManagedRepository{
			{ID: "internal", Location: filepath.Join(root, "internal")},
			{ID: "snapshots", Location: filepath.Join(root, "snapshots")},
		},
		RemoteRepositories: []config.RemoteRepository{
			{ID: "c1", URL: "http://c1.example.com/repo"},
			{ID: "c2", URL: "http://c2.example.com/repo"},
			{ID: "c3", URL: "http://c3.example.com/repo", Layout: "legacy"},
			{ID: "c4", URL: "http://c4.example.com/repo"},
		},
		NetworkProxies: []config.NetworkProxy{
			{ID: "corp", Protocol: "http", Host: "proxy.example.com", Port: 3128},
		},
		ProxyConnectors: []config.ProxyConnector{
			{Source: "internal", Target: "c4", Order: 4},
			{Source: "internal", Target: "c2", Order: 2, Proxy: "corp"},
			{Source: "internal", Target: "c3", Order: 3, Policies: map[string]string{"checksum": "fail"}},
			{Source: "internal", Target: "c1", Order: 1, Whitelist: []string{"org/**"}, Blacklist: []string{"org/bad/**"}},
		},
	}
}

func targets(cs []*Connector) []string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.Target.ID)
	}
	return ids
}

func TestRegistryOrdering(t *testing.T) {
	r, err := New(config.NewMemory(testConfig(t)))
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, []string{"c1", "c2", "c3", "c4"}, targets(r.ConnectorsFor("internal")))
	require.Equal(t, []string{"c1", "c2", "c3", "c4"}, r.ProxiedRepositories("internal"))
	require.True(t, r.HasConnectors("internal"))

	require.Empty(t, r.ConnectorsFor("snapshots"))
	require.False(t, r.HasConnectors("snapshots"))
	require.Empty(t, r.ConnectorsFor("missing"))
}

func TestRegistryUnorderedLast(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProxyConnectors = []config.ProxyConnector{
		{Source: "internal", Target: "c4"},
		{Source: "internal", Target: "c3", Order: 2},
		{Source: "internal", Target: "c1"},
		{Source: "internal", Target: "c2", Order: 1},
	}
	r, err := New(config.NewMemory(cfg))
	require.NoError(t, err)

	require.Equal(t, []string{"c2", "c3", "c4", "c1"}, targets(r.ConnectorsFor("internal")))
}

func TestRegistryConnectorFields(t *testing.T) {
	r, err := New(config.NewMemory(testConfig(t)))
	require.NoError(t, err)

	cs := r.ConnectorsFor("internal")
	c1, c2, c3 := cs[0], cs[1], cs[2]

	require.Equal(t, "internal->c1", c1.String())
	require.True(t, c1.Source.IsManaged())
	require.Equal(t, policy.Hourly, c1.Settings.Option(policy.Releases))
	require.Equal(t, policy.Fail, c3.Settings.Option(policy.Checksum))
	require.Equal(t, maven.LayoutLegacy, c3.Target.Layout.Name())

	require.Equal(t, "corp", c2.NetworkProxyID)
	np, ok := r.NetworkProxy("corp")
	require.True(t, ok)
	require.Equal(t, "proxy.example.com:3128", np.Address())

	repo, ok := r.Repository("internal")
	require.True(t, ok)
	require.DirExists(t, repo.Root())
	require.Len(t, r.ManagedRepositories(), 2)
}

func TestConnectorAllows(t *testing.T) {
	c := &Connector{Whitelist: []string{"org/**"}, Blacklist: []string{"org/bad/**"}}

	require.True(t, c.Allows("org/foo/foo/1.0/foo-1.0.jar"))
	require.False(t, c.Allows("com/foo/foo/1.0/foo-1.0.jar"))
	require.False(t, c.Allows("org/bad/bad/1.0/bad-1.0.jar"))
	require.True(t, c.Blacklisted("org/bad/x"))

	open := &Connector{}
	require.True(t, open.Allows("anything/at/all.jar"))
}

func TestRegistrySkipsUnusableConnectors(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProxyConnectors = append(cfg.ProxyConnectors,
		config.ProxyConnector{Source: "c1", Target: "c2"},
		config.ProxyConnector{Source: "internal", Target: "internal"},
		config.ProxyConnector{Source: "snapshots", Target: "c1", Policies: map[string]string{"releases": "sometimes"}},
		config.ProxyConnector{Source: "snapshots", Target: "c2", Proxy: "nowhere"},
		config.ProxyConnector{Source: "snapshots", Target: "c3", Whitelist: []string{"[bad"}},
	)
	cfg.RemoteRepositories = append(cfg.RemoteRepositories, config.RemoteRepository{ID: "weird", URL: "http://w", Layout: "flat"})

	r, err := New(config.NewMemory(cfg))
	require.Error(t, err)
	require.ErrorIs(t, err, maven.ErrUnknownLayout)
	require.ErrorIs(t, err, policy.ErrUnknownOption)

	require.Len(t, r.ConnectorsFor("internal"), 4)
	require.Empty(t, r.ConnectorsFor("snapshots"))
	require.Empty(t, r.ConnectorsFor("c1"))
	_, ok := r.Repository("weird")
	require.False(t, ok)
}

func TestRegistryRebuildsOnChange(t *testing.T) {
	provider := config.NewMemory(testConfig(t))
	r, err := New(provider)
	require.NoError(t, err)
	defer r.Close()

	before := r.ConnectorsFor("internal")

	err = provider.Update(context.Background(), func(c *config.Configuration) error {
		c.ProxyConnectors = append(c.ProxyConnectors, config.ProxyConnector{Source: "snapshots", Target: "c1", Disabled: true})
		return nil
	})
	require.NoError(t, err)

	require.Len(t, r.ConnectorsFor("snapshots"), 1)
	require.True(t, r.ConnectorsFor("snapshots")[0].Disabled)
	// readers holding the old slice keep a consistent view
	require.Equal(t, []string{"c1", "c2", "c3", "c4"}, targets(before))
}

func TestRegistryConcurrentRebuildsKeepLatest(t *testing.T) {
	provider := config.NewMemory(testConfig(t))
	r, err := New(provider)
	require.NoError(t, err)
	defer r.Close()

	const n = 16
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("m%02d", i)
			err := provider.Update(context.Background(), func(c *config.Configuration) error {
				c.RemoteRepositories = append(c.RemoteRepositories, config.RemoteRepository{ID: id, URL: "http://" + id + ".example.com/repo"})
				c.ProxyConnectors = append(c.ProxyConnectors, config.ProxyConnector{Source: "snapshots", Target: id})
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, r.ConnectorsFor("snapshots"), n)
	require.Len(t, r.ProxiedRepositories("snapshots"), n)
}

func TestRegistryIgnoresUnrelatedChanges(t *testing.T) {
	provider := config.NewMemory(testConfig(t))
	r, err := New(provider)
	require.NoError(t, err)
	defer r.Close()

	before := r.current()
	require.NoError(t, provider.Update(context.Background(), func(c *config.Configuration) error {
		c.Server.Address = ":1234"
		return nil
	}))
	require.Same(t, before, r.current())
}

func TestRegistryMove(t *testing.T) {
	provider := config.NewMemory(testConfig(t))
	r, err := New(provider)
	require.NoError(t, err)
	defer r.Close()
	ctx := context.Background()

	require.NoError(t, r.Move(ctx, "internal", "c3", Up))
	require.Equal(t, []string{"c1", "c3", "c2", "c4"}, targets(r.ConnectorsFor("internal")))

	require.NoError(t, r.Move(ctx, "internal", "c1", Down))
	require.Equal(t, []string{"c3", "c1", "c2", "c4"}, targets(r.ConnectorsFor("internal")))

	// moving past the ends is a no-op
	require.NoError(t, r.Move(ctx, "internal", "c3", Up))
	require.NoError(t, r.Move(ctx, "internal", "c4", Down))
	require.Equal(t, []string{"c3", "c1", "c2", "c4"}, targets(r.ConnectorsFor("internal")))

	orders := map[string]int{}
	for _, pc := range provider.Current().ProxyConnectors {
		orders[pc.Target] = pc.Order
	}
	require.Equal(t, map[string]int{"c3": 1, "c1": 2, "c2": 3, "c4": 4}, orders)

	require.ErrorIs(t, r.Move(ctx, "internal", "nope", Up), ErrConnectorNotFound)
}

func TestRegistryMoveRenumbersUnordered(t *testing.T) {
	cfg := testConfig(t)
	for i := range cfg.ProxyConnectors {
		cfg.ProxyConnectors[i].Order = 0
	}
	provider := config.NewMemory(cfg)
	r, err := New(provider)
	require.NoError(t, err)

	require.Equal(t, []string{"c4", "c2", "c3", "c1"}, targets(r.ConnectorsFor("internal")))
	require.NoError(t, r.Move(context.Background(), "internal", "c1", Up))
	require.Equal(t, []string{"c4", "c2", "c1", "c3"}, targets(r.ConnectorsFor("internal")))
	for _, c := range r.ConnectorsFor("internal") {
		require.NotZero(t, c.Order)
	}
}
