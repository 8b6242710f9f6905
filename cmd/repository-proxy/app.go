package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/wolfeidau/repository-proxy/config"
	"github.com/wolfeidau/repository-proxy/connector"
	"github.com/wolfeidau/repository-proxy/credentials"
	"github.com/wolfeidau/repository-proxy/credentials/opprovider"
	"github.com/wolfeidau/repository-proxy/failcache"
	"github.com/wolfeidau/repository-proxy/metadata"
	"github.com/wolfeidau/repository-proxy/proxy"
	"github.com/wolfeidau/repository-proxy/transport"
)

// app holds the components every command works with.
type app struct {
	logger      *slog.Logger
	credentials *credentials.Credentials
	provider    *config.File
	registry    *connector.Registry
	failures    failcache.Cache
	tools       *metadata.Tools
	engine      *proxy.Engine

	closers []func() error
}

// openApp loads the configuration and wires the proxy components.
func openApp(ctx context.Context, g *Globals) (*app, error) {
	logger := g.Logger
	a := &app{logger: logger}

	creds, err := loadCredentials(ctx, g)
	if err != nil {
		return nil, err
	}
	a.credentials = creds

	provider, err := config.NewFileProvider(g.CLI.Config,
		config.WithLogger(logger.With("component", "config")),
		config.WithFileCredentials(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	a.provider = provider
	a.closers = append(a.closers, provider.Close)
	cfg := provider.Current()

	registry, err := connector.New(provider, connector.WithLogger(logger.With("component", "connectors")))
	if err != nil {
		logger.Warn("some connectors are unusable", "error", err)
	}
	a.registry = registry
	a.closers = append(a.closers, func() error {
		registry.Close()
		return nil
	})

	if path := cfg.FailureCache.Path; path != "" {
		bolt, err := failcache.OpenBolt(path, cfg.FailureCache.TTL, failcache.WithLogger(logger.With("component", "failcache")))
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("opening failure cache: %w", err)
		}
		a.failures = bolt
		a.closers = append(a.closers, bolt.Close)
	} else {
		a.failures = failcache.NewMemory(cfg.FailureCache.Size, cfg.FailureCache.TTL)
	}

	provider.Subscribe(func(changed []config.Section) {
		if config.Contains(changed, config.SectionFileTypes, config.SectionFailureCache, config.SectionServer) {
			logger.Warn("configuration change needs a restart to take effect", "sections", changed)
		}
	})

	a.tools = metadata.New(registry,
		metadata.WithLogger(logger.With("component", "metadata")),
		metadata.WithFileTypes(cfg.FileTypes.Maven()),
	)
	transports := transport.NewDefaultRegistry(transport.WithLogger(logger.With("component", "transport")))
	a.engine = proxy.New(registry, transports, a.failures,
		proxy.WithLogger(logger.With("component", "proxy")),
		proxy.WithMetadataUpdater(a.tools),
	)
	return a, nil
}

// Close releases the components in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// loadCredentials resolves the credentials template named on the command
// line or in the server section. A relative path in the configuration is
// relative to the configuration file.
func loadCredentials(ctx context.Context, g *Globals) (*credentials.Credentials, error) {
	path := g.CLI.Credentials
	if path == "" {
		cfg, err := config.Load(g.CLI.Config)
		if err != nil {
			return nil, fmt.Errorf("loading configuration: %w", err)
		}
		path = cfg.Server.CredentialsFile
		if path != "" && !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(g.CLI.Config), path)
		}
	}
	if path == "" {
		return nil, nil
	}

	opts := []credentials.ResolverOption{credentials.WithLogger(g.Logger.With("component", "credentials"))}
	if g.CLI.OnePassword {
		var opOpts []opprovider.Option
		if g.CLI.OnePasswordAccount != "" {
			opOpts = append(opOpts, opprovider.WithAccount(g.CLI.OnePasswordAccount))
		}
		opts = append(opts, opprovider.WithOnePassword(opOpts...))
	}

	creds, err := credentials.NewResolver(opts...).ResolveFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("resolving credentials: %w", err)
	}
	return creds, nil
}
