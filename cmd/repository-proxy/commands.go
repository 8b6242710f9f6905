package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/repository-proxy/connector"
	"github.com/wolfeidau/repository-proxy/failcache"
	"github.com/wolfeidau/repository-proxy/policy"
	"github.com/wolfeidau/repository-proxy/protocol/maven"
	"github.com/wolfeidau/repository-proxy/proxy"
	"github.com/wolfeidau/repository-proxy/repository"
	"github.com/wolfeidau/repository-proxy/server"
	"github.com/wolfeidau/repository-proxy/telemetry"
)

// ServeCmd runs the HTTP server.
type ServeCmd struct {
	Address      string `help:"Address to listen on. Overrides server.address."`
	Prometheus   bool   `help:"Expose Prometheus metrics on /metrics."`
	OTLPEndpoint string `name:"otlp-endpoint" help:"OTLP gRPC endpoint for metrics export." env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Run starts the server and blocks until SIGINT or SIGTERM.
func (c *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.Prometheus || c.OTLPEndpoint != "" {
		shutdown, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
			EnablePrometheus: c.Prometheus,
			OTLPEndpoint:     c.OTLPEndpoint,
		})
		if err != nil {
			return fmt.Errorf("initialising metrics: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	address := c.Address
	if address == "" {
		address = a.provider.Current().Server.Address
	}
	var token string
	if a.credentials != nil {
		token = a.credentials.AuthToken
	}

	srv, err := server.New(server.Config{
		Address:      address,
		AuthToken:    token,
		Repositories: a.registry,
		Fetcher:      a.engine,
		Logger:       g.Logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	for _, repo := range a.registry.ManagedRepositories() {
		g.Logger.Info("serving repository",
			"repository", repo.ID,
			"url", fmt.Sprintf("http://localhost%s/repository/%s/", srv.Address(), repo.ID),
			"proxies", a.registry.ProxiedRepositories(repo.ID),
		)
	}

	select {
	case <-ctx.Done():
		g.Logger.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// FetchCmd fetches one path through the proxy connectors.
type FetchCmd struct {
	Repository string `arg:"" help:"Managed repository id."`
	Path       string `arg:"" help:"Repository-relative path of an artifact or maven-metadata.xml."`
}

// Run performs the fetch and prints the attempts.
func (c *FetchCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	repo, err := managedRepository(a, c.Repository)
	if err != nil {
		return err
	}
	res, err := fetchPath(ctx, a.engine, repo, c.Path)
	if err != nil {
		return err
	}
	printResult(os.Stdout, res)
	if !res.Found() {
		return fmt.Errorf("%s: not found in any connector", c.Path)
	}
	return nil
}

// MetadataCmd rebuilds one metadata document.
type MetadataCmd struct {
	Repository string `arg:"" help:"Managed repository id."`
	Path       string `arg:"" help:"Repository-relative path of a maven-metadata.xml document."`
}

// Run merges the document from local files and the remote copies.
func (c *MetadataCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	repo, err := managedRepository(a, c.Repository)
	if err != nil {
		return err
	}
	if err := a.tools.UpdateMetadata(ctx, repo, c.Path); err != nil {
		return err
	}
	fmt.Println(repo.Storage.Path(c.Path))
	return nil
}

// PoliciesCmd lists the policy descriptors.
type PoliciesCmd struct{}

// Run prints every policy with its options; the default is starred.
func (c *PoliciesCmd) Run(g *Globals) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POLICY\tSTAGE\tOPTIONS\tDESCRIPTION")
	for _, d := range policy.Descriptors() {
		opts := make([]string, 0, len(d.Options))
		for _, o := range d.Options {
			s := string(o)
			if o == d.Default {
				s += "*"
			}
			opts = append(opts, s)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Stage, strings.Join(opts, ","), d.Description)
	}
	return w.Flush()
}

// ConnectorsCmd groups the connector commands.
type ConnectorsCmd struct {
	List ConnectorsListCmd `cmd:"" default:"1" help:"List connectors in the order they are tried."`
	Move ConnectorsMoveCmd `cmd:"" help:"Move a connector up or down and renumber the rest."`
}

// ConnectorsListCmd prints the connectors of every managed repository.
type ConnectorsListCmd struct{}

// Run prints one line per connector.
func (c *ConnectorsListCmd) Run(g *Globals) error {
	a, err := openApp(context.Background(), g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tTARGET\tORDER\tPROXY\tDISABLED\tPOLICIES")
	for _, repo := range a.registry.ManagedRepositories() {
		for _, conn := range a.registry.ConnectorsFor(repo.ID) {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\t%s\n",
				conn.Source.ID, conn.Target.ID, conn.Order, conn.NetworkProxyID, conn.Disabled, conn.Settings)
		}
	}
	return w.Flush()
}

// ConnectorsMoveCmd reorders a connector in the configuration file.
type ConnectorsMoveCmd struct {
	Source    string `arg:"" help:"Managed repository id."`
	Target    string `arg:"" help:"Remote repository id."`
	Direction string `arg:"" enum:"up,down" help:"up or down."`
}

// Run rewrites the connector order of the source repository.
func (c *ConnectorsMoveCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	dir := connector.Up
	if c.Direction == "down" {
		dir = connector.Down
	}
	return a.registry.Move(ctx, c.Source, c.Target, dir)
}

// FailuresCmd groups the failure cache commands.
type FailuresCmd struct {
	Clear FailuresClearCmd `cmd:"" help:"Forget every remembered transfer failure."`
}

// FailuresClearCmd clears the persistent failure cache.
type FailuresClearCmd struct{}

// Run clears the cache configured in failure_cache.path.
func (c *FailuresClearCmd) Run(g *Globals) error {
	a, err := openApp(context.Background(), g)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	bolt, ok := a.failures.(*failcache.Bolt)
	if !ok {
		g.Logger.Info("failure cache is held in memory by the server; nothing to clear")
		return nil
	}
	n := bolt.Len()
	bolt.Clear()
	g.Logger.Info("cleared failure cache", "entries", n)
	return nil
}

func managedRepository(a *app, id string) (*repository.Repository, error) {
	repo, ok := a.registry.Repository(id)
	if !ok {
		return nil, fmt.Errorf("unknown repository %q", id)
	}
	if !repo.IsManaged() {
		return nil, fmt.Errorf("repository %s: %w", id, proxy.ErrNotManaged)
	}
	return repo, nil
}

// fetchPath maps a repository path to the matching fetch. Checksum paths
// fetch the file they belong to.
func fetchPath(ctx context.Context, engine *proxy.Engine, repo *repository.Repository, key string) (*proxy.Result, error) {
	ctx = telemetry.WithRepositoryContext(ctx, repo.ID)
	if target, _, ok := maven.SplitChecksumPath(key); ok {
		key = target
	}
	if maven.IsMetadataPath(key) {
		if ref, err := maven.ToVersionedReference(key); err == nil {
			return engine.FetchVersionMetadata(ctx, repo, ref)
		}
		ref, err := maven.ToProjectReference(key)
		if err != nil {
			return nil, err
		}
		return engine.FetchProjectMetadata(ctx, repo, ref)
	}
	c, err := repo.Layout.ParseArtifactPath(key)
	if err != nil {
		return nil, err
	}
	return engine.FetchArtifact(ctx, repo, c)
}

func printResult(w io.Writer, res *proxy.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONNECTOR\tOUTCOME\tERROR")
	for _, at := range res.Attempts {
		msg := ""
		if at.Err != nil {
			msg = at.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", at.Connector, at.Outcome, msg)
	}
	_ = tw.Flush()

	if err := res.QueuedError(); err != nil {
		fmt.Fprintf(w, "queued errors: %v\n", err)
	}
	if res.Found() {
		fmt.Fprintf(w, "%s (%s)\n", res.Path, res.Outcome)
	}
}
