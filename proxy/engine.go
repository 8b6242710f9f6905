// Package proxy fetches artifacts and metadata into managed repositories
// through their ordered proxy connectors.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/wolfeidau/repository-proxy/connector"
	"github.com/wolfeidau/repository-proxy/failcache"
	"github.com/wolfeidau/repository-proxy/policy"
	"github.com/wolfeidau/repository-proxy/protocol/maven"
	"github.com/wolfeidau/repository-proxy/repository"
	"github.com/wolfeidau/repository-proxy/telemetry"
	"github.com/wolfeidau/repository-proxy/transport"
)

// Connectors supplies the ordered connectors of a managed repository.
type Connectors interface {
	ConnectorsFor(sourceID string) []*connector.Connector
	NetworkProxy(id string) (*repository.NetworkProxy, bool)
}

// MetadataUpdater rebuilds canonical metadata from local state and the
// per-proxy copies.
type MetadataUpdater interface {
	UpdateVersionMetadata(ctx context.Context, repo *repository.Repository, ref maven.VersionedReference) error
	UpdateProjectMetadata(ctx context.Context, repo *repository.Repository, ref maven.ProjectReference) error
}

// Engine runs fetches. It is safe for concurrent use; fetches of the same
// file race to rename equally valid copies into place.
type Engine struct {
	connectors Connectors
	transports *transport.Registry
	failures   failcache.Cache
	chain      *policy.Chain
	metadata   MetadataUpdater
	logger     *slog.Logger
	clock      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetadataUpdater sets the component that merges fetched metadata.
// Without one, metadata fetches only refresh the per-proxy copies.
func WithMetadataUpdater(m MetadataUpdater) Option {
	return func(e *Engine) {
		e.metadata = m
	}
}

// WithClock sets the time source for the update policies.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.clock = now
	}
}

// New creates an engine. failures backs the cache-failures policy and
// records failed transfers.
func New(connectors Connectors, transports *transport.Registry, failures failcache.Cache, opts ...Option) *Engine {
	e := &Engine{
		connectors: connectors,
		transports: transports,
		failures:   failures,
		logger:     slog.Default(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.chain = policy.NewChain(failures, policy.WithLogger(e.logger), policy.WithClock(e.clock))
	return e
}

// FetchArtifact fetches the artifact into repo from the first connector that
// has it. A nil error with an empty Result.Path means no connector supplied
// the file.
func (e *Engine) FetchArtifact(ctx context.Context, repo *repository.Repository, c maven.ArtifactCoordinate) (*Result, error) {
	start := time.Now()
	if err := checkRepository(repo, c.String()); err != nil {
		return nil, err
	}

	key := repo.Layout.ArtifactPath(c)
	local := repo.Storage.Path(key)
	res := newResult()

	for _, conn := range e.connectors.ConnectorsFor(repo.ID) {
		logger := e.logger.With("repository", repo.ID, "connector", conn.String(), "artifact", c.String())
		if conn.Disabled {
			e.skip(ctx, res, conn, logger, "connector disabled")
			continue
		}

		remotePath := conn.Target.Layout.ArtifactPath(c)
		req := policy.Request{
			URL:                conn.Target.URLFor(remotePath),
			Version:            c.Version,
			FileType:           policy.FileTypeArtifact,
			RemoteRepositoryID: conn.Target.ID,
		}

		outcome, err := e.transfer(ctx, repo, conn, remotePath, key, req, res, logger)
		if err != nil {
			e.finish(ctx, "artifact", res, start)
			return nil, err
		}

		switch outcome {
		case OutcomeFound:
			res.Path, res.Connector, res.Outcome = local, conn.Target.ID, OutcomeFound
			e.finish(ctx, "artifact", res, start)
			return res, nil
		case OutcomeDenied:
			if fileExists(local) {
				res.Path, res.Outcome = local, OutcomeDenied
				e.finish(ctx, "artifact", res, start)
				return res, nil
			}
		case OutcomeNotModified:
			res.Outcome = OutcomeNotModified
		}
	}

	// Every remote agreed the local copy is current.
	if res.Outcome == OutcomeNotModified && fileExists(local) {
		res.Path = local
	}
	e.finish(ctx, "artifact", res, start)
	return res, nil
}

// FetchVersionMetadata refreshes each remote's copy of the version metadata
// and merges them into the canonical document.
func (e *Engine) FetchVersionMetadata(ctx context.Context, repo *repository.Repository, ref maven.VersionedReference) (*Result, error) {
	return e.fetchMetadata(ctx, repo, ref.Path(), ref.Version, ref.String(), func() error {
		return e.metadata.UpdateVersionMetadata(ctx, repo, ref)
	})
}

// FetchProjectMetadata refreshes each remote's copy of the project metadata
// and merges them into the canonical document.
func (e *Engine) FetchProjectMetadata(ctx context.Context, repo *repository.Repository, ref maven.ProjectReference) (*Result, error) {
	return e.fetchMetadata(ctx, repo, ref.Path(), "", ref.String(), func() error {
		return e.metadata.UpdateProjectMetadata(ctx, repo, ref)
	})
}

func (e *Engine) fetchMetadata(ctx context.Context, repo *repository.Repository, key, version, reference string, update func() error) (*Result, error) {
	start := time.Now()
	if err := checkRepository(repo, reference); err != nil {
		return nil, err
	}

	res := newResult()
	local := repo.Storage.Path(key)
	if !repo.Layout.SupportsMetadata() {
		e.finish(ctx, "metadata", res, start)
		return res, nil
	}

	changed := false
	for _, conn := range e.connectors.ConnectorsFor(repo.ID) {
		logger := e.logger.With("repository", repo.ID, "connector", conn.String(), "metadata", key)
		if conn.Disabled {
			e.skip(ctx, res, conn, logger, "connector disabled")
			continue
		}
		if !conn.Target.Layout.SupportsMetadata() {
			e.skip(ctx, res, conn, logger, "remote layout has no metadata")
			continue
		}

		req := policy.Request{
			URL:                conn.Target.URLFor(key),
			Version:            version,
			FileType:           policy.FileTypeMetadata,
			RemoteRepositoryID: conn.Target.ID,
		}
		proxyKey := maven.ProxyMetadataPath(key, conn.Target.ID)

		outcome, err := e.transfer(ctx, repo, conn, key, proxyKey, req, res, logger)
		if err != nil {
			e.finish(ctx, "metadata", res, start)
			return nil, err
		}
		if outcome == OutcomeFound {
			changed = true
			if res.Connector == "" {
				res.Connector = conn.Target.ID
			}
		}
	}

	if e.metadata != nil && (changed || !fileExists(local)) {
		if err := update(); err != nil {
			e.logger.Warn("merging metadata", "repository", repo.ID, "metadata", key, "error", err)
		}
	}

	if fileExists(local) {
		res.Path = local
		res.Outcome = OutcomeFound
		if !changed {
			res.Outcome = OutcomeNotModified
		}
	}
	e.finish(ctx, "metadata", res, start)
	return res, nil
}

// transfer fetches remotePath from conn's target into localKey of repo with
// its checksum side files, applying conn's policies. A non-nil error aborts
// the whole fetch.
func (e *Engine) transfer(ctx context.Context, repo *repository.Repository, conn *connector.Connector, remotePath, localKey string, req policy.Request, res *Result, logger *slog.Logger) (Outcome, error) {
	target := conn.Target.ID
	local := repo.Storage.Path(localKey)
	record := func(o Outcome, err error) Outcome {
		res.record(target, o, err)
		telemetry.RecordConnectorAttempt(ctx, target, o.String())
		return o
	}

	if err := e.chain.PreDownload(ctx, conn.Settings, req, local); err != nil {
		logger.Debug("pre-download policy denied transfer", "url", req.URL, "reason", err)
		return record(OutcomeDenied, err), nil
	}

	if !conn.Whitelisted(remotePath) {
		logger.Debug("path not in whitelist", "path", remotePath)
		return record(OutcomeSkipped, nil), nil
	}
	if conn.Blacklisted(remotePath) {
		logger.Debug("path is blacklisted", "path", remotePath)
		return record(OutcomeSkipped, nil), nil
	}

	tr, err := e.transports.For(conn.Target.Scheme())
	if err != nil {
		return record(OutcomeTransportError, err), &ConfigurationError{Repository: conn.Target.ID, Reference: remotePath, Err: err}
	}

	var np *repository.NetworkProxy
	if conn.NetworkProxyID != "" {
		np, _ = e.connectors.NetworkProxy(conn.NetworkProxyID)
	}
	if err := tr.Connect(ctx, conn.Target, np); err != nil {
		logger.Warn("unable to connect to remote repository", "url", conn.Target.URLFor(""), "error", err)
		return record(OutcomeTransportError, err), nil
	}
	defer func() {
		if err := tr.Disconnect(); err != nil {
			logger.Debug("disconnecting", "error", err)
		}
	}()

	workDir, err := repo.Storage.CreateTempDir(localKey)
	if err != nil {
		return record(OutcomeTransportError, err), fmt.Errorf("staging %s: %w", localKey, err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()
	staged := filepath.Join(workDir, path.Base(localKey))

	// failed remembers the URL and lets the download-error policies decide
	// whether err ends the whole fetch.
	failed := func(err error) (Outcome, error) {
		e.failures.CacheFailure(req.URL)
		record(OutcomeTransportError, err)
		if e.chain.DownloadError(ctx, conn.Settings, req, local, target, err, res.Queued) {
			return OutcomeTransportError, fmt.Errorf("fetching %s from %s: %w", remotePath, target, err)
		}
		logger.Warn("transfer failed", "url", req.URL, "error", err)
		return OutcomeTransportError, nil
	}

	downloaded, err := e.get(ctx, tr, remotePath, staged, local)
	switch {
	case err == nil && !downloaded:
		logger.Debug("remote copy not newer", "url", req.URL)
		e.stamp(local, logger)
		return record(OutcomeNotModified, nil), nil
	case transport.IsNotFound(err):
		logger.Debug("resource not found", "url", req.URL)
		return record(OutcomeNotFound, nil), nil
	case errors.Is(err, context.Canceled):
		return record(OutcomeTransportError, err), err
	case err != nil:
		return failed(err)
	}

	e.transferChecksums(ctx, tr, conn, remotePath, staged, req, logger)

	if err := e.chain.PostDownload(ctx, conn.Settings, req, staged); err != nil {
		logger.Warn("post-download policy rejected transfer", "url", req.URL, "reason", err)
		return record(OutcomeDenied, err), nil
	}

	if err := commit(repo, staged, localKey); err != nil {
		return failed(fmt.Errorf("storing %s: %w", localKey, err))
	}
	e.stamp(local, logger)
	logger.Debug("transferred", "url", req.URL, "path", localKey)
	return record(OutcomeFound, nil), nil
}

// stamp sets the modification time of the local copy to the time of the
// check, so the update policies measure time since the remote was last
// consulted rather than the age of the remote file.
func (e *Engine) stamp(local string, logger *slog.Logger) {
	now := e.clock()
	if err := os.Chtimes(local, now, now); err != nil {
		logger.Debug("stamping local copy", "path", local, "error", err)
	}
}

// get transfers the whole file when there is no local copy and otherwise
// only a newer one.
func (e *Engine) get(ctx context.Context, tr transport.Transport, remotePath, dest, local string) (bool, error) {
	info, err := os.Stat(local)
	if err != nil {
		if err := tr.Get(ctx, remotePath, dest); err != nil {
			return false, err
		}
		return true, nil
	}
	return tr.GetIfNewer(ctx, remotePath, dest, info.ModTime())
}

// transferChecksums fetches the .sha1 and .md5 side files next to staged.
// Missing side files are expected; other failures are remembered so the
// next fetch does not retry them.
func (e *Engine) transferChecksums(ctx context.Context, tr transport.Transport, conn *connector.Connector, remotePath, staged string, req policy.Request, logger *slog.Logger) {
	for _, suffix := range maven.ChecksumSuffixes {
		url := req.URL + suffix
		ckReq := req
		ckReq.URL = url
		if err := policy.ApplyCacheFailures(conn.Settings.Option(policy.CacheFailures), ckReq, e.failures); err != nil {
			logger.Debug("skipping checksum", "url", url, "reason", err)
			continue
		}

		err := tr.Get(ctx, remotePath+suffix, staged+suffix)
		switch {
		case err == nil:
		case transport.IsNotFound(err):
			logger.Debug("checksum not found", "url", url)
		default:
			e.failures.CacheFailure(url)
			logger.Warn("transfer of checksum failed", "url", url, "error", err)
		}
		if err != nil {
			_ = os.Remove(staged + suffix)
		}
	}
}

// commit moves the staged file and its side files into place. Side files go
// first so the main file never appears with stale checksums.
func commit(repo *repository.Repository, staged, key string) error {
	for _, suffix := range maven.ChecksumSuffixes {
		if !fileExists(staged + suffix) {
			continue
		}
		if err := repo.Storage.Commit(staged+suffix, key+suffix); err != nil {
			return err
		}
	}
	return repo.Storage.Commit(staged, key)
}

func (e *Engine) skip(ctx context.Context, res *Result, conn *connector.Connector, logger *slog.Logger, reason string) {
	logger.Debug("skipping connector", "reason", reason)
	res.record(conn.Target.ID, OutcomeSkipped, nil)
	telemetry.RecordConnectorAttempt(ctx, conn.Target.ID, OutcomeSkipped.String())
}

func (e *Engine) finish(ctx context.Context, kind string, res *Result, start time.Time) {
	telemetry.RecordFetch(ctx, kind, res.Outcome.String(), time.Since(start))
}

func checkRepository(repo *repository.Repository, reference string) error {
	if repo == nil {
		return &ConfigurationError{Repository: "<nil>", Reference: reference, Err: ErrNotManaged}
	}
	if !repo.IsManaged() {
		return &ConfigurationError{Repository: repo.ID, Reference: reference, Err: ErrNotManaged}
	}
	if repo.Layout == nil {
		return &ConfigurationError{Repository: repo.ID, Reference: reference, Err: maven.ErrUnknownLayout}
	}
	return nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
