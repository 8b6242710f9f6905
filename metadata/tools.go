// Package metadata rebuilds the canonical maven-metadata.xml documents of a
// managed repository from its directory tree and the copies fetched from
// each remote repository.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/repository-proxy/backend"
	"github.com/wolfeidau/repository-proxy/checksum"
	"github.com/wolfeidau/repository-proxy/protocol/maven"
	"github.com/wolfeidau/repository-proxy/repository"
	"github.com/wolfeidau/repository-proxy/telemetry"
)

// ErrNoVersions is returned when there is nothing to write: no version could
// be found locally or in any remote copy.
var ErrNoVersions = errors.New("no versions found")

// lastUpdatedLayout is the Go layout of a lastUpdated timestamp.
const lastUpdatedLayout = "20060102150405"

// ProxiedRepositories lists the remote repositories that proxy into a managed
// repository.
type ProxiedRepositories interface {
	ProxiedRepositories(sourceID string) []string
}

// Tools gathers versions and writes merged metadata documents.
type Tools struct {
	proxies   ProxiedRepositories
	fileTypes maven.FileTypes
	logger    *slog.Logger
	clock     func() time.Time
}

// Option configures Tools.
type Option func(*Tools)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tools) {
		t.logger = logger
	}
}

// WithFileTypes sets the patterns that decide which files are artifacts.
func WithFileTypes(ft maven.FileTypes) Option {
	return func(t *Tools) {
		t.fileTypes = ft
	}
}

// WithClock sets the time source used when no lastUpdated value is known.
func WithClock(now func() time.Time) Option {
	return func(t *Tools) {
		t.clock = now
	}
}

// New creates Tools reading per-remote copies for the repositories proxies
// reports.
func New(proxies ProxiedRepositories, opts ...Option) *Tools {
	t := &Tools{
		proxies:   proxies,
		fileTypes: maven.DefaultFileTypes(),
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ProxySnapshotPath returns where the copy of the metadata at p fetched from
// proxyID is stored.
func (t *Tools) ProxySnapshotPath(p, proxyID string) string {
	return maven.ProxyMetadataPath(p, proxyID)
}

// GatherAvailableVersions returns the versions of a project. A version
// directory counts when it holds at least one artifact file. Versions listed
// in the remote copies of the project metadata are added.
func (t *Tools) GatherAvailableVersions(ctx context.Context, repo *repository.Repository, ref maven.ProjectReference) (map[string]struct{}, error) {
	versions := make(map[string]struct{})

	projectDir := path.Dir(ref.Path())
	entries, err := repo.Files.ListDir(ctx, projectDir)
	if err != nil && !errors.Is(err, backend.ErrNotFound) {
		return nil, fmt.Errorf("listing %s: %w", projectDir, err)
	}
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		ok, err := t.hasArtifacts(ctx, repo, projectDir+"/"+e.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			versions[e.Name] = struct{}{}
		}
	}

	snapshots, err := t.readProxySnapshots(ctx, repo, ref.Path())
	if err != nil {
		return nil, err
	}
	for _, m := range snapshots {
		for _, v := range m.AvailableVersions {
			versions[v] = struct{}{}
		}
	}
	return versions, nil
}

// GatherSnapshotVersions returns the snapshot builds of a version: every
// version parsed from the artifact files of the version directory, plus the
// latest build named by each remote copy of the version metadata.
func (t *Tools) GatherSnapshotVersions(ctx context.Context, repo *repository.Repository, ref maven.VersionedReference) (map[string]struct{}, error) {
	versions := make(map[string]struct{})

	dir := path.Dir(ref.Path())
	entries, err := repo.Files.ListDir(ctx, dir)
	if err != nil && !errors.Is(err, backend.ErrNotFound) {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		key := dir + "/" + e.Name
		if !t.fileTypes.IsArtifact(key) {
			continue
		}
		c, err := repo.Layout.ParseArtifactPath(key)
		if err != nil {
			t.logger.Debug("ignoring unparseable artifact", "repository", repo.ID, "path", key, "error", err)
			continue
		}
		versions[c.Version] = struct{}{}
	}

	snapshots, err := t.readProxySnapshots(ctx, repo, ref.Path())
	if err != nil {
		return nil, err
	}
	for _, m := range snapshots {
		if v := latestSnapshotBuild(m); v != "" {
			versions[v] = struct{}{}
		}
	}
	return versions, nil
}

// UpdateMetadata rebuilds the document at key, a version or project metadata
// path. A path whose parent directory contains a digit is taken to be
// version metadata.
func (t *Tools) UpdateMetadata(ctx context.Context, repo *repository.Repository, key string) error {
	if ref, err := maven.ToVersionedReference(key); err == nil {
		return t.UpdateVersionMetadata(ctx, repo, ref)
	}
	ref, err := maven.ToProjectReference(key)
	if err != nil {
		return err
	}
	return t.UpdateProjectMetadata(ctx, repo, ref)
}

// UpdateVersionMetadata rebuilds version metadata. A snapshot version gets
// the newest known build; a release version is written as is.
func (t *Tools) UpdateVersionMetadata(ctx context.Context, repo *repository.Repository, ref maven.VersionedReference) error {
	key := ref.Path()
	m := &maven.Metadata{
		GroupID:    ref.GroupID,
		ArtifactID: ref.ArtifactID,
		Version:    ref.Version,
	}
	var stamps []string

	if maven.IsSnapshot(ref.Version) {
		m.Version = maven.BaseVersion(ref.Version)

		found, err := t.GatherSnapshotVersions(ctx, repo, ref)
		if err != nil {
			return t.failed(ctx, "version", err)
		}
		if len(found) == 0 {
			return t.failed(ctx, "version", fmt.Errorf("%s: %w", ref, ErrNoVersions))
		}

		versions := sortedKeys(found)
		latest := versions[len(versions)-1]
		if _, ts, build, ok := maven.ParseUniqueSnapshot(latest); ok {
			m.SnapshotVersion = &maven.SnapshotVersion{Timestamp: ts, BuildNumber: build}
			if lu, ok := maven.SnapshotTimestampToLastUpdated(ts); ok {
				stamps = append(stamps, lu)
			}
		}
	}

	known, err := t.knownLastUpdated(ctx, repo, key)
	if err != nil {
		return t.failed(ctx, "version", err)
	}
	m.LastUpdated = t.latestStamp(append(stamps, known...))

	if err := t.write(ctx, repo, key, m); err != nil {
		return t.failed(ctx, "version", err)
	}
	telemetry.RecordMetadataMerge(ctx, "version", "written")
	return nil
}

// UpdateProjectMetadata rebuilds project metadata from every known version.
// A project without versions but with known plugins is written as group
// metadata.
func (t *Tools) UpdateProjectMetadata(ctx context.Context, repo *repository.Repository, ref maven.ProjectReference) error {
	key := ref.Path()

	found, err := t.GatherAvailableVersions(ctx, repo, ref)
	if err != nil {
		return t.failed(ctx, "project", err)
	}
	known, err := t.knownLastUpdated(ctx, repo, key)
	if err != nil {
		return t.failed(ctx, "project", err)
	}

	if len(found) == 0 {
		plugins, err := t.knownPlugins(ctx, repo, key)
		if err != nil {
			return t.failed(ctx, "project", err)
		}
		if len(plugins) == 0 {
			return t.failed(ctx, "project", fmt.Errorf("%s: %w", ref, ErrNoVersions))
		}
		m := &maven.Metadata{
			GroupID:     ref.GroupID + "." + ref.ArtifactID,
			Plugins:     plugins,
			LastUpdated: t.latestStamp(known),
		}
		if err := t.write(ctx, repo, key, m); err != nil {
			return t.failed(ctx, "group", err)
		}
		telemetry.RecordMetadataMerge(ctx, "group", "written")
		return nil
	}

	versions := sortedKeys(found)
	m := &maven.Metadata{
		GroupID:           ref.GroupID,
		ArtifactID:        ref.ArtifactID,
		LatestVersion:     versions[len(versions)-1],
		AvailableVersions: versions,
		LastUpdated:       t.latestStamp(known),
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if !maven.IsSnapshot(versions[i]) {
			m.ReleasedVersion = versions[i]
			break
		}
	}

	if err := t.write(ctx, repo, key, m); err != nil {
		return t.failed(ctx, "project", err)
	}
	telemetry.RecordMetadataMerge(ctx, "project", "written")
	return nil
}

// hasArtifacts reports whether dir directly holds an artifact file.
func (t *Tools) hasArtifacts(ctx context.Context, repo *repository.Repository, dir string) (bool, error) {
	entries, err := repo.Files.ListDir(ctx, dir)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("listing %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir && t.fileTypes.IsArtifact(dir+"/"+e.Name) {
			return true, nil
		}
	}
	return false, nil
}

// readProxySnapshots reads the remote copies of the document at key for every
// repository proxying into repo. Missing and malformed copies are left out.
func (t *Tools) readProxySnapshots(ctx context.Context, repo *repository.Repository, key string) ([]*maven.Metadata, error) {
	ids := t.proxies.ProxiedRepositories(repo.ID)
	docs := make([]*maven.Metadata, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			m, err := t.readOptional(gctx, repo, t.ProxySnapshotPath(key, id))
			if err != nil {
				return err
			}
			docs[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := docs[:0]
	for _, m := range docs {
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// readOptional reads a metadata document, returning nil when it is missing
// or cannot be parsed.
func (t *Tools) readOptional(ctx context.Context, repo *repository.Repository, key string) (*maven.Metadata, error) {
	m, err := maven.ReadMetadataFile(ctx, repo.Files, key)
	switch {
	case err == nil:
		return m, nil
	case errors.Is(err, backend.ErrNotFound):
		return nil, nil
	case errors.Is(err, maven.ErrMalformedMetadata):
		t.logger.Warn("ignoring malformed metadata", "repository", repo.ID, "path", key, "error", err)
		telemetry.RecordMetadataMerge(ctx, "snapshot", "malformed")
		return nil, nil
	}
	return nil, err
}

// knownLastUpdated collects the lastUpdated values of the current canonical
// document and of every remote copy.
func (t *Tools) knownLastUpdated(ctx context.Context, repo *repository.Repository, key string) ([]string, error) {
	docs, err := t.readProxySnapshots(ctx, repo, key)
	if err != nil {
		return nil, err
	}
	current, err := t.readOptional(ctx, repo, key)
	if err != nil {
		return nil, err
	}
	if current != nil {
		docs = append(docs, current)
	}

	stamps := make([]string, 0, len(docs))
	for _, m := range docs {
		if m.LastUpdated != "" {
			stamps = append(stamps, m.LastUpdated)
		}
	}
	return stamps, nil
}

// knownPlugins merges the plugin entries of the current canonical document
// and every remote copy, keyed by prefix.
func (t *Tools) knownPlugins(ctx context.Context, repo *repository.Repository, key string) ([]maven.Plugin, error) {
	docs, err := t.readProxySnapshots(ctx, repo, key)
	if err != nil {
		return nil, err
	}
	current, err := t.readOptional(ctx, repo, key)
	if err != nil {
		return nil, err
	}
	if current != nil {
		docs = append([]*maven.Metadata{current}, docs...)
	}

	seen := make(map[string]bool)
	var plugins []maven.Plugin
	for _, m := range docs {
		for _, p := range m.Plugins {
			if seen[p.Prefix] {
				continue
			}
			seen[p.Prefix] = true
			plugins = append(plugins, p)
		}
	}
	return plugins, nil
}

// latestStamp returns the newest well formed timestamp, or the current time
// when there is none.
func (t *Tools) latestStamp(stamps []string) string {
	var latest string
	for _, s := range stamps {
		if len(s) != len(lastUpdatedLayout) {
			continue
		}
		if _, err := strconv.ParseUint(s, 10, 64); err != nil {
			continue
		}
		if s > latest {
			latest = s
		}
	}
	if latest == "" {
		latest = t.clock().UTC().Format(lastUpdatedLayout)
	}
	return latest
}

func (t *Tools) write(ctx context.Context, repo *repository.Repository, key string, m *maven.Metadata) error {
	if err := maven.WriteMetadataFile(ctx, repo.Files, key, m); err != nil {
		return err
	}
	if err := checksum.Fix(repo.Storage.Path(key)); err != nil {
		return fmt.Errorf("writing checksums for %s: %w", key, err)
	}
	t.logger.Debug("wrote metadata", "repository", repo.ID, "path", key)
	return nil
}

func (t *Tools) failed(ctx context.Context, kind string, err error) error {
	outcome := "error"
	if errors.Is(err, ErrNoVersions) {
		outcome = "no_versions"
	}
	telemetry.RecordMetadataMerge(ctx, kind, outcome)
	return err
}

// latestSnapshotBuild returns the unique snapshot version named by the
// snapshot element of m, or "".
func latestSnapshotBuild(m *maven.Metadata) string {
	s := m.SnapshotVersion
	if s == nil || s.Timestamp == "" || !maven.IsGenericSnapshot(m.Version) {
		return ""
	}
	base := strings.TrimSuffix(m.Version, maven.Snapshot)
	return base + s.Timestamp + "-" + strconv.Itoa(s.BuildNumber)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	maven.SortVersions(out)
	return out
}
