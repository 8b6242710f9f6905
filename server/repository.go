package server

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/wolfeidau/repository-proxy/download"
	"github.com/wolfeidau/repository-proxy/protocol/maven"
	"github.com/wolfeidau/repository-proxy/proxy"
	"github.com/wolfeidau/repository-proxy/repository"
	"github.com/wolfeidau/repository-proxy/telemetry"
)

// handleRepository serves a file of a managed repository. Artifacts and
// metadata are passed through the proxy connectors first, so a miss is
// fetched and a stale copy refreshed according to the connector policies.
// Checksum requests fetch the file they belong to and serve its side file.
// Anything else is served from the local tree as is.
func (s *Server) handleRepository(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	key := r.PathValue("path")
	telemetry.SetRepository(r, id)

	repo, ok := s.repositories.Repository(id)
	if !ok || !repo.IsManaged() {
		http.NotFound(w, r)
		return
	}
	if !validKey(key) {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	logger := s.logger.With("repository", id, "path", key)

	target := key
	if t, _, ok := maven.SplitChecksumPath(key); ok {
		target = t
		telemetry.SetEndpoint(r, "checksum")
	}

	fetch, endpoint := s.fetchFor(repo, target)
	if fetch == nil {
		telemetry.SetEndpoint(r, "file")
		telemetry.SetCacheResult(r, telemetry.CacheBypass)
		download.ServeFile(w, r, repo.Storage.Path(key), logger)
		return
	}
	if target == key {
		telemetry.SetEndpoint(r, endpoint)
	}

	existed := fileExists(repo.Storage.Path(target))
	dlKey := download.Key(repo.ID, target)
	res, shared, err := s.downloader.Do(r.Context(), dlKey, fetch)
	if err != nil {
		telemetry.SetCacheResult(r, telemetry.CacheMiss)
		download.HandleResult(w, r, s.downloader, dlKey, nil, err, logger)
		return
	}
	if qerr := res.QueuedError(); qerr != nil {
		logger.Warn("connectors failed before the fetch completed", "error", qerr)
	}
	if existed && res.Outcome != proxy.OutcomeFound {
		telemetry.SetCacheResult(r, telemetry.CacheHit)
	} else {
		telemetry.SetCacheResult(r, telemetry.CacheMiss)
	}
	logger.Debug("fetch complete", "outcome", res.Outcome.String(), "connector", res.Connector, "shared", shared)

	if target != key {
		if !res.Found() {
			http.NotFound(w, r)
			return
		}
		download.ServeFile(w, r, repo.Storage.Path(key), logger)
		return
	}
	download.HandleResult(w, r, s.downloader, dlKey, res, nil, logger)
}

// fetchFor returns the fetch that refreshes key, or nil when key is neither
// metadata nor an artifact path of the repository layout.
func (s *Server) fetchFor(repo *repository.Repository, key string) (download.FetchFunc, string) {
	if maven.IsMetadataPath(key) {
		if !repo.Layout.SupportsMetadata() {
			return nil, ""
		}
		if ref, err := maven.ToVersionedReference(key); err == nil {
			return func(ctx context.Context) (*proxy.Result, error) {
				return s.fetcher.FetchVersionMetadata(ctx, repo, ref)
			}, "version-metadata"
		}
		if ref, err := maven.ToProjectReference(key); err == nil {
			return func(ctx context.Context) (*proxy.Result, error) {
				return s.fetcher.FetchProjectMetadata(ctx, repo, ref)
			}, "project-metadata"
		}
		return nil, ""
	}

	c, err := repo.Layout.ParseArtifactPath(key)
	if err != nil {
		return nil, ""
	}
	return func(ctx context.Context) (*proxy.Result, error) {
		return s.fetcher.FetchArtifact(ctx, repo, c)
	}, "artifact"
}

// validKey rejects keys that could leave the repository root.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return false
		}
	}
	return true
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
