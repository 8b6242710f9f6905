package download

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/wolfeidau/repository-proxy/proxy"
)

// Content types of the files a Maven repository serves.
const (
	ContentTypeXML    = "text/xml"
	ContentTypeText   = "text/plain"
	ContentTypeBinary = "application/octet-stream"
)

// ContentType picks the response type from the file name.
func ContentType(name string) string {
	switch filepath.Ext(name) {
	case ".xml", ".pom":
		return ContentTypeXML
	case ".sha1", ".md5", ".asc":
		return ContentTypeText
	}
	return ContentTypeBinary
}

// HandleDownloadError writes an HTTP error response for a failed fetch. It
// handles context cancellation and timeout, configuration problems and
// generic upstream failures.
func HandleDownloadError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		http.Error(w, "request timeout", http.StatusGatewayTimeout)
		return
	}
	var ce *proxy.ConfigurationError
	if errors.As(err, &ce) {
		logger.Error("repository misconfigured", "repository", ce.Repository, "error", err)
		http.Error(w, "repository misconfigured", http.StatusInternalServerError)
		return
	}
	logger.Error("fetch failed", "error", err)
	http.Error(w, "upstream error", http.StatusBadGateway)
}

// ServeFile writes a local repository file to the response. Conditional and
// range requests are answered by http.ServeContent. For HEAD requests the
// headers are written without the body.
func ServeFile(w http.ResponseWriter, r *http.Request, file string, logger *slog.Logger) {
	f, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		logger.Error("failed to open repository file", "path", file, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", ContentType(file))
	http.ServeContent(w, r, filepath.Base(file), info.ModTime(), f)
}

// ForgetOnDownloadError calls Forget on the downloader if the error represents
// a real fetch failure (not a caller context timeout).
func ForgetOnDownloadError(d *Downloader, key string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	d.Forget(key)
}

// HandleResult processes the result of a Downloader.Do call: errors become
// error responses, an empty result is a 404, and a found file is served.
func HandleResult(w http.ResponseWriter, r *http.Request, d *Downloader, key string, res *proxy.Result, err error, logger *slog.Logger) {
	if err != nil {
		ForgetOnDownloadError(d, key, err)
		HandleDownloadError(w, logger, err)
		return
	}
	if !res.Found() {
		http.NotFound(w, r)
		return
	}
	if res.Connector != "" {
		w.Header().Set("X-Proxy-Connector", res.Connector)
	}
	ServeFile(w, r, res.Path, logger)
}
