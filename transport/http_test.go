package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/repository-proxy/repository"
)

func connectHTTP(t *testing.T, srv *httptest.Server, opts ...repository.Option) Transport {
	t.Helper()
	target, err := repository.NewRemote("central", srv.URL+"/maven2", opts...)
	require.NoError(t, err)

	tr := NewHTTPPool(WithUserAgent("test-agent")).New()
	require.NoError(t, tr.Connect(context.Background(), target, nil))
	t.Cleanup(func() { _ = tr.Disconnect() })
	return tr
}

func TestHTTPGet(t *testing.T) {
	modified := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/maven2/org/example/lib/1.0/lib-1.0.jar", r.URL.Path)
		require.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Last-Modified", modified.Format(http.TimeFormat))
		_, _ = w.Write([]byte("jar content"))
	}))
	defer srv.Close()

	tr := connectHTTP(t, srv)
	dest := filepath.Join(t.TempDir(), "lib-1.0.jar")

	err := tr.Get(context.Background(), "org/example/lib/1.0/lib-1.0.jar", dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "jar content", string(data))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(modified))
}

func TestHTTPGetStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "not found", status: http.StatusNotFound, wantErr: ErrResourceNotFound},
		{name: "gone", status: http.StatusGone, wantErr: ErrResourceNotFound},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: ErrAuthorization},
		{name: "forbidden", status: http.StatusForbidden, wantErr: ErrAuthorization},
		{name: "proxy auth", status: http.StatusProxyAuthRequired, wantErr: ErrAuthorization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			tr := connectHTTP(t, srv)
			err := tr.Get(context.Background(), "a/b/c.pom", filepath.Join(t.TempDir(), "c.pom"))
			require.ErrorIs(t, err, tt.wantErr)

			var terr *Error
			require.True(t, errors.As(err, &terr))
			require.Contains(t, terr.URL, "/maven2/a/b/c.pom")
		})
	}
}

func TestHTTPGetServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := connectHTTP(t, srv)
	err := tr.Get(context.Background(), "a.pom", filepath.Join(t.TempDir(), "a.pom"))
	require.Error(t, err)
	require.False(t, IsNotFound(err))
	require.Contains(t, err.Error(), "502")
	require.Contains(t, err.Error(), "boom")
}

func TestHTTPBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "deploy" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tr := connectHTTP(t, srv, repository.WithCredentials("deploy", "secret"))
	require.NoError(t, tr.Get(context.Background(), "x.pom", filepath.Join(t.TempDir(), "x.pom")))
}

func TestHTTPGetIfNewer(t *testing.T) {
	remoteModified := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		honorIMS     bool
		since        time.Time
		wantDownload bool
	}{
		{
			name:         "remote newer",
			honorIMS:     true,
			since:        remoteModified.Add(-time.Hour),
			wantDownload: true,
		},
		{
			name:         "not modified",
			honorIMS:     true,
			since:        remoteModified.Add(time.Hour),
			wantDownload: false,
		},
		{
			name:         "server ignores if-modified-since",
			honorIMS:     false,
			since:        remoteModified,
			wantDownload: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.honorIMS {
					ims, err := http.ParseTime(r.Header.Get("If-Modified-Since"))
					if err == nil && !remoteModified.After(ims) {
						w.WriteHeader(http.StatusNotModified)
						return
					}
				}
				w.Header().Set("Last-Modified", remoteModified.Format(http.TimeFormat))
				_, _ = w.Write([]byte("fresh"))
			}))
			defer srv.Close()

			tr := connectHTTP(t, srv)
			dest := filepath.Join(t.TempDir(), "maven-metadata.xml")
			require.NoError(t, os.WriteFile(dest, []byte("stale"), 0644))

			downloaded, err := tr.GetIfNewer(context.Background(), "maven-metadata.xml", dest, tt.since)
			require.NoError(t, err)
			require.Equal(t, tt.wantDownload, downloaded)

			data, err := os.ReadFile(dest)
			require.NoError(t, err)
			if tt.wantDownload {
				require.Equal(t, "fresh", string(data))
			} else {
				require.Equal(t, "stale", string(data))
			}
		})
	}
}

func TestHTTPNotConnected(t *testing.T) {
	tr := NewHTTPPool().New()
	err := tr.Get(context.Background(), "a.pom", filepath.Join(t.TempDir(), "a.pom"))
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestHTTPConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	target, err := repository.NewRemote("gone", url)
	require.NoError(t, err)
	tr := NewHTTPPool().New()
	require.NoError(t, tr.Connect(context.Background(), target, nil))

	err = tr.Get(context.Background(), "a.pom", filepath.Join(t.TempDir(), "a.pom"))
	require.ErrorIs(t, err, ErrConnection)
	require.False(t, IsNotFound(err))
}

func TestHTTPPoolNetworkProxy(t *testing.T) {
	var proxied bool
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = true
		require.Equal(t, "http://repo.invalid/maven2/a.pom", r.URL.String())
		_, _ = w.Write([]byte("via proxy"))
	}))
	defer proxySrv.Close()

	addr := proxySrv.Listener.Addr().String()
	host, port := splitHostPort(t, addr)

	pool := NewHTTPPool()
	np := &repository.NetworkProxy{ID: "corp", Protocol: "http", Host: host, Port: port}

	target, err := repository.NewRemote("central", "http://repo.invalid/maven2")
	require.NoError(t, err)
	tr := pool.New()
	require.NoError(t, tr.Connect(context.Background(), target, np))

	dest := filepath.Join(t.TempDir(), "a.pom")
	require.NoError(t, tr.Get(context.Background(), "a.pom", dest))
	require.True(t, proxied)

	rt1, err := pool.roundTripper(np)
	require.NoError(t, err)
	rt2, err := pool.roundTripper(np)
	require.NoError(t, err)
	require.Same(t, rt1, rt2)
}

func TestHTTPPoolUnsupportedProxyProtocol(t *testing.T) {
	target, err := repository.NewRemote("central", "http://repo.invalid")
	require.NoError(t, err)

	tr := NewHTTPPool().New()
	err = tr.Connect(context.Background(), target, &repository.NetworkProxy{ID: "p", Protocol: "ftp", Host: "h", Port: 1})
	require.ErrorIs(t, err, ErrConnection)
}

func TestHTTPPoolSOCKSProxy(t *testing.T) {
	pool := NewHTTPPool()
	rt, err := pool.roundTripper(&repository.NetworkProxy{ID: "socks", Protocol: "socks5", Host: "127.0.0.1", Port: 1080, Username: "u", Password: "p"})
	require.NoError(t, err)
	require.NotNil(t, rt)
}
