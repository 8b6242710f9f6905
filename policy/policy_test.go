package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings(map[string]string{
		"releases":         "ONCE",
		" snapshots ":      "daily",
		"propagate-errors": "stop",
	})
	require.NoError(t, err)
	require.Equal(t, Once, s.Option(Releases))
	require.Equal(t, Daily, s.Option(Snapshots))
	require.Equal(t, Stop, s.Option(PropagateErrors))
	require.Equal(t, Yes, s.Option(CacheFailures))
	require.Equal(t, Fix, s.Option(Checksum))
	require.Equal(t, NotPresent, s.Option(PropagateErrorsOnUpdate))
}

func TestParseSettingsErrors(t *testing.T) {
	_, err := ParseSettings(map[string]string{"checksum": "sometimes"})
	require.ErrorIs(t, err, ErrUnknownOption)

	_, err = ParseSettings(map[string]string{"auto-update": "yes"})
	require.ErrorIs(t, err, ErrUnknownPolicy)

	// Options of one policy are not valid for another.
	_, err = ParseSettings(map[string]string{"releases": "fix"})
	require.ErrorIs(t, err, ErrUnknownOption)
}

func TestSettingsWith(t *testing.T) {
	s := DefaultSettings()
	s2, err := s.With(Checksum, Fail)
	require.NoError(t, err)
	require.Equal(t, Fail, s2.Option(Checksum))
	require.Equal(t, Fix, s.Option(Checksum))

	_, err = s.With(Checksum, Never)
	require.ErrorIs(t, err, ErrUnknownOption)
}

func TestSettingsMap(t *testing.T) {
	m := DefaultSettings().Map()
	require.Len(t, m, len(Descriptors()))
	require.Equal(t, "hourly", m[Releases])
	require.True(t, strings.Contains(DefaultSettings().String(), "checksum=fix"))
}

func TestDescriptors(t *testing.T) {
	ids := make([]string, 0)
	for _, d := range Descriptors() {
		ids = append(ids, d.ID)
		require.True(t, d.Allows(d.Default), d.ID)
		require.Len(t, d.OptionDescriptions, len(d.Options), d.ID)
	}
	require.Equal(t, []string{Releases, Snapshots, CacheFailures, Checksum, PropagateErrors, PropagateErrorsOnUpdate}, ids)

	_, ok := Lookup("nope")
	require.False(t, ok)
}

func localFile(t *testing.T, age time.Duration, now time.Time) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "lib-1.0.jar")
	require.NoError(t, os.WriteFile(p, []byte("jar"), 0644))
	mtime := now.Add(-age)
	require.NoError(t, os.Chtimes(p, mtime, mtime))
	return p
}

func TestApplyUpdate(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	release := Request{FileType: FileTypeArtifact, Version: "1.0"}
	snapshot := Request{FileType: FileTypeArtifact, Version: "1.0-SNAPSHOT"}
	metadata := Request{FileType: FileTypeMetadata, Version: "1.0"}

	tests := []struct {
		name     string
		id       string
		opt      Option
		req      Request
		age      time.Duration
		noLocal  bool
		wantDeny bool
	}{
		{name: "daily 22h old", id: Releases, opt: Daily, req: release, age: 22 * time.Hour, wantDeny: true},
		{name: "daily 25h old", id: Releases, opt: Daily, req: release, age: 25 * time.Hour},
		{name: "hourly 30m old", id: Releases, opt: Hourly, req: release, age: 30 * time.Minute, wantDeny: true},
		{name: "hourly 2h old", id: Releases, opt: Hourly, req: release, age: 2 * time.Hour},
		{name: "always", id: Releases, opt: Always, req: release, age: time.Second},
		{name: "never", id: Releases, opt: Never, req: release, noLocal: true, wantDeny: true},
		{name: "once with local", id: Releases, opt: Once, req: release, age: 400 * 24 * time.Hour, wantDeny: true},
		{name: "once without local", id: Releases, opt: Once, req: release, noLocal: true},
		{name: "daily without local", id: Releases, opt: Daily, req: release, noLocal: true},
		{name: "releases ignores snapshots", id: Releases, opt: Never, req: snapshot},
		{name: "snapshots ignores releases", id: Snapshots, opt: Never, req: release},
		{name: "snapshots never", id: Snapshots, opt: Never, req: snapshot, wantDeny: true},
		{name: "snapshots daily 22h old", id: Snapshots, opt: Daily, req: snapshot, age: 22 * time.Hour, wantDeny: true},
		{name: "snapshots daily 25h old", id: Snapshots, opt: Daily, req: snapshot, age: 25 * time.Hour},
		{name: "snapshots hourly 30m old", id: Snapshots, opt: Hourly, req: snapshot, age: 30 * time.Minute, wantDeny: true},
		{name: "snapshots once with local", id: Snapshots, opt: Once, req: snapshot, age: time.Minute, wantDeny: true},
		{name: "snapshots once without local", id: Snapshots, opt: Once, req: snapshot, noLocal: true},
		{name: "snapshots timestamped build daily 22h old", id: Snapshots, opt: Daily, req: Request{FileType: FileTypeArtifact, Version: "1.0-20240101.120000-3"}, age: 22 * time.Hour, wantDeny: true},
		{name: "metadata always allowed", id: Releases, opt: Never, req: metadata},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := filepath.Join(t.TempDir(), "absent.jar")
			if !tt.noLocal {
				local = localFile(t, tt.age, now)
			}

			err := ApplyUpdate(tt.id, tt.opt, tt.req, local, now)
			if tt.wantDeny {
				require.ErrorIs(t, err, ErrViolation)
				var v *Violation
				require.True(t, errors.As(err, &v))
				require.Equal(t, tt.id, v.Policy)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestApplyUpdateUnknownOption(t *testing.T) {
	err := ApplyUpdate(Releases, Fix, Request{FileType: FileTypeArtifact}, "", time.Now())
	require.ErrorIs(t, err, ErrUnknownOption)
	require.NotErrorIs(t, err, ErrViolation)

	err = ApplyUpdate(Checksum, Always, Request{}, "", time.Now())
	require.ErrorIs(t, err, ErrUnknownPolicy)
}

type failures map[string]bool

func (f failures) HasFailedBefore(url string) bool { return f[url] }

func TestApplyCacheFailures(t *testing.T) {
	cache := failures{"http://repo/a.jar": true}
	req := Request{URL: "http://repo/a.jar"}

	require.ErrorIs(t, ApplyCacheFailures(Yes, req, cache), ErrViolation)
	require.NoError(t, ApplyCacheFailures(No, req, cache))
	require.NoError(t, ApplyCacheFailures(Yes, Request{URL: "http://repo/b.jar"}, cache))
	require.NoError(t, ApplyCacheFailures(Yes, req, nil))
	require.ErrorIs(t, ApplyCacheFailures(Option("maybe"), req, cache), ErrUnknownOption)
}

const (
	helloSHA1 = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"
	helloMD5  = "5d41402abc4b2a76b9719d911017c592"
	badMD5    = "00000000000000000000000000000000"
)

func artifactWithChecksums(t *testing.T, sha1, md5 string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "foo-1.0.jar")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0644))
	if sha1 != "" {
		require.NoError(t, os.WriteFile(p+".sha1", []byte(sha1+"  foo-1.0.jar\n"), 0644))
	}
	if md5 != "" {
		require.NoError(t, os.WriteFile(p+".md5", []byte(md5+"  foo-1.0.jar\n"), 0644))
	}
	return p
}

func TestApplyChecksumFixRewritesMismatch(t *testing.T) {
	p := artifactWithChecksums(t, helloSHA1, badMD5)

	require.NoError(t, ApplyChecksum(Fix, p))

	data, err := os.ReadFile(p + ".md5")
	require.NoError(t, err)
	require.Equal(t, helloMD5+"  foo-1.0.jar\n", string(data))
}

func TestApplyChecksumFixCreatesMissing(t *testing.T) {
	p := artifactWithChecksums(t, "", "")

	require.NoError(t, ApplyChecksum(Fix, p))
	require.FileExists(t, p+".sha1")
	require.FileExists(t, p+".md5")
}

func TestApplyChecksumFailRemovesOnMismatch(t *testing.T) {
	p := artifactWithChecksums(t, helloSHA1, badMD5)

	err := ApplyChecksum(Fail, p)
	require.ErrorIs(t, err, ErrViolation)

	require.NoFileExists(t, p)
	require.NoFileExists(t, p+".sha1")
	require.NoFileExists(t, p+".md5")
}

func TestApplyChecksumFailAcceptsValid(t *testing.T) {
	p := artifactWithChecksums(t, helloSHA1, "")

	require.NoError(t, ApplyChecksum(Fail, p))
	require.FileExists(t, p)
}

func TestApplyChecksumIgnoreAndMissing(t *testing.T) {
	p := artifactWithChecksums(t, helloSHA1, badMD5)
	require.NoError(t, ApplyChecksum(Ignore, p))
	require.FileExists(t, p)

	require.NoError(t, ApplyChecksum(Fail, filepath.Join(t.TempDir(), "absent.jar")))
	require.ErrorIs(t, ApplyChecksum(Always, p), ErrUnknownOption)
}

func TestApplyPropagateErrors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name       string
		opt        Option
		want       bool
		wantQueued bool
		wantErr    error
	}{
		{name: "stop", opt: Stop, want: true},
		{name: "queue", opt: Queue, wantQueued: true},
		{name: "ignore", opt: Ignore},
		{name: "unknown", opt: Option("retry"), wantErr: ErrUnknownOption},
		{name: "option of another policy", opt: Always, wantErr: ErrUnknownOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queued := map[string]error{}
			got, err := ApplyPropagateErrors(tt.opt, "central", boom, queued)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Empty(t, queued)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			if tt.wantQueued {
				require.Equal(t, boom, queued["central"])
			} else {
				require.Empty(t, queued)
			}
		})
	}
}

func TestApplyPropagateErrorsOnUpdate(t *testing.T) {
	present := localFile(t, time.Hour, time.Now())
	absent := filepath.Join(t.TempDir(), "absent.jar")
	tests := []struct {
		name    string
		opt     Option
		local   string
		want    bool
		wantErr error
	}{
		{name: "always with local copy", opt: Always, local: present, want: true},
		{name: "not-present without local copy", opt: NotPresent, local: absent, want: true},
		{name: "not-present with local copy", opt: NotPresent, local: present, want: false},
		{name: "unknown", opt: Option("sometimes"), local: absent, wantErr: ErrUnknownOption},
		{name: "option of another policy", opt: Queue, local: absent, wantErr: ErrUnknownOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyPropagateErrorsOnUpdate(tt.opt, tt.local)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
