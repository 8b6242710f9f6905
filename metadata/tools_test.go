package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/repository-proxy/checksum"
	"github.com/wolfeidau/repository-proxy/protocol/maven"
	"github.com/wolfeidau/repository-proxy/repository"
)

type staticProxies map[string][]string

func (s staticProxies) ProxiedRepositories(sourceID string) []string {
	return s[sourceID]
}

var (
	fooProject = maven.ProjectReference{GroupID: "org", ArtifactID: "foo"}
	fixedTime  = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func newTools(t *testing.T, proxies ...string) (*Tools, *repository.Repository) {
	t.Helper()
	repo, err := repository.NewManaged("internal", t.TempDir())
	require.NoError(t, err)
	tools := New(staticProxies{"internal": proxies}, WithClock(func() time.Time { return fixedTime }))
	return tools, repo
}

func put(t *testing.T, repo *repository.Repository, key, content string) {
	t.Helper()
	p := repo.Storage.Path(key)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func read(t *testing.T, repo *repository.Repository, key string) *maven.Metadata {
	t.Helper()
	m, err := maven.ReadMetadataFile(context.Background(), repo.Storage, key)
	require.NoError(t, err)
	return m
}

func TestUpdateProjectMetadataMergesProxies(t *testing.T) {
	tools, repo := newTools(t, "central")
	put(t, repo, "org/foo/1.0/foo-1.0.jar", "jar")
	put(t, repo, "org/foo/1.1/foo-1.1.pom", "pom")
	put(t, repo, "org/foo/maven-metadata-central.xml", `<metadata>
  <groupId>org</groupId>
  <artifactId>foo</artifactId>
  <versioning>
    <versions><version>1.2</version></versions>
    <lastUpdated>20240102030405</lastUpdated>
  </versioning>
</metadata>`)

	require.NoError(t, tools.UpdateProjectMetadata(context.Background(), repo, fooProject))

	m := read(t, repo, fooProject.Path())
	require.Equal(t, "org", m.GroupID)
	require.Equal(t, "foo", m.ArtifactID)
	require.Equal(t, []string{"1.0", "1.1", "1.2"}, m.AvailableVersions)
	require.Equal(t, "1.2", m.LatestVersion)
	require.Equal(t, "1.2", m.ReleasedVersion)
	require.Equal(t, "20240102030405", m.LastUpdated)

	valid, err := checksum.IsValid(repo.Storage.Path(fooProject.Path()))
	require.NoError(t, err)
	require.True(t, valid)
}

func TestUpdateProjectMetadataOrdering(t *testing.T) {
	tests := []struct {
		name        string
		files       []string
		wantVersion []string
		wantLatest  string
		wantRelease string
	}{
		{
			name:        "numeric components",
			files:       []string{"org/foo/1.2/foo-1.2.jar", "org/foo/1.10/foo-1.10.jar", "org/foo/1.9/foo-1.9.jar"},
			wantVersion: []string{"1.2", "1.9", "1.10"},
			wantLatest:  "1.10",
			wantRelease: "1.10",
		},
		{
			name:        "snapshot is latest but not release",
			files:       []string{"org/foo/1.0/foo-1.0.jar", "org/foo/2.0-SNAPSHOT/foo-2.0-SNAPSHOT.jar"},
			wantVersion: []string{"1.0", "2.0-SNAPSHOT"},
			wantLatest:  "2.0-SNAPSHOT",
			wantRelease: "1.0",
		},
		{
			name:        "only snapshots",
			files:       []string{"org/foo/1.0-SNAPSHOT/foo-1.0-SNAPSHOT.jar"},
			wantVersion: []string{"1.0-SNAPSHOT"},
			wantLatest:  "1.0-SNAPSHOT",
		},
		{
			name:        "directories without artifacts are skipped",
			files:       []string{"org/foo/1.0/foo-1.0.jar", "org/foo/1.1/foo-1.1.jar.sha1", "org/foo/1.2/notes.txt"},
			wantVersion: []string{"1.0"},
			wantLatest:  "1.0",
			wantRelease: "1.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tools, repo := newTools(t)
			for _, f := range tt.files {
				put(t, repo, f, "x")
			}

			require.NoError(t, tools.UpdateProjectMetadata(context.Background(), repo, fooProject))

			m := read(t, repo, fooProject.Path())
			require.Equal(t, tt.wantVersion, m.AvailableVersions)
			require.Equal(t, tt.wantLatest, m.LatestVersion)
			require.Equal(t, tt.wantRelease, m.ReleasedVersion)
			require.Equal(t, "20240501120000", m.LastUpdated)
		})
	}
}

func TestUpdateProjectMetadataKeepsNewestLastUpdated(t *testing.T) {
	tools, repo := newTools(t, "central")
	put(t, repo, "org/foo/1.0/foo-1.0.jar", "jar")
	put(t, repo, fooProject.Path(), `<metadata><groupId>org</groupId><artifactId>foo</artifactId>
<versioning><lastUpdated>20250101000000</lastUpdated></versioning></metadata>`)
	put(t, repo, "org/foo/maven-metadata-central.xml", `<metadata><groupId>org</groupId><artifactId>foo</artifactId>
<versioning><lastUpdated>20240101000000</lastUpdated></versioning></metadata>`)

	require.NoError(t, tools.UpdateProjectMetadata(context.Background(), repo, fooProject))
	require.Equal(t, "20250101000000", read(t, repo, fooProject.Path()).LastUpdated)
}

func TestUpdateProjectMetadataGroup(t *testing.T) {
	tools, repo := newTools(t, "central")
	ref := maven.ProjectReference{GroupID: "org.apache.maven", ArtifactID: "plugins"}
	put(t, repo, maven.ProxyMetadataPath(ref.Path(), "central"), `<metadata>
  <groupId>org.apache.maven.plugins</groupId>
  <plugins>
    <plugin><prefix>clean</prefix><artifactId>maven-clean-plugin</artifactId><name>Clean</name></plugin>
    <plugin><prefix>jar</prefix><artifactId>maven-jar-plugin</artifactId></plugin>
  </plugins>
</metadata>`)

	require.NoError(t, tools.UpdateProjectMetadata(context.Background(), repo, ref))

	m := read(t, repo, ref.Path())
	require.Equal(t, "org.apache.maven.plugins", m.GroupID)
	require.Empty(t, m.ArtifactID)
	require.Equal(t, []maven.Plugin{
		{Prefix: "clean", ArtifactID: "maven-clean-plugin", Name: "Clean"},
		{Prefix: "jar", ArtifactID: "maven-jar-plugin"},
	}, m.Plugins)
}

func TestUpdateProjectMetadataNoVersions(t *testing.T) {
	tools, repo := newTools(t, "central")

	err := tools.UpdateProjectMetadata(context.Background(), repo, fooProject)
	require.ErrorIs(t, err, ErrNoVersions)
	require.NoFileExists(t, repo.Storage.Path(fooProject.Path()))
}

func TestUpdateProjectMetadataIgnoresMalformedProxyCopy(t *testing.T) {
	tools, repo := newTools(t, "central", "mirror")
	put(t, repo, "org/foo/1.0/foo-1.0.jar", "jar")
	put(t, repo, "org/foo/maven-metadata-central.xml", "<metadata><versioning>")
	put(t, repo, "org/foo/maven-metadata-mirror.xml", `<metadata><groupId>org</groupId><artifactId>foo</artifactId>
<versioning><versions><version>1.1</version></versions></versioning></metadata>`)

	require.NoError(t, tools.UpdateProjectMetadata(context.Background(), repo, fooProject))
	require.Equal(t, []string{"1.0", "1.1"}, read(t, repo, fooProject.Path()).AvailableVersions)
}

func TestUpdateVersionMetadataSnapshot(t *testing.T) {
	tools, repo := newTools(t, "central")
	ref := maven.VersionedReference{GroupID: "org", ArtifactID: "foo", Version: "1.0-SNAPSHOT"}
	put(t, repo, "org/foo/1.0-SNAPSHOT/foo-1.0-20070821.213044-8.jar", "jar")
	put(t, repo, "org/foo/1.0-SNAPSHOT/foo-1.0-20070821.213044-8.pom", "pom")
	put(t, repo, "org/foo/1.0-SNAPSHOT/maven-metadata-central.xml", `<metadata>
  <groupId>org</groupId>
  <artifactId>foo</artifactId>
  <version>1.0-SNAPSHOT</version>
  <versioning>
    <snapshot><timestamp>20070822.101010</timestamp><buildNumber>9</buildNumber></snapshot>
  </versioning>
</metadata>`)

	require.NoError(t, tools.UpdateVersionMetadata(context.Background(), repo, ref))

	m := read(t, repo, ref.Path())
	require.Equal(t, "1.0-SNAPSHOT", m.Version)
	require.Equal(t, &maven.SnapshotVersion{Timestamp: "20070822.101010", BuildNumber: 9}, m.SnapshotVersion)
	require.Equal(t, "20070822101010", m.LastUpdated)
}

func TestUpdateVersionMetadataLocalSnapshotWins(t *testing.T) {
	tools, repo := newTools(t, "central")
	ref := maven.VersionedReference{GroupID: "org", ArtifactID: "foo", Version: "1.0-20070823.000000-10"}
	put(t, repo, "org/foo/1.0-SNAPSHOT/foo-1.0-20070823.000000-10.jar", "jar")
	put(t, repo, "org/foo/1.0-SNAPSHOT/maven-metadata-central.xml", `<metadata><groupId>org</groupId><artifactId>foo</artifactId>
<version>1.0-SNAPSHOT</version><versioning><snapshot><timestamp>20070822.101010</timestamp><buildNumber>9</buildNumber></snapshot></versioning></metadata>`)

	require.NoError(t, tools.UpdateVersionMetadata(context.Background(), repo, ref))

	m := read(t, repo, ref.Path())
	require.Equal(t, "1.0-SNAPSHOT", m.Version)
	require.Equal(t, &maven.SnapshotVersion{Timestamp: "20070823.000000", BuildNumber: 10}, m.SnapshotVersion)
}

func TestUpdateVersionMetadataGenericSnapshot(t *testing.T) {
	tools, repo := newTools(t)
	ref := maven.VersionedReference{GroupID: "org", ArtifactID: "foo", Version: "1.0-SNAPSHOT"}
	put(t, repo, "org/foo/1.0-SNAPSHOT/foo-1.0-SNAPSHOT.jar", "jar")

	require.NoError(t, tools.UpdateVersionMetadata(context.Background(), repo, ref))

	m := read(t, repo, ref.Path())
	require.Equal(t, "1.0-SNAPSHOT", m.Version)
	require.Nil(t, m.SnapshotVersion)
	require.Equal(t, "20240501120000", m.LastUpdated)
}

func TestUpdateVersionMetadataSnapshotWithoutBuilds(t *testing.T) {
	tools, repo := newTools(t)
	ref := maven.VersionedReference{GroupID: "org", ArtifactID: "foo", Version: "1.0-SNAPSHOT"}

	err := tools.UpdateVersionMetadata(context.Background(), repo, ref)
	require.ErrorIs(t, err, ErrNoVersions)
}

func TestUpdateVersionMetadataRelease(t *testing.T) {
	tools, repo := newTools(t)
	ref := maven.VersionedReference{GroupID: "org", ArtifactID: "foo", Version: "1.0"}

	require.NoError(t, tools.UpdateVersionMetadata(context.Background(), repo, ref))

	m := read(t, repo, ref.Path())
	require.Equal(t, "1.0", m.Version)
	require.Nil(t, m.SnapshotVersion)
	require.Empty(t, m.AvailableVersions)
}

func TestUpdateMetadataDispatch(t *testing.T) {
	tools, repo := newTools(t)
	put(t, repo, "org/foo/1.0/foo-1.0.jar", "jar")
	ctx := context.Background()

	require.NoError(t, tools.UpdateMetadata(ctx, repo, "org/foo/1.0/maven-metadata.xml"))
	require.Equal(t, "1.0", read(t, repo, "org/foo/1.0/maven-metadata.xml").Version)

	require.NoError(t, tools.UpdateMetadata(ctx, repo, "org/foo/maven-metadata.xml"))
	require.Equal(t, []string{"1.0"}, read(t, repo, "org/foo/maven-metadata.xml").AvailableVersions)

	require.ErrorIs(t, tools.UpdateMetadata(ctx, repo, "org/foo/1.0/foo-1.0.jar"), maven.ErrNotMetadataPath)
}

func TestUpdateIsStable(t *testing.T) {
	tools, repo := newTools(t)
	put(t, repo, "org/foo/1.0/foo-1.0.jar", "jar")
	put(t, repo, "org/foo/1.1/foo-1.1.jar", "jar")
	ctx := context.Background()

	require.NoError(t, tools.UpdateProjectMetadata(ctx, repo, fooProject))
	first, err := os.ReadFile(repo.Storage.Path(fooProject.Path()))
	require.NoError(t, err)

	require.NoError(t, tools.UpdateProjectMetadata(ctx, repo, fooProject))
	second, err := os.ReadFile(repo.Storage.Path(fooProject.Path()))
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}

func TestGatherSnapshotVersions(t *testing.T) {
	tools, repo := newTools(t, "central", "mirror")
	ref := maven.VersionedReference{GroupID: "org", ArtifactID: "foo", Version: "1.0-SNAPSHOT"}
	put(t, repo, "org/foo/1.0-SNAPSHOT/foo-1.0-20070821.213044-8.jar", "jar")
	put(t, repo, "org/foo/1.0-SNAPSHOT/foo-1.0-20070821.213044-8.jar.sha1", "sum")
	put(t, repo, "org/foo/1.0-SNAPSHOT/maven-metadata-mirror.xml", `<metadata><groupId>org</groupId><artifactId>foo</artifactId>
<version>1.0-SNAPSHOT</version><versioning><snapshot><timestamp>20070901.000000</timestamp><buildNumber>12</buildNumber></snapshot></versioning></metadata>`)

	got, err := tools.GatherSnapshotVersions(context.Background(), repo, ref)
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{
		"1.0-20070821.213044-8":  {},
		"1.0-20070901.000000-12": {},
	}, got)
}

func TestProxySnapshotPath(t *testing.T) {
	tools, _ := newTools(t)
	require.Equal(t, "org/foo/maven-metadata-central.xml", tools.ProxySnapshotPath("org/foo/maven-metadata.xml", "central"))
}
