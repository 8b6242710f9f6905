package maven

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSplitChecksumPath(t *testing.T) {
	target, typ, ok := SplitChecksumPath("org/example/lib/1.0/lib-1.0.jar.sha1")
	require.True(t, ok)
	require.Equal(t, "org/example/lib/1.0/lib-1.0.jar", target)
	require.Equal(t, ChecksumSHA1, typ)

	target, typ, ok = SplitChecksumPath("org/example/lib/maven-metadata.xml.md5")
	require.True(t, ok)
	require.Equal(t, "org/example/lib/maven-metadata.xml", target)
	require.Equal(t, ChecksumMD5, typ)

	_, _, ok = SplitChecksumPath("org/example/lib/1.0/lib-1.0.jar")
	require.False(t, ok)
}

func TestToProjectReference(t *testing.T) {
	ref, err := ToProjectReference("org/apache/maven/maven-core/maven-metadata.xml")
	require.NoError(t, err)
	require.Equal(t, ProjectReference{GroupID: "org.apache.maven", ArtifactID: "maven-core"}, ref)

	_, err = ToProjectReference("maven-core/maven-metadata.xml")
	require.ErrorIs(t, err, ErrNotMetadataPath)

	_, err = ToProjectReference("org/apache/maven/maven-core/1.0/maven-core-1.0.pom")
	require.ErrorIs(t, err, ErrNotMetadataPath)
}

func TestToVersionedReference(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    VersionedReference
		wantErr bool
	}{
		{
			name: "release",
			path: "org/apache/maven/maven-core/3.9.6/maven-metadata.xml",
			want: VersionedReference{GroupID: "org.apache.maven", ArtifactID: "maven-core", Version: "3.9.6"},
		},
		{
			name: "snapshot",
			path: "/org/example/lib/1.0-SNAPSHOT/maven-metadata.xml",
			want: VersionedReference{GroupID: "org.example", ArtifactID: "lib", Version: "1.0-SNAPSHOT"},
		},
		{
			name:    "project level",
			path:    "org/apache/maven/maven-core/maven-metadata.xml",
			wantErr: true,
		},
		{
			name:    "too short",
			path:    "lib/1.0/maven-metadata.xml",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToVersionedReference(tt.path)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrNotMetadataPath)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestProxyMetadataPath(t *testing.T) {
	require.Equal(t, "org/example/lib/maven-metadata-central.xml", ProxyMetadataPath("org/example/lib/maven-metadata.xml", "central"))
	require.Equal(t, "maven-metadata-central.xml", ProxyMetadataPath("maven-metadata.xml", "central"))
}

func TestReferencePathRoundTrip(t *testing.T) {
	segment := rapid.StringMatching(`[a-z][a-z0-9-]{0,8}`)

	rapid.Check(t, func(t *rapid.T) {
		groups := rapid.SliceOfN(segment, 1, 4).Draw(t, "groups")
		artifactID := segment.Draw(t, "artifactId")
		version := rapid.StringMatching(`[0-9]{1,2}(\.[0-9]{1,2}){0,2}(-SNAPSHOT)?`).Draw(t, "version")

		groupID := ""
		for i, g := range groups {
			if i > 0 {
				groupID += "."
			}
			groupID += g
		}

		project := ProjectReference{GroupID: groupID, ArtifactID: artifactID}
		gotProject, err := ToProjectReference(project.Path())
		if err != nil {
			t.Fatalf("parsing %s: %v", project.Path(), err)
		}
		if gotProject != project {
			t.Fatalf("got %v, want %v", gotProject, project)
		}

		versioned := VersionedReference{GroupID: groupID, ArtifactID: artifactID, Version: version}
		gotVersioned, err := ToVersionedReference(versioned.Path())
		if err != nil {
			t.Fatalf("parsing %s: %v", versioned.Path(), err)
		}
		if gotVersioned != versioned {
			t.Fatalf("got %v, want %v", gotVersioned, versioned)
		}
	})
}
