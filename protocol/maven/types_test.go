package maven

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGroupIDToPath(t *testing.T) {
	tests := []struct {
		name    string
		groupID string
		want    string
	}{
		{
			name:    "simple group",
			groupID: "org.apache.commons",
			want:    "org/apache/commons",
		},
		{
			name:    "single segment",
			groupID: "junit",
			want:    "junit",
		},
		{
			name:    "deep nesting",
			groupID: "com.google.guava",
			want:    "com/google/guava",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, groupIDToPath(tt.groupID))
		})
	}
}

func TestPathToGroupID(t *testing.T) {
	require.Equal(t, "org.apache.commons", pathToGroupID("org/apache/commons"))
	require.Equal(t, "junit", pathToGroupID("/junit/"))
}

func TestArtifactCoordinate(t *testing.T) {
	tests := []struct {
		name     string
		coord    ArtifactCoordinate
		filename string
		str      string
	}{
		{
			name:     "simple jar",
			coord:    ArtifactCoordinate{GroupID: "org.apache.commons", ArtifactID: "commons-lang3", Version: "3.12.0", Type: TypeJAR},
			filename: "commons-lang3-3.12.0.jar",
			str:      "org.apache.commons:commons-lang3:3.12.0:jar",
		},
		{
			name:     "sources classifier",
			coord:    ArtifactCoordinate{GroupID: "org.apache.commons", ArtifactID: "commons-lang3", Version: "3.12.0", Classifier: "sources", Type: "java-source"},
			filename: "commons-lang3-3.12.0-sources.jar",
			str:      "org.apache.commons:commons-lang3:3.12.0:sources:java-source",
		},
		{
			name:     "pom",
			coord:    ArtifactCoordinate{GroupID: "junit", ArtifactID: "junit", Version: "4.13.2", Type: TypePOM},
			filename: "junit-4.13.2.pom",
			str:      "junit:junit:4.13.2:pom",
		},
		{
			name:     "distribution",
			coord:    ArtifactCoordinate{GroupID: "org.example", ArtifactID: "dist", Version: "1.0", Type: "distribution-tgz"},
			filename: "dist-1.0.tar.gz",
			str:      "org.example:dist:1.0:distribution-tgz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.filename, tt.coord.Filename())
			require.Equal(t, tt.str, tt.coord.String())
		})
	}
}

func TestReferencePaths(t *testing.T) {
	project := ProjectReference{GroupID: "org.apache.maven", ArtifactID: "maven-core"}
	require.Equal(t, "org/apache/maven/maven-core/maven-metadata.xml", project.Path())

	release := VersionedReference{GroupID: "org.apache.maven", ArtifactID: "maven-core", Version: "3.9.6"}
	require.Equal(t, "org/apache/maven/maven-core/3.9.6/maven-metadata.xml", release.Path())
	require.Equal(t, project, release.Project())

	unique := VersionedReference{GroupID: "org.example", ArtifactID: "lib", Version: "1.0-20240118.123456-3"}
	require.Equal(t, "org/example/lib/1.0-SNAPSHOT/maven-metadata.xml", unique.Path())
}
