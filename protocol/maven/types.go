// Package maven implements the Maven repository model: coordinates, layouts,
// version ordering and the maven-metadata.xml document format.
package maven

import (
	"strings"
)

// MetadataFilename is the name of the canonical metadata document.
const MetadataFilename = "maven-metadata.xml"

// Common artifact types.
const (
	TypeJAR = "jar"
	TypePOM = "pom"
	TypeWAR = "war"
	TypeEAR = "ear"
	TypeZIP = "zip"
)

// Checksum file extensions.
const (
	ChecksumMD5  = "md5"
	ChecksumSHA1 = "sha1"
)

// ArtifactCoordinate identifies a Maven artifact. Type is the packaging type,
// which maps to a file extension through the layout.
type ArtifactCoordinate struct {
	GroupID    string
	ArtifactID string
	Version    string
	Classifier string
	Type       string
}

// Extension returns the file extension for the coordinate's type.
func (c ArtifactCoordinate) Extension() string {
	return typeExtension(c.Type)
}

// Filename returns the standard Maven filename for this artifact.
func (c ArtifactCoordinate) Filename() string {
	name := c.ArtifactID + "-" + c.Version
	if c.Classifier != "" {
		name += "-" + c.Classifier
	}
	return name + "." + c.Extension()
}

// GroupPath returns the group ID as a path (dots replaced with slashes).
func (c ArtifactCoordinate) GroupPath() string {
	return groupIDToPath(c.GroupID)
}

// Project returns the project the artifact belongs to.
func (c ArtifactCoordinate) Project() ProjectReference {
	return ProjectReference{GroupID: c.GroupID, ArtifactID: c.ArtifactID}
}

// Versioned returns the version-level reference of the artifact.
func (c ArtifactCoordinate) Versioned() VersionedReference {
	return VersionedReference{GroupID: c.GroupID, ArtifactID: c.ArtifactID, Version: c.Version}
}

func (c ArtifactCoordinate) String() string {
	s := c.GroupID + ":" + c.ArtifactID + ":" + c.Version
	if c.Classifier != "" {
		s += ":" + c.Classifier
	}
	if c.Type != "" {
		s += ":" + c.Type
	}
	return s
}

// ProjectReference identifies a project-level metadata document.
type ProjectReference struct {
	GroupID    string
	ArtifactID string
}

// Path returns the repository-relative path of the project metadata.
func (r ProjectReference) Path() string {
	return groupIDToPath(r.GroupID) + "/" + r.ArtifactID + "/" + MetadataFilename
}

func (r ProjectReference) String() string {
	return r.GroupID + ":" + r.ArtifactID
}

// VersionedReference identifies a version-level metadata document. Version is
// either a release version or a snapshot version.
type VersionedReference struct {
	GroupID    string
	ArtifactID string
	Version    string
}

// Path returns the repository-relative path of the version metadata. Unique
// snapshot versions resolve to their base version directory.
func (r VersionedReference) Path() string {
	p := groupIDToPath(r.GroupID) + "/" + r.ArtifactID + "/"
	if r.Version != "" {
		p += BaseVersion(r.Version) + "/"
	}
	return p + MetadataFilename
}

// Project returns the enclosing project reference.
func (r VersionedReference) Project() ProjectReference {
	return ProjectReference{GroupID: r.GroupID, ArtifactID: r.ArtifactID}
}

func (r VersionedReference) String() string {
	return r.GroupID + ":" + r.ArtifactID + ":" + r.Version
}

// Metadata is the content of a maven-metadata.xml document.
type Metadata struct {
	GroupID           string
	ArtifactID        string
	Version           string
	LatestVersion     string
	ReleasedVersion   string
	AvailableVersions []string
	SnapshotVersion   *SnapshotVersion
	// LastUpdated is a yyyyMMddHHmmss UTC timestamp.
	LastUpdated string
	Plugins     []Plugin
}

// SnapshotVersion describes the newest unique snapshot build.
type SnapshotVersion struct {
	// Timestamp has the form yyyyMMdd.HHmmss.
	Timestamp   string
	BuildNumber int
}

// Plugin is a plugin entry of group-level metadata.
type Plugin struct {
	Prefix     string
	ArtifactID string
	Name       string
}

// groupIDToPath converts a Maven group ID to a path.
func groupIDToPath(groupID string) string {
	return strings.ReplaceAll(groupID, ".", "/")
}

// pathToGroupID converts a path to a Maven group ID.
func pathToGroupID(path string) string {
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
}
