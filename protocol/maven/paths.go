package maven

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"
)

// ErrNotMetadataPath is returned when a path does not name a metadata document.
var ErrNotMetadataPath = errors.New("not a metadata path")

// ChecksumSuffixes are the side file suffixes fetched and generated for every
// artifact and metadata file, in preference order.
var ChecksumSuffixes = []string{"." + ChecksumSHA1, "." + ChecksumMD5}

// IsMetadataPath reports whether p names a maven-metadata.xml document.
func IsMetadataPath(p string) bool {
	return path.Base(p) == MetadataFilename
}

// SplitChecksumPath returns the path a checksum side file belongs to and the
// checksum type, or ok=false when p is not a side file.
func SplitChecksumPath(p string) (target, checksumType string, ok bool) {
	for _, suffix := range ChecksumSuffixes {
		if strings.HasSuffix(p, suffix) {
			return strings.TrimSuffix(p, suffix), strings.TrimPrefix(suffix, "."), true
		}
	}
	return "", "", false
}

// ToProjectReference parses group/path/artifactId/maven-metadata.xml.
func ToProjectReference(p string) (ProjectReference, error) {
	parts, err := metadataPathParts(p)
	if err != nil {
		return ProjectReference{}, err
	}
	if len(parts) < 3 {
		return ProjectReference{}, fmt.Errorf("%w: too short: %s", ErrNotMetadataPath, p)
	}
	n := len(parts)
	return ProjectReference{
		GroupID:    strings.Join(parts[:n-2], "."),
		ArtifactID: parts[n-2],
	}, nil
}

// ToVersionedReference parses group/path/artifactId/version/maven-metadata.xml.
// The segment before the filename is only accepted as a version when it
// contains a digit; otherwise the path is taken to be project metadata.
func ToVersionedReference(p string) (VersionedReference, error) {
	parts, err := metadataPathParts(p)
	if err != nil {
		return VersionedReference{}, err
	}
	if len(parts) < 4 {
		return VersionedReference{}, fmt.Errorf("%w: too short: %s", ErrNotMetadataPath, p)
	}
	n := len(parts)
	version := parts[n-2]
	if !strings.ContainsFunc(version, unicode.IsDigit) {
		return VersionedReference{}, fmt.Errorf("%w: version segment %q has no digit", ErrNotMetadataPath, version)
	}
	return VersionedReference{
		GroupID:    strings.Join(parts[:n-3], "."),
		ArtifactID: parts[n-3],
		Version:    version,
	}, nil
}

// ProxyMetadataPath returns the per-proxy snapshot path kept beside the
// canonical metadata document: .../maven-metadata-<proxyID>.xml.
func ProxyMetadataPath(p, proxyID string) string {
	dir := path.Dir(p)
	name := "maven-metadata-" + proxyID + ".xml"
	if dir == "." {
		return name
	}
	return dir + "/" + name
}

func metadataPathParts(p string) ([]string, error) {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	if !IsMetadataPath(p) {
		return nil, fmt.Errorf("%w: %s", ErrNotMetadataPath, p)
	}
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts, nil
}
