package maven

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Layout names.
const (
	LayoutDefault = "default"
	LayoutLegacy  = "legacy"
)

var (
	// ErrUnknownLayout is returned for a layout name with no implementation.
	ErrUnknownLayout = errors.New("unknown repository layout")

	// ErrInvalidPath is returned when a path cannot be mapped to a coordinate.
	ErrInvalidPath = errors.New("invalid artifact path")
)

// Layout maps artifact coordinates to repository-relative paths and back.
// Paths always use "/" and never start with one.
type Layout interface {
	Name() string
	ArtifactPath(c ArtifactCoordinate) string
	ParseArtifactPath(path string) (ArtifactCoordinate, error)
	// SupportsMetadata reports whether the layout stores maven-metadata.xml.
	SupportsMetadata() bool
}

// LayoutFor returns the layout registered under name. An empty name selects
// the default layout.
func LayoutFor(name string) (Layout, error) {
	switch name {
	case "", LayoutDefault:
		return DefaultLayout{}, nil
	case LayoutLegacy:
		return LegacyLayout{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownLayout, name)
}

// compoundExtensions are extensions containing a dot.
var compoundExtensions = []string{"tar.gz", "tar.bz2"}

// typeExtensions maps packaging types whose extension differs from the type.
var typeExtensions = map[string]string{
	"ejb":              "jar",
	"ejb-client":       "jar",
	"java-source":      "jar",
	"javadoc":          "jar",
	"test-jar":         "jar",
	"maven-plugin":     "jar",
	"maven-one-plugin": "jar",
	"distribution-tgz": "tar.gz",
	"distribution-zip": "zip",
}

func typeExtension(typ string) string {
	if ext, ok := typeExtensions[typ]; ok {
		return ext
	}
	return typ
}

// typeFor infers a packaging type from a classifier and file extension.
func typeFor(classifier, ext string) string {
	if ext == "jar" {
		switch classifier {
		case "sources":
			return "java-source"
		case "javadoc":
			return "javadoc"
		case "tests":
			return "test-jar"
		}
	}
	return ext
}

// DefaultLayout is the Maven 2 layout:
// group/path/artifactId/baseVersion/artifactId-version[-classifier].ext
type DefaultLayout struct{}

func (DefaultLayout) Name() string           { return LayoutDefault }
func (DefaultLayout) SupportsMetadata() bool { return true }

// ArtifactPath returns the path of the artifact. Unique snapshots live in the
// base version directory.
func (DefaultLayout) ArtifactPath(c ArtifactCoordinate) string {
	return c.GroupPath() + "/" + c.ArtifactID + "/" + BaseVersion(c.Version) + "/" + c.Filename()
}

// ParseArtifactPath parses a path such as
// org/apache/commons/commons-lang3/3.12.0/commons-lang3-3.12.0-sources.jar or
// com/example/lib/1.0-SNAPSHOT/lib-1.0-20240118.123456-1.jar.
func (DefaultLayout) ParseArtifactPath(path string) (ArtifactCoordinate, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 4 {
		return ArtifactCoordinate{}, fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}
	n := len(parts)
	filename, dirVersion, artifactID := parts[n-1], parts[n-2], parts[n-3]

	coord, err := parseArtifactFilename(artifactID, dirVersion, filename)
	if err != nil {
		return ArtifactCoordinate{}, err
	}
	coord.GroupID = strings.Join(parts[:n-3], ".")
	return coord, nil
}

// timestampedBuildRegex matches the yyyyMMdd.HHmmss-N part of a unique
// snapshot filename.
var timestampedBuildRegex = regexp.MustCompile(`^[0-9]{8}\.[0-9]{6}-[0-9]+`)

// parseArtifactFilename parses {artifactId}-{version}[-{classifier}].{extension}
// against the version directory the file was found in. Filenames of unique
// snapshots carry the timestamped version, which becomes the coordinate's
// version.
func parseArtifactFilename(artifactID, dirVersion, filename string) (ArtifactCoordinate, error) {
	coord := ArtifactCoordinate{ArtifactID: artifactID}

	prefix := artifactID + "-"
	if !strings.HasPrefix(filename, prefix) {
		return coord, fmt.Errorf("%w: filename does not start with artifact id: %s", ErrInvalidPath, filename)
	}
	rest := strings.TrimPrefix(filename, prefix)

	switch {
	case strings.HasPrefix(rest, dirVersion+".") || strings.HasPrefix(rest, dirVersion+"-"):
		coord.Version = dirVersion
	case IsGenericSnapshot(dirVersion):
		base := strings.TrimSuffix(dirVersion, Snapshot)
		if !strings.HasPrefix(rest, base) {
			return coord, fmt.Errorf("%w: filename does not match version %s: %s", ErrInvalidPath, dirVersion, filename)
		}
		build := timestampedBuildRegex.FindString(strings.TrimPrefix(rest, base))
		if build == "" {
			return coord, fmt.Errorf("%w: filename does not match version %s: %s", ErrInvalidPath, dirVersion, filename)
		}
		coord.Version = base + build
	default:
		return coord, fmt.Errorf("%w: filename does not match version %s: %s", ErrInvalidPath, dirVersion, filename)
	}

	classifier, ext, err := splitClassifierExtension(strings.TrimPrefix(rest, coord.Version))
	if err != nil {
		return coord, fmt.Errorf("%w: %s", err, filename)
	}
	coord.Classifier = classifier
	coord.Type = typeFor(classifier, ext)
	return coord, nil
}

// splitClassifierExtension splits "-classifier.ext" or ".ext".
func splitClassifierExtension(remainder string) (classifier, ext string, err error) {
	switch {
	case strings.HasPrefix(remainder, "."):
		ext = strings.TrimPrefix(remainder, ".")
	case strings.HasPrefix(remainder, "-"):
		remainder = strings.TrimPrefix(remainder, "-")
		dot := extensionIndex(remainder)
		if dot <= 0 {
			return "", "", fmt.Errorf("%w: invalid classifier/extension format", ErrInvalidPath)
		}
		classifier, ext = remainder[:dot], remainder[dot+1:]
	default:
		return "", "", fmt.Errorf("%w: invalid filename format", ErrInvalidPath)
	}
	if ext == "" {
		return "", "", fmt.Errorf("%w: missing extension", ErrInvalidPath)
	}
	return classifier, ext, nil
}

// extensionIndex returns the index of the dot that starts the extension.
func extensionIndex(name string) int {
	for _, ext := range compoundExtensions {
		if strings.HasSuffix(name, "."+ext) {
			return len(name) - len(ext) - 1
		}
	}
	return strings.LastIndex(name, ".")
}

// LegacyLayout is the Maven 1 layout: groupId/types/artifactId-version[-classifier].ext
// where the group id keeps its dots.
type LegacyLayout struct{}

func (LegacyLayout) Name() string           { return LayoutLegacy }
func (LegacyLayout) SupportsMetadata() bool { return false }

// legacyTypeDirs maps types whose directory is not simply the type plus "s".
var legacyTypeDirs = map[string]string{
	"ejb-client":       "ejbs",
	"distribution-tgz": "distributions",
	"distribution-zip": "distributions",
	"javadoc":          "javadoc.jars",
}

func legacyDirectory(typ string) string {
	if dir, ok := legacyTypeDirs[typ]; ok {
		return dir
	}
	return typ + "s"
}

// ArtifactPath returns the legacy path of the artifact.
func (LegacyLayout) ArtifactPath(c ArtifactCoordinate) string {
	return c.GroupID + "/" + legacyDirectory(c.Type) + "/" + c.Filename()
}

// ParseArtifactPath parses a legacy path such as
// org.apache.maven/jars/maven-model-1.0.jar. The version starts at the first
// dash followed by a digit.
func (LegacyLayout) ParseArtifactPath(path string) (ArtifactCoordinate, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 {
		return ArtifactCoordinate{}, fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}
	groupID, typeDir, filename := parts[0], parts[1], parts[2]

	split := -1
	for i := 0; i < len(filename)-1; i++ {
		if filename[i] == '-' && filename[i+1] >= '0' && filename[i+1] <= '9' {
			split = i
			break
		}
	}
	if split <= 0 {
		return ArtifactCoordinate{}, fmt.Errorf("%w: no version in %s", ErrInvalidPath, filename)
	}

	rest := filename[split+1:]
	dot := extensionIndex(rest)
	if dot <= 0 {
		return ArtifactCoordinate{}, fmt.Errorf("%w: missing extension: %s", ErrInvalidPath, filename)
	}
	version, ext := rest[:dot], rest[dot+1:]

	coord := ArtifactCoordinate{
		GroupID:    groupID,
		ArtifactID: filename[:split],
		Version:    version,
	}
	switch typeDir {
	case "java-sources":
		coord.Version = strings.TrimSuffix(version, "-sources")
		coord.Classifier = "sources"
	case "javadoc.jars":
		coord.Version = strings.TrimSuffix(version, "-javadoc")
		coord.Classifier = "javadoc"
	}
	coord.Type = typeFor(coord.Classifier, ext)
	if legacyDirectory(coord.Type) != typeDir {
		typ := strings.TrimSuffix(typeDir, "s")
		if typeExtension(typ) != ext {
			return ArtifactCoordinate{}, fmt.Errorf("%w: type directory %s does not hold %s files", ErrInvalidPath, typeDir, ext)
		}
		coord.Type = typ
	}
	return coord, nil
}

var (
	_ Layout = DefaultLayout{}
	_ Layout = LegacyLayout{}
)
