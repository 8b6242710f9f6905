package maven

import (
	"github.com/bmatcuk/doublestar/v4"
)

// DefaultArtifactPatterns select the files that count as artifacts when
// scanning a repository directory.
var DefaultArtifactPatterns = []string{
	"**/*.pom",
	"**/*.jar",
	"**/*.ear",
	"**/*.war",
	"**/*.car",
	"**/*.sar",
	"**/*.mar",
	"**/*.rar",
	"**/*.dtd",
	"**/*.tld",
	"**/*.tar.gz",
	"**/*.tar.bz2",
	"**/*.zip",
}

// DefaultIgnoredPatterns exclude files that would otherwise match an
// artifact pattern.
var DefaultIgnoredPatterns = []string{
	"**/*.sha1",
	"**/*.md5",
	"**/*.asc",
	"**/maven-metadata*.xml",
	"**/.tmp-*",
}

// FileTypes classifies repository-relative paths with ANT style patterns.
type FileTypes struct {
	Artifacts []string
	Ignored   []string
}

// DefaultFileTypes returns the built in classification.
func DefaultFileTypes() FileTypes {
	return FileTypes{
		Artifacts: append([]string(nil), DefaultArtifactPatterns...),
		Ignored:   append([]string(nil), DefaultIgnoredPatterns...),
	}
}

// IsArtifact reports whether p matches an artifact pattern and no ignore
// pattern.
func (ft FileTypes) IsArtifact(p string) bool {
	return MatchAny(ft.Artifacts, p) && !MatchAny(ft.Ignored, p)
}

// MatchAny reports whether p matches one of the patterns. Malformed patterns
// never match.
func MatchAny(patterns []string, p string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, p); err == nil && ok {
			return true
		}
	}
	return false
}

// ValidatePatterns returns the first malformed pattern error.
func ValidatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return &PatternError{Pattern: pattern}
		}
	}
	return nil
}

// PatternError reports a malformed ANT style pattern.
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return "invalid pattern: " + e.Pattern
}
