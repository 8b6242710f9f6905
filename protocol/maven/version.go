package maven

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// Snapshot is the marker suffix of a generic snapshot version.
const Snapshot = "SNAPSHOT"

var (
	// uniqueSnapshotRegex matches base-yyyyMMdd.HHmmss-N.
	uniqueSnapshotRegex = regexp.MustCompile(`^(.*)-([0-9]{8}\.[0-9]{6})-([0-9]+)$`)

	// snapshotTimestampRegex splits a unique snapshot timestamp into date and time.
	snapshotTimestampRegex = regexp.MustCompile(`^([0-9]{8})\.([0-9]{6})$`)
)

// preReleaseQualifiers ranks the qualifiers that sort before a release.
var preReleaseQualifiers = map[string]int{
	"alpha":     0,
	"beta":      1,
	"milestone": 2,
	"cr":        3,
	"rc":        3,
	"snapshot":  4,
}

// releaseQualifiers mark the release itself and compare equal to a missing
// component.
var releaseQualifiers = map[string]bool{"ga": true, "final": true, "release": true}

// Classes of version components, in ascending order.
const (
	classPreRelease = iota
	classRelease
	classServicePack
	classText
	classNumber
)

// IsSnapshot reports whether version is a generic or unique snapshot.
func IsSnapshot(version string) bool {
	return IsUniqueSnapshot(version) || IsGenericSnapshot(version)
}

// IsGenericSnapshot reports whether version ends with the SNAPSHOT marker.
func IsGenericSnapshot(version string) bool {
	return strings.HasSuffix(version, Snapshot)
}

// IsUniqueSnapshot reports whether version is a timestamped snapshot such as
// 1.0-20070821.213044-8.
func IsUniqueSnapshot(version string) bool {
	return uniqueSnapshotRegex.MatchString(version)
}

// BaseVersion returns the generic snapshot form of a unique snapshot version,
// or version unchanged.
func BaseVersion(version string) string {
	if m := uniqueSnapshotRegex.FindStringSubmatch(version); m != nil {
		return m[1] + "-" + Snapshot
	}
	return version
}

// ParseUniqueSnapshot splits a unique snapshot version into its base, its
// timestamp and its build number.
func ParseUniqueSnapshot(version string) (base, timestamp string, buildNumber int, ok bool) {
	m := uniqueSnapshotRegex.FindStringSubmatch(version)
	if m == nil {
		return "", "", 0, false
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return "", "", 0, false
	}
	return m[1], m[2], n, true
}

// SnapshotTimestampToLastUpdated converts yyyyMMdd.HHmmss to the
// yyyyMMddHHmmss form used by lastUpdated.
func SnapshotTimestampToLastUpdated(timestamp string) (string, bool) {
	m := snapshotTimestampRegex.FindStringSubmatch(timestamp)
	if m == nil {
		return "", false
	}
	return m[1] + m[2], true
}

// CompareVersions orders two version strings by their numeric and textual
// components, so 1.2 sorts before 1.10. Missing trailing components count
// as a release: 1.0, 1.0.0 and 1.0-final are equal, 1.0-rc-1 and
// 1.0-SNAPSHOT sort before them and 1.0-sp1 after. Empty versions sort last.
func CompareVersions(a, b string) int {
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}

	pa, pb := versionParts(a), versionParts(b)
	n := max(len(pa), len(pb))
	for i := range n {
		if d := comparePart(partAt(pa, i), partAt(pb, i)); d != 0 {
			return d
		}
	}
	return 0
}

// SortVersions sorts versions in place by CompareVersions. Equivalent
// spellings such as 1.0 and 1.0.0 are ordered by their text.
func SortVersions(versions []string) {
	slices.SortFunc(versions, func(a, b string) int {
		if d := CompareVersions(a, b); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
}

// partAt returns component i, or "" past the end.
func partAt(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return ""
}

func comparePart(a, b string) int {
	ca, cb := partClass(a), partClass(b)
	if ca != cb {
		return sign(ca - cb)
	}
	switch ca {
	case classPreRelease:
		return sign(preReleaseQualifiers[strings.ToLower(a)] - preReleaseQualifiers[strings.ToLower(b)])
	case classText:
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	case classNumber:
		return compareNumeric(a, b)
	}
	return 0
}

func partClass(part string) int {
	if part == "" {
		return classRelease
	}
	if isNumeric(part) {
		if strings.Trim(part, "0") == "" {
			return classRelease
		}
		return classNumber
	}
	lower := strings.ToLower(part)
	if _, ok := preReleaseQualifiers[lower]; ok {
		return classPreRelease
	}
	switch {
	case releaseQualifiers[lower]:
		return classRelease
	case lower == "sp":
		return classServicePack
	}
	return classText
}

// compareNumeric compares digit strings of any length without overflow.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		return sign(len(a) - len(b))
	}
	return strings.Compare(a, b)
}

// versionParts splits a version into runs of digits and runs of letters;
// every other character is a separator.
func versionParts(version string) []string {
	const (
		modeOther = iota
		modeDigit
		modeText
	)

	var parts []string
	mode := modeOther
	start := 0
	for i, r := range version {
		var next int
		switch {
		case unicode.IsDigit(r):
			next = modeDigit
		case unicode.IsLetter(r):
			next = modeText
		default:
			next = modeOther
		}
		if next == mode {
			continue
		}
		if mode != modeOther {
			parts = append(parts, version[start:i])
		}
		mode = next
		start = i
	}
	if mode != modeOther {
		parts = append(parts, version[start:])
	}
	return parts
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
