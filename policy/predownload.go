package policy

import (
	"fmt"
	"os"
	"time"

	"github.com/wolfeidau/repository-proxy/protocol/maven"
)

// FailureChecker reports whether a URL recently failed.
type FailureChecker interface {
	HasFailedBefore(url string) bool
}

// ApplyUpdate evaluates the releases or snapshots update policy for a fetch
// into local.
func ApplyUpdate(id string, opt Option, req Request, local string, now time.Time) error {
	if id != Releases && id != Snapshots {
		return fmt.Errorf("%w: %q is not an update policy", ErrUnknownPolicy, id)
	}
	d, _ := Lookup(id)
	if !d.Allows(opt) {
		return fmt.Errorf("%w: %q for policy %s", ErrUnknownOption, opt, id)
	}

	// Only artifacts are subject to update checks.
	if req.FileType != FileTypeArtifact {
		return nil
	}
	if opt == Always {
		return nil
	}

	snapshot := req.Version != "" && maven.IsSnapshot(req.Version)
	if id == Releases && snapshot {
		return nil
	}
	if id == Snapshots && !snapshot {
		return nil
	}

	if opt == Never {
		return &Violation{Policy: id, Option: opt, Reason: "updates are disabled"}
	}

	info, err := os.Stat(local)
	if err != nil {
		// No local copy, so fetch it.
		return nil
	}

	var window time.Duration
	switch opt {
	case Once:
		return &Violation{Policy: id, Option: opt, Reason: "a local copy exists"}
	case Daily:
		window = 24 * time.Hour
	case Hourly:
		window = time.Hour
	}
	if info.ModTime().After(now.Add(-window)) {
		return &Violation{
			Policy: id,
			Option: opt,
			Reason: fmt.Sprintf("local copy modified %s ago", now.Sub(info.ModTime()).Truncate(time.Second)),
		}
	}
	return nil
}

// ApplyCacheFailures evaluates the cache-failures policy.
func ApplyCacheFailures(opt Option, req Request, failures FailureChecker) error {
	switch opt {
	case No:
		return nil
	case Yes:
		if failures != nil && req.URL != "" && failures.HasFailedBefore(req.URL) {
			return &Violation{Policy: CacheFailures, Option: opt, Reason: "url failed recently: " + req.URL}
		}
		return nil
	}
	return fmt.Errorf("%w: %q for policy %s", ErrUnknownOption, opt, CacheFailures)
}
