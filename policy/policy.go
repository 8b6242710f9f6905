// Package policy implements the download policies applied by proxy
// connectors: pre-download update and failure damping, post-download
// checksum handling and download-error propagation.
package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrViolation matches every *Violation.
	ErrViolation = errors.New("policy violation")

	// ErrUnknownPolicy is returned for a policy id outside the known set.
	ErrUnknownPolicy = errors.New("unknown policy")

	// ErrUnknownOption is returned for a setting outside a policy's options.
	ErrUnknownOption = errors.New("unknown policy option")
)

// Stage is the point of a fetch at which a policy runs.
type Stage int

const (
	StagePreDownload Stage = iota
	StagePostDownload
	StageDownloadError
)

func (s Stage) String() string {
	switch s {
	case StagePreDownload:
		return "pre"
	case StagePostDownload:
		return "post"
	case StageDownloadError:
		return "error"
	}
	return "unknown"
}

// Option is a policy setting value.
type Option string

// Update policy options.
const (
	Always Option = "always"
	Daily  Option = "daily"
	Hourly Option = "hourly"
	Once   Option = "once"
	Never  Option = "never"
)

// Cache failures policy options.
const (
	Yes Option = "yes"
	No  Option = "no"
)

// Checksum policy options. Ignore is shared with propagate-errors.
const (
	Fail   Option = "fail"
	Fix    Option = "fix"
	Ignore Option = "ignore"
)

// Download error policy options.
const (
	Stop       Option = "stop"
	Queue      Option = "queue"
	NotPresent Option = "not-present"
)

// Policy ids.
const (
	Releases                = "releases"
	Snapshots               = "snapshots"
	CacheFailures           = "cache-failures"
	Checksum                = "checksum"
	PropagateErrors         = "propagate-errors"
	PropagateErrorsOnUpdate = "propagate-errors-on-update"
)

// Request properties exposed to policies.
const (
	FileTypeArtifact = "artifact"
	FileTypeMetadata = "metadata"
)

// Request describes the file a connector is about to fetch.
type Request struct {
	URL                string
	Version            string
	FileType           string
	RemoteRepositoryID string
}

// Property returns a request property by its name.
func (r Request) Property(name string) string {
	switch name {
	case "url":
		return r.URL
	case "version":
		return r.Version
	case "filetype":
		return r.FileType
	case "remoteRepositoryId":
		return r.RemoteRepositoryID
	}
	return ""
}

// Violation is returned when a policy denies a fetch.
type Violation struct {
	Policy string
	Option Option
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("policy %s (%s): %s", v.Policy, v.Option, v.Reason)
}

// Is reports whether target is ErrViolation.
func (v *Violation) Is(target error) bool {
	return target == ErrViolation
}

// Descriptor documents a policy and its options.
type Descriptor struct {
	ID                 string
	Name               string
	Description        string
	Stage              Stage
	Default            Option
	Options            []Option
	OptionDescriptions map[Option]string
}

// Allows reports whether opt is one of the descriptor's options.
func (d Descriptor) Allows(opt Option) bool {
	for _, o := range d.Options {
		if o == opt {
			return true
		}
	}
	return false
}

func updateDescriptor(id, name, subject string) Descriptor {
	return Descriptor{
		ID:          id,
		Name:        name,
		Description: "Controls how often " + subject + " already in the managed repository are fetched again.",
		Stage:       StagePreDownload,
		Default:     Hourly,
		Options:     []Option{Always, Daily, Hourly, Once, Never},
		OptionDescriptions: map[Option]string{
			Always: "fetch on every request",
			Daily:  "fetch when the local copy is older than a day",
			Hourly: "fetch when the local copy is older than an hour",
			Once:   "fetch only when there is no local copy",
			Never:  "never fetch",
		},
	}
}

// descriptors is the closed set of policies in chain order.
var descriptors = []Descriptor{
	updateDescriptor(Releases, "Release update policy", "releases"),
	updateDescriptor(Snapshots, "Snapshot update policy", "snapshots"),
	{
		ID:          CacheFailures,
		Name:        "Cache failures",
		Description: "Skips URLs that recently failed.",
		Stage:       StagePreDownload,
		Default:     Yes,
		Options:     []Option{Yes, No},
		OptionDescriptions: map[Option]string{
			Yes: "skip URLs in the failure cache",
			No:  "always try the remote",
		},
	},
	{
		ID:          Checksum,
		Name:        "Checksum policy",
		Description: "Verifies downloaded files against their .sha1 and .md5 side files.",
		Stage:       StagePostDownload,
		Default:     Fix,
		Options:     []Option{Fail, Fix, Ignore},
		OptionDescriptions: map[Option]string{
			Fail:   "remove the file and deny on a mismatch",
			Fix:    "regenerate missing or wrong side files",
			Ignore: "accept the file as is",
		},
	},
	{
		ID:          PropagateErrors,
		Name:        "Propagate errors",
		Description: "Decides whether a download error from one connector stops the fetch.",
		Stage:       StageDownloadError,
		Default:     Queue,
		Options:     []Option{Stop, Queue, Ignore},
		OptionDescriptions: map[Option]string{
			Stop:   "stop and return the error",
			Queue:  "remember the error and try the next connector",
			Ignore: "drop the error and try the next connector",
		},
	},
	{
		ID:          PropagateErrorsOnUpdate,
		Name:        "Propagate errors on update",
		Description: "Decides whether a download error propagates when a local copy exists.",
		Stage:       StageDownloadError,
		Default:     NotPresent,
		Options:     []Option{Always, NotPresent},
		OptionDescriptions: map[Option]string{
			Always:     "propagate even when a local copy exists",
			NotPresent: "propagate only when there is no local copy",
		},
	},
}

// Descriptors returns every policy in chain order.
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Lookup returns the descriptor for id.
func Lookup(id string) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}
