package proxy

import (
	"errors"
	"fmt"
)

// ErrNotManaged is returned when a fetch targets a repository without a
// local root.
var ErrNotManaged = errors.New("repository is not managed")

// ConfigurationError reports a fetch that cannot run because of how a
// repository or connector is configured.
type ConfigurationError struct {
	Repository string
	Reference  string
	Err        error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("repository %s: %s: %v", e.Repository, e.Reference, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Outcome is the result of one connector attempt.
type Outcome int

const (
	// OutcomeNotFound means the remote does not have the resource.
	OutcomeNotFound Outcome = iota
	// OutcomeFound means the resource was transferred.
	OutcomeFound
	// OutcomeNotModified means the remote copy is not newer than the local one.
	OutcomeNotModified
	// OutcomeTransportError means the transfer failed.
	OutcomeTransportError
	// OutcomeDenied means a policy rejected the transfer.
	OutcomeDenied
	// OutcomeSkipped means the connector was disabled or filtered the path.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFound:
		return "found"
	case OutcomeNotModified:
		return "not_modified"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeDenied:
		return "denied"
	case OutcomeSkipped:
		return "skipped"
	}
	return "unknown"
}

// Attempt records what happened at one connector.
type Attempt struct {
	Connector string
	Outcome   Outcome
	Err       error
}

// Result describes a fetch.
type Result struct {
	// Path is the local file, or "" when nothing was obtained.
	Path string

	// Connector is the id of the remote repository that supplied Path.
	Connector string

	Outcome  Outcome
	Attempts []Attempt

	// Queued holds errors kept back by the propagate-errors policy, keyed by
	// remote repository id.
	Queued map[string]error
}

func newResult() *Result {
	return &Result{Outcome: OutcomeNotFound, Queued: make(map[string]error)}
}

func (r *Result) record(target string, outcome Outcome, err error) {
	r.Attempts = append(r.Attempts, Attempt{Connector: target, Outcome: outcome, Err: err})
}

// Found reports whether a local file is available.
func (r *Result) Found() bool {
	return r != nil && r.Path != ""
}

// QueuedError joins the queued errors, or returns nil.
func (r *Result) QueuedError() error {
	if r == nil || len(r.Queued) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Queued))
	for _, a := range r.Attempts {
		if err, ok := r.Queued[a.Connector]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", a.Connector, err))
		}
	}
	return errors.Join(errs...)
}
