package policy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wolfeidau/repository-proxy/telemetry"
)

// Chain applies the policies of a connector in their fixed order.
type Chain struct {
	failures FailureChecker
	logger   *slog.Logger
	now      func() time.Time
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithLogger sets the logger for policy decisions.
func WithLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = logger
	}
}

// WithClock sets the time source for the update policies.
func WithClock(now func() time.Time) ChainOption {
	return func(c *Chain) {
		c.now = now
	}
}

// NewChain creates a chain that consults failures for the cache-failures
// policy.
func NewChain(failures FailureChecker, opts ...ChainOption) *Chain {
	c := &Chain{
		failures: failures,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PreDownload applies releases, snapshots and cache-failures. The first
// denial is returned as a *Violation.
func (c *Chain) PreDownload(ctx context.Context, s Settings, req Request, local string) error {
	now := c.now()
	for _, id := range []string{Releases, Snapshots, CacheFailures} {
		opt := s.Option(id)
		var err error
		if id == CacheFailures {
			err = ApplyCacheFailures(opt, req, c.failures)
		} else {
			err = ApplyUpdate(id, opt, req, local, now)
		}
		if err := c.record(ctx, id, StagePreDownload, req, err); err != nil {
			return err
		}
	}
	return nil
}

// PostDownload applies the checksum policy to the downloaded local file.
func (c *Chain) PostDownload(ctx context.Context, s Settings, req Request, local string) error {
	err := ApplyChecksum(s.Option(Checksum), local)
	return c.record(ctx, Checksum, StagePostDownload, req, err)
}

// DownloadError applies the download-error policies to err. Every policy
// must agree for the error to propagate; the first that declines stops the
// evaluation.
func (c *Chain) DownloadError(ctx context.Context, s Settings, req Request, local, targetID string, err error, queued map[string]error) bool {
	propagate, perr := ApplyPropagateErrors(s.Option(PropagateErrors), targetID, err, queued)
	if perr != nil {
		return c.unknownOption(ctx, PropagateErrors, req, perr)
	}
	c.recordPropagate(ctx, PropagateErrors, propagate)
	if !propagate {
		c.logger.Debug("download error not propagated", "policy", PropagateErrors, "option", s.Option(PropagateErrors), "url", req.URL, "error", err)
		return false
	}

	propagate, perr = ApplyPropagateErrorsOnUpdate(s.Option(PropagateErrorsOnUpdate), local)
	if perr != nil {
		return c.unknownOption(ctx, PropagateErrorsOnUpdate, req, perr)
	}
	c.recordPropagate(ctx, PropagateErrorsOnUpdate, propagate)
	if !propagate {
		c.logger.Debug("download error not propagated", "policy", PropagateErrorsOnUpdate, "option", s.Option(PropagateErrorsOnUpdate), "url", req.URL, "error", err)
	}
	return propagate
}

// unknownOption fails closed: an error policy that cannot be evaluated
// propagates the download error.
func (c *Chain) unknownOption(ctx context.Context, id string, req Request, err error) bool {
	c.logger.Warn("cannot evaluate download-error policy", "policy", id, "url", req.URL, "error", err)
	c.recordPropagate(ctx, id, true)
	return true
}

func (c *Chain) record(ctx context.Context, id string, stage Stage, req Request, err error) error {
	if err == nil {
		telemetry.RecordPolicyDecision(ctx, id, stage.String(), "allow")
		return nil
	}
	if errors.Is(err, ErrViolation) {
		telemetry.RecordPolicyDecision(ctx, id, stage.String(), "deny")
		c.logger.Debug("policy denied", "policy", id, "stage", stage.String(), "url", req.URL, "reason", err)
	}
	return err
}

func (c *Chain) recordPropagate(ctx context.Context, id string, propagate bool) {
	result := "deny"
	if propagate {
		result = "allow"
	}
	telemetry.RecordPolicyDecision(ctx, id, StageDownloadError.String(), result)
}
