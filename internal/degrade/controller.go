// Package degrade wraps one logical reasoning call with a bounded,
// ordered fallback chain. Capability is reduced step by step — drop the
// offending tool, then drop the images — and every fallback trigger fires
// at most once, so the chain always terminates within three calls.
package degrade

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/meridianlabs/pinpoint/internal/metrics"
	"github.com/meridianlabs/pinpoint/internal/reasoning"
)

// maxAttempts bounds total outbound calls for one verification.
const maxAttempts = 3

// Capability labels the level a call was issued at.
type Capability string

const (
	CapabilityFull         Capability = "full"
	CapabilityReducedTools Capability = "reduced_tools"
	CapabilityTextOnly     Capability = "text_only"
)

// VerificationFailedError is the typed outcome of an exhausted chain.
// Non-fatal for the pipeline: the orchestrator answers with a clue-only
// fallback result instead of propagating it to the caller.
type VerificationFailedError struct {
	Attempts int
	LastErr  error
}

func (e *VerificationFailedError) Error() string {
	return fmt.Sprintf("verification failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *VerificationFailedError) Unwrap() error { return e.LastErr }

// Controller re-issues a failing call with reduced capability.
type Controller struct {
	client reasoning.Client
	logger *zap.Logger
}

// NewController wraps client. The client is shared and never mutated.
func NewController(client reasoning.Client, logger *zap.Logger) *Controller {
	return &Controller{client: client, logger: logger}
}

// Run executes the chain. Each failure class is handled exactly once:
//
//  1. full capability;
//  2. on a map-tool rejection, once more with that tool disabled;
//  3. on an empty response (content-safety refusal), once more text-only;
//  4. on service unavailability, one same-capability retry.
//
// An unrecognized failure propagates immediately without retry. When the
// chain is exhausted the typed VerificationFailedError is returned.
func (c *Controller) Run(ctx context.Context, req reasoning.Request) (reasoning.RawResponse, Capability, error) {
	capability := CapabilityFull
	current := req
	var lastErr error

	toolDropped := false
	wentTextOnly := false
	retriedUnavailable := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		metrics.VerificationAttempts.WithLabelValues(string(capability)).Inc()
		resp, err := c.client.Invoke(ctx, current)
		if err == nil {
			return resp, capability, nil
		}
		lastErr = err

		if rej, ok := reasoning.IsToolRejected(err); ok {
			if rej.Tool == reasoning.ToolMapLookup && !toolDropped {
				toolDropped = true
				current = current.WithoutTool(reasoning.ToolMapLookup)
				capability = CapabilityReducedTools
				c.logger.Warn("Map tool rejected, retrying without it",
					zap.Int("attempt", attempt),
					zap.String("detail", rej.Detail),
				)
				continue
			}
			// A rejection we cannot reduce away ends the chain.
			break
		}

		if errors.Is(err, reasoning.ErrEmptyResponse) {
			if !wentTextOnly {
				wentTextOnly = true
				current = current.TextOnly()
				capability = CapabilityTextOnly
				c.logger.Warn("Empty response, retrying text-only",
					zap.Int("attempt", attempt),
				)
				continue
			}
			break
		}

		if errors.Is(err, reasoning.ErrServiceUnavailable) {
			if !retriedUnavailable {
				retriedUnavailable = true
				c.logger.Warn("Reasoning service unavailable, retrying once",
					zap.Int("attempt", attempt),
				)
				continue
			}
			break
		}

		// Unknown failure class: no retry policy applies.
		return reasoning.RawResponse{}, capability, err
	}

	return reasoning.RawResponse{}, capability, &VerificationFailedError{
		Attempts: countAttempts(toolDropped, wentTextOnly, retriedUnavailable),
		LastErr:  lastErr,
	}
}

// countAttempts reconstructs how many calls actually went out: the first
// one plus one per fired fallback, capped at the attempt budget.
func countAttempts(flags ...bool) int {
	n := 1
	for _, f := range flags {
		if f {
			n++
		}
	}
	if n > maxAttempts {
		n = maxAttempts
	}
	return n
}
