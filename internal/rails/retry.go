package rails

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"tanda/internal/core"
)

// RetryingRail wraps a DisbursementRail with bounded exponential backoff on
// transient failures. Retrying lives here so a cycle transition stays
// atomic even while the downstream call is retried.
type RetryingRail struct {
	rail     DisbursementRail
	clock    clockwork.Clock
	attempts int
	base     time.Duration
}

func NewRetryingRail(rail DisbursementRail, clock clockwork.Clock, attempts int, base time.Duration) *RetryingRail {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingRail{rail: rail, clock: clock, attempts: attempts, base: base}
}

func (r *RetryingRail) Disburse(ctx context.Context, destination string, amount core.Money, speed Speed) (DeliveryStatus, error) {
	var (
		status DeliveryStatus
		err    error
	)
	delay := r.base
	for attempt := 1; attempt <= r.attempts; attempt++ {
		status, err = r.rail.Disburse(ctx, destination, amount, speed)
		if err == nil || !IsTransient(err) {
			return status, err
		}
		if attempt == r.attempts {
			break
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return Failed, ctx.Err()
			case <-r.clock.After(delay):
			}
		}
		delay *= 2
	}
	return Failed, err
}
