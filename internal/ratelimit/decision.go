package ratelimit

import (
	"math"
	"time"

	"github.com/AlexKimmel/fluxgate/internal/gcra"
)

// Decision is the outcome of one CheckRequest call.
type Decision struct {
	Allowed bool
	// RetryAfterSeconds is how long a denied client should wait. Nil when
	// the request was allowed.
	RetryAfterSeconds *float64
	// RemainingCapacity is the number of whole requests the client may still
	// send immediately. Nil when the request was denied.
	RemainingCapacity *float64
	// ResetTimeNanos is the client's TAT after this decision: the instant at
	// which its burst allowance is fully restored.
	ResetTimeNanos uint64
}

func newDecision(r gcra.Result) Decision {
	d := Decision{Allowed: r.Allowed, ResetTimeNanos: r.TAT}
	if r.Allowed {
		remaining := float64(r.Remaining)
		d.RemainingCapacity = &remaining
	} else {
		retry := float64(r.RetryAfterNanos) / 1e9
		d.RetryAfterSeconds = &retry
	}
	return d
}

// RetryAfter returns RetryAfterSeconds as a duration, zero when absent.
func (d Decision) RetryAfter() time.Duration {
	if d.RetryAfterSeconds == nil {
		return 0
	}
	return time.Duration(*d.RetryAfterSeconds * float64(time.Second))
}

// Remaining returns RemainingCapacity, zero when absent.
func (d Decision) Remaining() float64 {
	if d.RemainingCapacity == nil {
		return 0
	}
	return *d.RemainingCapacity
}

// ResetTime interprets ResetTimeNanos as nanoseconds since the Unix epoch,
// which holds for clock.System.
func (d Decision) ResetTime() time.Time {
	ns := d.ResetTimeNanos
	if ns > math.MaxInt64 {
		ns = math.MaxInt64
	}
	return time.Unix(0, int64(ns))
}
