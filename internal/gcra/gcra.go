// Package gcra implements the Generic Cell Rate Algorithm decision step.
//
// A flow is described by one value, its theoretical arrival time (TAT): the
// instant at which the next request would conform with no burst debt. A
// request at now conforms when now >= TAT - tolerance. Every conforming
// request pushes the TAT forward by one emission interval.
//
// All values are nanoseconds. Arithmetic saturates instead of wrapping, so a
// clock that jumps backwards or a pathological configuration produces a
// sensible decision rather than an overflow.
package gcra

import "math"

// Result is the outcome of evaluating one request.
type Result struct {
	// Allowed reports whether the request conforms.
	Allowed bool
	// TAT is the theoretical arrival time after the request: advanced when
	// allowed, unchanged when denied.
	TAT uint64
	// RetryAfterNanos is how long a denied caller must wait before its next
	// request can conform. Zero when allowed.
	RetryAfterNanos uint64
	// Remaining is the number of further requests that would conform right
	// now. Zero when denied.
	Remaining uint64
}

// Evaluate decides a request arriving at now for a flow whose previous TAT
// is prev. Callers with no previous TAT pass now.
func Evaluate(now, prev, interval, tolerance uint64) Result {
	allowAt := satSub(prev, tolerance)
	if now < allowAt {
		return Result{
			TAT:             prev,
			RetryAfterNanos: allowAt - now,
		}
	}

	tat := satAdd(max(now, prev), interval)
	return Result{
		Allowed:   true,
		TAT:       tat,
		Remaining: remaining(tat, now, interval, tolerance),
	}
}

// remaining counts whole requests left in the tolerance once tat is
// committed. The first interval of tat-now is the cost of the request just
// admitted; the rest is burst debt.
func remaining(tat, now, interval, tolerance uint64) uint64 {
	if interval == 0 {
		return 0
	}
	debt := satSub(satSub(tat, now), interval)
	return satSub(tolerance, debt) / interval
}

func satSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func satAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
