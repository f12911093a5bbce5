// Package clock supplies the current time as a nanosecond count.
//
// The limiter never calls time.Now directly; it asks a Clock, which lets
// tests freeze, advance or break time without sleeping.
package clock

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrUnavailable is returned when the time source cannot produce a reading.
var ErrUnavailable = errors.New("clock: system time unavailable")

// Clock returns the current time in nanoseconds since an epoch chosen by the
// implementation. Implementations must be safe for concurrent use.
type Clock interface {
	Now() (uint64, error)
}

// System reads wall-clock time as nanoseconds since the Unix epoch.
type System struct{}

// Now fails with ErrUnavailable when the system clock reports a time before
// the Unix epoch.
func (System) Now() (uint64, error) {
	ns := time.Now().UnixNano()
	if ns < 0 {
		return 0, ErrUnavailable
	}
	return uint64(ns), nil
}

// Manual is a Clock whose time only moves when told to. It is shared freely
// between goroutines.
type Manual struct {
	nanos    atomic.Uint64
	failNext atomic.Bool
	failing  atomic.Bool
}

// NewManual returns a Manual clock reading start.
func NewManual(start time.Duration) *Manual {
	m := &Manual{}
	m.Set(start)
	return m
}

// Now returns the current manual time, or ErrUnavailable if a failure was
// injected.
func (m *Manual) Now() (uint64, error) {
	if m.failing.Load() || m.failNext.Swap(false) {
		return 0, ErrUnavailable
	}
	return m.nanos.Load(), nil
}

// Advance moves the clock forward by d. Negative durations move it back,
// flooring at zero.
func (m *Manual) Advance(d time.Duration) {
	for {
		cur := m.nanos.Load()
		next := cur + uint64(d)
		if d < 0 {
			back := uint64(-d)
			next = 0
			if cur > back {
				next = cur - back
			}
		}
		if m.nanos.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Set moves the clock to d after its epoch.
func (m *Manual) Set(d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.nanos.Store(uint64(d))
}

// SetNanos moves the clock to an exact nanosecond reading.
func (m *Manual) SetNanos(ns uint64) { m.nanos.Store(ns) }

// Elapsed reports the current reading as a duration since the epoch.
func (m *Manual) Elapsed() time.Duration { return time.Duration(m.nanos.Load()) }

// FailNext makes the next call to Now fail. Later calls succeed again.
func (m *Manual) FailNext() { m.failNext.Store(true) }

// SetFailing makes every call to Now fail until it is called with false.
func (m *Manual) SetFailing(fail bool) { m.failing.Store(fail) }
