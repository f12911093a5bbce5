// Package ratelimit decides per-client admission with GCRA.
//
// A Limiter holds one theoretical arrival time per client in a concurrent
// store. CheckRequest evaluates and commits a request for one client inside
// that client's critical section; CleanupStaleClients drops clients whose
// state has aged past a threshold so an unbounded key space does not grow
// memory without bound.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlexKimmel/fluxgate/internal/clock"
	"github.com/AlexKimmel/fluxgate/internal/gcra"
	"github.com/AlexKimmel/fluxgate/internal/ratelimit/store"
)

// ErrClock is returned when the clock fails during a check or a sweep. The
// clock's own error is wrapped alongside it.
var ErrClock = errors.New("ratelimit: clock unavailable")

type options struct {
	logger   zerolog.Logger
	recorder Recorder
	shards   int
}

// Option configures a Limiter.
type Option func(*options)

// WithLogger sets the logger used for denials, clock failures and sweeps.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecorder sets the metrics hook.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithShards sets the shard count of the default store. Ignored by
// NewWithStore.
func WithShards(n int) Option {
	return func(o *options) { o.shards = n }
}

// Limiter is a GCRA rate limiter keyed by K. It is safe for concurrent use.
type Limiter[K comparable] struct {
	cfg       Config
	interval  uint64
	tolerance uint64

	store store.Store[K]
	clock clock.Clock
	log   zerolog.Logger
	rec   Recorder
}

// New validates cfg and returns a Limiter backed by a sharded store. A nil
// clock means clock.System.
func New[K comparable](cfg Config, clk clock.Clock, opts ...Option) (*Limiter[K], error) {
	o := buildOptions(opts)
	return newLimiter(cfg, clk, store.NewSharded[K](o.shards, nil), o)
}

// NewWithStore is New with a caller-supplied store.
func NewWithStore[K comparable](cfg Config, clk clock.Clock, st store.Store[K], opts ...Option) (*Limiter[K], error) {
	if st == nil {
		return nil, errors.New("ratelimit: store is required")
	}
	return newLimiter(cfg, clk, st, buildOptions(opts))
}

func buildOptions(opts []Option) options {
	o := options{logger: zerolog.Nop(), recorder: nopRecorder{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newLimiter[K comparable](cfg Config, clk clock.Clock, st store.Store[K], o options) (*Limiter[K], error) {
	interval, tolerance, err := cfg.derive()
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Limiter[K]{
		cfg:       cfg,
		interval:  interval,
		tolerance: tolerance,
		store:     st,
		clock:     clk,
		log:       o.logger,
		rec:       o.recorder,
	}, nil
}

// CheckRequest decides whether a request from key conforms and, if so,
// commits it. When the clock fails the store is not touched and the error
// wraps ErrClock; whether that means allow or deny is up to the caller.
func (l *Limiter[K]) CheckRequest(key K) (Decision, error) {
	now, err := l.clock.Now()
	if err != nil {
		l.rec.ObserveClockError(OpCheck)
		l.log.Warn().Err(err).Str("client", clientString(key)).Msg("clock unavailable, request not evaluated")
		return Decision{}, fmt.Errorf("%w: %w", ErrClock, err)
	}

	var res gcra.Result
	l.store.Update(key, now, func(prev uint64) (uint64, bool) {
		res = gcra.Evaluate(now, prev, l.interval, l.tolerance)
		return res.TAT, res.Allowed
	})

	l.rec.ObserveDecision(res.Allowed)
	if !res.Allowed {
		l.log.Debug().
			Str("client", clientString(key)).
			Uint64("tat", res.TAT).
			Dur("retry_after", nanosToDuration(res.RetryAfterNanos)).
			Msg("request denied")
	}
	return newDecision(res), nil
}

// CleanupStaleClients removes every client whose TAT is strictly older than
// now minus thresholdNanos and reports how many were removed. A client whose
// TAT equals the cutoff is kept. On clock failure nothing is removed.
func (l *Limiter[K]) CleanupStaleClients(thresholdNanos uint64) (int, error) {
	start := time.Now()

	now, err := l.clock.Now()
	if err != nil {
		l.rec.ObserveClockError(OpCleanup)
		l.log.Warn().Err(err).Msg("clock unavailable, cleanup skipped")
		return 0, fmt.Errorf("%w: %w", ErrClock, err)
	}

	cutoff := uint64(0)
	if now > thresholdNanos {
		cutoff = now - thresholdNanos
	}
	removed := l.store.RemoveIf(func(_ K, tat uint64) bool { return tat < cutoff })
	remaining := l.store.Len()

	took := time.Since(start)
	l.rec.ObserveCleanup(removed, remaining, took)
	if removed > 0 {
		l.log.Debug().
			Int("cleaned_keys", removed).
			Int("remaining_keys", remaining).
			Dur("took", took).
			Msg("stale client cleanup completed")
	}
	return removed, nil
}

// Rate returns the configured requests per second.
func (l *Limiter[K]) Rate() float64 { return l.cfg.RatePerSecond }

// Burst returns the configured burst capacity.
func (l *Limiter[K]) Burst() float64 { return l.cfg.Burst }

// Config returns the configuration the limiter was built with.
func (l *Limiter[K]) Config() Config { return l.cfg }

// Interval is the emission interval: the cost of one request.
func (l *Limiter[K]) Interval() time.Duration { return nanosToDuration(l.interval) }

// Tolerance is the burst allowance expressed as time.
func (l *Limiter[K]) Tolerance() time.Duration { return nanosToDuration(l.tolerance) }

// Len reports the number of tracked clients.
func (l *Limiter[K]) Len() int { return l.store.Len() }

// nanosToDuration clamps ns to the largest representable time.Duration.
func nanosToDuration(ns uint64) time.Duration {
	if ns > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

func clientString[K comparable](key K) string {
	if s, ok := any(key).(string); ok {
		return s
	}
	return fmt.Sprint(key)
}
