package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cleaner is the part of a Limiter a Sweeper drives.
type Cleaner interface {
	CleanupStaleClients(thresholdNanos uint64) (int, error)
}

// DefaultSweepInterval is used when a Sweeper is built with a non-positive
// interval.
const DefaultSweepInterval = time.Minute

// Sweeper periodically removes stale clients in the background.
type Sweeper struct {
	cleaner    Cleaner
	interval   time.Duration
	staleAfter time.Duration
	log        zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSweeper returns a Sweeper that every interval removes clients whose TAT
// is older than staleAfter.
func NewSweeper(c Cleaner, interval, staleAfter time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if staleAfter < 0 {
		staleAfter = 0
	}
	return &Sweeper{
		cleaner:    c,
		interval:   interval,
		staleAfter: staleAfter,
		log:        logger,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine. The loop ends when ctx is
// cancelled or Stop is called. Start must be called at most once.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Sweep runs one cleanup pass. Failures are logged; the next tick retries.
func (s *Sweeper) Sweep() {
	removed, err := s.cleaner.CleanupStaleClients(uint64(s.staleAfter))
	if err != nil {
		s.log.Warn().Err(err).Msg("stale client sweep failed")
		return
	}
	if removed > 0 {
		s.log.Debug().Int("removed", removed).Dur("stale_after", s.staleAfter).Msg("stale clients swept")
	}
}

// Stop ends the sweep loop and waits for it to exit. Safe to call more than
// once.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
