package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/AlexKimmel/fluxgate/internal/clock"
)

type fakeCleaner struct {
	calls     atomic.Int64
	threshold atomic.Uint64
	err       error
}

func (f *fakeCleaner) CleanupStaleClients(threshold uint64) (int, error) {
	f.calls.Add(1)
	f.threshold.Store(threshold)
	return 1, f.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSweeper_RunsUntilStopped(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := &fakeCleaner{}
	s := NewSweeper(c, 10*time.Millisecond, 30*time.Second, zerolog.New(zerolog.NewTestWriter(t)))
	s.Start(context.Background())

	waitFor(t, func() bool { return c.calls.Load() >= 3 })
	s.Stop()
	s.Stop()

	if got := c.threshold.Load(); got != uint64(30*time.Second) {
		t.Errorf("threshold = %d, want %d", got, uint64(30*time.Second))
	}

	calls := c.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if c.calls.Load() != calls {
		t.Error("sweeper kept running after Stop")
	}
}

func TestSweeper_StopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSweeper(&fakeCleaner{}, time.Hour, 0, zerolog.Nop())
	s.Start(ctx)
	cancel()
	s.Stop()
}

func TestSweeper_ContinuesAfterErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := &fakeCleaner{err: errors.New("boom")}
	s := NewSweeper(c, 5*time.Millisecond, time.Second, zerolog.Nop())
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return c.calls.Load() >= 3 })
}

func TestSweeper_Defaults(t *testing.T) {
	t.Parallel()

	s := NewSweeper(&fakeCleaner{}, 0, -time.Second, zerolog.Nop())
	if s.interval != DefaultSweepInterval {
		t.Errorf("interval = %v, want %v", s.interval, DefaultSweepInterval)
	}
	if s.staleAfter != 0 {
		t.Errorf("staleAfter = %v, want 0", s.staleAfter)
	}
}

func TestSweeper_DrivesLimiter(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clock.NewManual(0)
	lim := newTestLimiter(t, Config{RatePerSecond: 1}, clk)
	mustCheck(t, lim, "idle")
	clk.Set(time.Minute)

	s := NewSweeper(lim, 5*time.Millisecond, 10*time.Second, zerolog.Nop())
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return lim.Len() == 0 })
}

func TestSweeper_SweepOnce(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(0)
	lim := newTestLimiter(t, Config{RatePerSecond: 10}, clk)
	mustCheck(t, lim, "a")
	mustCheck(t, lim, "b")
	clk.Set(5 * time.Second)
	mustCheck(t, lim, "c")

	s := NewSweeper(lim, time.Hour, time.Second, zerolog.New(zerolog.NewTestWriter(t)))
	s.Sweep()

	if got := lim.Len(); got != 1 {
		t.Errorf("Len() = %d after sweep, want 1", got)
	}

	clk.SetFailing(true)
	s.Sweep()
	if got := lim.Len(); got != 1 {
		t.Errorf("Len() = %d after failed sweep, want 1", got)
	}
}
