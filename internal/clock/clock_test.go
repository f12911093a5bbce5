package clock

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSystem_Now(t *testing.T) {
	before := uint64(time.Now().UnixNano())
	got, err := System{}.Now()
	if err != nil {
		t.Fatalf("Now() error: %v", err)
	}
	if got < before {
		t.Errorf("Now() = %d, want >= %d", got, before)
	}
}

func TestManual_AdvanceAndSet(t *testing.T) {
	t.Parallel()

	m := NewManual(5 * time.Second)
	if got := m.Elapsed(); got != 5*time.Second {
		t.Fatalf("Elapsed() = %v, want 5s", got)
	}

	m.Advance(2500 * time.Millisecond)
	if got := m.Elapsed(); got != 7500*time.Millisecond {
		t.Errorf("after Advance: Elapsed() = %v, want 7.5s", got)
	}

	m.Advance(-10 * time.Second)
	if got := m.Elapsed(); got != 0 {
		t.Errorf("Advance past epoch: Elapsed() = %v, want 0", got)
	}

	m.Set(0)
	now, err := m.Now()
	if err != nil || now != 0 {
		t.Errorf("Now() = %d, %v; want 0, nil", now, err)
	}

	m.SetNanos(1234)
	if now, _ := m.Now(); now != 1234 {
		t.Errorf("Now() = %d, want 1234", now)
	}
}

func TestManual_FailNext(t *testing.T) {
	t.Parallel()

	m := NewManual(time.Second)
	m.FailNext()

	if _, err := m.Now(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Now() error = %v, want ErrUnavailable", err)
	}
	if _, err := m.Now(); err != nil {
		t.Fatalf("Now() after one failure: %v", err)
	}
}

func TestManual_SetFailing(t *testing.T) {
	t.Parallel()

	m := NewManual(0)
	m.SetFailing(true)
	for i := 0; i < 3; i++ {
		if _, err := m.Now(); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}
	m.SetFailing(false)
	if _, err := m.Now(); err != nil {
		t.Fatalf("Now() after recovery: %v", err)
	}
}

func TestManual_ConcurrentAdvance(t *testing.T) {
	t.Parallel()

	m := NewManual(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Advance(time.Nanosecond)
			}
		}()
	}
	wg.Wait()

	if got := m.Elapsed(); got != 5000*time.Nanosecond {
		t.Errorf("Elapsed() = %v, want 5µs", got)
	}
}
