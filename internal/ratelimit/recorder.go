package ratelimit

import "time"

// Operation names passed to Recorder.ObserveClockError.
const (
	OpCheck   = "check"
	OpCleanup = "cleanup"
)

// Recorder receives limiter events for metrics. Implementations must be safe
// for concurrent use and must not block.
type Recorder interface {
	ObserveDecision(allowed bool)
	ObserveClockError(op string)
	ObserveCleanup(removed, remaining int, took time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDecision(bool) {}
func (nopRecorder) ObserveClockError(string) {}
func (nopRecorder) ObserveCleanup(int, int, time.Duration) {}
