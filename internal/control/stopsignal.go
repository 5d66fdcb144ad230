// Package control provides the cooperative stop signal shared by the
// directory walker, the Adaptive Scheduler, and the Analysis Service run
// routine (spec §5 "Cancellation": a single signal observed at three
// points, never a preemptive abort).
package control

import "sync/atomic"

// StopSignal is a one-shot, concurrency-safe cooperative cancellation
// flag. It is raised once per run and never reset; callers construct a
// fresh one for each new run.
type StopSignal struct {
	raised atomic.Bool
}

// NewStopSignal returns an unraised signal.
func NewStopSignal() *StopSignal {
	return &StopSignal{}
}

// Raise sets the signal. Idempotent.
func (s *StopSignal) Raise() {
	s.raised.Store(true)
}

// IsRaised reports whether Raise has been called.
func (s *StopSignal) IsRaised() bool {
	return s.raised.Load()
}
