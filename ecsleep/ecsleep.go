// Package ecsleep provides the strategies the cycle thread uses to wait
// for its next deadline.
package ecsleep

import (
	"runtime"
	"time"

	"github.com/distributed/ecatlink/eccfg"
)

// Sleeper waits until a deadline. Implementations must return no earlier
// than the deadline and never block indefinitely.
type Sleeper interface {
	SleepUntil(deadline time.Time)
}

// Sleep waits for d with s.
func Sleep(s Sleeper, d time.Duration) {
	s.SleepUntil(time.Now().Add(d))
}

// Spin busy-waits. It gives the lowest jitter and occupies a core.
type Spin struct{}

func (Spin) SleepUntil(deadline time.Time) {
	for time.Now().Before(deadline) {
	}
}

// Std blocks in the OS timer.
type Std struct{}

func (Std) SleepUntil(deadline time.Time) {
	if d := time.Until(deadline); d > 0 {
		time.Sleep(d)
	}
}

// DefaultSpinMargin is the time SpinWait spins before a deadline.
const DefaultSpinMargin = 200 * time.Microsecond

// SpinWait sleeps in the OS timer until Margin before the deadline and
// yields the processor for the rest.
type SpinWait struct {
	Margin time.Duration
}

func (s SpinWait) SleepUntil(deadline time.Time) {
	margin := s.Margin
	if margin <= 0 {
		margin = DefaultSpinMargin
	}

	if d := time.Until(deadline) - margin; d > 0 {
		time.Sleep(d)
	}
	for time.Now().Before(deadline) {
		runtime.Gosched()
	}
}

// For returns the sleeper configured by t.
func For(t eccfg.TimerStrategy) Sleeper {
	switch t {
	case eccfg.TimerStd:
		return Std{}
	case eccfg.TimerSpinWait:
		return SpinWait{}
	}
	return Spin{}
}
