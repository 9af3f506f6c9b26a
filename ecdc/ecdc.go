// Package ecdc supervises distributed clock synchronization.
package ecdc

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/distributed/ecatlink/eccfg"
)

type ClockSyncTimeoutError struct {
	Offset    time.Duration
	Tolerance time.Duration
	Timeout   time.Duration
}

func (e *ClockSyncTimeoutError) Error() string {
	return fmt.Sprintf("distributed clocks out of sync for more than %v: offset %v exceeds tolerance %v",
		e.Timeout, e.Offset, e.Tolerance)
}

// DecodeDifference decodes the system time difference register: bit 31
// set means the local copy is smaller than the reference time, the lower
// bits are the magnitude in ns.
func DecodeDifference(v uint32) time.Duration {
	d := time.Duration(v & 0x7fffffff)
	if v&(1<<31) != 0 {
		return -d
	}
	return d
}

// MaxOffset returns the difference of largest magnitude.
func MaxOffset(diffs []uint32) time.Duration {
	var m time.Duration
	for _, v := range diffs {
		d := abs(DecodeDifference(v))
		if d > m {
			m = d
		}
	}
	return m
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Supervisor judges clock samples. Observe is called from one goroutine,
// the accessors are safe for concurrent use.
type Supervisor struct {
	tolerance time.Duration
	timeout   time.Duration

	outSince time.Time
	streak   int
	fired    bool

	synced     atomic.Bool
	lastOffset atomic.Int64
	samples    atomic.Uint64
	misses     atomic.Uint64
}

// NewSupervisor starts supervision at start, which counts as out of
// tolerance until the first good sample.
func NewSupervisor(tolerance, timeout time.Duration, start time.Time) *Supervisor {
	return &Supervisor{tolerance: tolerance, timeout: timeout, outSince: start}
}

// Observe records the offset sampled at now. It returns a
// *ClockSyncTimeoutError once when the clocks stayed out of tolerance
// longer than the timeout, and nil on every other call.
func (s *Supervisor) Observe(now time.Time, offset time.Duration) error {
	s.samples.Add(1)
	s.lastOffset.Store(int64(offset))

	if abs(offset) <= s.tolerance {
		s.outSince = time.Time{}
		s.streak++
		if s.streak >= eccfg.SettleSamples {
			s.synced.Store(true)
		}
		return nil
	}

	return s.out(now, offset)
}

// Miss records a sync tick that yielded no sample, because the reference
// time did not reach the slaves or no slave answered. It counts as out of
// tolerance with the last known offset.
func (s *Supervisor) Miss(now time.Time) error {
	s.misses.Add(1)
	return s.out(now, s.LastOffset())
}

func (s *Supervisor) out(now time.Time, offset time.Duration) error {
	s.streak = 0
	s.synced.Store(false)
	if s.outSince.IsZero() {
		s.outSince = now
	}
	if !s.fired && now.Sub(s.outSince) > s.timeout {
		s.fired = true
		return &ClockSyncTimeoutError{Offset: offset, Tolerance: s.tolerance, Timeout: s.timeout}
	}
	return nil
}

// Synchronized reports whether the last SettleSamples samples were in
// tolerance.
func (s *Supervisor) Synchronized() bool { return s.synced.Load() }

func (s *Supervisor) LastOffset() time.Duration { return time.Duration(s.lastOffset.Load()) }

func (s *Supervisor) Samples() uint64 { return s.samples.Load() }

// Misses counts the sync ticks without a sample.
func (s *Supervisor) Misses() uint64 { return s.misses.Load() }
