package ecdc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distributed/ecatlink/eccfg"
)

func TestDecodeDifference(t *testing.T) {
	assert.Equal(t, 1000*time.Nanosecond, DecodeDifference(0x000003e8))
	assert.Equal(t, -1000*time.Nanosecond, DecodeDifference(0x800003e8))
	assert.Equal(t, 300*time.Nanosecond, MaxOffset([]uint32{0x0000000a, 0x8000012c, 0x00000064}))
	assert.Equal(t, time.Duration(0), MaxOffset(nil))
}

func TestInToleranceNeverTimesOut(t *testing.T) {
	start := time.Unix(0, 0)
	s := NewSupervisor(time.Microsecond, 50*time.Millisecond, start)

	now := start
	for i := 0; i < 200; i++ {
		now = now.Add(time.Millisecond)
		require.NoError(t, s.Observe(now, 500*time.Nanosecond))
	}
	assert.True(t, s.Synchronized())
	assert.EqualValues(t, 200, s.Samples())
}

func TestSettling(t *testing.T) {
	start := time.Unix(0, 0)
	s := NewSupervisor(time.Microsecond, time.Second, start)

	now := start
	for i := 0; i < eccfg.SettleSamples-1; i++ {
		now = now.Add(time.Millisecond)
		require.NoError(t, s.Observe(now, 0))
		assert.False(t, s.Synchronized())
	}
	require.NoError(t, s.Observe(now.Add(time.Millisecond), 0))
	assert.True(t, s.Synchronized())

	require.NoError(t, s.Observe(now.Add(2*time.Millisecond), -2*time.Microsecond))
	assert.False(t, s.Synchronized())
	assert.Equal(t, -2*time.Microsecond, s.LastOffset())
}

func TestTimeoutFiresOnce(t *testing.T) {
	start := time.Unix(0, 0)
	s := NewSupervisor(time.Microsecond, 20*time.Millisecond, start)

	var errs []error
	now := start
	for i := 0; i < 100; i++ {
		now = now.Add(time.Millisecond)
		if err := s.Observe(now, 5*time.Microsecond); err != nil {
			errs = append(errs, err)
		}
	}

	require.Len(t, errs, 1)
	var cste *ClockSyncTimeoutError
	require.True(t, errors.As(errs[0], &cste))
	assert.Equal(t, 5*time.Microsecond, cste.Offset)
	assert.Equal(t, 20*time.Millisecond, cste.Timeout)
}

func TestStartCountsAsOut(t *testing.T) {
	start := time.Unix(0, 0)
	s := NewSupervisor(time.Microsecond, 20*time.Millisecond, start)

	// first sample arrives late and is bad
	err := s.Observe(start.Add(25*time.Millisecond), time.Millisecond)
	assert.Error(t, err)
}

func TestRecoveryResetsWindow(t *testing.T) {
	start := time.Unix(0, 0)
	s := NewSupervisor(time.Microsecond, 20*time.Millisecond, start)

	now := start
	for i := 0; i < 100; i++ {
		now = now.Add(time.Millisecond)
		offset := 5 * time.Microsecond
		if i%10 == 0 {
			offset = 0
		}
		require.NoError(t, s.Observe(now, offset))
	}
}

func TestMissesTimeOut(t *testing.T) {
	start := time.Unix(0, 0)
	s := NewSupervisor(time.Microsecond, 20*time.Millisecond, start)

	now := start
	for i := 0; i < eccfg.SettleSamples; i++ {
		now = now.Add(time.Millisecond)
		require.NoError(t, s.Observe(now, 200*time.Nanosecond))
	}
	require.True(t, s.Synchronized())

	var errs []error
	for i := 0; i < 50; i++ {
		now = now.Add(time.Millisecond)
		if err := s.Miss(now); err != nil {
			errs = append(errs, err)
		}
	}
	assert.False(t, s.Synchronized(), "ticks without samples are not in sync")
	assert.EqualValues(t, 50, s.Misses())
	require.Len(t, errs, 1)
	var cste *ClockSyncTimeoutError
	require.ErrorAs(t, errs[0], &cste)
	assert.Equal(t, 200*time.Nanosecond, cste.Offset, "the last known offset is reported")
}
