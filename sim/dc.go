package sim

import (
	"encoding/binary"
	"time"
)

var simEpoch = time.Now()

// DistributedClock models the system time unit of an ESC. The local clock
// runs at Now()*(1+Drift)+Offset. Writing the system time register, as the master
// does when distributing the reference time, records the deviation in the
// difference register and halves the offset.
type DistributedClock struct {
	Offset time.Duration
	// Drift is the relative rate error of the local oscillator.
	Drift      float64
	Difference time.Duration

	// Now defaults to the monotonic time since package initialization.
	Now func() time.Duration

	snapshot [8]byte
}

func NewDistributedClock() *DistributedClock {
	return &DistributedClock{}
}

func (dc *DistributedClock) local() time.Duration {
	now := time.Since(simEpoch)
	if dc.Now != nil {
		now = dc.Now()
	}
	return now + time.Duration(float64(now)*dc.Drift) + dc.Offset
}

type DCSystemTime struct{ *DistributedClock }

func (dc *DistributedClock) SystemTimeReg() DCSystemTime { return DCSystemTime{dc} }

func (r DCSystemTime) Read(offs uint16, dp *uint8) bool {
	if offs == 0 {
		binary.LittleEndian.PutUint64(r.snapshot[:], uint64(r.local()))
	}
	*dp = r.snapshot[offs]
	return true
}

func (r DCSystemTime) Writable(offs uint16) bool {
	return true
}

func (r DCSystemTime) Latch(shadow []byte, written []bool) {
	n := 0
	for n < len(written) && written[n] {
		n++
	}

	local := r.local()
	var diff time.Duration
	switch {
	case n >= 8:
		diff = local - time.Duration(binary.LittleEndian.Uint64(shadow))
	case n >= 4:
		// 32 bit system time compares the lower half only
		diff = time.Duration(int32(uint32(local) - binary.LittleEndian.Uint32(shadow)))
	default:
		return
	}

	r.Difference = diff
	r.Offset -= diff / 2
}

type DCDifference struct{ *DistributedClock }

func (dc *DistributedClock) DifferenceReg() DCDifference { return DCDifference{dc} }

// EncodeDifference encodes d as the ESC does: bit 31 is set when the local
// copy of the system time is smaller than the received one, the lower 31
// bits hold the magnitude in ns.
func EncodeDifference(d time.Duration) uint32 {
	var v uint32
	if d < 0 {
		v = 1 << 31
		d = -d
	}
	if d > 0x7fffffff {
		d = 0x7fffffff
	}
	return v | uint32(d)
}

func (r DCDifference) Read(offs uint16, dp *uint8) bool {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], EncodeDifference(r.Difference))
	*dp = b[offs]
	return true
}

func (r DCDifference) Writable(offs uint16) bool {
	return false
}

func (r DCDifference) Latch(shadow []byte, written []bool) {}
