package sim

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distributed/ecatlink/ecad"
	"github.com/distributed/ecatlink/ecfr"
)

func roundtrip(t *testing.T, bus *L2Bus, ct ecfr.CommandType, addr32 uint32, data []byte) *ecfr.Datagram {
	t.Helper()

	fr, err := bus.New(len(data))
	require.NoError(t, err)
	dg, err := fr.NewDatagram(len(data))
	require.NoError(t, err)
	dg.Command = ct
	dg.Addr32 = addr32
	copy(dg.Data(), data)

	iframes, err := bus.Cycle()
	require.NoError(t, err)
	require.Len(t, iframes, 1)
	require.Len(t, iframes[0].Datagrams, 1)
	return iframes[0].Datagrams[0]
}

func setStation(t *testing.T, bus *L2Bus, pos, station uint16) {
	t.Helper()
	a := ecfr.PositionalAddress(pos, ecad.ConfiguredStationAddress)
	w := make([]byte, 2)
	binary.LittleEndian.PutUint16(w, station)
	dg := roundtrip(t, bus, ecfr.APWR, a.Addr32(), w)
	require.EqualValues(t, 1, dg.WorkingCounter)
}

func TestBroadcastCountsSlaves(t *testing.T) {
	s1, s2, s3 := NewL2Slave(), NewL2Slave(), NewL2Slave()
	bus := NewL2Bus(s1, s2, s3)

	dg := roundtrip(t, bus, ecfr.BRD, ecfr.BroadcastAddress(ecad.Type).Addr32(), make([]byte, 2))
	assert.EqualValues(t, 3, dg.WorkingCounter)

	s2.Detach()
	dg = roundtrip(t, bus, ecfr.BRD, ecfr.BroadcastAddress(ecad.Type).Addr32(), make([]byte, 2))
	assert.EqualValues(t, 2, dg.WorkingCounter)

	s2.Attach()
	dg = roundtrip(t, bus, ecfr.BRD, ecfr.BroadcastAddress(ecad.Type).Addr32(), make([]byte, 2))
	assert.EqualValues(t, 3, dg.WorkingCounter)
	assert.EqualValues(t, 3, bus.Frames())
}

func TestPositionalAndFixedAddressing(t *testing.T) {
	s1, s2 := NewL2Slave(), NewL2Slave()
	s2.BackingMemory[ecad.Build] = 0x42
	bus := NewL2Bus(s1, s2)

	dg := roundtrip(t, bus, ecfr.APRD, ecfr.PositionalAddress(1, ecad.Build).Addr32(), make([]byte, 1))
	assert.EqualValues(t, 1, dg.WorkingCounter)
	assert.EqualValues(t, 0x42, dg.Data()[0])

	// no station address assigned yet
	dg = roundtrip(t, bus, ecfr.FPRD, ecfr.FixedAddress(0x1002, ecad.Build).Addr32(), make([]byte, 1))
	assert.EqualValues(t, 0, dg.WorkingCounter)

	setStation(t, bus, 0, 0x1001)
	setStation(t, bus, 1, 0x1002)
	assert.EqualValues(t, 0x1002, s2.StationAddress())

	dg = roundtrip(t, bus, ecfr.FPRD, ecfr.FixedAddress(0x1002, ecad.Build).Addr32(), make([]byte, 1))
	assert.EqualValues(t, 1, dg.WorkingCounter)
	assert.EqualValues(t, 0x42, dg.Data()[0])
}

func TestALStateMachine(t *testing.T) {
	s := NewL2Slave()
	bus := NewL2Bus(s)
	ctl := ecfr.PositionalAddress(0, ecad.ALControl).Addr32()
	status := ecfr.PositionalAddress(0, ecad.ALStatus).Addr32()

	dg := roundtrip(t, bus, ecfr.APRD, status, make([]byte, 2))
	assert.EqualValues(t, ecad.StateInit, binary.LittleEndian.Uint16(dg.Data()))

	roundtrip(t, bus, ecfr.APWR, ctl, []byte{ecad.StateOp, 0})
	assert.EqualValues(t, ecad.StateOp, s.ALState())

	s.SetALError(ecad.StateSafeOp, 0x001b)
	dg = roundtrip(t, bus, ecfr.APRD, status, make([]byte, 6))
	assert.EqualValues(t, ecad.StateSafeOp|ecad.StateErrorFlag, binary.LittleEndian.Uint16(dg.Data()))
	assert.EqualValues(t, 0x001b, binary.LittleEndian.Uint16(dg.Data()[4:]))

	// refused without acknowledge
	roundtrip(t, bus, ecfr.APWR, ctl, []byte{ecad.StateOp, 0})
	assert.EqualValues(t, ecad.StateSafeOp|ecad.StateErrorFlag, s.ALState())

	roundtrip(t, bus, ecfr.APWR, ctl, []byte{ecad.StateSafeOp | ecad.StateErrorFlag, 0})
	assert.EqualValues(t, ecad.StateSafeOp, s.ALState())

	roundtrip(t, bus, ecfr.APWR, ctl, []byte{ecad.StateOp, 0})
	assert.EqualValues(t, ecad.StateOp, s.ALState())
}

func TestDistributedClockConverges(t *testing.T) {
	var now time.Duration
	clock := func() time.Duration { return now }

	ref, s2 := NewL2Slave(), NewL2Slave()
	ref.DC.Now = clock
	s2.DC.Now = clock
	s2.SetClockOffset(time.Millisecond)
	bus := NewL2Bus(ref, s2)
	setStation(t, bus, 0, 0x1001)
	setStation(t, bus, 1, 0x1002)

	var diffs []time.Duration
	for i := 0; i < 30; i++ {
		now += time.Millisecond
		dg := roundtrip(t, bus, ecfr.FRMW, ecfr.FixedAddress(0x1001, ecad.DCSystemTime).Addr32(), make([]byte, 8))
		require.EqualValues(t, 2, dg.WorkingCounter)
		assert.EqualValues(t, now, time.Duration(binary.LittleEndian.Uint64(dg.Data())))

		dg = roundtrip(t, bus, ecfr.FPRD, ecfr.FixedAddress(0x1002, ecad.DCSystemTimeDifference).Addr32(), make([]byte, 4))
		require.EqualValues(t, 1, dg.WorkingCounter)
		diffs = append(diffs, time.Duration(binary.LittleEndian.Uint32(dg.Data())&0x7fffffff))
	}

	assert.Equal(t, time.Millisecond, diffs[0])
	assert.Less(t, diffs[len(diffs)-1], time.Microsecond)
	assert.Less(t, s2.ClockDifference(), time.Microsecond)
}

func TestEncodeDifference(t *testing.T) {
	assert.EqualValues(t, 0x000003e8, EncodeDifference(time.Microsecond))
	assert.EqualValues(t, 0x800003e8, EncodeDifference(-time.Microsecond))
	assert.EqualValues(t, 0x7fffffff, EncodeDifference(10*time.Second))
}

func TestProcessDataExchange(t *testing.T) {
	s1 := NewProcessDataSlave(0, 4)
	s2 := NewProcessDataSlave(4, 4)
	bus := NewL2Bus(s1, s2)

	pd := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	// outputs are only applied in OP
	dg := roundtrip(t, bus, ecfr.LRW, ecfr.LogicalAddress(0).Addr32(), pd)
	assert.EqualValues(t, 0, dg.WorkingCounter)

	roundtrip(t, bus, ecfr.BWR, ecfr.BroadcastAddress(ecad.ALControl).Addr32(), []byte{ecad.StateOp, 0})

	dg = roundtrip(t, bus, ecfr.LRW, ecfr.LogicalAddress(0).Addr32(), pd)
	assert.EqualValues(t, 4, dg.WorkingCounter)
	assert.Equal(t, []byte{1, 2, 3, 4}, s1.Outputs())
	assert.Equal(t, []byte{5, 6, 7, 8}, s2.Outputs())
	assert.EqualValues(t, 1, s2.ProcessDataFrames())

	dg = roundtrip(t, bus, ecfr.LWR, ecfr.LogicalAddress(0).Addr32(), pd[:4])
	assert.EqualValues(t, 1, dg.WorkingCounter)
}

func TestBusClosed(t *testing.T) {
	bus := NewL2Bus(NewL2Slave())
	require.NoError(t, bus.Close())
	_, err := bus.Cycle()
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestEEPROMInterface(t *testing.T) {
	s := NewL2Slave()
	bus := NewL2Bus(s)
	ctl := ecfr.PositionalAddress(0, ecad.EEPROMControlStatus).Addr32()

	readStatus := func() uint16 {
		dg := roundtrip(t, bus, ecfr.APRD, ctl, make([]byte, 2))
		require.EqualValues(t, 1, dg.WorkingCounter)
		return binary.LittleEndian.Uint16(dg.Data())
	}

	st := readStatus()
	assert.NotZero(t, st&eeReadSize8)
	assert.NotZero(t, st&eeAddress2Bytes)

	roundtrip(t, bus, ecfr.APWR, ctl, []byte{0x00, 0x02})
	assert.NotZero(t, readStatus()&eeErrWriteEn, "writes need the enable bit")

	roundtrip(t, bus, ecfr.APWR, ctl, []byte{0x00, 0x00})
	assert.Zero(t, readStatus()&eeErrors, "nop clears the errors")

	// command and address in one datagram, the read sees the new address
	roundtrip(t, bus, ecfr.APWR, ctl, []byte{0x00, 0x01, 0x05, 0x00, 0x00, 0x00})
	dg := roundtrip(t, bus, ecfr.APRD, ecfr.PositionalAddress(0, ecad.EEPROMData).Addr32(), make([]byte, 4))
	assert.Equal(t, []byte{0x05, 0xee, 0x06, 0xee}, dg.Data())

	s.EEPROM.Busy = true
	assert.NotZero(t, readStatus()&eeBusy)
}

func TestSystemTimeLatchWidths(t *testing.T) {
	dc := NewDistributedClock()
	dc.Now = func() time.Duration { return 0x1_0000_1000 }
	reg := dc.SystemTimeReg()

	shadow := make([]byte, 8)
	written := make([]bool, 8)

	binary.LittleEndian.PutUint64(shadow, 0x1_0000_0c00)
	for i := range written {
		written[i] = true
	}
	reg.Latch(shadow, written)
	assert.EqualValues(t, 0x400, dc.Difference, "64 bit write")

	dc.Offset = 0
	binary.LittleEndian.PutUint32(shadow, 0x0000_0f00)
	clear(written)
	for i := 0; i < 4; i++ {
		written[i] = true
	}
	reg.Latch(shadow, written)
	assert.EqualValues(t, 0x100, dc.Difference, "32 bit write compares the lower half")

	dc.Difference = 0
	clear(written)
	written[0], written[1] = true, true
	reg.Latch(shadow, written)
	assert.Zero(t, dc.Difference, "short writes are ignored")
}
