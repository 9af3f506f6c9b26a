package ecstatus

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distributed/ecatlink/ecad"
	"github.com/distributed/ecatlink/ecfr"
	"github.com/distributed/ecatlink/ecmd"
	"github.com/distributed/ecatlink/sim"
)

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func operationalSegment(t *testing.T, n int) ([]*sim.L2Slave, ecmd.Commander, []uint16) {
	t.Helper()

	var slaves []*sim.L2Slave
	var fps []sim.FrameProcessor
	for i := 0; i < n; i++ {
		s := sim.NewL2Slave()
		slaves = append(slaves, s)
		fps = append(fps, s)
	}
	cmd := ecmd.NewCommandFramer(sim.NewL2Bus(fps...))

	var stations []uint16
	for i := 0; i < n; i++ {
		station := uint16(0x1001 + i)
		require.NoError(t, ecmd.ExecuteWrite(cmd, ecfr.PositionalAddress(uint16(i), ecad.ConfiguredStationAddress), le16(station), 1))
		stations = append(stations, station)
	}
	require.NoError(t, ecmd.ExecuteWrite(cmd, ecfr.BroadcastAddress(ecad.ALControl), le16(ecad.StateOp), uint16(n)))
	return slaves, cmd, stations
}

func drain(m *Monitor) []Event {
	var evs []Event
	for {
		select {
		case ev := <-m.Events():
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func TestStatusEquality(t *testing.T) {
	assert.Equal(t, Lost(), Lost())
	assert.NotEqual(t, Lost(), Error())
	assert.NotEqual(t, Error(), StateChanged())
	assert.NotEqual(t, Lost(), StateChanged())
	assert.True(t, New(KindLost, "slave 0 lost") == New(KindLost, "slave 0 lost"))
	assert.False(t, New(KindLost, "slave 0 lost") == New(KindLost, "slave 1 lost"))
	assert.False(t, New(KindLost, "x") == New(KindError, "x"))
	assert.Equal(t, "", Lost().String())
	assert.Equal(t, "slave 3 lost", New(KindLost, "slave 3 lost").String())
}

func TestAllOperationalIsQuiet(t *testing.T) {
	_, cmd, stations := operationalSegment(t, 3)
	m := NewMonitor(cmd, stations, Options{})

	require.NoError(t, m.Poll())
	assert.Empty(t, drain(m))
}

func TestLostAndRecovered(t *testing.T) {
	slaves, cmd, stations := operationalSegment(t, 3)

	var handled []Status
	m := NewMonitor(cmd, stations, Options{Handler: func(slave uint16, s Status) {
		assert.EqualValues(t, 1, slave)
		handled = append(handled, s)
	}})

	slaves[1].Detach()
	require.NoError(t, m.Poll())
	require.NoError(t, m.Poll())
	assert.True(t, m.Lost(1))

	evs := drain(m)
	require.Len(t, evs, 1, "a loss is reported once")
	assert.Equal(t, New(KindLost, "slave 1 lost"), evs[0].Status)
	assert.EqualValues(t, 1, evs[0].Slave)

	slaves[1].Attach()
	require.NoError(t, m.Poll())
	assert.False(t, m.Lost(1))

	evs = drain(m)
	require.Len(t, evs, 1)
	assert.Equal(t, New(KindStateChanged, "slave 1 recovered"), evs[0].Status)

	assert.Equal(t, []Status{New(KindLost, "slave 1 lost"), New(KindStateChanged, "slave 1 recovered")}, handled)

	require.NoError(t, m.Poll())
	assert.Empty(t, drain(m), "a recovered slave in OP is quiet")

	slaves[1].Detach()
	require.NoError(t, m.Poll())
	evs = drain(m)
	require.Len(t, evs, 1, "a second loss is reported again")
	assert.Equal(t, New(KindLost, "slave 1 lost"), evs[0].Status)
}

func TestErrorAcknowledgeAndReturnToOp(t *testing.T) {
	slaves, cmd, stations := operationalSegment(t, 2)
	m := NewMonitor(cmd, stations, Options{})

	slaves[0].SetALError(ecad.StateSafeOp, 0x001b)
	require.NoError(t, m.Poll())
	evs := drain(m)
	require.Len(t, evs, 1)
	assert.Equal(t, New(KindError, "slave 0 is in SAFE_OP + ERROR, attempting ack"), evs[0].Status)
	assert.EqualValues(t, ecad.StateSafeOp, slaves[0].ALState())

	require.NoError(t, m.Poll())
	evs = drain(m)
	require.Len(t, evs, 1)
	assert.Equal(t, New(KindStateChanged, "slave 0 is in SAFE_OP, change to OPERATIONAL"), evs[0].Status)
	assert.EqualValues(t, ecad.StateOp, slaves[0].ALState())

	require.NoError(t, m.Poll())
	assert.Empty(t, drain(m))
}

func TestOtherStates(t *testing.T) {
	slaves, cmd, stations := operationalSegment(t, 2)
	m := NewMonitor(cmd, stations, Options{})

	slaves[1].SetALState(ecad.StatePreOp)
	slaves[0].SetALError(ecad.StatePreOp, 0x0011)
	require.NoError(t, m.Poll())

	evs := drain(m)
	require.Len(t, evs, 2)
	assert.Equal(t, New(KindError, "slave 0 is in PRE_OP + ERROR"), evs[0].Status)
	assert.Equal(t, New(KindStateChanged, "slave 1 is in PRE_OP"), evs[1].Status)
}

func TestDroppedEvents(t *testing.T) {
	slaves, cmd, stations := operationalSegment(t, 3)
	m := NewMonitor(cmd, stations, Options{EventBuffer: 1})

	for _, s := range slaves {
		s.Detach()
	}
	require.NoError(t, m.Poll())
	assert.Len(t, drain(m), 1)
	assert.EqualValues(t, 2, m.Dropped())
}

func TestRunStops(t *testing.T) {
	slaves, cmd, stations := operationalSegment(t, 1)
	m := NewMonitor(cmd, stations, Options{Interval: time.Millisecond})

	dying := make(chan struct{})
	done := make(chan error)
	go func() { done <- m.Run(dying) }()

	slaves[0].Detach()
	select {
	case ev := <-m.Events():
		assert.Equal(t, KindLost, ev.Status.Kind())
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	close(dying)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
