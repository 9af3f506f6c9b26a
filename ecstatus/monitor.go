package ecstatus

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/distributed/ecatlink/ecad"
	"github.com/distributed/ecatlink/ecfr"
	"github.com/distributed/ecatlink/ecmd"
)

const DefaultEventBuffer = 64

type Options struct {
	Interval time.Duration
	Handler  Handler
	// Events receives the events. When nil the monitor creates a channel
	// with EventBuffer capacity.
	Events      chan Event
	EventBuffer int
	Log         *logrus.Entry
}

// Monitor polls the slaves through a commander. Poll and Run must be used
// from a single goroutine.
type Monitor struct {
	cmd      ecmd.Commander
	stations []uint16
	lost     []bool

	interval time.Duration
	handler  Handler
	events   chan Event
	log      *logrus.Entry

	polls   atomic.Uint64
	dropped atomic.Uint64
}

// NewMonitor watches the slaves with the given station addresses, slave i
// having stations[i].
func NewMonitor(cmd ecmd.Commander, stations []uint16, opts Options) *Monitor {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.Events == nil {
		opts.Events = make(chan Event, opts.EventBuffer)
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Monitor{
		cmd:      cmd,
		stations: stations,
		lost:     make([]bool, len(stations)),
		interval: opts.Interval,
		handler:  opts.Handler,
		events:   opts.Events,
		log:      opts.Log,
	}
}

func (m *Monitor) Events() <-chan Event { return m.events }

// Dropped returns the number of events that found the channel full.
func (m *Monitor) Dropped() uint64 { return m.dropped.Load() }

func (m *Monitor) Polls() uint64 { return m.polls.Load() }

// Run polls every interval until dying is closed. Commander errors other
// than lost frames end the loop.
func (m *Monitor) Run(dying <-chan struct{}) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-dying:
			return nil
		case <-t.C:
		}

		err := m.poll(dying)
		if err != nil {
			return err
		}
	}
}

// Poll checks all slaves once.
func (m *Monitor) Poll() error {
	return m.poll(nil)
}

func (m *Monitor) poll(dying <-chan struct{}) error {
	m.polls.Add(1)

	n := uint16(len(m.stations))
	if n == 0 {
		return nil
	}

	d, err := ecmd.Execute(m.cmd, ecmd.Request{
		Command: ecfr.BRD,
		Addr32:  ecfr.BroadcastAddress(ecad.ALStatus).Addr32(),
		Len:     2,
		WKC:     n,
	}, ecmd.WithFramelossTries(1))
	if err == nil && binary.LittleEndian.Uint16(d)&(ecad.StateMask|ecad.StateErrorFlag) == ecad.StateOp {
		m.log.Debug("all slaves operational")
		// slaves back from a loss answer the broadcast in OP, clear them
		return m.checkLost(dying)
	}
	if err != nil && !ecmd.IsNoFrame(err) && !ecmd.IsWorkingCounterError(err) {
		return err
	}

	for i := range m.stations {
		err = m.checkSlave(dying, uint16(i))
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) checkLost(dying <-chan struct{}) error {
	for i, lost := range m.lost {
		if !lost {
			continue
		}
		if err := m.checkSlave(dying, uint16(i)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) checkSlave(dying <-chan struct{}, slave uint16) error {
	log := m.log.WithField("slave", slave)
	addr := ecfr.FixedAddress(m.stations[slave], ecad.ALStatus)

	d, err := ecmd.ExecuteRead(m.cmd, addr, 6, 1, ecmd.WithFramelossTries(1))
	if ecmd.IsNoFrame(err) || ecmd.IsWorkingCounterError(err) {
		if !m.lost[slave] {
			m.lost[slave] = true
			m.emit(dying, slave, New(KindLost, fmt.Sprintf("slave %d lost", slave)))
		}
		return nil
	}
	if err != nil {
		return err
	}

	if m.lost[slave] {
		m.lost[slave] = false
		m.emit(dying, slave, New(KindStateChanged, fmt.Sprintf("slave %d recovered", slave)))
	}

	state := binary.LittleEndian.Uint16(d)
	code := binary.LittleEndian.Uint16(d[4:])
	ctl := ecfr.FixedAddress(m.stations[slave], ecad.ALControl)

	switch {
	case state == ecad.StateSafeOp|ecad.StateErrorFlag:
		log.WithField("al_status_code", fmt.Sprintf("%#04x", code)).Warn("slave in SAFE_OP with error")
		m.emit(dying, slave, New(KindError, fmt.Sprintf("slave %d is in SAFE_OP + ERROR, attempting ack", slave)))
		return m.request(ctl, ecad.StateSafeOp|ecad.StateErrorFlag)

	case state == ecad.StateSafeOp:
		m.emit(dying, slave, New(KindStateChanged, fmt.Sprintf("slave %d is in SAFE_OP, change to OPERATIONAL", slave)))
		return m.request(ctl, ecad.StateOp)

	case state&ecad.StateErrorFlag != 0:
		log.WithField("al_status_code", fmt.Sprintf("%#04x", code)).Warn("slave in error state")
		m.emit(dying, slave, New(KindError, fmt.Sprintf("slave %d is in %s", slave, ecad.StateName(state))))

	case state&ecad.StateMask != ecad.StateOp:
		m.emit(dying, slave, New(KindStateChanged, fmt.Sprintf("slave %d is in %s", slave, ecad.StateName(state))))
	}

	return nil
}

// request writes an AL control request. A slave that does not take it is
// handled at the next poll.
func (m *Monitor) request(addr ecfr.DatagramAddress, state uint16) error {
	w := make([]byte, 2)
	binary.LittleEndian.PutUint16(w, state)
	err := ecmd.ExecuteWrite(m.cmd, addr, w, 1, ecmd.WithFramelossTries(1))
	if ecmd.IsNoFrame(err) || ecmd.IsWorkingCounterError(err) {
		return nil
	}
	return err
}

func (m *Monitor) emit(dying <-chan struct{}, slave uint16, s Status) {
	if dying != nil {
		select {
		case <-dying:
			return
		default:
		}
	}

	m.log.WithFields(logrus.Fields{"slave": slave, "kind": s.Kind()}).Info(s.String())

	if m.handler != nil {
		m.handler(slave, s)
	}

	select {
	case m.events <- Event{Slave: slave, Status: s, Time: time.Now()}:
	default:
		m.dropped.Add(1)
	}
}

// Lost reports whether slave is currently considered lost.
func (m *Monitor) Lost(slave uint16) bool {
	return m.lost[slave]
}
