package sim

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/distributed/ecatlink/ecad"
	"github.com/distributed/ecatlink/ecfr"
)

const (
	regAreaLength = 0x1000

	outputArea = 0x1000
	inputArea  = 0x1800
)

var ErrBusClosed = errors.New("sim: bus is closed")

type FrameProcessor interface {
	ProcessFrame(*ecfr.Frame) *ecfr.Frame
}

// L2Slave simulates an ESC at the datagram level. Setters are safe to call
// while a bus cycles the slave.
type L2Slave struct {
	mu sync.Mutex

	BackingMemory [1 << 16]byte

	shadow  [regAreaLength]byte
	written [regAreaLength]bool
	blocks  []blockMapping

	ALStatusControl *ALStatusControl
	EEPROM          *L2EEPROM
	DC              *DistributedClock

	// process data mapping in the logical address space
	LogicalStart uint32
	OutputLen    uint16
	InputLen     uint16

	detached bool
	pdFrames uint64
}

func NewL2Slave() *L2Slave {
	s := &L2Slave{}

	// ET1100 signature
	copy(s.BackingMemory[:0x10], []byte{0x11, 0x00, 0x02, 0x00, 0x08, 0x08, 0x08, 0x0b, 0xfc})

	s.ALStatusControl = NewALStatusControl()
	s.EEPROM = NewL2EEPROM()
	s.DC = NewDistributedClock()
	s.blocks = []blockMapping{
		{ecad.ALControl, 0x02, s.ALStatusControl.ControlReg()},
		{ecad.ALStatus, 0x06, s.ALStatusControl.StatusReg()},
		{ecad.ESIEEPROMInterface, 0x10, s.EEPROM.Reg()},
		{ecad.DCSystemTime, 0x08, s.DC.SystemTimeReg()},
		{ecad.DCSystemTimeDifference, 0x04, s.DC.DifferenceReg()},
	}

	return s
}

// NewProcessDataSlave returns a slave mapping outputLen output bytes at
// logical address start.
func NewProcessDataSlave(start uint32, outputLen uint16) *L2Slave {
	s := NewL2Slave()
	s.LogicalStart = start
	s.OutputLen = outputLen
	return s
}

// Detach removes the slave from the segment, frames pass it untouched.
func (s *L2Slave) Detach() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
}

// Attach undoes Detach.
func (s *L2Slave) Attach() {
	s.mu.Lock()
	s.detached = false
	s.mu.Unlock()
}

// SetALError puts the slave into state with the error flag and code set,
// as an ESC does on a local fault.
func (s *L2Slave) SetALError(state uint16, code uint16) {
	s.mu.Lock()
	s.ALStatusControl.Store = state&ecad.StateMask | ecad.StateErrorFlag
	s.ALStatusControl.Code = code
	s.mu.Unlock()
}

// SetALState forces the AL state, e.g. a watchdog dropping to SAFE_OP.
func (s *L2Slave) SetALState(state uint16) {
	s.mu.Lock()
	s.ALStatusControl.Store = state
	s.mu.Unlock()
}

func (s *L2Slave) ALState() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ALStatusControl.Store
}

// SetClockOffset shifts the local clock of the slave, the master has to
// compensate it through system time writes.
func (s *L2Slave) SetClockOffset(d time.Duration) {
	s.mu.Lock()
	s.DC.Offset = d
	s.mu.Unlock()
}

// SetClockDrift makes the local clock of the slave run fast by the given
// fraction.
func (s *L2Slave) SetClockDrift(drift float64) {
	s.mu.Lock()
	s.DC.Drift = drift
	s.mu.Unlock()
}

// ClockDifference returns the last measured deviation of the local clock
// from the reference clock.
func (s *L2Slave) ClockDifference() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DC.Difference
}

func (s *L2Slave) StationAddress() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return binary.LittleEndian.Uint16(s.BackingMemory[ecad.ConfiguredStationAddress:])
}

// Outputs returns a copy of the most recently received output process data.
func (s *L2Slave) Outputs() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := make([]byte, s.OutputLen)
	copy(o, s.BackingMemory[outputArea:])
	return o
}

// ProcessDataFrames counts frames whose process data reached this slave.
func (s *L2Slave) ProcessDataFrames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pdFrames
}

// Register returns a copy of n bytes of ESC memory at addr.
func (s *L2Slave) Register(addr uint16, n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := make([]byte, n)
	for i := range r {
		s.llread8p(addr+uint16(i), &r[i])
	}
	return r
}

// returns true if interaction happened
func (s *L2Slave) llread8p(addr uint16, dp *uint8) bool {
	if addr < regAreaLength {
		// register access
		if m, ok := s.blockAt(addr); ok {
			return m.block.Read(addr-m.start, dp)
		}
	}

	*dp = s.BackingMemory[addr]
	return true
}

// returns true if interaction happened.
func (s *L2Slave) llwrite8(addr uint16, d uint8) bool {
	if addr < regAreaLength {
		if m, ok := s.blockAt(addr); ok {
			s.shadow[addr] = d
			s.written[addr] = true
			return m.block.Writable(addr - m.start)
		}
	}

	// no support for sync managers so far
	s.BackingMemory[addr] = d
	return true
}

func (s *L2Slave) blockAt(addr uint16) (blockMapping, bool) {
	for _, m := range s.blocks {
		if m.contains(addr) {
			return m, true
		}
	}
	return blockMapping{}, false
}

func (s *L2Slave) ProcessFrame(infr *ecfr.Frame) (ofr *ecfr.Frame) {
	ofr = infr

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detached {
		return
	}

	for _, dg := range infr.Datagrams {
		dga := ecfr.DatagramAddressFromCommand(dg.Addr32, dg.Command)
		switch {
		case dga.IsPhysical():
			s.processPhysical(dg, dga)
		case dga.Type() == ecfr.Logical:
			s.processLogical(dg)
		}
	}

	// latch register shadow into registers
	s.latchRegs()
	// frame is processed

	return
}

func (s *L2Slave) processPhysical(dg *ecfr.Datagram, dga ecfr.DatagramAddress) {
	physaddressed := s.isPhysicallyAdressed(dga)
	dga.IncrementSlaveAddr()
	dg.Addr32 = dga.Addr32()

	ct := dg.Command
	physbase := dga.Offset()

	// read multiple write: the addressed slave reads, all others write
	if ct == ecfr.ARMW || ct == ecfr.FRMW {
		if physaddressed {
			for i := uint16(0); i < dg.DataLength(); i++ {
				s.llread8p(physbase+i, &(dg.Data()[i]))
			}
		} else {
			for i := uint16(0); i < dg.DataLength(); i++ {
				s.llwrite8(physbase+i, dg.Data()[i])
			}
		}
		dg.WorkingCounter++
		return
	}

	if !physaddressed {
		return
	}

	readUnmasked := true
	if ct.DoesRead() {
		for i := uint16(0); i < dg.DataLength(); i++ {
			var d uint8
			readUnmasked = s.llread8p(physbase+i, &d) && readUnmasked
			// broadcast reads deliver the OR over all slaves
			if dga.Type() == ecfr.Broadcast {
				dg.Data()[i] |= d
			} else {
				dg.Data()[i] = d
			}
		}
	}

	writeUnmasked := true
	if ct.DoesWrite() {
		for i := uint16(0); i < dg.DataLength(); i++ {
			writeUnmasked = s.llwrite8(physbase+i, dg.Data()[i]) && writeUnmasked
		}
	}

	// working counter update logic
	if ct.DoesRead() && ct.DoesWrite() {
		if readUnmasked {
			dg.WorkingCounter++
		}
		if writeUnmasked {
			dg.WorkingCounter += 2
		}
	} else if ct.DoesRead() {
		if readUnmasked {
			dg.WorkingCounter++
		}
	} else if ct.DoesWrite() {
		if writeUnmasked {
			dg.WorkingCounter++
		}
	}
}

func (s *L2Slave) processLogical(dg *ecfr.Datagram) {
	start := dg.LogicalAddr()
	end := start + uint32(dg.DataLength())

	ct := dg.Command
	wrote, read := false, false

	if s.OutputLen > 0 && ct.DoesWrite() && s.ALStatusControl.Store&ecad.StateMask == ecad.StateOp {
		ostart, oend := s.LogicalStart, s.LogicalStart+uint32(s.OutputLen)
		for a := max(start, ostart); a < min(end, oend); a++ {
			s.BackingMemory[outputArea+(a-ostart)] = dg.Data()[a-start]
			wrote = true
		}
	}

	if s.InputLen > 0 && ct.DoesRead() {
		istart := s.LogicalStart + uint32(s.OutputLen)
		iend := istart + uint32(s.InputLen)
		for a := max(start, istart); a < min(end, iend); a++ {
			dg.Data()[a-start] = s.BackingMemory[inputArea+(a-istart)]
			read = true
		}
	}

	if wrote {
		s.pdFrames++
		if ct.DoesRead() {
			dg.WorkingCounter += 2
		} else {
			dg.WorkingCounter++
		}
	}
	if read {
		dg.WorkingCounter++
	}
}

func (s *L2Slave) latchRegs() {
	for _, m := range s.blocks {
		end := m.start + m.length
		m.block.Latch(s.shadow[m.start:end], s.written[m.start:end])
		clear(s.written[m.start:end])
	}
}

func (s *L2Slave) isPhysicallyAdressed(addr ecfr.DatagramAddress) bool {
	switch addr.Type() {
	case ecfr.Broadcast:
		return true
	case ecfr.Positional:
		return addr.PositionOrAddress() == 0
	case ecfr.Fixed:
		station := binary.LittleEndian.Uint16(s.BackingMemory[ecad.ConfiguredStationAddress:])
		return station != 0 && addr.PositionOrAddress() == station
	}

	return false
}

func NewALStatusControl() *ALStatusControl {
	return &ALStatusControl{Store: ecad.StateInit}
}

type ALStatusControl struct {
	Store uint16
	Code  uint16
}

func (a *ALStatusControl) IsECATWritable() bool {
	return true
}

func (a *ALStatusControl) InError() bool {
	return (a.Store & ecad.StateErrorFlag) != 0
}

func (a *ALStatusControl) SetError(seterr bool) {
	if seterr {
		a.Store |= ecad.StateErrorFlag
	} else {
		a.Store &^= ecad.StateErrorFlag
		a.Code = 0
	}
}

type ALControl struct{ *ALStatusControl }

func (sc *ALStatusControl) ControlReg() ALControl { return ALControl{sc} }

func (c ALControl) Read(offs uint16, dp *uint8) bool {
	switch offs {
	case 0:
		*dp = uint8(c.Store)
	case 1:
		*dp = uint8(c.Store >> 8)
	default:
		panic("invalid mapping for ALControl exceeds possible length")
	}

	return true
}

func (c ALControl) Writable(offs uint16) bool {
	return c.IsECATWritable()
}

// a state request is refused while the error flag is set unless it
// acknowledges the error
func (c ALControl) Latch(shadow []byte, written []bool) {
	if !written[0] {
		return
	}
	ack := shadow[0]&ecad.StateErrorFlag != 0
	if c.InError() && !ack {
		return
	}
	c.Store &^= ecad.StateMask | ecad.StateErrorFlag
	c.Store |= uint16(shadow[0] & ecad.StateMask)
	if ack {
		c.Code = 0
	}
}

type ALStatus struct{ *ALStatusControl }

func (sc *ALStatusControl) StatusReg() ALStatus { return ALStatus{sc} }

func (s ALStatus) Read(offs uint16, dp *uint8) bool {
	switch offs {
	case 0:
		*dp = uint8(s.Store)
	case 1:
		*dp = uint8(s.Store >> 8)
	case 4:
		*dp = uint8(s.Code)
	case 5:
		*dp = uint8(s.Code >> 8)
	default:
		*dp = 0x00
	}
	return true
}

func (s ALStatus) Writable(offs uint16) bool {
	return false
}

func (s ALStatus) Latch(shadow []byte, written []bool) {}
