package ecfr

import "fmt"

type AddressType uint8

const (
	NoAddress AddressType = iota
	Positional
	Fixed
	Broadcast
	Logical
)

func (at AddressType) String() string {
	switch at {
	case Positional:
		return "positional"
	case Fixed:
		return "fixed"
	case Broadcast:
		return "broadcast"
	case Logical:
		return "logical"
	}
	return "none"
}

// DatagramAddress is the 32 bit address field of a datagram together with
// the addressing mode implied by its command. For physical modes the lower
// 16 bits address the slave and the upper 16 bits the ESC memory offset.
type DatagramAddress struct {
	typ    AddressType
	addr32 uint32
}

// PositionalAddress addresses the slave at position pos on the segment.
// Slaves increment the slave part while forwarding, the one seeing zero
// is addressed.
func PositionalAddress(pos uint16, offset uint16) DatagramAddress {
	return DatagramAddress{Positional, uint32(offset)<<16 | uint32(-int32(pos))&0xffff}
}

func FixedAddress(station uint16, offset uint16) DatagramAddress {
	return DatagramAddress{Fixed, uint32(offset)<<16 | uint32(station)}
}

func BroadcastAddress(offset uint16) DatagramAddress {
	return DatagramAddress{Broadcast, uint32(offset) << 16}
}

func LogicalAddress(addr uint32) DatagramAddress {
	return DatagramAddress{Logical, addr}
}

func DatagramAddressFromCommand(addr32 uint32, ct CommandType) DatagramAddress {
	return DatagramAddress{ct.AddressType(), addr32}
}

func (a DatagramAddress) Type() AddressType { return a.typ }
func (a DatagramAddress) Addr32() uint32    { return a.addr32 }

func (a DatagramAddress) IsPhysical() bool {
	return a.typ == Positional || a.typ == Fixed || a.typ == Broadcast
}

func (a DatagramAddress) PositionOrAddress() uint16 {
	return uint16(a.addr32)
}

func (a DatagramAddress) Offset() uint16 {
	return uint16(a.addr32 >> 16)
}

func (a *DatagramAddress) SetOffset(offset uint16) {
	if a.typ == Logical {
		panic("SetOffset on logical address")
	}
	a.addr32 = uint32(offset)<<16 | a.addr32&0xffff
}

// IncrementSlaveAddr performs the increment a slave applies while forwarding
// a positional or broadcast datagram.
func (a *DatagramAddress) IncrementSlaveAddr() {
	if a.typ != Positional && a.typ != Broadcast {
		return
	}
	a.addr32 = a.addr32&0xffff0000 | uint32(uint16(a.addr32)+1)
}

// ReadCommand returns the read command for the addressing mode.
func (a DatagramAddress) ReadCommand() CommandType {
	switch a.typ {
	case Positional:
		return APRD
	case Fixed:
		return FPRD
	case Broadcast:
		return BRD
	case Logical:
		return LRD
	}
	return NOP
}

// WriteCommand returns the write command for the addressing mode.
func (a DatagramAddress) WriteCommand() CommandType {
	switch a.typ {
	case Positional:
		return APWR
	case Fixed:
		return FPWR
	case Broadcast:
		return BWR
	case Logical:
		return LWR
	}
	return NOP
}

func (a DatagramAddress) String() string {
	if a.typ == Logical {
		return fmt.Sprintf("logical %#08x", a.addr32)
	}
	return fmt.Sprintf("%v %#04x:%#04x", a.typ, a.PositionOrAddress(), a.Offset())
}
