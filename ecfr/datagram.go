package ecfr

import (
	"errors"
	"fmt"
)

const (
	datagramHeaderByteLen = 10
	workingCounterByteLen = 2

	DatagramOverheadLength = datagramHeaderByteLen + workingCounterByteLen

	// maximum data bytes the 11 bit length field can describe
	MaxDatagramDataLen = (1 << 11) - 1
)

type Datagram struct {
	DatagramHeader
	WorkingCounter uint16

	data   []byte
	buffer []byte
}

// PointDatagramTo prepares an empty datagram writing into d.
func PointDatagramTo(d []byte) (dg Datagram, err error) {
	if len(d) < DatagramOverheadLength {
		err = fmt.Errorf("need %d bytes for an empty datagram, have %d", DatagramOverheadLength, len(d))
		return
	}

	dg.buffer = d
	dg.data = d[datagramHeaderByteLen:datagramHeaderByteLen]
	return
}

func (dg *Datagram) Overlay(d []byte) (b []byte, err error) {
	b, err = dg.DatagramHeader.Overlay(d)
	if err != nil {
		return
	}

	if len(b) < int(dg.DataLength()) {
		err = fmt.Errorf("overlaying ecat dgram: need %d bytes of data, have %d", dg.DataLength(), len(b))
		return
	}

	dg.data = b[:dg.DataLength()]
	b = b[dg.DataLength():]

	if len(b) < workingCounterByteLen {
		err = fmt.Errorf("overlaying ecat dgram: need 2 bytes for working counter, got %d", len(b))
		return
	}

	dg.WorkingCounter = le.Uint16(b)
	b = b[workingCounterByteLen:]
	dg.buffer = d[:dg.ByteLen()]
	return
}

func (dg *Datagram) Data() []byte {
	return dg.data
}

// SetDataLen resizes the data area. Bytes already present stay in place.
func (dg *Datagram) SetDataLen(n int) error {
	if n < 0 || n > MaxDatagramDataLen {
		return fmt.Errorf("datagram data length %d out of range", n)
	}
	if n+DatagramOverheadLength > len(dg.buffer) {
		return fmt.Errorf("datagram buffer holds %d data bytes, %d requested", len(dg.buffer)-DatagramOverheadLength, n)
	}

	dg.LenWord &^= dataLengthMask
	dg.LenWord |= uint16(n)
	dg.data = dg.buffer[datagramHeaderByteLen : datagramHeaderByteLen+n]
	return nil
}

func (dg *Datagram) SetLast(last bool) {
	if last {
		dg.LenWord &^= 1 << lastindicatorBit
	} else {
		dg.LenWord |= 1 << lastindicatorBit
	}
}

func (dg *Datagram) ByteLen() int {
	return DatagramOverheadLength + int(dg.DataLength())
}

func (dg *Datagram) Commit() (d []byte, err error) {
	if dg.buffer == nil {
		err = errors.New("datagram is not backed by a buffer")
		return
	}
	l := dg.ByteLen()
	if l > len(dg.buffer) {
		err = fmt.Errorf("datagram needs %d bytes, buffer has %d", l, len(dg.buffer))
		return
	}

	dg.DatagramHeader.encode(dg.buffer)
	// data is written in place
	le.PutUint16(dg.buffer[l-workingCounterByteLen:], dg.WorkingCounter)

	d = dg.buffer[:l]
	return
}

func (dg *Datagram) Summary() string {
	dga := DatagramAddressFromCommand(dg.Addr32, dg.Command)
	return fmt.Sprintf("%v idx %d %v len %d wkc %d last %v", dg.Command, dg.Index, dga, dg.DataLength(), dg.WorkingCounter, dg.Last())
}

type DatagramHeader struct {
	Command   CommandType
	Index     uint8
	Addr32    uint32
	LenWord   uint16
	Interrupt uint16
}

func (dh *DatagramHeader) Overlay(d []byte) (b []byte, err error) {
	b = d
	if len(b) < datagramHeaderByteLen {
		err = fmt.Errorf("need %d bytes for dgram header, have %d", datagramHeaderByteLen, len(b))
		return
	}

	dh.decode(b)
	b = b[datagramHeaderByteLen:]
	return
}

func (dh *DatagramHeader) SlaveAddr() uint16 {
	return uint16(dh.Addr32)
}

func (dh *DatagramHeader) OffsetAddr() uint16 {
	return uint16(dh.Addr32 >> 16)
}

func (dh *DatagramHeader) LogicalAddr() uint32 {
	return dh.Addr32
}

func (dh *DatagramHeader) DataLength() uint16 {
	return dh.LenWord & dataLengthMask
}

func (dh *DatagramHeader) Roundtrip() bool {
	return (dh.LenWord & (1 << roundtripBit)) != 0
}

func (dh *DatagramHeader) Last() bool {
	return (dh.LenWord & (1 << lastindicatorBit)) == 0
}

const (
	dataLengthMask   = (1 << 11) - 1
	roundtripBit     = 14
	lastindicatorBit = 15
)

type CommandType uint8

func (ct CommandType) String() string {
	if cts, ok := commandTypeName[ct]; ok {
		return cts
	}
	return fmt.Sprintf("CommandType(%d)", uint(ct))
}

func (ct CommandType) DoesRead() bool {
	switch ct {
	case APRD, APRW, FPRD, FPRW, BRD, BRW, LRD, LRW, ARMW, FRMW:
		return true
	}
	return false
}

func (ct CommandType) DoesWrite() bool {
	switch ct {
	case APWR, APRW, FPWR, FPRW, BWR, BRW, LWR, LRW, ARMW, FRMW:
		return true
	}
	return false
}

func (ct CommandType) AddressType() AddressType {
	switch ct {
	case APRD, APWR, APRW, ARMW:
		return Positional
	case FPRD, FPWR, FPRW, FRMW:
		return Fixed
	case BRD, BWR, BRW:
		return Broadcast
	case LRD, LWR, LRW:
		return Logical
	}
	return NoAddress
}

const (
	NOP  CommandType = 0
	APRD CommandType = 1
	APWR CommandType = 2
	APRW CommandType = 3
	FPRD CommandType = 4
	FPWR CommandType = 5
	FPRW CommandType = 6
	BRD  CommandType = 7
	BWR  CommandType = 8
	BRW  CommandType = 9
	LRD  CommandType = 10
	LWR  CommandType = 11
	LRW  CommandType = 12
	ARMW CommandType = 13
	FRMW CommandType = 14
)

var commandTypeName = map[CommandType]string{
	NOP:  "NOP",
	APRD: "APRD",
	APWR: "APWR",
	APRW: "APRW",
	FPRD: "FPRD",
	FPWR: "FPWR",
	FPRW: "FPRW",
	BRD:  "BRD",
	BWR:  "BWR",
	BRW:  "BRW",
	LRD:  "LRD",
	LWR:  "LWR",
	LRW:  "LRW",
	ARMW: "ARMW",
	FRMW: "FRMW",
}
