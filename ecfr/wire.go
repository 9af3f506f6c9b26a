package ecfr

import "encoding/binary"

// EtherCAT is little endian on the wire, the Ethernet header is not.
var le = binary.LittleEndian

// datagram header layout
const (
	offCommand   = 0
	offIndex     = 1
	offAddr      = 2
	offLenWord   = 6
	offInterrupt = 8
)

func (dh *DatagramHeader) decode(b []byte) {
	dh.Command = CommandType(b[offCommand])
	dh.Index = b[offIndex]
	dh.Addr32 = le.Uint32(b[offAddr:])
	dh.LenWord = le.Uint16(b[offLenWord:])
	dh.Interrupt = le.Uint16(b[offInterrupt:])
}

func (dh *DatagramHeader) encode(b []byte) {
	b[offCommand] = uint8(dh.Command)
	b[offIndex] = dh.Index
	le.PutUint32(b[offAddr:], dh.Addr32)
	le.PutUint16(b[offLenWord:], dh.LenWord)
	le.PutUint16(b[offInterrupt:], dh.Interrupt)
}
