package ecfr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

const EtherTypeEtherCAT = 0x88a4

// Ethernet II sizes. Frame lengths exclude the FCS unless noted.
const (
	ethHeaderLen    = 6 + 6 + 2
	ethFCSLen       = 4
	ethMinFrameLen  = 60
	ethMaxFrameLen  = 1514
	ethMinBufferLen = ethMinFrameLen + ethFCSLen
)

type EthAddr [6]byte

var (
	BroadcastEthAddr = EthAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

	// locally administered source address in the style of SOEM. Slaves set
	// bit 1 of the first byte when they process a frame, which tells
	// returning frames apart from our own outgoing copies.
	MasterEthAddr = EthAddr{0x01, 0x01, 0x01, 0x01, 0x01, 0x01}
)

func (e EthAddr) String() string {
	return net.HardwareAddr(e[:]).String()
}

// Returned reports whether e is a master address that passed through a slave.
func (e EthAddr) Returned() bool {
	return e[0]&0x02 != 0
}

// EthFrame is an untagged Ethernet II frame over a byte buffer.
type EthFrame struct {
	Destination, Source EthAddr
	Type                uint16

	buf []byte
}

// OverlayEthFrame points an EthFrame to fb and decodes its header. The
// last 4 bytes are reserved for the FCS the NIC appends, the payload is
// sized to the remainder.
func OverlayEthFrame(fb []byte) (*EthFrame, error) {
	if len(fb) < ethMinBufferLen {
		return nil, fmt.Errorf("ethernet buffer of %d bytes too small, need at least %d", len(fb), ethMinBufferLen)
	}

	ef := &EthFrame{buf: fb[:len(fb)-ethFCSLen]}
	copy(ef.Destination[:], fb[0:6])
	copy(ef.Source[:], fb[6:12])
	ef.Type = binary.BigEndian.Uint16(fb[12:14])
	return ef, nil
}

// Bytes is the frame as it goes on the wire. Header bytes are only valid
// after Encode.
func (ef *EthFrame) Bytes() []byte { return ef.buf }

func (ef *EthFrame) Payload() []byte { return ef.buf[ethHeaderLen:] }

func (ef *EthFrame) SetPayloadLen(n int) error {
	l := ethHeaderLen + n
	switch {
	case l < ethMinFrameLen:
		return fmt.Errorf("payload of %d bytes too small, need at least %d", n, ethMinFrameLen-ethHeaderLen)
	case l > ethMaxFrameLen:
		return fmt.Errorf("payload of %d bytes too big, maximum is %d", n, ethMaxFrameLen-ethHeaderLen)
	case l > cap(ef.buf)-ethFCSLen:
		return fmt.Errorf("payload of %d bytes too big for buffer, room for %d", n, cap(ef.buf)-ethFCSLen-ethHeaderLen)
	}
	ef.buf = ef.buf[:l]
	return nil
}

// SetPaddedPayloadLen sets the payload length, padding up to the Ethernet
// minimum with zeros when n is shorter.
func (ef *EthFrame) SetPaddedPayloadLen(n int) error {
	minpl := ethMinFrameLen - ethHeaderLen
	if n >= minpl {
		return ef.SetPayloadLen(n)
	}
	if err := ef.SetPayloadLen(minpl); err != nil {
		return err
	}
	clear(ef.Payload()[n:])
	return nil
}

var errNoHeaderRoom = errors.New("ethernet buffer has no room for the header")

// Encode writes the header fields into the buffer.
func (ef *EthFrame) Encode() error {
	if len(ef.buf) < ethHeaderLen {
		return errNoHeaderRoom
	}
	copy(ef.buf[0:6], ef.Destination[:])
	copy(ef.buf[6:12], ef.Source[:])
	binary.BigEndian.PutUint16(ef.buf[12:14], ef.Type)
	return nil
}
