package ecfr

import (
	"errors"
)

const (
	// frame type for datagrams carried directly over Ethernet or UDP
	FrameTypeDatagrams = 1

	frameLengthMask = (1 << 11) - 1
)

type Header struct {
	Word   uint16
	buffer []byte
}

func (h *Header) Overlay(b []byte) ([]byte, error) {
	if len(b) < FrameOverheadLen {
		return b, errors.New("not enough bytes for header")
	}

	h.buffer = b
	h.Word = le.Uint16(b)
	return b[FrameOverheadLen:], nil
}

func (h *Header) FrameLength() uint16 {
	return h.Word & frameLengthMask
}

func (h *Header) setFrameLength(l uint16) {
	h.Word &^= frameLengthMask
	h.Word |= l & frameLengthMask
}

func (h *Header) Type() uint8 {
	return uint8(h.Word>>12) & 0x0f
}

func (h *Header) SetType(t uint8) {
	h.Word &^= 0xf000
	h.Word |= uint16(t&0x0f) << 12
}

func (h *Header) Commit() (d []byte, err error) {
	if len(h.buffer) < FrameOverheadLen {
		err = errors.New("header is not backed by a buffer")
		return
	}
	le.PutUint16(h.buffer, h.Word)
	d = h.buffer[:FrameOverheadLen]
	return
}
