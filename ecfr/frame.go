package ecfr

import (
	"errors"
	"fmt"
	"strings"
)

const (
	FrameOverheadLen = 2

	// datagram bytes fitting a single untagged Ethernet frame
	MaxDatagramsLen = 1498
)

var (
	ErrNoDatagrams  = errors.New("ecat frame needs at least one datagram")
	ErrShortFrame   = errors.New("buffer too small to even contain frame header")
	ErrUnterminated = errors.New("frame ended before last datagram")
)

// Frame is an EtherCAT frame laid over a byte buffer. Datagrams point into
// the same buffer, so data written to them needs no copy on Commit.
type Frame struct {
	Header    Header
	Datagrams []*Datagram
	buffer    []byte
}

// PointFrameTo prepares an empty frame writing into d.
func PointFrameTo(d []byte) (f Frame, err error) {
	if len(d) < FrameOverheadLen {
		return f, ErrShortFrame
	}
	clear(d[:FrameOverheadLen])
	if _, err = f.Header.Overlay(d); err != nil {
		return
	}
	f.buffer = d
	return
}

// Overlay parses a received frame from d and returns what follows it.
func (f *Frame) Overlay(d []byte) ([]byte, error) {
	body, err := f.Header.Overlay(d)
	if err != nil {
		return nil, err
	}

	n := int(f.Header.FrameLength())
	if n > len(body) {
		return nil, fmt.Errorf("frame expected %d bytes, only have %d", n, len(body))
	}
	rest := body[n:]
	body = body[:n]

	f.Datagrams = f.Datagrams[:0]
	for last := false; !last; {
		if len(body) == 0 {
			return nil, ErrUnterminated
		}
		dg := new(Datagram)
		if body, err = dg.Overlay(body); err != nil {
			return nil, err
		}
		f.Datagrams = append(f.Datagrams, dg)
		last = dg.Last()
	}

	f.buffer = d[:FrameOverheadLen+n]
	return rest, nil
}

// Commit writes header and datagram headers into the buffer and returns
// the encoded frame.
func (f *Frame) Commit() ([]byte, error) {
	if len(f.Datagrams) == 0 {
		return nil, ErrNoDatagrams
	}

	n := f.ByteLen()
	if n > len(f.buffer) {
		return nil, fmt.Errorf("datagrams too long for frame, need %d, have %d", n, len(f.buffer))
	}

	f.Header.setFrameLength(uint16(n - FrameOverheadLen))
	if _, err := f.Header.Commit(); err != nil {
		return nil, err
	}
	for _, dg := range f.Datagrams {
		if _, err := dg.Commit(); err != nil {
			return nil, err
		}
	}
	return f.buffer[:n], nil
}

func (f *Frame) ByteLen() int {
	n := FrameOverheadLen
	for _, dg := range f.Datagrams {
		n += dg.ByteLen()
	}
	return n
}

// Free returns the number of data bytes a further datagram could carry.
func (f *Frame) Free() int {
	return max(len(f.buffer)-f.ByteLen()-DatagramOverheadLength, 0)
}

// NewDatagram appends a datagram with datalen data bytes and marks it as
// the last one.
func (f *Frame) NewDatagram(datalen int) (*Datagram, error) {
	if free := f.Free(); datalen > free {
		return nil, fmt.Errorf("datalen %d too high, frame has room for %d", datalen, free)
	}

	dg, err := PointDatagramTo(f.buffer[f.ByteLen():])
	if err != nil {
		return nil, err
	}
	if err = dg.SetDataLen(datalen); err != nil {
		return nil, err
	}

	if n := len(f.Datagrams); n > 0 {
		f.Datagrams[n-1].SetLast(false)
	}
	dg.SetLast(true)
	f.Datagrams = append(f.Datagrams, &dg)
	return &dg, nil
}

func (f *Frame) MultilineSummary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ecat frame type %d len %d\n", f.Header.Type(), f.ByteLen())
	for _, dg := range f.Datagrams {
		fmt.Fprintf(&sb, "  %s\n", dg.Summary())
	}
	return sb.String()
}
