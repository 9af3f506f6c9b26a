// Package raw sends EtherCAT frames directly in Ethernet frames of type
// 0x88a4 on a network interface.
package raw

import (
	"errors"
	"time"

	"github.com/distributed/ecatlink/ecfr"
)

const (
	// payload capacity of an untagged frame, FCS room included
	ethBuflen = 1514 + 4
)

var errTimeout = errors.New("raw: receive timeout")

// ErrUnsupported is returned by Open on systems without packet sockets.
var ErrUnsupported = errors.New("raw: packet sockets are not supported on this system")

// packetConn moves whole Ethernet frames.
type packetConn interface {
	send(b []byte) error
	// recv returns errTimeout when nothing arrived within timeout.
	recv(b []byte, timeout time.Duration) (int, error)
	close() error
}

type outgoingFrame struct {
	eth   *ecfr.EthFrame
	frame *ecfr.Frame
}

type RawFramer struct {
	conn    packetConn
	timeout time.Duration
	oframes []outgoingFrame

	// frames that arrived but were not ours, e.g. from other masters
	foreign uint64
}

func newRawFramer(conn packetConn, timeout time.Duration) *RawFramer {
	return &RawFramer{conn: conn, timeout: timeout}
}

func (f *RawFramer) New(maxdatalen int) (*ecfr.Frame, error) {
	ef, err := ecfr.OverlayEthFrame(make([]byte, ethBuflen))
	if err != nil {
		return nil, err
	}
	ef.Destination = ecfr.BroadcastEthAddr
	ef.Source = ecfr.MasterEthAddr
	ef.Type = ecfr.EtherTypeEtherCAT

	fr, err := ecfr.PointFrameTo(ef.Payload())
	if err != nil {
		return nil, err
	}
	fr.Header.SetType(ecfr.FrameTypeDatagrams)

	f.oframes = append(f.oframes, outgoingFrame{ef, &fr})
	return &fr, nil
}

// Cycle transmits all frames created since the last cycle and collects
// returning frames until all came back or the timeout expired.
func (f *RawFramer) Cycle() (iframes []*ecfr.Frame, err error) {
	oframes := f.oframes
	f.oframes = nil

	for _, of := range oframes {
		var d []byte
		d, err = of.frame.Commit()
		if err != nil {
			return
		}
		err = of.eth.SetPaddedPayloadLen(len(d))
		if err != nil {
			return
		}
		err = of.eth.Encode()
		if err != nil {
			return
		}
		err = f.conn.send(of.eth.Bytes())
		if err != nil {
			return
		}
	}

	if len(oframes) == 0 {
		return
	}

	deadline := time.Now().Add(f.timeout)
	for len(iframes) < len(oframes) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		rbuf := make([]byte, ethBuflen)
		var n int
		n, err = f.conn.recv(rbuf, remaining)
		if errors.Is(err, errTimeout) {
			err = nil
			break
		}
		if err != nil {
			return
		}

		fr := f.parse(rbuf, n)
		if fr != nil {
			iframes = append(iframes, fr)
		}
	}

	return
}

func (f *RawFramer) parse(rbuf []byte, n int) *ecfr.Frame {
	// received frames carry no FCS, leave the room OverlayEthFrame expects
	if n+4 > len(rbuf) {
		return nil
	}
	ef, err := ecfr.OverlayEthFrame(rbuf[:n+4])
	if err != nil {
		return nil
	}
	if ef.Type != ecfr.EtherTypeEtherCAT || !ef.Source.Returned() {
		f.foreign++
		return nil
	}

	fr := new(ecfr.Frame)
	if _, err = fr.Overlay(ef.Payload()); err != nil {
		f.foreign++
		return nil
	}
	return fr
}

// Foreign returns the number of received frames that were discarded.
func (f *RawFramer) Foreign() uint64 { return f.foreign }

func (f *RawFramer) Close() error {
	if f.conn == nil {
		return nil
	}
	err := f.conn.close()
	f.conn = nil
	return err
}
