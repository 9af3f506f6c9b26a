// Package udp carries EtherCAT frames in UDP datagrams (EtherCAT type 12
// over UDP port 0x88a4), either to a multicast group on an interface or to
// a single unicast peer.
package udp

import (
	"errors"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/distributed/ecatlink/ecfr"
)

const (
	EthercatUDPPort = 0x88a4
)

const (
	udpReceiveBuflen = 1500
	maxDatagramsLen  = 1470
)

// DefaultGroup is the multicast group used when none is given.
var DefaultGroup = net.IPv4(239, 255, 0x88, 0xa4)

type UDPFramer struct {
	oframes []*ecfr.Frame

	sock    net.PacketConn
	mcsock  *ipv4.PacketConn
	dst     net.Addr
	timeout time.Duration
}

func NewUDPFramer(iface *net.Interface, group net.IP, timeout time.Duration) (f *UDPFramer, err error) {
	laddr := &net.UDPAddr{IP: net.IPv4zero, Port: EthercatUDPPort}

	sock, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return
	}

	f = &UDPFramer{
		sock:    sock,
		dst:     &net.UDPAddr{IP: group, Port: EthercatUDPPort},
		timeout: timeout,
	}
	f.mcsock = ipv4.NewPacketConn(sock)

	defer func() {
		if err != nil {
			f.Close()
			f = nil
		}
	}()

	err = f.mcsock.SetMulticastInterface(iface)
	if err != nil {
		return
	}

	err = f.mcsock.JoinGroup(iface, &net.UDPAddr{IP: group})
	if err != nil {
		return
	}

	err = f.mcsock.SetMulticastLoopback(false)
	return
}

// NewUDPFramerConn sends frames over conn to dst. It is used for unicast
// peers such as gateways and simulated segments.
func NewUDPFramerConn(conn net.PacketConn, dst net.Addr, timeout time.Duration) *UDPFramer {
	return &UDPFramer{sock: conn, dst: dst, timeout: timeout}
}

// Open resolves ifname and joins DefaultGroup on it.
func Open(ifname string, timeout time.Duration) (*UDPFramer, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, err
	}
	return NewUDPFramer(iface, DefaultGroup, timeout)
}

func (f *UDPFramer) New(maxdatalen int) (fr *ecfr.Frame, err error) {
	var vframe ecfr.Frame
	buf := make([]byte, maxDatagramsLen+ecfr.FrameOverheadLen)
	vframe, err = ecfr.PointFrameTo(buf)
	if err != nil {
		return
	}

	vframe.Header.SetType(ecfr.FrameTypeDatagrams)

	fr = &vframe
	f.oframes = append(f.oframes, fr)
	return
}

// Cycle sends all frames created since the last cycle and collects replies
// until as many frames came back or the timeout expired.
func (f *UDPFramer) Cycle() (iframes []*ecfr.Frame, err error) {
	oframes := f.oframes
	f.oframes = nil

	var obytes []byte
	for _, oframe := range oframes {
		obytes, err = oframe.Commit()
		if err != nil {
			return
		}

		if _, err = f.sock.WriteTo(obytes, f.dst); err != nil {
			if !droppedSend(err) {
				return
			}
			err = nil
		}
	}

	if len(oframes) == 0 {
		return
	}

	err = f.sock.SetReadDeadline(time.Now().Add(f.timeout))
	if err != nil {
		return
	}

	for len(iframes) < len(oframes) {
		rbuf := make([]byte, udpReceiveBuflen)

		var n int
		n, _, err = f.sock.ReadFrom(rbuf)
		if isTimeout(err) {
			err = nil
			break
		}
		if err != nil {
			return
		}

		var fr ecfr.Frame
		_, err = fr.Overlay(rbuf[0:n])
		if err != nil {
			// discard malformed frames
			err = nil
			continue
		}

		iframes = append(iframes, &fr)
	}

	return
}

func (f *UDPFramer) Close() error {
	if f.mcsock != nil {
		f.mcsock.Close()
		f.mcsock = nil
		f.sock = nil
	}
	if f.sock != nil {
		err := f.sock.Close()
		f.sock = nil
		return err
	}
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
