//go:build linux

package raw

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/distributed/ecatlink/ecfr"
)

type packetSocket struct {
	fd      int
	timeout time.Duration
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }

// Open binds a packet socket to ifname. Opening requires CAP_NET_RAW,
// errors satisfy errors.Is(err, os.ErrPermission) when it is missing.
func Open(ifname string, timeout time.Duration) (*RawFramer, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(htons(ecfr.EtherTypeEtherCAT)))
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	ps := &packetSocket{fd: fd}
	err = ps.setup(iface)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	return newRawFramer(ps, timeout), nil
}

func (ps *packetSocket) setup(iface *net.Interface) error {
	sll := &unix.SockaddrLinklayer{
		Protocol: htons(ecfr.EtherTypeEtherCAT),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(ps.fd, sll); err != nil {
		return os.NewSyscallError("bind", err)
	}

	// slaves return frames to the broadcast address
	mreq := &unix.PacketMreq{Ifindex: int32(iface.Index), Type: unix.PACKET_MR_PROMISC}
	if err := unix.SetsockoptPacketMreq(ps.fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, mreq); err != nil {
		return os.NewSyscallError("setsockopt PACKET_ADD_MEMBERSHIP", err)
	}

	// not available before Linux 4.20, Returned() filters our copies anyway
	_ = unix.SetsockoptInt(ps.fd, unix.SOL_PACKET, unix.PACKET_IGNORE_OUTGOING, 1)
	return nil
}

func (ps *packetSocket) send(b []byte) error {
	_, err := unix.Write(ps.fd, b)
	if err != nil {
		return os.NewSyscallError("write", err)
	}
	return nil
}

func (ps *packetSocket) recv(b []byte, timeout time.Duration) (int, error) {
	if timeout != ps.timeout {
		tv := unix.NsecToTimeval(max(timeout, time.Microsecond).Nanoseconds())
		if err := unix.SetsockoptTimeval(ps.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return 0, os.NewSyscallError("setsockopt SO_RCVTIMEO", err)
		}
		ps.timeout = timeout
	}

	for {
		n, _, err := unix.Recvfrom(ps.fd, b, 0)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, errTimeout
		case err != nil:
			return 0, os.NewSyscallError("recvfrom", err)
		}
		return n, nil
	}
}

func (ps *packetSocket) close() error {
	return unix.Close(ps.fd)
}

// Probe checks whether packet sockets can be opened.
func Probe() error {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("opening packet socket: %w", os.NewSyscallError("socket", err))
	}
	return unix.Close(fd)
}
