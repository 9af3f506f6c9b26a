package ecmaster

import (
	"net"
	"strings"
	"time"

	"github.com/distributed/ecatlink/ecmd"
	"github.com/distributed/ecatlink/ll/raw"
	"github.com/distributed/ecatlink/ll/udp"
)

// Opener opens the transport for an interface name.
type Opener func(ifname string, timeout time.Duration) (ecmd.Framer, error)

// UDPPrefix selects EtherCAT over UDP. "udp:eth0" joins the multicast
// group on eth0, "udp:host:port" talks to a single gateway.
const UDPPrefix = "udp:"

// OpenTransport is the default Opener. Names without UDPPrefix are opened
// as raw Ethernet interfaces.
func OpenTransport(ifname string, timeout time.Duration) (ecmd.Framer, error) {
	rest, ok := strings.CutPrefix(ifname, UDPPrefix)
	if !ok {
		f, err := raw.Open(ifname, timeout)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	if _, _, err := net.SplitHostPort(rest); err != nil {
		f, err := udp.Open(rest, timeout)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	dst, err := net.ResolveUDPAddr("udp4", rest)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	return udp.NewUDPFramerConn(conn, dst, timeout), nil
}
