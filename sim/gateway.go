package sim

import (
	"errors"
	"net"

	"github.com/distributed/ecatlink/ecfr"
)

// Gateway answers EtherCAT-over-UDP frames arriving on conn by passing them
// through the slaves, like a UDP gateway in front of a real segment.
type Gateway struct {
	conn   net.PacketConn
	slaves []FrameProcessor
}

func NewGateway(conn net.PacketConn, slaves ...FrameProcessor) *Gateway {
	return &Gateway{conn: conn, slaves: slaves}
}

func (g *Gateway) Addr() net.Addr { return g.conn.LocalAddr() }

// Serve runs until the connection is closed.
func (g *Gateway) Serve() error {
	buf := make([]byte, 1500)
	for {
		n, from, err := g.conn.ReadFrom(buf)
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		fr := new(ecfr.Frame)
		if _, err = fr.Overlay(buf[:n]); err != nil {
			continue
		}

		for _, slave := range g.slaves {
			fr = slave.ProcessFrame(fr)
			if fr == nil {
				break
			}
		}
		if fr == nil {
			continue
		}

		obytes, err := fr.Commit()
		if err != nil {
			continue
		}
		if _, err = g.conn.WriteTo(obytes, from); err != nil && errors.Is(err, net.ErrClosed) {
			return nil
		}
	}
}

func (g *Gateway) Close() error {
	return g.conn.Close()
}
