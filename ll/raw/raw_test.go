package raw

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distributed/ecatlink/ecad"
	"github.com/distributed/ecatlink/ecfr"
	"github.com/distributed/ecatlink/ecmd"
	"github.com/distributed/ecatlink/sim"
)

// segmentConn loops frames through simulated slaves. Like a NIC without
// PACKET_IGNORE_OUTGOING it also hands back the outgoing copy.
type segmentConn struct {
	slaves  []sim.FrameProcessor
	pending [][]byte
	sent    [][]byte
	drop    bool
}

func (c *segmentConn) send(b []byte) error {
	c.sent = append(c.sent, append([]byte(nil), b...))
	c.pending = append(c.pending, append([]byte(nil), b...))
	if c.drop {
		return nil
	}

	ef, err := ecfr.OverlayEthFrame(append(append([]byte(nil), b...), 0, 0, 0, 0))
	if err != nil {
		return err
	}
	fr := new(ecfr.Frame)
	if _, err = fr.Overlay(ef.Payload()); err != nil {
		return err
	}
	for _, s := range c.slaves {
		fr = s.ProcessFrame(fr)
	}
	if _, err = fr.Commit(); err != nil {
		return err
	}
	ef.Source[0] |= 0x02
	if err = ef.Encode(); err != nil {
		return err
	}
	c.pending = append(c.pending, ef.Bytes())
	return nil
}

func (c *segmentConn) recv(b []byte, timeout time.Duration) (int, error) {
	if len(c.pending) == 0 {
		return 0, errTimeout
	}
	p := c.pending[0]
	c.pending = c.pending[1:]
	return copy(b, p), nil
}

func (c *segmentConn) close() error { return nil }

func TestRawFramerRoundtrip(t *testing.T) {
	slave := sim.NewL2Slave()
	conn := &segmentConn{slaves: []sim.FrameProcessor{sim.NewL2Slave(), slave}}
	f := newRawFramer(conn, 10*time.Millisecond)
	cf := ecmd.NewCommandFramer(f)

	d, err := ecmd.ExecuteRead(cf, ecfr.PositionalAddress(1, ecad.Type), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0x00}, d)
	assert.EqualValues(t, 1, f.Foreign())

	require.Len(t, conn.sent, 1)
	sent := conn.sent[0]
	assert.Len(t, sent, 60, "short frames are padded to the Ethernet minimum")
	assert.Equal(t, ecfr.BroadcastEthAddr[:], sent[0:6])
	assert.Equal(t, ecfr.MasterEthAddr[:], sent[6:12])
	assert.Equal(t, []byte{0x88, 0xa4}, sent[12:14])
}

func TestRawFramerLoss(t *testing.T) {
	conn := &segmentConn{drop: true}
	f := newRawFramer(conn, time.Millisecond)
	cf := ecmd.NewCommandFramer(f)

	_, err := ecmd.ExecuteRead(cf, ecfr.BroadcastAddress(ecad.Type), 2, 1)
	assert.True(t, ecmd.IsNoFrame(err))
	assert.EqualValues(t, ecmd.DefaultFramelossTries, len(conn.sent))
}
