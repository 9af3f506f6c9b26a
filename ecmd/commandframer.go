package ecmd

import (
	"github.com/distributed/ecatlink/ecfr"
)

// CommandFramerMaxDatagramsLen is the datagram space of a standard
// Ethernet frame.
const CommandFramerMaxDatagramsLen = 1470

// Framer is the link transport below the command layer: it hands out frame
// buffers and exchanges all frames obtained since the previous Cycle.
type Framer interface {
	New(maxdatalen int) (*ecfr.Frame, error)
	Cycle() ([]*ecfr.Frame, error)
}

// batch is a frame and the commands it carries, in datagram order.
type batch struct {
	frame *ecfr.Frame
	cmds  []*Command
}

func (b batch) matches(in *ecfr.Frame) bool {
	out := b.frame
	return len(in.Datagrams) == len(out.Datagrams) &&
		in.Datagrams[0].Index == out.Datagrams[0].Index &&
		int(in.Header.FrameLength()) == out.ByteLen()-ecfr.FrameOverheadLen
}

// resolve attaches the datagrams of in to the waiting commands.
func (b batch) resolve(in *ecfr.Frame) {
	for i, c := range b.cmds {
		if c.Arrived {
			continue
		}
		c.Arrived = true

		dg := in.Datagrams[i]
		if dg.Command != c.Out.Command || dg.DataLength() != c.Out.DataLength() {
			c.Err = ErrMismatch
			continue
		}
		c.In = dg
		c.Overlayed = true
		c.Err = nil
	}
}

// CommandFramer packs commands into as few frames as possible and matches
// returning frames to the commands they carried. All datagrams of one frame
// share an index.
type CommandFramer struct {
	framer Framer

	index uint8
	open  *batch
	sent  []batch
}

func NewCommandFramer(framer Framer) *CommandFramer {
	return &CommandFramer{framer: framer}
}

func (cf *CommandFramer) New(datalen int) (*Command, error) {
	if datalen+ecfr.DatagramOverheadLength > CommandFramerMaxDatagramsLen {
		return nil, ErrTooLong
	}

	if cf.open != nil && datalen > cf.open.frame.Free() {
		cf.seal()
	}
	if cf.open == nil {
		fr, err := cf.framer.New(CommandFramerMaxDatagramsLen)
		if err != nil {
			return nil, err
		}
		cf.open = &batch{frame: fr}
	}

	dg, err := cf.open.frame.NewDatagram(datalen)
	if err != nil {
		return nil, err
	}
	dg.Index = cf.index

	c := &Command{Out: dg}
	cf.open.cmds = append(cf.open.cmds, c)
	return c, nil
}

// seal queues the open frame for the next Cycle.
func (cf *CommandFramer) seal() {
	if b := cf.open; b != nil && len(b.cmds) > 0 {
		cf.sent = append(cf.sent, *b)
		cf.index++
	}
	cf.open = nil
}

// Cycle sends all pending frames and resolves their commands. Commands
// whose frame did not come back keep Arrived == false.
func (cf *CommandFramer) Cycle() error {
	cf.seal()
	sent := cf.sent
	cf.sent = nil

	in, err := cf.framer.Cycle()
	if err != nil {
		return err
	}

	for _, fr := range in {
		if len(fr.Datagrams) == 0 {
			continue
		}
		for _, b := range sent {
			if b.matches(fr) {
				b.resolve(fr)
				break
			}
		}
	}
	return nil
}

func (cf *CommandFramer) Close() error {
	if c, ok := cf.framer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
