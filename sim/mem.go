package sim

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/distributed/ecatlink/ecfr"
)

const maxDatagramsLen = 1470

// L2Bus is an in-process segment. It implements ecmd.Framer: frames handed
// out by New pass through every slave in order when Cycle is called.
type L2Bus struct {
	mu      sync.Mutex
	oframes []*ecfr.Frame
	closed  bool

	Slaves []FrameProcessor

	frames atomic.Uint64
}

func NewL2Bus(slaves ...FrameProcessor) *L2Bus {
	return &L2Bus{Slaves: slaves}
}

func (b *L2Bus) New(maxdatalen int) (*ecfr.Frame, error) {
	fr, err := ecfr.PointFrameTo(make([]byte, maxDatagramsLen+ecfr.FrameOverheadLen))
	if err != nil {
		return nil, err
	}
	fr.Header.SetType(ecfr.FrameTypeDatagrams)

	b.mu.Lock()
	b.oframes = append(b.oframes, &fr)
	b.mu.Unlock()
	return &fr, nil
}

// Cycle sends every frame around the segment. Frames a slave swallows do
// not come back.
func (b *L2Bus) Cycle() ([]*ecfr.Frame, error) {
	b.mu.Lock()
	out, closed := b.oframes, b.closed
	b.oframes = nil
	b.mu.Unlock()

	if closed {
		return nil, ErrBusClosed
	}

	var in []*ecfr.Frame
	for _, fr := range out {
		back, err := b.pass(fr)
		if err != nil {
			return in, err
		}
		if back != nil {
			in = append(in, back)
		}
		b.frames.Add(1)
	}
	return in, nil
}

// pass sends a copy of fr through all slaves.
func (b *L2Bus) pass(fr *ecfr.Frame) (*ecfr.Frame, error) {
	wire, err := fr.Commit()
	if err != nil {
		return nil, err
	}

	cur := new(ecfr.Frame)
	if _, err := cur.Overlay(bytes.Clone(wire)); err != nil {
		return nil, err
	}
	for _, s := range b.Slaves {
		if cur = s.ProcessFrame(cur); cur == nil {
			return nil, nil
		}
	}
	return cur, nil
}

// Frames returns the number of frames that went around the segment.
func (b *L2Bus) Frames() uint64 { return b.frames.Load() }

func (b *L2Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.oframes = nil
	return nil
}
