package ecmd

import (
	"errors"
	"sync"
)

var ErrMuxClosed = errors.New("multiplexer is closed")

// Multiplexer shares one Commander between the goroutine owning the cycle
// and any number of secondary commanders. The owner uses New and Cycle
// directly, secondary commanders obtained from OpenCommander queue their
// commands into the owner's next cycle and block in Cycle until it has run.
// The owner never waits for secondary commanders.
type Multiplexer struct {
	mu     sync.Mutex
	c      Commander
	cycles uint64
	done   chan struct{}

	lastErr error
	closed  bool
}

func NewMultiplexer(c Commander) *Multiplexer {
	return &Multiplexer{
		c:    c,
		done: make(chan struct{}),
	}
}

func (m *Multiplexer) New(datalen int) (*Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrMuxClosed
	}
	return m.c.New(datalen)
}

// Cycle runs the underlying cycle and releases every secondary commander
// whose commands it carried.
func (m *Multiplexer) Cycle() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMuxClosed
	}

	err := m.c.Cycle()
	m.cycles++
	m.lastErr = err
	close(m.done)
	m.done = make(chan struct{})

	return err
}

// Cycles returns the number of completed cycles.
func (m *Multiplexer) Cycles() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles
}

func (m *Multiplexer) OpenCommander() (Commander, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrMuxClosed
	}
	return &muxChannel{mux: m}, nil
}

// Close closes the underlying commander and wakes all waiting channels.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return m.c.Close()
}

// cycle bound channel
type muxChannel struct {
	mux *Multiplexer

	pending bool
	// the cycle that will carry the pending commands
	target uint64
}

// New hands out a command in the owner's open frame. The owner may send it
// as soon as the lock is released, so Execute goes through Fill.
func (mc *muxChannel) New(datalen int) (*Command, error) {
	return mc.Fill(Request{Len: datalen})
}

// Fill prepares the command for req under the multiplexer lock.
func (mc *muxChannel) Fill(req Request) (*Command, error) {
	m := mc.mux
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrMuxClosed
	}

	ec, err := req.newCommand(m.c)
	if err != nil {
		return nil, err
	}
	if !mc.pending {
		mc.pending = true
		mc.target = m.cycles + 1
	}
	return ec, nil
}

func (mc *muxChannel) Cycle() error {
	m := mc.mux
	m.mu.Lock()

	target := mc.target
	if !mc.pending {
		target = m.cycles + 1
	}
	mc.pending = false

	for m.cycles < target {
		if m.closed {
			m.mu.Unlock()
			return ErrMuxClosed
		}
		done := m.done
		m.mu.Unlock()
		<-done
		m.mu.Lock()
	}

	var err error
	if m.cycles == target {
		err = m.lastErr
	}
	m.mu.Unlock()
	return err
}

func (mc *muxChannel) Close() error {
	return nil
}
