// Package ecmd turns single EtherCAT commands into datagrams, batches them
// into frames and checks what comes back.
package ecmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/distributed/ecatlink/ecfr"
)

// Commander hands out commands and executes everything handed out since
// the last Cycle in one exchange.
type Commander interface {
	New(datalen int) (*Command, error)
	Cycle() error
	Close() error
}

// Command is one datagram on its way out and, after Cycle, its reply.
type Command struct {
	Out *ecfr.Datagram
	In  *ecfr.Datagram

	Arrived   bool
	Overlayed bool
	Err       error
}

// Address sets the command type and the 32 bit address of the outgoing
// datagram.
func (c *Command) Address(ct ecfr.CommandType, addr32 uint32) {
	c.Out.Command = ct
	c.Out.Addr32 = addr32
}

// Result tells whether a usable reply arrived.
func (c *Command) Result() error {
	switch {
	case !c.Arrived:
		return ErrNoFrame
	case !c.Overlayed:
		return ErrNoOverlay
	}
	return c.Err
}

// CheckWKC compares the reply's working counter to want.
func (c *Command) CheckWKC(want uint16) error {
	if have := c.In.WorkingCounter; have != want {
		return WorkingCounterError{
			Command: c.Out.Command,
			Addr32:  c.Out.Addr32,
			Want:    want,
			Have:    have,
		}
	}
	return nil
}

var (
	ErrNoFrame   = errors.New("frame did not arrive")
	ErrNoOverlay = errors.New("failed to overlay")
	ErrMismatch  = errors.New("returning datagram does not match the one sent")
	ErrTooLong   = errors.New("datalen exceeds maximum datagram length")
)

type WorkingCounterError struct {
	Command    ecfr.CommandType
	Addr32     uint32
	Want, Have uint16
}

func (e WorkingCounterError) Error() string {
	return fmt.Sprintf("working counter error on %v %#08x: want %d, have %d",
		e.Command, e.Addr32, e.Want, e.Have)
}

func IsNoFrame(err error) bool { return errors.Is(err, ErrNoFrame) }

func IsWorkingCounterError(err error) bool {
	var wce WorkingCounterError
	return errors.As(err, &wce)
}

const DefaultFramelossTries = 3

type retryPolicy struct {
	framelossTries int
	wcDeadline     time.Time
}

// Option adjusts how Execute retries.
type Option func(*retryPolicy)

// WithFramelossTries sets how many times a lost frame is sent.
func WithFramelossTries(n int) Option {
	return func(p *retryPolicy) {
		if n > 0 {
			p.framelossTries = n
		}
	}
}

// WithWCDeadline repeats commands with a wrong working counter until t.
func WithWCDeadline(t time.Time) Option {
	return func(p *retryPolicy) { p.wcDeadline = t }
}

// Request describes a single command for Execute.
type Request struct {
	Command ecfr.CommandType
	Addr32  uint32
	// Data initializes the first bytes of the datagram.
	Data []byte
	Len  int
	WKC  uint16
}

// Filler is implemented by commanders whose frames another goroutine may
// send at any time. Fill returns the command already set up for req.
type Filler interface {
	Fill(req Request) (*Command, error)
}

func (req Request) newCommand(c Commander) (*Command, error) {
	cmd, err := c.New(req.Len)
	if err != nil {
		return nil, err
	}
	if err := cmd.Out.SetDataLen(req.Len); err != nil {
		return nil, err
	}
	copy(cmd.Out.Data(), req.Data)
	cmd.Address(req.Command, req.Addr32)
	return cmd, nil
}

func ExecuteRead(c Commander, addr ecfr.DatagramAddress, n int, wkc uint16, opts ...Option) ([]byte, error) {
	return Execute(c, Request{
		Command: addr.ReadCommand(),
		Addr32:  addr.Addr32(),
		Len:     n,
		WKC:     wkc,
	}, opts...)
}

func ExecuteWrite(c Commander, addr ecfr.DatagramAddress, w []byte, wkc uint16, opts ...Option) error {
	_, err := Execute(c, Request{
		Command: addr.WriteCommand(),
		Addr32:  addr.Addr32(),
		Data:    w,
		Len:     len(w),
		WKC:     wkc,
	}, opts...)
	return err
}

// Execute cycles c until the request comes back. On a working counter
// mismatch the returned data is valid and the error is a
// WorkingCounterError.
func Execute(c Commander, req Request, opts ...Option) ([]byte, error) {
	p := retryPolicy{framelossTries: DefaultFramelossTries}
	for _, o := range opts {
		o(&p)
	}

	for lost := 0; ; {
		var (
			cmd *Command
			err error
		)
		if f, ok := c.(Filler); ok {
			cmd, err = f.Fill(req)
		} else {
			cmd, err = req.newCommand(c)
		}
		if err != nil {
			return nil, err
		}

		if err := c.Cycle(); err != nil {
			return nil, err
		}

		if err := cmd.Result(); err != nil {
			if IsNoFrame(err) {
				if lost++; lost < p.framelossTries {
					continue
				}
			}
			return nil, err
		}

		err = cmd.CheckWKC(req.WKC)
		if err != nil && time.Now().Before(p.wcDeadline) {
			continue
		}
		return append([]byte(nil), cmd.In.Data()...), err
	}
}
