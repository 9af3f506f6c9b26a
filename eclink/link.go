// Package eclink puts the application side of an EtherCAT master behind one
// contract: frames go in, slave events come out. SOEM runs the master in
// process, RemoteSOEM talks to a Server running next to the network
// interface.
package eclink

import (
	"context"
	"errors"

	"github.com/distributed/ecatlink/eccfg"
	"github.com/distributed/ecatlink/ecmaster"
	"github.com/distributed/ecatlink/ecstatus"
)

var (
	ErrNotOpen    = errors.New("eclink: link not open")
	ErrPeerClosed = errors.New("eclink: peer closed the link")
)

type Link interface {
	Open(ctx context.Context) error
	Submit(frame []byte) error
	Events() <-chan ecstatus.Event
	Close() error
}

// Faulter is implemented by links that can fail after Open. Done is closed
// when the link stopped working, Err tells why.
type Faulter interface {
	Done() <-chan struct{}
	Err() error
}

// SOEM is a link to a master running in this process.
type SOEM struct {
	engine *ecmaster.Engine
}

func NewSOEM(cfg eccfg.Config, opts ecmaster.Options) (*SOEM, error) {
	e, err := ecmaster.New(cfg, opts)
	if err != nil {
		return nil, err
	}
	return &SOEM{engine: e}, nil
}

func (s *SOEM) Engine() *ecmaster.Engine { return s.engine }

func (s *SOEM) Open(ctx context.Context) error { return s.engine.Start(ctx) }

func (s *SOEM) Submit(frame []byte) error {
	if s.engine.State() == ecmaster.Stopped {
		return ErrNotOpen
	}
	return s.engine.Submit(frame)
}

func (s *SOEM) Events() <-chan ecstatus.Event { return s.engine.Events() }

func (s *SOEM) Close() error { return s.engine.Stop() }

func (s *SOEM) Done() <-chan struct{} { return s.engine.Done() }

func (s *SOEM) Err() error { return s.engine.Err() }
