// Package ecstatus watches the AL state of the slaves on a segment and
// reports losses, errors and state changes.
package ecstatus

import (
	"fmt"
	"time"
)

type Kind uint8

const (
	KindError Kind = iota
	KindStateChanged
	KindLost
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "Error"
	case KindStateChanged:
		return "StateChanged"
	case KindLost:
		return "Lost"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Status is a kind with a diagnostic message. Two statuses are equal when
// kind and message are.
type Status struct {
	kind Kind
	msg  string
}

func Lost() Status         { return Status{kind: KindLost} }
func Error() Status        { return Status{kind: KindError} }
func StateChanged() Status { return Status{kind: KindStateChanged} }

func New(kind Kind, msg string) Status { return Status{kind: kind, msg: msg} }

func (s Status) Kind() Kind      { return s.kind }
func (s Status) Message() string { return s.msg }

// String returns the message only.
func (s Status) String() string { return s.msg }

// Event is a status reported for a slave, indexed by its position on the
// segment.
type Event struct {
	Slave  uint16
	Status Status
	Time   time.Time
}

// Handler receives events on the monitor goroutine. It must return quickly
// and must not start or stop the engine that owns the monitor.
type Handler func(slave uint16, status Status)
