package ecmaster

import (
	"errors"
	"fmt"
)

var (
	// ErrPermission is returned by Start when the transport needs
	// privileges the process lacks, CAP_NET_RAW for raw sockets.
	ErrPermission = errors.New("ecmaster: raw network access needs CAP_NET_RAW or root")

	ErrNoSlaves = errors.New("ecmaster: no slaves found")

	// ErrState is returned for lifecycle calls the current state does not
	// allow.
	ErrState = errors.New("ecmaster: invalid engine state")
)

// BindError reports an interface that could not be opened.
type BindError struct {
	Ifname string
	Err    error
}

func (e *BindError) Error() string {
	if e.Ifname == "" {
		return fmt.Sprintf("ecmaster: no usable interface: %v", e.Err)
	}
	return fmt.Sprintf("ecmaster: binding %s: %v", e.Ifname, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }
