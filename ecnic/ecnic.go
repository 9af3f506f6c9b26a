// Package ecnic lists the network adapters an EtherCAT master can use.
package ecnic

import (
	"errors"
	"fmt"
	"net"

	"github.com/distributed/ecatlink/ll/raw"
)

var ErrAdapterEnumeration = errors.New("ecnic: cannot enumerate adapters")

// Adapter is a snapshot of a host interface.
type Adapter struct {
	Desc string
	Name string
}

func (a Adapter) String() string {
	return fmt.Sprintf("%s (%s)", a.Name, a.Desc)
}

var (
	interfaces = net.Interfaces
	probe      = raw.Probe
)

// Enumerate lists Ethernet interfaces other than loopback. It fails with
// ErrAdapterEnumeration when interfaces cannot be listed or raw frames
// cannot be sent, e.g. for missing privileges. The order is the one the
// OS reports.
func Enumerate() ([]Adapter, error) {
	if err := probe(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAdapterEnumeration, err)
	}

	ifs, err := interfaces()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAdapterEnumeration, err)
	}

	var adapters []Adapter
	for _, iface := range ifs {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
			continue
		}

		desc := driverName(iface.Name)
		if desc == "" {
			desc = iface.HardwareAddr.String()
		}
		adapters = append(adapters, Adapter{Desc: desc, Name: iface.Name})
	}
	return adapters, nil
}
