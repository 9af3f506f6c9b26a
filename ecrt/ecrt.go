// Package ecrt applies real-time scheduling settings to the process and to
// the calling OS thread.
package ecrt

import (
	"errors"

	"github.com/distributed/ecatlink/eccfg"
)

var ErrUnsupported = errors.New("ecrt: not supported on this system")

// Scheduling policies, as understood by ThreadPolicy.
const (
	PolicyOther = iota
	PolicyFIFO
)

const maxFIFOPriority = 99

// ThreadPolicy maps p to a scheduling policy and static priority. Min and
// a cross platform value of 0 leave the thread in the time sharing class.
func ThreadPolicy(p eccfg.ThreadPriority) (policy, priority int) {
	switch {
	case p.IsMin():
		return PolicyOther, 0
	case p.IsMax():
		return PolicyFIFO, maxFIFOPriority
	}
	v, _ := p.Value()
	if v == 0 {
		return PolicyOther, 0
	}
	return PolicyFIFO, v
}

// Nice maps p to a nice value.
func Nice(p eccfg.ProcessPriority) int {
	switch p {
	case eccfg.ProcessPriorityIdle:
		return 19
	case eccfg.ProcessPriorityBelowNormal:
		return 10
	case eccfg.ProcessPriorityAboveNormal:
		return -5
	case eccfg.ProcessPriorityHigh:
		return -10
	case eccfg.ProcessPriorityRealtime:
		return -20
	}
	return 0
}
