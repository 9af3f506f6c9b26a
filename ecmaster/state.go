package ecmaster

import "fmt"

type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Faulted
)

var stateNames = [...]string{"Stopped", "Starting", "Running", "Stopping", "Faulted"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}
