package eccfg

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type priorityKind uint8

const (
	priorityMax priorityKind = iota
	priorityMin
	priorityCrossPlatform
)

// ThreadPriority is the scheduling priority of the cycle thread. The zero
// value is ThreadPriorityMax.
type ThreadPriority struct {
	kind  priorityKind
	value uint8
}

var (
	ThreadPriorityMax = ThreadPriority{kind: priorityMax}
	ThreadPriorityMin = ThreadPriority{kind: priorityMin}
)

const MaxCrossPlatformPriority = 99

// CrossPlatform returns the priority v on a 0 to 99 scale.
func CrossPlatform(v int) (ThreadPriority, error) {
	if v < 0 || v > MaxCrossPlatformPriority {
		return ThreadPriority{}, &ConfigError{
			Field:  "thread_priority",
			Value:  v,
			Reason: fmt.Sprintf("must be in [0,%d]", MaxCrossPlatformPriority),
		}
	}
	return ThreadPriority{kind: priorityCrossPlatform, value: uint8(v)}, nil
}

func (p ThreadPriority) IsMax() bool { return p.kind == priorityMax }
func (p ThreadPriority) IsMin() bool { return p.kind == priorityMin }

// Value returns the cross platform value and whether p is one.
func (p ThreadPriority) Value() (int, bool) {
	return int(p.value), p.kind == priorityCrossPlatform
}

func (p ThreadPriority) String() string {
	switch p.kind {
	case priorityMin:
		return "min"
	case priorityCrossPlatform:
		return strconv.Itoa(int(p.value))
	}
	return "max"
}

func (p ThreadPriority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *ThreadPriority) UnmarshalText(b []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	switch s {
	case "max":
		*p = ThreadPriorityMax
		return nil
	case "min":
		*p = ThreadPriorityMin
		return nil
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return &ConfigError{Field: "thread_priority", Value: s, Reason: "want min, max or a number"}
	}
	np, err := CrossPlatform(v)
	if err != nil {
		return err
	}
	*p = np
	return nil
}

func (p *ThreadPriority) UnmarshalYAML(value *yaml.Node) error {
	return p.UnmarshalText([]byte(value.Value))
}

// ProcessPriority is the scheduling class of the whole process.
type ProcessPriority int

const (
	ProcessPriorityIdle ProcessPriority = iota
	ProcessPriorityBelowNormal
	ProcessPriorityNormal
	ProcessPriorityAboveNormal
	ProcessPriorityHigh
	ProcessPriorityRealtime
)

var processPriorityNames = []string{"idle", "below_normal", "normal", "above_normal", "high", "realtime"}

func (p ProcessPriority) String() string {
	if p < 0 || int(p) >= len(processPriorityNames) {
		return fmt.Sprintf("ProcessPriority(%d)", int(p))
	}
	return processPriorityNames[p]
}

func (p ProcessPriority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *ProcessPriority) UnmarshalText(b []byte) error {
	i, err := lookupName("process_priority", processPriorityNames, string(b))
	if err != nil {
		return err
	}
	*p = ProcessPriority(i)
	return nil
}

// SyncMode selects whether slaves are driven by distributed clocks.
type SyncMode int

const (
	SyncModeDC SyncMode = iota
	SyncModeFreeRun
)

var syncModeNames = []string{"dc", "free_run"}

func (m SyncMode) String() string {
	if m < 0 || int(m) >= len(syncModeNames) {
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
	return syncModeNames[m]
}

func (m SyncMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *SyncMode) UnmarshalText(b []byte) error {
	i, err := lookupName("sync_mode", syncModeNames, string(b))
	if err != nil {
		return err
	}
	*m = SyncMode(i)
	return nil
}

// TimerStrategy selects how the cycle thread waits for the next deadline.
type TimerStrategy int

const (
	TimerSpin TimerStrategy = iota
	TimerStd
	TimerSpinWait
)

var timerNames = []string{"spin", "std", "spin_wait"}

func (t TimerStrategy) String() string {
	if t < 0 || int(t) >= len(timerNames) {
		return fmt.Sprintf("TimerStrategy(%d)", int(t))
	}
	return timerNames[t]
}

func (t TimerStrategy) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimerStrategy) UnmarshalText(b []byte) error {
	i, err := lookupName("timer", timerNames, string(b))
	if err != nil {
		return err
	}
	*t = TimerStrategy(i)
	return nil
}

func lookupName(field string, names []string, s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	return 0, &ConfigError{Field: field, Value: s, Reason: "want one of " + strings.Join(names, ", ")}
}
