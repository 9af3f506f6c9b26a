// Package eccfg holds the validated configuration of an EtherCAT master
// engine.
package eccfg

import (
	"fmt"
	"time"
)

// SettleSamples is the number of consecutive in-tolerance clock samples
// after which the distributed clocks count as synchronized.
const SettleSamples = 10

const (
	DefaultBufSize            = 16
	DefaultStateCheckInterval = 100 * time.Millisecond
	DefaultSync0Cycle         = time.Millisecond
	DefaultSendCycle          = time.Millisecond
	DefaultSyncTolerance      = time.Microsecond
	DefaultSyncTimeout        = 10 * time.Second
)

type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// CoreID names a CPU the cycle thread is pinned to.
type CoreID int

// Config is immutable once an engine was started with it. Obtain one from
// New or Load so it is validated.
type Config struct {
	BufSize            int
	Ifname             string // empty selects the first adapter with slaves
	StateCheckInterval time.Duration
	Sync0Cycle         time.Duration
	SendCycle          time.Duration
	ThreadPriority     ThreadPriority
	ProcessPriority    ProcessPriority
	SyncTolerance      time.Duration
	SyncTimeout        time.Duration
	Affinity           *CoreID
	SyncMode           SyncMode
	Timer              TimerStrategy
}

func Default() Config {
	return Config{
		BufSize:            DefaultBufSize,
		StateCheckInterval: DefaultStateCheckInterval,
		Sync0Cycle:         DefaultSync0Cycle,
		SendCycle:          DefaultSendCycle,
		ThreadPriority:     ThreadPriorityMax,
		ProcessPriority:    ProcessPriorityHigh,
		SyncTolerance:      DefaultSyncTolerance,
		SyncTimeout:        DefaultSyncTimeout,
		SyncMode:           SyncModeDC,
		Timer:              TimerSpin,
	}
}

type Option func(*Config)

func WithBufSize(n int) Option { return func(c *Config) { c.BufSize = n } }

func WithIfname(ifname string) Option { return func(c *Config) { c.Ifname = ifname } }

func WithStateCheckInterval(d time.Duration) Option {
	return func(c *Config) { c.StateCheckInterval = d }
}

func WithSync0Cycle(d time.Duration) Option { return func(c *Config) { c.Sync0Cycle = d } }

func WithSendCycle(d time.Duration) Option { return func(c *Config) { c.SendCycle = d } }

func WithThreadPriority(p ThreadPriority) Option {
	return func(c *Config) { c.ThreadPriority = p }
}

func WithProcessPriority(p ProcessPriority) Option {
	return func(c *Config) { c.ProcessPriority = p }
}

func WithSyncTolerance(d time.Duration) Option { return func(c *Config) { c.SyncTolerance = d } }

func WithSyncTimeout(d time.Duration) Option { return func(c *Config) { c.SyncTimeout = d } }

func WithAffinity(core CoreID) Option {
	return func(c *Config) { c.Affinity = &core }
}

func WithSyncMode(m SyncMode) Option { return func(c *Config) { c.SyncMode = m } }

func WithTimer(t TimerStrategy) Option { return func(c *Config) { c.Timer = t } }

// New applies opts to the defaults and validates the result.
func New(opts ...Option) (Config, error) {
	c := Default()
	for _, o := range opts {
		o(&c)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// SettleTime is the time distributed clocks need to stay in tolerance to
// count as synchronized.
func (c Config) SettleTime() time.Duration {
	return SettleSamples * c.Sync0Cycle
}

func (c Config) Validate() error {
	if c.BufSize <= 0 {
		return &ConfigError{"buf_size", c.BufSize, "must be positive"}
	}
	for _, d := range []struct {
		field string
		v     time.Duration
	}{
		{"state_check_interval", c.StateCheckInterval},
		{"sync0_cycle", c.Sync0Cycle},
		{"send_cycle", c.SendCycle},
		{"sync_tolerance", c.SyncTolerance},
		{"sync_timeout", c.SyncTimeout},
	} {
		if d.v <= 0 {
			return &ConfigError{d.field, d.v, "must be positive"}
		}
	}
	if v, ok := c.ThreadPriority.Value(); ok && v > MaxCrossPlatformPriority {
		return &ConfigError{"thread_priority", v, fmt.Sprintf("must be in [0,%d]", MaxCrossPlatformPriority)}
	}
	if c.ProcessPriority < ProcessPriorityIdle || c.ProcessPriority > ProcessPriorityRealtime {
		return &ConfigError{"process_priority", int(c.ProcessPriority), "unknown priority"}
	}
	if c.SyncMode != SyncModeDC && c.SyncMode != SyncModeFreeRun {
		return &ConfigError{"sync_mode", int(c.SyncMode), "unknown mode"}
	}
	if c.Timer < TimerSpin || c.Timer > TimerSpinWait {
		return &ConfigError{"timer", int(c.Timer), "unknown strategy"}
	}
	if c.Affinity != nil && *c.Affinity < 0 {
		return &ConfigError{"affinity", int(*c.Affinity), "must not be negative"}
	}
	if c.SyncMode == SyncModeDC && c.SyncTimeout <= c.SettleTime() {
		return &ConfigError{"sync_timeout", c.SyncTimeout,
			fmt.Sprintf("must exceed the settle time of %v", c.SettleTime())}
	}
	return nil
}
