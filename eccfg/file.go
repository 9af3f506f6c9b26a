package eccfg

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// fileConfig mirrors the YAML layout. Durations are Go duration strings.
type fileConfig struct {
	BufSize            *int             `yaml:"buf_size"`
	Ifname             *string          `yaml:"ifname"`
	StateCheckInterval *string          `yaml:"state_check_interval"`
	Sync0Cycle         *string          `yaml:"sync0_cycle"`
	SendCycle          *string          `yaml:"send_cycle"`
	ThreadPriority     *ThreadPriority  `yaml:"thread_priority"`
	ProcessPriority    *ProcessPriority `yaml:"process_priority"`
	SyncTolerance      *string          `yaml:"sync_tolerance"`
	SyncTimeout        *string          `yaml:"sync_timeout"`
	Affinity           *int             `yaml:"affinity"`
	SyncMode           *SyncMode        `yaml:"sync_mode"`
	Timer              *TimerStrategy   `yaml:"timer"`
}

// Load reads a YAML configuration file, see Parse.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	c, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML, checks it against the embedded schema and returns the
// defaults overridden by the fields present. extra options are applied
// last, e.g. for command line overrides.
func Parse(b []byte, extra ...Option) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := checkSchema(raw); err != nil {
		return Config{}, err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	opts, err := fc.options()
	if err != nil {
		return Config{}, err
	}
	return New(append(opts, extra...)...)
}

func checkSchema(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}

	if raw == nil {
		raw = map[string]any{}
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &ConfigError{Field: "config", Value: "file", Reason: err.Error()}
	}
	return nil
}

func (fc fileConfig) options() ([]Option, error) {
	var opts []Option

	if fc.BufSize != nil {
		opts = append(opts, WithBufSize(*fc.BufSize))
	}
	if fc.Ifname != nil {
		opts = append(opts, WithIfname(*fc.Ifname))
	}
	if fc.ThreadPriority != nil {
		opts = append(opts, WithThreadPriority(*fc.ThreadPriority))
	}
	if fc.ProcessPriority != nil {
		opts = append(opts, WithProcessPriority(*fc.ProcessPriority))
	}
	if fc.Affinity != nil {
		opts = append(opts, WithAffinity(CoreID(*fc.Affinity)))
	}
	if fc.SyncMode != nil {
		opts = append(opts, WithSyncMode(*fc.SyncMode))
	}
	if fc.Timer != nil {
		opts = append(opts, WithTimer(*fc.Timer))
	}

	for _, d := range []struct {
		field string
		s     *string
		with  func(time.Duration) Option
	}{
		{"state_check_interval", fc.StateCheckInterval, WithStateCheckInterval},
		{"sync0_cycle", fc.Sync0Cycle, WithSync0Cycle},
		{"send_cycle", fc.SendCycle, WithSendCycle},
		{"sync_tolerance", fc.SyncTolerance, WithSyncTolerance},
		{"sync_timeout", fc.SyncTimeout, WithSyncTimeout},
	} {
		if d.s == nil {
			continue
		}
		v, err := time.ParseDuration(*d.s)
		if err != nil {
			return nil, &ConfigError{Field: d.field, Value: *d.s, Reason: err.Error()}
		}
		opts = append(opts, d.with(v))
	}

	return opts, nil
}

// Marshal renders c in the layout Parse reads.
func Marshal(c Config) ([]byte, error) {
	out := struct {
		BufSize            int             `yaml:"buf_size"`
		Ifname             string          `yaml:"ifname,omitempty"`
		StateCheckInterval string          `yaml:"state_check_interval"`
		Sync0Cycle         string          `yaml:"sync0_cycle"`
		SendCycle          string          `yaml:"send_cycle"`
		ThreadPriority     any             `yaml:"thread_priority"`
		ProcessPriority    ProcessPriority `yaml:"process_priority"`
		SyncTolerance      string          `yaml:"sync_tolerance"`
		SyncTimeout        string          `yaml:"sync_timeout"`
		Affinity           *int            `yaml:"affinity,omitempty"`
		SyncMode           SyncMode        `yaml:"sync_mode"`
		Timer              TimerStrategy   `yaml:"timer"`
	}{
		BufSize:            c.BufSize,
		Ifname:             c.Ifname,
		StateCheckInterval: c.StateCheckInterval.String(),
		Sync0Cycle:         c.Sync0Cycle.String(),
		SendCycle:          c.SendCycle.String(),
		ThreadPriority:     c.ThreadPriority.String(),
		ProcessPriority:    c.ProcessPriority,
		SyncTolerance:      c.SyncTolerance.String(),
		SyncTimeout:        c.SyncTimeout.String(),
		SyncMode:           c.SyncMode,
		Timer:              c.Timer,
	}
	// the schema wants numeric priorities as numbers
	if v, ok := c.ThreadPriority.Value(); ok {
		out.ThreadPriority = v
	}
	if c.Affinity != nil {
		a := int(*c.Affinity)
		out.Affinity = &a
	}
	return yaml.Marshal(out)
}
