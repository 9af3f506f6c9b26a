package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/distributed/ecatlink/eccfg"
)

// EngineFlags are the configuration flags shared by the commands that run
// a master. Flags given on the command line override the config file.
type EngineFlags struct {
	Config string

	Ifname             string
	BufSize            int
	SendCycle          time.Duration
	Sync0Cycle         time.Duration
	StateCheckInterval time.Duration
	SyncTolerance      time.Duration
	SyncTimeout        time.Duration
	ThreadPriority     string
	ProcessPriority    string
	SyncMode           string
	Timer              string
	Affinity           int
}

func (f *EngineFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.Config, "config", "c", "", "YAML configuration file")
	fs.StringVarP(&f.Ifname, "ifname", "i", "", "interface, udp:<iface> or udp:<host:port> (empty autodetects)")
	fs.IntVar(&f.BufSize, "buf-size", eccfg.DefaultBufSize, "frame buffer capacity")
	fs.DurationVar(&f.SendCycle, "send-cycle", eccfg.DefaultSendCycle, "process data cycle")
	fs.DurationVar(&f.Sync0Cycle, "sync0-cycle", eccfg.DefaultSync0Cycle, "distributed clock sync0 cycle")
	fs.DurationVar(&f.StateCheckInterval, "state-check-interval", eccfg.DefaultStateCheckInterval, "slave state poll interval")
	fs.DurationVar(&f.SyncTolerance, "sync-tolerance", eccfg.DefaultSyncTolerance, "allowed clock offset")
	fs.DurationVar(&f.SyncTimeout, "sync-timeout", eccfg.DefaultSyncTimeout, "time the clocks may stay out of tolerance")
	fs.StringVar(&f.ThreadPriority, "thread-priority", "max", "cycle thread priority (min, max or 0-99)")
	fs.StringVar(&f.ProcessPriority, "process-priority", "high", "process priority (idle, below_normal, normal, above_normal, high, realtime)")
	fs.StringVar(&f.SyncMode, "sync-mode", "dc", "clock mode (dc, free_run)")
	fs.StringVar(&f.Timer, "timer", "spin", "cycle timer (spin, std, spin_wait)")
	fs.IntVar(&f.Affinity, "affinity", -1, "pin the cycle thread to this CPU (-1 leaves it unpinned)")
}

// config builds the validated configuration.
func (f *EngineFlags) config(cmd *cobra.Command, log *logrus.Entry) (eccfg.Config, error) {
	opts, err := f.options(cmd)
	if err != nil {
		return eccfg.Config{}, WrapExitError(ExitUsage, "invalid flag", err)
	}

	var cfg eccfg.Config
	if f.Config != "" {
		var b []byte
		b, err = os.ReadFile(f.Config)
		if err != nil {
			return eccfg.Config{}, WrapExitError(ExitUsage, "reading configuration", err)
		}
		cfg, err = eccfg.Parse(b, opts...)
	} else {
		cfg, err = eccfg.New(opts...)
	}
	if err != nil {
		return eccfg.Config{}, WrapExitError(ExitUsage, "invalid configuration", err)
	}

	if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		log.Debug("configuration:\n" + spew.Sdump(cfg))
	}
	return cfg, nil
}

func (f *EngineFlags) options(cmd *cobra.Command) ([]eccfg.Option, error) {
	fs := cmd.Flags()
	var opts []eccfg.Option

	if fs.Changed("ifname") {
		opts = append(opts, eccfg.WithIfname(f.Ifname))
	}
	if fs.Changed("buf-size") {
		opts = append(opts, eccfg.WithBufSize(f.BufSize))
	}
	for _, d := range []struct {
		flag string
		v    time.Duration
		with func(time.Duration) eccfg.Option
	}{
		{"send-cycle", f.SendCycle, eccfg.WithSendCycle},
		{"sync0-cycle", f.Sync0Cycle, eccfg.WithSync0Cycle},
		{"state-check-interval", f.StateCheckInterval, eccfg.WithStateCheckInterval},
		{"sync-tolerance", f.SyncTolerance, eccfg.WithSyncTolerance},
		{"sync-timeout", f.SyncTimeout, eccfg.WithSyncTimeout},
	} {
		if fs.Changed(d.flag) {
			opts = append(opts, d.with(d.v))
		}
	}

	if fs.Changed("thread-priority") {
		var p eccfg.ThreadPriority
		if err := p.UnmarshalText([]byte(f.ThreadPriority)); err != nil {
			return nil, err
		}
		opts = append(opts, eccfg.WithThreadPriority(p))
	}
	if fs.Changed("process-priority") {
		var p eccfg.ProcessPriority
		if err := p.UnmarshalText([]byte(f.ProcessPriority)); err != nil {
			return nil, err
		}
		opts = append(opts, eccfg.WithProcessPriority(p))
	}
	if fs.Changed("sync-mode") {
		var m eccfg.SyncMode
		if err := m.UnmarshalText([]byte(f.SyncMode)); err != nil {
			return nil, err
		}
		opts = append(opts, eccfg.WithSyncMode(m))
	}
	if fs.Changed("timer") {
		var t eccfg.TimerStrategy
		if err := t.UnmarshalText([]byte(f.Timer)); err != nil {
			return nil, err
		}
		opts = append(opts, eccfg.WithTimer(t))
	}
	if fs.Changed("affinity") && f.Affinity >= 0 {
		opts = append(opts, eccfg.WithAffinity(eccfg.CoreID(f.Affinity)))
	}

	return opts, nil
}

func durationLabel(d time.Duration) string {
	if d <= 0 {
		return "until interrupted"
	}
	return fmt.Sprintf("for %v", d)
}
