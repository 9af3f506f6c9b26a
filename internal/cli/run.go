package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/distributed/ecatlink/ecjournal"
	"github.com/distributed/ecatlink/eclink"
	"github.com/distributed/ecatlink/ecmaster"
	"github.com/distributed/ecatlink/ecstatus"
	"github.com/distributed/ecatlink/raweni"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Engine EngineFlags

	ExitOnLost bool
	Journal    string
	ESI        string
	Duration   time.Duration
	FrameLen   int
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the master and print slave events",
		Long: `Run brings the slaves on an interface to OP and keeps the process data
cycle running, printing slave events as they happen.

Example:
  ecatlink run --ifname eth1 --exit-on-lost
  ecatlink run --config ecatlink.yaml --journal runs.db --duration 10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaster(cmd, opts)
		},
	}

	opts.Engine.register(cmd)
	cmd.Flags().BoolVar(&opts.ExitOnLost, "exit-on-lost", false, "stop with an error as soon as a slave is lost")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record the run in this SQLite database")
	cmd.Flags().StringVar(&opts.ESI, "esi", "", "ESI file or directory to name the slaves")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().IntVar(&opts.FrameLen, "frame-len", 0, "submit a zeroed process data frame of this many bytes")

	return cmd
}

// runContext ends on SIGINT, SIGTERM or after d if d is positive.
func runContext(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	if d <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	return tctx, func() {
		cancel()
		stop()
	}
}

func openJournal(path string, opts *RootOptions) (*ecjournal.Journal, error) {
	if path == "" {
		return nil, nil
	}
	j, err := ecjournal.Open(path, opts.Log)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening journal", err)
	}
	return j, nil
}

func runMaster(cmd *cobra.Command, opts *RunOptions) error {
	log := opts.Log
	out := cmd.OutOrStdout()

	cfg, err := opts.Engine.config(cmd, log)
	if err != nil {
		return err
	}

	var devices *raweni.Catalog
	if opts.ESI != "" {
		devices, err = loadCatalog(opts.ESI)
		if err != nil {
			return WrapExitError(ExitUsage, "loading ESI files", err)
		}
	}

	j, err := openJournal(opts.Journal, opts.RootOptions)
	if err != nil {
		return err
	}
	if j != nil {
		defer j.Close()
	}

	link, err := eclink.NewSOEM(cfg, ecmaster.Options{Log: log, Devices: devices})
	if err != nil {
		return WrapExitError(ExitUsage, "invalid configuration", err)
	}

	ctx, cancel := runContext(cmd, opts.Duration)
	defer cancel()

	if err := link.Open(ctx); err != nil {
		return WrapExitError(ExitCommandError, "starting master", err)
	}
	e := link.Engine()
	done := link.Done()

	runID, err := uuid.NewV7()
	if err != nil {
		link.Close()
		return err
	}
	if j != nil {
		if err := j.BeginRun(ctx, runID, e.Ifname(), cfg); err != nil {
			log.WithError(err).Warn("run not journaled")
			j = nil
		}
	}
	defer func() {
		link.Close()
		if j != nil {
			if err := j.EndRun(context.Background(), runID, link.Err()); err != nil {
				log.WithError(err).Warn("run end not journaled")
			}
		}
		printStats(out, e.Stats())
	}()

	printSlaves(out, e.Ifname(), e.Slaves())
	if opts.FrameLen > 0 {
		if err := link.Submit(make([]byte, opts.FrameLen)); err != nil {
			return WrapExitError(ExitUsage, "submitting frame", err)
		}
	}
	fmt.Fprintf(out, "running %s\n", durationLabel(opts.Duration))

	for {
		select {
		case ev := <-link.Events():
			printEvent(out, ev)
			if j != nil {
				if err := j.RecordEvent(ctx, runID, ev); err != nil && !errors.Is(err, context.Canceled) {
					log.WithError(err).Warn("event not journaled")
				}
			}
			if opts.ExitOnLost && ev.Status.Kind() == ecstatus.KindLost {
				return NewExitError(ExitLost, ev.Status.Message())
			}
		case <-done:
			return WrapExitError(ExitFault, "master faulted", link.Err())
		case <-ctx.Done():
			return nil
		}
	}
}

func printSlaves(w io.Writer, ifname string, slaves []ecmaster.Slave) {
	fmt.Fprintf(w, "%d slaves on %s\n", len(slaves), ifname)
	for _, s := range slaves {
		fmt.Fprintf(w, "  slave %d station %#04x %s", s.Position, s.Station, s.Identity)
		if s.Device != nil {
			fmt.Fprintf(w, " %s", s.Device)
		}
		fmt.Fprintln(w)
	}
}

func printEvent(w io.Writer, ev ecstatus.Event) {
	fmt.Fprintf(w, "%s slave %d %v: %s\n", ev.Time.Format(time.RFC3339Nano), ev.Slave, ev.Status.Kind(), ev.Status.Message())
}

func printStats(w io.Writer, st ecmaster.Stats) {
	fmt.Fprintf(w, "ticks %d transmitted %d repeated %d overruns %d lost frames %d wkc errors %d dropped %d\n",
		st.Ticks, st.Transmitted, st.Repeated, st.Overruns, st.FrameLosses, st.WKCErrors, st.Dropped)
}
