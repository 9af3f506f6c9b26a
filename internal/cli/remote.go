package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/distributed/ecatlink/eclink"
	"github.com/distributed/ecatlink/ecstatus"
)

// RemoteOptions holds flags for the remote command.
type RemoteOptions struct {
	*RootOptions

	Addr       string
	ExitOnLost bool
	Duration   time.Duration
	FrameLen   int
}

func NewRemoteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemoteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Connect to a served master and print slave events",
		Long: `Remote connects to a master started with serve and prints the slave
events it forwards.

Example:
  ecatlink remote --addr 192.168.1.20:6200 --frame-len 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemote(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Addr, "addr", "a", "127.0.0.1"+DefaultListen, "host:port of the served master")
	cmd.Flags().BoolVar(&opts.ExitOnLost, "exit-on-lost", false, "stop with an error as soon as a slave is lost")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().IntVar(&opts.FrameLen, "frame-len", 0, "submit a zeroed process data frame of this many bytes")

	return cmd
}

func runRemote(cmd *cobra.Command, opts *RemoteOptions) error {
	out := cmd.OutOrStdout()

	ctx, cancel := runContext(cmd, opts.Duration)
	defer cancel()

	link := &eclink.RemoteSOEM{Addr: opts.Addr, Log: opts.Log}
	if err := link.Open(ctx); err != nil {
		return WrapExitError(ExitCommandError, "connecting", err)
	}
	defer link.Close()
	fmt.Fprintf(out, "session %s on %s\n", link.Session(), opts.Addr)

	if opts.FrameLen > 0 {
		if err := link.Submit(make([]byte, opts.FrameLen)); err != nil {
			return WrapExitError(ExitFailure, "submitting frame", err)
		}
	}
	fmt.Fprintf(out, "running %s\n", durationLabel(opts.Duration))

	events := link.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			printEvent(out, ev)
			if opts.ExitOnLost && ev.Status.Kind() == ecstatus.KindLost {
				return NewExitError(ExitLost, ev.Status.Message())
			}
		case <-link.Done():
			return WrapExitError(ExitFault, "link ended", link.Err())
		case <-ctx.Done():
			return nil
		}
	}
}
