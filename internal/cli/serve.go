package cli

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/distributed/ecatlink/eclink"
	"github.com/distributed/ecatlink/ecmaster"
	"github.com/distributed/ecatlink/raweni"
)

const DefaultListen = ":6200"

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Engine EngineFlags

	Listen  string
	Journal string
	ESI     string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the master and serve it to a remote client",
		Long: `Serve runs the master like run does and accepts one remote client at a
time on a TCP address. The client submits frames and receives slave events.

Example:
  ecatlink serve --ifname eth1 --listen :6200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveMaster(cmd, opts)
		},
	}

	opts.Engine.register(cmd)
	cmd.Flags().StringVarP(&opts.Listen, "listen", "l", DefaultListen, "TCP address to listen on")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record sessions in this SQLite database")
	cmd.Flags().StringVar(&opts.ESI, "esi", "", "ESI file or directory to name the slaves")

	return cmd
}

func serveMaster(cmd *cobra.Command, opts *ServeOptions) error {
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

	ctx, cancel := runContext(cmd, 0)
	defer cancel()

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "listening", err)
	}

	if err := link.Open(ctx); err != nil {
		ln.Close()
		return WrapExitError(ExitCommandError, "starting master", err)
	}
	defer link.Close()
	printSlaves(out, link.Engine().Ifname(), link.Engine().Slaves())

	srv := eclink.NewServer(link, log.WithField("listen", ln.Addr().String()))
	if j != nil {
		srv.Recorder = j
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	fmt.Fprintf(out, "serving on %s\n", ln.Addr())

	select {
	case err := <-served:
		if err != nil {
			return WrapExitError(ExitFailure, "serving", err)
		}
		return nil
	case <-link.Done():
		srv.Close()
		<-served
		return WrapExitError(ExitFault, "master faulted", link.Err())
	case <-ctx.Done():
		srv.Close()
		<-served
		return nil
	}
}
