package cli

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/distributed/ecatlink/sim"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions

	Listen    string
	Slaves    int
	OutputLen int
}

func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Answer EtherCAT over UDP with simulated slaves",
		Long: `Simulate runs a segment of simulated slaves behind a UDP socket. Point a
master at it with --ifname udp:<host:port>.

Example:
  ecatlink simulate --listen 127.0.0.1:34980 --slaves 3
  ecatlink run --ifname udp:127.0.0.1:34980 --thread-priority min`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulator(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Listen, "listen", "l", "127.0.0.1:34980", "UDP address to answer on")
	cmd.Flags().IntVarP(&opts.Slaves, "slaves", "n", 2, "number of slaves")
	cmd.Flags().IntVar(&opts.OutputLen, "output-len", 4, "process data bytes per slave")

	return cmd
}

func simulatedSlaves(n, outputLen int) []*sim.L2Slave {
	slaves := make([]*sim.L2Slave, n)
	for i := range slaves {
		s := sim.NewProcessDataSlave(uint32(i*outputLen), uint16(outputLen))
		s.EEPROM.SetIdentity(0x2, 0x1000+uint32(i), 1, uint32(i))
		slaves[i] = s
	}
	return slaves
}

func runSimulator(cmd *cobra.Command, opts *SimulateOptions) error {
	if opts.Slaves < 0 || opts.OutputLen < 0 || opts.OutputLen > 0xffff {
		return NewExitError(ExitUsage, "invalid segment size")
	}

	conn, err := net.ListenPacket("udp4", opts.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "listening", err)
	}

	var fps []sim.FrameProcessor
	for _, s := range simulatedSlaves(opts.Slaves, opts.OutputLen) {
		fps = append(fps, s)
	}
	gw := sim.NewGateway(conn, fps...)

	ctx, cancel := runContext(cmd, 0)
	defer cancel()
	go func() {
		<-ctx.Done()
		gw.Close()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "simulating %d slaves on %s\n", opts.Slaves, gw.Addr())
	opts.Log.WithField("addr", gw.Addr().String()).Info("simulator running")
	return gw.Serve()
}
