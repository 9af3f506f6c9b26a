package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/distributed/ecatlink/ecnic"
)

var enumerate = ecnic.Enumerate

func NewAdaptersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "List network adapters usable for EtherCAT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			adapters, err := enumerate()
			if err != nil {
				if errors.Is(err, os.ErrPermission) {
					rootOpts.Log.Warn("raw sockets need CAP_NET_RAW")
				}
				return WrapExitError(ExitCommandError, "enumerating adapters", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDESCRIPTION")
			for _, a := range adapters {
				fmt.Fprintf(tw, "%s\t%s\n", a.Name, a.Desc)
			}
			return tw.Flush()
		},
	}
}
