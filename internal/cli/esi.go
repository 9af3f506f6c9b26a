package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/distributed/ecatlink/raweni"
)

func NewESICommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "esi <file-or-dir>",
		Short: "List the devices described by ESI files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCatalog(args[0])
			if err != nil {
				return WrapExitError(ExitUsage, "reading ESI", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VENDOR\tPRODUCT\tREVISION\tTYPE\tNAME")
			for _, e := range c.Entries() {
				fmt.Fprintf(tw, "0x%08x\t0x%08x\t0x%08x\t%s\t%s\n",
					e.Vendor.ID(), e.Device.Type.ProductCode(), e.Device.Type.RevisionNo(),
					e.Device.Type.Name, e.Device.Name())
			}
			return tw.Flush()
		},
	}
}

func loadCatalog(path string) (*raweni.Catalog, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return raweni.LoadCatalog(path)
	}
	eci, err := raweni.ReadEtherCATInfoFromFile(path)
	if err != nil {
		return nil, err
	}
	return raweni.NewCatalog(eci), nil
}
