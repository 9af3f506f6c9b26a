// Package cli implements the ecatlink command line.
package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	LogFormat string // "text" | "json"

	Log *logrus.Entry
}

// NewRootCommand creates the root command of the ecatlink CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ecatlink",
		Short: "EtherCAT master cycle engine",
		Long: `ecatlink runs an EtherCAT master on a network interface, exchanging
process data at a fixed cycle while watching slave states and distributed
clocks. The master can be used locally or served to a remote client.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l := logrus.New()
			l.SetOutput(cmd.ErrOrStderr())
			switch opts.LogFormat {
			case "text":
				l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			case "json":
				l.SetFormatter(&logrus.JSONFormatter{})
			default:
				return NewExitError(ExitUsage, fmt.Sprintf("invalid log format %q: must be text or json", opts.LogFormat))
			}
			if opts.Verbose {
				l.SetLevel(logrus.DebugLevel)
			}
			opts.Log = logrus.NewEntry(l)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (text|json)")

	cmd.AddCommand(NewAdaptersCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRemoteCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewESICommand(opts))
	cmd.AddCommand(NewJournalCommand(opts))

	return cmd
}
