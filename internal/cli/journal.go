package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/distributed/ecatlink/ecjournal"
)

func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	var db string

	cmd := &cobra.Command{
		Use:   "journal [run-id]",
		Short: "List journaled runs, or the events of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := ecjournal.Open(db, rootOpts.Log)
			if err != nil {
				return WrapExitError(ExitCommandError, "opening journal", err)
			}
			defer j.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if len(args) == 0 {
				runs, err := j.Runs(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "ID\tKIND\tSOURCE\tSTARTED\tDURATION\tFAULT")
				for _, r := range runs {
					d := "running"
					if !r.Ended.IsZero() {
						d = r.Ended.Sub(r.Started).Round(time.Millisecond).String()
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						r.ID, r.Kind, r.Source, r.Started.Format(time.RFC3339), d, r.Fault)
				}
				return tw.Flush()
			}

			id, err := uuid.Parse(args[0])
			if err != nil {
				return WrapExitError(ExitUsage, "invalid run id", err)
			}
			evs, err := j.Events(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "TIME\tSLAVE\tKIND\tMESSAGE")
			for _, ev := range evs {
				fmt.Fprintf(tw, "%s\t%d\t%v\t%s\n", ev.Time.Format(time.RFC3339Nano), ev.Slave, ev.Status.Kind(), ev.Status.Message())
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&db, "db", "", "journal database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}
