package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/neoclaw-ai/brokerhost/internal/config"
	"github.com/neoclaw-ai/brokerhost/internal/journal"
	"github.com/spf13/cobra"
)

func newJournalCmd() *cobra.Command {
	var (
		limit int
		reset bool
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show deliveries that were abandoned, dead-lettered, dropped or unroutable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			j := journal.New(cfg.JournalPath())
			if reset {
				if err := j.Reset(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "journal cleared")
				return nil
			}

			entries, err := j.Tail(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no journal entries")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tENDPOINT\tOUTCOME\tACTION\tOPERATION\tDELIVERY\tMESSAGE\tERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					e.Time.Local().Format(time.DateTime),
					e.Endpoint,
					e.Outcome,
					e.Action,
					e.Operation,
					e.DeliveryCount,
					e.MessageID,
					e.Error,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of most recent entries to show")
	cmd.Flags().BoolVar(&reset, "reset", false, "Clear the journal")

	return cmd
}
