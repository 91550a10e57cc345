package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/neoclaw-ai/brokerhost/internal/config"
	"github.com/neoclaw-ai/brokerhost/internal/journal"
	"github.com/neoclaw-ai/brokerhost/internal/samples"
	"github.com/spf13/cobra"
)

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo [scenario|all]",
		Short: "Run a sample scenario against an in-process broker",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, s := range samples.Scenarios() {
					fmt.Fprintf(w, "%s\t%s\n", s.Name, s.Description)
				}
				return w.Flush()
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts := samples.DemoOptions{
				Out:     out,
				Journal: journal.New(cfg.JournalPath()),
			}

			names := []string{args[0]}
			if args[0] == "all" {
				names = names[:0]
				for _, s := range samples.Scenarios() {
					names = append(names, s.Name)
				}
			}
			for _, name := range names {
				fmt.Fprintf(out, "== %s\n", name)
				if err := samples.RunDemo(cmd.Context(), name, opts); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
