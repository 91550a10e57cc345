package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/neoclaw-ai/brokerhost/internal/dispatch"
	"github.com/neoclaw-ai/brokerhost/internal/samples"
	"github.com/spf13/cobra"
)

func newHandlersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "handlers",
		Short: "List sample handlers and their action bindings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HANDLER\tACTION\tOPERATION\tASYNC")
			for _, name := range samples.Names() {
				sample, err := samples.Lookup(name)
				if err != nil {
					return err
				}
				table, err := dispatch.Build(sample.New(io.Discard), dispatch.BuildOptions{})
				if err != nil {
					return fmt.Errorf("handler %s: %w", name, err)
				}
				for _, b := range table.Bindings() {
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", name, b.Action, b.Operation, b.Async)
				}
			}
			return w.Flush()
		},
	}
}
