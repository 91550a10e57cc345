package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/neoclaw-ai/brokerhost/internal/config"
	"github.com/neoclaw-ai/brokerhost/internal/scheduler"
	"github.com/spf13/cobra"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron-scheduled message sends",
	}
	cmd.AddCommand(newScheduleListCmd())
	cmd.AddCommand(newScheduleAddCmd())
	cmd.AddCommand(newScheduleDeleteCmd())
	cmd.AddCommand(newScheduleRunCmd())
	return cmd
}

func newSchedulerService(cfg *config.Config, sender scheduler.Sender) *scheduler.Service {
	return scheduler.NewService(cfg.JobsPath(), scheduler.NewRunner(sender))
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			jobs, err := newSchedulerService(cfg, nil).List(cmd.Context())
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no scheduled jobs")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCRON\tQUEUE\tACTION\tSESSION\tENABLED\tDESCRIPTION")
			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
					job.ID, job.Cron, job.Queue, job.Action, job.SessionID, job.Enabled, job.Description)
			}
			return w.Flush()
		},
	}
}

func newScheduleAddCmd() *cobra.Command {
	var (
		in         scheduler.CreateInput
		properties []string
	)

	cmd := &cobra.Command{
		Use:   "add <cron> <body>",
		Short: "Schedule a message send",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			in.Cron = args[0]
			in.Body = args[1]
			if in.Queue == "" {
				in.Queue = cfg.Listener.Queue
			}
			if in.Description == "" {
				in.Description = fmt.Sprintf("send to %s", in.Queue)
			}
			if in.Properties, err = parseProperties(properties); err != nil {
				return err
			}
			job, err := newSchedulerService(cfg, nil).Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created job %s\n", job.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&in.Queue, "queue", "q", "", "Destination queue (defaults to listener.queue)")
	cmd.Flags().StringVarP(&in.Action, "action", "a", "", "Action tag; empty routes to the wildcard operation")
	cmd.Flags().StringVarP(&in.SessionID, "session", "s", "", "Session ID")
	cmd.Flags().StringVarP(&in.Description, "description", "d", "", "Job description")
	cmd.Flags().StringArrayVarP(&properties, "property", "p", nil, "Message property as key=value (repeatable)")

	return cmd
}

func newScheduleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := newSchedulerService(cfg, nil).Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted job %s\n", args[0])
			return nil
		},
	}
}

func newScheduleRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Send a scheduled job's message now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			svc := newSchedulerService(cfg, nil)
			job, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := cfg.Transport.Validate(); err != nil {
				return fmt.Errorf("transport: %w", err)
			}
			t, err := transportFactory(cmd.Context(), cfg, job.Queue)
			if err != nil {
				return err
			}
			defer t.Close()
			if t.kind == config.TransportMemory {
				return errInProcessTransport
			}

			messageID, err := newSchedulerService(cfg, t.sender).RunNow(cmd.Context(), job.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", messageID, job.Queue)
			return nil
		},
	}
}
