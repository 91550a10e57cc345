package cli

import (
	"fmt"
	"strings"

	"github.com/neoclaw-ai/brokerhost/internal/config"
	"github.com/neoclaw-ai/brokerhost/internal/scheduler"
	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	var (
		queue      string
		action     string
		session    string
		properties []string
	)

	cmd := &cobra.Command{
		Use:   "send <body>",
		Short: "Send one action-tagged message to a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Transport.Validate(); err != nil {
				return fmt.Errorf("transport: %w", err)
			}
			if queue == "" {
				queue = cfg.Listener.Queue
			}
			props, err := parseProperties(properties)
			if err != nil {
				return err
			}

			t, err := transportFactory(cmd.Context(), cfg, queue)
			if err != nil {
				return err
			}
			defer t.Close()
			if t.kind == config.TransportMemory {
				return errInProcessTransport
			}

			msg := scheduler.Message(scheduler.Job{
				Queue:      queue,
				Action:     action,
				Body:       args[0],
				SessionID:  session,
				Properties: props,
			})
			if err := t.sender.Send(cmd.Context(), queue, msg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", msg.ID, queue)
			return nil
		},
	}

	cmd.Flags().StringVarP(&queue, "queue", "q", "", "Destination queue (defaults to listener.queue)")
	cmd.Flags().StringVarP(&action, "action", "a", "", "Action tag; empty routes to the wildcard operation")
	cmd.Flags().StringVarP(&session, "session", "s", "", "Session ID")
	cmd.Flags().StringArrayVarP(&properties, "property", "p", nil, "Message property as key=value (repeatable)")

	return cmd
}

func parseProperties(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q (want key=value)", pair)
		}
		out[key] = value
	}
	return out, nil
}
