// Package cli wires Cobra subcommands to application dependencies; it is a thin controller with no business logic.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/neoclaw-ai/brokerhost/internal/bootstrap"
	"github.com/neoclaw-ai/brokerhost/internal/config"
	"github.com/neoclaw-ai/brokerhost/internal/logging"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command and registers all subcommands.
func NewRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "brokerhost",
		Short: "Action-dispatching message listener host",
		// Let main handle fatal error rendering through structured logs.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logging.SetLevel(slog.LevelWarn)

			// config and version only read state and must not bootstrap the home tree.
			switch cmd.Name() {
			case "config", "version":
				if verbose {
					logging.SetLevel(slog.LevelInfo)
				}
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level, err := logging.ParseLevel(cfg.Log.Level)
			if err != nil {
				return fmt.Errorf("log.level: %w", err)
			}
			if verbose && level > slog.LevelInfo {
				level = slog.LevelInfo
			}
			logging.SetLevel(level)

			configPath := cfg.ConfigPath()
			firstRun := false
			if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
				firstRun = true
			} else if err != nil {
				return fmt.Errorf("stat brokerhost config file %q: %w", configPath, err)
			}

			if err := bootstrap.Initialize(cfg); err != nil {
				return err
			}
			if firstRun {
				if _, err := fmt.Fprintf(cmd.ErrOrStderr(), "Created default config: %s\n", configPath); err != nil {
					return err
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default to `brokerhost listen` when no subcommand is provided.
			listenCmd, _, err := cmd.Find([]string{"listen"})
			if err != nil {
				return err
			}
			listenCmd.SetContext(cmd.Context())
			return listenCmd.RunE(listenCmd, args)
		},
	}

	root.AddCommand(newConfigCmd())
	root.AddCommand(newListenCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newDemoCmd())
	root.AddCommand(newHandlersCmd())
	root.AddCommand(newScheduleCmd())
	root.AddCommand(newJournalCmd())
	root.AddCommand(newVersionCmd())
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging (info level)")

	return root
}
