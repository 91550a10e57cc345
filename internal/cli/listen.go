package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/neoclaw-ai/brokerhost/internal/config"
	"github.com/neoclaw-ai/brokerhost/internal/dispatch"
	"github.com/neoclaw-ai/brokerhost/internal/journal"
	"github.com/neoclaw-ai/brokerhost/internal/listener"
	"github.com/neoclaw-ai/brokerhost/internal/logging"
	"github.com/neoclaw-ai/brokerhost/internal/runtime"
	"github.com/neoclaw-ai/brokerhost/internal/samples"
	"github.com/neoclaw-ai/brokerhost/internal/scheduler"
	"github.com/spf13/cobra"
)

func newListenCmd() *cobra.Command {
	var (
		queue   string
		handler string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Listen on the configured queue and dispatch messages to a handler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if queue != "" {
				cfg.Listener.Queue = queue
			}
			if handler != "" {
				cfg.Listener.Handler = handler
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			sample, err := samples.Lookup(cfg.Listener.Handler)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			t, err := transportFactory(runCtx, cfg, cfg.Listener.Queue)
			if err != nil {
				return err
			}
			defer t.Close()

			out := &syncWriter{w: cmd.OutOrStdout()}
			manager := listener.New(nil)
			opts := listenerOptions(cfg)
			if sample.PerMessage {
				_, err = manager.StartFactory(runCtx, t.endpoint, func() dispatch.Handler { return sample.New(out) }, opts)
			} else {
				_, err = manager.Start(runCtx, t.endpoint, sample.New(out), opts)
			}
			if err != nil {
				return err
			}

			service := scheduler.NewService(cfg.JobsPath(), scheduler.NewRunner(t.sender))
			if err := service.Start(runCtx); err != nil {
				stopListeners(cfg, manager)
				return err
			}

			logging.Logger().Info(
				"listening",
				"transport", t.kind,
				"queue", t.endpoint.Name(),
				"handler", sample.Name,
				"receive_mode", opts.Mode,
				"requires_session", opts.RequiresSession,
			)
			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s (%s) with handler %s\n", t.endpoint.Name(), t.kind, sample.Name)

			<-runCtx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Listener.ShutdownTimeout)
			defer cancel()
			errs := []error{service.Stop(shutdownCtx), manager.StopAll(shutdownCtx)}
			if err := errors.Join(errs...); err != nil {
				return err
			}
			logging.Logger().Info("listener stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&queue, "queue", "q", "", "Queue to listen on (overrides listener.queue)")
	cmd.Flags().StringVar(&handler, "handler", "", "Sample handler to serve (overrides listener.handler)")

	return cmd
}

func listenerOptions(cfg *config.Config) runtime.Options {
	l := cfg.Listener
	return runtime.Options{
		Mode:               l.Mode(),
		RequiresSession:    l.RequiresSession,
		Unroutable:         l.UnroutablePolicy(),
		MaxConcurrentCalls: l.MaxConcurrentCalls,
		Journal:            journal.New(cfg.JournalPath()),
	}
}

func stopListeners(cfg *config.Config, manager *listener.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Listener.ShutdownTimeout)
	defer cancel()
	if err := manager.StopAll(ctx); err != nil {
		logging.Logger().Warn("stop listeners failed", "err", err)
	}
}

// syncWriter serializes handler output written from concurrent deliveries.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
