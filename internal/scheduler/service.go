package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neoclaw-ai/brokerhost/internal/logging"
	"github.com/robfig/cron/v3"
)

// Service runs scheduled jobs persisted at one jobs.json path.
type Service struct {
	store  *jobStore
	runner *Runner
	cron   *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	started bool
}

// NewService creates a cron-backed scheduler service over the jobs file at path.
func NewService(path string, runner *Runner) *Service {
	return &Service{
		store:  newJobStore(path),
		runner: runner,
		cron: cron.New(
			cron.WithLocation(time.Local),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
	}
}

// List returns all persisted jobs.
func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.store.List(ctx)
}

// Get returns one persisted job.
func (s *Service) Get(ctx context.Context, id string) (Job, error) {
	return s.store.Get(ctx, id)
}

// Create persists a job and schedules it when the service is running.
func (s *Service) Create(ctx context.Context, in CreateInput) (Job, error) {
	job, err := s.store.Create(ctx, in)
	if err != nil {
		return Job{}, err
	}
	s.mu.Lock()
	running, runCtx := s.started, s.ctx
	s.mu.Unlock()
	if running {
		if err := s.register(runCtx, job); err != nil {
			return Job{}, err
		}
	}
	return job, nil
}

// Delete removes a job and its cron entry.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.unregister(id)
	return nil
}

// Start loads enabled jobs from the store and starts cron execution.
// Scheduled sends run on ctx until Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}

	jobs, err := s.store.List(ctx)
	if err != nil {
		return err
	}

	registered := 0
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		if err := s.register(ctx, job); err != nil {
			return err
		}
		registered++
	}

	s.cron.Start()
	s.ctx = ctx
	s.started = true
	logging.Logger().Info("scheduler started", "jobs_registered", registered)
	return nil
}

// Stop stops cron and waits for in-flight sends to finish or ctx cancellation.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	doneCtx := s.cron.Stop()
	s.started = false
	s.mu.Unlock()

	for _, entry := range s.cron.Entries() {
		s.cron.Remove(entry.ID)
	}
	s.store.clearEntryIDs()

	select {
	case <-doneCtx.Done():
		logging.Logger().Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow sends one job immediately by ID and returns the sent message ID.
func (s *Service) RunNow(ctx context.Context, jobID string) (string, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return "", err
	}

	logging.Logger().Info(
		"job run",
		"job_id", job.ID,
		"source", "manual",
		"queue", job.Queue,
		"action", job.Action,
	)

	messageID, err := s.runner.Run(ctx, job)
	if err != nil {
		logging.Logger().Warn(
			"job run failed",
			"job_id", job.ID,
			"source", "manual",
			"err", err,
		)
		return "", err
	}

	logging.Logger().Info(
		"job run complete",
		"job_id", job.ID,
		"source", "manual",
		"message_id", messageID,
	)
	return messageID, nil
}

func (s *Service) register(ctx context.Context, job Job) error {
	entryID, err := s.cron.AddFunc(job.Cron, func() {
		messageID, runErr := s.runner.Run(ctx, job)
		if runErr != nil {
			logging.Logger().Warn(
				"scheduled job failed",
				"job_id", job.ID,
				"queue", job.Queue,
				"err", runErr,
			)
			return
		}
		logging.Logger().Info(
			"scheduled job sent",
			"job_id", job.ID,
			"queue", job.Queue,
			"action", job.Action,
			"message_id", messageID,
		)
	})
	if err != nil {
		return fmt.Errorf("register cron job %q: %w", job.ID, err)
	}
	s.store.setEntryID(job.ID, entryID)
	return nil
}

func (s *Service) unregister(jobID string) {
	entryID, ok := s.store.entryID(jobID)
	if !ok {
		return
	}
	s.cron.Remove(entryID)
	s.store.deleteEntryID(jobID)
}
