// Package scheduler provides persistent job storage and cron-driven message sends.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neoclaw-ai/brokerhost/internal/logging"
	"github.com/neoclaw-ai/brokerhost/internal/store"
	"github.com/robfig/cron/v3"
)

// ErrJobNotFound is returned when no job carries the requested ID.
var ErrJobNotFound = errors.New("scheduler: job not found")

// Job is one persisted scheduled send in jobs.json.
type Job struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Cron        string            `json:"cron"`
	Queue       string            `json:"queue"`
	Action      string            `json:"action,omitempty"`
	Body        string            `json:"body"`
	SessionID   string            `json:"session_id,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
	Enabled     bool              `json:"enabled"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// CreateInput contains fields required to create a job.
type CreateInput struct {
	Description string
	Cron        string
	Queue       string
	Action      string
	Body        string
	SessionID   string
	Properties  map[string]string
}

// jobStore manages CRUD operations for jobs persisted at one jobs.json path.
type jobStore struct {
	path     string
	mu       sync.Mutex
	entryIDs map[string]cron.EntryID
}

func newJobStore(path string) *jobStore {
	return &jobStore{
		path:     path,
		entryIDs: make(map[string]cron.EntryID),
	}
}

// List returns all jobs from jobs.json.
func (s *jobStore) List(ctx context.Context) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// Get returns one job by ID.
func (s *jobStore) Get(ctx context.Context, id string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	target := strings.TrimSpace(id)
	if target == "" {
		return Job{}, errors.New("job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.readLocked()
	if err != nil {
		return Job{}, err
	}
	for _, job := range jobs {
		if job.ID == target {
			return job, nil
		}
	}
	return Job{}, fmt.Errorf("job %s: %w", target, ErrJobNotFound)
}

// Create validates and persists a new enabled job.
func (s *jobStore) Create(ctx context.Context, in CreateInput) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.readLocked()
	if err != nil {
		return Job{}, err
	}

	now := time.Now().UTC()
	job := Job{
		ID:          newJobID(),
		Description: strings.TrimSpace(in.Description),
		Cron:        strings.TrimSpace(in.Cron),
		Queue:       strings.TrimSpace(in.Queue),
		Action:      strings.TrimSpace(in.Action),
		Body:        in.Body,
		SessionID:   strings.TrimSpace(in.SessionID),
		Properties:  maps.Clone(in.Properties),
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validateJob(job); err != nil {
		return Job{}, err
	}

	jobs = append(jobs, job)
	if err := s.writeLocked(jobs); err != nil {
		return Job{}, err
	}
	logging.Logger().Info(
		"scheduled job created",
		"job_id", job.ID,
		"description", job.Description,
		"cron", job.Cron,
		"queue", job.Queue,
		"action", job.Action,
	)
	return job, nil
}

// Delete removes one job by ID.
func (s *jobStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := strings.TrimSpace(id)
	if target == "" {
		return errors.New("job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.readLocked()
	if err != nil {
		return err
	}
	for i := range jobs {
		if jobs[i].ID != target {
			continue
		}
		jobs = append(jobs[:i], jobs[i+1:]...)
		if err := s.writeLocked(jobs); err != nil {
			return err
		}
		logging.Logger().Info("scheduled job deleted", "job_id", target)
		return nil
	}
	return fmt.Errorf("job %s: %w", target, ErrJobNotFound)
}

func (s *jobStore) setEntryID(jobID string, entryID cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryIDs[jobID] = entryID
}

func (s *jobStore) entryID(jobID string) (cron.EntryID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entryID, ok := s.entryIDs[jobID]
	return entryID, ok
}

func (s *jobStore) deleteEntryID(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entryIDs, jobID)
}

func (s *jobStore) clearEntryIDs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entryIDs)
}

func (s *jobStore) readLocked() ([]Job, error) {
	if strings.TrimSpace(s.path) == "" {
		return nil, errors.New("jobs store path is required")
	}

	content, err := store.ReadFile(s.path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return []Job{}, nil
	default:
		return nil, fmt.Errorf("read jobs file %s: %w", s.path, err)
	}

	if len(strings.TrimSpace(content)) == 0 {
		return []Job{}, nil
	}

	var jobs []Job
	if err := json.Unmarshal([]byte(content), &jobs); err != nil {
		return nil, fmt.Errorf("decode jobs file %s: %w", s.path, err)
	}
	for _, job := range jobs {
		if err := validateJob(job); err != nil {
			return nil, fmt.Errorf("invalid job %s: %w", job.ID, err)
		}
	}
	return jobs, nil
}

func (s *jobStore) writeLocked(jobs []Job) error {
	if strings.TrimSpace(s.path) == "" {
		return errors.New("jobs store path is required")
	}

	encoded, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode jobs: %w", err)
	}
	encoded = append(encoded, '\n')

	if err := store.WriteFile(s.path, encoded); err != nil {
		return fmt.Errorf("replace jobs file: %w", err)
	}
	return nil
}

func validateJob(job Job) error {
	if strings.TrimSpace(job.ID) == "" {
		return errors.New("job id is required")
	}
	if strings.TrimSpace(job.Description) == "" {
		return errors.New("job description is required")
	}
	if strings.TrimSpace(job.Queue) == "" {
		return errors.New("job queue is required")
	}
	return validateCron(job.Cron)
}

func validateCron(spec string) error {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return errors.New("job cron is required")
	}
	if _, err := cron.ParseStandard(trimmed); err != nil {
		return fmt.Errorf("invalid cron expression %s: %w", spec, err)
	}
	return nil
}

func newJobID() string {
	return "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
