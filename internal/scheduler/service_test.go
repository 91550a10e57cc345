package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
	"github.com/neoclaw-ai/brokerhost/internal/broker/memory"
	"github.com/neoclaw-ai/brokerhost/internal/dispatch"
)

func TestRunNowSendsIntoNamespace(t *testing.T) {
	t.Parallel()

	ns := memory.NewNamespace()
	defer ns.Close()
	queue := ns.Queue("orders", memory.QueueOptions{ReceiveWait: 50 * time.Millisecond})

	svc := NewService(filepath.Join(t.TempDir(), "jobs.json"), NewRunner(ns))
	job, err := svc.Create(context.Background(), CreateInput{
		Description: "run now",
		Cron:        "0 9 * * *",
		Queue:       "orders",
		Action:      "EchoOnce",
		Body:        "hello",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	id, err := svc.RunNow(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("run now: %v", err)
	}

	msg, err := queue.Receive(context.Background(), broker.ReceiveAndDelete)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg == nil {
		t.Fatalf("expected a queued message")
	}
	if msg.ID != id {
		t.Fatalf("expected message id %q, got %q", id, msg.ID)
	}
	if dispatch.ActionOf(msg) != "EchoOnce" {
		t.Fatalf("expected EchoOnce action, got %q", dispatch.ActionOf(msg))
	}
}

func TestRunNowMissingJobReturnsError(t *testing.T) {
	t.Parallel()

	svc := NewService(filepath.Join(t.TempDir(), "jobs.json"), NewRunner(SenderFunc(
		func(context.Context, string, *broker.Message) error { return nil },
	)))

	_, err := svc.RunNow(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestStartTwiceReturnsError(t *testing.T) {
	t.Parallel()

	svc := NewService(filepath.Join(t.TempDir(), "jobs.json"), NewRunner(nil))

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer svc.Stop(context.Background())
	if err := svc.Start(context.Background()); err == nil {
		t.Fatalf("expected second start to fail")
	}
}

func TestStopExpiredContextOnUnstartedServiceReturnsNil(t *testing.T) {
	t.Parallel()

	svc := NewService(filepath.Join(t.TempDir(), "jobs.json"), NewRunner(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("expected nil stop error for unstarted service, got %v", err)
	}
}

func TestStartRegistersPersistedJobs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "jobs.json")
	seed := NewService(path, NewRunner(nil))
	job, err := seed.Create(context.Background(), CreateInput{
		Description: "persisted",
		Cron:        "*/5 * * * *",
		Queue:       "orders",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	svc := NewService(path, NewRunner(nil))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, ok := svc.store.entryID(job.ID); !ok {
		t.Fatalf("expected cron entry for persisted job %q", job.ID)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, ok := svc.store.entryID(job.ID); ok {
		t.Fatalf("expected cron entries cleared after stop")
	}
}

func TestCreateAndDeleteManageEntryMappingWhileRunning(t *testing.T) {
	t.Parallel()

	svc := NewService(filepath.Join(t.TempDir(), "jobs.json"), NewRunner(nil))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(context.Background())

	job, err := svc.Create(context.Background(), CreateInput{
		Description: "dynamic register",
		Cron:        "0 9 * * *",
		Queue:       "orders",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, ok := svc.store.entryID(job.ID); !ok {
		t.Fatalf("expected cron entry mapping for job %q", job.ID)
	}

	if err := svc.Delete(context.Background(), job.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := svc.store.entryID(job.ID); ok {
		t.Fatalf("expected cron entry mapping removed for job %q", job.ID)
	}
}
