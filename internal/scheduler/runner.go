package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
	"github.com/neoclaw-ai/brokerhost/internal/dispatch"
)

// Sender delivers a message to a named queue or topic.
type Sender interface {
	Send(ctx context.Context, queue string, msg *broker.Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, queue string, msg *broker.Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, queue string, msg *broker.Message) error {
	return f(ctx, queue, msg)
}

// ScheduledJobProperty carries the ID of the job that sent a message.
const ScheduledJobProperty = "ScheduledJob"

// Runner turns jobs into action-tagged messages and sends them.
type Runner struct {
	sender Sender
}

// NewRunner constructs a scheduler runner that sends through sender.
func NewRunner(sender Sender) *Runner {
	return &Runner{sender: sender}
}

// Run sends one message for job and returns the sent message ID.
func (r *Runner) Run(ctx context.Context, job Job) (string, error) {
	if r.sender == nil {
		return "", errors.New("scheduler sender is not configured")
	}
	msg := Message(job)
	if err := r.sender.Send(ctx, job.Queue, msg); err != nil {
		return "", fmt.Errorf("send job %s to %s: %w", job.ID, job.Queue, err)
	}
	return msg.ID, nil
}

// Message builds the message a job sends. An empty job action leaves the
// message untagged so it resolves to the wildcard operation.
func Message(job Job) *broker.Message {
	msg := broker.NewMessage([]byte(job.Body))
	msg.SessionID = job.SessionID
	for key, value := range job.Properties {
		msg.SetProperty(key, value)
	}
	if job.ID != "" {
		msg.SetProperty(ScheduledJobProperty, job.ID)
	}
	if job.Action != "" {
		dispatch.SetAction(msg, job.Action)
	}
	return msg
}
