// Package memory implements in-process queues, topics and subscriptions.
//
// The transport honours peek-lock settlement, per-session delivery locks and
// max-delivery-count poison handling, and keeps a dead-letter sub-queue for
// every queue. It is used by tests, the demo scenarios and single-process
// listeners.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neoclaw-ai/brokerhost/internal/broker"
)

const (
	// DefaultMaxDeliveryCount matches the broker default for new queues.
	DefaultMaxDeliveryCount = 10
	// DefaultReceiveWait bounds how long Receive blocks when the queue is empty.
	DefaultReceiveWait = time.Second

	// MaxDeliveryCountExceeded is the dead-letter reason used for poison messages.
	MaxDeliveryCountExceeded = "MaxDeliveryCountExceeded"

	deadLetterSuffix = "/$deadletterqueue"
)

var (
	// ErrSessionRequired is returned when sending without a session ID to a
	// queue that requires sessions.
	ErrSessionRequired = errors.New("memory: queue requires a session id")

	// ErrLockLost is returned when settling a delivery whose lock is no
	// longer held.
	ErrLockLost = errors.New("memory: message lock lost")
)

// QueueOptions configures a Queue.
type QueueOptions struct {
	RequiresSession  bool
	MaxDeliveryCount int
	ReceiveWait      time.Duration
}

func (o QueueOptions) withDefaults() QueueOptions {
	if o.MaxDeliveryCount <= 0 {
		o.MaxDeliveryCount = DefaultMaxDeliveryCount
	}
	if o.ReceiveWait <= 0 {
		o.ReceiveWait = DefaultReceiveWait
	}
	return o
}

// Queue is an in-process FIFO queue.
type Queue struct {
	name string
	opts QueueOptions

	mu       sync.Mutex
	pending  []*broker.Message
	inflight map[string]*broker.Message
	sessions map[string]bool
	changed  chan struct{}
	closed   bool

	deadLetter *Queue
}

// NewQueue creates a queue with its dead-letter sub-queue.
func NewQueue(name string, opts QueueOptions) *Queue {
	q := newQueue(name, opts)
	q.deadLetter = newQueue(name+deadLetterSuffix, QueueOptions{ReceiveWait: q.opts.ReceiveWait})
	return q
}

func newQueue(name string, opts QueueOptions) *Queue {
	return &Queue{
		name:     name,
		opts:     opts.withDefaults(),
		inflight: make(map[string]*broker.Message),
		sessions: make(map[string]bool),
		changed:  make(chan struct{}),
	}
}

// Name returns the queue path.
func (q *Queue) Name() string {
	return q.name
}

// RequiresSession reports whether the queue delivers by session.
func (q *Queue) RequiresSession() bool {
	return q.opts.RequiresSession
}

// DeadLetterQueue returns the queue's dead-letter sub-queue.
func (q *Queue) DeadLetterQueue() *Queue {
	return q.deadLetter
}

// Len returns the number of messages waiting for delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InFlight returns the number of locked, unsettled deliveries.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Send enqueues a copy of msg.
func (q *Queue) Send(ctx context.Context, msg *broker.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg == nil {
		return errors.New("memory: nil message")
	}
	if q.opts.RequiresSession && msg.SessionID == "" {
		return fmt.Errorf("send to %s: %w", q.name, ErrSessionRequired)
	}

	stored := msg.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.DeliveryCount = 0
	stored.EnqueuedAt = time.Now().UTC()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return broker.ErrClosed
	}
	q.pending = append(q.pending, stored)
	q.notifyLocked()
	return nil
}

// Receive returns the next deliverable message, waiting up to the configured
// receive window. In PeekLock mode the message is locked until settled and,
// for session queues, its session is locked with it.
func (q *Queue) Receive(ctx context.Context, mode broker.ReceiveMode) (*broker.Message, error) {
	timer := time.NewTimer(q.opts.ReceiveWait)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, broker.ErrClosed
		}
		if msg := q.takeLocked(mode); msg != nil {
			q.mu.Unlock()
			return msg, nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-changed:
		}
	}
}

// Close wakes blocked receivers and rejects further use.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.notifyLocked()
	return nil
}

func (q *Queue) takeLocked(mode broker.ReceiveMode) *broker.Message {
	for i, stored := range q.pending {
		if q.opts.RequiresSession && q.sessions[stored.SessionID] {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		stored.DeliveryCount++

		delivered := stored.Clone()
		if mode == broker.ReceiveAndDelete {
			return delivered
		}

		token := uuid.NewString()
		q.inflight[token] = stored
		if q.opts.RequiresSession {
			q.sessions[stored.SessionID] = true
		}
		delivered.Bind(&lock{queue: q, token: token})
		return delivered
	}
	return nil
}

// releaseLocked removes a delivery from the in-flight set and unlocks its session.
func (q *Queue) releaseLocked(token string) (*broker.Message, error) {
	stored, ok := q.inflight[token]
	if !ok {
		return nil, ErrLockLost
	}
	delete(q.inflight, token)
	if q.opts.RequiresSession {
		delete(q.sessions, stored.SessionID)
	}
	q.notifyLocked()
	return stored, nil
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) deadLetterLocked(stored *broker.Message, reason, description string) {
	moved := stored.Clone()
	moved.SetProperty(broker.DeadLetterReasonProperty, reason)
	moved.SetProperty(broker.DeadLetterDescriptionProperty, description)

	dlq := q.deadLetter
	if dlq == nil {
		return
	}
	dlq.mu.Lock()
	dlq.pending = append(dlq.pending, moved)
	dlq.notifyLocked()
	dlq.mu.Unlock()
}

// lock settles one peek-locked delivery.
type lock struct {
	queue *Queue
	token string
}

func (l *lock) Complete(_ context.Context, _ *broker.Message) error {
	q := l.queue
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.releaseLocked(l.token)
	return err
}

func (l *lock) Abandon(_ context.Context, _ *broker.Message) error {
	q := l.queue
	q.mu.Lock()
	defer q.mu.Unlock()
	stored, err := q.releaseLocked(l.token)
	if err != nil {
		return err
	}
	if stored.DeliveryCount >= q.opts.MaxDeliveryCount {
		q.deadLetterLocked(stored, MaxDeliveryCountExceeded,
			"message could not be consumed after "+strconv.Itoa(stored.DeliveryCount)+" delivery attempts")
		return nil
	}
	// Requeue at the head so redelivery keeps arrival order.
	q.pending = append([]*broker.Message{stored}, q.pending...)
	return nil
}

func (l *lock) DeadLetter(_ context.Context, _ *broker.Message, reason, description string) error {
	q := l.queue
	q.mu.Lock()
	defer q.mu.Unlock()
	stored, err := q.releaseLocked(l.token)
	if err != nil {
		return err
	}
	q.deadLetterLocked(stored, reason, description)
	return nil
}
