package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
)

// Namespace holds named queues and topics so that senders and listeners in
// one process can address the same entities by path.
type Namespace struct {
	mu     sync.Mutex
	queues map[string]*Queue
	topics map[string]*Topic
}

// NewNamespace creates an empty namespace.
func NewNamespace() *Namespace {
	return &Namespace{
		queues: make(map[string]*Queue),
		topics: make(map[string]*Topic),
	}
}

// Queue returns the named queue, creating it with opts on first use.
func (n *Namespace) Queue(name string, opts QueueOptions) *Queue {
	n.mu.Lock()
	defer n.mu.Unlock()
	if q, ok := n.queues[name]; ok {
		return q
	}
	q := NewQueue(name, opts)
	n.queues[name] = q
	return q
}

// Topic returns the named topic, creating it on first use.
func (n *Namespace) Topic(name string) *Topic {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.topics[name]; ok {
		return t
	}
	t := NewTopic(name)
	n.topics[name] = t
	return t
}

// Send delivers msg to an existing queue or topic by name.
func (n *Namespace) Send(ctx context.Context, name string, msg *broker.Message) error {
	n.mu.Lock()
	q, isQueue := n.queues[name]
	t, isTopic := n.topics[name]
	n.mu.Unlock()

	switch {
	case isQueue:
		return q.Send(ctx, msg)
	case isTopic:
		return t.Send(ctx, msg)
	default:
		return fmt.Errorf("memory: no queue or topic named %q", name)
	}
}

// Close closes every queue and subscription.
func (n *Namespace) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, q := range n.queues {
		_ = q.Close()
	}
	for _, t := range n.topics {
		for _, name := range t.Subscriptions() {
			if sub, ok := t.Subscription(name); ok {
				_ = sub.Close()
			}
		}
	}
	return nil
}
