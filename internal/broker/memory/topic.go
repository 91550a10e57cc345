package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
)

// ErrDuplicateSubscription is returned when subscribing twice with one name.
var ErrDuplicateSubscription = errors.New("memory: subscription already exists")

// Topic fans every sent message out to its subscriptions.
type Topic struct {
	name string

	mu   sync.RWMutex
	subs map[string]*Queue
}

// NewTopic creates a topic with no subscriptions.
func NewTopic(name string) *Topic {
	return &Topic{name: name, subs: make(map[string]*Queue)}
}

// Name returns the topic path.
func (t *Topic) Name() string {
	return t.name
}

// Subscribe adds a named subscription. The returned queue is the endpoint a
// listener receives from.
func (t *Topic) Subscribe(name string, opts QueueOptions) (*Queue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[name]; ok {
		return nil, fmt.Errorf("subscribe %s/%s: %w", t.name, name, ErrDuplicateSubscription)
	}
	sub := NewQueue(t.name+"/subscriptions/"+name, opts)
	t.subs[name] = sub
	return sub, nil
}

// Subscription returns a subscription by name.
func (t *Topic) Subscription(name string) (*Queue, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sub, ok := t.subs[name]
	return sub, ok
}

// Subscriptions returns subscription names in sorted order.
func (t *Topic) Subscriptions() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.subs))
	for name := range t.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send delivers a copy of msg to every subscription.
func (t *Topic) Send(ctx context.Context, msg *broker.Message) error {
	t.mu.RLock()
	subs := make([]*Queue, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.RUnlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
