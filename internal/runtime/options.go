package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
	"github.com/neoclaw-ai/brokerhost/internal/dispatch"
	"github.com/neoclaw-ai/brokerhost/internal/journal"
)

const (
	// DefaultMaxConcurrentCalls bounds in-flight deliveries per host.
	DefaultMaxConcurrentCalls = 16
	// DefaultReceiveBackoff is the pause after a failed receive.
	DefaultReceiveBackoff = 200 * time.Millisecond
)

// UnroutablePolicy decides what happens to a locked message whose action
// resolves to no operation.
type UnroutablePolicy int

const (
	// AbandonUnroutable releases the lock so the message is redelivered and
	// eventually dead-lettered by the transport's poison handling.
	AbandonUnroutable UnroutablePolicy = iota
	// DeadLetterUnroutable dead-letters the message immediately.
	DeadLetterUnroutable
)

// UnroutableReason is the dead-letter reason for unroutable messages.
const UnroutableReason = "Unroutable"

// String implements fmt.Stringer.
func (p UnroutablePolicy) String() string {
	if p == DeadLetterUnroutable {
		return "dead_letter"
	}
	return "abandon"
}

// ParseUnroutablePolicy parses a config value.
func ParseUnroutablePolicy(s string) (UnroutablePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abandon":
		return AbandonUnroutable, nil
	case "dead_letter", "deadletter":
		return DeadLetterUnroutable, nil
	default:
		return AbandonUnroutable, fmt.Errorf("invalid unroutable policy %q (allowed: %q, %q)", s, AbandonUnroutable, DeadLetterUnroutable)
	}
}

// Recorder receives journal entries for deliveries that did not complete.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Options configures a Host.
type Options struct {
	// Mode is the delivery contract requested from the endpoint.
	Mode broker.ReceiveMode
	// RequiresSession requires an endpoint that delivers by session.
	RequiresSession bool
	// Unroutable applies to PeekLock deliveries with no matching operation.
	Unroutable UnroutablePolicy
	// MaxConcurrentCalls bounds in-flight deliveries.
	MaxConcurrentCalls int
	// ReceiveBackoff is the pause after a receive error.
	ReceiveBackoff time.Duration
	// Journal, when set, records abandoned, dead-lettered, dropped and
	// unroutable deliveries.
	Journal Recorder
	// Factory, when set, creates a fresh handler instance per message.
	Factory func() dispatch.Handler
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentCalls <= 0 {
		o.MaxConcurrentCalls = DefaultMaxConcurrentCalls
	}
	if o.ReceiveBackoff <= 0 {
		o.ReceiveBackoff = DefaultReceiveBackoff
	}
	return o
}
