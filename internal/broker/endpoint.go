package broker

import (
	"context"
	"fmt"
	"strings"
)

// ReceiveMode selects the delivery contract requested from a Receiver.
type ReceiveMode int

const (
	// PeekLock hands out locked messages that must be settled explicitly.
	PeekLock ReceiveMode = iota
	// ReceiveAndDelete removes messages on receipt; nothing is settled.
	ReceiveAndDelete
)

// String implements fmt.Stringer.
func (m ReceiveMode) String() string {
	switch m {
	case ReceiveAndDelete:
		return "receive_and_delete"
	default:
		return "peek_lock"
	}
}

// ParseReceiveMode parses a config value into a ReceiveMode.
func ParseReceiveMode(s string) (ReceiveMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "peek_lock", "peeklock":
		return PeekLock, nil
	case "receive_and_delete", "receiveanddelete":
		return ReceiveAndDelete, nil
	default:
		return PeekLock, fmt.Errorf("invalid receive mode %q (allowed: %q, %q)", s, PeekLock, ReceiveAndDelete)
	}
}

// Sender publishes messages to a destination.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// Receiver pulls messages from a source.
//
// Receive blocks until a message arrives, the receiver's wait window elapses
// or ctx is done. A nil message with a nil error means nothing arrived in the
// wait window.
type Receiver interface {
	Receive(ctx context.Context, mode ReceiveMode) (*Message, error)
}

// Endpoint is one addressable queue or subscription. Endpoints are used as
// registry keys, so implementations must be comparable (pointer types).
type Endpoint interface {
	Receiver
	Name() string
}

// SessionEndpoint is implemented by endpoints that can deliver messages
// sharing a session ID one at a time, in order.
type SessionEndpoint interface {
	Endpoint
	RequiresSession() bool
}

// SupportsSessions reports whether ep guarantees per-session ordering.
func SupportsSessions(ep Endpoint) bool {
	s, ok := ep.(SessionEndpoint)
	return ok && s.RequiresSession()
}
