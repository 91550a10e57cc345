// Package broker defines the transport contract the listener runtime consumes:
// the message envelope, receive/send endpoints and message settlement.
package broker

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"
)

// Well-known property names set by transports when dead-lettering.
const (
	DeadLetterReasonProperty      = "DeadLetterReason"
	DeadLetterDescriptionProperty = "DeadLetterErrorDescription"
)

// Properties holds application-defined message properties.
type Properties map[string]string

// Disposition records how a delivered message was settled.
type Disposition int

const (
	// Pending means the message has not been settled.
	Pending Disposition = iota
	// Completed means the message was acknowledged and removed.
	Completed
	// Abandoned means the lock was released for redelivery.
	Abandoned
	// DeadLettered means the message was moved aside by the receiver.
	DeadLettered
)

// String implements fmt.Stringer.
func (d Disposition) String() string {
	switch d {
	case Completed:
		return "completed"
	case Abandoned:
		return "abandoned"
	case DeadLettered:
		return "dead_lettered"
	default:
		return "pending"
	}
}

// Settler performs settlement on the transport that delivered a message.
type Settler interface {
	Complete(ctx context.Context, msg *Message) error
	Abandon(ctx context.Context, msg *Message) error
	DeadLetter(ctx context.Context, msg *Message, reason, description string) error
}

// Message is the envelope exchanged with a transport.
//
// Messages delivered in PeekLock mode carry a Settler and can be settled
// exactly once; messages received in ReceiveAndDelete mode, or built locally
// for sending, return ErrNotLocked from every settlement call.
type Message struct {
	ID            string
	SessionID     string
	DeliveryCount int
	ContentType   string
	Body          []byte
	Properties    Properties
	EnqueuedAt    time.Time

	mu          sync.Mutex
	settler     Settler
	disposition Disposition
}

// NewMessage creates an outbound message with an empty property set.
func NewMessage(body []byte) *Message {
	return &Message{
		Body:       body,
		Properties: Properties{},
	}
}

// Property returns a message property.
func (m *Message) Property(key string) (string, bool) {
	if m == nil || m.Properties == nil {
		return "", false
	}
	v, ok := m.Properties[key]
	return v, ok
}

// SetProperty sets a message property, allocating the property map if needed.
func (m *Message) SetProperty(key, value string) {
	if m.Properties == nil {
		m.Properties = Properties{}
	}
	m.Properties[key] = value
}

// Clone returns an unsettled copy without transport binding.
func (m *Message) Clone() *Message {
	body := make([]byte, len(m.Body))
	copy(body, m.Body)
	props := Properties{}
	maps.Copy(props, m.Properties)
	return &Message{
		ID:            m.ID,
		SessionID:     m.SessionID,
		DeliveryCount: m.DeliveryCount,
		ContentType:   m.ContentType,
		Body:          body,
		Properties:    props,
		EnqueuedAt:    m.EnqueuedAt,
	}
}

// Bind attaches the settler used for settlement calls. Transports call it
// once when handing out a locked delivery.
func (m *Message) Bind(s Settler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settler = s
}

// Locked reports whether the message can still be settled.
func (m *Message) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settler != nil && m.disposition == Pending
}

// Disposition reports how the message was settled.
func (m *Message) Disposition() Disposition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposition
}

// Complete acknowledges the message.
func (m *Message) Complete(ctx context.Context) error {
	return m.settle(Completed, func(s Settler) error {
		return s.Complete(ctx, m)
	})
}

// Abandon releases the lock so the transport can redeliver the message.
func (m *Message) Abandon(ctx context.Context) error {
	return m.settle(Abandoned, func(s Settler) error {
		return s.Abandon(ctx, m)
	})
}

// DeadLetter moves the message to the transport's dead-letter destination.
func (m *Message) DeadLetter(ctx context.Context, reason, description string) error {
	return m.settle(DeadLettered, func(s Settler) error {
		return s.DeadLetter(ctx, m, reason, description)
	})
}

func (m *Message) settle(d Disposition, fn func(Settler) error) error {
	m.mu.Lock()
	if m.settler == nil {
		m.mu.Unlock()
		return ErrNotLocked
	}
	if m.disposition != Pending {
		m.mu.Unlock()
		return ErrAlreadySettled
	}
	s := m.settler
	m.disposition = d
	m.mu.Unlock()

	// Settlement callbacks run outside the lock; they may inspect the message.
	if err := fn(s); err != nil {
		m.mu.Lock()
		m.disposition = Pending
		m.mu.Unlock()
		return err
	}
	return nil
}

// IsSettlementConflict reports whether err means the message was settled
// elsewhere or never carried a lock.
func IsSettlementConflict(err error) bool {
	return errors.Is(err, ErrAlreadySettled) || errors.Is(err, ErrNotLocked)
}
