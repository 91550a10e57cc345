package dispatch

import (
	"context"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
)

// ActionProperty is the message property carrying the action tag.
const ActionProperty = "Action"

// SetAction tags msg so it is dispatched to the operation handling action.
// An existing tag is replaced.
func SetAction(msg *broker.Message, action string) *broker.Message {
	msg.SetProperty(ActionProperty, action)
	return msg
}

// ActionOf returns the action tag of msg, or Wildcard when it has none.
func ActionOf(msg *broker.Message) string {
	if v, ok := msg.Property(ActionProperty); ok && v != "" {
		return v
	}
	return Wildcard
}

// HandlerFunc adapts a callback into a Handler whose only operation is the
// conventional wildcard.
type HandlerFunc func(ctx context.Context, msg *broker.Message) error

// Describe implements Handler.
func (f HandlerFunc) Describe(b *Builder) {
	b.Method(ConventionName, Func(f))
}
