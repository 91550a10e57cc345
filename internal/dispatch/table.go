package dispatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
)

// Binding ties an action to one handler operation.
type Binding struct {
	Action    string
	Operation string
	Async     bool

	call invoker
}

// Invoke runs the operation with msg and waits for it to finish.
func (b Binding) Invoke(ctx context.Context, msg *broker.Message) error {
	if b.call == nil {
		return fmt.Errorf("dispatch: operation %q is not bound", b.Operation)
	}
	return b.call(ctx, msg)
}

// Rebind returns the same binding pointed at the operation of another
// instance of the handler type.
func (b Binding) Rebind(h Handler) (Binding, error) {
	if h == nil {
		return Binding{}, fmt.Errorf("%w: nil handler", ErrConfiguration)
	}
	builder := &Builder{}
	h.Describe(builder)
	op, ok := builder.lookup(b.Operation)
	if !ok {
		return Binding{}, fmt.Errorf("%w: %T has no operation %q", ErrConfiguration, h, b.Operation)
	}
	call, async, ok := adapt(op.fn)
	if !ok {
		return Binding{}, fmt.Errorf("%w: %T operation %q has an unsupported signature", ErrConfiguration, h, b.Operation)
	}
	b.call = call
	b.Async = async
	return b, nil
}

// Table is the immutable action to operation mapping of one handler type.
// It is safe for concurrent use.
type Table struct {
	handler         string
	actions         map[string]Binding
	wildcard        *Binding
	requiresSession bool
}

// Handler returns the handler type name the table was built from.
func (t *Table) Handler() string {
	return t.handler
}

// Resolve returns the binding for action, falling back to the wildcard.
func (t *Table) Resolve(action string) (Binding, error) {
	if b, ok := t.actions[action]; ok {
		return b, nil
	}
	if t.wildcard != nil {
		return *t.wildcard, nil
	}
	return Binding{}, fmt.Errorf("%w: no operation for action %q on %s", ErrUnroutable, action, t.handler)
}

// Select resolves the action carried by msg.
func (t *Table) Select(msg *broker.Message) (Binding, error) {
	return t.Resolve(ActionOf(msg))
}

// Wildcard returns the wildcard binding, if one is bound.
func (t *Table) Wildcard() (Binding, bool) {
	if t.wildcard == nil {
		return Binding{}, false
	}
	return *t.wildcard, true
}

// Bindings returns all bindings sorted by action.
func (t *Table) Bindings() []Binding {
	out := make([]Binding, 0, len(t.actions))
	for _, b := range t.actions {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Action < out[j].Action
	})
	return out
}

// Len returns the number of bound actions, including the wildcard.
func (t *Table) Len() int {
	return len(t.actions)
}

// RequiresSession reports whether listeners for this table need sessions.
func (t *Table) RequiresSession() bool {
	return t.requiresSession
}
