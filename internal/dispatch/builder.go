// Package dispatch turns a handler's declared operations into an immutable
// action table and selects the operation for each inbound message.
package dispatch

import (
	"fmt"
	"strings"

	"github.com/neoclaw-ai/brokerhost/internal/logging"
)

const (
	// Wildcard is the reserved action matching messages with no tag or an
	// unknown tag.
	Wildcard = "*"

	// ConventionName is the operation name bound as wildcard by convention.
	ConventionName = "OnReceiveMessage"
)

// Handler is implemented by message handler types. Describe lists the type's
// public operations in declaration order.
type Handler interface {
	Describe(b *Builder)
}

// Builder collects a handler's operations.
type Builder struct {
	ops  []operation
	errs []error
}

type operation struct {
	name      string
	action    string
	annotated bool
	fn        any
}

// On declares an operation that handles the given action.
func (b *Builder) On(action, name string, fn any) {
	if strings.TrimSpace(action) == "" {
		b.errs = append(b.errs, fmt.Errorf("%w: operation %q has an empty action", ErrConfiguration, name))
		return
	}
	b.add(operation{name: name, action: action, annotated: true, fn: fn})
}

// Default declares the operation bound to the wildcard action.
func (b *Builder) Default(name string, fn any) {
	b.On(Wildcard, name, fn)
}

// Method declares a public operation without an action. It is eligible for
// the wildcard role by name or by being the only usable operation.
func (b *Builder) Method(name string, fn any) {
	b.add(operation{name: name, fn: fn})
}

func (b *Builder) add(op operation) {
	if strings.TrimSpace(op.name) == "" {
		b.errs = append(b.errs, fmt.Errorf("%w: operation name is required", ErrConfiguration))
		return
	}
	for _, existing := range b.ops {
		if existing.name == op.name {
			b.errs = append(b.errs, fmt.Errorf("%w: %q", ErrDuplicateOperation, op.name))
			return
		}
	}
	b.ops = append(b.ops, op)
}

func (b *Builder) lookup(name string) (operation, bool) {
	for _, op := range b.ops {
		if op.name == name {
			return op, true
		}
	}
	return operation{}, false
}

// BuildOptions configures table construction.
type BuildOptions struct {
	// RequiresSession marks the table's contract as session-bound.
	RequiresSession bool
}

// Build describes h and produces its dispatch table.
//
// Explicit actions are bound first. When none of them is the wildcard, the
// operation named ConventionName is bound as wildcard; when there is no such
// operation, the only operation with an accepted shape is. Neither fallback
// binds an operation that already declares an action. Operations with an
// unsupported shape are skipped.
func Build(h Handler, opts BuildOptions) (*Table, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: nil handler", ErrConfiguration)
	}
	b := &Builder{}
	h.Describe(b)
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("describe %T: %w", h, b.errs[0])
	}

	logger := logging.Logger()
	t := &Table{
		handler:         fmt.Sprintf("%T", h),
		actions:         make(map[string]Binding),
		requiresSession: opts.RequiresSession,
	}

	var usable []operation
	for _, op := range b.ops {
		call, async, ok := adapt(op.fn)
		if !ok {
			if op.annotated {
				logger.Warn(
					"skipping operation with unsupported signature",
					"handler", t.handler,
					"operation", op.name,
					"action", op.action,
					"type", fmt.Sprintf("%T", op.fn),
				)
			}
			continue
		}
		usable = append(usable, op)
		if !op.annotated {
			continue
		}
		if _, exists := t.actions[op.action]; exists {
			return nil, fmt.Errorf("describe %T: %w %q", h, ErrDuplicateAction, op.action)
		}
		binding := Binding{Action: op.action, Operation: op.name, Async: async, call: call}
		t.actions[op.action] = binding
		if op.action == Wildcard {
			t.wildcard = &binding
		}
	}

	if t.wildcard == nil {
		if op, ok := inferWildcard(b, usable); ok && !op.annotated {
			call, async, _ := adapt(op.fn)
			binding := Binding{Action: Wildcard, Operation: op.name, Async: async, call: call}
			t.actions[Wildcard] = binding
			t.wildcard = &binding
		}
	}

	if len(t.actions) == 0 {
		return nil, fmt.Errorf("describe %T: %w", h, ErrNoHandlers)
	}
	return t, nil
}

// inferWildcard finds the conventionally named operation, or failing that the
// single usable operation. An ambiguous set yields nothing.
func inferWildcard(b *Builder, usable []operation) (operation, bool) {
	if op, ok := b.lookup(ConventionName); ok {
		if _, _, shapeOK := adapt(op.fn); shapeOK {
			return op, true
		}
	}
	if len(usable) == 1 {
		return usable[0], true
	}
	return operation{}, false
}
