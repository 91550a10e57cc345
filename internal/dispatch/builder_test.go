package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
)

type recorder struct {
	calls []string
}

func (r *recorder) op(name string) Func {
	return func(context.Context, *broker.Message) error {
		r.calls = append(r.calls, name)
		return nil
	}
}

// describeFunc lets a test declare operations inline.
type describeFunc func(b *Builder)

func (f describeFunc) Describe(b *Builder) { f(b) }

func TestBuildExplicitWildcardWinsOverOtherCandidates(t *testing.T) {
	r := &recorder{}
	table, err := Build(describeFunc(func(b *Builder) {
		b.Method(ConventionName, r.op(ConventionName))
		b.Default("CatchAll", r.op("CatchAll"))
		b.Method("Other", r.op("Other"))
	}), BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	wildcard, ok := table.Wildcard()
	if !ok || wildcard.Operation != "CatchAll" {
		t.Fatalf("expected explicit wildcard CatchAll, got %+v ok=%v", wildcard, ok)
	}
	if table.Len() != 1 {
		t.Fatalf("expected only the explicit binding, got %d", table.Len())
	}
}

func TestResolveExplicitActions(t *testing.T) {
	r := &recorder{}
	table, err := Build(describeFunc(func(b *Builder) {
		b.On("A", "HandleA", r.op("HandleA"))
		b.On("B", "HandleB", r.op("HandleB"))
	}), BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	for action, want := range map[string]string{"A": "HandleA", "B": "HandleB"} {
		binding, err := table.Resolve(action)
		if err != nil {
			t.Fatalf("resolve %s: %v", action, err)
		}
		if binding.Operation != want || binding.Action != action {
			t.Fatalf("resolve %s: got %+v", action, binding)
		}
		if err := binding.Invoke(context.Background(), broker.NewMessage(nil)); err != nil {
			t.Fatalf("invoke %s: %v", action, err)
		}
	}
	if len(r.calls) != 2 || r.calls[0] == r.calls[1] {
		t.Fatalf("unexpected calls %v", r.calls)
	}

	if _, err := table.Resolve("C"); !errors.Is(err, ErrUnroutable) {
		t.Fatalf("expected ErrUnroutable for C, got %v", err)
	}
	if _, ok := table.Wildcard(); ok {
		t.Fatalf("expected no wildcard when both operations are annotated")
	}
}

func TestBuildConventionNameBecomesWildcard(t *testing.T) {
	r := &recorder{}
	table, err := Build(describeFunc(func(b *Builder) {
		b.On("Echo", "Echo", r.op("Echo"))
		b.Method("Helper", r.op("Helper"))
		b.Method(ConventionName, r.op(ConventionName))
	}), BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	binding, err := table.Resolve("Unknown")
	if err != nil {
		t.Fatalf("resolve unknown: %v", err)
	}
	if binding.Operation != ConventionName || binding.Action != Wildcard {
		t.Fatalf("expected convention wildcard, got %+v", binding)
	}
}

func TestBuildAnnotatedConventionMethodIsNotWildcard(t *testing.T) {
	r := &recorder{}
	table, err := Build(describeFunc(func(b *Builder) {
		b.On("Receive", ConventionName, r.op(ConventionName))
		b.Method("Only", r.op("Only"))
	}), BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := table.Wildcard(); ok {
		t.Fatalf("expected no wildcard when the conventional operation carries an action")
	}
}

func TestBuildUniqueSignatureBecomesWildcard(t *testing.T) {
	r := &recorder{}
	table, err := Build(describeFunc(func(b *Builder) {
		b.Method("Process", r.op("Process"))
		b.Method("Describe", func() string { return "not a handler" })
	}), BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	binding, err := table.Select(broker.NewMessage(nil))
	if err != nil {
		t.Fatalf("select untagged: %v", err)
	}
	if binding.Operation != "Process" {
		t.Fatalf("expected unique operation Process as wildcard, got %+v", binding)
	}
}

func TestBuildAmbiguousSignaturesBindNoWildcard(t *testing.T) {
	r := &recorder{}
	table, err := Build(describeFunc(func(b *Builder) {
		b.On("A", "HandleA", r.op("HandleA"))
		b.Method("First", r.op("First"))
		b.Method("Second", r.op("Second"))
	}), BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := table.Wildcard(); ok {
		t.Fatalf("expected no wildcard for ambiguous operations")
	}
	if _, err := table.Resolve("B"); !errors.Is(err, ErrUnroutable) {
		t.Fatalf("expected ErrUnroutable, got %v", err)
	}
}

func TestBuildAmbiguousUnannotatedFailsWithNoHandlers(t *testing.T) {
	r := &recorder{}
	_, err := Build(describeFunc(func(b *Builder) {
		b.Method("First", r.op("First"))
		b.Method("Second", r.op("Second"))
	}), BuildOptions{})
	if !errors.Is(err, ErrNoHandlers) {
		t.Fatalf("expected ErrNoHandlers, got %v", err)
	}
}

func TestBuildZeroEligibleOperationsIsConfigurationError(t *testing.T) {
	_, err := Build(describeFunc(func(b *Builder) {
		b.Method("Count", func(int) int { return 0 })
	}), BuildOptions{})
	if !errors.Is(err, ErrNoHandlers) || !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBuildSkipsAnnotatedOperationWithWrongSignature(t *testing.T) {
	r := &recorder{}
	table, err := Build(describeFunc(func(b *Builder) {
		b.On("Typo", "Typo", func(msg *broker.Message) error { return nil })
		b.On("Echo", "Echo", r.op("Echo"))
	}), BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := table.Resolve("Typo"); !errors.Is(err, ErrUnroutable) {
		t.Fatalf("expected mismatched operation to stay unbound, got %v", err)
	}
	if table.Len() != 1 {
		t.Fatalf("expected one binding, got %d", table.Len())
	}
}

func TestBuildOnlyMismatchedAnnotationsFails(t *testing.T) {
	_, err := Build(describeFunc(func(b *Builder) {
		b.On("Typo", "Typo", func(string) {})
	}), BuildOptions{})
	if !errors.Is(err, ErrNoHandlers) {
		t.Fatalf("expected ErrNoHandlers, got %v", err)
	}
}

func TestBuildRejectsDuplicates(t *testing.T) {
	r := &recorder{}
	_, err := Build(describeFunc(func(b *Builder) {
		b.On("A", "First", r.op("First"))
		b.On("A", "Second", r.op("Second"))
	}), BuildOptions{})
	if !errors.Is(err, ErrDuplicateAction) {
		t.Fatalf("expected ErrDuplicateAction, got %v", err)
	}

	_, err = Build(describeFunc(func(b *Builder) {
		b.On("A", "Same", r.op("Same"))
		b.On("B", "Same", r.op("Same"))
	}), BuildOptions{})
	if !errors.Is(err, ErrDuplicateOperation) {
		t.Fatalf("expected ErrDuplicateOperation, got %v", err)
	}
}

func TestBuildRecordsSessionRequirement(t *testing.T) {
	table, err := Build(HandlerFunc(func(context.Context, *broker.Message) error { return nil }), BuildOptions{RequiresSession: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !table.RequiresSession() {
		t.Fatalf("expected session requirement to be recorded")
	}
	if _, ok := table.Wildcard(); !ok {
		t.Fatalf("expected callback to be bound as wildcard")
	}
}

func TestBuildNilHandler(t *testing.T) {
	if _, err := Build(nil, BuildOptions{}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
