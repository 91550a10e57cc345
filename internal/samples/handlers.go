// Package samples holds the example handler types served by brokerhost and
// the demo scenarios that exercise them.
package samples

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
	"github.com/neoclaw-ai/brokerhost/internal/dispatch"
)

// EchoService prints message bodies once or twice depending on the action.
type EchoService struct {
	Out io.Writer
}

// Describe implements dispatch.Handler.
func (s *EchoService) Describe(b *dispatch.Builder) {
	b.On("EchoOnce", "EchoOnce", dispatch.Func(s.EchoOnce))
	b.On("EchoTwice", "EchoTwice", dispatch.Func(s.EchoTwice))
}

// EchoOnce prints the body once.
func (s *EchoService) EchoOnce(_ context.Context, msg *broker.Message) error {
	fmt.Fprintln(s.Out, "message received by EchoOnce")
	fmt.Fprintln(s.Out, string(msg.Body))
	return nil
}

// EchoTwice prints the body twice.
func (s *EchoService) EchoTwice(_ context.Context, msg *broker.Message) error {
	fmt.Fprintln(s.Out, "message received by EchoTwice")
	fmt.Fprintln(s.Out, string(msg.Body))
	fmt.Fprintln(s.Out, string(msg.Body))
	return nil
}

var sessionInstances atomic.Int64

// SessionService handles sessionful messages. Each value records which
// instance it is so per-message instancing is visible in the output.
type SessionService struct {
	Out      io.Writer
	Instance int64
}

// NewSessionService returns a SessionService with a fresh instance number.
func NewSessionService(out io.Writer) *SessionService {
	return &SessionService{Out: out, Instance: sessionInstances.Add(1)}
}

// Describe implements dispatch.Handler. OnError does not take a message and
// is never bound.
func (s *SessionService) Describe(b *dispatch.Builder) {
	b.Method(dispatch.ConventionName, s.OnReceiveMessage)
	b.Method("OnError", s.OnError)
}

// OnReceiveMessage prints the body with its session and instance.
func (s *SessionService) OnReceiveMessage(msg *broker.Message) {
	fmt.Fprintf(s.Out, "received message %q in session %s by service %d\n", msg.Body, msg.SessionID, s.Instance)
}

// OnError prints err.
func (s *SessionService) OnError(err error) {
	fmt.Fprintf(s.Out, "error occurred: %v\n", err)
}

// AsyncEchoService completes each message on a background goroutine.
type AsyncEchoService struct {
	Out   io.Writer
	Delay time.Duration
}

// Describe implements dispatch.Handler. DoComplexTaskAsync is the only
// operation so it becomes the wildcard.
func (s *AsyncEchoService) Describe(b *dispatch.Builder) {
	b.Method("DoComplexTaskAsync", dispatch.AsyncFunc(s.DoComplexTaskAsync))
}

// DoComplexTaskAsync starts the work and returns its completion channel.
func (s *AsyncEchoService) DoComplexTaskAsync(ctx context.Context, msg *broker.Message) <-chan error {
	fmt.Fprintln(s.Out, "async method called")
	done := make(chan error, 1)
	go func() {
		defer close(done)
		fmt.Fprintf(s.Out, "starting complex task for %q\n", msg.Body)
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			done <- ctx.Err()
			return
		}
		fmt.Fprintf(s.Out, "completing complex task for %q\n", msg.Body)
	}()
	return done
}

// NewsService handles topic subscription messages.
type NewsService struct {
	Out io.Writer
}

// Describe implements dispatch.Handler.
func (s *NewsService) Describe(b *dispatch.Builder) {
	b.Method(dispatch.ConventionName, dispatch.Func(s.OnReceiveMessage))
}

// OnReceiveMessage prints the body.
func (s *NewsService) OnReceiveMessage(_ context.Context, msg *broker.Message) error {
	fmt.Fprintf(s.Out, "received message %q\n", msg.Body)
	return nil
}

// PoisonService dead-letters messages marked for it and fails messages
// marked as poison, leaving the broker to dead-letter them once the
// delivery limit is hit.
type PoisonService struct {
	Out io.Writer
}

// Describe implements dispatch.Handler.
func (s *PoisonService) Describe(b *dispatch.Builder) {
	b.On("DeadLetter", "SelfDestruct", dispatch.Func(s.SelfDestruct))
	b.On("Poison", "Fail", dispatch.Func(s.Fail))
	b.Default("Accept", dispatch.Func(s.Accept))
}

// SelfDestruct dead-letters msg explicitly.
func (s *PoisonService) SelfDestruct(ctx context.Context, msg *broker.Message) error {
	fmt.Fprintf(s.Out, "dead-lettering message %s\n", msg.ID)
	return msg.DeadLetter(ctx, "I was told to deadletter myself", "Selfdestruction")
}

// Fail rejects msg so it is abandoned and redelivered.
func (s *PoisonService) Fail(_ context.Context, msg *broker.Message) error {
	fmt.Fprintf(s.Out, "abandoning message %s (delivery %d)\n", msg.ID, msg.DeliveryCount)
	return fmt.Errorf("poisoned message %s", msg.ID)
}

// Accept prints the body.
func (s *PoisonService) Accept(_ context.Context, msg *broker.Message) error {
	fmt.Fprintf(s.Out, "accepted message %q\n", msg.Body)
	return nil
}
