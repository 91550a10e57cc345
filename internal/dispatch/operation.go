package dispatch

import (
	"context"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
)

// Func is a synchronous message operation.
type Func func(ctx context.Context, msg *broker.Message) error

// AsyncFunc is an operation that completes asynchronously. The returned
// channel yields the result (or is closed on success); a nil channel means
// the work already finished.
type AsyncFunc func(ctx context.Context, msg *broker.Message) <-chan error

// invoker is the normalized form every accepted shape is adapted to. It
// returns once the operation, including any asynchronous part, finished.
type invoker func(ctx context.Context, msg *broker.Message) error

// adapt checks fn against the accepted operation shapes.
func adapt(fn any) (call invoker, async bool, ok bool) {
	switch f := fn.(type) {
	case Func:
		return invoker(f), false, f != nil
	case func(context.Context, *broker.Message) error:
		return invoker(f), false, f != nil
	case func(*broker.Message):
		if f == nil {
			return nil, false, false
		}
		return func(_ context.Context, msg *broker.Message) error {
			f(msg)
			return nil
		}, false, true
	case AsyncFunc:
		return awaitAsync(f), true, f != nil
	case func(context.Context, *broker.Message) <-chan error:
		return awaitAsync(f), true, f != nil
	default:
		return nil, false, false
	}
}

func awaitAsync(f func(context.Context, *broker.Message) <-chan error) invoker {
	if f == nil {
		return nil
	}
	return func(ctx context.Context, msg *broker.Message) error {
		done := f(ctx, msg)
		if done == nil {
			return nil
		}
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
