// Package runtime runs listener hosts: a receive loop bound to one endpoint
// that dispatches every delivered message through a handler's action table
// and settles it according to the delivery mode.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
	"github.com/neoclaw-ai/brokerhost/internal/dispatch"
	"github.com/neoclaw-ai/brokerhost/internal/journal"
	"github.com/neoclaw-ai/brokerhost/internal/logging"
)

// State is a host lifecycle state.
type State int

const (
	Created State = iota
	Open
	Closed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "created"
	}
}

// Host binds a handler's dispatch table to one endpoint.
type Host struct {
	endpoint broker.Endpoint
	handler  dispatch.Handler
	table    *dispatch.Table
	opts     Options

	sem      chan struct{}
	inflight sync.WaitGroup

	stateMu sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHost builds the handler's dispatch table and returns a host in the
// Created state. With opts.Factory set, handler may be nil; the table is then
// built from one factory instance.
func NewHost(ep broker.Endpoint, handler dispatch.Handler, opts Options) (*Host, error) {
	if ep == nil {
		return nil, errors.New("endpoint is required")
	}
	if handler == nil && opts.Factory != nil {
		handler = opts.Factory()
	}
	table, err := dispatch.Build(handler, dispatch.BuildOptions{RequiresSession: opts.RequiresSession})
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return &Host{
		endpoint: ep,
		handler:  handler,
		table:    table,
		opts:     opts,
		sem:      make(chan struct{}, opts.MaxConcurrentCalls),
		done:     make(chan struct{}),
	}, nil
}

// Endpoint returns the endpoint the host listens on.
func (h *Host) Endpoint() broker.Endpoint {
	return h.endpoint
}

// Table returns the host's dispatch table.
func (h *Host) Table() *dispatch.Table {
	return h.table
}

// State returns the current lifecycle state.
func (h *Host) State() State {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.state
}

// Open starts the receive loop. A host can be opened once.
func (h *Host) Open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	switch h.state {
	case Open:
		return ErrAlreadyOpen
	case Closed:
		return ErrClosed
	}
	if h.table.RequiresSession() && !broker.SupportsSessions(h.endpoint) {
		return fmt.Errorf("open %s: %w", h.endpoint.Name(), ErrSessionUnsupported)
	}

	// The loop outlives the caller's context; only Close stops it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel
	h.state = Open
	go h.run(loopCtx)

	h.logger().Info(
		"listener opened",
		"handler", h.table.Handler(),
		"actions", h.table.Len(),
		"mode", h.opts.Mode.String(),
		"session", h.table.RequiresSession(),
	)
	return nil
}

// Close stops accepting deliveries and waits, until ctx is done, for the
// receive loop and in-flight invocations to finish. Running handlers are not
// interrupted. Closing a host that was never opened is a no-op.
func (h *Host) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	h.stateMu.Lock()
	h.state = Closed
	cancel := h.cancel
	h.stateMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	drained := make(chan struct{})
	go func() {
		<-h.done
		h.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		h.logger().Info("listener closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close %s: %w", h.endpoint.Name(), ctx.Err())
	}
}

func (h *Host) run(ctx context.Context) {
	defer close(h.done)
	defer h.markClosed()

	// Handlers run detached from Close so it never interrupts them.
	handlerCtx := context.WithoutCancel(ctx)
	inline := h.table.RequiresSession() && h.opts.Mode == broker.ReceiveAndDelete

	for {
		select {
		case <-ctx.Done():
			return
		case h.sem <- struct{}{}:
		}

		msg, err := h.endpoint.Receive(ctx, h.opts.Mode)
		if err != nil {
			<-h.sem
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, broker.ErrClosed) {
				h.logger().Warn("endpoint closed, stopping receive loop")
				return
			}
			h.logger().Warn("receive failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(h.opts.ReceiveBackoff):
			}
			continue
		}
		if msg == nil {
			<-h.sem
			continue
		}

		if inline {
			h.deliver(handlerCtx, msg)
			<-h.sem
			continue
		}

		h.inflight.Add(1)
		go func() {
			defer h.inflight.Done()
			defer func() { <-h.sem }()
			h.deliver(handlerCtx, msg)
		}()
	}
}

// markClosed moves the host to Closed when the receive loop stops on its own,
// for example because the endpoint was closed underneath it.
func (h *Host) markClosed() {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.state = Closed
}

// deliver selects the operation for msg, invokes it and settles the message.
func (h *Host) deliver(ctx context.Context, msg *broker.Message) {
	action := dispatch.ActionOf(msg)
	logger := h.logger().With("message_id", msg.ID, "action", action)

	binding, err := h.table.Select(msg)
	if err != nil {
		h.unroutable(ctx, logger, msg, action, err)
		return
	}
	if h.opts.Factory != nil {
		fresh, err := binding.Rebind(h.opts.Factory())
		if err != nil {
			h.failed(ctx, logger, msg, binding, err)
			return
		}
		binding = fresh
	}

	logger.Debug("dispatching message", "operation", binding.Operation, "async", binding.Async)
	if err := invoke(ctx, binding, msg); err != nil {
		h.failed(ctx, logger, msg, binding, err)
		return
	}
	if h.opts.Mode == broker.PeekLock && msg.Locked() {
		if err := msg.Complete(ctx); err != nil {
			h.settleError(logger, "complete", err)
		}
	}
}

func (h *Host) failed(ctx context.Context, logger *slog.Logger, msg *broker.Message, binding dispatch.Binding, err error) {
	entry := journal.NewEntry(h.endpoint.Name(), msg, journal.Dropped, err)
	entry.Action = dispatch.ActionOf(msg)
	entry.Operation = binding.Operation

	if h.opts.Mode == broker.ReceiveAndDelete {
		logger.Error("message handling failed, message dropped", "operation", binding.Operation, "err", err)
		h.record(ctx, entry)
		return
	}

	logger.Error("message handling failed", "operation", binding.Operation, "delivery_count", msg.DeliveryCount, "err", err)
	if !msg.Locked() {
		return
	}
	entry.Outcome = journal.Abandoned
	if abandonErr := msg.Abandon(ctx); abandonErr != nil {
		h.settleError(logger, "abandon", abandonErr)
		unsettled(&entry, abandonErr)
	}
	h.record(ctx, entry)
}

func (h *Host) unroutable(ctx context.Context, logger *slog.Logger, msg *broker.Message, action string, err error) {
	entry := journal.NewEntry(h.endpoint.Name(), msg, journal.Unroutable, err)
	entry.Action = action

	if h.opts.Mode == broker.ReceiveAndDelete || !msg.Locked() {
		logger.Error("unroutable message dropped", "err", err)
		h.record(ctx, entry)
		return
	}

	var settleErr error
	if h.opts.Unroutable == DeadLetterUnroutable {
		logger.Warn("unroutable message, dead-lettering", "err", err)
		settleErr = msg.DeadLetter(ctx, UnroutableReason, err.Error())
		entry.Outcome = journal.DeadLettered
	} else {
		logger.Warn("unroutable message, abandoning", "err", err)
		settleErr = msg.Abandon(ctx)
	}
	if settleErr != nil {
		h.settleError(logger, h.opts.Unroutable.String(), settleErr)
		unsettled(&entry, settleErr)
	}
	h.record(ctx, entry)
}

// unsettled marks an entry whose settlement failed. The lock lapses and the
// transport redelivers the message.
func unsettled(e *journal.Entry, err error) {
	e.Outcome = journal.Unsettled
	e.Error = strings.Join([]string{e.Error, "settle: " + err.Error()}, "; ")
}

func (h *Host) settleError(logger *slog.Logger, op string, err error) {
	if broker.IsSettlementConflict(err) {
		logger.Debug("message already settled", "settle", op)
		return
	}
	logger.Warn("message settlement failed", "settle", op, "err", err)
}

func (h *Host) record(ctx context.Context, e journal.Entry) {
	if h.opts.Journal == nil {
		return
	}
	if err := h.opts.Journal.Record(ctx, e); err != nil {
		h.logger().Warn("failed to write journal entry", "err", err)
	}
}

func (h *Host) logger() *slog.Logger {
	return logging.Logger().With("endpoint", h.endpoint.Name())
}

// invoke runs one operation, turning a panic into an error.
func invoke(ctx context.Context, b dispatch.Binding, msg *broker.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, b.Operation, r)
		}
	}()
	return b.Invoke(ctx, msg)
}
