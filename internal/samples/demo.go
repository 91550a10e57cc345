package samples

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
	"github.com/neoclaw-ai/brokerhost/internal/broker/memory"
	"github.com/neoclaw-ai/brokerhost/internal/dispatch"
	"github.com/neoclaw-ai/brokerhost/internal/listener"
	"github.com/neoclaw-ai/brokerhost/internal/logging"
	"github.com/neoclaw-ai/brokerhost/internal/runtime"
)

const (
	defaultDemoTimeout = 10 * time.Second
	demoReceiveWait    = 100 * time.Millisecond
	demoPollInterval   = 10 * time.Millisecond
)

// DemoOptions configures a demo run.
type DemoOptions struct {
	Out     io.Writer
	Journal runtime.Recorder
	// Timeout bounds how long a scenario waits for its messages to be handled.
	Timeout time.Duration
}

// Scenario is one runnable demo.
type Scenario struct {
	Name        string
	Description string
	run         func(ctx context.Context, d *demo) error
}

var scenarios = []Scenario{
	{Name: "actions", Description: "dispatch by action tag to EchoOnce and EchoTwice", run: runActions},
	{Name: "session", Description: "sessionful queue with a handler instance per message", run: runSession},
	{Name: "async", Description: "asynchronous operation bound as the only operation", run: runAsync},
	{Name: "pubsub", Description: "topic fan-out to two subscription listeners", run: runPubSub},
	{Name: "callback", Description: "callback listener for every message", run: runCallback},
	{Name: "poison", Description: "explicit dead-lettering and max delivery count", run: runPoison},
}

// Scenarios returns the available demos in display order.
func Scenarios() []Scenario {
	return append([]Scenario(nil), scenarios...)
}

// RunDemo runs the named scenario against an in-process namespace.
func RunDemo(ctx context.Context, name string, opts DemoOptions) error {
	var scenario *Scenario
	for i := range scenarios {
		if scenarios[i].Name == strings.ToLower(strings.TrimSpace(name)) {
			scenario = &scenarios[i]
			break
		}
	}
	if scenario == nil {
		names := make([]string, 0, len(scenarios))
		for _, s := range scenarios {
			names = append(names, s.Name)
		}
		return fmt.Errorf("unknown demo %q (available: %s)", name, strings.Join(names, ", "))
	}

	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDemoTimeout
	}

	ns := memory.NewNamespace()
	defer ns.Close()
	d := &demo{
		ns:      ns,
		manager: listener.New(nil),
		out:     &lockedWriter{w: opts.Out},
		journal: opts.Journal,
		timeout: opts.Timeout,
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.Timeout)
		defer cancel()
		if err := d.manager.StopAll(stopCtx); err != nil {
			logging.Logger().Warn("stop demo listeners failed", "demo", scenario.Name, "err", err)
		}
	}()

	logging.Logger().Info("demo started", "demo", scenario.Name)
	if err := scenario.run(ctx, d); err != nil {
		return fmt.Errorf("demo %s: %w", scenario.Name, err)
	}
	logging.Logger().Info("demo finished", "demo", scenario.Name)
	return nil
}

type demo struct {
	ns      *memory.Namespace
	manager *listener.Manager
	out     io.Writer
	journal runtime.Recorder
	timeout time.Duration
}

func (d *demo) options() runtime.Options {
	return runtime.Options{Mode: broker.PeekLock, Journal: d.journal}
}

func (d *demo) queue(name string, opts memory.QueueOptions) *memory.Queue {
	if opts.ReceiveWait <= 0 {
		opts.ReceiveWait = demoReceiveWait
	}
	return d.ns.Queue(name, opts)
}

func (d *demo) send(ctx context.Context, to string, body, action, session string) error {
	msg := broker.NewMessage([]byte(body))
	msg.SessionID = session
	if action != "" {
		dispatch.SetAction(msg, action)
		fmt.Fprintf(d.out, "message %q sent with %q action\n", body, action)
	} else {
		fmt.Fprintf(d.out, "message %q sent to %s\n", body, to)
	}
	return d.ns.Send(ctx, to, msg)
}

// waitIdle blocks until every queue is empty with no delivery in flight.
func (d *demo) waitIdle(ctx context.Context, queues ...*memory.Queue) error {
	return d.waitFor(ctx, func() bool {
		for _, q := range queues {
			if q.Len() > 0 || q.InFlight() > 0 {
				return false
			}
		}
		return true
	})
}

func (d *demo) waitFor(ctx context.Context, cond func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ticker := time.NewTicker(demoPollInterval)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for messages: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func runActions(ctx context.Context, d *demo) error {
	q := d.queue("actions", memory.QueueOptions{})
	if _, err := d.manager.Start(ctx, q, &EchoService{Out: d.out}, d.options()); err != nil {
		return err
	}
	if err := d.send(ctx, q.Name(), "Hello World!", "EchoOnce", ""); err != nil {
		return err
	}
	if err := d.send(ctx, q.Name(), "Hello World!", "EchoTwice", ""); err != nil {
		return err
	}
	return d.waitIdle(ctx, q)
}

func runSession(ctx context.Context, d *demo) error {
	q := d.queue("sessions", memory.QueueOptions{RequiresSession: true})
	opts := d.options()
	opts.RequiresSession = true
	factory := func() dispatch.Handler { return NewSessionService(d.out) }
	if _, err := d.manager.StartFactory(ctx, q, factory, opts); err != nil {
		return err
	}
	for _, session := range []string{"1", "2"} {
		for _, body := range []string{"Hello World!", "Bye World!"} {
			if err := d.send(ctx, q.Name(), body, "", session); err != nil {
				return err
			}
		}
	}
	return d.waitIdle(ctx, q)
}

func runAsync(ctx context.Context, d *demo) error {
	q := d.queue("async", memory.QueueOptions{})
	h := &AsyncEchoService{Out: d.out, Delay: 200 * time.Millisecond}
	if _, err := d.manager.Start(ctx, q, h, d.options()); err != nil {
		return err
	}
	if err := d.send(ctx, q.Name(), "Hello World!", "", ""); err != nil {
		return err
	}
	return d.waitIdle(ctx, q)
}

func runPubSub(ctx context.Context, d *demo) error {
	topic := d.ns.Topic("news")
	subOpts := memory.QueueOptions{ReceiveWait: demoReceiveWait}
	primary, err := topic.Subscribe("mySubscription", subOpts)
	if err != nil {
		return err
	}
	audit, err := topic.Subscribe("audit", subOpts)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "created subscriptions %s\n", strings.Join(topic.Subscriptions(), ", "))

	if _, err := d.manager.Start(ctx, primary, &NewsService{Out: d.out}, d.options()); err != nil {
		return err
	}
	_, err = d.manager.StartFunc(ctx, audit, func(_ context.Context, msg *broker.Message) error {
		fmt.Fprintf(d.out, "audit saw message %s on %s\n", msg.ID, audit.Name())
		return nil
	}, d.options())
	if err != nil {
		return err
	}
	if err := d.send(ctx, topic.Name(), "Hello World!", "", ""); err != nil {
		return err
	}
	return d.waitIdle(ctx, primary, audit)
}

func runCallback(ctx context.Context, d *demo) error {
	q := d.queue("callback", memory.QueueOptions{})
	_, err := d.manager.StartFunc(ctx, q, func(_ context.Context, msg *broker.Message) error {
		fmt.Fprintf(d.out, "message received from the queue: %s\n", msg.Body)
		return nil
	}, d.options())
	if err != nil {
		return err
	}
	for _, body := range []string{"Hello World!", "Bye World!"} {
		if err := d.send(ctx, q.Name(), body, "", ""); err != nil {
			return err
		}
	}
	return d.waitIdle(ctx, q)
}

func runPoison(ctx context.Context, d *demo) error {
	const maxDelivery = 2
	q := d.queue("poison", memory.QueueOptions{MaxDeliveryCount: maxDelivery})
	dlq := q.DeadLetterQueue()
	fmt.Fprintf(d.out, "max delivery count: %d\n", maxDelivery)

	if _, err := d.manager.Start(ctx, q, &PoisonService{Out: d.out}, d.options()); err != nil {
		return err
	}
	if err := d.send(ctx, q.Name(), "Deadletter msg", "DeadLetter", ""); err != nil {
		return err
	}
	if err := d.send(ctx, q.Name(), "Poisoned!", "Poison", ""); err != nil {
		return err
	}
	if err := d.waitFor(ctx, func() bool { return dlq.Len() == 2 }); err != nil {
		return err
	}
	if err := d.manager.Stop(ctx, q); err != nil {
		return err
	}

	fmt.Fprintf(d.out, "reading %s\n", dlq.Name())
	for {
		msg, err := dlq.Receive(ctx, broker.ReceiveAndDelete)
		if err != nil && !errors.Is(err, broker.ErrClosed) {
			return err
		}
		if msg == nil {
			return nil
		}
		reason, _ := msg.Property(broker.DeadLetterReasonProperty)
		description, _ := msg.Property(broker.DeadLetterDescriptionProperty)
		fmt.Fprintf(d.out, "message: %s\n", msg.Body)
		fmt.Fprintf(d.out, "dead-letter reason: %s\n", reason)
		fmt.Fprintf(d.out, "dead-letter description: %s\n", description)
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
