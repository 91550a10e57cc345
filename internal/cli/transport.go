package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
	"github.com/neoclaw-ai/brokerhost/internal/broker/amqp"
	"github.com/neoclaw-ai/brokerhost/internal/broker/kafka"
	"github.com/neoclaw-ai/brokerhost/internal/broker/memory"
	"github.com/neoclaw-ai/brokerhost/internal/broker/nats"
	"github.com/neoclaw-ai/brokerhost/internal/config"
	"github.com/neoclaw-ai/brokerhost/internal/logging"
	"github.com/neoclaw-ai/brokerhost/internal/scheduler"
)

// transport is the configured broker connection: the listened endpoint plus a
// sender for scheduled and one-off messages.
type transport struct {
	kind     string
	endpoint broker.Endpoint
	sender   scheduler.Sender
	close    func() error
}

var errInProcessTransport = errors.New("memory transport only exists inside a running listener; use `brokerhost demo` or a networked transport")

// transportFactory is replaced in tests.
var transportFactory = openTransport

// openTransport connects the transport selected by cfg and binds its endpoint
// to queue.
func openTransport(_ context.Context, cfg *config.Config, queue string) (*transport, error) {
	l := cfg.Listener
	switch cfg.Transport.Kind {
	case config.TransportMemory:
		ns := memory.NewNamespace()
		q := ns.Queue(queue, memory.QueueOptions{
			RequiresSession:  l.RequiresSession,
			MaxDeliveryCount: l.MaxDeliveryCount,
			ReceiveWait:      l.ReceiveWait,
		})
		return &transport{kind: config.TransportMemory, endpoint: q, sender: ns, close: ns.Close}, nil
	case config.TransportAMQP:
		c := cfg.Transport.AMQP
		q, err := amqp.Dial(amqp.Config{
			URL:              c.URL,
			Queue:            queue,
			Durable:          c.Durable,
			Prefetch:         c.Prefetch,
			DeadLetterQueue:  c.DeadLetterQueue,
			ReceiveWait:      l.ReceiveWait,
			MaxDeliveryCount: l.MaxDeliveryCount,
		})
		if err != nil {
			return nil, err
		}
		return &transport{kind: config.TransportAMQP, endpoint: q, sender: singleSender(q.Name(), q), close: q.Close}, nil
	case config.TransportNATS:
		c := cfg.Transport.NATS
		consumer, err := nats.Connect(nats.Config{
			URL:               c.URL,
			Stream:            c.Stream,
			Subject:           queue,
			DeadLetterSubject: c.DeadLetterSubject,
			AckWait:           c.AckWait,
			MaxDeliver:        l.MaxDeliveryCount,
			ReceiveWait:       l.ReceiveWait,
		})
		if err != nil {
			return nil, err
		}
		return &transport{kind: config.TransportNATS, endpoint: consumer, sender: singleSender(consumer.Name(), consumer), close: consumer.Close}, nil
	case config.TransportKafka:
		c := cfg.Transport.Kafka
		topic, err := kafka.Open(kafka.Config{
			Brokers:          c.Brokers,
			Topic:            queue,
			GroupID:          c.GroupID,
			DeadLetterTopic:  c.DeadLetterTopic,
			MaxDeliveryCount: l.MaxDeliveryCount,
			ReceiveWait:      l.ReceiveWait,
		})
		if err != nil {
			return nil, err
		}
		return &transport{kind: config.TransportKafka, endpoint: topic, sender: singleSender(topic.Name(), topic), close: topic.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport.Kind)
	}
}

// singleSender routes sends addressed to name through s.
func singleSender(name string, s broker.Sender) scheduler.Sender {
	return scheduler.SenderFunc(func(ctx context.Context, queue string, msg *broker.Message) error {
		if queue != name {
			return fmt.Errorf("queue %q is not served by this transport (listening on %q)", queue, name)
		}
		return s.Send(ctx, msg)
	})
}

func (t *transport) Close() {
	if t == nil || t.close == nil {
		return
	}
	if err := t.close(); err != nil {
		logging.Logger().Warn("close transport failed", "transport", t.kind, "err", err)
	}
}
