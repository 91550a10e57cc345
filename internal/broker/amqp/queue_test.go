package amqp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

type recordingAcknowledger struct {
	acks    int
	nacks   int
	rejects int
	requeue bool
}

func (a *recordingAcknowledger) Ack(uint64, bool) error {
	a.acks++
	return nil
}

func (a *recordingAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *recordingAcknowledger) Reject(_ uint64, requeue bool) error {
	a.rejects++
	a.requeue = requeue
	return nil
}

type publishedMessage struct {
	key string
	msg amqp091.Publishing
}

// fakeChannel records publishes; Consume is unused by settlement tests.
type fakeChannel struct {
	published []publishedMessage
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	c.published = append(c.published, publishedMessage{key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp091.Table) (<-chan amqp091.Delivery, error) {
	return nil, errors.New("not consuming")
}

func (c *fakeChannel) Close() error { return nil }

func TestPublishingRoundTrip(t *testing.T) {
	msg := broker.NewMessage([]byte(`{"n":1}`))
	msg.ID = "m-1"
	msg.SessionID = "s-1"
	msg.ContentType = "application/json"
	msg.SetProperty("Action", "EchoOnce")

	p := toPublishing(msg)
	if p.MessageId != "m-1" || p.DeliveryMode != amqp091.Persistent || p.Timestamp.IsZero() {
		t.Fatalf("unexpected publishing: %+v", p)
	}

	got := fromDelivery(amqp091.Delivery{
		Headers:     p.Headers,
		ContentType: p.ContentType,
		MessageId:   p.MessageId,
		Timestamp:   p.Timestamp,
		Body:        p.Body,
	})
	if got.ID != "m-1" || got.SessionID != "s-1" || got.ContentType != "application/json" {
		t.Fatalf("unexpected message metadata: %+v", got)
	}
	if v, _ := got.Property("Action"); v != "EchoOnce" {
		t.Fatalf("expected Action header to round trip, got %q", v)
	}
	if _, ok := got.Property(sessionHeader); ok {
		t.Fatalf("session header must not leak into properties")
	}
	if got.DeliveryCount != 1 {
		t.Fatalf("expected first delivery, got %d", got.DeliveryCount)
	}
}

func TestDeliveryCount(t *testing.T) {
	if n := deliveryCount(amqp091.Delivery{Redelivered: true}); n != 2 {
		t.Fatalf("expected redelivered classic queue message to count 2, got %d", n)
	}
	quorum := amqp091.Delivery{Headers: amqp091.Table{quorumCountHeader: int64(4)}}
	if n := deliveryCount(quorum); n != 5 {
		t.Fatalf("expected quorum delivery count 5, got %d", n)
	}
	if msg := fromDelivery(quorum); len(msg.Properties) != 0 {
		t.Fatalf("delivery counter must not become a property: %v", msg.Properties)
	}
}

func TestDeliverySettlement(t *testing.T) {
	ctx := context.Background()

	ack := &recordingAcknowledger{}
	msg := broker.NewMessage(nil)
	msg.Bind(&delivery{d: amqp091.Delivery{Acknowledger: ack, DeliveryTag: 1}})
	if err := msg.Abandon(ctx); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if ack.nacks != 1 || !ack.requeue {
		t.Fatalf("expected nack with requeue, got %+v", ack)
	}
	if err := msg.Complete(ctx); !errors.Is(err, broker.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}

	ack = &recordingAcknowledger{}
	msg = broker.NewMessage(nil)
	msg.Bind(&delivery{queue: &Queue{cfg: Config{Queue: "q"}}, d: amqp091.Delivery{Acknowledger: ack, DeliveryTag: 2}})
	if err := msg.DeadLetter(ctx, "Poison", "bad"); err != nil {
		t.Fatalf("dead-letter: %v", err)
	}
	if ack.rejects != 1 || ack.requeue {
		t.Fatalf("expected reject without requeue, got %+v", ack)
	}
}

func TestAbandonRepublishesUntilMaxDeliveryCount(t *testing.T) {
	ctx := context.Background()
	ch := &fakeChannel{}
	q := newQueue(Config{Queue: "orders", DeadLetterQueue: "orders-dlq", MaxDeliveryCount: 2}, nil, ch)

	first := &recordingAcknowledger{}
	out := broker.NewMessage([]byte("poison"))
	out.ID = "m-1"
	msg := fromDelivery(amqp091.Delivery{Acknowledger: first, DeliveryTag: 1, Headers: toPublishing(out).Headers, MessageId: "m-1", Body: out.Body})
	msg.Bind(&delivery{queue: q, d: amqp091.Delivery{Acknowledger: first, DeliveryTag: 1}})
	if err := msg.Abandon(ctx); err != nil {
		t.Fatalf("abandon first: %v", err)
	}
	if first.acks != 1 || first.nacks != 0 {
		t.Fatalf("expected original delivery acked, not requeued: %+v", first)
	}
	if len(ch.published) != 1 || ch.published[0].key != "orders" {
		t.Fatalf("expected message re-published to orders, got %+v", ch.published)
	}

	second := &recordingAcknowledger{}
	retry := ch.published[0].msg
	redelivered := fromDelivery(amqp091.Delivery{Headers: retry.Headers, MessageId: retry.MessageId, Body: retry.Body})
	if redelivered.DeliveryCount != 2 || redelivered.ID != "m-1" {
		t.Fatalf("expected second delivery of m-1, got id=%q count=%d", redelivered.ID, redelivered.DeliveryCount)
	}
	if _, ok := redelivered.Property(deliveryCountHeader); ok {
		t.Fatalf("delivery count header must not become a property")
	}
	redelivered.Bind(&delivery{queue: q, d: amqp091.Delivery{Acknowledger: second, DeliveryTag: 2}})
	if err := redelivered.Abandon(ctx); err != nil {
		t.Fatalf("abandon second: %v", err)
	}
	if second.acks != 1 || len(ch.published) != 2 || ch.published[1].key != "orders-dlq" {
		t.Fatalf("expected poison message moved to orders-dlq, got acks=%d published=%+v", second.acks, ch.published)
	}
	if reason := ch.published[1].msg.Headers[broker.DeadLetterReasonProperty]; reason != MaxDeliveryCountExceeded {
		t.Fatalf("unexpected dead-letter reason %v", reason)
	}
}

func TestDeliveryCountAddsRepublishedCount(t *testing.T) {
	d := amqp091.Delivery{Redelivered: true, Headers: amqp091.Table{deliveryCountHeader: int64(3)}}
	if n := deliveryCount(d); n != 5 {
		t.Fatalf("expected 3 earlier deliveries plus redelivery, got %d", n)
	}
}

func TestClosedQueueRejectsUse(t *testing.T) {
	q := &Queue{cfg: Config{Queue: "q", ReceiveWait: time.Millisecond}}
	if _, err := q.Receive(context.Background(), broker.PeekLock); !errors.Is(err, broker.ErrClosed) {
		t.Fatalf("expected ErrClosed from receive, got %v", err)
	}
	if err := q.Send(context.Background(), broker.NewMessage(nil)); !errors.Is(err, broker.ErrClosed) {
		t.Fatalf("expected ErrClosed from send, got %v", err)
	}
}
