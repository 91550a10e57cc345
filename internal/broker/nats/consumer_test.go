package nats

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/neoclaw-ai/brokerhost/internal/broker"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		t.Fatalf("new nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func connect(t *testing.T, ns *server.Server, subject, durable string) *Consumer {
	t.Helper()
	c, err := Connect(Config{
		URL:               ns.ClientURL(),
		Stream:            "ORDERS",
		Subject:           subject,
		Durable:           durable,
		DeadLetterSubject: "orders.dead",
		AckWait:           time.Second,
		ReceiveWait:       200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("connect %s: %v", subject, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustReceive(t *testing.T, c *Consumer, mode broker.ReceiveMode) *broker.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := c.Receive(context.Background(), mode)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if msg != nil {
			return msg
		}
	}
	t.Fatalf("no message received from %s", c.Name())
	return nil
}

func TestConsumerPeekLockSettlement(t *testing.T) {
	ns := runServer(t)
	c := connect(t, ns, "orders.new", "workers")
	ctx := context.Background()

	out := broker.NewMessage([]byte("order-1"))
	out.ID = "order-1"
	out.SessionID = "customer-7"
	out.SetProperty("Action", "EchoOnce")
	if err := c.Send(ctx, out); err != nil {
		t.Fatalf("send: %v", err)
	}

	first := mustReceive(t, c, broker.PeekLock)
	if first.ID != "order-1" || first.SessionID != "customer-7" || first.DeliveryCount != 1 {
		t.Fatalf("unexpected first delivery: id=%q session=%q count=%d", first.ID, first.SessionID, first.DeliveryCount)
	}
	if v, _ := first.Property("Action"); v != "EchoOnce" {
		t.Fatalf("expected Action header, got %q", v)
	}
	if err := first.Abandon(ctx); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	second := mustReceive(t, c, broker.PeekLock)
	if second.DeliveryCount != 2 {
		t.Fatalf("expected redelivery count 2, got %d", second.DeliveryCount)
	}
	if err := second.DeadLetter(ctx, "Poison", "cannot parse order"); err != nil {
		t.Fatalf("dead-letter: %v", err)
	}

	dead := connect(t, ns, "orders.dead", "dead-readers")
	moved := mustReceive(t, dead, broker.ReceiveAndDelete)
	if reason, _ := moved.Property(broker.DeadLetterReasonProperty); reason != "Poison" {
		t.Fatalf("expected dead-letter reason, got %q", reason)
	}
	if string(moved.Body) != "order-1" {
		t.Fatalf("unexpected dead-lettered body %q", moved.Body)
	}
}

func TestConsumerReceiveAndDelete(t *testing.T) {
	ns := runServer(t)
	c := connect(t, ns, "orders.new", "drain")
	ctx := context.Background()

	if err := c.Send(ctx, broker.NewMessage([]byte("x"))); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg := mustReceive(t, c, broker.ReceiveAndDelete)
	if msg.Locked() {
		t.Fatalf("expected receive-and-delete message to carry no lock")
	}
	if msg.ID == "" {
		t.Fatalf("expected stream sequence as fallback id")
	}

	none, err := c.Receive(ctx, broker.ReceiveAndDelete)
	if err != nil || none != nil {
		t.Fatalf("expected empty subject after ack, got %v %v", none, err)
	}
}

func TestConsumerClosed(t *testing.T) {
	ns := runServer(t)
	c := connect(t, ns, "orders.new", "closing")
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := c.Receive(context.Background(), broker.PeekLock); err != broker.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
