// Package nats implements broker endpoints on NATS JetStream pull consumers.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neoclaw-ai/brokerhost/internal/broker"
	"github.com/neoclaw-ai/brokerhost/internal/logging"
)

const (
	sessionHeader     = "Session-Id"
	contentTypeHeader = "Content-Type"

	defaultAckWait     = 30 * time.Second
	defaultMaxDeliver  = 10
	defaultReceiveWait = time.Second
)

// Config describes one JetStream subject consumed by a durable pull consumer.
type Config struct {
	// URL is the NATS server URL.
	URL string
	// Stream is created on first use when it does not exist.
	Stream string
	// Subject is published to and consumed from.
	Subject string
	// Durable names the pull consumer.
	Durable string
	// DeadLetterSubject receives dead-lettered messages. It is added to the
	// stream when the stream is created.
	DeadLetterSubject string
	// AckWait is how long JetStream waits for settlement before redelivery.
	AckWait time.Duration
	// MaxDeliver bounds redeliveries of a message.
	MaxDeliver int
	// ReceiveWait bounds how long Receive blocks with no message.
	ReceiveWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.AckWait <= 0 {
		c.AckWait = defaultAckWait
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = defaultMaxDeliver
	}
	if c.ReceiveWait <= 0 {
		c.ReceiveWait = defaultReceiveWait
	}
	if c.Durable == "" {
		c.Durable = c.Stream + "-consumer"
	}
	return c
}

// Consumer is a JetStream subject endpoint.
type Consumer struct {
	cfg Config

	mu  sync.Mutex
	nc  *nats.Conn
	js  nats.JetStreamContext
	sub *nats.Subscription
}

// Connect dials NATS, ensures the stream exists and binds a durable pull
// consumer to the subject. Extra options are appended to the defaults.
func Connect(cfg Config, opts ...nats.Option) (*Consumer, error) {
	cfg = cfg.withDefaults()
	if cfg.Stream == "" || cfg.Subject == "" {
		return nil, errors.New("nats stream and subject are required")
	}

	logger := logging.Logger()
	options := []nats.Option{
		nats.Name("brokerhost"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(10 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", "url", conn.ConnectedUrl())
		}),
	}
	options = append(options, opts...)

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open jetstream: %w", err)
	}
	if err := ensureStream(js, cfg); err != nil {
		nc.Close()
		return nil, err
	}

	sub, err := js.PullSubscribe(
		cfg.Subject,
		cfg.Durable,
		nats.BindStream(cfg.Stream),
		nats.AckExplicit(),
		nats.AckWait(cfg.AckWait),
		nats.MaxDeliver(cfg.MaxDeliver),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Subject, err)
	}

	logger.Info("jetstream consumer ready", "stream", cfg.Stream, "subject", cfg.Subject, "durable", cfg.Durable)
	return &Consumer{cfg: cfg, nc: nc, js: js, sub: sub}, nil
}

func ensureStream(js nats.JetStreamContext, cfg Config) error {
	_, err := js.StreamInfo(cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", cfg.Stream, err)
	}
	subjects := []string{cfg.Subject}
	if cfg.DeadLetterSubject != "" {
		subjects = append(subjects, cfg.DeadLetterSubject)
	}
	if _, err := js.AddStream(&nats.StreamConfig{Name: cfg.Stream, Subjects: subjects}); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}
	return nil
}

// Name returns the consumed subject.
func (c *Consumer) Name() string {
	return c.cfg.Subject
}

// Send publishes msg to the subject. The message ID doubles as the JetStream
// de-duplication ID.
func (c *Consumer) Send(ctx context.Context, msg *broker.Message) error {
	return c.publish(ctx, c.cfg.Subject, msg)
}

func (c *Consumer) publish(ctx context.Context, subject string, msg *broker.Message) error {
	c.mu.Lock()
	js := c.js
	c.mu.Unlock()
	if js == nil {
		return broker.ErrClosed
	}
	if _, err := js.PublishMsg(toNats(subject, msg), nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Receive fetches one message from the pull consumer.
func (c *Consumer) Receive(ctx context.Context, mode broker.ReceiveMode) (*broker.Message, error) {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub == nil {
		return nil, broker.ErrClosed
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.ReceiveWait)
	defer cancel()
	msgs, err := sub.Fetch(1, nats.Context(fetchCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return nil, nil
		}
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			return nil, broker.ErrClosed
		}
		return nil, fmt.Errorf("fetch %s: %w", c.cfg.Subject, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	m := msgs[0]
	msg := fromNats(m)
	if mode == broker.ReceiveAndDelete {
		if err := m.Ack(nats.Context(ctx)); err != nil {
			return nil, fmt.Errorf("ack %s: %w", c.cfg.Subject, err)
		}
		return msg, nil
	}
	msg.Bind(&delivery{consumer: c, m: m})
	return msg, nil
}

// Close drains the subscription and closes the connection.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return nil
	}
	var err error
	if c.sub != nil {
		err = c.sub.Unsubscribe()
	}
	c.nc.Close()
	c.nc, c.js, c.sub = nil, nil, nil
	return err
}

// delivery settles one fetched JetStream message.
type delivery struct {
	consumer *Consumer
	m        *nats.Msg
}

func (d *delivery) Complete(ctx context.Context, _ *broker.Message) error {
	return d.m.Ack(nats.Context(ctx))
}

func (d *delivery) Abandon(ctx context.Context, _ *broker.Message) error {
	return d.m.Nak(nats.Context(ctx))
}

func (d *delivery) DeadLetter(ctx context.Context, msg *broker.Message, reason, description string) error {
	if subject := d.consumer.cfg.DeadLetterSubject; subject != "" {
		moved := msg.Clone()
		moved.ID = ""
		moved.SetProperty(broker.DeadLetterReasonProperty, reason)
		moved.SetProperty(broker.DeadLetterDescriptionProperty, description)
		if err := d.consumer.publish(ctx, subject, moved); err != nil {
			return err
		}
	}
	return d.m.Term(nats.Context(ctx))
}

func toNats(subject string, msg *broker.Message) *nats.Msg {
	m := nats.NewMsg(subject)
	m.Data = msg.Body
	for k, v := range msg.Properties {
		m.Header.Set(k, v)
	}
	if msg.ID != "" {
		m.Header.Set(nats.MsgIdHdr, msg.ID)
	}
	if msg.SessionID != "" {
		m.Header.Set(sessionHeader, msg.SessionID)
	}
	if msg.ContentType != "" {
		m.Header.Set(contentTypeHeader, msg.ContentType)
	}
	return m
}

func fromNats(m *nats.Msg) *broker.Message {
	msg := broker.NewMessage(m.Data)
	msg.DeliveryCount = 1
	for k, values := range m.Header {
		if len(values) == 0 {
			continue
		}
		switch k {
		case nats.MsgIdHdr:
			msg.ID = values[0]
		case sessionHeader:
			msg.SessionID = values[0]
		case contentTypeHeader:
			msg.ContentType = values[0]
		default:
			msg.SetProperty(k, values[0])
		}
	}
	if meta, err := m.Metadata(); err == nil {
		msg.DeliveryCount = int(meta.NumDelivered)
		msg.EnqueuedAt = meta.Timestamp
		if msg.ID == "" {
			msg.ID = strconv.FormatUint(meta.Sequence.Stream, 10)
		}
	}
	return msg
}
