// Package kafka implements broker endpoints on Kafka topics read through a
// consumer group.
//
// Kafka has no per-message lock: a peek-locked message is one whose offset has
// not been committed yet. Abandoning re-publishes the message with an
// incremented delivery count and settles the original offset, so redelivery
// happens at the tail of the partition.
//
// Settlements may arrive out of fetch order. A partition's committed offset
// only advances over a contiguous run of settled offsets, so an unsettled
// message is never skipped by a later commit.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
	"github.com/neoclaw-ai/brokerhost/internal/logging"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	idHeader            = "MessageId"
	contentTypeHeader   = "ContentType"
	deliveryCountHeader = "DeliveryCount"

	defaultMaxDeliveryCount = 10
	defaultReceiveWait      = time.Second

	// MaxDeliveryCountExceeded is the dead-letter reason used for poison messages.
	MaxDeliveryCountExceeded = "MaxDeliveryCountExceeded"
)

// Config describes one topic consumed by a consumer group.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
	// DeadLetterTopic receives dead-lettered and poison messages. When empty
	// dead-lettered messages are committed and dropped.
	DeadLetterTopic string
	// MaxDeliveryCount bounds how often an abandoned message is re-published.
	MaxDeliveryCount int
	// ReceiveWait bounds how long Receive blocks with no message.
	ReceiveWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxDeliveryCount <= 0 {
		c.MaxDeliveryCount = defaultMaxDeliveryCount
	}
	if c.ReceiveWait <= 0 {
		c.ReceiveWait = defaultReceiveWait
	}
	return c
}

type reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Topic is a Kafka topic endpoint.
type Topic struct {
	cfg Config

	mu         sync.Mutex
	reader     reader
	writer     writer
	deadLetter writer
	closed     bool

	commitMu   sync.Mutex
	partitions map[int]*partition
}

// partition tracks fetched offsets that are not committed yet, in fetch order.
type partition struct {
	pending []int64
	settled map[int64]kafkago.Message
}

// Open creates the consumer group reader and the writers for the topic.
func Open(cfg Config) (*Topic, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("kafka brokers, topic and group id are required")
	}

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
		MaxWait: cfg.ReceiveWait,
	})
	var dlq writer
	if cfg.DeadLetterTopic != "" {
		dlq = newWriter(cfg.Brokers, cfg.DeadLetterTopic)
	}

	logging.Logger().Info("kafka topic ready", "topic", cfg.Topic, "group", cfg.GroupID, "dead_letter_topic", cfg.DeadLetterTopic)
	return newTopic(cfg, r, newWriter(cfg.Brokers, cfg.Topic), dlq), nil
}

func newWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
}

func newTopic(cfg Config, r reader, w, dlq writer) *Topic {
	return &Topic{
		cfg:        cfg.withDefaults(),
		reader:     r,
		writer:     w,
		deadLetter: dlq,
		partitions: map[int]*partition{},
	}
}

// Name returns the topic name.
func (t *Topic) Name() string {
	return t.cfg.Topic
}

// Send writes msg to the topic keyed by its session ID.
func (t *Topic) Send(ctx context.Context, msg *broker.Message) error {
	w, err := t.writers()
	if err != nil {
		return err
	}
	if err := w.WriteMessages(ctx, toKafka(msg)); err != nil {
		return fmt.Errorf("write to %s: %w", t.cfg.Topic, err)
	}
	return nil
}

// Receive fetches the next message. In ReceiveAndDelete mode its offset is
// committed before it is returned.
func (t *Topic) Receive(ctx context.Context, mode broker.ReceiveMode) (*broker.Message, error) {
	t.mu.Lock()
	r, closed := t.reader, t.closed
	t.mu.Unlock()
	if closed {
		return nil, broker.ErrClosed
	}

	fetchCtx, cancel := context.WithTimeout(ctx, t.cfg.ReceiveWait)
	defer cancel()
	km, err := r.FetchMessage(fetchCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch %s: %w", t.cfg.Topic, err)
	}

	msg := fromKafka(km)
	if mode == broker.ReceiveAndDelete {
		t.commitMu.Lock()
		err := t.commitLocked(ctx, km)
		t.commitMu.Unlock()
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
	t.track(km)
	msg.Bind(&offset{topic: t, km: km})
	return msg, nil
}

// Close closes the reader and writers.
func (t *Topic) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	errs := []error{t.reader.Close(), t.writer.Close()}
	if t.deadLetter != nil {
		errs = append(errs, t.deadLetter.Close())
	}
	return errors.Join(errs...)
}

func (t *Topic) writers() (writer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, broker.ErrClosed
	}
	return t.writer, nil
}

func (t *Topic) track(km kafkago.Message) {
	t.commitMu.Lock()
	defer t.commitMu.Unlock()
	p, ok := t.partitions[km.Partition]
	if !ok {
		p = &partition{settled: map[int64]kafkago.Message{}}
		t.partitions[km.Partition] = p
	}
	p.pending = append(p.pending, km.Offset)
}

// commit marks km settled and commits the partition's contiguous settled
// prefix, if any.
func (t *Topic) commit(ctx context.Context, km kafkago.Message) error {
	t.commitMu.Lock()
	defer t.commitMu.Unlock()

	p, ok := t.partitions[km.Partition]
	if !ok {
		return t.commitLocked(ctx, km)
	}
	p.settled[km.Offset] = km

	var (
		last    kafkago.Message
		advance int
	)
	for _, off := range p.pending {
		settled, ok := p.settled[off]
		if !ok {
			break
		}
		last = settled
		advance++
	}
	if advance == 0 {
		return nil
	}
	if err := t.commitLocked(ctx, last); err != nil {
		return err
	}
	for _, off := range p.pending[:advance] {
		delete(p.settled, off)
	}
	p.pending = p.pending[advance:]
	return nil
}

func (t *Topic) commitLocked(ctx context.Context, km kafkago.Message) error {
	if err := t.reader.CommitMessages(ctx, km); err != nil {
		return fmt.Errorf("commit %s: %w", t.cfg.Topic, err)
	}
	return nil
}

// offset settles one uncommitted message.
type offset struct {
	topic *Topic
	km    kafkago.Message
}

func (o *offset) Complete(ctx context.Context, _ *broker.Message) error {
	return o.topic.commit(ctx, o.km)
}

func (o *offset) Abandon(ctx context.Context, msg *broker.Message) error {
	if msg.DeliveryCount >= o.topic.cfg.MaxDeliveryCount {
		return o.DeadLetter(ctx, msg, MaxDeliveryCountExceeded,
			"message could not be consumed after "+strconv.Itoa(msg.DeliveryCount)+" delivery attempts")
	}
	retry := msg.Clone()
	if err := o.topic.writer.WriteMessages(ctx, toKafka(retry)); err != nil {
		return fmt.Errorf("requeue to %s: %w", o.topic.cfg.Topic, err)
	}
	return o.topic.commit(ctx, o.km)
}

func (o *offset) DeadLetter(ctx context.Context, msg *broker.Message, reason, description string) error {
	if dlq := o.topic.deadLetter; dlq != nil {
		moved := msg.Clone()
		moved.SetProperty(broker.DeadLetterReasonProperty, reason)
		moved.SetProperty(broker.DeadLetterDescriptionProperty, description)
		if err := dlq.WriteMessages(ctx, toKafka(moved)); err != nil {
			return fmt.Errorf("dead-letter to %s: %w", o.topic.cfg.DeadLetterTopic, err)
		}
	} else {
		logging.Logger().Warn("dead-lettered message dropped, no dead-letter topic", "topic", o.topic.cfg.Topic, "reason", reason)
	}
	return o.topic.commit(ctx, o.km)
}

// toKafka encodes msg. The delivery count header records deliveries already
// made, so a re-published message is counted from there.
func toKafka(msg *broker.Message) kafkago.Message {
	headers := make([]kafkago.Header, 0, len(msg.Properties)+3)
	for k, v := range msg.Properties {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	if msg.ID != "" {
		headers = append(headers, kafkago.Header{Key: idHeader, Value: []byte(msg.ID)})
	}
	if msg.ContentType != "" {
		headers = append(headers, kafkago.Header{Key: contentTypeHeader, Value: []byte(msg.ContentType)})
	}
	if msg.DeliveryCount > 0 {
		headers = append(headers, kafkago.Header{Key: deliveryCountHeader, Value: []byte(strconv.Itoa(msg.DeliveryCount))})
	}
	km := kafkago.Message{Value: msg.Body, Headers: headers}
	if msg.SessionID != "" {
		km.Key = []byte(msg.SessionID)
	}
	return km
}

func fromKafka(km kafkago.Message) *broker.Message {
	msg := broker.NewMessage(km.Value)
	msg.SessionID = string(km.Key)
	msg.EnqueuedAt = km.Time
	previous := 0
	for _, h := range km.Headers {
		switch h.Key {
		case idHeader:
			msg.ID = string(h.Value)
		case contentTypeHeader:
			msg.ContentType = string(h.Value)
		case deliveryCountHeader:
			previous, _ = strconv.Atoi(string(h.Value))
		default:
			msg.SetProperty(h.Key, string(h.Value))
		}
	}
	msg.DeliveryCount = previous + 1
	if msg.ID == "" {
		msg.ID = km.Topic + "/" + strconv.Itoa(km.Partition) + "/" + strconv.FormatInt(km.Offset, 10)
	}
	return msg
}
