package config

import (
	"errors"
	"fmt"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
	"github.com/neoclaw-ai/brokerhost/internal/logging"
	"github.com/neoclaw-ai/brokerhost/internal/runtime"
)

// Validatable is implemented by config sections that can self-validate.
type Validatable interface {
	Validate() error
}

// Validate checks the log level name.
func (c LogConfig) Validate() error {
	_, err := logging.ParseLevel(c.Level)
	return err
}

// Validate checks the selected transport's required settings.
func (c TransportConfig) Validate() error {
	switch c.Kind {
	case TransportMemory:
		return nil
	case TransportAMQP:
		return c.AMQP.Validate()
	case TransportNATS:
		return c.NATS.Validate()
	case TransportKafka:
		return c.Kafka.Validate()
	default:
		return fmt.Errorf("invalid kind %q (allowed: %q, %q, %q, %q)", c.Kind, TransportMemory, TransportAMQP, TransportNATS, TransportKafka)
	}
}

// Validate checks RabbitMQ settings.
func (c AMQPConfig) Validate() error {
	if c.URL == "" {
		return errors.New("amqp.url is required")
	}
	if c.Prefetch < 0 {
		return errors.New("amqp.prefetch must be >= 0")
	}
	return nil
}

// Validate checks NATS settings.
func (c NATSConfig) Validate() error {
	if c.URL == "" {
		return errors.New("nats.url is required")
	}
	if c.Stream == "" {
		return errors.New("nats.stream is required")
	}
	return nil
}

// Validate checks Kafka settings.
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if c.GroupID == "" {
		return errors.New("kafka.group_id is required")
	}
	return nil
}

// Validate checks listener settings.
func (c ListenerConfig) Validate() error {
	var errs []error
	if c.Queue == "" {
		errs = append(errs, errors.New("queue is required"))
	}
	if c.Handler == "" {
		errs = append(errs, errors.New("handler is required"))
	}
	if _, err := broker.ParseReceiveMode(c.ReceiveMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := runtime.ParseUnroutablePolicy(c.Unroutable); err != nil {
		errs = append(errs, err)
	}
	if c.MaxConcurrentCalls < 0 {
		errs = append(errs, errors.New("max_concurrent_calls must be >= 0"))
	}
	if c.MaxDeliveryCount < 0 {
		errs = append(errs, errors.New("max_delivery_count must be >= 0"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be > 0"))
	}
	return errors.Join(errs...)
}

// Validate validates every section and joins their errors.
func (cfg *Config) Validate() error {
	sections := []struct {
		name    string
		section Validatable
	}{
		{name: "log", section: cfg.Log},
		{name: "transport", section: cfg.Transport},
		{name: "listener", section: cfg.Listener},
	}

	var errs []error
	for _, s := range sections {
		if err := s.section.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Mode returns the parsed listener receive mode.
func (c ListenerConfig) Mode() broker.ReceiveMode {
	mode, _ := broker.ParseReceiveMode(c.ReceiveMode)
	return mode
}

// UnroutablePolicy returns the parsed unroutable policy.
func (c ListenerConfig) UnroutablePolicy() runtime.UnroutablePolicy {
	policy, _ := runtime.ParseUnroutablePolicy(c.Unroutable)
	return policy
}
