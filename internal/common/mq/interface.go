package mq

import (
	"context"
	"time"
)

// MessageQueue is a broker connection that can both publish and consume.
type MessageQueue interface {
	Producer
	Consumer

	// Ping verifies the broker connection is alive
	Ping(ctx context.Context) error

	// Close stops consumers and releases the producer
	Close() error
}

// Producer publishes messages to a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// DelayedProducer publishes messages that become visible after a delay.
type DelayedProducer interface {
	PublishAfter(ctx context.Context, topic string, message *Message, delay time.Duration) error
}

// Consumer registers handlers and drives consumption.
type Consumer interface {
	// Subscribe registers handler for topic. The handler returns nil when the
	// message is done; any error makes the message eligible for retry.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	// Start starts consuming messages
	Start() error

	// Stop gracefully stops consuming messages
	Stop() error
}

// Message represents a message in the queue
type Message struct {
	ID        string            `json:"id"`
	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// HandlerFunc is the function signature for message handlers
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions defines options for subscribing to a topic
type SubscribeOptions struct {
	// ConsumerGroup is the consumer group name
	ConsumerGroup string

	// Concurrency is the number of handler goroutines.
	// Offsets are committed per message, so values above 1 trade strict
	// at-least-once delivery for throughput.
	// Default: 1
	Concurrency int

	// MaxRetries is the number of extra attempts after the first failure.
	// Default: 3
	MaxRetries int

	// RetryDelay is the base delay between attempts, doubled per attempt.
	// Default: 1 second
	RetryDelay time.Duration

	// Requeue, when set, receives failed messages instead of an in-process wait.
	Requeue DelayedProducer

	// DeadLetterTopic receives messages that exhausted their retries
	DeadLetterTopic string
}

// SetDefaults sets default values for subscribe options
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a new message with the given body
func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Body = append([]byte(nil), m.Body...)
	out.Headers = make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		out.Headers[k] = v
	}
	return &out
}

// RetryBackoff returns the wait before attempt number retry (1-based).
func RetryBackoff(base time.Duration, retry int) time.Duration {
	if base <= 0 {
		return 0
	}
	if retry < 1 {
		retry = 1
	}
	const maxShift = 6
	shift := retry - 1
	if shift > maxShift {
		shift = maxShift
	}
	return base << shift
}
