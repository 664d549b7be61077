package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"classjudge/internal/common/cache"
	"classjudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DelayedQueueConfig configures the Redis-backed delay set.
type DelayedQueueConfig struct {
	// Key is the sorted set holding pending messages scored by due time in ms.
	Key string `yaml:"key"`

	// PollInterval is how often the relay looks for due messages.
	// Default: 200ms
	PollInterval time.Duration `yaml:"pollInterval"`

	// BatchSize bounds the messages moved per relay pass.
	// Default: 100
	BatchSize int64 `yaml:"batchSize"`

	// RetryDelay is added to the due time of a message whose publish failed.
	// Default: 1s
	RetryDelay time.Duration `yaml:"retryDelay"`
}

func (c *DelayedQueueConfig) setDefaults() {
	if c.Key == "" {
		c.Key = "mq:delayed"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
}

// DelayedQueue parks messages in a Redis sorted set until they are due and
// relays them to the broker. Delivery is at least once: concurrent relays or a
// failed removal can publish a message twice, and consumers must tolerate it.
type DelayedQueue struct {
	cfg      DelayedQueueConfig
	store    cache.ZSetOps
	producer Producer
	now      func() time.Time
}

type delayedEnvelope struct {
	Topic   string   `json:"topic"`
	Message *Message `json:"message"`
}

// NewDelayedQueue creates a delay set in front of producer.
func NewDelayedQueue(store cache.ZSetOps, producer Producer, cfg DelayedQueueConfig) (*DelayedQueue, error) {
	if store == nil {
		return nil, errors.New("delay store is required")
	}
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	cfg.setDefaults()
	return &DelayedQueue{cfg: cfg, store: store, producer: producer, now: time.Now}, nil
}

// PublishAfter stores message so that it reaches topic after delay.
// A non-positive delay publishes immediately.
func (q *DelayedQueue) PublishAfter(ctx context.Context, topic string, message *Message, delay time.Duration) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	if delay <= 0 {
		return q.producer.Publish(ctx, topic, message)
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	member, err := encodeEnvelope(topic, message)
	if err != nil {
		return err
	}
	due := q.now().Add(delay)
	return q.store.ZAdd(ctx, q.cfg.Key, cache.ZMember{Score: float64(due.UnixMilli()), Member: member})
}

// Run relays due messages until ctx is canceled.
func (q *DelayedQueue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := q.RelayDue(ctx); err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "relay delayed messages failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayDue forwards every message due at the current time and returns how many were published.
// A message leaves the set only after the broker accepted it, so a crash or a
// broker outage can duplicate a message but never lose it.
func (q *DelayedQueue) RelayDue(ctx context.Context) (int, error) {
	now := q.now()
	members, err := q.store.ZRangeByScore(ctx, q.cfg.Key, 0, float64(now.UnixMilli()), q.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("scan delayed set: %w", err)
	}

	published := 0
	for _, member := range members {
		var env delayedEnvelope
		if err := json.Unmarshal([]byte(member.Member), &env); err != nil || env.Message == nil || env.Topic == "" {
			logger.Error(ctx, "drop malformed delayed message", zap.String("member", member.Member), zap.Error(err))
			if _, remErr := q.store.ZRem(ctx, q.cfg.Key, member.Member); remErr != nil {
				return published, fmt.Errorf("drop delayed message: %w", remErr)
			}
			continue
		}
		if err := q.producer.Publish(ctx, env.Topic, env.Message); err != nil {
			logger.Warn(ctx, "publish delayed message failed, rescheduling",
				zap.String("topic", env.Topic),
				zap.String("message_id", env.Message.ID),
				zap.Error(err),
			)
			// the member stays due even if the backoff cannot be recorded
			retryAt := now.Add(q.cfg.RetryDelay)
			if addErr := q.store.ZAdd(ctx, q.cfg.Key, cache.ZMember{Score: float64(retryAt.UnixMilli()), Member: member.Member}); addErr != nil {
				logger.Warn(ctx, "delay retry of delayed message failed",
					zap.String("message_id", env.Message.ID),
					zap.Error(addErr),
				)
			}
			continue
		}
		published++
		if _, err := q.store.ZRem(ctx, q.cfg.Key, member.Member); err != nil {
			return published, fmt.Errorf("remove relayed message %s: %w", env.Message.ID, err)
		}
	}
	return published, nil
}

func encodeEnvelope(topic string, message *Message) (string, error) {
	raw, err := json.Marshal(delayedEnvelope{Topic: topic, Message: message})
	if err != nil {
		return "", fmt.Errorf("encode delayed message: %w", err)
	}
	return string(raw), nil
}

var _ DelayedProducer = (*DelayedQueue)(nil)
