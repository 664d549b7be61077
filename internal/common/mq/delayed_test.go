package mq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classjudge/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type published struct {
	topic   string
	message *Message
}

type fakeProducer struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakeProducer) Publish(_ context.Context, topic string, message *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{topic: topic, message: message})
	return nil
}

func newDelayedQueue(t *testing.T, producer Producer) (*DelayedQueue, *cache.RedisCache, *time.Time) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	q, err := NewDelayedQueue(store, producer, DelayedQueueConfig{Key: "test:delayed", RetryDelay: time.Second})
	if err != nil {
		t.Fatalf("new delayed queue failed: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	return q, store, &now
}

func TestDelayedQueueHoldsUntilDue(t *testing.T) {
	producer := &fakeProducer{}
	q, _, now := newDelayedQueue(t, producer)
	ctx := context.Background()

	msg := NewMessage([]byte(`{"submission_id":7}`))
	if err := q.PublishAfter(ctx, "grading.poll", msg, time.Second); err != nil {
		t.Fatalf("publish after failed: %v", err)
	}

	n, err := q.RelayDue(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected nothing due, got %d, %v", n, err)
	}

	*now = now.Add(time.Second)
	n, err = q.RelayDue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one relayed message, got %d, %v", n, err)
	}
	if len(producer.sent) != 1 || producer.sent[0].topic != "grading.poll" {
		t.Fatalf("unexpected published messages: %+v", producer.sent)
	}
	if string(producer.sent[0].message.Body) != `{"submission_id":7}` {
		t.Fatalf("unexpected body %s", producer.sent[0].message.Body)
	}
	if producer.sent[0].message.ID == "" {
		t.Fatalf("expected message id to be assigned")
	}

	n, err = q.RelayDue(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected message to be relayed once, got %d, %v", n, err)
	}
}

func TestDelayedQueueImmediatePublish(t *testing.T) {
	producer := &fakeProducer{}
	q, store, _ := newDelayedQueue(t, producer)
	if err := q.PublishAfter(context.Background(), "grading.dispatch", NewMessage([]byte("x")), 0); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(producer.sent) != 1 {
		t.Fatalf("expected direct publish, got %d", len(producer.sent))
	}
	if n, _ := store.ZCard(context.Background(), "test:delayed"); n != 0 {
		t.Fatalf("expected empty delay set, got %d", n)
	}
}

func TestDelayedQueueReschedulesOnPublishFailure(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker down")}
	q, store, now := newDelayedQueue(t, producer)
	ctx := context.Background()

	if err := q.PublishAfter(ctx, "grading.poll", NewMessage([]byte("x")), time.Second); err != nil {
		t.Fatalf("publish after failed: %v", err)
	}
	*now = now.Add(2 * time.Second)
	n, err := q.RelayDue(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected no publish, got %d, %v", n, err)
	}
	members, err := store.ZRangeByScore(ctx, "test:delayed", 0, float64(now.Add(time.Hour).UnixMilli()), 10)
	if err != nil || len(members) != 1 {
		t.Fatalf("expected message to stay parked, got %v, %v", members, err)
	}
	if want := float64(now.Add(time.Second).UnixMilli()); members[0].Score != want {
		t.Fatalf("expected retry score %v, got %v", want, members[0].Score)
	}

	producer.err = nil
	*now = now.Add(time.Second)
	n, err = q.RelayDue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected relay after recovery, got %d, %v", n, err)
	}
}

type flakyStore struct {
	*cache.RedisCache
	zaddErr error
	zremErr error
}

func (s *flakyStore) ZAdd(ctx context.Context, key string, members ...cache.ZMember) error {
	if s.zaddErr != nil {
		return s.zaddErr
	}
	return s.RedisCache.ZAdd(ctx, key, members...)
}

func (s *flakyStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	if s.zremErr != nil {
		return 0, s.zremErr
	}
	return s.RedisCache.ZRem(ctx, key, members...)
}

func TestDelayedQueueKeepsMessageWhenBrokerAndRetryFail(t *testing.T) {
	producer := &fakeProducer{}
	q, store, now := newDelayedQueue(t, producer)
	ctx := context.Background()

	if err := q.PublishAfter(ctx, "grading.poll", NewMessage([]byte("x")), time.Second); err != nil {
		t.Fatalf("publish after failed: %v", err)
	}
	flaky := &flakyStore{RedisCache: store, zaddErr: errors.New("redis write failed")}
	q.store = flaky
	producer.err = errors.New("broker down")
	*now = now.Add(2 * time.Second)

	if n, err := q.RelayDue(ctx); err != nil || n != 0 {
		t.Fatalf("expected no publish, got %d, %v", n, err)
	}
	if n, _ := store.ZCard(ctx, "test:delayed"); n != 1 {
		t.Fatalf("expected message to stay parked, got %d members", n)
	}

	flaky.zaddErr = nil
	producer.err = nil
	n, err := q.RelayDue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected relay after recovery, got %d, %v", n, err)
	}
	if len(producer.sent) != 1 {
		t.Fatalf("expected one published message, got %d", len(producer.sent))
	}
	if n, _ := store.ZCard(ctx, "test:delayed"); n != 0 {
		t.Fatalf("expected empty delay set, got %d", n)
	}
}

func TestDelayedQueueRepublishesWhenRemovalFails(t *testing.T) {
	producer := &fakeProducer{}
	q, store, now := newDelayedQueue(t, producer)
	ctx := context.Background()

	if err := q.PublishAfter(ctx, "grading.poll", NewMessage([]byte("x")), time.Second); err != nil {
		t.Fatalf("publish after failed: %v", err)
	}
	flaky := &flakyStore{RedisCache: store, zremErr: errors.New("redis write failed")}
	q.store = flaky
	*now = now.Add(time.Second)

	if n, err := q.RelayDue(ctx); err == nil || n != 1 {
		t.Fatalf("expected publish with removal error, got %d, %v", n, err)
	}
	flaky.zremErr = nil
	if n, err := q.RelayDue(ctx); err != nil || n != 1 {
		t.Fatalf("expected second relay, got %d, %v", n, err)
	}
	if len(producer.sent) != 2 || producer.sent[0].message.ID != producer.sent[1].message.ID {
		t.Fatalf("expected the same message twice, got %+v", producer.sent)
	}
	if n, _ := store.ZCard(ctx, "test:delayed"); n != 0 {
		t.Fatalf("expected empty delay set, got %d", n)
	}
}
