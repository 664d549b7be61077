package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeCommitter struct {
	commits int
}

func (c *fakeCommitter) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	c.commits += len(msgs)
	return nil
}

type fakeDelayed struct {
	topic   string
	message *Message
	delay   time.Duration
}

func (d *fakeDelayed) PublishAfter(_ context.Context, topic string, message *Message, delay time.Duration) error {
	d.topic = topic
	d.message = message
	d.delay = delay
	return nil
}

func newTestSubscription(handler HandlerFunc, opts SubscribeOptions) *kafkaSubscription {
	opts.SetDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &kafkaSubscription{topic: "grading.poll", handler: handler, opts: opts, ctx: ctx, cancel: cancel}
}

func TestHandleMessageCommitsAfterSuccess(t *testing.T) {
	t.Parallel()
	calls := 0
	sub := newTestSubscription(func(context.Context, *Message) error {
		calls++
		return nil
	}, SubscribeOptions{})
	defer sub.cancel()

	committer := &fakeCommitter{}
	q := &KafkaQueue{}
	q.handleMessage(sub, committer, toKafkaMessage("grading.poll", &Message{ID: "m1", Body: []byte("x")}))
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if committer.commits != 1 {
		t.Fatalf("expected 1 commit, got %d", committer.commits)
	}
}

func TestHandleMessageRequeuesFailure(t *testing.T) {
	t.Parallel()
	requeue := &fakeDelayed{}
	sub := newTestSubscription(func(context.Context, *Message) error {
		return errors.New("judge down")
	}, SubscribeOptions{RetryDelay: time.Second, MaxRetries: 2, Requeue: requeue})
	defer sub.cancel()

	committer := &fakeCommitter{}
	q := &KafkaQueue{}
	q.handleMessage(sub, committer, toKafkaMessage("grading.poll", &Message{ID: "m1", Body: []byte("x")}))

	if committer.commits != 1 {
		t.Fatalf("expected original to be committed after requeue, got %d", committer.commits)
	}
	if requeue.message == nil || requeue.message.RetryCount != 1 {
		t.Fatalf("expected requeued message with retry 1, got %+v", requeue.message)
	}
	if requeue.topic != "grading.poll" || requeue.delay != time.Second {
		t.Fatalf("unexpected requeue target %s after %v", requeue.topic, requeue.delay)
	}
}

func TestHandleMessageStopsRetryingWhenCanceled(t *testing.T) {
	t.Parallel()
	sub := newTestSubscription(nil, SubscribeOptions{RetryDelay: time.Hour})
	sub.handler = func(context.Context, *Message) error {
		sub.cancel()
		return errors.New("interrupted")
	}
	committer := &fakeCommitter{}
	q := &KafkaQueue{}
	q.handleMessage(sub, committer, toKafkaMessage("grading.poll", &Message{ID: "m1"}))
	if committer.commits != 0 {
		t.Fatalf("expected message to stay uncommitted, got %d commits", committer.commits)
	}
}

func TestRetryBackoff(t *testing.T) {
	t.Parallel()
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{20, 64 * time.Second},
	}
	for _, tc := range cases {
		if got := RetryBackoff(time.Second, tc.retry); got != tc.want {
			t.Fatalf("retry %d: expected %v, got %v", tc.retry, tc.want, got)
		}
	}
}
