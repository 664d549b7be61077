package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"classjudge/internal/common/mq"
	"classjudge/internal/grading/model"
	appErr "classjudge/pkg/errors"
)

type sentMessage struct {
	topic   string
	message *mq.Message
	delay   time.Duration
}

type recordingProducer struct {
	sent []sentMessage
	err  error
}

func (p *recordingProducer) Publish(_ context.Context, topic string, message *mq.Message) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentMessage{topic: topic, message: message})
	return nil
}

func (p *recordingProducer) PublishAfter(_ context.Context, topic string, message *mq.Message, delay time.Duration) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentMessage{topic: topic, message: message, delay: delay})
	return nil
}

func newTestScheduler(t *testing.T, producer, delayed *recordingProducer) *QueueScheduler {
	t.Helper()
	s, err := NewQueueScheduler(QueueSchedulerConfig{
		Producer: producer,
		Delayed:  delayed,
		Topics:   TopicConfig{Dispatch: "grading.dispatch", Poll: "grading.poll"},
	})
	if err != nil {
		t.Fatalf("NewQueueScheduler: %v", err)
	}
	return s
}

func TestSchedulerRoutesJobs(t *testing.T) {
	producer, delayed := &recordingProducer{}, &recordingProducer{}
	s := newTestScheduler(t, producer, delayed)
	ctx := context.Background()

	if err := s.ScheduleDispatch(ctx, model.DispatchJob{SubmissionID: 7}); err != nil {
		t.Fatalf("ScheduleDispatch: %v", err)
	}
	if err := s.SchedulePoll(ctx, model.PollJob{SubmissionID: 7, RemainingAttempts: 15}); err != nil {
		t.Fatalf("SchedulePoll: %v", err)
	}

	if len(producer.sent) != 1 || producer.sent[0].topic != "grading.dispatch" {
		t.Fatalf("dispatch not published directly: %+v", producer.sent)
	}
	if len(delayed.sent) != 1 || delayed.sent[0].topic != "grading.poll" || delayed.sent[0].delay != defaultPollDelay {
		t.Fatalf("poll not delayed: %+v", delayed.sent)
	}
	if producer.sent[0].message.ID != "7" || delayed.sent[0].message.ID != "7" {
		t.Fatalf("messages should be keyed by submission id")
	}

	dispatch, err := DecodeDispatchJob(producer.sent[0].message)
	if err != nil || dispatch.SubmissionID != 7 {
		t.Fatalf("DecodeDispatchJob: %+v %v", dispatch, err)
	}
	poll, err := DecodePollJob(delayed.sent[0].message)
	if err != nil || poll != (model.PollJob{SubmissionID: 7, RemainingAttempts: 15}) {
		t.Fatalf("DecodePollJob: %+v %v", poll, err)
	}
}

func TestSchedulerPublishFailure(t *testing.T) {
	producer := &recordingProducer{err: errors.New("broker down")}
	s := newTestScheduler(t, producer, &recordingProducer{})
	err := s.ScheduleDispatch(context.Background(), model.DispatchJob{SubmissionID: 7})
	if !appErr.Is(err, appErr.QueuePublishFailed) {
		t.Fatalf("expected QueuePublishFailed, got %v", err)
	}
}

func TestDecodeRejectsMalformedJobs(t *testing.T) {
	if _, err := DecodePollJob(mq.NewMessage([]byte("not json"))); !appErr.Is(err, appErr.InvalidFormat) {
		t.Fatalf("expected InvalidFormat, got %v", err)
	}
	if _, err := DecodeDispatchJob(mq.NewMessage([]byte(`{}`))); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}

func TestHandlersDropMalformedMessages(t *testing.T) {
	f := newGradingFixture(t, 3)
	f.judge.tokens = []string{"A", "B", "C"}
	ctx := context.Background()
	if err := f.svc.PollHandler()(ctx, mq.NewMessage([]byte("{"))); err != nil {
		t.Fatalf("malformed poll should be dropped, got %v", err)
	}
	if err := f.svc.DispatchHandler()(ctx, mq.NewMessage([]byte(`{"submission_id":7}`))); err != nil {
		t.Fatalf("dispatch handler: %v", err)
	}
	if f.judge.submitCalls != 1 {
		t.Fatalf("dispatch handler should reach the judge")
	}
}
