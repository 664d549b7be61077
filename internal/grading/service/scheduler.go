package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"classjudge/internal/common/mq"
	"classjudge/internal/grading/model"
	appErr "classjudge/pkg/errors"
)

const (
	defaultPollDelay = time.Second
	headerJobType    = "job-type"
	jobTypeDispatch  = "dispatch"
	jobTypePoll      = "poll"
)

// Scheduler enqueues grading jobs.
type Scheduler interface {
	ScheduleDispatch(ctx context.Context, job model.DispatchJob) error
	SchedulePoll(ctx context.Context, job model.PollJob) error
}

// TopicConfig names the broker topics of the grading pipeline.
type TopicConfig struct {
	Dispatch   string `yaml:"dispatch"`
	Poll       string `yaml:"poll"`
	DeadLetter string `yaml:"deadLetter"`
}

// QueueSchedulerConfig holds scheduler dependencies.
type QueueSchedulerConfig struct {
	Producer  mq.Producer
	Delayed   mq.DelayedProducer
	Topics    TopicConfig
	PollDelay time.Duration
}

// QueueScheduler publishes dispatch jobs directly and poll jobs through the delayed queue.
type QueueScheduler struct {
	producer  mq.Producer
	delayed   mq.DelayedProducer
	topics    TopicConfig
	pollDelay time.Duration
}

// NewQueueScheduler creates a scheduler.
func NewQueueScheduler(cfg QueueSchedulerConfig) (*QueueScheduler, error) {
	if cfg.Producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if cfg.Delayed == nil {
		return nil, fmt.Errorf("delayed producer is required")
	}
	if cfg.Topics.Dispatch == "" || cfg.Topics.Poll == "" {
		return nil, fmt.Errorf("dispatch and poll topics are required")
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = defaultPollDelay
	}
	return &QueueScheduler{
		producer:  cfg.Producer,
		delayed:   cfg.Delayed,
		topics:    cfg.Topics,
		pollDelay: cfg.PollDelay,
	}, nil
}

func (s *QueueScheduler) ScheduleDispatch(ctx context.Context, job model.DispatchJob) error {
	message, err := newJobMessage(job.SubmissionID, jobTypeDispatch, job)
	if err != nil {
		return err
	}
	if err := s.producer.Publish(ctx, s.topics.Dispatch, message); err != nil {
		return appErr.Wrapf(err, appErr.QueuePublishFailed, "publish dispatch job failed")
	}
	return nil
}

func (s *QueueScheduler) SchedulePoll(ctx context.Context, job model.PollJob) error {
	message, err := newJobMessage(job.SubmissionID, jobTypePoll, job)
	if err != nil {
		return err
	}
	if err := s.delayed.PublishAfter(ctx, s.topics.Poll, message, s.pollDelay); err != nil {
		return appErr.Wrapf(err, appErr.QueuePublishFailed, "schedule poll job failed")
	}
	return nil
}

// Messages of one submission share a key so they land on the same partition.
func newJobMessage(submissionID int64, jobType string, payload interface{}) (*mq.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.QueuePublishFailed, "encode %s job failed", jobType)
	}
	message := mq.NewMessage(body)
	message.ID = strconv.FormatInt(submissionID, 10)
	message.SetHeader(headerJobType, jobType)
	return message, nil
}

// DecodeDispatchJob parses a dispatch job message body.
func DecodeDispatchJob(message *mq.Message) (model.DispatchJob, error) {
	var job model.DispatchJob
	if err := json.Unmarshal(message.Body, &job); err != nil {
		return job, appErr.Wrapf(err, appErr.InvalidFormat, "decode dispatch job failed")
	}
	if job.SubmissionID <= 0 {
		return job, appErr.ValidationError("submission_id", "required")
	}
	return job, nil
}

// DecodePollJob parses a poll job message body.
func DecodePollJob(message *mq.Message) (model.PollJob, error) {
	var job model.PollJob
	if err := json.Unmarshal(message.Body, &job); err != nil {
		return job, appErr.Wrapf(err, appErr.InvalidFormat, "decode poll job failed")
	}
	if job.SubmissionID <= 0 {
		return job, appErr.ValidationError("submission_id", "required")
	}
	return job, nil
}

var _ Scheduler = (*QueueScheduler)(nil)
