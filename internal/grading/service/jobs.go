package service

import (
	"context"

	"classjudge/internal/common/mq"
	"classjudge/pkg/utils/contextkey"
	"classjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// DispatchHandler adapts HandleDispatch to the queue. Undecodable messages are dropped.
func (s *GradingService) DispatchHandler() mq.HandlerFunc {
	return func(ctx context.Context, message *mq.Message) error {
		ctx = context.WithValue(ctx, contextkey.JobType, "dispatch")
		job, err := DecodeDispatchJob(message)
		if err != nil {
			logger.Error(ctx, "drop malformed dispatch job", zap.String("message_id", message.ID), zap.Error(err))
			return nil
		}
		return s.HandleDispatch(context.WithValue(ctx, contextkey.SubmissionID, job.SubmissionID), job)
	}
}

// PollHandler adapts HandlePoll to the queue. Undecodable messages are dropped.
func (s *GradingService) PollHandler() mq.HandlerFunc {
	return func(ctx context.Context, message *mq.Message) error {
		ctx = context.WithValue(ctx, contextkey.JobType, "poll")
		job, err := DecodePollJob(message)
		if err != nil {
			logger.Error(ctx, "drop malformed poll job", zap.String("message_id", message.ID), zap.Error(err))
			return nil
		}
		return s.HandlePoll(context.WithValue(ctx, contextkey.SubmissionID, job.SubmissionID), job)
	}
}
