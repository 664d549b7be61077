package service

import (
	"context"
	"time"

	"classjudge/internal/grading/judge0"
	"classjudge/internal/grading/model"
)

// Judge is the subset of the judge client the services depend on.
type Judge interface {
	SubmitBatch(ctx context.Context, submission *model.Submission, problem *model.Problem) ([]judge0.Assignment, error)
	FetchBatchResults(ctx context.Context, tokens []string) ([]judge0.BatchResult, error)
	FetchSingle(ctx context.Context, token string) (*judge0.RunDetail, error)
}

var _ Judge = (*judge0.Client)(nil)

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}

func tokensOf(corrections []model.Correction) []string {
	tokens := make([]string, 0, len(corrections))
	for _, c := range corrections {
		tokens = append(tokens, c.Token)
	}
	return tokens
}
