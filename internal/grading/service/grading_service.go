package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"classjudge/internal/common/cache"
	"classjudge/internal/common/db"
	"classjudge/internal/grading/judge0"
	"classjudge/internal/grading/model"
	"classjudge/internal/grading/repository"
	appErr "classjudge/pkg/errors"
	"classjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	// DefaultMaxPollAttempts is the number of polling rounds before a
	// submission is settled as time-limit-exceeded.
	DefaultMaxPollAttempts = 15
	defaultLockTTL         = 30 * time.Second
	defaultPollChainTTL    = time.Hour
	gradingLockKeyPrefix   = "grading:lock:"
	pollChainKeyPrefix     = "grading:poll-chain:"
)

// GradingConfig holds grading worker dependencies and settings.
type GradingConfig struct {
	Database       db.Database
	SubmissionRepo repository.SubmissionRepository
	CorrectionRepo repository.CorrectionRepository
	CatalogRepo    repository.CatalogRepository
	Judge          Judge
	Scheduler      Scheduler
	// Locker serializes jobs of one submission across workers. Optional.
	Locker cache.LockOps
	// Markers records which submissions already have a poll chain, so a
	// replayed dispatch does not start a second one. Optional.
	Markers cache.BasicOps

	MaxPollAttempts int
	LockTTL         time.Duration
	// PollChainTTL bounds how long a poll chain marker is kept.
	// Default: 1h
	PollChainTTL time.Duration
	JudgeTimeout time.Duration
}

// GradingService runs dispatch and poll jobs.
type GradingService struct {
	db             db.Database
	submissionRepo repository.SubmissionRepository
	correctionRepo repository.CorrectionRepository
	catalogRepo    repository.CatalogRepository
	judge          Judge
	scheduler      Scheduler
	locker         cache.LockOps
	markers        cache.BasicOps

	maxPollAttempts int
	lockTTL         time.Duration
	pollChainTTL    time.Duration
	judgeTimeout    time.Duration
}

// NewGradingService creates a grading service.
func NewGradingService(cfg GradingConfig) (*GradingService, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.SubmissionRepo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.CorrectionRepo == nil {
		return nil, fmt.Errorf("correction repository is required")
	}
	if cfg.CatalogRepo == nil {
		return nil, fmt.Errorf("catalog repository is required")
	}
	if cfg.Judge == nil {
		return nil, fmt.Errorf("judge is required")
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = DefaultMaxPollAttempts
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.PollChainTTL <= 0 {
		cfg.PollChainTTL = defaultPollChainTTL
	}
	return &GradingService{
		db:              cfg.Database,
		submissionRepo:  cfg.SubmissionRepo,
		correctionRepo:  cfg.CorrectionRepo,
		catalogRepo:     cfg.CatalogRepo,
		judge:           cfg.Judge,
		scheduler:       cfg.Scheduler,
		locker:          cfg.Locker,
		markers:         cfg.Markers,
		maxPollAttempts: cfg.MaxPollAttempts,
		lockTTL:         cfg.LockTTL,
		pollChainTTL:    cfg.PollChainTTL,
		judgeTimeout:    cfg.JudgeTimeout,
	}, nil
}

// HandleDispatch sends a queued submission to the judge and records one
// correction per test case. A returned error makes the queue redeliver the job.
func (s *GradingService) HandleDispatch(ctx context.Context, job model.DispatchJob) error {
	unlock, err := s.lock(ctx, job.SubmissionID)
	if err != nil {
		return err
	}
	defer unlock()

	submission, err := s.submissionRepo.GetByID(ctx, nil, job.SubmissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			logger.Warn(ctx, "dispatch dropped, submission not found", zap.Int64("submission_id", job.SubmissionID))
			return nil
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}

	count, err := s.correctionRepo.CountBySubmission(ctx, nil, submission.ID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "count corrections failed")
	}
	if count > 0 {
		// Replayed after the corrections were committed. The first poll may not
		// have been scheduled, so schedule it unless a chain is already running.
		if submission.Status.IsTerminal() {
			return nil
		}
		started, err := s.markPollChain(ctx, submission.ID)
		if err != nil {
			return err
		}
		if !started {
			logger.Info(ctx, "dispatch replayed, poll chain already running", zap.Int64("submission_id", submission.ID))
			return nil
		}
		logger.Info(ctx, "dispatch replayed, rescheduling first poll", zap.Int64("submission_id", submission.ID))
		return s.startPollChain(ctx, submission.ID)
	}
	if submission.Status != model.StatusQueued {
		logger.Info(ctx, "dispatch dropped, submission already left the queue",
			zap.Int64("submission_id", submission.ID),
			zap.String("status", submission.Status.String()),
		)
		return nil
	}

	problem, err := s.loadProblem(ctx, submission)
	if err != nil {
		if appErr.Is(err, appErr.ActivityNotFound) || appErr.Is(err, appErr.ProblemNotFound) {
			logger.Error(ctx, "dispatch abandoned", zap.Int64("submission_id", submission.ID), zap.Error(err))
			return s.settle(ctx, submission.ID, model.StatusInternalError)
		}
		return err
	}

	ctxJudge := withTimeout(ctx, s.judgeTimeout)
	assignments, err := s.judge.SubmitBatch(ctxJudge.ctx, submission, problem)
	ctxJudge.cancel()
	if err != nil {
		if appErr.Is(err, appErr.TestCaseNotFound) {
			logger.Error(ctx, "dispatch abandoned", zap.Int64("submission_id", submission.ID), zap.Error(err))
			return s.settle(ctx, submission.ID, model.StatusInternalError)
		}
		logger.Warn(ctx, "judge batch submit failed", zap.Int64("submission_id", submission.ID), zap.Error(err))
		return err
	}

	corrections := make([]model.Correction, 0, len(assignments))
	for _, a := range assignments {
		corrections = append(corrections, model.Correction{
			SubmissionID: submission.ID,
			TestCaseID:   a.TestCaseID,
			Token:        a.Token,
			Status:       model.StatusQueued,
		})
	}
	err = s.db.Transaction(ctx, func(tx db.Transaction) error {
		if err := s.submissionRepo.UpdateStatus(ctx, tx, submission.ID, model.StatusProcessing); err != nil {
			return err
		}
		return s.correctionRepo.CreateBatch(ctx, tx, corrections)
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.CorrectionCreateFailed, "record corrections failed")
	}
	if err := s.submissionRepo.Invalidate(ctx, submission.ID); err != nil {
		logger.Warn(ctx, "invalidate submission cache failed", zap.Int64("submission_id", submission.ID), zap.Error(err))
	}

	logger.Info(ctx, "submission dispatched",
		zap.Int64("submission_id", submission.ID),
		zap.Int("test_cases", len(corrections)),
	)
	if _, err := s.markPollChain(ctx, submission.ID); err != nil {
		logger.Warn(ctx, "record poll chain failed", zap.Int64("submission_id", submission.ID), zap.Error(err))
	}
	return s.startPollChain(ctx, submission.ID)
}

// markPollChain claims the poll chain of a submission. Without a marker store
// every caller gets the claim.
func (s *GradingService) markPollChain(ctx context.Context, submissionID int64) (bool, error) {
	if s.markers == nil {
		return true, nil
	}
	ok, err := s.markers.SetNX(ctx, pollChainKey(submissionID), "1", s.pollChainTTL)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "mark poll chain failed")
	}
	return ok, nil
}

// startPollChain schedules the first poll. The marker is dropped when that
// fails so the redelivered dispatch can claim it again.
func (s *GradingService) startPollChain(ctx context.Context, submissionID int64) error {
	err := s.scheduler.SchedulePoll(ctx, model.PollJob{SubmissionID: submissionID, RemainingAttempts: s.maxPollAttempts})
	if err == nil || s.markers == nil {
		return err
	}
	if delErr := s.markers.Del(context.WithoutCancel(ctx), pollChainKey(submissionID)); delErr != nil {
		logger.Warn(ctx, "drop poll chain marker failed", zap.Int64("submission_id", submissionID), zap.Error(delErr))
	}
	return err
}

func pollChainKey(submissionID int64) string {
	return pollChainKeyPrefix + strconv.FormatInt(submissionID, 10)
}

// HandlePoll runs one polling round. Replaying a round is harmless: terminal
// submissions are skipped and accepted corrections are rewritten with the same value.
func (s *GradingService) HandlePoll(ctx context.Context, job model.PollJob) error {
	unlock, err := s.lock(ctx, job.SubmissionID)
	if err != nil {
		return err
	}
	defer unlock()

	submission, err := s.submissionRepo.GetByID(ctx, nil, job.SubmissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			logger.Warn(ctx, "poll dropped, submission not found", zap.Int64("submission_id", job.SubmissionID))
			return nil
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	if submission.Status.IsTerminal() {
		logger.Debug(ctx, "poll dropped, submission already settled", zap.Int64("submission_id", submission.ID))
		return nil
	}

	corrections, err := s.correctionRepo.ListBySubmission(ctx, nil, submission.ID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "list corrections failed")
	}
	if len(corrections) == 0 {
		logger.Warn(ctx, "poll dropped, submission has no corrections", zap.Int64("submission_id", submission.ID))
		return nil
	}

	ctxJudge := withTimeout(ctx, s.judgeTimeout)
	results, err := s.judge.FetchBatchResults(ctxJudge.ctx, tokensOf(corrections))
	ctxJudge.cancel()
	if err != nil {
		logger.Error(ctx, "judge batch query failed",
			zap.Int64("submission_id", submission.ID),
			zap.Int("remaining_attempts", job.RemainingAttempts),
			zap.Error(err),
		)
		return err
	}

	outcome, err := s.applyResults(ctx, corrections, results)
	if err != nil {
		return err
	}
	if outcome.failure != nil {
		logger.Info(ctx, "submission failed",
			zap.Int64("submission_id", submission.ID),
			zap.Int64("test_case_id", outcome.failure.TestCaseID),
			zap.String("status", outcome.failure.Status.String()),
		)
		return s.settle(ctx, submission.ID, outcome.failure.Status)
	}
	if !outcome.pending {
		logger.Info(ctx, "submission accepted", zap.Int64("submission_id", submission.ID))
		return s.settle(ctx, submission.ID, model.StatusAccepted)
	}

	next := job.RemainingAttempts - 1
	if next <= 0 {
		logger.Info(ctx, "polling budget exhausted", zap.Int64("submission_id", submission.ID))
		return s.settle(ctx, submission.ID, model.StatusTimeLimitExceeded)
	}
	return s.scheduler.SchedulePoll(ctx, model.PollJob{SubmissionID: submission.ID, RemainingAttempts: next})
}

type roundOutcome struct {
	pending bool
	failure *model.Correction
}

// applyResults walks the results in test case order. Accepted runs are
// persisted; the first failure is persisted and ends the walk.
func (s *GradingService) applyResults(ctx context.Context, corrections []model.Correction, results []judge0.BatchResult) (roundOutcome, error) {
	byToken := make(map[string]judge0.BatchResult, len(results))
	for _, r := range results {
		if !hasToken(corrections, r.Token) {
			logger.Warn(ctx, "judge returned an unknown token", zap.String("token", r.Token))
			continue
		}
		byToken[r.Token] = r
	}

	ordered := append([]model.Correction(nil), corrections...)
	model.SortCorrections(ordered)

	var outcome roundOutcome
	for i := range ordered {
		c := &ordered[i]
		r, ok := byToken[c.Token]
		if !ok {
			if !c.Status.IsTerminal() {
				outcome.pending = true
			}
			continue
		}
		switch {
		case r.Status.IsAccepted():
			if c.Status != r.Status {
				if err := s.correctionRepo.UpdateStatus(ctx, nil, c.ID, r.Status); err != nil {
					return outcome, appErr.Wrapf(err, appErr.CorrectionUpdateFailed, "update correction failed")
				}
				c.Status = r.Status
			}
		case r.Status.IsFailure():
			if c.Status != r.Status {
				if err := s.correctionRepo.UpdateStatus(ctx, nil, c.ID, r.Status); err != nil {
					return outcome, appErr.Wrapf(err, appErr.CorrectionUpdateFailed, "update correction failed")
				}
				c.Status = r.Status
			}
			outcome.failure = c
			return outcome, nil
		default:
			if r.Status == model.StatusUnknown {
				logger.Warn(ctx, "judge reported an unknown status",
					zap.String("token", c.Token),
					zap.Int("status_id", r.RawStatusID),
				)
			}
			outcome.pending = true
		}
	}
	return outcome, nil
}

func (s *GradingService) settle(ctx context.Context, submissionID int64, status model.Status) error {
	if err := s.submissionRepo.UpdateStatus(ctx, nil, submissionID, status); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update submission status failed")
	}
	return nil
}

func (s *GradingService) loadProblem(ctx context.Context, submission *model.Submission) (*model.Problem, error) {
	activity, err := s.catalogRepo.GetActivity(ctx, submission.ActivityID)
	if err != nil {
		if errors.Is(err, repository.ErrActivityNotFound) {
			return nil, appErr.New(appErr.ActivityNotFound).WithDetail("activity_id", submission.ActivityID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get activity failed")
	}
	problem, err := s.catalogRepo.GetProblem(ctx, activity.ProblemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return nil, appErr.New(appErr.ProblemNotFound).WithDetail("problem_id", activity.ProblemID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get problem failed")
	}
	return problem, nil
}

// lock takes the per-submission lock. Losing the race returns a retryable error.
func (s *GradingService) lock(ctx context.Context, submissionID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	key := gradingLockKeyPrefix + strconv.FormatInt(submissionID, 10)
	token, ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.LockFailed, "acquire grading lock failed")
	}
	if !ok {
		return nil, appErr.New(appErr.LockFailed).WithDetail("submission_id", submissionID)
	}
	return func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			logger.Warn(ctx, "release grading lock failed", zap.Int64("submission_id", submissionID), zap.Error(err))
		}
	}, nil
}

func hasToken(corrections []model.Correction, token string) bool {
	for _, c := range corrections {
		if c.Token == token {
			return true
		}
	}
	return false
}
