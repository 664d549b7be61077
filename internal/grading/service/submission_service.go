package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"classjudge/internal/common/cache"
	"classjudge/internal/grading/model"
	"classjudge/internal/grading/repository"
	appErr "classjudge/pkg/errors"
	"classjudge/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/mr"
	"go.uber.org/zap"
)

const (
	// DefaultMaxCodeLength is the longest accepted source, in characters.
	DefaultMaxCodeLength = 10000
	// DefaultPageSize is the page size of per-activity listings.
	DefaultPageSize   = 10
	rateUserKeyPrefix = "grading:rate:user:"
)

// RateLimitConfig holds per-user submit throttling. Zero values disable it.
type RateLimitConfig struct {
	UserMax int           `yaml:"userMax"`
	Window  time.Duration `yaml:"window"`
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB    time.Duration `yaml:"db"`
	Judge time.Duration `yaml:"judge"`
	Cache time.Duration `yaml:"cache"`
}

// SubmissionConfig holds submission service dependencies and settings.
type SubmissionConfig struct {
	SubmissionRepo repository.SubmissionRepository
	CorrectionRepo repository.CorrectionRepository
	CatalogRepo    repository.CatalogRepository
	Judge          Judge
	Scheduler      Scheduler
	// Cache backs the rate limiter. Optional.
	Cache cache.Cache
	// Archiver stores a copy of every accepted source. Optional.
	Archiver *SourceArchiver

	MaxCodeLength int
	PageSize      int
	RateLimit     RateLimitConfig
	Timeouts      TimeoutConfig
	Now           func() time.Time
}

// SubmissionService handles submission intake and status queries.
type SubmissionService struct {
	submissionRepo repository.SubmissionRepository
	correctionRepo repository.CorrectionRepository
	catalogRepo    repository.CatalogRepository
	judge          Judge
	scheduler      Scheduler
	cache          cache.Cache
	archiver       *SourceArchiver

	maxCodeLength int
	pageSize      int
	rateLimit     RateLimitConfig
	timeouts      TimeoutConfig
	now           func() time.Time
}

// CreateInput describes a submission request.
type CreateInput struct {
	UserID     int64
	ActivityID int64
	SourceCode string
}

// LiveStatus is a status computed from the judge's current view of the runs.
type LiveStatus struct {
	Status model.Status
	// ErroneousTestCaseID is set for wrong answers.
	ErroneousTestCaseID int64
	// CompileError is set for compilation errors.
	CompileError string
}

// StatusView is the caller-facing status of one submission.
type StatusView struct {
	SubmissionID        int64  `json:"submission_id"`
	StatusID            int    `json:"status_id"`
	Status              string `json:"status"`
	Description         string `json:"description"`
	ErroneousTestCaseID *int64 `json:"erroneous_test_case_id,omitempty"`
	CompileError        string `json:"compile_error,omitempty"`
	// Stale marks a persisted status served because the judge was unreachable.
	Stale bool `json:"stale"`
}

// SubmissionView is one row of the caller's submission history.
type SubmissionView struct {
	ID           int64      `json:"id"`
	ActivityID   int64      `json:"activity_id"`
	ProblemTitle string     `json:"problem_title"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	Status       StatusView `json:"status"`
}

// SubmissionPage is one page of an activity listing.
type SubmissionPage struct {
	Items    []SubmissionView
	Total    int64
	Page     int
	PageSize int
}

// CorrectionView is the per-test-case detail of a submission. Tokens are never exposed.
type CorrectionView struct {
	ID           int64  `json:"id"`
	TestCaseID   int64  `json:"test_case_id"`
	StatusID     int    `json:"status_id"`
	Status       string `json:"status"`
	Description  string `json:"description"`
	Stdout       string `json:"stdout,omitempty"`
	Stderr       string `json:"stderr,omitempty"`
	CompileError string `json:"compile_output,omitempty"`
	Message      string `json:"message,omitempty"`
	Stale        bool   `json:"stale"`
}

// NewSubmissionService creates a submission service.
func NewSubmissionService(cfg SubmissionConfig) (*SubmissionService, error) {
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
	if cfg.MaxCodeLength <= 0 {
		cfg.MaxCodeLength = DefaultMaxCodeLength
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SubmissionService{
		submissionRepo: cfg.SubmissionRepo,
		correctionRepo: cfg.CorrectionRepo,
		catalogRepo:    cfg.CatalogRepo,
		judge:          cfg.Judge,
		scheduler:      cfg.Scheduler,
		cache:          cfg.Cache,
		archiver:       cfg.Archiver,
		maxCodeLength:  cfg.MaxCodeLength,
		pageSize:       cfg.PageSize,
		rateLimit:      cfg.RateLimit,
		timeouts:       cfg.Timeouts,
		now:            cfg.Now,
	}, nil
}

// CreateSubmission validates and stores a submission, then schedules its
// dispatch. It returns without waiting for the judge.
func (s *SubmissionService) CreateSubmission(ctx context.Context, input CreateInput) (*model.Submission, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	now := s.now()

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	activity, err := s.catalogRepo.GetActivity(ctxDB.ctx, input.ActivityID)
	ctxDB.cancel()
	if err != nil {
		if errors.Is(err, repository.ErrActivityNotFound) {
			return nil, appErr.New(appErr.ActivityNotFound).WithDetail("activity_id", input.ActivityID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get activity failed")
	}
	if !activity.AcceptsAt(now) {
		return nil, appErr.New(appErr.DeadlinePassed).
			WithDetail("activity_id", activity.ID).
			WithDetail("due_at", activity.DueAt)
	}
	if err := s.checkRateLimit(ctx, input.UserID); err != nil {
		return nil, err
	}

	submission := &model.Submission{
		UserID:      input.UserID,
		ActivityID:  input.ActivityID,
		SourceCode:  input.SourceCode,
		SubmittedAt: now,
		Status:      model.StatusQueued,
	}
	ctxDB = withTimeout(ctx, s.timeouts.DB)
	err = s.submissionRepo.Create(ctxDB.ctx, nil, submission)
	ctxDB.cancel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}

	if err := s.scheduler.ScheduleDispatch(ctx, model.DispatchJob{SubmissionID: submission.ID}); err != nil {
		return nil, err
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, submission); err != nil {
			logger.Warn(ctx, "archive source failed", zap.Int64("submission_id", submission.ID), zap.Error(err))
		}
	}
	logger.Info(ctx, "submission created",
		zap.Int64("submission_id", submission.ID),
		zap.Int64("activity_id", submission.ActivityID),
	)
	return submission, nil
}

// ComputeStatus asks the judge for the current state of every run of the
// submission. Without corrections the persisted status is returned.
// Judge failures are returned as JudgeUnavailable.
func (s *SubmissionService) ComputeStatus(ctx context.Context, submission *model.Submission) (*LiveStatus, error) {
	corrections, err := s.correctionRepo.ListBySubmission(ctx, nil, submission.ID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list corrections failed")
	}
	return s.computeStatus(ctx, submission, corrections)
}

func (s *SubmissionService) computeStatus(ctx context.Context, submission *model.Submission, corrections []model.Correction) (*LiveStatus, error) {
	if len(corrections) == 0 {
		return &LiveStatus{Status: submission.Status}, nil
	}
	ctxJudge := withTimeout(ctx, s.timeouts.Judge)
	results, err := s.judge.FetchBatchResults(ctxJudge.ctx, tokensOf(corrections))
	ctxJudge.cancel()
	if err != nil {
		return nil, err
	}
	byToken := make(map[string]int, len(results))
	for i, r := range results {
		byToken[r.Token] = i
	}

	ordered := append([]model.Correction(nil), corrections...)
	model.SortCorrections(ordered)

	for _, c := range ordered {
		status := c.Status
		compileOutput := ""
		if i, ok := byToken[c.Token]; ok {
			status = results[i].Status
			compileOutput = results[i].CompileOutput
		}
		if status.IsAccepted() {
			continue
		}
		// first non-accepted run decides, pending or not
		if !status.IsFailure() {
			if !status.IsPending() {
				status = model.StatusProcessing
			}
			return &LiveStatus{Status: status}, nil
		}
		live := &LiveStatus{Status: status}
		switch status {
		case model.StatusWrongAnswer:
			live.ErroneousTestCaseID = c.TestCaseID
		case model.StatusCompileError:
			live.CompileError = compileOutput
		}
		return live, nil
	}
	return &LiveStatus{Status: model.StatusAccepted}, nil
}

// StatusOf returns the live status of a submission, or its persisted status
// marked stale when the judge is unavailable.
func (s *SubmissionService) StatusOf(ctx context.Context, submission *model.Submission) StatusView {
	live, err := s.ComputeStatus(ctx, submission)
	if err != nil {
		logger.Warn(ctx, "live status unavailable, serving persisted status",
			zap.Int64("submission_id", submission.ID),
			zap.Error(err),
		)
		view := newStatusView(submission.ID, submission.Status)
		view.Stale = true
		return view
	}
	view := newStatusView(submission.ID, live.Status)
	if live.ErroneousTestCaseID > 0 {
		id := live.ErroneousTestCaseID
		view.ErroneousTestCaseID = &id
	}
	view.CompileError = live.CompileError
	return view
}

// GetStatus returns the status of one submission owned by userID.
func (s *SubmissionService) GetStatus(ctx context.Context, userID, submissionID int64) (StatusView, error) {
	submission, err := s.getOwned(ctx, userID, submissionID)
	if err != nil {
		return StatusView{}, err
	}
	return s.StatusOf(ctx, submission), nil
}

// ListForUser returns the user's submissions, newest first.
func (s *SubmissionService) ListForUser(ctx context.Context, userID int64) ([]SubmissionView, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	items, err := s.submissionRepo.ListByUser(ctxDB.ctx, userID)
	ctxDB.cancel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	views := make([]SubmissionView, 0, len(items))
	for i := range items {
		item := &items[i]
		views = append(views, SubmissionView{
			ID:           item.ID,
			ActivityID:   item.ActivityID,
			ProblemTitle: item.ProblemTitle,
			SubmittedAt:  item.SubmittedAt,
			Status:       s.StatusOf(ctx, &item.Submission),
		})
	}
	return views, nil
}

// ListForActivity returns one page of the user's submissions for an activity.
func (s *SubmissionService) ListForActivity(ctx context.Context, userID, activityID int64, page int) (*SubmissionPage, error) {
	if activityID <= 0 {
		return nil, appErr.ValidationError("activity_id", "required")
	}
	if page < 1 {
		page = 1
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	submissions, total, err := s.submissionRepo.ListByUserActivity(ctxDB.ctx, userID, activityID, page, s.pageSize)
	ctxDB.cancel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list activity submissions failed")
	}
	out := &SubmissionPage{
		Items:    make([]SubmissionView, 0, len(submissions)),
		Total:    total,
		Page:     page,
		PageSize: s.pageSize,
	}
	for i := range submissions {
		sub := &submissions[i]
		out.Items = append(out.Items, SubmissionView{
			ID:          sub.ID,
			ActivityID:  sub.ActivityID,
			SubmittedAt: sub.SubmittedAt,
			Status:      s.StatusOf(ctx, sub),
		})
	}
	return out, nil
}

// ListCorrections returns per-test-case detail refreshed from the judge.
// Refreshed statuses are written back so persisted state converges.
func (s *SubmissionService) ListCorrections(ctx context.Context, userID, submissionID int64) ([]CorrectionView, error) {
	submission, err := s.getOwned(ctx, userID, submissionID)
	if err != nil {
		return nil, err
	}
	corrections, err := s.correctionRepo.ListBySubmission(ctx, nil, submission.ID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list corrections failed")
	}
	model.SortCorrections(corrections)

	views := make([]CorrectionView, len(corrections))
	fns := make([]func() error, 0, len(corrections))
	for i := range corrections {
		fns = append(fns, func() error {
			views[i] = s.refreshCorrection(ctx, &corrections[i])
			return nil
		})
	}
	if len(fns) > 0 {
		if err := mr.Finish(fns...); err != nil {
			return nil, err
		}
	}
	return views, nil
}

func (s *SubmissionService) refreshCorrection(ctx context.Context, c *model.Correction) CorrectionView {
	ctxJudge := withTimeout(ctx, s.timeouts.Judge)
	detail, err := s.judge.FetchSingle(ctxJudge.ctx, c.Token)
	ctxJudge.cancel()
	if err != nil {
		logger.Warn(ctx, "correction detail unavailable", zap.Int64("correction_id", c.ID), zap.Error(err))
		view := newCorrectionView(c, c.Status)
		view.Stale = true
		return view
	}
	if detail.Status != model.StatusUnknown && detail.Status != c.Status {
		if err := s.correctionRepo.UpdateStatus(ctx, nil, c.ID, detail.Status); err != nil {
			logger.Warn(ctx, "write back correction status failed", zap.Int64("correction_id", c.ID), zap.Error(err))
		}
	}
	view := newCorrectionView(c, detail.Status)
	view.Stdout = detail.Stdout
	view.Stderr = detail.Stderr
	view.CompileError = detail.CompileOutput
	view.Message = detail.Message
	return view
}

func (s *SubmissionService) getOwned(ctx context.Context, userID, submissionID int64) (*model.Submission, error) {
	if submissionID <= 0 {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	submission, err := s.submissionRepo.GetByID(ctxDB.ctx, nil, submissionID)
	ctxDB.cancel()
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", submissionID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	if submission.UserID != userID {
		return nil, appErr.New(appErr.SubmissionAccessDenied)
	}
	return submission, nil
}

func (s *SubmissionService) validateInput(input CreateInput) error {
	if input.UserID <= 0 {
		return appErr.ValidationError("user_id", "required")
	}
	if input.ActivityID <= 0 {
		return appErr.ValidationError("activity_id", "required")
	}
	if strings.TrimSpace(input.SourceCode) == "" {
		return appErr.ValidationError("code", "required")
	}
	if utf8.RuneCountInString(input.SourceCode) > s.maxCodeLength {
		return appErr.ValidationError("code", fmt.Sprintf("at most %d characters", s.maxCodeLength))
	}
	return nil
}

func (s *SubmissionService) checkRateLimit(ctx context.Context, userID int64) error {
	if s.cache == nil || s.rateLimit.Window <= 0 || s.rateLimit.UserMax <= 0 {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	count, err := s.cache.IncrWithExpire(ctxCache.ctx, fmt.Sprintf("%s%d", rateUserKeyPrefix, userID), s.rateLimit.Window)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if int(count) > s.rateLimit.UserMax {
		return appErr.New(appErr.SubmitTooFrequently)
	}
	return nil
}

func newStatusView(submissionID int64, status model.Status) StatusView {
	d := status.Descriptor()
	return StatusView{
		SubmissionID: submissionID,
		StatusID:     status.Code(),
		Status:       d.Name,
		Description:  d.Description,
	}
}

func newCorrectionView(c *model.Correction, status model.Status) CorrectionView {
	d := status.Descriptor()
	return CorrectionView{
		ID:          c.ID,
		TestCaseID:  c.TestCaseID,
		StatusID:    status.Code(),
		Status:      d.Name,
		Description: d.Description,
	}
}
