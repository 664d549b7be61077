package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"classjudge/internal/common/db"
	"classjudge/internal/grading/judge0"
	"classjudge/internal/grading/model"
	"classjudge/internal/grading/repository"
	appErr "classjudge/pkg/errors"
)

// store is an in-memory database shared by the fake repositories.
// Transactions snapshot it and restore the snapshot on failure.
type store struct {
	mu           sync.Mutex
	nextSubID    int64
	nextCorrID   int64
	submissions  map[int64]model.Submission
	corrections  map[int64]model.Correction
	activities   map[int64]model.Activity
	problems     map[int64]model.Problem
	failCreate   bool
	statusWrites int
	inTx         bool
	// invalidated records, per cache invalidation, whether a transaction was open.
	invalidated []bool
}

func newStore() *store {
	return &store{
		submissions: make(map[int64]model.Submission),
		corrections: make(map[int64]model.Correction),
		activities:  make(map[int64]model.Activity),
		problems:    make(map[int64]model.Problem),
	}
}

func (s *store) submission(id int64) model.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submissions[id]
}

func (s *store) correctionsOf(submissionID int64) []model.Correction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Correction
	for _, c := range s.corrections {
		if c.SubmissionID == submissionID {
			out = append(out, c)
		}
	}
	model.SortCorrections(out)
	return out
}

func (s *store) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return nil, errors.New("not supported")
}

func (s *store) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return nil
}

func (s *store) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return nil, errors.New("not supported")
}

func (s *store) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	s.mu.Lock()
	subs := make(map[int64]model.Submission, len(s.submissions))
	for k, v := range s.submissions {
		subs[k] = v
	}
	corrs := make(map[int64]model.Correction, len(s.corrections))
	for k, v := range s.corrections {
		corrs[k] = v
	}
	s.inTx = true
	s.mu.Unlock()

	err := fn(&fakeTx{})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = false
	if err != nil {
		s.submissions = subs
		s.corrections = corrs
		return err
	}
	return nil
}

func (s *store) Ping(ctx context.Context) error { return nil }
func (s *store) Close() error                   { return nil }

type fakeTx struct{ db.Querier }

func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

type fakeSubmissionRepo struct{ s *store }

func (r fakeSubmissionRepo) Create(ctx context.Context, tx db.Transaction, sub *model.Submission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextSubID++
	sub.ID = r.s.nextSubID
	r.s.submissions[sub.ID] = *sub
	return nil
}

func (r fakeSubmissionRepo) GetByID(ctx context.Context, tx db.Transaction, id int64) (*model.Submission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.submissions[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	return &sub, nil
}

func (r fakeSubmissionRepo) UpdateStatus(ctx context.Context, tx db.Transaction, id int64, status model.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.submissions[id]
	if !ok {
		return repository.ErrSubmissionNotFound
	}
	sub.Status = status
	r.s.submissions[id] = sub
	r.s.statusWrites++
	return nil
}

func (r fakeSubmissionRepo) Invalidate(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.invalidated = append(r.s.invalidated, r.s.inTx)
	return nil
}

func (r fakeSubmissionRepo) ListByUser(ctx context.Context, userID int64) ([]repository.SubmissionListItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []repository.SubmissionListItem
	for _, sub := range r.s.submissions {
		if sub.UserID != userID {
			continue
		}
		title := ""
		if a, ok := r.s.activities[sub.ActivityID]; ok {
			title = r.s.problems[a.ProblemID].Title
		}
		out = append(out, repository.SubmissionListItem{Submission: sub, ProblemTitle: title})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r fakeSubmissionRepo) ListByUserActivity(ctx context.Context, userID, activityID int64, page, pageSize int) ([]model.Submission, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []model.Submission
	for _, sub := range r.s.submissions {
		if sub.UserID == userID && sub.ActivityID == activityID {
			all = append(all, sub)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, int64(len(all)), nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

type fakeCorrectionRepo struct{ s *store }

func (r fakeCorrectionRepo) CreateBatch(ctx context.Context, tx db.Transaction, corrections []model.Correction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failCreate {
		return errors.New("insert failed")
	}
	for _, c := range corrections {
		r.s.nextCorrID++
		c.ID = r.s.nextCorrID
		r.s.corrections[c.ID] = c
	}
	return nil
}

func (r fakeCorrectionRepo) ListBySubmission(ctx context.Context, tx db.Transaction, submissionID int64) ([]model.Correction, error) {
	return r.s.correctionsOf(submissionID), nil
}

func (r fakeCorrectionRepo) UpdateStatus(ctx context.Context, tx db.Transaction, id int64, status model.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.corrections[id]
	if !ok {
		return repository.ErrCorrectionNotFound
	}
	c.Status = status
	r.s.corrections[id] = c
	return nil
}

func (r fakeCorrectionRepo) CountBySubmission(ctx context.Context, tx db.Transaction, submissionID int64) (int, error) {
	return len(r.s.correctionsOf(submissionID)), nil
}

type fakeCatalogRepo struct{ s *store }

func (r fakeCatalogRepo) GetActivity(ctx context.Context, id int64) (*model.Activity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.activities[id]
	if !ok {
		return nil, repository.ErrActivityNotFound
	}
	return &a, nil
}

func (r fakeCatalogRepo) GetProblem(ctx context.Context, id int64) (*model.Problem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.problems[id]
	if !ok {
		return nil, repository.ErrProblemNotFound
	}
	return &p, nil
}

// fakeJudge serves canned tokens and statuses.
type fakeJudge struct {
	mu          sync.Mutex
	tokens      []string
	statuses    map[string]model.Status
	compileOut  map[string]string
	details     map[string]*judge0.RunDetail
	extra       []judge0.BatchResult
	err         error
	submitCalls int
	fetchCalls  int
}

func (j *fakeJudge) SubmitBatch(ctx context.Context, submission *model.Submission, problem *model.Problem) ([]judge0.Assignment, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.submitCalls++
	if j.err != nil {
		return nil, j.err
	}
	if len(problem.TestCases) == 0 {
		return nil, appErr.New(appErr.TestCaseNotFound)
	}
	if len(j.tokens) != len(problem.TestCases) {
		return nil, appErr.New(appErr.JudgeUnavailable)
	}
	out := make([]judge0.Assignment, len(j.tokens))
	for i, tok := range j.tokens {
		out[i] = judge0.Assignment{Token: tok, TestCaseID: problem.TestCases[i].ID}
	}
	return out, nil
}

func (j *fakeJudge) FetchBatchResults(ctx context.Context, tokens []string) ([]judge0.BatchResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fetchCalls++
	if j.err != nil {
		return nil, j.err
	}
	out := make([]judge0.BatchResult, 0, len(tokens)+len(j.extra))
	// Reverse order so callers cannot rely on response order.
	for i := len(tokens) - 1; i >= 0; i-- {
		tok := tokens[i]
		status, ok := j.statuses[tok]
		if !ok {
			status = model.StatusQueued
		}
		out = append(out, judge0.BatchResult{Token: tok, Status: status, RawStatusID: status.Code(), CompileOutput: j.compileOut[tok]})
	}
	return append(out, j.extra...), nil
}

func (j *fakeJudge) FetchSingle(ctx context.Context, token string) (*judge0.RunDetail, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return nil, j.err
	}
	if d, ok := j.details[token]; ok {
		return d, nil
	}
	return nil, appErr.New(appErr.JudgeUnavailable)
}

func (j *fakeJudge) set(token string, status model.Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.statuses == nil {
		j.statuses = make(map[string]model.Status)
	}
	j.statuses[token] = status
}

type fakeScheduler struct {
	mu         sync.Mutex
	dispatches []model.DispatchJob
	polls      []model.PollJob
	err        error
}

func (f *fakeScheduler) ScheduleDispatch(ctx context.Context, job model.DispatchJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.dispatches = append(f.dispatches, job)
	return nil
}

func (f *fakeScheduler) SchedulePoll(ctx context.Context, job model.PollJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.polls = append(f.polls, job)
	return nil
}

// takePoll removes and returns the oldest scheduled poll.
func (f *fakeScheduler) takePoll() (model.PollJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.polls) == 0 {
		return model.PollJob{}, false
	}
	job := f.polls[0]
	f.polls = f.polls[1:]
	return job, true
}
