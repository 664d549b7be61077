package model

import (
	"sort"
	"time"
)

// LanguageC is the judge language id used for every submission.
const LanguageC = 50

// Submission is one student upload for one activity.
type Submission struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	ActivityID  int64     `json:"activity_id"`
	SourceCode  string    `json:"source_code"`
	SubmittedAt time.Time `json:"submitted_at"`
	Status      Status    `json:"status_id"`
}

// Correction is the judged outcome of one test case for one submission.
type Correction struct {
	ID           int64  `json:"id"`
	SubmissionID int64  `json:"submission_id"`
	TestCaseID   int64  `json:"test_case_id"`
	Token        string `json:"token"`
	Status       Status `json:"status_id"`
}

// Activity is a graded assignment with a due date.
type Activity struct {
	ID        int64     `json:"id"`
	ProblemID int64     `json:"problem_id"`
	DueAt     time.Time `json:"due_at"`
}

// AcceptsAt reports whether a submission made at t is on time.
// The due instant itself is already too late.
func (a *Activity) AcceptsAt(t time.Time) bool {
	return t.Before(a.DueAt)
}

// Problem carries the judge limits and test cases of an exercise.
type Problem struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	TimeLimitMS   int64      `json:"time_limit_ms"`
	MemoryLimitKB int64      `json:"memory_limit_kb"`
	TestCases     []TestCase `json:"test_cases"`
}

// TestCase is an input and expected output pair.
type TestCase struct {
	ID             int64  `json:"id"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Private        bool   `json:"private"`
}

// SortCorrections orders corrections by test case id, then by correction id.
// Every place that looks for "the first failure" walks this order.
func SortCorrections(corrections []Correction) {
	sort.SliceStable(corrections, func(i, j int) bool {
		if corrections[i].TestCaseID != corrections[j].TestCaseID {
			return corrections[i].TestCaseID < corrections[j].TestCaseID
		}
		return corrections[i].ID < corrections[j].ID
	})
}
