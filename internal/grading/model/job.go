package model

// DispatchJob asks a worker to send a submission to the judge.
type DispatchJob struct {
	SubmissionID int64 `json:"submission_id"`
}

// PollJob asks a worker to run one polling round. RemainingAttempts counts
// this round, so a job carrying 1 is the last chance before the submission
// is settled as time-limit-exceeded.
type PollJob struct {
	SubmissionID      int64 `json:"submission_id"`
	RemainingAttempts int   `json:"remaining_attempts"`
}
