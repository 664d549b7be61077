package contextkey

// key is unexported so other packages cannot collide with these keys.
type key string

const (
	TraceID      key = "trace_id"
	RequestID    key = "request_id"
	UserID       key = "user_id"
	SubmissionID key = "submission_id"
	JobType      key = "job_type"
)
