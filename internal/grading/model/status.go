package model

import "strconv"

// Status is a judge outcome. The numeric values match the judge's status ids
// and the rows of the status table, but callers compare against the named
// constants only.
type Status uint8

const (
	StatusUnknown           Status = 0
	StatusQueued            Status = 1
	StatusProcessing        Status = 2
	StatusAccepted          Status = 3
	StatusWrongAnswer       Status = 4
	StatusTimeLimitExceeded Status = 5
	StatusCompileError      Status = 6
	StatusRuntimeSIGSEGV    Status = 7
	StatusRuntimeSIGXFSZ    Status = 8
	StatusRuntimeSIGFPE     Status = 9
	StatusRuntimeSIGABRT    Status = 10
	StatusRuntimeNZEC       Status = 11
	StatusRuntimeOther      Status = 12
	StatusInternalError     Status = 13
	StatusExecFormatError   Status = 14
)

// Kind groups statuses by what they mean for grading.
type Kind string

const (
	KindUnknown  Kind = "unknown"
	KindPending  Kind = "pending"
	KindAccepted Kind = "accepted"
	KindRejected Kind = "rejected"
	KindError    Kind = "error"
)

// Descriptor is the dictionary entry for a status.
type Descriptor struct {
	Status      Status `json:"status_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        Kind   `json:"kind"`
}

var unknownDescriptor = Descriptor{
	Status:      StatusUnknown,
	Name:        "unknown",
	Description: "Unknown status",
	Kind:        KindUnknown,
}

var descriptors = [...]Descriptor{
	StatusQueued:            {StatusQueued, "queued", "In Queue", KindPending},
	StatusProcessing:        {StatusProcessing, "processing", "Processing", KindPending},
	StatusAccepted:          {StatusAccepted, "accepted", "Accepted", KindAccepted},
	StatusWrongAnswer:       {StatusWrongAnswer, "wrong_answer", "Wrong Answer", KindRejected},
	StatusTimeLimitExceeded: {StatusTimeLimitExceeded, "time_limit_exceeded", "Time Limit Exceeded", KindRejected},
	StatusCompileError:      {StatusCompileError, "compile_error", "Compilation Error", KindRejected},
	StatusRuntimeSIGSEGV:    {StatusRuntimeSIGSEGV, "runtime_error_sigsegv", "Runtime Error (SIGSEGV)", KindRejected},
	StatusRuntimeSIGXFSZ:    {StatusRuntimeSIGXFSZ, "runtime_error_sigxfsz", "Runtime Error (SIGXFSZ)", KindRejected},
	StatusRuntimeSIGFPE:     {StatusRuntimeSIGFPE, "runtime_error_sigfpe", "Runtime Error (SIGFPE)", KindRejected},
	StatusRuntimeSIGABRT:    {StatusRuntimeSIGABRT, "runtime_error_sigabrt", "Runtime Error (SIGABRT)", KindRejected},
	StatusRuntimeNZEC:       {StatusRuntimeNZEC, "runtime_error_nzec", "Runtime Error (NZEC)", KindRejected},
	StatusRuntimeOther:      {StatusRuntimeOther, "runtime_error_other", "Runtime Error (Other)", KindRejected},
	StatusInternalError:     {StatusInternalError, "internal_error", "Internal Error", KindError},
	StatusExecFormatError:   {StatusExecFormatError, "exec_format_error", "Exec Format Error", KindError},
}

// Lookup returns the dictionary entry for a raw status id. Ids outside the
// enumeration yield the "unknown" descriptor; Lookup never fails.
func Lookup(code int) Descriptor {
	if code <= 0 || code >= len(descriptors) {
		return unknownDescriptor
	}
	return descriptors[code]
}

// ParseStatus converts a raw status id into a Status. The boolean is false for
// ids outside the enumeration.
func ParseStatus(code int) (Status, bool) {
	d := Lookup(code)
	return d.Status, d.Status != StatusUnknown
}

// Statuses returns every defined status in id order.
func Statuses() []Descriptor {
	out := make([]Descriptor, 0, len(descriptors)-1)
	for _, d := range descriptors[1:] {
		out = append(out, d)
	}
	return out
}

// Descriptor returns the dictionary entry for s.
func (s Status) Descriptor() Descriptor {
	return Lookup(int(s))
}

// Code returns the numeric id stored in the database and used by the judge.
func (s Status) Code() int {
	return int(s)
}

func (s Status) Name() string {
	return s.Descriptor().Name
}

func (s Status) Description() string {
	return s.Descriptor().Description
}

func (s Status) String() string {
	if d := s.Descriptor(); d.Status != StatusUnknown {
		return d.Name
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// IsPending reports whether the judge is still working on the run.
func (s Status) IsPending() bool {
	return s == StatusQueued || s == StatusProcessing
}

// IsTerminal reports whether the status is a final verdict.
// Unknown statuses are not terminal.
func (s Status) IsTerminal() bool {
	k := s.Descriptor().Kind
	return k == KindAccepted || k == KindRejected || k == KindError
}

func (s Status) IsAccepted() bool {
	return s == StatusAccepted
}

// IsFailure reports a terminal verdict other than accepted.
func (s Status) IsFailure() bool {
	return s.IsTerminal() && !s.IsAccepted()
}
