package service

import "classjudge/internal/grading/model"

// Aggregate derives a submission status from its persisted corrections.
// With no corrections the persisted submission status stands. Otherwise the
// first failure in test case order wins, any pending correction keeps the
// submission processing, and all accepted means accepted.
func Aggregate(submission *model.Submission, corrections []model.Correction) model.Status {
	if len(corrections) == 0 {
		if submission == nil {
			return model.StatusUnknown
		}
		return submission.Status
	}
	ordered := append([]model.Correction(nil), corrections...)
	model.SortCorrections(ordered)

	pending := false
	for _, c := range ordered {
		switch {
		case c.Status.IsFailure():
			return c.Status
		case !c.Status.IsAccepted():
			pending = true
		}
	}
	if pending {
		return model.StatusProcessing
	}
	return model.StatusAccepted
}
