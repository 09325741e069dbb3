package supervisor

import (
	"github.com/droverhq/drover/internal/task"
)

// Report summarizes a finished run against the persisted queue state. Every
// failed task is listed with its recorded error so the operator never has
// to dig through the state file by hand.
type Report struct {
	Total        int               `json:"total"`
	Completed    int               `json:"completed"`
	Failed       int               `json:"failed"`
	Remaining    int               `json:"remaining"`
	SuccessRate  float64           `json:"success_rate"`
	ThresholdMet bool              `json:"threshold_met"`
	Failures     []task.FailedTask `json:"failures,omitempty"`
}

// BuildReport computes the success rate over everything that was loaded.
// Tasks lost in flight count against the rate: they are neither completed
// nor failed, but they are still part of the total.
func BuildReport(state task.QueueState, threshold float64) Report {
	r := Report{
		Total:     state.Total,
		Completed: len(state.Completed),
		Failed:    len(state.Failed),
		Remaining: len(state.Pending),
		Failures:  state.Failed,
	}
	if r.Total == 0 {
		r.SuccessRate = 1.0
	} else {
		r.SuccessRate = float64(r.Completed) / float64(r.Total)
	}
	r.ThresholdMet = r.SuccessRate >= threshold
	return r
}

// FewerThan returns the usual end-of-data predicate for paginated sites: a
// page carrying fewer records than a full page means the data ran out.
func FewerThan(pageSize int) task.EndPredicate {
	return func(recordCount int) bool {
		return recordCount < pageSize
	}
}
