package run

import "time"

// Summary aggregates finalized attempts of a job.
type Summary struct {
	Total        int           `json:"total"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	TimedOut     int           `json:"timed_out"`
	Cancelled    int           `json:"cancelled"`
	Skipped      int           `json:"skipped"`
	SuccessRate  float64       `json:"success_rate"`
	MeanDuration time.Duration `json:"mean_duration"`
	LastOutcome  Outcome       `json:"last_outcome,omitempty"`
	LastRunAt    *time.Time    `json:"last_run_at,omitempty"`
}

// Summarize computes a Summary over attempts ordered newest first.
// Non-terminal attempts are ignored. Skipped attempts count toward Total
// but not toward the success rate.
func Summarize(attempts []*Attempt) Summary {
	var (
		s       Summary
		ran     int
		elapsed time.Duration
		timed   int
	)
	for _, a := range attempts {
		if !a.Outcome.Terminal() {
			continue
		}
		if s.LastOutcome == "" {
			s.LastOutcome = a.Outcome
			if a.FinishedAt != nil {
				t := *a.FinishedAt
				s.LastRunAt = &t
			}
		}
		s.Total++
		switch a.Outcome {
		case OutcomeSucceeded:
			s.Succeeded++
		case OutcomeFailed:
			s.Failed++
		case OutcomeTimedOut:
			s.TimedOut++
		case OutcomeCancelled:
			s.Cancelled++
		case OutcomeSkipped:
			s.Skipped++
			continue
		}
		ran++
		if d := a.Duration(); d > 0 {
			elapsed += d
			timed++
		}
	}
	if ran > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(ran)
	}
	if timed > 0 {
		s.MeanDuration = elapsed / time.Duration(timed)
	}
	return s
}
