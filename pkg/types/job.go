package types

import "time"

// JobInfo describes the current state of a recurring background job
type JobInfo struct {
	ID              string        `json:"id"`
	Interval        time.Duration `json:"interval"`
	RequiresNetwork bool          `json:"requires_network"`
	Registered      bool          `json:"registered"`
	NextRunAfter    time.Time     `json:"next_run_after,omitempty"`
	LastRunAt       time.Time     `json:"last_run_at,omitempty"`
	LastOutcome     string        `json:"last_outcome,omitempty"`
	Runs            int           `json:"runs"`
}

// RunOutcome is the result of one job execution as reported to the host.
type RunOutcome struct {
	JobID     string        `json:"job_id"`
	RunID     string        `json:"run_id"`
	Outcome   string        `json:"outcome"`
	Success   bool          `json:"success"`
	Cancelled bool          `json:"cancelled"`
	Err       string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
}
