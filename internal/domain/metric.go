package domain

import "time"

// RunSummary represents aggregated statistics over the run ledger
type RunSummary struct {
	TotalRuns       int        `json:"total_runs"`
	Succeeded       int        `json:"succeeded"`
	NoOp            int        `json:"noop"`
	Failed          int        `json:"failed"`
	TotalCommits    int64      `json:"total_commits"` // published commits only
	CurrentCursor   Cursor     `json:"current_cursor"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt   *time.Time `json:"last_failure_at,omitempty"`
	LastFailure     string     `json:"last_failure,omitempty"`
	ConsecutiveFail int        `json:"consecutive_failures"`
}
