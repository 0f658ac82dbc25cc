package domain

import "time"

// RunStatus is the outcome of one sync run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusNoOp      RunStatus = "noop"
	RunStatusFailed    RunStatus = "failed"
)

// PublishState is a state of the publish protocol
type PublishState string

const (
	StatePreparing   PublishState = "preparing"
	StateReplicating PublishState = "replicating"
	StateIntegrating PublishState = "integrating"
	StatePublished   PublishState = "published"
	StateNoOp        PublishState = "noop"
	StateAborted     PublishState = "aborted"
	StateFailed      PublishState = "failed"
)

// RunRecord represents one sync run in the run ledger
type RunRecord struct {
	ID           string       `json:"id"`
	Branch       string       `json:"branch"`
	TargetBranch string       `json:"target_branch"`
	Since        Cursor       `json:"since"`
	Next         Cursor       `json:"next"`
	EventsSeen   int          `json:"events_seen"`
	CommitCount  int          `json:"commit_count"`
	State        PublishState `json:"state"`
	Status       RunStatus    `json:"status"`
	ErrorCode    string       `json:"error_code,omitempty"`
	Error        string       `json:"error,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// Duration returns how long the run took, zero while it is still running
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
