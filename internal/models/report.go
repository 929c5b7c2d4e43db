package models

import "time"

// RunState is the lifecycle of one weekly run.
type RunState string

const (
	RunStateNotStarted RunState = "NOT_STARTED"
	RunStateRunning    RunState = "RUNNING"
	RunStateCompleted  RunState = "COMPLETED"
	RunStateFailed     RunState = "FAILED"
)

// UserFailure records a member whose pipeline failed during a run.
type UserFailure struct {
	UserID    string `json:"userId"`
	ErrorKind string `json:"errorKind"`
	Message   string `json:"message,omitempty"`
}

// BatchRunReport summarises one run. Once returned by the orchestrator it is
// not modified.
type BatchRunReport struct {
	Cycle          string        `json:"cycle"`
	State          RunState      `json:"state"`
	UsersProcessed int           `json:"usersProcessed"`
	UsersSucceeded int           `json:"usersSucceeded"`
	UsersFailed    int           `json:"usersFailed"`
	MatchesCreated int           `json:"matchesCreated"`
	Failures       []UserFailure `json:"failures"`
	Cancelled      bool          `json:"cancelled,omitempty"`
	Error          string        `json:"error,omitempty"`
	StartedAt      time.Time     `json:"startedAt"`
	CompletedAt    time.Time     `json:"completedAt"`
}

func (r *BatchRunReport) Duration() time.Duration {
	if r.CompletedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// FailureRate is UsersFailed / UsersProcessed, or 0 for an empty run.
func (r *BatchRunReport) FailureRate() float64 {
	if r.UsersProcessed == 0 {
		return 0
	}
	return float64(r.UsersFailed) / float64(r.UsersProcessed)
}

// FailuresByKind counts failures per error kind.
func (r *BatchRunReport) FailuresByKind() map[string]int {
	out := make(map[string]int)
	for _, f := range r.Failures {
		out[f.ErrorKind]++
	}
	return out
}
