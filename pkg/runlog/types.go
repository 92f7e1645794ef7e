package runlog

import "time"

// RunState is the lifecycle state of a recorded job run.
//
// NOTE: These values are persisted in run.json and are part of the stable
// on-disk contract.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateSuccess   RunState = "success"
	RunStatePartial   RunState = "partial"
	RunStateFailed    RunState = "failed"
	RunStateCancelled RunState = "cancelled"
	RunStateUnknown   RunState = "unknown"
)

// RunRecord is the persistent record written to run.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type RunRecord struct {
	RunID        string   `json:"run_id"`
	JobType      string   `json:"job_type"`
	Pipeline     string   `json:"pipeline,omitempty"`
	State        RunState `json:"state"`
	ManifestPath string   `json:"manifest_path,omitempty"`
	PID          int      `json:"pid,omitempty"`

	TotalItems   int `json:"total_items"`
	SuccessCount int `json:"success_count"`
	FailedCount  int `json:"failed_count"`

	Error string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	EventsPath string     `json:"events_path,omitempty"`
}

// FinalState maps run counters and the terminal condition to a RunState.
// Cancelled wins over everything; otherwise a run with failures is partial
// when some items succeeded and failed when none did.
func FinalState(cancelled bool, runErr error, success, failed int) RunState {
	switch {
	case cancelled:
		return RunStateCancelled
	case runErr != nil:
		return RunStateFailed
	case failed == 0:
		return RunStateSuccess
	case success > 0:
		return RunStatePartial
	default:
		return RunStateFailed
	}
}
