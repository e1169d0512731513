package entity

import "time"

// RunStatus is shared by JobRun and JobRunStage
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusSkipped RunStatus = "skipped"
)

var terminalRunStatuses = map[RunStatus]bool{
	RunStatusSuccess: true,
	RunStatusFailed:  true,
	RunStatusSkipped: true,
}

// IsValid reports whether s is a known status
func (s RunStatus) IsValid() bool {
	return s == RunStatusRunning || terminalRunStatuses[s]
}

// IsTerminal reports whether s ends a run or stage
func (s RunStatus) IsTerminal() bool {
	return terminalRunStatuses[s]
}

// Meta is the free-form metadata attached to a run
type Meta map[string]any

// Merge returns a copy of m with every key of patch overwritten on top.
// Nested values are replaced, never merged.
func (m Meta) Merge(patch Meta) Meta {
	out := make(Meta, len(m)+len(patch))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// JobRun is the audit record of one event going through the pipeline
type JobRun struct {
	JobID       string     `json:"job_id"`
	Pattern     string     `json:"pattern"`
	ExpenseID   string     `json:"expense_id,omitempty"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	Status      RunStatus  `json:"status"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Meta        Meta       `json:"meta"`
	CreatedAt   time.Time  `json:"created_at"`
}

// JobRunStage records one step of a JobRun
type JobRunStage struct {
	ID         string         `json:"id"`
	JobID      string         `json:"job_id"`
	Stage      string         `json:"stage"`
	Status     RunStatus      `json:"status"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// JobRunFilter narrows run listings
type JobRunFilter struct {
	Status RunStatus
	Limit  int
}
