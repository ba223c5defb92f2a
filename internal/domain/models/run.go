package models

import "time"

// RunStatus is the lifecycle state of an agent run
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// IsActive reports whether the run still occupies its thread
func (s RunStatus) IsActive() bool {
	return s == RunStatusQueued || s == RunStatusInProgress
}

// Run is one execution of an assistant against a thread
type Run struct {
	ID           string                 `json:"id" db:"id"`
	ThreadID     string                 `json:"thread_id" db:"thread_id"`
	AssistantID  string                 `json:"assistant_id" db:"assistant_id"`
	Status       RunStatus              `json:"status" db:"status"`
	Model        string                 `json:"model" db:"model"`
	Instructions string                 `json:"instructions,omitempty" db:"instructions"`
	LastError    *string                `json:"last_error,omitempty" db:"last_error"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty" db:"completed_at"`
	FailedAt     *time.Time             `json:"failed_at,omitempty" db:"failed_at"`
	CancelledAt  *time.Time             `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// IsTerminal reports whether the run has finished
func (r *Run) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// ApplyStatus moves the run to status and stamps the matching timestamp
func (r *Run) ApplyStatus(status RunStatus, lastError *string, at time.Time) {
	r.Status = status
	switch status {
	case RunStatusInProgress:
		r.StartedAt = &at
	case RunStatusCompleted:
		r.CompletedAt = &at
	case RunStatusFailed:
		r.FailedAt = &at
		r.LastError = lastError
	case RunStatusCancelled:
		r.CancelledAt = &at
	}
}
