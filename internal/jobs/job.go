package jobs

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state reported by the backend for a job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// DefaultFailureMessage is used when a failed job carries no detail.
const DefaultFailureMessage = "job failed"

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions can happen.
// PENDING and RUNNING are both "keep waiting".
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job mirrors the backend job resource. ResultData is opaque to this package.
type Job struct {
	ID           string          `json:"id"`
	Status       Status          `json:"status"`
	JobType      string          `json:"job_type,omitempty"`
	ResultData   json.RawMessage `json:"result_data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    *time.Time      `json:"created_at,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// FailureMessage returns the server-provided error detail or the generic fallback.
func (j *Job) FailureMessage() string {
	if j == nil {
		return DefaultFailureMessage
	}
	if msg := strings.TrimSpace(j.ErrorMessage); msg != "" {
		return msg
	}
	return DefaultFailureMessage
}
