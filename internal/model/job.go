package model

import "time"

// JobStatus represents the current state of a queued pipeline job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one execution/attempt-chain for a document's pipeline run.
// Owned exclusively by the job queue; at most one active job exists per
// document at any instant.
type Job struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	FilePath    string    `json:"file_path"`
	SessionID   string    `json:"session_id,omitempty"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	Status      JobStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Progress is the highest percentage published for this job's event
	// sequence. It lives only in memory, carried across retry attempts so
	// a re-run never emits a checkpoint below one already observed.
	Progress int `json:"-"`
}
