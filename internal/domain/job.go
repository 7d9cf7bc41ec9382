package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

// Job status constants
const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusDone     JobStatus = "done"
	JobStatusError    JobStatus = "error"
	JobStatusCanceled JobStatus = "canceled"
)

// JobTypeIngest is the only job type the queue executes
const JobTypeIngest = "ingest"

// DefaultMaxAttempts applies when a job spec leaves max_attempts unset
const DefaultMaxAttempts = 3

// IsTerminal reports whether the status can never change again
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusError, JobStatusCanceled:
		return true
	}
	return false
}

// ParseJobStatus validates a status filter value
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case JobStatusQueued, JobStatusRunning, JobStatusDone, JobStatusError, JobStatusCanceled:
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown job status %q", ErrValidation, s)
}

// Job is a row of the jobs table
type Job struct {
	ID          int64      `db:"id" json:"id"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduled_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt  *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	Status      JobStatus  `db:"status" json:"status"`
	Type        string     `db:"type" json:"type"`
	Priority    int        `db:"priority" json:"priority"`
	Attempts    int        `db:"attempts" json:"attempts"`
	MaxAttempts int        `db:"max_attempts" json:"max_attempts"`
	Error       *string    `db:"error" json:"error,omitempty"`
	RepoPath    *string    `db:"repo_path" json:"repo_path,omitempty"`
	GitURL      *string    `db:"git_url" json:"git_url,omitempty"`
	GitBranch   *string    `db:"git_branch" json:"git_branch,omitempty"`
	ConnName    string     `db:"conn_name" json:"conn_name"`
	Owner       string     `db:"owner" json:"owner"`
	RunID       *string    `db:"run_id" json:"run_id,omitempty"`
}

// JobSpec is the durable request from which a job row is created.
// Retries reuse it unchanged.
type JobSpec struct {
	Type        string
	RepoPath    string
	GitURL      string
	GitBranch   string
	ConnName    string
	Owner       string
	Priority    int
	ScheduledAt *time.Time
	MaxAttempts int
}

// Validate checks the spec references a source and has sane limits
func (s *JobSpec) Validate() error {
	if s.Type != "" && s.Type != JobTypeIngest {
		return fmt.Errorf("%w: unsupported job type %q", ErrValidation, s.Type)
	}
	if strings.TrimSpace(s.RepoPath) == "" && strings.TrimSpace(s.GitURL) == "" {
		return fmt.Errorf("%w: provide repo_path or git_url", ErrValidation)
	}
	if s.MaxAttempts < 0 {
		return fmt.Errorf("%w: max_attempts must not be negative", ErrValidation)
	}
	return nil
}

// Outcome is what a worker reports after executing a claimed job
type Outcome struct {
	Success bool
	Message string
}

// Succeeded builds a successful outcome
func Succeeded() Outcome {
	return Outcome{Success: true}
}

// Failed builds a failed outcome carrying the failure description
func Failed(msg string) Outcome {
	return Outcome{Success: false, Message: msg}
}
