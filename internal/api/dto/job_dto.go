package dto

import (
	"strings"
	"time"

	"github.com/cuongbtq/lineageq/internal/domain"
)

// IngestRequest is the body of POST /api/v1/jobs/ingest
type IngestRequest struct {
	Type        string     `json:"type"`
	RepoPath    string     `json:"repo_path"`
	GitURL      string     `json:"git_url"`
	GitBranch   string     `json:"git_branch"`
	ConnName    string     `json:"conn_name" binding:"required"`
	Owner       string     `json:"owner"`
	Priority    int        `json:"priority"`
	ScheduleAt  *time.Time `json:"schedule_at"`
	MaxAttempts int        `json:"max_attempts" binding:"omitempty,min=1,max=100"`
}

// ToSpec converts the request into a job spec
func (r *IngestRequest) ToSpec() domain.JobSpec {
	spec := domain.JobSpec{
		Type:        strings.TrimSpace(r.Type),
		RepoPath:    strings.TrimSpace(r.RepoPath),
		GitURL:      strings.TrimSpace(r.GitURL),
		GitBranch:   strings.TrimSpace(r.GitBranch),
		ConnName:    strings.TrimSpace(r.ConnName),
		Owner:       r.Owner,
		Priority:    r.Priority,
		MaxAttempts: r.MaxAttempts,
	}
	if r.ScheduleAt != nil {
		at := r.ScheduleAt.UTC()
		spec.ScheduledAt = &at
	}
	return spec
}

// IngestResponse is returned after a job is queued
type IngestResponse struct {
	OK bool  `json:"ok"`
	ID int64 `json:"id"`
}

// ListJobsRequest holds the query parameters of GET /api/v1/jobs
type ListJobsRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Cursor string `form:"cursor"`
}

// ListJobsResponse is one page of jobs, newest first
type ListJobsResponse struct {
	Jobs       []domain.Job `json:"jobs"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// CancelJobResponse reports whether the cancel changed anything
type CancelJobResponse struct {
	OK       bool             `json:"ok"`
	Canceled bool             `json:"canceled"`
	Status   domain.JobStatus `json:"status"`
}

// StatsResponse summarizes the queue
type StatsResponse struct {
	Counts      map[domain.JobStatus]int64 `json:"counts"`
	QueueDepth  int64                      `json:"queue_depth"`
	Subscribers int                        `json:"subscribers"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}
