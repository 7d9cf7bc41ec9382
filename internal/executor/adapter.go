package executor

import (
	"context"
	"time"

	"github.com/cuongbtq/lineageq/internal/domain"
)

// Request is everything an adapter gets to know about a claimed job
type Request struct {
	JobID        int64
	RepoPath     string
	GitURL       string
	GitBranch    string
	ConnName     string
	Owner        string
	RunID        string
	RunStartedAt time.Time
}

// NewRequest builds the adapter request for a claimed job
func NewRequest(job *domain.Job, runID string, startedAt time.Time) Request {
	return Request{
		JobID:        job.ID,
		RepoPath:     deref(job.RepoPath),
		GitURL:       deref(job.GitURL),
		GitBranch:    deref(job.GitBranch),
		ConnName:     job.ConnName,
		Owner:        job.Owner,
		RunID:        runID,
		RunStartedAt: startedAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Adapter runs the external scan/ingest for one job.
// A nil error is success; any error's message becomes the job's failure description.
type Adapter interface {
	Execute(ctx context.Context, req Request) error
}

// Func lets a plain function act as an Adapter
type Func func(ctx context.Context, req Request) error

// Execute calls f
func (f Func) Execute(ctx context.Context, req Request) error {
	return f(ctx, req)
}
