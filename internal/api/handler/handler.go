package handler

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cuongbtq/lineageq/internal/domain"
	"github.com/cuongbtq/lineageq/internal/eventbus"
	"github.com/cuongbtq/lineageq/internal/storage"
	"github.com/cuongbtq/lineageq/internal/trigger"
)

// JobStore is the part of the job store the handlers read and cancel through
type JobStore interface {
	GetJob(ctx context.Context, id int64) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	CancelJob(ctx context.Context, id int64) (bool, error)
	JobStats(ctx context.Context) (map[domain.JobStatus]int64, error)
	QueueDepth(ctx context.Context) (int64, error)
	ListEvents(ctx context.Context, limit int) ([]domain.Event, error)
}

// Triggers creates jobs and events from inbound requests
type Triggers interface {
	EnqueueIngest(ctx context.Context, spec domain.JobSpec) (int64, error)
	PublishEvent(ctx context.Context, key string, payload json.RawMessage) (*domain.Event, error)
	HandleGitHubWebhook(ctx context.Context, req trigger.WebhookRequest) (*trigger.WebhookResult, error)
}

// HealthChecker reports whether the database is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Store       JobStore
	Triggers    Triggers
	Bus         *eventbus.Bus
	DBClient    HealthChecker
	ServiceName string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger   *slog.Logger
	store    JobStore
	triggers Triggers
	bus      *eventbus.Bus
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:   deps.Logger,
		store:    deps.Store,
		triggers: deps.Triggers,
		bus:      deps.Bus,
	}
}

// EventHandler handles audit events and the live notification stream
type EventHandler struct {
	logger   *slog.Logger
	store    JobStore
	triggers Triggers
	bus      *eventbus.Bus
}

// NewEventHandler creates a new EventHandler instance
func NewEventHandler(deps *Dependencies) *EventHandler {
	return &EventHandler{
		logger:   deps.Logger,
		store:    deps.Store,
		triggers: deps.Triggers,
		bus:      deps.Bus,
	}
}

// WebhookHandler handles inbound repository webhooks
type WebhookHandler struct {
	logger   *slog.Logger
	triggers Triggers
}

// NewWebhookHandler creates a new WebhookHandler instance
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	return &WebhookHandler{
		logger:   deps.Logger,
		triggers: deps.Triggers,
	}
}

// HealthHandler reports liveness and database reachability
type HealthHandler struct {
	dbClient    HealthChecker
	serviceName string
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		dbClient:    deps.DBClient,
		serviceName: deps.ServiceName,
	}
}
