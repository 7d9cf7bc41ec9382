package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/lineageq/internal/domain"
)

// DefaultConnName is the connection webhook-triggered jobs ingest into
const DefaultConnName = "demo_pg"

// Store is the part of the job store the triggers write to
type Store interface {
	InsertJob(ctx context.Context, spec domain.JobSpec) (int64, error)
	InsertEvent(ctx context.Context, source, key string, payload json.RawMessage) (*domain.Event, error)
	RecordWebhook(ctx context.Context, source, key string, payload json.RawMessage, spec domain.JobSpec) (*domain.Event, *domain.Job, error)
}

// Publisher receives notifications about what the triggers wrote
type Publisher interface {
	Publish(n domain.Notification)
}

// Config holds trigger configuration
type Config struct {
	Logger *slog.Logger
	Store  Store
	Bus    Publisher
	// WebhookSecret empty means webhook signatures are not checked
	WebhookSecret string
	// DefaultConnName is used for jobs derived from webhooks
	DefaultConnName string
}

// Service turns API calls and webhooks into jobs and events
type Service struct {
	logger   *slog.Logger
	store    Store
	bus      Publisher
	secret   string
	connName string
}

// NewService creates the trigger service
func NewService(cfg *Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	connName := cfg.DefaultConnName
	if connName == "" {
		connName = DefaultConnName
	}
	if cfg.WebhookSecret == "" {
		logger.Warn("Webhook secret not configured, signatures will not be verified")
	}

	return &Service{
		logger:   logger,
		store:    cfg.Store,
		bus:      cfg.Bus,
		secret:   cfg.WebhookSecret,
		connName: connName,
	}
}

func (s *Service) publish(n domain.Notification) {
	if s.bus != nil {
		s.bus.Publish(n)
	}
}

// EnqueueIngest stores a new ingest job and announces it
func (s *Service) EnqueueIngest(ctx context.Context, spec domain.JobSpec) (int64, error) {
	id, err := s.store.InsertJob(ctx, spec)
	if err != nil {
		return 0, err
	}

	s.publish(domain.Notification{
		Type:   domain.NotificationJob,
		JobID:  id,
		Status: domain.JobStatusQueued,
	})
	return id, nil
}

// PublishEvent records an audit event from the API and fans it out
func (s *Service) PublishEvent(ctx context.Context, key string, payload json.RawMessage) (*domain.Event, error) {
	ev, err := s.store.InsertEvent(ctx, domain.EventSourceAPI, key, payload)
	if err != nil {
		return nil, err
	}

	s.publish(domain.EventNotification(ev))
	return ev, nil
}

// WebhookRequest is a raw GitHub delivery
type WebhookRequest struct {
	Body      []byte
	Signature string
	EventName string
}

// WebhookResult is what a valid delivery produced
type WebhookResult struct {
	Event *domain.Event
	Job   *domain.Job
}

type githubPayload struct {
	Ref        string `json:"ref"`
	Repository struct {
		CloneURL string `json:"clone_url"`
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// HandleGitHubWebhook verifies the delivery, then records the event and the ingest job it implies.
// Nothing is written when the signature or payload is rejected.
func (s *Service) HandleGitHubWebhook(ctx context.Context, req WebhookRequest) (*WebhookResult, error) {
	if !VerifySignature(s.secret, req.Body, req.Signature) {
		s.logger.Warn("Rejected webhook with invalid signature",
			slog.String("event", req.EventName),
		)
		return nil, domain.ErrInvalidSignature
	}

	var payload githubPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: webhook body is not valid JSON", domain.ErrValidation)
	}
	if payload.Repository.CloneURL == "" {
		return nil, fmt.Errorf("%w: webhook payload has no repository.clone_url", domain.ErrValidation)
	}

	key := req.EventName
	if key == "" {
		key = "unknown"
	}

	spec := domain.JobSpec{
		Type:      domain.JobTypeIngest,
		GitURL:    payload.Repository.CloneURL,
		GitBranch: BranchFromRef(payload.Ref),
		ConnName:  s.connName,
	}

	ev, job, err := s.store.RecordWebhook(ctx, domain.EventSourceGitHub, key, req.Body, spec)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Webhook accepted",
		slog.String("event", key),
		slog.String("repository", payload.Repository.FullName),
		slog.Int64("job_id", job.ID),
	)

	s.publish(domain.EventNotification(ev))
	s.publish(domain.JobNotification(job))

	return &WebhookResult{Event: ev, Job: job}, nil
}

// BranchFromRef strips refs/heads/ or refs/tags/ from a git ref
func BranchFromRef(ref string) string {
	for _, prefix := range []string{"refs/heads/", "refs/tags/"} {
		if strings.HasPrefix(ref, prefix) {
			return strings.TrimPrefix(ref, prefix)
		}
	}
	return ref
}
