package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/lineageq/internal/domain"
	"github.com/jmoiron/sqlx"
)

// eventRow keeps the payload as text so both drivers scan it the same way
type eventRow struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	Source    string    `db:"source"`
	Key       string    `db:"event_key"`
	Payload   string    `db:"payload"`
}

func (r eventRow) toDomain() domain.Event {
	return domain.Event{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		Source:    r.Source,
		Key:       r.Key,
		Payload:   json.RawMessage(r.Payload),
	}
}

func normalizePayload(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "{}", nil
	}
	if !json.Valid(payload) {
		return "", fmt.Errorf("%w: event payload is not valid JSON", domain.ErrValidation)
	}
	return string(payload), nil
}

// InsertEvent appends an audit event
func (s *Storage) InsertEvent(ctx context.Context, source, key string, payload json.RawMessage) (*domain.Event, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: event key is required", domain.ErrValidation)
	}
	body, err := normalizePayload(payload)
	if err != nil {
		return nil, err
	}

	ev, err := s.insertEvent(ctx, s.db, source, key, body, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Event recorded",
		slog.Int64("event_id", ev.ID),
		slog.String("source", source),
		slog.String("key", key),
	)
	return ev, nil
}

func (s *Storage) insertEvent(ctx context.Context, q sqlx.QueryerContext, source, key, payload string, now time.Time) (*domain.Event, error) {
	var id int64
	err := q.QueryRowxContext(ctx,
		s.db.Rebind(`INSERT INTO events (created_at, source, event_key, payload) VALUES (?, ?, ?, ?) RETURNING id`),
		now, source, key, payload,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	return &domain.Event{
		ID:        id,
		CreatedAt: now,
		Source:    source,
		Key:       key,
		Payload:   json.RawMessage(payload),
	}, nil
}

// ListEvents returns the most recent events, newest first
func (s *Storage) ListEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind(`SELECT id, created_at, source, event_key, payload FROM events ORDER BY id DESC LIMIT ?`),
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]domain.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toDomain())
	}
	return events, nil
}

// RecordWebhook stores the webhook event and the job it triggers in one transaction.
// Either both rows exist afterwards or neither does.
func (s *Storage) RecordWebhook(ctx context.Context, source, key string, payload json.RawMessage, spec domain.JobSpec) (*domain.Event, *domain.Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, nil, err
	}
	body, err := normalizePayload(payload)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin webhook transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ev, err := s.insertEvent(ctx, tx, source, key, body, now)
	if err != nil {
		return nil, nil, err
	}

	id, err := s.insertJob(ctx, tx, spec, now)
	if err != nil {
		return nil, nil, err
	}

	job, err := s.getJob(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit webhook transaction: %w", err)
	}

	s.logger.Info("Webhook recorded",
		slog.Int64("event_id", ev.ID),
		slog.Int64("job_id", job.ID),
		slog.String("key", key),
	)

	return ev, job, nil
}
