package dto

import (
	"encoding/json"

	"github.com/cuongbtq/lineageq/internal/domain"
)

// PublishEventRequest is the body of POST /api/v1/events
type PublishEventRequest struct {
	Key     string          `json:"key" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// PublishEventResponse acknowledges a recorded event
type PublishEventResponse struct {
	OK    bool          `json:"ok"`
	Event *domain.Event `json:"event"`
}

// ListEventsRequest holds the query parameters of GET /api/v1/events
type ListEventsRequest struct {
	Limit int `form:"limit"`
}

// ListEventsResponse is the most recent events, newest first
type ListEventsResponse struct {
	Events []domain.Event `json:"events"`
}

// WebhookResponse acknowledges an accepted webhook delivery
type WebhookResponse struct {
	OK      bool  `json:"ok"`
	EventID int64 `json:"event_id"`
	JobID   int64 `json:"job_id"`
}
