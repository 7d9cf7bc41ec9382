package domain

import (
	"encoding/json"
	"time"
)

// Event sources
const (
	EventSourceAPI    = "api"
	EventSourceGitHub = "github"
)

// Event is an append-only audit record of something received from outside
type Event struct {
	ID        int64           `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Source    string          `json:"source"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
}

// Notification types
const (
	NotificationJob   = "job"
	NotificationEvent = "event"
)

// Notification is what the event bus fans out to live subscribers
type Notification struct {
	Type      string          `json:"type"`
	JobID     int64           `json:"id,omitempty"`
	Status    JobStatus       `json:"status,omitempty"`
	Key       string          `json:"key,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Origin    string          `json:"origin,omitempty"`
}

// JobNotification describes a job's current status
func JobNotification(job *Job) Notification {
	n := Notification{
		Type:   NotificationJob,
		JobID:  job.ID,
		Status: job.Status,
	}
	if job.Error != nil {
		n.Error = *job.Error
	}
	return n
}

// EventNotification describes a recorded event
func EventNotification(ev *Event) Notification {
	return Notification{
		Type:      NotificationEvent,
		Key:       ev.Key,
		Payload:   ev.Payload,
		CreatedAt: ev.CreatedAt,
	}
}
