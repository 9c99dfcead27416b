// Package events publishes attempt lifecycle events for downstream
// consumers (notifications, analytics). Publishing is best-effort,
// a failed publish never fails the learner-facing operation.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the engine
const (
	TypeAttemptStarted   = "attempt.started"
	TypeAttemptSubmitted = "attempt.submitted"
	TypeAttemptExpired   = "attempt.expired"
)

const (
	eventSource  = "assessment-engine"
	eventVersion = "1.0"
)

// Event is the envelope every published message carries
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEvent builds an envelope with a fresh id and timestamp
func NewEvent(eventType string, data interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    eventSource,
		Version:   eventVersion,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// AttemptStartedEvent is emitted when a new attempt is created
type AttemptStartedEvent struct {
	AttemptID       uint      `json:"attempt_id"`
	AssessmentID    uint      `json:"assessment_id"`
	LearnerID       string    `json:"learner_id"`
	AttemptSequence int       `json:"attempt_sequence"`
	StartedAt       time.Time `json:"started_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// AttemptFinalizedEvent is emitted when an attempt is submitted or expires
type AttemptFinalizedEvent struct {
	AttemptID        uint      `json:"attempt_id"`
	AssessmentID     uint      `json:"assessment_id"`
	LearnerID        string    `json:"learner_id"`
	Status           string    `json:"status"`
	SubmittedAt      time.Time `json:"submitted_at"`
	RawScore         float64   `json:"raw_score"`
	Percentage       float64   `json:"percentage"`
	Passed           bool      `json:"passed"`
	TimeTakenSeconds int       `json:"time_taken_seconds"`
}

// EventPublisher abstracts the message transport
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}
