package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewEvent_Envelope(t *testing.T) {
	data := AttemptStartedEvent{
		AttemptID:    7,
		AssessmentID: 3,
		LearnerID:    "learner-1",
	}
	event := NewEvent(TypeAttemptStarted, data)

	if event.ID == "" {
		t.Error("Event ID should not be empty")
	}
	if event.Type != TypeAttemptStarted {
		t.Errorf("Type = %s, want %s", event.Type, TypeAttemptStarted)
	}
	if event.Source != "assessment-engine" {
		t.Errorf("Source = %s, want assessment-engine", event.Source)
	}
	if event.Version != "1.0" {
		t.Errorf("Version = %s, want 1.0", event.Version)
	}
	if event.Timestamp.IsZero() {
		t.Error("Event timestamp should not be zero")
	}

	other := NewEvent(TypeAttemptStarted, data)
	if other.ID == event.ID {
		t.Error("Two events should not share an ID")
	}
}

func TestMockEventPublisher(t *testing.T) {
	publisher := NewMockEventPublisher(testLogger())
	ctx := context.Background()

	if err := publisher.Publish(ctx, NewEvent(TypeAttemptStarted, nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := publisher.Publish(ctx, NewEvent(TypeAttemptSubmitted, nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	published := publisher.GetPublishedEvents()
	if len(published) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(published))
	}
	if published[0].Type != TypeAttemptStarted || published[1].Type != TypeAttemptSubmitted {
		t.Errorf("event types = %s, %s, want %s, %s",
			published[0].Type, published[1].Type, TypeAttemptStarted, TypeAttemptSubmitted)
	}

	// The snapshot is detached from the publisher's internal slice
	publisher.ClearEvents()
	if len(published) != 2 {
		t.Error("snapshot changed after ClearEvents")
	}
	if got := len(publisher.GetPublishedEvents()); got != 0 {
		t.Errorf("events after clear = %d, want 0", got)
	}
}
