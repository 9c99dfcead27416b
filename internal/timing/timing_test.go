package timing

import (
	"testing"
	"time"
)

func TestComputeExpiry(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name             string
		timeLimitSeconds int
		want             time.Time
	}{
		{
			name:             "one minute limit",
			timeLimitSeconds: 60,
			want:             started.Add(time.Minute),
		},
		{
			name:             "thirty minute limit",
			timeLimitSeconds: 1800,
			want:             started.Add(30 * time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeExpiry(started, tt.timeLimitSeconds)
			if !got.Equal(tt.want) {
				t.Errorf("ComputeExpiry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpired(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before deadline", deadline.Add(-time.Second), false},
		{"exactly at deadline", deadline, false},
		{"after deadline", deadline.Add(time.Millisecond), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(deadline, tt.now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSecondsRemaining(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"full minute left", deadline.Add(-time.Minute), 60},
		{"half gone", deadline.Add(-30 * time.Second), 30},
		{"at deadline", deadline, 0},
		{"past deadline floors at zero", deadline.Add(45 * time.Second), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SecondsRemaining(deadline, tt.now); got != tt.want {
				t.Errorf("SecondsRemaining() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestClampSubmission(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	deadline := ComputeExpiry(started, 60)

	// Submit landing 61s in on a 60s window is recorded at the deadline
	// and the reported duration never exceeds the limit.
	late := started.Add(61 * time.Second)
	effective := ClampSubmission(late, deadline)
	if !effective.Equal(deadline) {
		t.Errorf("ClampSubmission(late) = %v, want %v", effective, deadline)
	}
	if got := ElapsedSeconds(started, effective); got != 60 {
		t.Errorf("ElapsedSeconds after clamp = %d, want 60", got)
	}

	// An in-window submit is untouched.
	onTime := started.Add(45 * time.Second)
	if got := ClampSubmission(onTime, deadline); !got.Equal(onTime) {
		t.Errorf("ClampSubmission(onTime) = %v, want %v", got, onTime)
	}
}
