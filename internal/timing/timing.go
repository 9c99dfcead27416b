// Package timing is the single authority for attempt deadlines. All
// expiry decisions go through it so that server time is the only clock
// that matters, client-reported timestamps are never trusted.
package timing

import (
	"time"
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

// NewClock returns the wall clock in UTC.
func NewClock() Clock {
	return realClock{}
}

// ComputeExpiry returns startedAt plus the assessment time limit.
func ComputeExpiry(startedAt time.Time, timeLimitSeconds int) time.Time {
	return startedAt.Add(time.Duration(timeLimitSeconds) * time.Second)
}

// IsExpired reports whether the deadline has passed at the given
// instant. The boundary instant itself still counts as live.
func IsExpired(expiresAt, now time.Time) bool {
	return now.After(expiresAt)
}

// SecondsRemaining returns whole seconds until the deadline, floored
// at zero once the deadline has passed.
func SecondsRemaining(expiresAt, now time.Time) int {
	remaining := int(expiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ClampSubmission caps the effective submission instant at the attempt
// deadline. A submit that lands after expiry is recorded as happening
// at the deadline so the reported duration never exceeds the limit.
func ClampSubmission(now, expiresAt time.Time) time.Time {
	if now.After(expiresAt) {
		return expiresAt
	}
	return now
}

// ElapsedSeconds returns whole seconds between start and end.
func ElapsedSeconds(startedAt, endedAt time.Time) int {
	elapsed := int(endedAt.Sub(startedAt).Seconds())
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
