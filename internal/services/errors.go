package services

import (
	"errors"
	"fmt"
)

// Sentinel errors for service operations
var (
	ErrAssessmentNotFound = errors.New("assessment not found")
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrResultNotFound     = errors.New("result not found")

	// Starting is rejected when the assessment deadline has passed
	ErrAssessmentLocked = errors.New("assessment is locked")

	// Starting is rejected when the learner has used up max_attempts
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")

	// Staging is rejected once the attempt left in_progress
	ErrAttemptNotActive = errors.New("attempt is not active")

	// Result access is rejected while the attempt is still in_progress
	ErrAttemptNotFinished = errors.New("attempt is not finished")

	ErrQuestionNotInAssessment = errors.New("question does not belong to assessment")
	ErrOptionNotInQuestion     = errors.New("option does not belong to question")
)

// PermissionError describes a denied operation on a resource
type PermissionError struct {
	UserID     string
	ResourceID uint
	Resource   string
	Action     string
	Reason     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: user %s cannot %s %s %d: %s",
		e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

// IsPermissionError reports whether err is a PermissionError
func IsPermissionError(err error) bool {
	var permErr *PermissionError
	return errors.As(err, &permErr)
}
