package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern safely invalidates cache pattern with logging
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete safely deletes cache keys with logging
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// InvalidateAssessmentCache invalidates all assessment-related caches using pipeline
func InvalidateAssessmentCache(ctx context.Context, cm *CacheManager, assessmentID uint) {
	SafeDelete(ctx, cm.Assessment,
		fmt.Sprintf("id:%d", assessmentID),
		fmt.Sprintf("details:%d", assessmentID))

	SafeInvalidatePattern(ctx, cm.Assessment, "list:*")
	SafeInvalidatePattern(ctx, cm.Stats, fmt.Sprintf("assessment:%d:*", assessmentID))
}

// SafeInvalidateAttempt invalidates all attempt-related caches with logging
func SafeInvalidateAttempt(ctx context.Context, cm *CacheManager, attemptID uint) {
	if err := cm.InvalidateAttempt(ctx, attemptID); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate attempt caches",
			"error", err,
			"attempt_id", attemptID)
	}
}
