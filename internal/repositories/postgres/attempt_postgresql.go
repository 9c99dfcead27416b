package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/edustack/assessment-engine/internal/cache"
	"github.com/edustack/assessment-engine/internal/models"
	"github.com/edustack/assessment-engine/internal/repositories"
)

type AttemptPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewAttemptPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AttemptRepository {
	return &AttemptPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// Create inserts a new attempt row. The partial unique index on
// (learner_id, assessment_id) for in_progress rows turns a concurrent
// duplicate into gorm.ErrDuplicatedKey for the caller to handle.
func (a *AttemptPostgreSQL) Create(ctx context.Context, tx *gorm.DB, attempt *models.AssessmentAttempt) error {
	db := a.getDB(tx)
	if err := db.WithContext(ctx).Create(attempt).Error; err != nil {
		return err
	}
	cache.SafeInvalidatePattern(ctx, a.cacheManager.Stats, fmt.Sprintf("assessment:%d*", attempt.AssessmentID))

	return nil
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.AssessmentAttempt, error) {
	db := a.getDB(tx)
	// Cache attempts briefly, they mutate while in progress
	cacheKey := fmt.Sprintf("id:%d", id)
	var attempt models.AssessmentAttempt

	err := a.cacheManager.Attempt.CacheOrExecute(ctx, cacheKey, &attempt, cache.AttemptCacheConfig.TTL, func() (interface{}, error) {
		var dbAttempt models.AssessmentAttempt
		if err := db.WithContext(ctx).First(&dbAttempt, id).Error; err != nil {
			return nil, err
		}
		return &dbAttempt, nil
	})
	if err != nil {
		return nil, err
	}

	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetByIDWithResult(ctx context.Context, tx *gorm.DB, id uint) (*models.AssessmentAttempt, error) {
	db := a.getDB(tx)
	var attempt models.AssessmentAttempt
	if err := db.WithContext(ctx).
		Preload("Assessment").
		Preload("Result").
		Preload("Answers").
		First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// FindActive returns the learner's single in_progress attempt for an
// assessment. The partial unique index guarantees at most one exists.
func (a *AttemptPostgreSQL) FindActive(ctx context.Context, tx *gorm.DB, learnerID string, assessmentID uint) (*models.AssessmentAttempt, error) {
	db := a.getDB(tx)
	var attempt models.AssessmentAttempt
	if err := db.WithContext(ctx).
		Where("learner_id = ? AND assessment_id = ? AND status = ?", learnerID, assessmentID, models.AttemptStatusInProgress).
		First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// CountByLearner counts all attempts ever created by a learner for an
// assessment. The count feeds limit enforcement and sequence numbering,
// so it always reads the database.
func (a *AttemptPostgreSQL) CountByLearner(ctx context.Context, tx *gorm.DB, learnerID string, assessmentID uint) (int64, error) {
	db := a.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Where("learner_id = ? AND assessment_id = ?", learnerID, assessmentID).
		Count(&count).Error
	return count, err
}

// Finalize transitions the attempt out of in_progress. The status guard
// in the WHERE clause makes concurrent finalizations race safely, only
// one caller sees rows affected.
func (a *AttemptPostgreSQL) Finalize(ctx context.Context, tx *gorm.DB, attemptID uint, status models.AttemptStatus, submittedAt time.Time) (bool, error) {
	db := a.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Where("id = ? AND status = ?", attemptID, models.AttemptStatusInProgress).
		Updates(map[string]interface{}{
			"status":       status,
			"submitted_at": submittedAt,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}

	won := result.RowsAffected > 0
	if won {
		// Finalization stales the attempt, staged answer and result caches
		cache.SafeInvalidateAttempt(ctx, a.cacheManager, attemptID)
	}

	return won, nil
}

func (a *AttemptPostgreSQL) ListByLearner(ctx context.Context, tx *gorm.DB, learnerID string, filters repositories.AttemptFilters) ([]models.AssessmentAttempt, int64, error) {
	db := a.getDB(tx)
	var attempts []models.AssessmentAttempt
	var total int64

	// apply filters first
	query := db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Where("learner_id = ?", learnerID)
	query = a.helpers.ApplyAttemptFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// then apply pagination and sorting
	sortBy := filters.SortBy
	if sortBy == "" {
		sortBy = "started_at"
	}
	query = a.helpers.ApplyPaginationAndSort(query, sortBy, filters.SortOrder, filters.Limit, filters.Offset)

	if err := query.Preload("Assessment").Preload("Result").Find(&attempts).Error; err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

func (a *AttemptPostgreSQL) GetExpiredInProgress(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]models.AssessmentAttempt, error) {
	db := a.getDB(tx)
	var attempts []models.AssessmentAttempt
	query := db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", models.AttemptStatusInProgress, cutoff).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&attempts).Error; err != nil {
		return nil, err
	}

	return attempts, nil
}

func (a *AttemptPostgreSQL) GetAssessmentStats(ctx context.Context, tx *gorm.DB, assessmentID uint) (*repositories.AttemptStats, error) {
	db := a.getDB(tx)
	cacheKey := fmt.Sprintf("assessment:%d:attempts", assessmentID)
	var stats repositories.AttemptStats

	err := a.cacheManager.Stats.CacheOrExecute(ctx, cacheKey, &stats, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		return a.computeAssessmentStats(ctx, db, assessmentID)
	})
	if err != nil {
		return nil, err
	}

	return &stats, nil
}

func (a *AttemptPostgreSQL) computeAssessmentStats(ctx context.Context, db *gorm.DB, assessmentID uint) (*repositories.AttemptStats, error) {
	stats := &repositories.AttemptStats{
		StatusBreakdown: make(map[string]int64),
	}

	if err := db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Where("assessment_id = ?", assessmentID).
		Count(&stats.TotalAttempts).Error; err != nil {
		return nil, err
	}

	// Status breakdown
	statuses := []models.AttemptStatus{models.AttemptStatusInProgress, models.AttemptStatusSubmitted, models.AttemptStatusExpired}
	for _, status := range statuses {
		var count int64
		if err := db.WithContext(ctx).
			Model(&models.AssessmentAttempt{}).
			Where("assessment_id = ? AND status = ?", assessmentID, status).
			Count(&count).Error; err != nil {
			return nil, err
		}
		stats.StatusBreakdown[string(status)] = count
	}

	// Aggregates over finalized results
	type resultAggregates struct {
		AvgScore     float64
		AvgTimeSpent float64
		PassedCount  int64
		ResultCount  int64
	}
	var agg resultAggregates
	if err := db.WithContext(ctx).
		Model(&models.AttemptResult{}).
		Select(`
			COALESCE(AVG(attempt_results.percentage), 0) AS avg_score,
			COALESCE(AVG(attempt_results.time_taken_seconds), 0) AS avg_time_spent,
			COALESCE(SUM(CASE WHEN attempt_results.passed THEN 1 ELSE 0 END), 0) AS passed_count,
			COUNT(*) AS result_count`).
		Joins("JOIN assessment_attempts ON assessment_attempts.id = attempt_results.attempt_id").
		Where("assessment_attempts.assessment_id = ?", assessmentID).
		Scan(&agg).Error; err != nil {
		return nil, err
	}

	stats.AverageScore = agg.AvgScore
	stats.AverageTimeSpent = agg.AvgTimeSpent
	if agg.ResultCount > 0 {
		stats.PassRate = float64(agg.PassedCount) / float64(agg.ResultCount) * 100
	}
	if stats.TotalAttempts > 0 {
		stats.CompletionRate = float64(stats.StatusBreakdown[string(models.AttemptStatusSubmitted)]) / float64(stats.TotalAttempts) * 100
	}

	return stats, nil
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (a *AttemptPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}
