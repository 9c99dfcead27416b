package postgres

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/edustack/assessment-engine/internal/cache"
	"github.com/edustack/assessment-engine/internal/models"
	"github.com/edustack/assessment-engine/internal/repositories"
)

type ResultPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewResultPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.ResultRepository {
	return &ResultPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (r *ResultPostgreSQL) Create(ctx context.Context, tx *gorm.DB, result *models.AttemptResult) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Create(result).Error; err != nil {
		return fmt.Errorf("failed to create attempt result: %w", err)
	}

	return nil
}

// GetByAttemptID retrieves the result for an attempt with caching.
// Results are immutable so a longer TTL is safe.
func (r *ResultPostgreSQL) GetByAttemptID(ctx context.Context, tx *gorm.DB, attemptID uint) (*models.AttemptResult, error) {
	db := r.getDB(tx)
	cacheKey := fmt.Sprintf("attempt:%d", attemptID)
	var result models.AttemptResult

	err := r.cacheManager.Result.CacheOrExecute(ctx, cacheKey, &result, cache.ResultCacheConfig.TTL, func() (interface{}, error) {
		var dbResult models.AttemptResult
		if err := db.WithContext(ctx).
			Where("attempt_id = ?", attemptID).
			First(&dbResult).Error; err != nil {
			return nil, err
		}
		return &dbResult, nil
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (r *ResultPostgreSQL) ListByAssessment(ctx context.Context, tx *gorm.DB, assessmentID uint) ([]models.AttemptResult, error) {
	db := r.getDB(tx)
	var results []models.AttemptResult
	if err := db.WithContext(ctx).
		Joins("JOIN assessment_attempts ON assessment_attempts.id = attempt_results.attempt_id").
		Where("assessment_attempts.assessment_id = ?", assessmentID).
		Preload("Attempt").
		Order("attempt_results.created_at ASC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to list results by assessment: %w", err)
	}

	return results, nil
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (r *ResultPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
