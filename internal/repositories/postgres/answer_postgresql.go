package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/edustack/assessment-engine/internal/models"
	"github.com/edustack/assessment-engine/internal/repositories"
)

type AnswerPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

// NewAnswerPostgreSQL ignores the redis client. Staged answers and
// answer records are read from the database only: staged answers feed
// grading, records are written in the same transaction.
func NewAnswerPostgreSQL(db *gorm.DB, _ *redis.Client) repositories.AnswerRepository {
	return &AnswerPostgreSQL{
		db:      db,
		helpers: NewSharedHelpers(db),
	}
}

// UpsertStaged creates or overwrites the staged choice for a question.
// Last write wins, the unique index on (attempt_id, question_id) keeps
// one row per question.
func (ar *AnswerPostgreSQL) UpsertStaged(ctx context.Context, tx *gorm.DB, answer *models.StagedAnswer) error {
	db := ar.getDB(tx)

	var existing models.StagedAnswer
	err := db.WithContext(ctx).
		Where("attempt_id = ? AND question_id = ?", answer.AttemptID, answer.QuestionID).
		First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check existing staged answer: %w", err)
	}

	if err == nil {
		answer.ID = existing.ID
		answer.CreatedAt = existing.CreatedAt
		if err := db.WithContext(ctx).Save(answer).Error; err != nil {
			return fmt.Errorf("failed to update staged answer: %w", err)
		}
	} else {
		if err := db.WithContext(ctx).Create(answer).Error; err != nil {
			return fmt.Errorf("failed to create staged answer: %w", err)
		}
	}

	return nil
}

// GetStagedByAttempt reads the staged answers straight from the
// database. The staging table mutates on every answer change and
// feeds grading inside the finalize transaction, so it is never
// served from cache.
func (ar *AnswerPostgreSQL) GetStagedByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]models.StagedAnswer, error) {
	db := ar.getDB(tx)
	var answers []models.StagedAnswer
	if err := db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("question_id ASC").
		Find(&answers).Error; err != nil {
		return nil, fmt.Errorf("failed to get staged answers: %w", err)
	}

	return answers, nil
}

// CreateRecords writes the finalized per-question outcomes in batches.
// Records are write-once, there is no update path.
func (ar *AnswerPostgreSQL) CreateRecords(ctx context.Context, tx *gorm.DB, records []models.AnswerRecord) error {
	if len(records) == 0 {
		return nil
	}

	db := ar.getDB(tx)
	if err := db.WithContext(ctx).CreateInBatches(records, 100).Error; err != nil {
		return fmt.Errorf("failed to create answer records: %w", err)
	}

	return nil
}

func (ar *AnswerPostgreSQL) GetRecordsByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]models.AnswerRecord, error) {
	db := ar.getDB(tx)
	var records []models.AnswerRecord
	if err := db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("question_id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get answer records: %w", err)
	}

	return records, nil
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (ar *AnswerPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return ar.db
}
