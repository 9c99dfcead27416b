package pkg

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/edustack/assessment-engine/internal/config"
	"github.com/edustack/assessment-engine/internal/models"
)

// InitDatabase opens the PostgreSQL connection, runs migrations and
// sets up connection pooling. TranslateError is on so unique index
// violations surface as gorm.ErrDuplicatedKey.
func InitDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return db, nil
}

func runMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Assessment{},
		&models.Question{},
		&models.QuestionOption{},
		&models.AssessmentAttempt{},
		&models.StagedAnswer{},
		&models.AnswerRecord{},
		&models.AttemptResult{},
	); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// One in_progress attempt per learner and assessment. AutoMigrate
	// cannot express a partial index, so it is created directly.
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_active_unique
		 ON assessment_attempts (learner_id, assessment_id)
		 WHERE status = 'in_progress'`,
	).Error; err != nil {
		return fmt.Errorf("failed to create active attempt index: %w", err)
	}

	return nil
}

// NewRedisClient connects to Redis. Caching is optional, callers treat
// a nil client as cache disabled.
func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
