package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/edustack/assessment-engine/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type AssessmentFilters struct {
	Kind      *models.AssessmentKind `json:"kind"`
	Search    *string                `json:"search"`
	Limit     int                    `json:"limit"`
	Offset    int                    `json:"offset"`
	SortBy    string                 `json:"sort_by"`    // "created_at", "title", "due_at"
	SortOrder string                 `json:"sort_order"` // "asc", "desc"
}

type AttemptFilters struct {
	AssessmentID *uint                 `json:"assessment_id"`
	Status       *models.AttemptStatus `json:"status"`
	DateFrom     *time.Time            `json:"date_from"`
	DateTo       *time.Time            `json:"date_to"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
	SortBy       string                `json:"sort_by"`    // "started_at", "submitted_at"
	SortOrder    string                `json:"sort_order"` // "asc", "desc"
}

type AttemptStats struct {
	TotalAttempts    int64            `json:"total_attempts"`
	StatusBreakdown  map[string]int64 `json:"status_breakdown"`
	AverageScore     float64          `json:"average_score"`
	AverageTimeSpent float64          `json:"average_time_spent"`
	PassRate         float64          `json:"pass_rate"`
	CompletionRate   float64          `json:"completion_rate"`
}

// ===== ASSESSMENT REPOSITORY =====

type AssessmentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, assessment *models.Assessment) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Assessment, error)
	// GetByIDWithQuestions loads the assessment with its questions and
	// options ordered by question position.
	GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Assessment, error)
	List(ctx context.Context, tx *gorm.DB, filters AssessmentFilters) ([]models.Assessment, int64, error)
	Update(ctx context.Context, tx *gorm.DB, assessment *models.Assessment) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
}

// ===== ATTEMPT REPOSITORY =====

type AttemptRepository interface {
	// Create persists a new attempt. A partial unique index on
	// (learner_id, assessment_id) for in_progress rows makes a
	// concurrent duplicate surface as gorm.ErrDuplicatedKey.
	Create(ctx context.Context, tx *gorm.DB, attempt *models.AssessmentAttempt) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.AssessmentAttempt, error)
	GetByIDWithResult(ctx context.Context, tx *gorm.DB, id uint) (*models.AssessmentAttempt, error)
	// FindActive returns the learner's in_progress attempt for the
	// assessment, or gorm.ErrRecordNotFound when there is none.
	FindActive(ctx context.Context, tx *gorm.DB, learnerID string, assessmentID uint) (*models.AssessmentAttempt, error)
	// CountByLearner counts every attempt the learner has created for
	// the assessment regardless of status.
	CountByLearner(ctx context.Context, tx *gorm.DB, learnerID string, assessmentID uint) (int64, error)
	// Finalize moves the attempt out of in_progress with a status guard
	// and reports whether this call won the transition. A false return
	// means another request finalized the attempt first.
	Finalize(ctx context.Context, tx *gorm.DB, attemptID uint, status models.AttemptStatus, submittedAt time.Time) (bool, error)
	ListByLearner(ctx context.Context, tx *gorm.DB, learnerID string, filters AttemptFilters) ([]models.AssessmentAttempt, int64, error)
	// GetExpiredInProgress returns in_progress attempts whose deadline
	// passed before the cutoff, for the background sweep.
	GetExpiredInProgress(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]models.AssessmentAttempt, error)
	GetAssessmentStats(ctx context.Context, tx *gorm.DB, assessmentID uint) (*AttemptStats, error)
}

// ===== ANSWER REPOSITORY =====

type AnswerRepository interface {
	// UpsertStaged stores or overwrites the staged choice for one
	// question of an active attempt.
	UpsertStaged(ctx context.Context, tx *gorm.DB, answer *models.StagedAnswer) error
	GetStagedByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]models.StagedAnswer, error)
	// CreateRecords writes the immutable per-question outcomes. Records
	// are never updated after this call.
	CreateRecords(ctx context.Context, tx *gorm.DB, records []models.AnswerRecord) error
	GetRecordsByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]models.AnswerRecord, error)
}

// ===== RESULT REPOSITORY =====

type ResultRepository interface {
	Create(ctx context.Context, tx *gorm.DB, result *models.AttemptResult) error
	GetByAttemptID(ctx context.Context, tx *gorm.DB, attemptID uint) (*models.AttemptResult, error)
	ListByAssessment(ctx context.Context, tx *gorm.DB, assessmentID uint) ([]models.AttemptResult, error)
}
