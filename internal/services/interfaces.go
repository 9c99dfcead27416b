package services

import (
	"context"

	"github.com/edustack/assessment-engine/internal/models"
	"github.com/edustack/assessment-engine/internal/repositories"
	"github.com/edustack/assessment-engine/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use business validator types
type CreateAssessmentRequest = validator.AssessmentCreateRequest
type UpdateAssessmentRequest = validator.AssessmentUpdateRequest

type AssessmentResponse struct {
	*models.Assessment
	QuestionCount int  `json:"question_count"`
	IsLocked      bool `json:"is_locked"`
}

type AssessmentListResponse struct {
	Assessments []*AssessmentResponse `json:"assessments"`
	Total       int64                 `json:"total"`
	Page        int                   `json:"page"`
	Size        int                   `json:"size"`
}

// ===== ATTEMPT RELATED DTOs =====

type StartAttemptRequest struct {
	AssessmentID uint `json:"assessment_id" validate:"required"`
}

type StageAnswerRequest struct {
	QuestionID       uint  `json:"question_id" validate:"required"`
	SelectedOptionID *uint `json:"selected_option_id"`
}

type AttemptResponse struct {
	*models.AssessmentAttempt
	SecondsRemaining int  `json:"seconds_remaining"`
	Resumed          bool `json:"resumed"`
	CanSubmit        bool `json:"can_submit"`

	Questions []QuestionForAttempt `json:"questions,omitempty"`
}

// QuestionForAttempt is a question as shown to the learner. Correct
// option flags never leave the server.
type QuestionForAttempt struct {
	ID           uint               `json:"id"`
	TextEn       string             `json:"text_en"`
	TextAr       string             `json:"text_ar,omitempty"`
	Order        int                `json:"order"`
	Options      []OptionForAttempt `json:"options"`
	StagedAnswer *uint              `json:"staged_answer,omitempty"`
}

type OptionForAttempt struct {
	ID     uint   `json:"id"`
	Label  string `json:"label"`
	TextEn string `json:"text_en"`
	TextAr string `json:"text_ar,omitempty"`
}

type AttemptListResponse struct {
	Attempts []*AttemptResponse `json:"attempts"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	Size     int                `json:"size"`
}

type ResultResponse struct {
	*models.AttemptResult
	AttemptStatus models.AttemptStatus `json:"attempt_status"`
	Review        []models.ReviewItem  `json:"review_items"`
}

// ===== GRADING RELATED DTOs =====

// GradeOutcome is the output of grading one attempt snapshot.
type GradeOutcome struct {
	TotalQuestions int                   `json:"total_questions"`
	AttemptedCount int                   `json:"attempted_count"`
	CorrectCount   int                   `json:"correct_count"`
	IncorrectCount int                   `json:"incorrect_count"`
	SkippedCount   int                   `json:"skipped_count"`
	RawScore       float64               `json:"raw_score"`
	Percentage     float64               `json:"percentage"`
	PassMark       float64               `json:"pass_mark"`
	Passed         bool                  `json:"passed"`
	Review         []models.ReviewItem   `json:"review"`
	Records        []models.AnswerRecord `json:"-"`

	// Question IDs with zero or multiple correct options. They are
	// excluded from the gradable denominator and contribute zero delta.
	InconsistentQuestionIDs []uint `json:"-"`
}

// ===== SERVICE INTERFACES =====

type AssessmentService interface {
	// Core CRUD operations
	Create(ctx context.Context, req *CreateAssessmentRequest) (*AssessmentResponse, error)
	GetByID(ctx context.Context, id uint) (*AssessmentResponse, error)
	Update(ctx context.Context, id uint, req *UpdateAssessmentRequest) (*AssessmentResponse, error)
	Delete(ctx context.Context, id uint) error

	// List operations
	List(ctx context.Context, filters repositories.AssessmentFilters) (*AssessmentListResponse, error)

	// Statistics
	GetStats(ctx context.Context, id uint) (*repositories.AttemptStats, error)
}

type AttemptService interface {
	// Core attempt operations
	StartOrResume(ctx context.Context, req *StartAttemptRequest, learnerID string) (*AttemptResponse, error)
	StageAnswer(ctx context.Context, attemptID uint, req *StageAnswerRequest, learnerID string) error
	Submit(ctx context.Context, attemptID uint, learnerID string) (*ResultResponse, error)

	// Get operations
	GetByID(ctx context.Context, attemptID uint, learnerID string) (*AttemptResponse, error)
	GetResult(ctx context.Context, attemptID uint, learnerID string) (*ResultResponse, error)

	// List operations
	ListByLearner(ctx context.Context, learnerID string, filters repositories.AttemptFilters) (*AttemptListResponse, error)

	// Time management
	GetTimeRemaining(ctx context.Context, attemptID uint, learnerID string) (int, error) // seconds
	// HandleTimeout finalizes an overdue attempt as expired, grading
	// whatever answers were staged. Safe to call concurrently with a
	// learner submit, exactly one side wins.
	HandleTimeout(ctx context.Context, attemptID uint) error

	// Validation
	CanStart(ctx context.Context, assessmentID uint, learnerID string) (bool, error)
	GetAttemptCount(ctx context.Context, assessmentID uint, learnerID string) (int, error)
}

type GradingService interface {
	// Grade evaluates a staged answer set against the assessment's
	// answer key. It is deterministic, the same snapshot always yields
	// the same outcome.
	Grade(ctx context.Context, assessment *models.Assessment, attemptID uint, staged []models.StagedAnswer) (*GradeOutcome, error)
}

type ReportService interface {
	// ExportAssessmentResults renders all finalized results for an
	// assessment as an XLSX workbook.
	ExportAssessmentResults(ctx context.Context, assessmentID uint) ([]byte, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	// Core service getters
	Assessment() AssessmentService
	Attempt() AttemptService
	Grading() GradingService
	Report() ReportService
	Sweep() *SweepService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
