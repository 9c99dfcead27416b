package validator

import (
	"time"

	"github.com/edustack/assessment-engine/internal/models"
)

// AssessmentCreateRequest represents the request structure for creating assessments
type AssessmentCreateRequest struct {
	Title                 string                  `json:"title" validate:"required,assessment_title"`
	Kind                  models.AssessmentKind   `json:"kind" validate:"omitempty,oneof=quiz exam"`
	TimeLimitSeconds      int                     `json:"time_limit_seconds" validate:"required,time_limit_seconds"`
	PassingScorePercent   float64                 `json:"passing_score_percent" validate:"passing_score"`
	MaxAttempts           *int                    `json:"max_attempts" validate:"omitempty,max_attempts"`
	DueAt                 *time.Time              `json:"due_at" validate:"omitempty,future_date"`
	NegativeMarkingWeight float64                 `json:"negative_marking_weight" validate:"min=0,max=1"`
	AllowNegativeTotal    bool                    `json:"allow_negative_total"`
	Questions             []QuestionCreateRequest `json:"questions" validate:"omitempty,dive"`
}

// AssessmentUpdateRequest represents the request structure for updating assessments
type AssessmentUpdateRequest struct {
	Title                 *string    `json:"title" validate:"omitempty,assessment_title"`
	TimeLimitSeconds      *int       `json:"time_limit_seconds" validate:"omitempty,time_limit_seconds"`
	PassingScorePercent   *float64   `json:"passing_score_percent" validate:"omitempty,passing_score"`
	MaxAttempts           *int       `json:"max_attempts" validate:"omitempty,max_attempts"`
	DueAt                 *time.Time `json:"due_at" validate:"omitempty,future_date"`
	NegativeMarkingWeight *float64   `json:"negative_marking_weight" validate:"omitempty,min=0,max=1"`
	AllowNegativeTotal    *bool      `json:"allow_negative_total"`
}

// QuestionCreateRequest represents one question in an assessment create request
type QuestionCreateRequest struct {
	TextEn     string                  `json:"text_en" validate:"required,max=2000"`
	TextAr     string                  `json:"text_ar" validate:"omitempty,max=2000"`
	Difficulty models.DifficultyLevel  `json:"difficulty" validate:"omitempty,difficulty_level"`
	Order      int                     `json:"order" validate:"min=0"`
	Options    []OptionCreateRequest   `json:"options" validate:"required,min=2,max=8,dive"`
}

// OptionCreateRequest represents one option of a question
type OptionCreateRequest struct {
	Label     string `json:"label" validate:"omitempty,max=10"`
	TextEn    string `json:"text_en" validate:"required,max=1000"`
	TextAr    string `json:"text_ar" validate:"omitempty,max=1000"`
	Order     int    `json:"order" validate:"min=0"`
	IsCorrect bool   `json:"is_correct"`
}
