package models

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusSubmitted  AttemptStatus = "submitted"
	AttemptStatusExpired    AttemptStatus = "expired"
)

// AssessmentAttempt is one learner run at an assessment. StartedAt and
// ExpiresAt are fixed at creation and never change afterwards, resuming
// an attempt must not extend its window.
type AssessmentAttempt struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	AssessmentID uint   `json:"assessment_id" gorm:"not null;index:idx_attempts_learner_assessment"`
	LearnerID    string `json:"learner_id" gorm:"not null;size:64;index:idx_attempts_learner_assessment"`

	// 1-based position among this learner's attempts at this assessment
	AttemptSequence int `json:"attempt_sequence" gorm:"not null;default:1"`

	Status      AttemptStatus `json:"status" gorm:"default:in_progress;index"`
	StartedAt   time.Time     `json:"started_at" gorm:"not null"`
	ExpiresAt   time.Time     `json:"expires_at" gorm:"not null;index"`
	SubmittedAt *time.Time    `json:"submitted_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Assessment    *Assessment    `json:"assessment,omitempty" gorm:"foreignKey:AssessmentID"`
	StagedAnswers []StagedAnswer `json:"staged_answers,omitempty" gorm:"foreignKey:AttemptID"`
	Answers       []AnswerRecord `json:"answers,omitempty" gorm:"foreignKey:AttemptID"`
	Result        *AttemptResult `json:"result,omitempty" gorm:"foreignKey:AttemptID"`
}

// IsActive reports whether the attempt still accepts answer staging.
func (a *AssessmentAttempt) IsActive() bool {
	return a.Status == AttemptStatusInProgress
}

// StagedAnswer is a learner's provisional choice for one question while
// the attempt is in progress. Re-staging the same question overwrites
// the previous value. A nil SelectedOptionID clears the choice.
type StagedAnswer struct {
	ID               uint  `json:"id" gorm:"primaryKey"`
	AttemptID        uint  `json:"attempt_id" gorm:"not null;uniqueIndex:idx_staged_attempt_question"`
	QuestionID       uint  `json:"question_id" gorm:"not null;uniqueIndex:idx_staged_attempt_question"`
	SelectedOptionID *uint `json:"selected_option_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AnswerRecord is the immutable per-question outcome written exactly
// once at finalization. ScoreDelta is the question's contribution to
// the raw score: +1 correct, negative for an attempted wrong answer,
// 0 when skipped.
type AnswerRecord struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	AttemptID  uint `json:"attempt_id" gorm:"not null;uniqueIndex:idx_answers_attempt_question"`
	QuestionID uint `json:"question_id" gorm:"not null;uniqueIndex:idx_answers_attempt_question"`

	SelectedOptionID *uint   `json:"selected_option_id"`
	IsCorrect        bool    `json:"is_correct"`
	ScoreDelta       float64 `json:"score_delta"`

	CreatedAt time.Time `json:"created_at"`
}

// AttemptResult holds the finalized outcome of one attempt.
type AttemptResult struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	AttemptID uint `json:"attempt_id" gorm:"not null;uniqueIndex"`

	TotalQuestions   int     `json:"total_questions" gorm:"not null"`
	AttemptedCount   int     `json:"attempted_count" gorm:"not null"`
	CorrectCount     int     `json:"correct_count" gorm:"not null"`
	IncorrectCount   int     `json:"incorrect_count" gorm:"not null"`
	SkippedCount     int     `json:"skipped_count" gorm:"not null"`
	RawScore   float64 `json:"raw_score" gorm:"not null"`
	Percentage float64 `json:"percentage" gorm:"not null"`

	// PassMark is the passing threshold in effect when the attempt was
	// graded. Later edits to the assessment never change a stored
	// result's pass verdict.
	PassMark         float64 `json:"pass_mark" gorm:"not null"`
	Passed           bool    `json:"passed" gorm:"not null"`
	TimeTakenSeconds int     `json:"time_taken_seconds" gorm:"not null"`

	// Per-question breakdown in assessment question order
	Review datatypes.JSON `json:"review" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`

	// Relations
	Attempt *AssessmentAttempt `json:"-" gorm:"foreignKey:AttemptID"`
}

// ReviewItem is one entry of AttemptResult.Review. Attempted is false
// for a skipped question or a cleared choice.
type ReviewItem struct {
	QuestionID       uint    `json:"question_id"`
	SelectedOptionID *uint   `json:"selected_option_id"`
	CorrectOptionID  *uint   `json:"correct_option_id"`
	Attempted        bool    `json:"attempted"`
	IsCorrect        bool    `json:"is_correct"`
	ScoreDelta       float64 `json:"score_delta"`
}

func (AssessmentAttempt) TableName() string {
	return "assessment_attempts"
}

func (StagedAnswer) TableName() string {
	return "staged_answers"
}

func (AnswerRecord) TableName() string {
	return "answer_records"
}

func (AttemptResult) TableName() string {
	return "attempt_results"
}
