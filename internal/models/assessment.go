package models

import (
	"time"
)

type AssessmentKind string

const (
	KindQuiz AssessmentKind = "quiz"
	KindExam AssessmentKind = "exam"
)

// Assessment definitions are authored by an external service and are
// read-only here. The engine never mutates them while attempts exist.
type Assessment struct {
	ID                  uint           `json:"id" gorm:"primaryKey"`
	Title               string         `json:"title" gorm:"not null;size:200;index" validate:"required,min=1,max=200"`
	Kind                AssessmentKind `json:"kind" gorm:"default:quiz;index" validate:"omitempty,oneof=quiz exam"`
	TimeLimitSeconds    int            `json:"time_limit_seconds" gorm:"not null" validate:"required,min=30,max=18000"`
	PassingScorePercent float64        `json:"passing_score_percent" gorm:"not null" validate:"min=0,max=100"`
	MaxAttempts         *int           `json:"max_attempts" validate:"omitempty,min=1,max=10"` // nil = unlimited
	DueAt               *time.Time     `json:"due_at"`

	// Scoring policy
	NegativeMarkingWeight float64 `json:"negative_marking_weight" gorm:"default:0" validate:"min=0"`
	AllowNegativeTotal    bool    `json:"allow_negative_total" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Questions []Question          `json:"questions" gorm:"foreignKey:AssessmentID"`
	Attempts  []AssessmentAttempt `json:"-" gorm:"foreignKey:AssessmentID"`
}

type DifficultyLevel string

const (
	DifficultyEasy   DifficultyLevel = "easy"
	DifficultyMedium DifficultyLevel = "medium"
	DifficultyHard   DifficultyLevel = "hard"
)

type Question struct {
	ID           uint `json:"id" gorm:"primaryKey"`
	AssessmentID uint `json:"assessment_id" gorm:"not null;index"`

	// Bilingual prompt
	TextEn string `json:"text_en" gorm:"type:text;not null" validate:"required"`
	TextAr string `json:"text_ar" gorm:"type:text"`

	Difficulty DifficultyLevel `json:"difficulty" gorm:"default:medium;index"`
	Order      int             `json:"order" gorm:"column:position;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Options []QuestionOption `json:"options" gorm:"foreignKey:QuestionID"`
}

type QuestionOption struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	QuestionID uint `json:"question_id" gorm:"not null;index"`

	Label  string `json:"label" gorm:"size:10"` // "A", "B", ...
	TextEn string `json:"text_en" gorm:"type:text;not null"`
	TextAr string `json:"text_ar" gorm:"type:text"`
	Order  int    `json:"order" gorm:"column:position;default:0"`

	// Exactly-one-correct per question is an authoring-time invariant.
	// Grading tolerates violations, see the grading engine.
	IsCorrect bool `json:"is_correct" gorm:"not null;default:false"`
}

// CorrectOptionID returns the id of the single option flagged correct,
// or nil when zero or more than one option is flagged (authoring defect).
func (q *Question) CorrectOptionID() *uint {
	var found *uint
	for i := range q.Options {
		if q.Options[i].IsCorrect {
			if found != nil {
				return nil
			}
			found = &q.Options[i].ID
		}
	}
	return found
}

func (Assessment) TableName() string {
	return "assessments"
}

func (Question) TableName() string {
	return "questions"
}

func (QuestionOption) TableName() string {
	return "question_options"
}
