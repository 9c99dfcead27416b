package services

import (
	"context"
	"log/slog"
	"math"

	"github.com/edustack/assessment-engine/internal/models"
)

type gradingService struct {
	logger *slog.Logger
}

func NewGradingService(logger *slog.Logger) GradingService {
	return &gradingService{
		logger: logger,
	}
}

// Grade evaluates the staged answers against the assessment's answer
// key. The walk follows the assessment's question order so review
// output is stable. Questions whose options carry zero or multiple
// correct flags are an authoring defect: they contribute zero delta,
// drop out of the gradable denominator, stay in the review list, and
// get logged. The learner outcome is never blocked by them.
func (s *gradingService) Grade(ctx context.Context, assessment *models.Assessment, attemptID uint, staged []models.StagedAnswer) (*GradeOutcome, error) {
	stagedByQuestion := make(map[uint]*models.StagedAnswer, len(staged))
	for i := range staged {
		stagedByQuestion[staged[i].QuestionID] = &staged[i]
	}

	outcome := &GradeOutcome{
		TotalQuestions: len(assessment.Questions),
		PassMark:       assessment.PassingScorePercent,
		Review:         make([]models.ReviewItem, 0, len(assessment.Questions)),
		Records:        make([]models.AnswerRecord, 0, len(assessment.Questions)),
	}

	gradableCount := 0
	rawScore := 0.0

	for i := range assessment.Questions {
		question := &assessment.Questions[i]
		correctOptionID := question.CorrectOptionID()

		var selectedOptionID *uint
		if sa, ok := stagedByQuestion[question.ID]; ok {
			selectedOptionID = sa.SelectedOptionID
		}
		attempted := selectedOptionID != nil

		if correctOptionID == nil {
			// Authoring defect, counted nowhere but still reviewable
			outcome.InconsistentQuestionIDs = append(outcome.InconsistentQuestionIDs, question.ID)
			s.logger.Warn("Question has zero or multiple correct options, excluded from grading",
				"attempt_id", attemptID,
				"assessment_id", assessment.ID,
				"question_id", question.ID)

			outcome.Review = append(outcome.Review, models.ReviewItem{
				QuestionID:       question.ID,
				SelectedOptionID: selectedOptionID,
				CorrectOptionID:  nil,
				Attempted:        attempted,
				IsCorrect:        false,
				ScoreDelta:       0,
			})
			outcome.Records = append(outcome.Records, models.AnswerRecord{
				AttemptID:        attemptID,
				QuestionID:       question.ID,
				SelectedOptionID: selectedOptionID,
				IsCorrect:        false,
				ScoreDelta:       0,
			})
			continue
		}

		gradableCount++

		var delta float64
		var isCorrect bool
		switch {
		case !attempted:
			outcome.SkippedCount++
			delta = 0
		case *selectedOptionID == *correctOptionID:
			outcome.AttemptedCount++
			outcome.CorrectCount++
			isCorrect = true
			delta = 1
		default:
			outcome.AttemptedCount++
			outcome.IncorrectCount++
			delta = -assessment.NegativeMarkingWeight
		}
		rawScore += delta

		outcome.Review = append(outcome.Review, models.ReviewItem{
			QuestionID:       question.ID,
			SelectedOptionID: selectedOptionID,
			CorrectOptionID:  correctOptionID,
			Attempted:        attempted,
			IsCorrect:        isCorrect,
			ScoreDelta:       delta,
		})
		outcome.Records = append(outcome.Records, models.AnswerRecord{
			AttemptID:        attemptID,
			QuestionID:       question.ID,
			SelectedOptionID: selectedOptionID,
			IsCorrect:        isCorrect,
			ScoreDelta:       delta,
		})
	}

	// Negative totals clamp at zero unless the assessment opts out.
	// When it has opted out, the percentage below keeps the raw
	// score's sign and can go negative.
	if rawScore < 0 && !assessment.AllowNegativeTotal {
		rawScore = 0
	}
	outcome.RawScore = rawScore

	if gradableCount > 0 {
		outcome.Percentage = roundPercent(rawScore / float64(gradableCount) * 100)
	}
	outcome.Passed = outcome.Percentage >= assessment.PassingScorePercent

	return outcome, nil
}

// roundPercent rounds to two decimal places
func roundPercent(value float64) float64 {
	return math.Round(value*100) / 100
}
