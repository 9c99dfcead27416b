package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/edustack/assessment-engine/internal/models"
	"github.com/edustack/assessment-engine/internal/timing"
)

// buildAttemptResponse assembles the learner-facing view of an attempt.
// Questions carry no correctness flags, the answer key never leaves the
// server while an attempt can still be taken.
func (s *attemptService) buildAttemptResponse(ctx context.Context, attempt *models.AssessmentAttempt, assessment *models.Assessment, resumed bool) (*AttemptResponse, error) {
	staged, err := s.repo.Answer().GetStagedByAttempt(ctx, s.db, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load staged answers: %w", err)
	}

	stagedByQuestion := make(map[uint]*uint, len(staged))
	for i := range staged {
		stagedByQuestion[staged[i].QuestionID] = staged[i].SelectedOptionID
	}

	questions := make([]QuestionForAttempt, 0, len(assessment.Questions))
	for i := range assessment.Questions {
		q := &assessment.Questions[i]
		options := make([]OptionForAttempt, 0, len(q.Options))
		for j := range q.Options {
			opt := &q.Options[j]
			options = append(options, OptionForAttempt{
				ID:     opt.ID,
				Label:  opt.Label,
				TextEn: opt.TextEn,
				TextAr: opt.TextAr,
			})
		}
		questions = append(questions, QuestionForAttempt{
			ID:           q.ID,
			TextEn:       q.TextEn,
			TextAr:       q.TextAr,
			Order:        q.Order,
			Options:      options,
			StagedAnswer: stagedByQuestion[q.ID],
		})
	}

	now := s.clock.Now()
	return &AttemptResponse{
		AssessmentAttempt: attempt,
		SecondsRemaining:  remainingFor(attempt, now),
		Resumed:           resumed,
		CanSubmit:         attempt.Status == models.AttemptStatusInProgress,
		Questions:         questions,
	}, nil
}

// buildAttemptResult converts a grade outcome into the persisted result
// row. Time taken is measured from start to the clamped submission
// instant and can never exceed the assessment time limit.
func buildAttemptResult(attempt *models.AssessmentAttempt, outcome *GradeOutcome, submittedAt time.Time) (*models.AttemptResult, error) {
	review, err := json.Marshal(outcome.Review)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal review: %w", err)
	}

	return &models.AttemptResult{
		AttemptID:        attempt.ID,
		TotalQuestions:   outcome.TotalQuestions,
		AttemptedCount:   outcome.AttemptedCount,
		CorrectCount:     outcome.CorrectCount,
		IncorrectCount:   outcome.IncorrectCount,
		SkippedCount:     outcome.SkippedCount,
		RawScore:         outcome.RawScore,
		Percentage:       outcome.Percentage,
		PassMark:         outcome.PassMark,
		Passed:           outcome.Passed,
		TimeTakenSeconds: timing.ElapsedSeconds(attempt.StartedAt, submittedAt),
		Review:           datatypes.JSON(review),
	}, nil
}

func buildResultResponse(result *models.AttemptResult, status models.AttemptStatus) (*ResultResponse, error) {
	var review []models.ReviewItem
	if len(result.Review) > 0 {
		if err := json.Unmarshal(result.Review, &review); err != nil {
			return nil, fmt.Errorf("failed to unmarshal review: %w", err)
		}
	}

	return &ResultResponse{
		AttemptResult: result,
		AttemptStatus: status,
		Review:        review,
	}, nil
}
