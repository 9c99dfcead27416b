package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/edustack/assessment-engine/internal/events"
	"github.com/edustack/assessment-engine/internal/models"
	"github.com/edustack/assessment-engine/internal/repositories"
	"github.com/edustack/assessment-engine/internal/timing"
	"github.com/edustack/assessment-engine/internal/validator"
)

// startRetries bounds the resume-or-create loop when concurrent starts
// race on the active-attempt unique index
const startRetries = 3

type attemptService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	grading   GradingService
	publisher events.EventPublisher
	clock     timing.Clock
}

func NewAttemptService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, grading GradingService, publisher events.EventPublisher, clock timing.Clock) AttemptService {
	return &attemptService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		grading:   grading,
		publisher: publisher,
		clock:     clock,
	}
}

// ===== CORE ATTEMPT OPERATIONS =====

// StartOrResume returns the learner's live attempt for the assessment,
// creating one only when none exists. Two concurrent calls converge on
// the same attempt: the loser of the insert race re-reads the winner's
// row instead of failing.
func (s *attemptService) StartOrResume(ctx context.Context, req *StartAttemptRequest, learnerID string) (*AttemptResponse, error) {
	s.logger.Info("Starting or resuming attempt",
		"assessment_id", req.AssessmentID,
		"learner_id", learnerID)

	// Validate request
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	assessment, err := s.repo.Assessment().GetByIDWithQuestions(ctx, s.db, req.AssessmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	for i := 0; i < startRetries; i++ {
		now := s.clock.Now()

		active, err := s.repo.Attempt().FindActive(ctx, nil, learnerID, req.AssessmentID)
		if err != nil && !repositories.IsNotFoundError(err) {
			return nil, fmt.Errorf("failed to find active attempt: %w", err)
		}

		if active != nil && err == nil {
			if !timing.IsExpired(active.ExpiresAt, now) {
				s.logger.Info("Resuming existing attempt",
					"attempt_id", active.ID,
					"learner_id", learnerID)
				return s.buildAttemptResponse(ctx, active, assessment, true)
			}

			// The stale attempt is finalized as expired before
			// eligibility for a fresh one is checked
			if err := s.HandleTimeout(ctx, active.ID); err != nil {
				return nil, fmt.Errorf("failed to expire stale attempt: %w", err)
			}
			continue
		}

		// No live attempt, check start eligibility
		if assessment.DueAt != nil && now.After(*assessment.DueAt) {
			return nil, ErrAssessmentLocked
		}

		count, err := s.repo.Attempt().CountByLearner(ctx, nil, learnerID, req.AssessmentID)
		if err != nil {
			return nil, fmt.Errorf("failed to count attempts: %w", err)
		}
		if assessment.MaxAttempts != nil && count >= int64(*assessment.MaxAttempts) {
			return nil, ErrAttemptLimitExceeded
		}

		attempt := &models.AssessmentAttempt{
			AssessmentID:    req.AssessmentID,
			LearnerID:       learnerID,
			AttemptSequence: int(count) + 1,
			Status:          models.AttemptStatusInProgress,
			StartedAt:       now,
			ExpiresAt:       timing.ComputeExpiry(now, assessment.TimeLimitSeconds),
		}

		if err := s.repo.Attempt().Create(ctx, nil, attempt); err != nil {
			if repositories.IsDuplicateKeyError(err) {
				// A concurrent start won the insert, loop and resume it
				s.logger.Info("Concurrent start detected, resuming winner",
					"assessment_id", req.AssessmentID,
					"learner_id", learnerID)
				continue
			}
			return nil, fmt.Errorf("failed to create attempt: %w", err)
		}

		s.logger.Info("Attempt started",
			"attempt_id", attempt.ID,
			"assessment_id", req.AssessmentID,
			"learner_id", learnerID,
			"attempt_sequence", attempt.AttemptSequence,
			"expires_at", attempt.ExpiresAt)

		s.publishEvent(ctx, events.NewEvent(events.TypeAttemptStarted, events.AttemptStartedEvent{
			AttemptID:       attempt.ID,
			AssessmentID:    attempt.AssessmentID,
			LearnerID:       attempt.LearnerID,
			AttemptSequence: attempt.AttemptSequence,
			StartedAt:       attempt.StartedAt,
			ExpiresAt:       attempt.ExpiresAt,
		}))

		return s.buildAttemptResponse(ctx, attempt, assessment, false)
	}

	return nil, fmt.Errorf("could not start or resume attempt after %d tries", startRetries)
}

// StageAnswer stores a provisional choice. Re-staging the same question
// overwrites, a nil option id clears the choice.
func (s *attemptService) StageAnswer(ctx context.Context, attemptID uint, req *StageAnswerRequest, learnerID string) error {
	// Validate request
	if err := s.validator.Validate(req); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	attempt, err := s.getOwnedAttempt(ctx, attemptID, learnerID, "stage_answer")
	if err != nil {
		return err
	}

	if attempt.Status != models.AttemptStatusInProgress {
		return ErrAttemptNotActive
	}

	// An overdue attempt stops accepting answers even before the sweep
	// has finalized it
	if timing.IsExpired(attempt.ExpiresAt, s.clock.Now()) {
		if err := s.HandleTimeout(ctx, attemptID); err != nil {
			s.logger.Error("Failed to expire overdue attempt", "attempt_id", attemptID, "error", err)
		}
		return ErrAttemptNotActive
	}

	assessment, err := s.repo.Assessment().GetByIDWithQuestions(ctx, s.db, attempt.AssessmentID)
	if err != nil {
		return fmt.Errorf("failed to get assessment: %w", err)
	}

	if err := validateStagedChoice(assessment, req.QuestionID, req.SelectedOptionID); err != nil {
		return err
	}

	staged := &models.StagedAnswer{
		AttemptID:        attemptID,
		QuestionID:       req.QuestionID,
		SelectedOptionID: req.SelectedOptionID,
	}
	if err := s.repo.Answer().UpsertStaged(ctx, nil, staged); err != nil {
		return fmt.Errorf("failed to stage answer: %w", err)
	}

	return nil
}

// Submit finalizes the attempt and grades the staged answers. It is
// idempotent: once an attempt has left in_progress every further call
// returns the stored result unchanged.
func (s *attemptService) Submit(ctx context.Context, attemptID uint, learnerID string) (*ResultResponse, error) {
	s.logger.Info("Submitting attempt",
		"attempt_id", attemptID,
		"learner_id", learnerID)

	attempt, err := s.getOwnedAttempt(ctx, attemptID, learnerID, "submit")
	if err != nil {
		return nil, err
	}

	if attempt.Status != models.AttemptStatusInProgress {
		// Already finalized, return the stored result
		return s.GetResult(ctx, attemptID, learnerID)
	}

	// A submit landing past the deadline takes the expiry path: the
	// attempt is finalized as expired at its deadline and the stored
	// result is returned with the same shape as an on-time submit.
	if timing.IsExpired(attempt.ExpiresAt, s.clock.Now()) {
		if err := s.HandleTimeout(ctx, attemptID); err != nil {
			return nil, err
		}
		return s.GetResult(ctx, attemptID, learnerID)
	}

	// The effective submission instant never passes the deadline
	submittedAt := timing.ClampSubmission(s.clock.Now(), attempt.ExpiresAt)

	result, won, err := s.finalizeAttempt(ctx, attempt, models.AttemptStatusSubmitted, submittedAt)
	if err != nil {
		return nil, err
	}
	if !won {
		// A concurrent submit or the expiry sweep finalized first. The
		// winner's transaction has committed, its result is readable.
		s.logger.Info("Submit lost finalization race, returning stored result",
			"attempt_id", attemptID)
		return s.GetResult(ctx, attemptID, learnerID)
	}

	s.logger.Info("Attempt submitted",
		"attempt_id", attemptID,
		"learner_id", learnerID,
		"raw_score", result.RawScore,
		"percentage", result.Percentage,
		"passed", result.Passed)

	s.publishEvent(ctx, events.NewEvent(events.TypeAttemptSubmitted, events.AttemptFinalizedEvent{
		AttemptID:        attempt.ID,
		AssessmentID:     attempt.AssessmentID,
		LearnerID:        attempt.LearnerID,
		Status:           string(models.AttemptStatusSubmitted),
		SubmittedAt:      submittedAt,
		RawScore:         result.RawScore,
		Percentage:       result.Percentage,
		Passed:           result.Passed,
		TimeTakenSeconds: result.TimeTakenSeconds,
	}))

	return buildResultResponse(result, models.AttemptStatusSubmitted)
}

// HandleTimeout finalizes an overdue attempt as expired, grading the
// answers staged so far. Losing the race to a concurrent submit is a
// no-op.
func (s *attemptService) HandleTimeout(ctx context.Context, attemptID uint) error {
	attempt, err := s.repo.Attempt().GetByID(ctx, s.db, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("failed to get attempt: %w", err)
	}

	if attempt.Status != models.AttemptStatusInProgress {
		return nil
	}
	if !timing.IsExpired(attempt.ExpiresAt, s.clock.Now()) {
		return nil
	}

	// An expired attempt is recorded as ending exactly at its deadline
	result, won, err := s.finalizeAttempt(ctx, attempt, models.AttemptStatusExpired, attempt.ExpiresAt)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	s.logger.Info("Attempt expired",
		"attempt_id", attemptID,
		"learner_id", attempt.LearnerID,
		"percentage", result.Percentage)

	s.publishEvent(ctx, events.NewEvent(events.TypeAttemptExpired, events.AttemptFinalizedEvent{
		AttemptID:        attempt.ID,
		AssessmentID:     attempt.AssessmentID,
		LearnerID:        attempt.LearnerID,
		Status:           string(models.AttemptStatusExpired),
		SubmittedAt:      attempt.ExpiresAt,
		RawScore:         result.RawScore,
		Percentage:       result.Percentage,
		Passed:           result.Passed,
		TimeTakenSeconds: result.TimeTakenSeconds,
	}))

	return nil
}

// finalizeAttempt runs the status transition, grading, and result
// persistence in one transaction. The returned flag reports whether
// this call won the transition, when false nothing was written.
func (s *attemptService) finalizeAttempt(ctx context.Context, attempt *models.AssessmentAttempt, status models.AttemptStatus, submittedAt time.Time) (*models.AttemptResult, bool, error) {
	assessment, err := s.repo.Assessment().GetByIDWithQuestions(ctx, s.db, attempt.AssessmentID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get assessment: %w", err)
	}

	var result *models.AttemptResult
	won := false
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		won, err = txRepo.Attempt().Finalize(ctx, nil, attempt.ID, status, submittedAt)
		if err != nil {
			return fmt.Errorf("failed to finalize attempt: %w", err)
		}
		if !won {
			return nil
		}

		staged, err := txRepo.Answer().GetStagedByAttempt(ctx, nil, attempt.ID)
		if err != nil {
			return fmt.Errorf("failed to load staged answers: %w", err)
		}

		outcome, err := s.grading.Grade(ctx, assessment, attempt.ID, staged)
		if err != nil {
			return fmt.Errorf("grading failed: %w", err)
		}

		if err := txRepo.Answer().CreateRecords(ctx, nil, outcome.Records); err != nil {
			return fmt.Errorf("failed to write answer records: %w", err)
		}

		result, err = buildAttemptResult(attempt, outcome, submittedAt)
		if err != nil {
			return err
		}
		if err := txRepo.Result().Create(ctx, nil, result); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return result, won, nil
}

// ===== GET OPERATIONS =====

func (s *attemptService) GetByID(ctx context.Context, attemptID uint, learnerID string) (*AttemptResponse, error) {
	attempt, err := s.getOwnedAttempt(ctx, attemptID, learnerID, "read")
	if err != nil {
		return nil, err
	}

	assessment, err := s.repo.Assessment().GetByIDWithQuestions(ctx, s.db, attempt.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	return s.buildAttemptResponse(ctx, attempt, assessment, attempt.Status == models.AttemptStatusInProgress)
}

func (s *attemptService) GetResult(ctx context.Context, attemptID uint, learnerID string) (*ResultResponse, error) {
	attempt, err := s.getOwnedAttempt(ctx, attemptID, learnerID, "read_result")
	if err != nil {
		return nil, err
	}

	if attempt.Status == models.AttemptStatusInProgress {
		return nil, ErrAttemptNotFinished
	}

	result, err := s.repo.Result().GetByAttemptID(ctx, s.db, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	return buildResultResponse(result, attempt.Status)
}

// ===== LIST OPERATIONS =====

func (s *attemptService) ListByLearner(ctx context.Context, learnerID string, filters repositories.AttemptFilters) (*AttemptListResponse, error) {
	attempts, total, err := s.repo.Attempt().ListByLearner(ctx, s.db, learnerID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	now := s.clock.Now()
	responses := make([]*AttemptResponse, len(attempts))
	for i := range attempts {
		attempt := attempts[i]
		responses[i] = &AttemptResponse{
			AssessmentAttempt: &attempt,
			SecondsRemaining:  remainingFor(&attempt, now),
			CanSubmit:         attempt.Status == models.AttemptStatusInProgress,
		}
	}

	page := 1
	if filters.Limit > 0 {
		page = filters.Offset/filters.Limit + 1
	}

	return &AttemptListResponse{
		Attempts: responses,
		Total:    total,
		Page:     page,
		Size:     len(responses),
	}, nil
}

// ===== TIME MANAGEMENT =====

func (s *attemptService) GetTimeRemaining(ctx context.Context, attemptID uint, learnerID string) (int, error) {
	attempt, err := s.getOwnedAttempt(ctx, attemptID, learnerID, "get_time_remaining")
	if err != nil {
		return 0, err
	}

	if attempt.Status != models.AttemptStatusInProgress {
		return 0, nil
	}

	return timing.SecondsRemaining(attempt.ExpiresAt, s.clock.Now()), nil
}

// ===== VALIDATION =====

func (s *attemptService) CanStart(ctx context.Context, assessmentID uint, learnerID string) (bool, error) {
	assessment, err := s.repo.Assessment().GetByID(ctx, s.db, assessmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, ErrAssessmentNotFound
		}
		return false, fmt.Errorf("failed to get assessment: %w", err)
	}

	count, err := s.repo.Attempt().CountByLearner(ctx, s.db, learnerID, assessmentID)
	if err != nil {
		return false, fmt.Errorf("failed to count attempts: %w", err)
	}

	verrs := s.validator.GetBusinessValidator().ValidateAttemptStart(assessment.DueAt, int(count), assessment.MaxAttempts)
	return !verrs.HasErrors(), nil
}

func (s *attemptService) GetAttemptCount(ctx context.Context, assessmentID uint, learnerID string) (int, error) {
	count, err := s.repo.Attempt().CountByLearner(ctx, s.db, learnerID, assessmentID)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return int(count), nil
}

// ===== INTERNAL HELPERS =====

func (s *attemptService) getOwnedAttempt(ctx context.Context, attemptID uint, learnerID, action string) (*models.AssessmentAttempt, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, s.db, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	if attempt.LearnerID != learnerID {
		return nil, NewPermissionError(learnerID, attemptID, "attempt", action, "not owned by learner")
	}

	return attempt, nil
}

func (s *attemptService) publishEvent(ctx context.Context, event *events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish event",
			"event_type", event.Type,
			"error", err)
	}
}

func remainingFor(attempt *models.AssessmentAttempt, now time.Time) int {
	if attempt.Status != models.AttemptStatusInProgress {
		return 0
	}
	return timing.SecondsRemaining(attempt.ExpiresAt, now)
}

// validateStagedChoice checks the question belongs to the assessment
// and the chosen option belongs to the question
func validateStagedChoice(assessment *models.Assessment, questionID uint, selectedOptionID *uint) error {
	for i := range assessment.Questions {
		question := &assessment.Questions[i]
		if question.ID != questionID {
			continue
		}
		if selectedOptionID == nil {
			return nil
		}
		for j := range question.Options {
			if question.Options[j].ID == *selectedOptionID {
				return nil
			}
		}
		return ErrOptionNotInQuestion
	}
	return ErrQuestionNotInAssessment
}
