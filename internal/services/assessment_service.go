package services

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/edustack/assessment-engine/internal/models"
	"github.com/edustack/assessment-engine/internal/repositories"
	"github.com/edustack/assessment-engine/internal/timing"
	"github.com/edustack/assessment-engine/internal/validator"
)

type assessmentService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	clock     timing.Clock
}

func NewAssessmentService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, clock timing.Clock) AssessmentService {
	return &assessmentService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		clock:     clock,
	}
}

// ===== CORE CRUD OPERATIONS =====

func (s *assessmentService) Create(ctx context.Context, req *CreateAssessmentRequest) (*AssessmentResponse, error) {
	s.logger.Info("Creating assessment", "title", req.Title)

	if verrs := s.validator.GetBusinessValidator().ValidateAssessmentCreate(req); len(verrs) > 0 {
		return nil, verrs
	}

	assessment := &models.Assessment{
		Title:                 req.Title,
		Kind:                  req.Kind,
		TimeLimitSeconds:      req.TimeLimitSeconds,
		PassingScorePercent:   req.PassingScorePercent,
		MaxAttempts:           req.MaxAttempts,
		DueAt:                 req.DueAt,
		NegativeMarkingWeight: req.NegativeMarkingWeight,
		AllowNegativeTotal:    req.AllowNegativeTotal,
	}
	if assessment.Kind == "" {
		assessment.Kind = models.KindQuiz
	}

	for i, q := range req.Questions {
		question := models.Question{
			TextEn:     q.TextEn,
			TextAr:     q.TextAr,
			Difficulty: q.Difficulty,
			Order:      q.Order,
		}
		if question.Difficulty == "" {
			question.Difficulty = models.DifficultyMedium
		}
		if question.Order == 0 {
			question.Order = i
		}
		for j, opt := range q.Options {
			option := models.QuestionOption{
				Label:     opt.Label,
				TextEn:    opt.TextEn,
				TextAr:    opt.TextAr,
				Order:     opt.Order,
				IsCorrect: opt.IsCorrect,
			}
			if option.Order == 0 {
				option.Order = j
			}
			question.Options = append(question.Options, option)
		}
		assessment.Questions = append(assessment.Questions, question)
	}

	// Assessment, questions and options land together or not at all
	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		return txRepo.Assessment().Create(ctx, nil, assessment)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create assessment: %w", err)
	}

	s.logger.Info("Assessment created",
		"assessment_id", assessment.ID,
		"question_count", len(assessment.Questions))

	return s.buildResponse(assessment), nil
}

func (s *assessmentService) GetByID(ctx context.Context, id uint) (*AssessmentResponse, error) {
	assessment, err := s.repo.Assessment().GetByIDWithQuestions(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	return s.buildResponse(assessment), nil
}

func (s *assessmentService) Update(ctx context.Context, id uint, req *UpdateAssessmentRequest) (*AssessmentResponse, error) {
	s.logger.Info("Updating assessment", "assessment_id", id)

	assessment, err := s.repo.Assessment().GetByID(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	if verrs := s.validator.GetBusinessValidator().ValidateAssessmentUpdate(req, assessment); len(verrs) > 0 {
		return nil, verrs
	}

	if req.Title != nil {
		assessment.Title = *req.Title
	}
	if req.PassingScorePercent != nil {
		assessment.PassingScorePercent = *req.PassingScorePercent
	}
	if req.MaxAttempts != nil {
		assessment.MaxAttempts = req.MaxAttempts
	}
	if req.DueAt != nil {
		assessment.DueAt = req.DueAt
	}
	if req.NegativeMarkingWeight != nil {
		assessment.NegativeMarkingWeight = *req.NegativeMarkingWeight
	}
	if req.AllowNegativeTotal != nil {
		assessment.AllowNegativeTotal = *req.AllowNegativeTotal
	}

	if err := s.repo.Assessment().Update(ctx, nil, assessment); err != nil {
		return nil, fmt.Errorf("failed to update assessment: %w", err)
	}

	return s.buildResponse(assessment), nil
}

func (s *assessmentService) Delete(ctx context.Context, id uint) error {
	s.logger.Info("Deleting assessment", "assessment_id", id)

	if _, err := s.repo.Assessment().GetByID(ctx, s.db, id); err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAssessmentNotFound
		}
		return fmt.Errorf("failed to get assessment: %w", err)
	}

	if err := s.repo.Assessment().Delete(ctx, nil, id); err != nil {
		return fmt.Errorf("failed to delete assessment: %w", err)
	}

	return nil
}

// ===== LIST OPERATIONS =====

func (s *assessmentService) List(ctx context.Context, filters repositories.AssessmentFilters) (*AssessmentListResponse, error) {
	assessments, total, err := s.repo.Assessment().List(ctx, s.db, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}

	responses := make([]*AssessmentResponse, len(assessments))
	for i := range assessments {
		responses[i] = s.buildResponse(&assessments[i])
	}

	page := 1
	if filters.Limit > 0 {
		page = filters.Offset/filters.Limit + 1
	}

	return &AssessmentListResponse{
		Assessments: responses,
		Total:       total,
		Page:        page,
		Size:        len(responses),
	}, nil
}

// ===== STATISTICS =====

func (s *assessmentService) GetStats(ctx context.Context, id uint) (*repositories.AttemptStats, error) {
	if _, err := s.repo.Assessment().GetByID(ctx, s.db, id); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	stats, err := s.repo.Attempt().GetAssessmentStats(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment stats: %w", err)
	}

	return stats, nil
}

func (s *assessmentService) buildResponse(assessment *models.Assessment) *AssessmentResponse {
	locked := assessment.DueAt != nil && s.clock.Now().After(*assessment.DueAt)
	return &AssessmentResponse{
		Assessment:    assessment,
		QuestionCount: len(assessment.Questions),
		IsLocked:      locked,
	}
}
