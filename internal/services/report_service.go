package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/edustack/assessment-engine/internal/repositories"
)

type reportService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
}

func NewReportService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger) ReportService {
	return &reportService{
		repo:   repo,
		db:     db,
		logger: logger,
	}
}

// ExportAssessmentResults renders every finalized result of an
// assessment as an XLSX workbook.
func (s *reportService) ExportAssessmentResults(ctx context.Context, assessmentID uint) ([]byte, error) {
	assessment, err := s.repo.Assessment().GetByID(ctx, s.db, assessmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	results, err := s.repo.Result().ListByAssessment(ctx, s.db, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{
		"learner_id", "attempt_sequence", "status", "started_at", "submitted_at",
		"total_questions", "attempted", "correct", "incorrect", "skipped",
		"raw_score", "percentage", "pass_mark", "passed", "time_taken_seconds",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, res := range results {
		row := i + 2
		learnerID := ""
		sequence := 0
		status := ""
		startedAt := ""
		submittedAt := ""
		if res.Attempt != nil {
			learnerID = res.Attempt.LearnerID
			sequence = res.Attempt.AttemptSequence
			status = string(res.Attempt.Status)
			startedAt = res.Attempt.StartedAt.Format("2006-01-02 15:04:05")
			if res.Attempt.SubmittedAt != nil {
				submittedAt = res.Attempt.SubmittedAt.Format("2006-01-02 15:04:05")
			}
		}
		values := []any{
			learnerID,
			sequence,
			status,
			startedAt,
			submittedAt,
			res.TotalQuestions,
			res.AttemptedCount,
			res.CorrectCount,
			res.IncorrectCount,
			res.SkippedCount,
			res.RawScore,
			res.Percentage,
			res.PassMark,
			res.Passed,
			res.TimeTakenSeconds,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "O", 20)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	s.logger.Info("Exported assessment results",
		"assessment_id", assessmentID,
		"title", assessment.Title,
		"rows", len(results))

	return buf.Bytes(), nil
}
