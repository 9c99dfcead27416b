package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/edustack/assessment-engine/internal/repositories"
	"github.com/edustack/assessment-engine/internal/timing"
)

const (
	sweepBatchSize = 200
	sweepRunLimit  = 30 * time.Second
)

// SweepService finalizes in_progress attempts whose deadline has
// passed. The sweep is a safety net behind the lazy expiry checks in
// the attempt service, so a missed run only delays finalization.
type SweepService struct {
	repo     repositories.Repository
	db       *gorm.DB
	attempts AttemptService
	logger   *slog.Logger
	clock    timing.Clock
	schedule string

	cron *cron.Cron
	mu   sync.Mutex
}

func NewSweepService(repo repositories.Repository, db *gorm.DB, attempts AttemptService, logger *slog.Logger, clock timing.Clock, schedule string) *SweepService {
	return &SweepService{
		repo:     repo,
		db:       db,
		attempts: attempts,
		logger:   logger,
		clock:    clock,
		schedule: schedule,
	}
}

// Start registers the sweep schedule and begins running it.
func (s *SweepService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepRunLimit)
		defer cancel()
		if err := s.SweepExpired(ctx); err != nil {
			s.logger.Error("Expiry sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to register sweep schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.cron = c
	s.logger.Info("Expiry sweep started", "schedule", s.schedule)

	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *SweepService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("Expiry sweep stopped")
}

// SweepExpired finalizes one batch of overdue attempts. Each attempt is
// handled independently, one failure does not abort the batch.
func (s *SweepService) SweepExpired(ctx context.Context) error {
	cutoff := s.clock.Now()
	expired, err := s.repo.Attempt().GetExpiredInProgress(ctx, s.db, cutoff, sweepBatchSize)
	if err != nil {
		return fmt.Errorf("failed to get expired attempts: %w", err)
	}

	if len(expired) == 0 {
		return nil
	}

	s.logger.Info("Sweeping expired attempts", "count", len(expired))

	var failed int
	for i := range expired {
		if err := s.attempts.HandleTimeout(ctx, expired[i].ID); err != nil {
			failed++
			s.logger.Error("Failed to expire attempt",
				"attempt_id", expired[i].ID,
				"error", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("sweep finished with %d of %d attempts failed", failed, len(expired))
	}

	return nil
}
