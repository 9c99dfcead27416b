package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/edustack/assessment-engine/internal/events"
	"github.com/edustack/assessment-engine/internal/models"
	"github.com/edustack/assessment-engine/internal/repositories"
	"github.com/edustack/assessment-engine/internal/validator"
)

// ===== TEST FIXTURES =====

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memoryRepository is an in-memory Repository for service tests
type memoryRepository struct {
	mu          sync.Mutex
	txMu        sync.Mutex
	assessments map[uint]*models.Assessment
	attempts    map[uint]*models.AssessmentAttempt
	staged      map[uint][]models.StagedAnswer
	records     map[uint][]models.AnswerRecord
	results     map[uint]*models.AttemptResult
	nextAttempt uint
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		assessments: make(map[uint]*models.Assessment),
		attempts:    make(map[uint]*models.AssessmentAttempt),
		staged:      make(map[uint][]models.StagedAnswer),
		records:     make(map[uint][]models.AnswerRecord),
		results:     make(map[uint]*models.AttemptResult),
		nextAttempt: 1,
	}
}

func (m *memoryRepository) Assessment() repositories.AssessmentRepository { return &memAssessRepo{m} }
func (m *memoryRepository) Attempt() repositories.AttemptRepository       { return &memAttemptRepo{m} }
func (m *memoryRepository) Answer() repositories.AnswerRepository         { return &memAnswerRepo{m} }
func (m *memoryRepository) Result() repositories.ResultRepository         { return &memResultRepo{m} }
func (m *memoryRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	// Transactions serialize, matching the row lock a finalizing
	// transaction holds until commit: a loser of the status CAS can
	// only observe the winner's fully written state.
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(m)
}
// awaitTx waits out any in-flight transaction. Readers use it so a
// finalized status is only observable together with its result row,
// matching commit atomicity.
func (m *memoryRepository) awaitTx() {
	m.txMu.Lock()
	defer m.txMu.Unlock()
}

func (m *memoryRepository) Ping(ctx context.Context) error { return nil }
func (m *memoryRepository) Close() error                   { return nil }

type memAssessRepo struct{ m *memoryRepository }

func (r *memAssessRepo) Create(ctx context.Context, tx *gorm.DB, assessment *models.Assessment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.assessments[assessment.ID] = assessment
	return nil
}

func (r *memAssessRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Assessment, error) {
	return r.GetByIDWithQuestions(ctx, tx, id)
}

func (r *memAssessRepo) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Assessment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	assessment, ok := r.m.assessments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return assessment, nil
}

func (r *memAssessRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.AssessmentFilters) ([]models.Assessment, int64, error) {
	return nil, 0, nil
}

func (r *memAssessRepo) Update(ctx context.Context, tx *gorm.DB, assessment *models.Assessment) error {
	return r.Create(ctx, tx, assessment)
}

func (r *memAssessRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.assessments, id)
	return nil
}

type memAttemptRepo struct{ m *memoryRepository }

func (r *memAttemptRepo) Create(ctx context.Context, tx *gorm.DB, attempt *models.AssessmentAttempt) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.attempts {
		if existing.LearnerID == attempt.LearnerID &&
			existing.AssessmentID == attempt.AssessmentID &&
			existing.Status == models.AttemptStatusInProgress {
			return gorm.ErrDuplicatedKey
		}
	}
	attempt.ID = r.m.nextAttempt
	r.m.nextAttempt++
	copied := *attempt
	r.m.attempts[attempt.ID] = &copied
	return nil
}

func (r *memAttemptRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.AssessmentAttempt, error) {
	r.m.awaitTx()
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	attempt, ok := r.m.attempts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *attempt
	return &copied, nil
}

func (r *memAttemptRepo) GetByIDWithResult(ctx context.Context, tx *gorm.DB, id uint) (*models.AssessmentAttempt, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *memAttemptRepo) FindActive(ctx context.Context, tx *gorm.DB, learnerID string, assessmentID uint) (*models.AssessmentAttempt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, attempt := range r.m.attempts {
		if attempt.LearnerID == learnerID &&
			attempt.AssessmentID == assessmentID &&
			attempt.Status == models.AttemptStatusInProgress {
			copied := *attempt
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memAttemptRepo) CountByLearner(ctx context.Context, tx *gorm.DB, learnerID string, assessmentID uint) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var count int64
	for _, attempt := range r.m.attempts {
		if attempt.LearnerID == learnerID && attempt.AssessmentID == assessmentID {
			count++
		}
	}
	return count, nil
}

func (r *memAttemptRepo) Finalize(ctx context.Context, tx *gorm.DB, attemptID uint, status models.AttemptStatus, submittedAt time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	attempt, ok := r.m.attempts[attemptID]
	if !ok || attempt.Status != models.AttemptStatusInProgress {
		return false, nil
	}
	attempt.Status = status
	attempt.SubmittedAt = &submittedAt
	return true, nil
}

func (r *memAttemptRepo) ListByLearner(ctx context.Context, tx *gorm.DB, learnerID string, filters repositories.AttemptFilters) ([]models.AssessmentAttempt, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var attempts []models.AssessmentAttempt
	for _, attempt := range r.m.attempts {
		if attempt.LearnerID == learnerID {
			attempts = append(attempts, *attempt)
		}
	}
	return attempts, int64(len(attempts)), nil
}

func (r *memAttemptRepo) GetExpiredInProgress(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]models.AssessmentAttempt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var attempts []models.AssessmentAttempt
	for _, attempt := range r.m.attempts {
		if attempt.Status == models.AttemptStatusInProgress && attempt.ExpiresAt.Before(cutoff) {
			attempts = append(attempts, *attempt)
		}
		if len(attempts) == limit {
			break
		}
	}
	return attempts, nil
}

func (r *memAttemptRepo) GetAssessmentStats(ctx context.Context, tx *gorm.DB, assessmentID uint) (*repositories.AttemptStats, error) {
	return &repositories.AttemptStats{}, nil
}

type memAnswerRepo struct{ m *memoryRepository }

func (r *memAnswerRepo) UpsertStaged(ctx context.Context, tx *gorm.DB, answer *models.StagedAnswer) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	staged := r.m.staged[answer.AttemptID]
	for i := range staged {
		if staged[i].QuestionID == answer.QuestionID {
			staged[i].SelectedOptionID = answer.SelectedOptionID
			return nil
		}
	}
	r.m.staged[answer.AttemptID] = append(staged, *answer)
	return nil
}

func (r *memAnswerRepo) GetStagedByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]models.StagedAnswer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return append([]models.StagedAnswer(nil), r.m.staged[attemptID]...), nil
}

func (r *memAnswerRepo) CreateRecords(ctx context.Context, tx *gorm.DB, records []models.AnswerRecord) error {
	if len(records) == 0 {
		return nil
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	attemptID := records[0].AttemptID
	if len(r.m.records[attemptID]) > 0 {
		return gorm.ErrDuplicatedKey
	}
	r.m.records[attemptID] = append([]models.AnswerRecord(nil), records...)
	return nil
}

func (r *memAnswerRepo) GetRecordsByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]models.AnswerRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return append([]models.AnswerRecord(nil), r.m.records[attemptID]...), nil
}

type memResultRepo struct{ m *memoryRepository }

func (r *memResultRepo) Create(ctx context.Context, tx *gorm.DB, result *models.AttemptResult) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, exists := r.m.results[result.AttemptID]; exists {
		return gorm.ErrDuplicatedKey
	}
	copied := *result
	r.m.results[result.AttemptID] = &copied
	return nil
}

func (r *memResultRepo) GetByAttemptID(ctx context.Context, tx *gorm.DB, attemptID uint) (*models.AttemptResult, error) {
	r.m.awaitTx()
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	result, ok := r.m.results[attemptID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *result
	return &copied, nil
}

func (r *memResultRepo) ListByAssessment(ctx context.Context, tx *gorm.DB, assessmentID uint) ([]models.AttemptResult, error) {
	return nil, nil
}

// ===== SETUP =====

type attemptTestEnv struct {
	repo      *memoryRepository
	clock     *stubClock
	publisher *events.MockEventPublisher
	service   AttemptService
}

func newAttemptTestEnv(t *testing.T, assessment *models.Assessment) *attemptTestEnv {
	t.Helper()

	repo := newMemoryRepository()
	repo.assessments[assessment.ID] = assessment

	clock := &stubClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	logger := testLogger()
	publisher := events.NewMockEventPublisher(logger)
	v := validator.New()

	service := NewAttemptService(repo, nil, logger, v, NewGradingService(logger), publisher, clock)
	return &attemptTestEnv{
		repo:      repo,
		clock:     clock,
		publisher: publisher,
		service:   service,
	}
}

func countEvents(publisher *events.MockEventPublisher, eventType string) int {
	count := 0
	for _, event := range publisher.GetPublishedEvents() {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

// ===== TESTS =====

func TestStartOrResume_CreatesAttempt(t *testing.T) {
	assessment := buildAssessment(4, 0.25, 50)
	env := newAttemptTestEnv(t, assessment)
	ctx := context.Background()

	resp, err := env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}

	if resp.Resumed {
		t.Error("Resumed = true, want false for a fresh attempt")
	}
	if resp.AttemptSequence != 1 {
		t.Errorf("AttemptSequence = %d, want 1", resp.AttemptSequence)
	}
	if resp.SecondsRemaining != assessment.TimeLimitSeconds {
		t.Errorf("SecondsRemaining = %d, want %d", resp.SecondsRemaining, assessment.TimeLimitSeconds)
	}
	wantExpiry := env.clock.Now().Add(time.Duration(assessment.TimeLimitSeconds) * time.Second)
	if !resp.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("ExpiresAt = %v, want %v", resp.ExpiresAt, wantExpiry)
	}
	if len(resp.Questions) != 4 {
		t.Errorf("Questions length = %d, want 4", len(resp.Questions))
	}
	if got := countEvents(env.publisher, events.TypeAttemptStarted); got != 1 {
		t.Errorf("started events = %d, want 1", got)
	}
}

func TestStartOrResume_ResumesActiveAttempt(t *testing.T) {
	assessment := buildAssessment(4, 0.25, 50)
	env := newAttemptTestEnv(t, assessment)
	ctx := context.Background()

	first, err := env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("first StartOrResume failed: %v", err)
	}

	env.clock.Advance(2 * time.Minute)

	second, err := env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("second StartOrResume failed: %v", err)
	}

	if !second.Resumed {
		t.Error("Resumed = false, want true")
	}
	if second.ID != first.ID {
		t.Errorf("resumed attempt ID = %d, want %d", second.ID, first.ID)
	}
	// Resuming never extends the window
	if !second.ExpiresAt.Equal(first.ExpiresAt) {
		t.Errorf("ExpiresAt changed on resume: %v -> %v", first.ExpiresAt, second.ExpiresAt)
	}
	if second.SecondsRemaining >= first.SecondsRemaining {
		t.Errorf("SecondsRemaining = %d, want less than %d",
			second.SecondsRemaining, first.SecondsRemaining)
	}
	if got := countEvents(env.publisher, events.TypeAttemptStarted); got != 1 {
		t.Errorf("started events = %d, want 1 (resume must not publish)", got)
	}
}

func TestStartOrResume_ExpiredAttemptRollsOver(t *testing.T) {
	assessment := buildAssessment(4, 0.25, 50)
	env := newAttemptTestEnv(t, assessment)
	ctx := context.Background()

	first, err := env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("first StartOrResume failed: %v", err)
	}

	env.clock.Advance(time.Duration(assessment.TimeLimitSeconds+5) * time.Second)

	second, err := env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("second StartOrResume failed: %v", err)
	}

	if second.ID == first.ID {
		t.Error("expected a new attempt after the first expired")
	}
	if second.AttemptSequence != 2 {
		t.Errorf("AttemptSequence = %d, want 2", second.AttemptSequence)
	}

	// The stale attempt was finalized as expired at its deadline
	stale, err := env.repo.Attempt().GetByID(ctx, nil, first.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stale.Status != models.AttemptStatusExpired {
		t.Errorf("stale attempt status = %s, want expired", stale.Status)
	}
	if got := countEvents(env.publisher, events.TypeAttemptExpired); got != 1 {
		t.Errorf("expired events = %d, want 1", got)
	}
}

func TestStartOrResume_AttemptLimit(t *testing.T) {
	assessment := buildAssessment(4, 0.25, 50)
	maxAttempts := 1
	assessment.MaxAttempts = &maxAttempts
	env := newAttemptTestEnv(t, assessment)
	ctx := context.Background()

	first, err := env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}
	if _, err := env.service.Submit(ctx, first.ID, "learner-1"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	_, err = env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if !errors.Is(err, ErrAttemptLimitExceeded) {
		t.Errorf("err = %v, want ErrAttemptLimitExceeded", err)
	}
}

func TestStartOrResume_DeadlinePassed(t *testing.T) {
	assessment := buildAssessment(4, 0.25, 50)
	dueAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assessment.DueAt = &dueAt
	env := newAttemptTestEnv(t, assessment)

	_, err := env.service.StartOrResume(context.Background(), &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if !errors.Is(err, ErrAssessmentLocked) {
		t.Errorf("err = %v, want ErrAssessmentLocked", err)
	}
}

func TestStageAnswer_OverwriteAndValidate(t *testing.T) {
	assessment := buildAssessment(4, 0.25, 50)
	env := newAttemptTestEnv(t, assessment)
	ctx := context.Background()

	resp, err := env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}

	wrong := uint(12)
	if err := env.service.StageAnswer(ctx, resp.ID, &StageAnswerRequest{QuestionID: 1, SelectedOptionID: &wrong}, "learner-1"); err != nil {
		t.Fatalf("StageAnswer failed: %v", err)
	}

	// Re-staging the same question overwrites
	right := uint(11)
	if err := env.service.StageAnswer(ctx, resp.ID, &StageAnswerRequest{QuestionID: 1, SelectedOptionID: &right}, "learner-1"); err != nil {
		t.Fatalf("re-stage failed: %v", err)
	}

	staged, _ := env.repo.Answer().GetStagedByAttempt(ctx, nil, resp.ID)
	if len(staged) != 1 {
		t.Fatalf("staged rows = %d, want 1", len(staged))
	}
	if staged[0].SelectedOptionID == nil || *staged[0].SelectedOptionID != right {
		t.Errorf("staged option = %v, want %d", staged[0].SelectedOptionID, right)
	}

	// Foreign question and foreign option are rejected
	opt := uint(11)
	if err := env.service.StageAnswer(ctx, resp.ID, &StageAnswerRequest{QuestionID: 99, SelectedOptionID: &opt}, "learner-1"); !errors.Is(err, ErrQuestionNotInAssessment) {
		t.Errorf("err = %v, want ErrQuestionNotInAssessment", err)
	}
	foreign := uint(21)
	if err := env.service.StageAnswer(ctx, resp.ID, &StageAnswerRequest{QuestionID: 1, SelectedOptionID: &foreign}, "learner-1"); !errors.Is(err, ErrOptionNotInQuestion) {
		t.Errorf("err = %v, want ErrOptionNotInQuestion", err)
	}
}

func TestStageAnswer_OwnershipEnforced(t *testing.T) {
	assessment := buildAssessment(4, 0.25, 50)
	env := newAttemptTestEnv(t, assessment)
	ctx := context.Background()

	resp, err := env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}

	opt := uint(11)
	err = env.service.StageAnswer(ctx, resp.ID, &StageAnswerRequest{QuestionID: 1, SelectedOptionID: &opt}, "learner-2")
	if !IsPermissionError(err) {
		t.Errorf("err = %v, want PermissionError", err)
	}
}

func TestStageAnswer_ExpiredAttemptRejected(t *testing.T) {
	assessment := buildAssessment(4, 0.25, 50)
	env := newAttemptTestEnv(t, assessment)
	ctx := context.Background()

	resp, err := env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}

	env.clock.Advance(time.Duration(assessment.TimeLimitSeconds+1) * time.Second)

	opt := uint(11)
	err = env.service.StageAnswer(ctx, resp.ID, &StageAnswerRequest{QuestionID: 1, SelectedOptionID: &opt}, "learner-1")
	if !errors.Is(err, ErrAttemptNotActive) {
		t.Errorf("err = %v, want ErrAttemptNotActive", err)
	}

	// The lazy check finalized the attempt as expired
	attempt, _ := env.repo.Attempt().GetByID(ctx, nil, resp.ID)
	if attempt.Status != models.AttemptStatusExpired {
		t.Errorf("status = %s, want expired", attempt.Status)
	}
}

func TestSubmit_GradesAndIsIdempotent(t *testing.T) {
	assessment := buildAssessment(4, 0.25, 50)
	env := newAttemptTestEnv(t, assessment)
	ctx := context.Background()

	resp, err := env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}

	// 2 correct, 1 wrong, 1 skipped: raw = 2 - 0.25 = 1.75, 43.75%
	answers := map[uint]uint{1: 11, 2: 21, 3: 32}
	for questionID, optionID := range answers {
		opt := optionID
		if err := env.service.StageAnswer(ctx, resp.ID, &StageAnswerRequest{QuestionID: questionID, SelectedOptionID: &opt}, "learner-1"); err != nil {
			t.Fatalf("StageAnswer failed: %v", err)
		}
	}

	env.clock.Advance(3 * time.Minute)

	result, err := env.service.Submit(ctx, resp.ID, "learner-1")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if result.RawScore != 1.75 {
		t.Errorf("RawScore = %v, want 1.75", result.RawScore)
	}
	if result.Percentage != 43.75 {
		t.Errorf("Percentage = %v, want 43.75", result.Percentage)
	}
	if result.Passed {
		t.Error("Passed = true, want false at threshold 50")
	}
	// The threshold in effect at grading time is stored with the result
	if result.PassMark != 50 {
		t.Errorf("PassMark = %v, want 50", result.PassMark)
	}
	if result.AttemptStatus != models.AttemptStatusSubmitted {
		t.Errorf("AttemptStatus = %s, want submitted", result.AttemptStatus)
	}
	if result.TimeTakenSeconds != 180 {
		t.Errorf("TimeTakenSeconds = %d, want 180", result.TimeTakenSeconds)
	}
	if len(result.Review) != 4 {
		t.Errorf("Review length = %d, want 4", len(result.Review))
	}
	for _, item := range result.Review {
		_, staged := answers[item.QuestionID]
		if item.Attempted != staged {
			t.Errorf("question %d Attempted = %v, want %v", item.QuestionID, item.Attempted, staged)
		}
	}

	// A second submit returns the stored result without regrading
	again, err := env.service.Submit(ctx, resp.ID, "learner-1")
	if err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}
	if again.RawScore != result.RawScore || again.Percentage != result.Percentage {
		t.Errorf("second submit outcome %v/%v differs from %v/%v",
			again.RawScore, again.Percentage, result.RawScore, result.Percentage)
	}
	if got := countEvents(env.publisher, events.TypeAttemptSubmitted); got != 1 {
		t.Errorf("submitted events = %d, want 1", got)
	}
}

func TestSubmit_LateSubmitTakesExpiryPath(t *testing.T) {
	assessment := buildAssessment(2, 0, 50)
	env := newAttemptTestEnv(t, assessment)
	ctx := context.Background()

	resp, err := env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}

	opt := uint(11)
	if err := env.service.StageAnswer(ctx, resp.ID, &StageAnswerRequest{QuestionID: 1, SelectedOptionID: &opt}, "learner-1"); err != nil {
		t.Fatalf("StageAnswer failed: %v", err)
	}

	// Submit lands past the deadline
	env.clock.Advance(time.Duration(assessment.TimeLimitSeconds+30) * time.Second)

	result, err := env.service.Submit(ctx, resp.ID, "learner-1")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// The attempt is finalized as expired at its deadline, the staged
	// answers are still graded
	if result.AttemptStatus != models.AttemptStatusExpired {
		t.Errorf("AttemptStatus = %s, want expired", result.AttemptStatus)
	}
	if result.RawScore != 1 {
		t.Errorf("RawScore = %v, want 1", result.RawScore)
	}

	// Recorded duration never exceeds the limit
	if result.TimeTakenSeconds != assessment.TimeLimitSeconds {
		t.Errorf("TimeTakenSeconds = %d, want %d",
			result.TimeTakenSeconds, assessment.TimeLimitSeconds)
	}

	attempt, _ := env.repo.Attempt().GetByID(ctx, nil, resp.ID)
	if attempt.Status != models.AttemptStatusExpired {
		t.Errorf("status = %s, want expired", attempt.Status)
	}
	if attempt.SubmittedAt == nil || !attempt.SubmittedAt.Equal(attempt.ExpiresAt) {
		t.Errorf("SubmittedAt = %v, want clamped to %v", attempt.SubmittedAt, attempt.ExpiresAt)
	}

	if got := countEvents(env.publisher, events.TypeAttemptExpired); got != 1 {
		t.Errorf("expired events = %d, want 1", got)
	}
	if got := countEvents(env.publisher, events.TypeAttemptSubmitted); got != 0 {
		t.Errorf("submitted events = %d, want 0 for a late submit", got)
	}
}

func TestHandleTimeout_FinalizesOnce(t *testing.T) {
	assessment := buildAssessment(2, 0.25, 50)
	env := newAttemptTestEnv(t, assessment)
	ctx := context.Background()

	resp, err := env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}

	opt := uint(11)
	if err := env.service.StageAnswer(ctx, resp.ID, &StageAnswerRequest{QuestionID: 1, SelectedOptionID: &opt}, "learner-1"); err != nil {
		t.Fatalf("StageAnswer failed: %v", err)
	}

	// Not yet expired: no-op
	if err := env.service.HandleTimeout(ctx, resp.ID); err != nil {
		t.Fatalf("HandleTimeout failed: %v", err)
	}
	attempt, _ := env.repo.Attempt().GetByID(ctx, nil, resp.ID)
	if attempt.Status != models.AttemptStatusInProgress {
		t.Fatalf("status = %s, want in_progress before expiry", attempt.Status)
	}

	env.clock.Advance(time.Duration(assessment.TimeLimitSeconds+10) * time.Second)

	if err := env.service.HandleTimeout(ctx, resp.ID); err != nil {
		t.Fatalf("HandleTimeout failed: %v", err)
	}
	if err := env.service.HandleTimeout(ctx, resp.ID); err != nil {
		t.Fatalf("repeat HandleTimeout failed: %v", err)
	}

	attempt, _ = env.repo.Attempt().GetByID(ctx, nil, resp.ID)
	if attempt.Status != models.AttemptStatusExpired {
		t.Errorf("status = %s, want expired", attempt.Status)
	}
	// Finalized at the deadline, not at the sweep instant
	if attempt.SubmittedAt == nil || !attempt.SubmittedAt.Equal(attempt.ExpiresAt) {
		t.Errorf("SubmittedAt = %v, want %v", attempt.SubmittedAt, attempt.ExpiresAt)
	}

	result, err := env.service.GetResult(ctx, resp.ID, "learner-1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if result.RawScore != 1 {
		t.Errorf("RawScore = %v, want 1 (staged answer graded)", result.RawScore)
	}
	if result.TimeTakenSeconds != assessment.TimeLimitSeconds {
		t.Errorf("TimeTakenSeconds = %d, want %d", result.TimeTakenSeconds, assessment.TimeLimitSeconds)
	}
	if got := countEvents(env.publisher, events.TypeAttemptExpired); got != 1 {
		t.Errorf("expired events = %d, want 1", got)
	}
}

func TestGetResult_InProgressRejected(t *testing.T) {
	assessment := buildAssessment(2, 0.25, 50)
	env := newAttemptTestEnv(t, assessment)
	ctx := context.Background()

	resp, err := env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}

	_, err = env.service.GetResult(ctx, resp.ID, "learner-1")
	if !errors.Is(err, ErrAttemptNotFinished) {
		t.Errorf("err = %v, want ErrAttemptNotFinished", err)
	}
}

func TestGetTimeRemaining(t *testing.T) {
	assessment := buildAssessment(2, 0.25, 50)
	env := newAttemptTestEnv(t, assessment)
	ctx := context.Background()

	resp, err := env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}

	env.clock.Advance(100 * time.Second)
	seconds, err := env.service.GetTimeRemaining(ctx, resp.ID, "learner-1")
	if err != nil {
		t.Fatalf("GetTimeRemaining failed: %v", err)
	}
	if seconds != assessment.TimeLimitSeconds-100 {
		t.Errorf("seconds = %d, want %d", seconds, assessment.TimeLimitSeconds-100)
	}

	if _, err := env.service.Submit(ctx, resp.ID, "learner-1"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	seconds, err = env.service.GetTimeRemaining(ctx, resp.ID, "learner-1")
	if err != nil {
		t.Fatalf("GetTimeRemaining after submit failed: %v", err)
	}
	if seconds != 0 {
		t.Errorf("seconds = %d, want 0 after finalization", seconds)
	}
}

// countingGradingService counts Grade invocations for race tests
type countingGradingService struct {
	inner GradingService
	mu    sync.Mutex
	calls int
}

func (g *countingGradingService) Grade(ctx context.Context, assessment *models.Assessment, attemptID uint, staged []models.StagedAnswer) (*GradeOutcome, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.inner.Grade(ctx, assessment, attemptID, staged)
}

func (g *countingGradingService) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestStartOrResume_ConcurrentStartsConvergeOnOneAttempt(t *testing.T) {
	assessment := buildAssessment(4, 0.25, 50)
	env := newAttemptTestEnv(t, assessment)
	ctx := context.Background()

	const racers = 8
	responses := make([]*AttemptResponse, racers)
	errs := make([]error, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], errs[i] = env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < racers; i++ {
		if errs[i] != nil {
			t.Fatalf("racer %d failed: %v", i, errs[i])
		}
	}

	// Every caller got the same attempt, the insert race losers resumed
	// the winner's row
	for i := 1; i < racers; i++ {
		if responses[i].ID != responses[0].ID {
			t.Errorf("racer %d attempt ID = %d, want %d", i, responses[i].ID, responses[0].ID)
		}
	}

	env.repo.mu.Lock()
	attemptRows := len(env.repo.attempts)
	env.repo.mu.Unlock()
	if attemptRows != 1 {
		t.Errorf("attempt rows = %d, want 1", attemptRows)
	}
	if got := countEvents(env.publisher, events.TypeAttemptStarted); got != 1 {
		t.Errorf("started events = %d, want 1", got)
	}
}

func TestSubmit_ConcurrentSubmitsGradeOnce(t *testing.T) {
	assessment := buildAssessment(4, 0.25, 50)
	repo := newMemoryRepository()
	repo.assessments[assessment.ID] = assessment

	clock := &stubClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	logger := testLogger()
	publisher := events.NewMockEventPublisher(logger)
	grader := &countingGradingService{inner: NewGradingService(logger)}
	service := NewAttemptService(repo, nil, logger, validator.New(), grader, publisher, clock)
	ctx := context.Background()

	resp, err := service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}
	opt := uint(11)
	if err := service.StageAnswer(ctx, resp.ID, &StageAnswerRequest{QuestionID: 1, SelectedOptionID: &opt}, "learner-1"); err != nil {
		t.Fatalf("StageAnswer failed: %v", err)
	}

	clock.Advance(time.Minute)

	const racers = 6
	results := make([]*ResultResponse, racers)
	errs := make([]error, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = service.Submit(ctx, resp.ID, "learner-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < racers; i++ {
		if errs[i] != nil {
			t.Fatalf("racer %d failed: %v", i, errs[i])
		}
	}

	// Exactly one finalization graded, the losers read the stored result
	if got := grader.count(); got != 1 {
		t.Errorf("grading executions = %d, want 1", got)
	}
	for i := 1; i < racers; i++ {
		if results[i].RawScore != results[0].RawScore || results[i].Percentage != results[0].Percentage {
			t.Errorf("racer %d outcome %v/%v differs from %v/%v",
				i, results[i].RawScore, results[i].Percentage,
				results[0].RawScore, results[0].Percentage)
		}
	}

	repo.mu.Lock()
	resultRows := len(repo.results)
	repo.mu.Unlock()
	if resultRows != 1 {
		t.Errorf("result rows = %d, want 1", resultRows)
	}
	if got := countEvents(publisher, events.TypeAttemptSubmitted); got != 1 {
		t.Errorf("submitted events = %d, want 1", got)
	}
}

func TestCanStart(t *testing.T) {
	assessment := buildAssessment(2, 0.25, 50)
	maxAttempts := 1
	assessment.MaxAttempts = &maxAttempts
	env := newAttemptTestEnv(t, assessment)
	ctx := context.Background()

	canStart, err := env.service.CanStart(ctx, 1, "learner-1")
	if err != nil {
		t.Fatalf("CanStart failed: %v", err)
	}
	if !canStart {
		t.Error("CanStart = false, want true before any attempt")
	}

	resp, err := env.service.StartOrResume(ctx, &StartAttemptRequest{AssessmentID: 1}, "learner-1")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}
	if _, err := env.service.Submit(ctx, resp.ID, "learner-1"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	canStart, err = env.service.CanStart(ctx, 1, "learner-1")
	if err != nil {
		t.Fatalf("CanStart failed: %v", err)
	}
	if canStart {
		t.Error("CanStart = true, want false at the attempt limit")
	}
}
