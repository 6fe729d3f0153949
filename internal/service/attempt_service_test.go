package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/smadigital/cbt-backend/internal/config"
	"github.com/smadigital/cbt-backend/internal/model"
	"github.com/smadigital/cbt-backend/internal/repository"
)

type fakeExamStore struct {
	exams map[uuid.UUID]*model.Exam
}

func (f *fakeExamStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := f.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *e
	return &copied, nil
}

func (f *fakeExamStore) ListVisible(ctx context.Context) ([]model.Exam, error) {
	var out []model.Exam
	for _, e := range f.exams {
		if e.Visibility == model.ExamVisible {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeExamStore) Create(ctx context.Context, e *model.Exam) error {
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	copied := *e
	f.exams[e.ID] = &copied
	return nil
}

func (f *fakeExamStore) ListPaginated(ctx context.Context, limit, offset int) ([]model.Exam, int, error) {
	var out []model.Exam
	for _, e := range f.exams {
		out = append(out, *e)
	}
	return out, len(f.exams), nil
}

func (f *fakeExamStore) UpdateEntryToken(ctx context.Context, id uuid.UUID, token string) error {
	e, ok := f.exams[id]
	if !ok {
		return pgx.ErrNoRows
	}
	e.EntryToken = token
	return nil
}

func (f *fakeExamStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := f.exams[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.exams, id)
	return nil
}

type fakeQuestionStore struct {
	questions map[uuid.UUID][]model.Question
}

func (f *fakeQuestionStore) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	return f.questions[examID], nil
}

type attemptKey struct {
	examID    uuid.UUID
	studentID int
}

type fakeAttemptStore struct {
	attempts map[attemptKey]*model.ExamAttempt
	answers  map[uuid.UUID]map[string]string
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{
		attempts: make(map[attemptKey]*model.ExamAttempt),
		answers:  make(map[uuid.UUID]map[string]string),
	}
}

func (f *fakeAttemptStore) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	for _, a := range f.attempts {
		if a.ID == id {
			copied := *a
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeAttemptStore) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	a, ok := f.attempts[attemptKey{examID, studentID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *a
	return &copied, nil
}

func (f *fakeAttemptStore) Create(ctx context.Context, a *model.ExamAttempt) error {
	key := attemptKey{a.ExamID, a.StudentID}
	if _, exists := f.attempts[key]; exists {
		// Mirrors ON CONFLICT DO NOTHING RETURNING: no row comes back.
		return pgx.ErrNoRows
	}
	a.ID = uuid.New()
	a.StartedAt = time.Now()
	stored := *a
	f.attempts[key] = &stored
	return nil
}

func (f *fakeAttemptStore) CompleteSubmission(ctx context.Context, attemptID uuid.UUID, status model.AttemptStatus, objective float64, final *float64) (bool, error) {
	for _, a := range f.attempts {
		if a.ID != attemptID {
			continue
		}
		if a.Status != model.AttemptStatusInProgress {
			return false, nil
		}
		now := time.Now()
		a.Status = status
		a.ObjectiveScore = objective
		a.FinalScore = final
		a.SubmittedAt = &now
		return true, nil
	}
	return false, nil
}

func (f *fakeAttemptStore) ListByExamAndStatus(ctx context.Context, examID uuid.UUID, status model.AttemptStatus) ([]model.ExamAttempt, error) {
	var out []model.ExamAttempt
	for key, a := range f.attempts {
		if key.examID == examID && a.Status == status {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAttemptStore) ListByStudent(ctx context.Context, studentID int) ([]model.ExamAttempt, error) {
	var out []model.ExamAttempt
	for key, a := range f.attempts {
		if key.studentID == studentID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAttemptStore) ReplaceAnswers(ctx context.Context, attemptID uuid.UUID, answers map[string]string) error {
	stored := make(map[string]string, len(answers))
	for k, v := range answers {
		stored[k] = v
	}
	f.answers[attemptID] = stored
	return nil
}

func (f *fakeAttemptStore) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.AttemptAnswer, error) {
	var out []model.AttemptAnswer
	for q, ans := range f.answers[attemptID] {
		qid, err := uuid.Parse(q)
		if err != nil {
			return nil, err
		}
		out = append(out, model.AttemptAnswer{AttemptID: attemptID, QuestionID: qid, Answer: ans})
	}
	return out, nil
}

func (f *fakeAttemptStore) Reset(ctx context.Context, attemptID uuid.UUID) error {
	for key, a := range f.attempts {
		if a.ID == attemptID {
			delete(f.attempts, key)
			delete(f.answers, attemptID)
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (f *fakeAttemptStore) ListResultsByExam(ctx context.Context, examID uuid.UUID, page, perPage int) ([]repository.AttemptResult, int64, error) {
	var out []repository.AttemptResult
	for key, a := range f.attempts {
		if key.examID != examID {
			continue
		}
		out = append(out, repository.AttemptResult{
			AttemptID:      a.ID,
			StudentID:      a.StudentID,
			Status:         a.Status,
			ViolationCount: a.ViolationCount,
			StartedAt:      a.StartedAt,
			SubmittedAt:    a.SubmittedAt,
			FinalScore:     a.FinalScore,
		})
	}
	return out, int64(len(out)), nil
}

type attemptFixture struct {
	svc       *AttemptService
	exams     *fakeExamStore
	questions *fakeQuestionStore
	attempts  *fakeAttemptStore
	server    *miniredis.Miniredis
	rdb       *redis.Client
	examID    uuid.UUID
	mcQ       uuid.UUID
	essayQ    uuid.UUID
}

// setupAttempt builds a service over a one-exam fixture: one weighted
// multiple-choice question (correct answer "B") and optionally one essay.
func setupAttempt(t *testing.T, withEssay bool) *attemptFixture {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { rdb.Close() })

	examID := uuid.New()
	exams := &fakeExamStore{exams: map[uuid.UUID]*model.Exam{
		examID: {
			ID:              examID,
			Title:           "Matematika Wajib",
			EntryToken:      "ABC234",
			StartsAt:        time.Now().Add(-time.Hour),
			EndsAt:          time.Now().Add(time.Hour),
			DurationMinutes: 90,
			Visibility:      model.ExamVisible,
		},
	}}

	mcQ := uuid.New()
	qs := []model.Question{
		{ID: mcQ, ExamID: examID, QuestionType: model.QuestionTypeMultipleChoice, CorrectOption: "B", Weight: 10},
	}
	essayQ := uuid.Nil
	if withEssay {
		essayQ = uuid.New()
		qs = append(qs, model.Question{ID: essayQ, ExamID: examID, QuestionType: model.QuestionTypeEssay, Weight: 20})
	}
	questions := &fakeQuestionStore{questions: map[uuid.UUID][]model.Question{examID: qs}}

	attempts := newFakeAttemptStore()
	svc := NewAttemptService(exams, questions, attempts, rdb, testConfig(), zerolog.Nop())

	return &attemptFixture{
		svc:       svc,
		exams:     exams,
		questions: questions,
		attempts:  attempts,
		server:    server,
		rdb:       rdb,
		examID:    examID,
		mcQ:       mcQ,
		essayQ:    essayQ,
	}
}

func TestStartTokenMismatchCreatesNothing(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	_, err := fx.svc.Start(ctx, fx.examID, 1, "WRONG1")
	require.ErrorIs(t, err, ErrTokenMismatch)
	require.Empty(t, fx.attempts.attempts)

	// A later start with the right token succeeds cleanly.
	attempt, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)
	require.Equal(t, model.AttemptStatusInProgress, attempt.Status)
}

func TestStartOutsideWindow(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	exam := fx.exams.exams[fx.examID]
	exam.StartsAt = time.Now().Add(time.Hour)
	exam.EndsAt = time.Now().Add(2 * time.Hour)

	_, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.ErrorIs(t, err, ErrWindowClosed)
}

func TestStartIsIdempotentWhileInProgress(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	first, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)

	// Retry (e.g. after reload) returns the same attempt, even with a now
	// rotated token: the student already holds an open attempt.
	fx.exams.exams[fx.examID].EntryToken = "ZZZ999"
	second, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, fx.attempts.attempts, 1)
}

func TestStartAfterSubmitIsRejected(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	_, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)

	_, err = fx.svc.Submit(ctx, fx.examID, 1, map[string]string{fx.mcQ.String(): "B"})
	require.NoError(t, err)

	_, err = fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestSaveAnswerBuffersAndSubmitGrades(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	attempt, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)

	require.NoError(t, fx.svc.SaveAnswer(ctx, fx.examID, 1, fx.mcQ, "B"))

	state, err := fx.svc.GetState(ctx, fx.examID, 1)
	require.NoError(t, err)
	require.Equal(t, "B", state.BufferedAnswers[fx.mcQ.String()])
	require.Greater(t, state.RemainingSeconds, 0.0)

	// Submit with an empty client set: the buffer carries the answers.
	result, err := fx.svc.Submit(ctx, fx.examID, 1, nil)
	require.NoError(t, err)
	require.False(t, result.PendingCorrection)
	require.NotNil(t, result.FinalScore)
	require.Equal(t, 10.0, *result.FinalScore)
	require.Equal(t, model.AttemptStatusFinalized, result.Attempt.Status)

	// Redis buffer is cleaned up after submit.
	require.False(t, fx.server.Exists(config.CacheKey.AttemptAnswersKey(attempt.ID.String())))
}

func TestSubmitClientAnswersWinOverBuffer(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	_, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)
	require.NoError(t, fx.svc.SaveAnswer(ctx, fx.examID, 1, fx.mcQ, "A"))

	result, err := fx.svc.Submit(ctx, fx.examID, 1, map[string]string{fx.mcQ.String(): "B"})
	require.NoError(t, err)
	require.Equal(t, 10.0, *result.FinalScore)
}

func TestSubmitWithEssayEntersCorrection(t *testing.T) {
	fx := setupAttempt(t, true)
	ctx := context.Background()

	_, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)

	result, err := fx.svc.Submit(ctx, fx.examID, 1, map[string]string{
		fx.mcQ.String():    "B",
		fx.essayQ.String(): "Jawaban uraian panjang",
	})
	require.NoError(t, err)
	require.True(t, result.PendingCorrection)
	require.Nil(t, result.FinalScore)
	require.Equal(t, model.AttemptStatusUnderCorrection, result.Attempt.Status)
	require.Equal(t, 10.0, result.Attempt.ObjectiveScore)
}

func TestSubmitTwiceIsRejected(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	_, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)

	_, err = fx.svc.Submit(ctx, fx.examID, 1, map[string]string{fx.mcQ.String(): "B"})
	require.NoError(t, err)

	_, err = fx.svc.Submit(ctx, fx.examID, 1, map[string]string{fx.mcQ.String(): "A"})
	require.ErrorIs(t, err, ErrAlreadySubmitted)

	// The stored score is from the first submit.
	attempt, err := fx.attempts.GetByExamAndStudent(ctx, fx.examID, 1)
	require.NoError(t, err)
	require.Equal(t, 10.0, *attempt.FinalScore)
}

func TestSubmitLeaseBlocksConcurrentSubmit(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	attempt, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)

	// Simulate another request holding the lease.
	leaseKey := config.CacheKey.AttemptSubmitLeaseKey(attempt.ID.String())
	require.NoError(t, fx.rdb.Set(ctx, leaseKey, "1", time.Minute).Err())

	_, err = fx.svc.Submit(ctx, fx.examID, 1, nil)
	require.ErrorIs(t, err, ErrSubmitInFlight)

	// SaveAnswer is also fenced off while a submit is in flight.
	err = fx.svc.SaveAnswer(ctx, fx.examID, 1, fx.mcQ, "B")
	require.ErrorIs(t, err, ErrNotInProgress)
}

func TestSaveAnswerUnderLeaseWritesNothing(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	attempt, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)

	leaseKey := config.CacheKey.AttemptSubmitLeaseKey(attempt.ID.String())
	require.NoError(t, fx.rdb.Set(ctx, leaseKey, "1", time.Minute).Err())

	err = fx.svc.SaveAnswer(ctx, fx.examID, 1, fx.mcQ, "B")
	require.ErrorIs(t, err, ErrNotInProgress)

	// The rejected save must not have recreated the buffer hash behind the
	// grading submit's back, and nothing may sit in the autosave queue.
	answersKey := config.CacheKey.AttemptAnswersKey(attempt.ID.String())
	require.False(t, fx.server.Exists(answersKey))
	queued, err := fx.rdb.LLen(ctx, config.WorkerKey.PersistAnswersQueue).Result()
	require.NoError(t, err)
	require.Zero(t, queued)
}

func TestSaveAnswerWithoutAttempt(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	err := fx.svc.SaveAnswer(ctx, fx.examID, 1, fx.mcQ, "B")
	require.ErrorIs(t, err, ErrNotInProgress)
}

func TestReportViolationCountsMonotonically(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	_, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		count, err := fx.svc.ReportViolation(ctx, fx.examID, 1, "TAB_BLUR")
		require.NoError(t, err)
		require.Equal(t, int64(i), count)
	}

	// Each report was enqueued exactly once for durable persistence.
	queued, err := fx.rdb.LLen(ctx, config.WorkerKey.PersistViolationsQueue).Result()
	require.NoError(t, err)
	require.Equal(t, int64(3), queued)

	// Violations never block the attempt.
	result, err := fx.svc.Submit(ctx, fx.examID, 1, map[string]string{fx.mcQ.String(): "B"})
	require.NoError(t, err)
	require.Equal(t, 10.0, *result.FinalScore)
}

func TestReportViolationAfterSubmitRejected(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	_, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)
	_, err = fx.svc.Submit(ctx, fx.examID, 1, nil)
	require.NoError(t, err)

	_, err = fx.svc.ReportViolation(ctx, fx.examID, 1, "TAB_BLUR")
	require.ErrorIs(t, err, ErrNotInProgress)
}

func TestForceCloseGradesBufferedAnswers(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	_, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)
	require.NoError(t, fx.svc.SaveAnswer(ctx, fx.examID, 1, fx.mcQ, "B"))

	_, err = fx.svc.Start(ctx, fx.examID, 2, "ABC234")
	require.NoError(t, err)

	closed, err := fx.svc.ForceCloseExam(ctx, fx.examID)
	require.NoError(t, err)
	require.Equal(t, 2, closed)

	graded, err := fx.attempts.GetByExamAndStudent(ctx, fx.examID, 1)
	require.NoError(t, err)
	require.Equal(t, model.AttemptStatusFinalized, graded.Status)
	require.Equal(t, 10.0, *graded.FinalScore)

	// Student 2 never answered: closed with zero.
	empty, err := fx.attempts.GetByExamAndStudent(ctx, fx.examID, 2)
	require.NoError(t, err)
	require.Equal(t, model.AttemptStatusFinalized, empty.Status)
	require.Equal(t, 0.0, *empty.FinalScore)

	// Idempotent: nothing left in progress.
	closed, err = fx.svc.ForceCloseExam(ctx, fx.examID)
	require.NoError(t, err)
	require.Zero(t, closed)
}

func TestResetAttemptReturnsToNotStarted(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	attempt, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)
	require.NoError(t, fx.svc.SaveAnswer(ctx, fx.examID, 1, fx.mcQ, "B"))
	_, err = fx.svc.ReportViolation(ctx, fx.examID, 1, "TAB_BLUR")
	require.NoError(t, err)

	require.NoError(t, fx.svc.ResetAttempt(ctx, attempt.ID))

	_, err = fx.attempts.GetByExamAndStudent(ctx, fx.examID, 1)
	require.ErrorIs(t, err, pgx.ErrNoRows)
	require.False(t, fx.server.Exists(config.CacheKey.AttemptAnswersKey(attempt.ID.String())))
	require.False(t, fx.server.Exists(config.CacheKey.AttemptViolationsKey(attempt.ID.String())))

	// The student can start fresh.
	fresh, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)
	require.NotEqual(t, attempt.ID, fresh.ID)
}

func TestGetStateFallsBackToPersistedAnswers(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	attempt, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)

	// Answers reached PostgreSQL through the autosave worker, then the Redis
	// buffer was lost (restart, eviction).
	require.NoError(t, fx.attempts.ReplaceAnswers(ctx, attempt.ID, map[string]string{fx.mcQ.String(): "B"}))
	fx.server.FlushAll()

	state, err := fx.svc.GetState(ctx, fx.examID, 1)
	require.NoError(t, err)
	require.Equal(t, "B", state.BufferedAnswers[fx.mcQ.String()])
	require.Greater(t, state.RemainingSeconds, 0.0)
}

func TestListStudentExamsHidesTokenAndOverlaysStatus(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	_, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)

	list, err := fx.svc.ListStudentExams(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Empty(t, list[0].EntryToken)
	require.NotNil(t, list[0].AttemptStatus)
	require.Equal(t, model.AttemptStatusInProgress, *list[0].AttemptStatus)

	// Another student sees the same exam with no attempt overlay.
	other, err := fx.svc.ListStudentExams(ctx, 2)
	require.NoError(t, err)
	require.Nil(t, other[0].AttemptStatus)
}

func TestMonitoringOverlaysLiveViolationCounter(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	_, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = fx.svc.ReportViolation(ctx, fx.examID, 1, "WINDOW_SWITCH")
		require.NoError(t, err)
	}

	rows, total, err := fx.svc.Monitoring(ctx, fx.examID, 1, 50)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, rows, 1)
	// DB count is still 0 (worker has not flushed); the live counter shows 2.
	require.Equal(t, 0, rows[0].ViolationCount)
	require.Equal(t, int64(2), rows[0].LiveViolationCount)
}

func TestResultsListsOnlyFinalized(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	done, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)
	_, err = fx.svc.Submit(ctx, fx.examID, 1, map[string]string{fx.mcQ.String(): "B"})
	require.NoError(t, err)

	_, err = fx.svc.Start(ctx, fx.examID, 2, "ABC234")
	require.NoError(t, err)

	results, err := fx.svc.Results(ctx, fx.examID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, done.ID, results[0].ID)
	require.Equal(t, 10.0, *results[0].FinalScore)
}

func TestStartConcurrentRaceReturnsExisting(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	// Pre-create the row as the "winning" request would have.
	existing := &model.ExamAttempt{ExamID: fx.examID, StudentID: 1}
	require.NoError(t, fx.attempts.Create(ctx, existing))

	// A racing Create sees ON CONFLICT DO NOTHING (ErrNoRows) and re-fetches.
	attempt, err := fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.NoError(t, err)
	require.Equal(t, existing.ID, attempt.ID)
}
