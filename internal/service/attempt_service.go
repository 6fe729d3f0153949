package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/smadigital/cbt-backend/internal/config"
	"github.com/smadigital/cbt-backend/internal/model"
	"github.com/smadigital/cbt-backend/internal/repository"
)

// Attempt lifecycle errors.
var (
	ErrTokenMismatch    = errors.New("entry token mismatch")
	ErrWindowClosed     = errors.New("exam is outside its scheduled window")
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	ErrNotInProgress    = errors.New("attempt is not in progress")
	ErrSubmitInFlight   = errors.New("a submit is already in flight for this attempt")
)

// ExamStore is the exam schedule storage consumed by AttemptService.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListVisible(ctx context.Context) ([]model.Exam, error)
}

// QuestionStore provides the question set used for grading.
type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// AttemptStore is the attempt storage consumed by AttemptService.
type AttemptStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error)
	GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error)
	Create(ctx context.Context, a *model.ExamAttempt) error
	CompleteSubmission(ctx context.Context, attemptID uuid.UUID, status model.AttemptStatus, objective float64, final *float64) (bool, error)
	ListByExamAndStatus(ctx context.Context, examID uuid.UUID, status model.AttemptStatus) ([]model.ExamAttempt, error)
	ListByStudent(ctx context.Context, studentID int) ([]model.ExamAttempt, error)
	ReplaceAnswers(ctx context.Context, attemptID uuid.UUID, answers map[string]string) error
	ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.AttemptAnswer, error)
	Reset(ctx context.Context, attemptID uuid.UUID) error
	ListResultsByExam(ctx context.Context, examID uuid.UUID, page, perPage int) ([]repository.AttemptResult, int64, error)
}

// MonitorEvent is published to the exam's Redis channel for live proctoring
// consumers (the admin websocket stream).
type MonitorEvent struct {
	Type           string    `json:"type"` // "started" | "violation" | "submitted"
	ExamID         string    `json:"exam_id"`
	AttemptID      string    `json:"attempt_id"`
	StudentID      int       `json:"student_id"`
	ViolationCount int64     `json:"violation_count,omitempty"`
	Kind           string    `json:"kind,omitempty"`
	At             time.Time `json:"at"`
}

// StudentExam is an exam as shown on the student dashboard, with the
// student's own attempt state overlaid.
type StudentExam struct {
	model.Exam
	AttemptStatus *model.AttemptStatus `json:"attempt_status,omitempty"`
	FinalScore    *float64             `json:"final_score,omitempty"`
}

// MonitorRow is one student's live proctoring row: the persisted attempt
// overlaid with the not-yet-flushed Redis violation counter.
type MonitorRow struct {
	repository.AttemptResult
	LiveViolationCount int64 `json:"live_violation_count"`
}

// AttemptService is the exam attempt state machine: token-gated start,
// answer buffering, violation dispatch, submission and grading.
type AttemptService struct {
	exams     ExamStore
	questions QuestionStore
	attempts  AttemptStore
	rdb       *redis.Client
	cfg       *config.Config
	log       zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	exams ExamStore,
	questions QuestionStore,
	attempts AttemptStore,
	rdb *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		exams:     exams,
		questions: questions,
		attempts:  attempts,
		rdb:       rdb,
		cfg:       cfg,
		log:       log.With().Str("component", "attempt_service").Logger(),
	}
}

// Start validates the entry token and schedule window and opens an attempt.
// Safe to retry: if the student already holds an IN_PROGRESS attempt the
// same attempt is returned, never a duplicate. A token mismatch creates no
// attempt record. The token comparison is exact-match against the exam's
// current live token, so a rotated token invalidates unstarted holders of
// the old one.
func (s *AttemptService) Start(ctx context.Context, examID uuid.UUID, studentID int, token string) (*model.ExamAttempt, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	existing, err := s.attempts.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing attempt: %w", err)
	}

	if existing != nil {
		if existing.Status.Terminal() {
			return nil, ErrAlreadySubmitted
		}
		// Reload/second-device case: re-seed the start-time cache and hand
		// back the open attempt.
		s.cacheStart(ctx, existing)
		return existing, nil
	}

	if exam.EntryToken != token {
		return nil, ErrTokenMismatch
	}

	if !exam.WindowOpen(time.Now()) {
		return nil, ErrWindowClosed
	}

	attempt := &model.ExamAttempt{
		ExamID:    examID,
		StudentID: studentID,
		Status:    model.AttemptStatusInProgress,
	}

	if err := s.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent start: someone else created the row first.
			existing, fetchErr := s.attempts.GetByExamAndStudent(ctx, examID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			if existing.Status.Terminal() {
				return nil, ErrAlreadySubmitted
			}
			return existing, nil
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.cacheStart(ctx, attempt)
	s.publishMonitor(ctx, &MonitorEvent{
		Type:      "started",
		ExamID:    examID.String(),
		AttemptID: attempt.ID.String(),
		StudentID: studentID,
		At:        time.Now(),
	})

	return attempt, nil
}

// saveAnswerScript buffers an answer only while no submit lease is held.
// The lease check and the hash write have to be one atomic step: a lease
// taken between them would let a late answer recreate the buffer key after
// grading already consumed it.
var saveAnswerScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// SaveAnswer buffers one answer in Redis and enqueues it for durable
// autosave. Legal only while the attempt is IN_PROGRESS; once a submit has
// taken the lease, concurrent saves are rejected rather than interleaved.
func (s *AttemptService) SaveAnswer(ctx context.Context, examID uuid.UUID, studentID int, questionID uuid.UUID, answer string) error {
	attempt, err := s.inProgressAttempt(ctx, examID, studentID)
	if err != nil {
		return err
	}

	stored, err := saveAnswerScript.Run(ctx, s.rdb,
		[]string{
			config.CacheKey.AttemptSubmitLeaseKey(attempt.ID.String()),
			config.CacheKey.AttemptAnswersKey(attempt.ID.String()),
		},
		questionID.String(), answer,
	).Int()
	if err != nil {
		return fmt.Errorf("buffer answer: %w", err)
	}
	if stored == 0 {
		return ErrNotInProgress
	}

	payload, _ := json.Marshal(map[string]string{
		"attempt_id":  attempt.ID.String(),
		"question_id": questionID.String(),
		"answer":      answer,
	})
	if err := s.rdb.LPush(ctx, config.WorkerKey.PersistAnswersQueue, payload).Err(); err != nil {
		// The Redis hash still holds the answer; the worker upsert is a
		// durability bonus, not the buffer of record, so log and move on.
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Autosave enqueue failed")
	}

	return nil
}

// ReportViolation appends a proctoring event. Fire-and-forget from the
// student's perspective: the live counter increments exactly once per call,
// delivery to PostgreSQL is the worker's problem, and failures are logged
// rather than surfaced so the student learns nothing about detection.
func (s *AttemptService) ReportViolation(ctx context.Context, examID uuid.UUID, studentID int, kind string) (int64, error) {
	attempt, err := s.inProgressAttempt(ctx, examID, studentID)
	if err != nil {
		return 0, err
	}

	count, err := s.rdb.Incr(ctx, config.CacheKey.AttemptViolationsKey(attempt.ID.String())).Result()
	if err != nil {
		return 0, fmt.Errorf("increment violation counter: %w", err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"attempt_id": attempt.ID.String(),
		"kind":       kind,
		"timestamp":  time.Now().Unix(),
	})
	if err := s.rdb.LPush(ctx, config.WorkerKey.PersistViolationsQueue, payload).Err(); err != nil {
		s.log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Violation enqueue failed")
	}

	s.publishMonitor(ctx, &MonitorEvent{
		Type:           "violation",
		ExamID:         examID.String(),
		AttemptID:      attempt.ID.String(),
		StudentID:      studentID,
		ViolationCount: count,
		Kind:           kind,
		At:             time.Now(),
	})

	return count, nil
}

// Submit closes an IN_PROGRESS attempt with the full buffered answer set.
// Objective questions are graded here from the answer key; if the exam has
// essay questions the attempt enters UNDER_CORRECTION with no score,
// otherwise it is finalized synchronously. The two outcomes are distinct in
// the result; UNDER_CORRECTION is never coerced into a placeholder score.
func (s *AttemptService) Submit(ctx context.Context, examID uuid.UUID, studentID int, answers map[string]string) (*model.SubmitResult, error) {
	attempt, err := s.attempts.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotInProgress
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.Status.Terminal() {
		return nil, ErrAlreadySubmitted
	}

	// Per-attempt serialization: one submit at a time. The lease also makes
	// SaveAnswer reject late writes instead of interleaving with grading.
	leaseKey := config.CacheKey.AttemptSubmitLeaseKey(attempt.ID.String())
	ok, err := s.rdb.SetNX(ctx, leaseKey, "1", s.cfg.SubmitLeaseTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire submit lease: %w", err)
	}
	if !ok {
		return nil, ErrSubmitInFlight
	}
	defer s.rdb.Del(context.WithoutCancel(ctx), leaseKey)

	merged, err := s.mergeAnswers(ctx, attempt.ID, answers)
	if err != nil {
		return nil, err
	}

	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	objective, hasEssay := gradeObjective(questions, merged)

	if err := s.attempts.ReplaceAnswers(ctx, attempt.ID, merged); err != nil {
		return nil, fmt.Errorf("persist answers: %w", err)
	}

	status := model.AttemptStatusFinalized
	var final *float64
	if hasEssay {
		status = model.AttemptStatusUnderCorrection
	} else {
		score := objective
		final = &score
	}

	updated, err := s.attempts.CompleteSubmission(ctx, attempt.ID, status, objective, final)
	if err != nil {
		return nil, fmt.Errorf("complete submission: %w", err)
	}
	if !updated {
		// Lost a race with force-close; the attempt is closed either way.
		return nil, ErrAlreadySubmitted
	}

	s.cleanupAttemptCache(ctx, attempt)
	s.publishMonitor(ctx, &MonitorEvent{
		Type:      "submitted",
		ExamID:    examID.String(),
		AttemptID: attempt.ID.String(),
		StudentID: studentID,
		At:        time.Now(),
	})

	now := time.Now()
	attempt.Status = status
	attempt.SubmittedAt = &now
	attempt.ObjectiveScore = objective
	attempt.FinalScore = final

	return &model.SubmitResult{
		Attempt:           attempt,
		PendingCorrection: hasEssay,
		FinalScore:        final,
	}, nil
}

// ForceCloseExam is the proctor intervention: every IN_PROGRESS attempt of
// the exam is closed with whatever answers were buffered, regardless of
// student action. Returns how many attempts were closed.
func (s *AttemptService) ForceCloseExam(ctx context.Context, examID uuid.UUID) (int, error) {
	open, err := s.attempts.ListByExamAndStatus(ctx, examID, model.AttemptStatusInProgress)
	if err != nil {
		return 0, fmt.Errorf("list open attempts: %w", err)
	}

	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return 0, fmt.Errorf("list questions: %w", err)
	}

	closed := 0
	for i := range open {
		attempt := &open[i]

		merged, err := s.mergeAnswers(ctx, attempt.ID, nil)
		if err != nil {
			s.log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Force close: merge failed, skipping")
			continue
		}

		objective, hasEssay := gradeObjective(questions, merged)

		if err := s.attempts.ReplaceAnswers(ctx, attempt.ID, merged); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Force close: persist failed, skipping")
			continue
		}

		status := model.AttemptStatusFinalized
		var final *float64
		if hasEssay {
			status = model.AttemptStatusUnderCorrection
		} else {
			score := objective
			final = &score
		}

		updated, err := s.attempts.CompleteSubmission(ctx, attempt.ID, status, objective, final)
		if err != nil {
			s.log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Force close: update failed")
			continue
		}
		if updated {
			s.cleanupAttemptCache(ctx, attempt)
			closed++
		}
	}

	s.log.Info().Str("exam_id", examID.String()).Int("closed", closed).Msg("Exam force closed")
	return closed, nil
}

// ResetAttempt deletes an attempt with its answers, violations and
// correction entries, returning the student to NotStarted. Explicit admin
// action only; there are no implicit resets.
func (s *AttemptService) ResetAttempt(ctx context.Context, attemptID uuid.UUID) error {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("get attempt: %w", err)
	}

	if err := s.attempts.Reset(ctx, attemptID); err != nil {
		return fmt.Errorf("reset attempt: %w", err)
	}

	s.cleanupAttemptCache(ctx, attempt)
	s.rdb.Del(ctx, config.CacheKey.AttemptViolationsKey(attemptID.String()))
	return nil
}

// GetState is the reload path: buffered answers plus remaining time so the
// client can resume an in-progress attempt.
func (s *AttemptService) GetState(ctx context.Context, examID uuid.UUID, studentID int) (*model.AttemptState, error) {
	attempt, err := s.attempts.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	buffered, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attempt.ID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get buffered answers: %w", err)
	}
	if len(buffered) == 0 {
		// Cache evicted or fresh process: fall back to the autosaved rows.
		persisted, err := s.attempts.ListAnswers(ctx, attempt.ID)
		if err != nil {
			return nil, fmt.Errorf("list persisted answers: %w", err)
		}
		buffered = make(map[string]string, len(persisted))
		for _, a := range persisted {
			buffered[a.QuestionID.String()] = a.Answer
		}
	}

	remaining := 0.0
	if attempt.Status == model.AttemptStatusInProgress {
		startedAt := s.startTime(ctx, attempt)
		deadline := startedAt.Add(time.Duration(exam.DurationMinutes) * time.Minute)
		if exam.EndsAt.Before(deadline) {
			deadline = exam.EndsAt
		}
		if d := time.Until(deadline); d > 0 {
			remaining = d.Seconds()
		}
	}

	return &model.AttemptState{
		AttemptID:        attempt.ID,
		ExamID:           examID,
		Status:           attempt.Status,
		BufferedAnswers:  buffered,
		RemainingSeconds: remaining,
	}, nil
}

// ListStudentExams returns the visible exams with the student's own attempt
// status overlaid, for the student dashboard.
func (s *AttemptService) ListStudentExams(ctx context.Context, studentID int) ([]StudentExam, error) {
	exams, err := s.exams.ListVisible(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}

	attempts, err := s.attempts.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	byExam := make(map[uuid.UUID]*model.ExamAttempt, len(attempts))
	for i := range attempts {
		byExam[attempts[i].ExamID] = &attempts[i]
	}

	list := make([]StudentExam, 0, len(exams))
	for _, exam := range exams {
		exam.EntryToken = "" // Never leak the live token to students.
		entry := StudentExam{Exam: exam}
		if a, ok := byExam[exam.ID]; ok {
			entry.AttemptStatus = &a.Status
			entry.FinalScore = a.FinalScore
		}
		list = append(list, entry)
	}
	return list, nil
}

// Monitoring returns one row per attempt with the live Redis violation
// counter overlaid on the persisted one, for the proctoring table.
func (s *AttemptService) Monitoring(ctx context.Context, examID uuid.UUID, page, perPage int) ([]MonitorRow, int64, error) {
	results, total, err := s.attempts.ListResultsByExam(ctx, examID, page, perPage)
	if err != nil {
		return nil, 0, err
	}

	rows := make([]MonitorRow, 0, len(results))
	for _, res := range results {
		row := MonitorRow{AttemptResult: res, LiveViolationCount: int64(res.ViolationCount)}
		if raw, err := s.rdb.Get(ctx, config.CacheKey.AttemptViolationsKey(res.AttemptID.String())).Result(); err == nil {
			if live, err := strconv.ParseInt(raw, 10, 64); err == nil && live > row.LiveViolationCount {
				row.LiveViolationCount = live
			}
		}
		rows = append(rows, row)
	}
	return rows, total, nil
}

// Results lists finalized attempts for an exam, the post-correction view
// of the same data Monitoring shows live.
func (s *AttemptService) Results(ctx context.Context, examID uuid.UUID) ([]model.ExamAttempt, error) {
	if _, err := s.exams.GetByID(ctx, examID); err != nil {
		return nil, err
	}
	return s.attempts.ListByExamAndStatus(ctx, examID, model.AttemptStatusFinalized)
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

func (s *AttemptService) inProgressAttempt(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	attempt, err := s.attempts.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotInProgress
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.Status != model.AttemptStatusInProgress {
		return nil, ErrNotInProgress
	}
	return attempt, nil
}

// mergeAnswers overlays the submitted payload (if any) on the Redis buffer.
// The client's explicit submit set wins over stale buffer entries.
func (s *AttemptService) mergeAnswers(ctx context.Context, attemptID uuid.UUID, submitted map[string]string) (map[string]string, error) {
	buffered, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get buffered answers: %w", err)
	}
	merged := make(map[string]string, len(buffered)+len(submitted))
	for k, v := range buffered {
		merged[k] = v
	}
	for k, v := range submitted {
		merged[k] = v
	}
	return merged, nil
}

func (s *AttemptService) cacheStart(ctx context.Context, attempt *model.ExamAttempt) {
	id := attempt.ID.String()
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.AttemptStartKey(id), attempt.StartedAt.Unix(), 0)
	pipe.Set(ctx, config.CacheKey.StudentActiveAttemptKey(attempt.ExamID.String(), attempt.StudentID), id, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", id).Msg("Failed to cache start time")
	}
}

func (s *AttemptService) startTime(ctx context.Context, attempt *model.ExamAttempt) time.Time {
	val, err := s.rdb.Get(ctx, config.CacheKey.AttemptStartKey(attempt.ID.String())).Result()
	if err == nil {
		if unix, perr := strconv.ParseInt(val, 10, 64); perr == nil {
			return time.Unix(unix, 0)
		}
	}
	// Cache miss: the DB row is the source of truth. Self-heal for next time.
	_ = s.rdb.Set(ctx, config.CacheKey.AttemptStartKey(attempt.ID.String()), attempt.StartedAt.Unix(), 0)
	return attempt.StartedAt
}

func (s *AttemptService) cleanupAttemptCache(ctx context.Context, attempt *model.ExamAttempt) {
	id := attempt.ID.String()
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, config.CacheKey.AttemptAnswersKey(id))
	pipe.Del(ctx, config.CacheKey.AttemptStartKey(id))
	pipe.Del(ctx, config.CacheKey.StudentActiveAttemptKey(attempt.ExamID.String(), attempt.StudentID))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", id).Msg("Attempt cache cleanup failed")
	}
}

func (s *AttemptService) publishMonitor(ctx context.Context, ev *MonitorEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(ev.ExamID), data).Err(); err != nil {
		s.log.Debug().Err(err).Str("exam_id", ev.ExamID).Msg("Monitor publish failed")
	}
}

// gradeObjective sums the weights of correctly answered multiple-choice
// questions and reports whether the exam has any essay questions.
func gradeObjective(questions []model.Question, answers map[string]string) (float64, bool) {
	objective := 0.0
	hasEssay := false
	for _, q := range questions {
		switch q.QuestionType {
		case model.QuestionTypeEssay:
			hasEssay = true
		case model.QuestionTypeMultipleChoice:
			if ans, ok := answers[q.ID.String()]; ok && ans != "" && ans == q.CorrectOption {
				objective += q.Weight
			}
		}
	}
	return objective, hasEssay
}
