package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/smadigital/cbt-backend/internal/model"
)

// AttemptResult combines student identity with their attempt outcome for
// the admin results and monitoring views.
type AttemptResult struct {
	AttemptID      uuid.UUID           `json:"attempt_id"`
	StudentID      int                 `json:"student_id"`
	StudentName    string              `json:"student_name"`
	Username       string              `json:"username"`
	Status         model.AttemptStatus `json:"status"`
	ViolationCount int                 `json:"violation_count"`
	StartedAt      time.Time           `json:"started_at"`
	SubmittedAt    *time.Time          `json:"submitted_at,omitempty"`
	FinalScore     *float64            `json:"final_score,omitempty"`
}

// AttemptRepository handles exam attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, status, started_at, submitted_at,
		        violation_count, objective_score, final_score
		 FROM exam_attempts WHERE id = $1`, id,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.StartedAt, &a.SubmittedAt,
		&a.ViolationCount, &a.ObjectiveScore, &a.FinalScore)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByExamAndStudent retrieves the attempt for an exam-student pair.
func (r *AttemptRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, status, started_at, submitted_at,
		        violation_count, objective_score, final_score
		 FROM exam_attempts
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.StartedAt, &a.SubmittedAt,
		&a.ViolationCount, &a.ObjectiveScore, &a.FinalScore)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new attempt. The unique (exam_id, student_id) constraint
// makes concurrent starts collapse to one row; callers must treat
// pgx.ErrNoRows as "someone else won the race" and re-fetch.
func (r *AttemptRepository) Create(ctx context.Context, a *model.ExamAttempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (exam_id, student_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING id, started_at`,
		a.ExamID, a.StudentID, model.AttemptStatusInProgress,
	).Scan(&a.ID, &a.StartedAt)
}

// CompleteSubmission moves an IN_PROGRESS attempt to its post-submit status
// (FINALIZED or UNDER_CORRECTION), recording scores. The status guard in the
// WHERE clause is what serializes racing submits: only one caller observes
// updated=true.
func (r *AttemptRepository) CompleteSubmission(ctx context.Context, attemptID uuid.UUID, status model.AttemptStatus, objective float64, final *float64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = $1, objective_score = $2, final_score = $3, submitted_at = NOW()
		 WHERE id = $4 AND status = $5`,
		status, objective, final, attemptID, model.AttemptStatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListByExamAndStatus retrieves attempts of an exam in a given state.
func (r *AttemptRepository) ListByExamAndStatus(ctx context.Context, examID uuid.UUID, status model.AttemptStatus) ([]model.ExamAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, status, started_at, submitted_at,
		        violation_count, objective_score, final_score
		 FROM exam_attempts
		 WHERE exam_id = $1 AND status = $2
		 ORDER BY started_at ASC`, examID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// ListByStudent retrieves all attempts of a student, newest first.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID int) ([]model.ExamAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, status, started_at, submitted_at,
		        violation_count, objective_score, final_score
		 FROM exam_attempts
		 WHERE student_id = $1
		 ORDER BY started_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// ReplaceAnswers upserts the full buffered answer set of an attempt in one
// transaction. Called at submit; incremental autosave goes through the
// worker instead.
func (r *AttemptRepository) ReplaceAnswers(ctx context.Context, attemptID uuid.UUID, answers map[string]string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for qidStr, answer := range answers {
		qid, err := uuid.Parse(qidStr)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO attempt_answers (attempt_id, question_id, answer)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (attempt_id, question_id) DO UPDATE
			 SET answer = EXCLUDED.answer, updated_at = NOW()`,
			attemptID, qid, answer); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ListAnswers retrieves an attempt's persisted answers.
func (r *AttemptRepository) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.AttemptAnswer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, question_id, answer, updated_at
		 FROM attempt_answers
		 WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.AttemptAnswer
	for rows.Next() {
		var a model.AttemptAnswer
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &a.Answer, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// Reset deletes an attempt and everything hanging off it, returning the
// exam-student pair to NotStarted. Explicit and irreversible.
func (r *AttemptRepository) Reset(ctx context.Context, attemptID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, q := range []string{
		`DELETE FROM correction_entries WHERE attempt_id = $1`,
		`DELETE FROM attempt_answers WHERE attempt_id = $1`,
		`DELETE FROM attempt_violations WHERE attempt_id = $1`,
		`DELETE FROM exam_attempts WHERE id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, attemptID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ListResultsByExam retrieves all student outcomes for an exam with
// pagination, for the admin results and monitoring views.
func (r *AttemptRepository) ListResultsByExam(ctx context.Context, examID uuid.UUID, page, perPage int) ([]AttemptResult, int64, error) {
	offset := (page - 1) * perPage

	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_attempts WHERE exam_id = $1`, examID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.student_id, u.name, u.username, a.status,
		        a.violation_count, a.started_at, a.submitted_at, a.final_score
		 FROM exam_attempts a
		 JOIN users u ON a.student_id = u.id
		 WHERE a.exam_id = $1
		 ORDER BY u.name ASC
		 LIMIT $2 OFFSET $3`, examID, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []AttemptResult
	for rows.Next() {
		var res AttemptResult
		if err := rows.Scan(&res.AttemptID, &res.StudentID, &res.StudentName, &res.Username,
			&res.Status, &res.ViolationCount, &res.StartedAt, &res.SubmittedAt,
			&res.FinalScore); err != nil {
			return nil, 0, err
		}
		results = append(results, res)
	}
	return results, total, rows.Err()
}

func scanAttempts(rows pgx.Rows) ([]model.ExamAttempt, error) {
	var attempts []model.ExamAttempt
	for rows.Next() {
		var a model.ExamAttempt
		if err := rows.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.StartedAt,
			&a.SubmittedAt, &a.ViolationCount, &a.ObjectiveScore, &a.FinalScore); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
