package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/smadigital/cbt-backend/internal/model"
)

// ExamRepository handles exam schedule data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, subject, author_id, entry_token, starts_at, ends_at,
		        duration_minutes, visibility, created_at, updated_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.Subject, &e.AuthorID, &e.EntryToken, &e.StartsAt,
		&e.EndsAt, &e.DurationMinutes, &e.Visibility, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Create inserts a new exam schedule.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, subject, author_id, entry_token, starts_at, ends_at,
		                    duration_minutes, visibility)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Subject, e.AuthorID, e.EntryToken, e.StartsAt, e.EndsAt,
		e.DurationMinutes, e.Visibility,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// ListPaginated retrieves exams ordered by schedule start, newest first.
func (r *ExamRepository) ListPaginated(ctx context.Context, limit, offset int) ([]model.Exam, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exams`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, title, subject, author_id, entry_token, starts_at, ends_at,
		        duration_minutes, visibility, created_at, updated_at
		 FROM exams
		 ORDER BY starts_at DESC
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.Subject, &e.AuthorID, &e.EntryToken,
			&e.StartsAt, &e.EndsAt, &e.DurationMinutes, &e.Visibility,
			&e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, 0, err
		}
		exams = append(exams, e)
	}
	return exams, total, rows.Err()
}

// ListVisible returns exams students may see on their dashboard.
func (r *ExamRepository) ListVisible(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, subject, author_id, entry_token, starts_at, ends_at,
		        duration_minutes, visibility, created_at, updated_at
		 FROM exams
		 WHERE visibility = $1
		 ORDER BY starts_at ASC`, model.ExamVisible)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.Subject, &e.AuthorID, &e.EntryToken,
			&e.StartsAt, &e.EndsAt, &e.DurationMinutes, &e.Visibility,
			&e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// UpdateEntryToken rotates the exam's live access token.
func (r *ExamRepository) UpdateEntryToken(ctx context.Context, id uuid.UUID, token string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams SET entry_token = $1, updated_at = NOW() WHERE id = $2`,
		token, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("exam %s not found", id)
	}
	return nil
}

// Delete removes an exam schedule.
func (r *ExamRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM exams WHERE id = $1`, id)
	return err
}
