package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/smadigital/cbt-backend/internal/model"
)

// CorrectionRepository handles essay correction data access.
type CorrectionRepository struct {
	pool *pgxpool.Pool
}

// NewCorrectionRepository creates a new CorrectionRepository.
func NewCorrectionRepository(pool *pgxpool.Pool) *CorrectionRepository {
	return &CorrectionRepository{pool: pool}
}

// ListEntries retrieves previously awarded essay scores for an attempt.
func (r *CorrectionRepository) ListEntries(ctx context.Context, attemptID uuid.UUID) ([]model.CorrectionEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, question_id, awarded_score, graded_by, graded_at
		 FROM correction_entries
		 WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.CorrectionEntry
	for rows.Next() {
		var e model.CorrectionEntry
		if err := rows.Scan(&e.AttemptID, &e.QuestionID, &e.AwardedScore, &e.GradedBy, &e.GradedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveAndFinalize applies the complete entry set and the recomputed total in
// one transaction: either every entry lands and the attempt becomes
// FINALIZED, or nothing changes. Re-correction replaces old entries, so the
// total is always computed from the ones provided, never from deltas.
func (r *CorrectionRepository) SaveAndFinalize(ctx context.Context, attemptID uuid.UUID, entries []model.CorrectionEntry, total float64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM correction_entries WHERE attempt_id = $1`, attemptID); err != nil {
		return err
	}

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO correction_entries (attempt_id, question_id, awarded_score, graded_by)
			 VALUES ($1, $2, $3, $4)`,
			attemptID, e.QuestionID, e.AwardedScore, e.GradedBy); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE exam_attempts SET status = $1, final_score = $2 WHERE id = $3`,
		model.AttemptStatusFinalized, total, attemptID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
