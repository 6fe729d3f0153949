package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/smadigital/cbt-backend/internal/model"
)

type fakeCorrectionStore struct {
	entries  map[uuid.UUID][]model.CorrectionEntry
	attempts *fakeAttemptStore
}

func (f *fakeCorrectionStore) ListEntries(ctx context.Context, attemptID uuid.UUID) ([]model.CorrectionEntry, error) {
	return f.entries[attemptID], nil
}

func (f *fakeCorrectionStore) SaveAndFinalize(ctx context.Context, attemptID uuid.UUID, entries []model.CorrectionEntry, total float64) error {
	stored := make([]model.CorrectionEntry, len(entries))
	copy(stored, entries)
	f.entries[attemptID] = stored
	for _, a := range f.attempts.attempts {
		if a.ID == attemptID {
			a.Status = model.AttemptStatusFinalized
			score := total
			a.FinalScore = &score
		}
	}
	return nil
}

type correctionFixture struct {
	svc         *CorrectionService
	attempts    *fakeAttemptStore
	corrections *fakeCorrectionStore
	examID      uuid.UUID
	attemptID   uuid.UUID
	mcQ         uuid.UUID
	essay1      uuid.UUID
	essay2      uuid.UUID
}

// setupCorrection builds an attempt already in UNDER_CORRECTION: one
// multiple-choice question answered correctly (objective 10) and two essays.
func setupCorrection(t *testing.T) *correctionFixture {
	t.Helper()

	examID := uuid.New()
	mcQ := uuid.New()
	essay1 := uuid.New()
	essay2 := uuid.New()

	questions := &fakeQuestionStore{questions: map[uuid.UUID][]model.Question{
		examID: {
			{ID: mcQ, ExamID: examID, QuestionType: model.QuestionTypeMultipleChoice, CorrectOption: "B", Weight: 10},
			{ID: essay1, ExamID: examID, QuestionType: model.QuestionTypeEssay, QuestionText: "Jelaskan", Weight: 20},
			{ID: essay2, ExamID: examID, QuestionType: model.QuestionTypeEssay, QuestionText: "Uraikan", Weight: 30},
		},
	}}

	attempts := newFakeAttemptStore()
	now := time.Now()
	attempt := &model.ExamAttempt{
		ID:             uuid.New(),
		ExamID:         examID,
		StudentID:      1,
		Status:         model.AttemptStatusUnderCorrection,
		StartedAt:      now.Add(-time.Hour),
		SubmittedAt:    &now,
		ObjectiveScore: 10,
	}
	attempts.attempts[attemptKey{examID, 1}] = attempt
	attempts.answers[attempt.ID] = map[string]string{
		mcQ.String():    "B",
		essay1.String(): "Jawaban pertama",
		essay2.String(): "Jawaban kedua",
	}

	corrections := &fakeCorrectionStore{
		entries:  make(map[uuid.UUID][]model.CorrectionEntry),
		attempts: attempts,
	}

	svc := NewCorrectionService(attempts, questions, corrections, zerolog.Nop())

	return &correctionFixture{
		svc:         svc,
		attempts:    attempts,
		corrections: corrections,
		examID:      examID,
		attemptID:   attempt.ID,
		mcQ:         mcQ,
		essay1:      essay1,
		essay2:      essay2,
	}
}

func TestListCandidatesOnlyUnderCorrection(t *testing.T) {
	fx := setupCorrection(t)
	ctx := context.Background()

	// Add a finalized attempt of another student.
	done := &model.ExamAttempt{
		ID:     uuid.New(),
		ExamID: fx.examID, StudentID: 2,
		Status: model.AttemptStatusFinalized,
	}
	fx.attempts.attempts[attemptKey{fx.examID, 2}] = done

	candidates, err := fx.svc.ListCandidates(ctx, fx.examID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, fx.attemptID, candidates[0].ID)
}

func TestLoadForCorrectionListsOnlyEssays(t *testing.T) {
	fx := setupCorrection(t)
	ctx := context.Background()

	detail, err := fx.svc.LoadForCorrection(ctx, fx.attemptID)
	require.NoError(t, err)
	require.Equal(t, 10.0, detail.ObjectiveScore)
	require.Len(t, detail.Answers, 2)
	for _, a := range detail.Answers {
		require.Equal(t, model.QuestionTypeEssay, a.QuestionType)
		require.NotEmpty(t, a.Answer)
		require.Nil(t, a.AwardedScore)
	}
}

func TestLoadForCorrectionRejectsInProgress(t *testing.T) {
	fx := setupCorrection(t)
	ctx := context.Background()

	fx.attempts.attempts[attemptKey{fx.examID, 1}].Status = model.AttemptStatusInProgress

	_, err := fx.svc.LoadForCorrection(ctx, fx.attemptID)
	require.ErrorIs(t, err, ErrNotUnderCorrection)
}

func TestSaveCorrectionRequiresFullCoverage(t *testing.T) {
	fx := setupCorrection(t)
	ctx := context.Background()

	// Missing essay2.
	_, err := fx.svc.SaveCorrection(ctx, fx.attemptID, 9, &model.SaveCorrectionRequest{
		Entries: []model.SaveCorrectionEntry{
			{QuestionID: fx.essay1, Score: 15},
		},
	})
	require.ErrorIs(t, err, ErrIncompleteCorrection)

	// Entry for a non-essay question.
	_, err = fx.svc.SaveCorrection(ctx, fx.attemptID, 9, &model.SaveCorrectionRequest{
		Entries: []model.SaveCorrectionEntry{
			{QuestionID: fx.essay1, Score: 15},
			{QuestionID: fx.mcQ, Score: 5},
		},
	})
	require.ErrorIs(t, err, ErrUnknownCorrectionItem)

	// Attempt is untouched by failed saves.
	attempt, err := fx.attempts.GetByID(ctx, fx.attemptID)
	require.NoError(t, err)
	require.Equal(t, model.AttemptStatusUnderCorrection, attempt.Status)
	require.Nil(t, attempt.FinalScore)
}

func TestSaveCorrectionComputesTotalServerSide(t *testing.T) {
	fx := setupCorrection(t)
	ctx := context.Background()

	attempt, err := fx.svc.SaveCorrection(ctx, fx.attemptID, 9, &model.SaveCorrectionRequest{
		Entries: []model.SaveCorrectionEntry{
			{QuestionID: fx.essay1, Score: 15},
			{QuestionID: fx.essay2, Score: 25},
		},
	})
	require.NoError(t, err)
	require.Equal(t, model.AttemptStatusFinalized, attempt.Status)
	// 10 objective + 15 + 25 essay.
	require.Equal(t, 50.0, *attempt.FinalScore)
}

func TestSaveCorrectionClampsToQuestionWeight(t *testing.T) {
	fx := setupCorrection(t)
	ctx := context.Background()

	attempt, err := fx.svc.SaveCorrection(ctx, fx.attemptID, 9, &model.SaveCorrectionRequest{
		Entries: []model.SaveCorrectionEntry{
			{QuestionID: fx.essay1, Score: 100}, // weight is 20
			{QuestionID: fx.essay2, Score: 30},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 60.0, *attempt.FinalScore)
}

func TestReCorrectionReplacesNotStacks(t *testing.T) {
	fx := setupCorrection(t)
	ctx := context.Background()

	_, err := fx.svc.SaveCorrection(ctx, fx.attemptID, 9, &model.SaveCorrectionRequest{
		Entries: []model.SaveCorrectionEntry{
			{QuestionID: fx.essay1, Score: 15},
			{QuestionID: fx.essay2, Score: 25},
		},
	})
	require.NoError(t, err)

	// The grader revisits the now-finalized attempt with different scores.
	detail, err := fx.svc.LoadForCorrection(ctx, fx.attemptID)
	require.NoError(t, err)
	for _, a := range detail.Answers {
		require.NotNil(t, a.AwardedScore)
	}

	attempt, err := fx.svc.SaveCorrection(ctx, fx.attemptID, 9, &model.SaveCorrectionRequest{
		Entries: []model.SaveCorrectionEntry{
			{QuestionID: fx.essay1, Score: 5},
			{QuestionID: fx.essay2, Score: 10},
		},
	})
	require.NoError(t, err)
	// Replaced, not accumulated: 10 + 5 + 10.
	require.Equal(t, 25.0, *attempt.FinalScore)
	require.Len(t, fx.corrections.entries[fx.attemptID], 2)
}
