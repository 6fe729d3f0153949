package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/smadigital/cbt-backend/internal/model"
)

func setupExam(t *testing.T) (*ExamService, *fakeExamStore) {
	t.Helper()
	exams := &fakeExamStore{exams: map[uuid.UUID]*model.Exam{}}
	return NewExamService(exams, testConfig(), zerolog.Nop()), exams
}

func TestCreateExamGeneratesEntryToken(t *testing.T) {
	svc, exams := setupExam(t)
	ctx := context.Background()

	exam, err := svc.Create(ctx, 7, &model.CreateExamRequest{
		Title:           "Bahasa Indonesia",
		Subject:         "BIN",
		StartsAt:        time.Now().Add(time.Hour),
		EndsAt:          time.Now().Add(3 * time.Hour),
		DurationMinutes: 90,
	})
	require.NoError(t, err)
	require.Len(t, exam.EntryToken, 6)
	for _, r := range exam.EntryToken {
		require.True(t, strings.ContainsRune(entryTokenCharset, r), "token character %q outside charset", r)
	}
	require.Equal(t, 7, exam.AuthorID)
	require.Equal(t, model.ExamVisible, exam.Visibility)
	require.Contains(t, exams.exams, exam.ID)
}

func TestRefreshTokenInvalidatesOldTokenOnStart(t *testing.T) {
	fx := setupAttempt(t, false)
	ctx := context.Background()

	examSvc := NewExamService(fx.exams, testConfig(), zerolog.Nop())

	rotated, err := examSvc.RefreshToken(ctx, fx.examID)
	require.NoError(t, err)
	require.NotEqual(t, "ABC234", rotated)

	// The pre-rotation token no longer opens the exam, and the failed start
	// leaves no attempt row behind.
	_, err = fx.svc.Start(ctx, fx.examID, 1, "ABC234")
	require.ErrorIs(t, err, ErrTokenMismatch)
	require.Empty(t, fx.attempts.attempts)

	// The rotated token does.
	attempt, err := fx.svc.Start(ctx, fx.examID, 1, rotated)
	require.NoError(t, err)
	require.Equal(t, model.AttemptStatusInProgress, attempt.Status)
}

func TestRefreshTokenUnknownExam(t *testing.T) {
	svc, _ := setupExam(t)

	_, err := svc.RefreshToken(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestListClampsPaging(t *testing.T) {
	svc, exams := setupExam(t)
	ctx := context.Background()

	id := uuid.New()
	exams.exams[id] = &model.Exam{ID: id, Title: "Fisika"}

	// Nonsense paging values fall back to defaults instead of erroring.
	list, total, err := svc.List(ctx, -3, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, list, 1)
}
