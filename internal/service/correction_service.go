package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/smadigital/cbt-backend/internal/model"
)

// Correction workflow errors.
var (
	ErrNotUnderCorrection    = errors.New("attempt is not awaiting correction")
	ErrIncompleteCorrection  = errors.New("correction does not cover every essay question")
	ErrUnknownCorrectionItem = errors.New("correction entry references a question not in the exam")
)

// CorrectionStore is the correction entry storage consumed by
// CorrectionService.
type CorrectionStore interface {
	ListEntries(ctx context.Context, attemptID uuid.UUID) ([]model.CorrectionEntry, error)
	SaveAndFinalize(ctx context.Context, attemptID uuid.UUID, entries []model.CorrectionEntry, total float64) error
}

// CorrectionService drives manual essay grading: candidate listing, loading
// an attempt's answers for review, and the atomic save-and-finalize step.
type CorrectionService struct {
	attempts    AttemptStore
	questions   QuestionStore
	corrections CorrectionStore
	log         zerolog.Logger
}

// NewCorrectionService creates a new CorrectionService.
func NewCorrectionService(attempts AttemptStore, questions QuestionStore, corrections CorrectionStore, log zerolog.Logger) *CorrectionService {
	return &CorrectionService{
		attempts:    attempts,
		questions:   questions,
		corrections: corrections,
		log:         log.With().Str("component", "correction_service").Logger(),
	}
}

// ListCandidates returns the attempts of an exam that are waiting for manual
// grading. Finalized attempts are not candidates; re-correction goes through
// LoadForCorrection directly.
func (s *CorrectionService) ListCandidates(ctx context.Context, examID uuid.UUID) ([]model.ExamAttempt, error) {
	return s.attempts.ListByExamAndStatus(ctx, examID, model.AttemptStatusUnderCorrection)
}

// LoadForCorrection assembles the grading view for one attempt: every essay
// answer with its question context, the objective sub-score from submit
// time, and any previously awarded scores. Open for both UNDER_CORRECTION
// and FINALIZED attempts so a finished correction can be revisited.
func (s *CorrectionService) LoadForCorrection(ctx context.Context, attemptID uuid.UUID) (*model.CorrectionDetail, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.Status != model.AttemptStatusUnderCorrection && attempt.Status != model.AttemptStatusFinalized {
		return nil, ErrNotUnderCorrection
	}

	questions, err := s.questions.ListByExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	answers, err := s.attempts.ListAnswers(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	answerByQuestion := make(map[uuid.UUID]string, len(answers))
	for _, a := range answers {
		answerByQuestion[a.QuestionID] = a.Answer
	}

	prior, err := s.corrections.ListEntries(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list prior entries: %w", err)
	}
	priorByQuestion := make(map[uuid.UUID]float64, len(prior))
	for _, e := range prior {
		priorByQuestion[e.QuestionID] = e.AwardedScore
	}

	detail := &model.CorrectionDetail{
		Attempt:        attempt,
		ObjectiveScore: attempt.ObjectiveScore,
	}
	for _, q := range questions {
		if q.QuestionType != model.QuestionTypeEssay {
			continue
		}
		item := model.CorrectionAnswer{
			QuestionID:   q.ID,
			QuestionType: q.QuestionType,
			QuestionText: q.QuestionText,
			Weight:       q.Weight,
			Answer:       answerByQuestion[q.ID],
		}
		if score, ok := priorByQuestion[q.ID]; ok {
			prev := score
			item.AwardedScore = &prev
		}
		detail.Answers = append(detail.Answers, item)
	}
	return detail, nil
}

// SaveCorrection validates that the submitted entries cover exactly the
// attempt's essay questions, computes the final score server-side as
// objective sub-score plus awarded essay points, and persists entries and
// finalization in one transaction. Idempotent: saving again replaces the
// previous entries and recomputes the total, it never stacks.
func (s *CorrectionService) SaveCorrection(ctx context.Context, attemptID uuid.UUID, graderID int, req *model.SaveCorrectionRequest) (*model.ExamAttempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.Status != model.AttemptStatusUnderCorrection && attempt.Status != model.AttemptStatusFinalized {
		return nil, ErrNotUnderCorrection
	}

	questions, err := s.questions.ListByExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	essays := make(map[uuid.UUID]float64)
	for _, q := range questions {
		if q.QuestionType == model.QuestionTypeEssay {
			essays[q.ID] = q.Weight
		}
	}

	now := time.Now()
	seen := make(map[uuid.UUID]bool, len(req.Entries))
	entries := make([]model.CorrectionEntry, 0, len(req.Entries))
	essayTotal := 0.0
	for _, e := range req.Entries {
		weight, ok := essays[e.QuestionID]
		if !ok {
			return nil, ErrUnknownCorrectionItem
		}
		if seen[e.QuestionID] {
			return nil, ErrUnknownCorrectionItem
		}
		seen[e.QuestionID] = true

		score := e.Score
		if score > weight {
			score = weight
		}
		essayTotal += score
		entries = append(entries, model.CorrectionEntry{
			AttemptID:    attemptID,
			QuestionID:   e.QuestionID,
			AwardedScore: score,
			GradedBy:     graderID,
			GradedAt:     now,
		})
	}
	if len(seen) != len(essays) {
		return nil, ErrIncompleteCorrection
	}

	total := attempt.ObjectiveScore + essayTotal
	if err := s.corrections.SaveAndFinalize(ctx, attemptID, entries, total); err != nil {
		return nil, fmt.Errorf("save correction: %w", err)
	}

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("grader_id", graderID).
		Float64("final_score", total).
		Msg("Correction saved")

	attempt.Status = model.AttemptStatusFinalized
	attempt.FinalScore = &total
	return attempt, nil
}
