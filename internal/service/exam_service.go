package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/smadigital/cbt-backend/internal/config"
	"github.com/smadigital/cbt-backend/internal/model"
)

// Ambiguous characters (0/O, 1/I/L) are excluded so tokens survive being
// read aloud or written on a whiteboard.
const entryTokenCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// ExamAdminStore is the exam storage consumed by ExamService.
type ExamAdminStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	Create(ctx context.Context, e *model.Exam) error
	ListPaginated(ctx context.Context, limit, offset int) ([]model.Exam, int, error)
	UpdateEntryToken(ctx context.Context, id uuid.UUID, token string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ExamService manages exam schedules and their entry tokens.
type ExamService struct {
	exams ExamAdminStore
	cfg   *config.Config
	log   zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(exams ExamAdminStore, cfg *config.Config, log zerolog.Logger) *ExamService {
	return &ExamService{
		exams: exams,
		cfg:   cfg,
		log:   log.With().Str("component", "exam_service").Logger(),
	}
}

// Create schedules a new exam with a freshly generated entry token.
func (s *ExamService) Create(ctx context.Context, authorID int, req *model.CreateExamRequest) (*model.Exam, error) {
	token, err := s.generateEntryToken()
	if err != nil {
		return nil, fmt.Errorf("generate entry token: %w", err)
	}

	exam := &model.Exam{
		Title:           req.Title,
		Subject:         req.Subject,
		AuthorID:        authorID,
		EntryToken:      token,
		StartsAt:        req.StartsAt,
		EndsAt:          req.EndsAt,
		DurationMinutes: req.DurationMinutes,
		Visibility:      model.ExamVisible,
	}
	if err := s.exams.Create(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}

	s.log.Info().Str("exam_id", exam.ID.String()).Str("title", exam.Title).Msg("Exam created")
	return exam, nil
}

// GetByID returns one exam with its live entry token.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return s.exams.GetByID(ctx, id)
}

// List returns a page of exams for the admin table.
func (s *ExamService) List(ctx context.Context, page, perPage int) ([]model.Exam, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return s.exams.ListPaginated(ctx, perPage, (page-1)*perPage)
}

// RefreshToken rotates the exam's entry token. Students who already started
// are unaffected; anyone holding the old token can no longer start.
func (s *ExamService) RefreshToken(ctx context.Context, id uuid.UUID) (string, error) {
	token, err := s.generateEntryToken()
	if err != nil {
		return "", fmt.Errorf("generate entry token: %w", err)
	}
	if err := s.exams.UpdateEntryToken(ctx, id, token); err != nil {
		return "", err
	}

	s.log.Info().Str("exam_id", id.String()).Msg("Entry token rotated")
	return token, nil
}

// Delete removes an exam schedule.
func (s *ExamService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.exams.Delete(ctx, id)
}

func (s *ExamService) generateEntryToken() (string, error) {
	length := s.cfg.EntryTokenLength
	if length <= 0 {
		length = 6
	}
	buf := make([]byte, length)
	max := big.NewInt(int64(len(entryTokenCharset)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = entryTokenCharset[n.Int64()]
	}
	return string(buf), nil
}
