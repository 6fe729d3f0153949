package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates exam attempt states. NotStarted has no row:
// start creates the attempt, an administrator reset deletes it. Grading runs
// synchronously inside submit, so an attempt moves from IN_PROGRESS straight
// to UNDER_CORRECTION (essays pending) or FINALIZED; there is no transient
// submitted-but-ungraded state to persist.
type AttemptStatus string

const (
	AttemptStatusInProgress      AttemptStatus = "IN_PROGRESS"
	AttemptStatusUnderCorrection AttemptStatus = "UNDER_CORRECTION"
	AttemptStatusFinalized       AttemptStatus = "FINALIZED"
)

// Terminal reports whether the attempt can no longer be started again.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusUnderCorrection || s == AttemptStatusFinalized
}

// ExamAttempt represents one student's run through one exam.
type ExamAttempt struct {
	ID             uuid.UUID     `json:"id"`
	ExamID         uuid.UUID     `json:"exam_id"`
	StudentID      int           `json:"student_id"`
	Status         AttemptStatus `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	SubmittedAt    *time.Time    `json:"submitted_at,omitempty"`
	ViolationCount int           `json:"violation_count"`
	ObjectiveScore float64       `json:"objective_score"`
	FinalScore     *float64      `json:"final_score,omitempty"`
}

// AttemptAnswer is one buffered answer, keyed by question.
type AttemptAnswer struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	QuestionID uuid.UUID `json:"question_id"`
	Answer     string    `json:"answer"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Violation is an append-only proctoring event record.
type Violation struct {
	ID         int64     `json:"id"`
	AttemptID  uuid.UUID `json:"attempt_id"`
	Kind       string    `json:"kind"`
	RecordedAt time.Time `json:"recorded_at"`
}

// AttemptState is the reload-support snapshot for an in-progress attempt.
type AttemptState struct {
	AttemptID        uuid.UUID         `json:"attempt_id"`
	ExamID           uuid.UUID         `json:"exam_id"`
	Status           AttemptStatus     `json:"status"`
	BufferedAnswers  map[string]string `json:"buffered_answers"`
	RemainingSeconds float64           `json:"remaining_seconds"`
}

// SubmitRequest carries the full set of buffered answers, not diffs.
type SubmitRequest struct {
	Answers map[string]string `json:"answers" binding:"required"`
}

// SubmitResult distinguishes a synchronously finalized attempt from one
// entering manual correction. FinalScore is nil iff PendingCorrection.
type SubmitResult struct {
	Attempt           *ExamAttempt `json:"attempt"`
	PendingCorrection bool         `json:"pending_correction"`
	FinalScore        *float64     `json:"final_score,omitempty"`
}

// SaveAnswerRequest is the payload for the incremental autosave endpoint.
type SaveAnswerRequest struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	Answer     string    `json:"answer" binding:"max=10000"`
}

// ReportViolationRequest is the payload for the violation reporter.
type ReportViolationRequest struct {
	Kind string `json:"kind" binding:"required,max=64"`
}
