package model

import (
	"time"

	"github.com/google/uuid"
)

// CorrectionEntry is an administrator's score for one essay question of
// an attempt under correction.
type CorrectionEntry struct {
	AttemptID    uuid.UUID `json:"attempt_id"`
	QuestionID   uuid.UUID `json:"question_id"`
	AwardedScore float64   `json:"awarded_score"`
	GradedBy     int       `json:"graded_by"`
	GradedAt     time.Time `json:"graded_at"`
}

// CorrectionDetail is everything an administrator needs to grade an attempt:
// the student's answers with question context and the objective sub-score
// already computed at submit time.
type CorrectionDetail struct {
	Attempt        *ExamAttempt       `json:"attempt"`
	ObjectiveScore float64            `json:"objective_score"`
	Answers        []CorrectionAnswer `json:"answers"`
}

// CorrectionAnswer pairs a question with the student's answer and, for
// re-correction, any previously awarded score.
type CorrectionAnswer struct {
	QuestionID   uuid.UUID    `json:"question_id"`
	QuestionType QuestionType `json:"question_type"`
	QuestionText string       `json:"question_text"`
	Weight       float64      `json:"weight"`
	Answer       string       `json:"answer"`
	AwardedScore *float64     `json:"awarded_score,omitempty"`
}

// SaveCorrectionRequest carries the complete entry set for an attempt.
type SaveCorrectionRequest struct {
	Entries []SaveCorrectionEntry `json:"entries" binding:"required,min=1,dive"`
}

// SaveCorrectionEntry is one awarded essay score.
type SaveCorrectionEntry struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	Score      float64   `json:"score" binding:"min=0"`
}
