package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionType distinguishes auto-graded from manually corrected questions.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeEssay          QuestionType = "ESSAY"
)

// Question represents a single exam question. CorrectOption is empty for
// essay questions; those are scored through the correction workflow.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	ExamID        uuid.UUID       `json:"exam_id"`
	QuestionType  QuestionType    `json:"question_type"`
	QuestionText  string          `json:"question_text"`
	Options       json.RawMessage `json:"options,omitempty"`
	CorrectOption string          `json:"-"`
	Weight        float64         `json:"weight"`
	OrderNum      int             `json:"order_num"`
}
