package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamVisibility controls whether students can see the exam in their list.
type ExamVisibility string

const (
	ExamVisible ExamVisibility = "VISIBLE"
	ExamHidden  ExamVisibility = "HIDDEN"
)

// Exam represents a scheduled exam. EntryToken is the live access code;
// rotating it invalidates any not-yet-started attempt holding the old value.
type Exam struct {
	ID              uuid.UUID      `json:"id"`
	Title           string         `json:"title"`
	Subject         string         `json:"subject"`
	AuthorID        int            `json:"author_id"`
	EntryToken      string         `json:"entry_token,omitempty"`
	StartsAt        time.Time      `json:"starts_at"`
	EndsAt          time.Time      `json:"ends_at"`
	DurationMinutes int            `json:"duration_minutes"`
	Visibility      ExamVisibility `json:"visibility"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// WindowOpen reports whether the exam can be started at the given instant.
func (e *Exam) WindowOpen(now time.Time) bool {
	return !now.Before(e.StartsAt) && !now.After(e.EndsAt)
}

// CreateExamRequest is the payload for creating a new exam schedule.
type CreateExamRequest struct {
	Title           string    `json:"title" binding:"required,min=3,max=255"`
	Subject         string    `json:"subject" binding:"required,min=2,max=100"`
	StartsAt        time.Time `json:"starts_at" binding:"required"`
	EndsAt          time.Time `json:"ends_at" binding:"required,gtfield=StartsAt"`
	DurationMinutes int       `json:"duration_minutes" binding:"required,min=1,max=480"`
}

// StartExamRequest is the payload for a student starting an attempt.
type StartExamRequest struct {
	Token string `json:"token" binding:"required,min=4,max=20"`
}
