package models

import "time"

// ExamState is the lifecycle state of an exam as supplied by the exam
// provider. The engine only books against published exams.
type ExamState string

const (
	ExamStateDraft     ExamState = "DRAFT"
	ExamStatePublished ExamState = "PUBLISHED"
	ExamStateArchived  ExamState = "ARCHIVED"
)

// Exam is the read-only capability descriptor the engine books against:
// duration, active period and software requirements. Exam content (sections,
// questions, scoring) lives with the exam provider.
type Exam struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	State       ExamState `db:"state" json:"state"`
	Duration    *int      `db:"duration" json:"duration"`
	PeriodStart time.Time `db:"period_start" json:"period_start"`
	PeriodEnd   time.Time `db:"period_end" json:"period_end"`

	RequiredSoftware []string `db:"-" json:"required_software"`
}

// Bookable reports whether reservations may currently be made for the exam.
func (e *Exam) Bookable(now time.Time) bool {
	return e.State == ExamStatePublished && now.Before(e.PeriodEnd)
}
