package models

import "time"

// Enrolment links a user (or a pre-registration email placeholder) to an
// exam and optionally to the current reservation. At most one enrolment per
// (user, exam) pair may exist, and at most one future reservation per
// enrolment at any time. The cancellation marker records that the previous
// reservation was cancelled; the next booking clears it.
type Enrolment struct {
	ID                   string    `db:"id" json:"id"`
	UserID               *string   `db:"user_id" json:"user_id,omitempty"`
	PreEnrolledEmail     *string   `db:"pre_enrolled_email" json:"pre_enrolled_email,omitempty"`
	ExamID               string    `db:"exam_id" json:"exam_id"`
	ReservationID        *string   `db:"reservation_id" json:"reservation_id,omitempty"`
	ReservationCancelled bool      `db:"reservation_cancelled" json:"reservation_cancelled"`
	EnrolledAt           time.Time `db:"enrolled_at" json:"enrolled_at"`

	OptionalSections []string `db:"-" json:"optional_sections,omitempty"`
}

// EnrolmentDetail carries the enrolment with its exam and current
// reservation resolved, as the booking transaction consumes it.
type EnrolmentDetail struct {
	Enrolment
	Exam        *Exam        `db:"-" json:"exam,omitempty"`
	Reservation *Reservation `db:"-" json:"reservation,omitempty"`
}
