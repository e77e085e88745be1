package models

import "time"

// Reservation occupies one machine for one enrolment over a fixed interval.
// Start and end are absolute instants; the room-local rendering is derived at
// the edge. For a given machine no two active reservations may overlap.
type Reservation struct {
	ID               string    `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"user_id"`
	MachineID        string    `db:"machine_id" json:"machine_id"`
	StartAt          time.Time `db:"start_at" json:"start_at"`
	EndAt            time.Time `db:"end_at" json:"end_at"`
	ExternalRef      *string   `db:"external_ref" json:"external_ref,omitempty"`
	ExternalUserRef  *string   `db:"external_user_ref" json:"external_user_ref,omitempty"`
	NoShow           bool      `db:"no_show" json:"no_show"`
	RetrialPermitted bool      `db:"retrial_permitted" json:"retrial_permitted"`
	ReminderSent     bool      `db:"reminder_sent" json:"reminder_sent"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Interval returns the reserved time range.
func (r *Reservation) Interval() Interval {
	return Interval{Start: r.StartAt, End: r.EndAt}
}

// InEffect reports whether now falls within the reservation.
func (r *Reservation) InEffect(now time.Time) bool {
	return r.Interval().ContainsInstant(now)
}

// IsExternal reports whether the authoritative record lives in a federated
// partner system.
func (r *Reservation) IsExternal() bool {
	return r.ExternalRef != nil && *r.ExternalRef != ""
}

// ReservationDetail joins a reservation with the exam its enrolment points
// at, as needed by conflict resolution.
type ReservationDetail struct {
	Reservation
	EnrolmentID string  `db:"enrolment_id" json:"enrolment_id"`
	ExamID      *string `db:"exam_id" json:"exam_id"`
	ExamName    *string `db:"exam_name" json:"exam_name"`
}

// ForExam reports whether the reservation belongs to the given exam.
func (d *ReservationDetail) ForExam(examID string) bool {
	return d.ExamID != nil && *d.ExamID == examID
}

// ReservationPlacement carries everything the atomic placement transaction
// needs. CandidateMachineIDs are probed in order, so the caller controls the
// tie-break between equally free machines.
type ReservationPlacement struct {
	UserID                  string
	EnrolmentID             string
	Start                   time.Time
	End                     time.Time
	CandidateMachineIDs     []string
	SectionIDs              []string
	SupersededReservationID *string
	ReminderSent            bool
	LockTimeout             time.Duration
}

// ReservationReminder is the projection the reminder pass works from.
type ReservationReminder struct {
	ReservationID string    `db:"reservation_id"`
	Email         string    `db:"email"`
	ExamName      string    `db:"exam_name"`
	StartAt       time.Time `db:"start_at"`
}

// TimeSlot is a candidate slot annotated with availability or conflict
// information. AvailableMachines is -1 for slots occupied by one of the
// user's own or conflicting reservations.
type TimeSlot struct {
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	AvailableMachines int       `json:"availableMachines"`
	OwnReservation    bool      `json:"ownReservation"`
	ConflictingExam   string    `json:"conflictingExam,omitempty"`
}

// Interval returns the slot's time range.
func (s TimeSlot) Interval() Interval {
	return Interval{Start: s.Start, End: s.End}
}
