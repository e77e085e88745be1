package models

import "time"

// ExamMachine is a workstation inside a room. Machines are never hard-deleted
// because historical reservations must remain resolvable; they are archived.
type ExamMachine struct {
	ID           string    `db:"id" json:"id"`
	RoomID       string    `db:"room_id" json:"room_id"`
	Name         *string   `db:"name" json:"name"`
	IPAddress    *string   `db:"ip_address" json:"ip_address"`
	Archived     bool      `db:"archived" json:"archived"`
	OutOfService bool      `db:"out_of_service" json:"out_of_service"`
	// Accessible means the machine satisfies all accessibility needs
	// unconditionally, regardless of its tag set.
	Accessible bool      `db:"accessible" json:"accessible"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`

	Software      []string `db:"-" json:"software"`
	Accessibility []string `db:"-" json:"accessibility"`
}

// InService reports whether the machine can take new reservations at all.
// Machines without a name or address cannot be bound to a client and are
// treated as unusable.
func (m *ExamMachine) InService() bool {
	return !m.Archived && !m.OutOfService && m.IPAddress != nil && m.Name != nil
}

// AccessibilitySatisfied reports whether the machine covers the requested
// accessibility needs, either via the unconditional flag or its tag set.
func (m *ExamMachine) AccessibilitySatisfied(needs []string) bool {
	if m.Accessible {
		return true
	}
	return tagSuperset(m.Accessibility, needs)
}

// HasRequiredSoftware reports whether the machine's software tags cover the
// exam's requirements.
func (m *ExamMachine) HasRequiredSoftware(exam *Exam) bool {
	if exam == nil {
		return true
	}
	return tagSuperset(m.Software, exam.RequiredSoftware)
}
