package models

import "time"

// MaintenancePeriod is a global interval during which no slots are offered
// in any room.
type MaintenancePeriod struct {
	ID          string    `db:"id" json:"id"`
	StartsAt    time.Time `db:"starts_at" json:"starts_at"`
	EndsAt      time.Time `db:"ends_at" json:"ends_at"`
	Description string    `db:"description" json:"description"`
}

// Interval returns the maintenance window.
func (m MaintenancePeriod) Interval() Interval {
	return Interval{Start: m.StartsAt, End: m.EndsAt}
}

// Setting is a mutable global configuration value, resolved once per request
// through the settings repository.
type Setting struct {
	Name      string    `db:"name" json:"name"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SettingReservationWindow is the reservation window size in days.
const SettingReservationWindow = "reservation_window_size"
