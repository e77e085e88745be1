package models

import (
	"time"

	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

// RoomState captures the operational state of an exam room.
type RoomState string

const (
	RoomStateActive       RoomState = "ACTIVE"
	RoomStateInactive     RoomState = "INACTIVE"
	RoomStateOutOfService RoomState = "OUT_OF_SERVICE"
)

// ExamRoom is a bookable facility with machines, weekly default opening
// hours, exception blocks and optional fixed exam starting hours.
type ExamRoom struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	RoomCode      string    `db:"room_code" json:"room_code"`
	BuildingName  string    `db:"building_name" json:"building_name"`
	LocalTimezone string    `db:"local_timezone" json:"local_timezone"`
	State         RoomState `db:"state" json:"state"`
	OutOfService  bool      `db:"out_of_service" json:"out_of_service"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`

	Accessibility  []string               `db:"-" json:"accessibility"`
	WorkingHours   []DefaultWorkingHours  `db:"-" json:"working_hours"`
	ExceptionHours []ExceptionWorkingHour `db:"-" json:"exception_hours"`
	StartingHours  []StartingHour         `db:"-" json:"starting_hours"`
	Machines       []ExamMachine          `db:"-" json:"machines,omitempty"`
}

// Location resolves the room's timezone. A room without a valid timezone is a
// configuration error surfaced to operators, never retried.
func (r *ExamRoom) Location() (*time.Location, error) {
	if r.LocalTimezone == "" {
		return nil, appErrors.Clone(appErrors.ErrRoomNotConfigured, "room "+r.ID+" has no timezone")
	}
	loc, err := time.LoadLocation(r.LocalTimezone)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrRoomNotConfigured.Code, appErrors.ErrRoomNotConfigured.Status, "room "+r.ID+" has invalid timezone")
	}
	return loc, nil
}

// Bookable reports whether the room currently accepts reservations at all.
func (r *ExamRoom) Bookable() bool {
	return !r.OutOfService && r.State == RoomStateActive
}

// AccessibilitySatisfied reports whether the room's accessibility tags cover
// every requested need.
func (r *ExamRoom) AccessibilitySatisfied(needs []string) bool {
	return tagSuperset(r.Accessibility, needs)
}

// DefaultWorkingHours is a weekly recurring opening block. Start and end are
// room-local wall-clock offsets from midnight in milliseconds; the timezone
// offset valid at save time is kept as a snapshot so authored boundaries stay
// stable across DST-rule changes.
type DefaultWorkingHours struct {
	ID             string `db:"id" json:"id"`
	RoomID         string `db:"room_id" json:"room_id"`
	Weekday        string `db:"weekday" json:"weekday"`
	StartMillis    int    `db:"start_millis" json:"start_millis"`
	EndMillis      int    `db:"end_millis" json:"end_millis"`
	TimezoneOffset int    `db:"timezone_offset" json:"timezone_offset"`
}

// ExceptionWorkingHour overrides default hours for an absolute range. With
// OutOfService set it removes availability; without it, it adds availability
// outside default hours.
type ExceptionWorkingHour struct {
	ID           string    `db:"id" json:"id"`
	RoomID       string    `db:"room_id" json:"room_id"`
	StartDate    time.Time `db:"start_date" json:"start_date"`
	EndDate      time.Time `db:"end_date" json:"end_date"`
	StartOffset  int       `db:"start_offset" json:"start_offset"`
	EndOffset    int       `db:"end_offset" json:"end_offset"`
	OutOfService bool      `db:"out_of_service" json:"out_of_service"`
}

// Interval returns the absolute range covered by the exception.
func (e ExceptionWorkingHour) Interval() Interval {
	return Interval{Start: e.StartDate, End: e.EndDate}
}

// StartingHour fixes an allowed reservation starting time of day. Absence of
// any starting hours on a room implies hourly granularity.
type StartingHour struct {
	ID             string `db:"id" json:"id"`
	RoomID         string `db:"room_id" json:"room_id"`
	MinuteOfDay    int    `db:"minute_of_day" json:"minute_of_day"`
	TimezoneOffset int    `db:"timezone_offset" json:"timezone_offset"`
}

func tagSuperset(have, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range wanted {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}
