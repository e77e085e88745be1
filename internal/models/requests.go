package models

import "time"

// CreateReservationRequest is the booking payload. Start and end are absolute
// instants; the slot must match one offered by the calendar.
type CreateReservationRequest struct {
	ExamID             string    `json:"exam_id" validate:"required,uuid4"`
	RoomID             string    `json:"room_id" validate:"required,uuid4"`
	Start              time.Time `json:"start" validate:"required"`
	End                time.Time `json:"end" validate:"required"`
	AccessibilityNeeds []string  `json:"accessibility_needs"`
	SectionIDs         []string  `json:"section_ids"`
}

// CreateMachineRequest is the admin payload for adding a machine to a room.
type CreateMachineRequest struct {
	RoomID        string   `json:"room_id" validate:"required,uuid4"`
	Name          *string  `json:"name"`
	IPAddress     *string  `json:"ip_address" validate:"omitempty,ip"`
	Accessible    bool     `json:"accessible"`
	Software      []string `json:"software"`
	Accessibility []string `json:"accessibility"`
}

// UpdateMachineRequest is the admin payload for machine changes.
type UpdateMachineRequest struct {
	Name          *string  `json:"name"`
	IPAddress     *string  `json:"ip_address" validate:"omitempty,ip"`
	OutOfService  *bool    `json:"out_of_service"`
	Accessible    *bool    `json:"accessible"`
	Software      []string `json:"software"`
	Accessibility []string `json:"accessibility"`
}

// ReassignMachineRequest moves a machine to another room.
type ReassignMachineRequest struct {
	RoomID string `json:"room_id" validate:"required,uuid4"`
}

// CreateRoomRequest is the admin payload for creating a room.
type CreateRoomRequest struct {
	Name          string   `json:"name" validate:"required"`
	RoomCode      string   `json:"room_code" validate:"required"`
	BuildingName  string   `json:"building_name"`
	LocalTimezone string   `json:"local_timezone" validate:"required"`
	Accessibility []string `json:"accessibility"`
}

// UpdateRoomRequest is the admin payload for room changes.
type UpdateRoomRequest struct {
	Name          *string    `json:"name"`
	RoomCode      *string    `json:"room_code"`
	BuildingName  *string    `json:"building_name"`
	LocalTimezone *string    `json:"local_timezone"`
	State         *RoomState `json:"state" validate:"omitempty,oneof=ACTIVE INACTIVE OUT_OF_SERVICE"`
	OutOfService  *bool      `json:"out_of_service"`
	Accessibility []string   `json:"accessibility"`
}

// WorkingHoursBlock is one weekday block in a working-hours replacement.
type WorkingHoursBlock struct {
	Weekday     string `json:"weekday" validate:"required,oneof=Monday Tuesday Wednesday Thursday Friday Saturday Sunday"`
	StartMillis int    `json:"start_millis" validate:"min=0,max=86400000"`
	EndMillis   int    `json:"end_millis" validate:"min=0,max=86400000"`
}

// ReplaceWorkingHoursRequest replaces the weekly defaults of a room.
type ReplaceWorkingHoursRequest struct {
	Blocks []WorkingHoursBlock `json:"blocks" validate:"dive"`
}

// ExceptionHoursRequest adds an exception block to a room.
type ExceptionHoursRequest struct {
	StartDate    time.Time `json:"start_date" validate:"required"`
	EndDate      time.Time `json:"end_date" validate:"required"`
	OutOfService bool      `json:"out_of_service"`
}

// ReplaceStartingHoursRequest replaces the allowed starting times of a room.
type ReplaceStartingHoursRequest struct {
	MinutesOfDay []int `json:"minutes_of_day" validate:"dive,min=0,max=1439"`
}

// MaintenancePeriodRequest creates or updates a maintenance period.
type MaintenancePeriodRequest struct {
	StartsAt    time.Time `json:"starts_at" validate:"required"`
	EndsAt      time.Time `json:"ends_at" validate:"required"`
	Description string    `json:"description" validate:"required"`
}
