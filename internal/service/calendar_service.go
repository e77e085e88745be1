package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/uniexam/booking-api/internal/models"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

type calendarEnrolmentRepository interface {
	FindActiveByUserAndExam(ctx context.Context, userID, examID string) (*models.EnrolmentDetail, error)
}

type calendarRoomRepository interface {
	FindByID(ctx context.Context, id string) (*models.ExamRoom, error)
}

type calendarReservationRepository interface {
	ListUserDetailsFrom(ctx context.Context, userID string, from time.Time) ([]models.ReservationDetail, error)
	BusyIntervalsByMachine(ctx context.Context, machineIDs []string, within models.Interval) (map[string][]models.Reservation, error)
}

type machineCatalog interface {
	EligibleMachines(ctx context.Context, room *models.ExamRoom, accessibilityNeeds []string, exam *models.Exam) ([]models.ExamMachine, error)
}

type maintenanceReader interface {
	ListEndingAfter(ctx context.Context, from time.Time) ([]models.MaintenancePeriod, error)
}

type reservationWindowReader interface {
	ReservationWindowDays(ctx context.Context) int
}

// CalendarService derives bookable time slots: opening hours, duration-exact
// candidate generation and conflict annotation against existing reservations.
type CalendarService struct {
	enrolments   calendarEnrolmentRepository
	rooms        calendarRoomRepository
	reservations calendarReservationRepository
	machines     machineCatalog
	maintenance  maintenanceReader
	settings     reservationWindowReader
	hours        *WorkingHoursService
	logger       *zap.Logger
	now          func() time.Time
}

// NewCalendarService constructs CalendarService.
func NewCalendarService(
	enrolments calendarEnrolmentRepository,
	rooms calendarRoomRepository,
	reservations calendarReservationRepository,
	machines machineCatalog,
	maintenance maintenanceReader,
	settings reservationWindowReader,
	hours *WorkingHoursService,
	logger *zap.Logger,
) *CalendarService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hours == nil {
		hours = NewWorkingHoursService(logger)
	}
	return &CalendarService{
		enrolments:   enrolments,
		rooms:        rooms,
		reservations: reservations,
		machines:     machines,
		maintenance:  maintenance,
		settings:     settings,
		hours:        hours,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *CalendarService) WithClock(now func() time.Time) *CalendarService {
	s.now = now
	return s
}

// GetSlots returns the annotated slots of one search week for a user, exam
// and room, starting at day (YYYY-MM-DD, defaults to today) and clamped to
// the reservation window and the exam's active period.
func (s *CalendarService) GetSlots(ctx context.Context, userID, examID, roomID, day string, accessibilityNeeds []string) ([]models.TimeSlot, error) {
	enrolment, err := s.enrolments.FindActiveByUserAndExam(ctx, userID, examID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrolmentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolment")
	}
	exam := enrolment.Exam

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "room not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load room")
	}

	slots := []models.TimeSlot{}
	if !room.Bookable() || !room.AccessibilitySatisfied(accessibilityNeeds) || exam == nil || exam.Duration == nil {
		return slots, nil
	}

	loc, err := room.Location()
	if err != nil {
		return nil, err
	}
	now := s.now().In(loc)

	searchDate, endOfSearch, err := searchWindow(day, exam, now, s.settings.ReservationWindowDays(ctx), loc)
	if err != nil {
		return nil, err
	}

	// User reservations from just before the window; they decorate slots
	// with own/foreign conflict information.
	userReservations, err := s.reservations.ListUserDetailsFrom(ctx, userID, searchDate.AddDate(0, 0, -1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reservations")
	}

	machines, err := s.machines.EligibleMachines(ctx, room, accessibilityNeeds, exam)
	if err != nil {
		return nil, err
	}

	periods, err := s.maintenance.ListEndingAfter(ctx, searchDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load maintenance periods")
	}

	busy, err := s.busyByMachine(ctx, machines, models.NewInterval(searchDate, endOfSearch.AddDate(0, 0, 1)))
	if err != nil {
		return nil, err
	}

	for date := searchDate; !date.After(endOfSearch); date = date.AddDate(0, 0, 1) {
		annotated, err := s.slotsForDate(room, loc, exam, date, now, periods, userReservations, machines, busy, userID)
		if err != nil {
			return nil, err
		}
		slots = append(slots, annotated...)
	}
	return slots, nil
}

// IsSlotBookable re-derives the slots of the requested day and reports
// whether the requested interval is contained in a slot that is not blocked
// by a reservation for another exam. The creation transaction calls this as
// its final pre-commit check.
func (s *CalendarService) IsSlotBookable(ctx context.Context, userID string, room *models.ExamRoom, exam *models.Exam, requested models.Interval, accessibilityNeeds []string) (bool, error) {
	loc, err := room.Location()
	if err != nil {
		return false, err
	}
	now := s.now().In(loc)
	date := requested.Start.In(loc)
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)

	userReservations, err := s.reservations.ListUserDetailsFrom(ctx, userID, dayStart)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reservations")
	}
	machines, err := s.machines.EligibleMachines(ctx, room, accessibilityNeeds, exam)
	if err != nil {
		return false, err
	}
	periods, err := s.maintenance.ListEndingAfter(ctx, dayStart)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load maintenance periods")
	}
	busy, err := s.busyByMachine(ctx, machines, models.NewInterval(dayStart, dayStart.AddDate(0, 0, 1)))
	if err != nil {
		return false, err
	}

	annotated, err := s.slotsForDate(room, loc, exam, dayStart, now, periods, userReservations, machines, busy, userID)
	if err != nil {
		return false, err
	}
	for _, ts := range annotated {
		if ts.ConflictingExam == "" && ts.Interval().Contains(requested) {
			return true, nil
		}
	}
	return false, nil
}

func (s *CalendarService) slotsForDate(
	room *models.ExamRoom,
	loc *time.Location,
	exam *models.Exam,
	date time.Time,
	now time.Time,
	periods []models.MaintenancePeriod,
	userReservations []models.ReservationDetail,
	machines []models.ExamMachine,
	busy map[string][]models.Reservation,
	userID string,
) ([]models.TimeSlot, error) {
	opening, err := s.hours.ResolveOpeningHours(room, date)
	if err != nil {
		return nil, err
	}
	candidates := generateSlots(opening, exam.Duration, room.StartingHours, loc)

	filtered := candidates[:0]
	for _, c := range candidates {
		if c.Start.Before(now) {
			continue
		}
		if overlapsAny(c, periods) {
			continue
		}
		filtered = append(filtered, c)
	}
	return resolveSlots(filtered, userReservations, exam, machines, busy, userID), nil
}

func (s *CalendarService) busyByMachine(ctx context.Context, machines []models.ExamMachine, within models.Interval) (map[string][]models.Reservation, error) {
	ids := make([]string, len(machines))
	for i, m := range machines {
		ids[i] = m.ID
	}
	busy, err := s.reservations.BusyIntervalsByMachine(ctx, ids, within)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load machine occupancy")
	}
	return busy, nil
}

// generateSlots walks the allowed starting hours through each open interval
// and emits every duration-exact candidate that fits. When the last starting
// hour leaves a sliver at the end of an interval, one trailing slot anchored
// to the interval's end is emitted so the sliver remains usable. Absent
// configured starting hours, slots start at each whole hour.
func generateSlots(opening []models.OpeningHours, durationMinutes *int, startingHours []models.StartingHour, loc *time.Location) []models.Interval {
	if durationMinutes == nil || *durationMinutes <= 0 {
		return nil
	}
	duration := time.Duration(*durationMinutes) * time.Minute

	minutes := make([]int, 0, 24)
	if len(startingHours) == 0 {
		for h := 0; h < 24; h++ {
			minutes = append(minutes, h*60)
		}
	} else {
		for _, sh := range startingHours {
			minutes = append(minutes, sh.MinuteOfDay)
		}
		sort.Ints(minutes)
	}

	var slots []models.Interval
	seen := make(map[slotKey]struct{})
	emit := func(iv models.Interval) {
		key := keyOf(iv)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		slots = append(slots, iv)
	}

	for _, oh := range opening {
		day := models.SnapToHour(oh.Hours.Start.In(loc))
		for _, m := range minutes {
			begin := time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, loc)
			if begin.Before(oh.Hours.Start) {
				continue
			}
			if begin.Add(duration).After(oh.Hours.End) {
				break
			}
			emit(models.NewInterval(begin, begin.Add(duration)))
		}
		tail := oh.Hours.End.Add(-duration)
		if !tail.Before(oh.Hours.Start) {
			emit(models.NewInterval(tail, oh.Hours.End))
		}
	}

	sort.SliceStable(slots, func(a, b int) bool { return slots[a].Start.Before(slots[b].Start) })
	return slots
}

// resolveSlots decorates candidate slots with conflict information. A
// reservation for another exam blocks the slot and is surfaced with its own
// interval so the calendar does not hide bookings that cross generated slot
// boundaries. A reservation for the same exam marks the slot as the user's
// own. Open slots carry the number of eligible machines not reserved by
// someone else during the slot.
func resolveSlots(
	candidates []models.Interval,
	reservations []models.ReservationDetail,
	exam *models.Exam,
	machines []models.ExamMachine,
	busy map[string][]models.Reservation,
	userID string,
) []models.TimeSlot {
	results := make([]models.TimeSlot, 0, len(candidates))
	seen := make(map[slotKey]struct{})
	add := func(ts models.TimeSlot) {
		key := keyOf(ts.Interval())
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		results = append(results, ts)
	}

	for _, slot := range candidates {
		conflicting := reservationsDuring(reservations, slot)
		if len(conflicting) > 0 {
			if foreign := firstForeign(conflicting, exam.ID); foreign != nil {
				name := "external exam"
				if foreign.ExamName != nil {
					name = *foreign.ExamName
				}
				add(models.TimeSlot{
					Start:             foreign.StartAt,
					End:               foreign.EndAt,
					AvailableMachines: -1,
					ConflictingExam:   name,
				})
				continue
			}
			// Existing reservation for this very exam: surface it as the
			// user's own slot, with the raw interval when it does not line
			// up with a generated slot.
			own := conflicting[0]
			add(models.TimeSlot{
				Start:             own.StartAt,
				End:               own.EndAt,
				AvailableMachines: -1,
				OwnReservation:    true,
			})
			continue
		}

		available := 0
		for _, m := range machines {
			if !reservedByOthersDuring(busy[m.ID], slot, userID) {
				available++
			}
		}
		add(models.TimeSlot{Start: slot.Start, End: slot.End, AvailableMachines: available})
	}
	return results
}

// slotKey identifies a slot by its instants. Interval values do not work as
// map keys here: the grid slot and the trailing slot of the same wall-clock
// window can carry different time.Location pointers and then compare unequal
// under ==.
type slotKey struct {
	start int64
	end   int64
}

func keyOf(iv models.Interval) slotKey {
	return slotKey{start: iv.Start.UnixNano(), end: iv.End.UnixNano()}
}

func reservationsDuring(reservations []models.ReservationDetail, slot models.Interval) []models.ReservationDetail {
	var out []models.ReservationDetail
	for _, r := range reservations {
		if slot.Overlaps(r.Interval()) {
			out = append(out, r)
		}
	}
	return out
}

func firstForeign(reservations []models.ReservationDetail, examID string) *models.ReservationDetail {
	for i := range reservations {
		if !reservations[i].ForExam(examID) {
			return &reservations[i]
		}
	}
	return nil
}

func reservedByOthersDuring(reservations []models.Reservation, slot models.Interval, userID string) bool {
	for _, r := range reservations {
		if r.UserID == userID {
			continue
		}
		if slot.Overlaps(r.Interval()) {
			return true
		}
	}
	return false
}

func overlapsAny(slot models.Interval, periods []models.MaintenancePeriod) bool {
	for _, p := range periods {
		if slot.Overlaps(p.Interval()) {
			return true
		}
	}
	return false
}

// searchWindow clamps the requested day to the bookable range: not in the
// past, inside the reservation window and inside the exam's active period.
// The returned range covers the remainder of the requested week.
func searchWindow(day string, exam *models.Exam, now time.Time, windowDays int, loc *time.Location) (time.Time, time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	windowEnd := today.AddDate(0, 0, windowDays)

	examEndLocal := exam.PeriodEnd.In(loc)
	examEnd := time.Date(examEndLocal.Year(), examEndLocal.Month(), examEndLocal.Day(), 0, 0, 0, 0, loc)
	searchEnd := windowEnd
	if examEnd.Before(searchEnd) {
		searchEnd = examEnd
	}

	searchDate := today
	if day != "" {
		parsed, err := time.ParseInLocation("2006-01-02", day, loc)
		if err != nil {
			return time.Time{}, time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid day format")
		}
		searchDate = parsed
	}
	searchDate = startOfWeek(searchDate)
	if searchDate.Before(today) {
		searchDate = today
	}
	if searchDate.After(searchEnd) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "no bookable days in requested range")
	}

	examStartLocal := exam.PeriodStart.In(loc)
	examStart := time.Date(examStartLocal.Year(), examStartLocal.Month(), examStartLocal.Day(), 0, 0, 0, 0, loc)
	if searchDate.Before(examStart) {
		searchDate = examStart
	}

	endOfWeek := startOfWeek(searchDate).AddDate(0, 0, 6)
	endOfSearch := endOfWeek
	if searchEnd.Before(endOfSearch) {
		endOfSearch = searchEnd
	}
	return searchDate, endOfSearch, nil
}

// startOfWeek returns the Monday of t's week at midnight.
func startOfWeek(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1-weekday)
}
