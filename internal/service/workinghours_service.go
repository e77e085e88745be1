package service

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/uniexam/booking-api/internal/models"
)

const millisPerDay = 24 * 60 * 60 * 1000

// WorkingHoursService resolves the open intervals of a room for a calendar
// date: weekday defaults, extended by non-restrictive exception blocks and
// reduced by out-of-service exception blocks.
type WorkingHoursService struct {
	logger *zap.Logger
}

// NewWorkingHoursService constructs the resolver.
func NewWorkingHoursService(logger *zap.Logger) *WorkingHoursService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkingHoursService{logger: logger}
}

// ResolveOpeningHours returns the disjoint, time-ascending open intervals of
// room on the date given by date's year/month/day in the room's timezone.
// An empty result means the room is closed that day. A room without a valid
// timezone is a configuration error.
func (s *WorkingHoursService) ResolveOpeningHours(room *models.ExamRoom, date time.Time) ([]models.OpeningHours, error) {
	loc, err := room.Location()
	if err != nil {
		return nil, err
	}

	local := date.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	wholeDay := models.NewInterval(midnight, midnight.AddDate(0, 0, 1))
	weekday := local.Weekday().String()

	working := s.defaultHours(room, weekday, local, loc)

	extensions := models.MergeIntervals(exceptionEvents(room.ExceptionHours, wholeDay, false))
	restrictions := models.MergeIntervals(exceptionEvents(room.ExceptionHours, wholeDay, true))

	if len(extensions) > 0 {
		intervals := make([]models.Interval, 0, len(working)+len(extensions))
		for _, oh := range working {
			intervals = append(intervals, oh.Hours)
		}
		intervals = append(intervals, extensions...)
		unified := models.MergeIntervals(intervals)

		// Extensions inherit the offset snapshot of the day's default
		// hours; a day without defaults falls back to the zone offset at
		// noon to stay clear of DST transition edges.
		tzOffset := zoneOffsetMillis(midnight.Add(12*time.Hour), loc)
		if len(working) > 0 {
			tzOffset = working[0].TimezoneOffset
		}
		working = working[:0]
		for _, iv := range unified {
			working = append(working, models.OpeningHours{Hours: iv, TimezoneOffset: tzOffset})
		}
	}

	if len(restrictions) > 0 {
		available := make([]models.OpeningHours, 0, len(working))
		for _, oh := range working {
			for _, gap := range models.FindGaps(restrictions, oh.Hours) {
				available = append(available, models.OpeningHours{Hours: gap, TimezoneOffset: oh.TimezoneOffset})
			}
		}
		working = available
	}

	sort.Slice(working, func(a, b int) bool {
		return working[a].Hours.Start.Before(working[b].Hours.Start)
	})
	return working, nil
}

// defaultHours converts the weekday-matched default blocks into absolute
// intervals for the date. The stored wall-clock boundaries go through the
// canonical local-to-instant conversion of the room's zone, so days with a
// DST transition resolve without the legacy one-hour-shift heuristic.
func (s *WorkingHoursService) defaultHours(room *models.ExamRoom, weekday string, local time.Time, loc *time.Location) []models.OpeningHours {
	var hours []models.OpeningHours
	for _, dwh := range room.WorkingHours {
		if !strings.EqualFold(dwh.Weekday, weekday) {
			continue
		}
		start := wallClock(local, dwh.StartMillis, loc)
		endMillis := dwh.EndMillis
		if endMillis == 0 {
			endMillis = millisPerDay
		}
		var end time.Time
		if endMillis >= millisPerDay {
			end = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
		} else {
			end = wallClock(local, endMillis, loc)
		}
		if !end.After(start) {
			s.logger.Warn("skipping inverted working hours block",
				zap.String("room_id", room.ID),
				zap.String("weekday", dwh.Weekday))
			continue
		}
		hours = append(hours, models.OpeningHours{
			Hours:          models.NewInterval(start, end),
			TimezoneOffset: dwh.TimezoneOffset,
		})
	}
	return hours
}

// exceptionEvents picks the exception blocks of the requested kind touching
// the day. A block covering the whole day collapses the result to the whole
// day; other blocks are surfaced with their raw boundaries.
func exceptionEvents(exceptions []models.ExceptionWorkingHour, wholeDay models.Interval, outOfService bool) []models.Interval {
	var events []models.Interval
	for _, ex := range exceptions {
		if ex.OutOfService != outOfService {
			continue
		}
		iv := ex.Interval()
		if iv.Contains(wholeDay) {
			return []models.Interval{wholeDay}
		}
		if iv.Overlaps(wholeDay) {
			events = append(events, iv)
		}
	}
	return events
}

// wallClock maps a millis-of-day wall-clock offset onto the date in loc.
func wallClock(local time.Time, millisOfDay int, loc *time.Location) time.Time {
	hour := millisOfDay / (60 * 60 * 1000)
	rem := millisOfDay % (60 * 60 * 1000)
	minute := rem / (60 * 1000)
	rem = rem % (60 * 1000)
	second := rem / 1000
	nanos := (rem % 1000) * int(time.Millisecond)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, second, nanos, loc)
}

func zoneOffsetMillis(t time.Time, loc *time.Location) int {
	_, offset := t.In(loc).Zone()
	return offset * 1000
}
