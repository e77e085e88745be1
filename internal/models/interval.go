package models

import (
	"sort"
	"time"
)

// Interval is a half-open time range [Start, End) over absolute instants.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInterval builds an interval; callers are expected to pass start <= end.
func NewInterval(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Overlaps reports whether the two half-open intervals share any instant.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Contains reports whether other lies fully within i.
func (i Interval) Contains(other Interval) bool {
	return !other.Start.Before(i.Start) && !other.End.After(i.End)
}

// ContainsInstant reports whether t falls inside [Start, End).
func (i Interval) ContainsInstant(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Equal reports interval identity by start and end instants.
func (i Interval) Equal(other Interval) bool {
	return i.Start.Equal(other.Start) && i.End.Equal(other.End)
}

// IsBefore reports whether the whole interval lies before t.
func (i Interval) IsBefore(t time.Time) bool {
	return !i.End.After(t)
}

// Duration returns the interval length.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Intersection returns the overlapping part of two intervals, if any.
func (i Interval) Intersection(other Interval) (Interval, bool) {
	if !i.Overlaps(other) {
		return Interval{}, false
	}
	start := i.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := i.End
	if other.End.Before(end) {
		end = other.End
	}
	return Interval{Start: start, End: end}, true
}

// SnapToHour truncates t down to the whole hour. Working hours authored with
// sub-hour precision are aligned through this before slot generation.
func SnapToHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// MergeIntervals unions touching or overlapping intervals into a minimal
// sorted set of disjoint intervals.
func MergeIntervals(intervals []Interval) []Interval {
	if len(intervals) <= 1 {
		return intervals
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Start.Before(sorted[b].Start) })

	merged := []Interval{sorted[0]}
	for _, next := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !next.Start.After(last.End) {
			if next.End.After(last.End) {
				last.End = next.End
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// FindGaps returns the parts of search not covered by the reserved intervals.
// The reserved list must be sorted by start; overlapping entries are allowed.
func FindGaps(reserved []Interval, search Interval) []Interval {
	overlapping := make([]Interval, 0, len(reserved))
	for _, r := range reserved {
		if r.Overlaps(search) {
			overlapping = append(overlapping, r)
		}
	}
	if len(overlapping) == 0 {
		return []Interval{search}
	}

	var gaps []Interval
	cursor := search.Start
	for _, r := range MergeIntervals(overlapping) {
		if r.Start.After(cursor) {
			gaps = append(gaps, Interval{Start: cursor, End: r.Start})
		}
		if r.End.After(cursor) {
			cursor = r.End
		}
	}
	if cursor.Before(search.End) {
		gaps = append(gaps, Interval{Start: cursor, End: search.End})
	}
	return gaps
}

// OpeningHours is one contiguous open range of a room on a given date,
// together with the timezone offset snapshot (milliseconds) captured when the
// underlying working-hour record was saved.
type OpeningHours struct {
	Hours          Interval
	TimezoneOffset int
}
