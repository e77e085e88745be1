package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func TestIntervalOverlapsHalfOpen(t *testing.T) {
	a := NewInterval(at(t, "2026-03-02T09:00:00Z"), at(t, "2026-03-02T10:00:00Z"))
	b := NewInterval(at(t, "2026-03-02T10:00:00Z"), at(t, "2026-03-02T11:00:00Z"))
	c := NewInterval(at(t, "2026-03-02T09:30:00Z"), at(t, "2026-03-02T10:30:00Z"))

	assert.False(t, a.Overlaps(b), "adjacent intervals must not overlap")
	assert.False(t, b.Overlaps(a))
	assert.True(t, a.Overlaps(c))
	assert.True(t, c.Overlaps(b))
}

func TestIntervalContainsInstant(t *testing.T) {
	i := NewInterval(at(t, "2026-03-02T09:00:00Z"), at(t, "2026-03-02T10:00:00Z"))

	assert.True(t, i.ContainsInstant(at(t, "2026-03-02T09:00:00Z")))
	assert.True(t, i.ContainsInstant(at(t, "2026-03-02T09:59:59Z")))
	assert.False(t, i.ContainsInstant(at(t, "2026-03-02T10:00:00Z")), "end instant is exclusive")
}

func TestIntervalIntersection(t *testing.T) {
	a := NewInterval(at(t, "2026-03-02T09:00:00Z"), at(t, "2026-03-02T11:00:00Z"))
	b := NewInterval(at(t, "2026-03-02T10:00:00Z"), at(t, "2026-03-02T12:00:00Z"))

	got, ok := a.Intersection(b)
	require.True(t, ok)
	assert.Equal(t, at(t, "2026-03-02T10:00:00Z"), got.Start)
	assert.Equal(t, at(t, "2026-03-02T11:00:00Z"), got.End)

	_, ok = a.Intersection(NewInterval(at(t, "2026-03-02T11:00:00Z"), at(t, "2026-03-02T12:00:00Z")))
	assert.False(t, ok)
}

func TestMergeIntervals(t *testing.T) {
	input := []Interval{
		{Start: at(t, "2026-03-02T12:00:00Z"), End: at(t, "2026-03-02T14:00:00Z")},
		{Start: at(t, "2026-03-02T08:00:00Z"), End: at(t, "2026-03-02T10:00:00Z")},
		{Start: at(t, "2026-03-02T09:00:00Z"), End: at(t, "2026-03-02T11:00:00Z")},
		{Start: at(t, "2026-03-02T14:00:00Z"), End: at(t, "2026-03-02T15:00:00Z")},
	}

	merged := MergeIntervals(input)
	require.Len(t, merged, 2)
	assert.Equal(t, at(t, "2026-03-02T08:00:00Z"), merged[0].Start)
	assert.Equal(t, at(t, "2026-03-02T11:00:00Z"), merged[0].End)
	assert.Equal(t, at(t, "2026-03-02T12:00:00Z"), merged[1].Start)
	assert.Equal(t, at(t, "2026-03-02T15:00:00Z"), merged[1].End)
}

func TestFindGapsAroundReservedBlocks(t *testing.T) {
	search := NewInterval(at(t, "2026-03-02T08:00:00Z"), at(t, "2026-03-02T16:00:00Z"))
	reserved := []Interval{
		{Start: at(t, "2026-03-02T09:00:00Z"), End: at(t, "2026-03-02T10:00:00Z")},
		{Start: at(t, "2026-03-02T12:00:00Z"), End: at(t, "2026-03-02T13:00:00Z")},
	}

	gaps := FindGaps(reserved, search)
	require.Len(t, gaps, 3)
	assert.Equal(t, NewInterval(at(t, "2026-03-02T08:00:00Z"), at(t, "2026-03-02T09:00:00Z")), gaps[0])
	assert.Equal(t, NewInterval(at(t, "2026-03-02T10:00:00Z"), at(t, "2026-03-02T12:00:00Z")), gaps[1])
	assert.Equal(t, NewInterval(at(t, "2026-03-02T13:00:00Z"), at(t, "2026-03-02T16:00:00Z")), gaps[2])
}

func TestFindGapsNoOverlap(t *testing.T) {
	search := NewInterval(at(t, "2026-03-02T08:00:00Z"), at(t, "2026-03-02T16:00:00Z"))
	reserved := []Interval{
		{Start: at(t, "2026-03-03T09:00:00Z"), End: at(t, "2026-03-03T10:00:00Z")},
	}

	gaps := FindGaps(reserved, search)
	require.Len(t, gaps, 1)
	assert.Equal(t, search, gaps[0])
}

func TestFindGapsFullyCovered(t *testing.T) {
	search := NewInterval(at(t, "2026-03-02T08:00:00Z"), at(t, "2026-03-02T16:00:00Z"))
	reserved := []Interval{
		{Start: at(t, "2026-03-02T07:00:00Z"), End: at(t, "2026-03-02T17:00:00Z")},
	}

	assert.Empty(t, FindGaps(reserved, search))
}

func TestSnapToHour(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Helsinki")
	require.NoError(t, err)
	ts := time.Date(2026, 3, 2, 9, 45, 30, 0, loc)

	snapped := SnapToHour(ts)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, loc), snapped)
	assert.Equal(t, loc, snapped.Location())
}
