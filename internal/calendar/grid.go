// Package calendar provides the month grid construction and day key
// derivation used by every view of the task calendar. All functions are
// pure; dates are interpreted in their own location.
package calendar

import (
	"fmt"
	"time"
)

// DayKeyLayout is the canonical YYYY-MM-DD form of a calendar day key.
const DayKeyLayout = "2006-01-02"

// maxWeekRows is the hard upper bound on rows per month view. Six rows
// cover every month/weekday alignment; the natural stop condition in
// BuildWeeks fires at or before this bound for any real month.
const maxWeekRows = 6

// Week is one grid row: seven consecutive days, Monday through Sunday.
type Week [7]time.Time

// DayKey returns the canonical day key for t. Two times on the same
// calendar day always produce the same key regardless of time-of-day.
func DayKey(t time.Time) string {
	return t.Format(DayKeyLayout)
}

// ParseDayKey parses a canonical day key into the midnight of that day
// in the given location.
func ParseDayKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DayKeyLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing day key %q: %w", key, err)
	}
	return t, nil
}

// StartOfWeek returns the Monday on or before t, at midnight.
func StartOfWeek(t time.Time) time.Time {
	// time.Weekday counts from Sunday; shift so Monday = 0.
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// MonthBounds returns the first and last calendar day of the anchor's
// month, both at midnight. Only the anchor's year and month matter.
func MonthBounds(anchor time.Time) (first, last time.Time) {
	first = time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, anchor.Location())
	last = first.AddDate(0, 1, -1)
	return first, last
}

// BuildWeeks maps a month anchor to the ordered week rows covering the
// whole month. The first row's Monday is the Monday on or before the
// 1st; rows stop once the week containing the month's last day has been
// emitted, so no trailing all-padding row is produced. The result tiles
// the month with no gaps or overlaps and includes padding days from the
// adjacent months; callers mark those by comparing each day's month to
// the anchor's month (see InMonth).
func BuildWeeks(anchor time.Time) []Week {
	first, last := MonthBounds(anchor)

	// First Monday strictly after the week containing the last day.
	stop := StartOfWeek(last).AddDate(0, 0, 7)

	cur := StartOfWeek(first)
	weeks := make([]Week, 0, maxWeekRows)
	for w := 0; w < maxWeekRows; w++ {
		var row Week
		for i := range row {
			row[i] = cur
			cur = cur.AddDate(0, 0, 1)
		}
		weeks = append(weeks, row)
		if !cur.Before(stop) {
			break
		}
	}
	return weeks
}

// InMonth reports whether d belongs to the anchor's month.
func InMonth(d, anchor time.Time) bool {
	return d.Year() == anchor.Year() && d.Month() == anchor.Month()
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// MonthKeys returns the day keys of every day in the anchor's month, in
// order. Used by the multi-date add dialog to enumerate selectable days.
func MonthKeys(anchor time.Time) []string {
	first, last := MonthBounds(anchor)
	keys := make([]string, 0, last.Day())
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		keys = append(keys, DayKey(d))
	}
	return keys
}
