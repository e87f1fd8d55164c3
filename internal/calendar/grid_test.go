package calendar

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDayKey(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{
			name: "midnight",
			in:   date(2024, time.March, 5),
			want: "2024-03-05",
		},
		{
			name: "time of day ignored",
			in:   time.Date(2024, time.March, 5, 23, 59, 59, 999000000, time.UTC),
			want: "2024-03-05",
		},
		{
			name: "single digit month and day padded",
			in:   date(2031, time.January, 9),
			want: "2031-01-09",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DayKey(tt.in))
		})
	}
}

func TestDayKeyInjective(t *testing.T) {
	// Distinct (year, month, day) triples over several years must map to
	// distinct keys.
	seen := make(map[string]time.Time)
	for d := date(2020, time.January, 1); d.Year() < 2026; d = d.AddDate(0, 0, 1) {
		key := DayKey(d)
		if prev, ok := seen[key]; ok {
			t.Fatalf("key %q produced by both %v and %v", key, prev, d)
		}
		seen[key] = d
	}
}

func TestParseDayKey(t *testing.T) {
	got, err := ParseDayKey("2024-03-05", time.UTC)
	require.NoError(t, err)
	assert.True(t, got.Equal(date(2024, time.March, 5)))

	_, err = ParseDayKey("03/05/2024", time.UTC)
	assert.Error(t, err)

	_, err = ParseDayKey("", time.UTC)
	assert.Error(t, err)
}

func TestStartOfWeek(t *testing.T) {
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{date(2024, time.March, 1), date(2024, time.February, 26)},  // Friday
		{date(2024, time.March, 4), date(2024, time.March, 4)},      // Monday maps to itself
		{date(2024, time.March, 10), date(2024, time.March, 4)},     // Sunday belongs to the preceding Monday
		{time.Date(2024, time.March, 6, 15, 4, 5, 0, time.UTC), date(2024, time.March, 4)}, // time of day zeroed
	}

	for _, tt := range tests {
		got := StartOfWeek(tt.in)
		assert.True(t, got.Equal(tt.want), "StartOfWeek(%v) = %v, want %v", tt.in, got, tt.want)
		assert.Equal(t, time.Monday, got.Weekday())
	}
}

func TestBuildWeeksMarch2024(t *testing.T) {
	// March 2024 starts on a Friday and ends on a Sunday: five rows,
	// padded at the front from February, with the final Sunday being the
	// month's own last day.
	weeks := BuildWeeks(date(2024, time.March, 1))

	require.Len(t, weeks, 5)
	assert.True(t, weeks[0][0].Equal(date(2024, time.February, 26)))
	assert.True(t, weeks[len(weeks)-1][6].Equal(date(2024, time.March, 31)))
}

func TestBuildWeeksRowCounts(t *testing.T) {
	tests := []struct {
		anchor time.Time
		rows   int
	}{
		{date(2021, time.February, 1), 4}, // Feb 2021: starts Monday, 28 days
		{date(2024, time.March, 1), 5},
		{date(2021, time.August, 1), 6}, // Aug 2021: starts Sunday, 31 days
		{date(2024, time.December, 1), 6},
		{date(2024, time.February, 1), 5}, // leap February
	}

	for _, tt := range tests {
		t.Run(tt.anchor.Format("2006-01"), func(t *testing.T) {
			assert.Len(t, BuildWeeks(tt.anchor), tt.rows)
		})
	}
}

func TestBuildWeeksTilesEveryMonth(t *testing.T) {
	// Property check across a decade of months: rows are consecutive
	// Monday-start days, every day of the month appears exactly once,
	// and no trailing all-padding row is emitted.
	for year := 2018; year <= 2028; year++ {
		for month := time.January; month <= time.December; month++ {
			anchor := date(year, month, 1)
			weeks := BuildWeeks(anchor)

			require.GreaterOrEqual(t, len(weeks), 4, "%v", anchor)
			require.LessOrEqual(t, len(weeks), 6, "%v", anchor)

			seen := make(map[string]int)
			cursor := weeks[0][0]
			for _, week := range weeks {
				assert.Equal(t, time.Monday, week[0].Weekday())
				for _, d := range week {
					require.True(t, d.Equal(cursor), "gap or overlap at %v in %v", d, anchor)
					cursor = cursor.AddDate(0, 0, 1)
					if InMonth(d, anchor) {
						seen[DayKey(d)]++
					}
				}
			}

			_, last := MonthBounds(anchor)
			require.Len(t, seen, last.Day(), "month %v not fully covered", anchor)
			for key, n := range seen {
				require.Equal(t, 1, n, "day %s appears %d times", key, n)
			}

			// The last row must contain at least one in-month day.
			lastRow := weeks[len(weeks)-1]
			inMonth := false
			for _, d := range lastRow {
				if InMonth(d, anchor) {
					inMonth = true
					break
				}
			}
			assert.True(t, inMonth, "trailing all-padding row for %v", anchor)
		}
	}
}

func TestBuildWeeksDeterministic(t *testing.T) {
	anchor := date(2024, time.March, 1)
	a := BuildWeeks(anchor)
	b := BuildWeeks(anchor)
	assert.Equal(t, a, b)

	// Day-of-month of the anchor is ignored; callers pass the 1st but any
	// day of the month produces the same grid.
	c := BuildWeeks(date(2024, time.March, 17))
	assert.Equal(t, a, c)
}

func TestMonthBounds(t *testing.T) {
	tests := []struct {
		anchor      time.Time
		first, last time.Time
	}{
		{date(2024, time.March, 1), date(2024, time.March, 1), date(2024, time.March, 31)},
		{date(2024, time.February, 15), date(2024, time.February, 1), date(2024, time.February, 29)},
		{date(2023, time.February, 1), date(2023, time.February, 1), date(2023, time.February, 28)},
		{date(2024, time.December, 31), date(2024, time.December, 1), date(2024, time.December, 31)},
	}

	for _, tt := range tests {
		first, last := MonthBounds(tt.anchor)
		assert.True(t, first.Equal(tt.first), "first of %v", tt.anchor)
		assert.True(t, last.Equal(tt.last), "last of %v", tt.anchor)
	}
}

func TestMonthKeys(t *testing.T) {
	keys := MonthKeys(date(2024, time.February, 1))
	require.Len(t, keys, 29)
	assert.Equal(t, "2024-02-01", keys[0])
	assert.Equal(t, "2024-02-29", keys[28])

	for i, key := range keys {
		assert.Equal(t, fmt.Sprintf("2024-02-%02d", i+1), key)
	}
}
