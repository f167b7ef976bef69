// Package calendar counts working days (Monday to Friday, no holidays).
package calendar

import "time"

// WorkingDaysBetween counts the Monday-Friday dates strictly after start's
// date, up to and including end's date. Both instants are reduced to their UTC
// date first. The result is zero whenever end is not after start.
func WorkingDaysBetween(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}

	first := utcDate(start).AddDate(0, 0, 1)
	last := utcDate(end)
	if last.Before(first) {
		return 0
	}

	// UTC has no DST, so every day is exactly 24h.
	days := int(last.Sub(first).Hours()/24) + 1

	count := (days / 7) * 5
	wd := first.Weekday()
	for i := 0; i < days%7; i++ {
		if isWorkingDay(wd) {
			count++
		}
		wd = (wd + 1) % 7
	}
	return count
}

// IsWorkingDay reports whether t's UTC date is a Monday-Friday.
func IsWorkingDay(t time.Time) bool {
	return isWorkingDay(t.UTC().Weekday())
}

func isWorkingDay(wd time.Weekday) bool {
	return wd != time.Saturday && wd != time.Sunday
}

func utcDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
