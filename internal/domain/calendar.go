package domain

import "time"

// daysPerMonth converts between the per-day and per-month rate conventions.
const daysPerMonth = 30

func resolveAsOf(asOf time.Time) time.Time {
	if asOf.IsZero() {
		return time.Now()
	}
	return asOf
}

// civilDate drops the time of day, keeping the calendar date of t in its own location.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween counts whole calendar days from -> to; negative when to is earlier.
func daysBetween(from, to time.Time) int {
	return int(civilDate(to).Sub(civilDate(from)).Hours() / 24)
}

// DateOnly normalizes t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	return civilDate(t)
}
