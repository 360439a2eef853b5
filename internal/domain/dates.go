package domain

import "time"

const (
	// DateLayout is the wire/CLI format of a calendar date.
	DateLayout = "2006-01-02"

	secondsPerDay = 24 * 60 * 60
)

// DateOf drops the time-of-day of t, keeping t's calendar date in t's own
// location, and returns it as UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts a calendar date by n days.
func AddDays(t time.Time, n int) time.Time {
	return DateOf(t).AddDate(0, 0, n)
}

// DayNumber is the number of days since the Unix epoch for t's calendar date.
// It is used as a map key instead of formatted strings.
func DayNumber(t time.Time) int64 {
	return DateOf(t).Unix() / secondsPerDay
}

// FromDayNumber is the inverse of DayNumber.
func FromDayNumber(n int64) time.Time {
	return time.Unix(n*secondsPerDay, 0).UTC()
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return DateOf(t), nil
}

// Today returns the current calendar date as observed in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(now.In(loc))
}
