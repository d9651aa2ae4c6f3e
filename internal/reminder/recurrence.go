package reminder

import (
	"fmt"
	"time"
)

// DefaultHour is the local hour at which reminders fire.
const DefaultHour = 9

// NextOccurrence returns day/month at DefaultHour in now's location: this
// year when that instant is still after now, otherwise next year.
func NextOccurrence(day, month int, now time.Time) (time.Time, error) {
	loc := now.Location()
	for _, year := range []int{now.Year(), now.Year() + 1} {
		at, err := dateAt(year, month, day, DefaultHour, 0, 0, 0, loc)
		if err != nil {
			return time.Time{}, err
		}
		if at.After(now) {
			return at, nil
		}
	}
	// Unreachable for valid dates: next year's instant is always after now.
	return time.Time{}, fmt.Errorf("%w: %02d.%02d", ErrInvalidDate, day, month)
}

// NextAnnual returns the firing that follows prev for a yearly event: the
// same wall clock one year later. When that is not after now (a firing that
// ran very late) it falls back to NextOccurrence.
func NextAnnual(prev, now time.Time) (time.Time, error) {
	local := prev.In(now.Location())
	next, err := dateAt(local.Year()+1, int(local.Month()), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), now.Location())
	if err != nil {
		return time.Time{}, err
	}
	if next.After(now) {
		return next, nil
	}
	return NextOccurrence(local.Day(), int(local.Month()), now)
}

// NormalizeYear expands a two-digit birth year. Zero means absent and is
// kept; years with more digits are returned as is.
func NormalizeYear(year int, now time.Time) int {
	if year <= 0 || year >= 100 {
		return year
	}
	if now.Year()-2000 < year {
		return 1900 + year
	}
	return 2000 + year
}

// dateAt builds the instant and rejects dates that time.Date would normalize
// (Feb 29 in a common year, April 31, month 13).
func dateAt(year, month, day, hour, minute, sec, nsec int, loc *time.Location) (time.Time, error) {
	if month < 1 || month > 12 || day < 1 || day > daysIn(time.Month(month), year) {
		return time.Time{}, fmt.Errorf("%w: %02d.%02d.%d", ErrInvalidDate, day, month, year)
	}
	return time.Date(year, time.Month(month), day, hour, minute, sec, nsec, loc), nil
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
