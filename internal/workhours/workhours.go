// Package workhours decides whether an event falls entirely outside the
// working week. The working week runs Monday 08:00 to Friday 19:00 in the
// calendar's local time, with each weekday's working hours being 08:00-19:00.
package workhours

import "time"

const (
	DayStartHour = 8
	DayEndHour   = 19
)

// OutsideWorkHours reports whether the event [start, end] lies entirely
// outside working hours when viewed in loc. Day comparisons use calendar
// dates in loc, so days shortened or lengthened by DST count as one day.
func OutsideWorkHours(start, end time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	localStart := start.In(loc)
	localEnd := end.In(loc)

	startHour := localStart.Hour()
	endHour := localEnd.Hour()
	days := dayDiff(localStart, localEnd)
	sameDay := days == 0

	if isWeekend(localStart) && isWeekend(localEnd) && days < 2 {
		return true
	}
	if startHour < DayStartHour && endHour < DayStartHour && sameDay {
		return true
	}
	if startHour >= DayEndHour && endHour >= DayEndHour && sameDay {
		return true
	}
	if startHour >= DayEndHour && endHour < DayStartHour && days == 1 {
		return true
	}
	return false
}

func isWeekend(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return true
	case time.Friday:
		return t.Hour() >= DayEndHour
	case time.Monday:
		return t.Hour() < DayStartHour
	}
	return false
}

// dayDiff counts calendar days between the local dates of a and b
func dayDiff(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
