// Package zone converts provider date/time representations into instants
// anchored in a calendar's declared time zone.
package zone

import (
	"fmt"
	"log"
	"time"
	_ "time/tzdata"
)

const (
	dateLayout     = "2006-01-02"
	zonelessLayout = "2006-01-02T15:04:05"
)

// LoadOrUTC loads an IANA zone name. Empty or unknown names resolve to UTC.
func LoadOrUTC(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("Warning: unknown time zone %q, using UTC", name)
		return time.UTC
	}
	return loc
}

// FromDateAndZone resolves a calendar date (YYYY-MM-DD) to local midnight in loc
func FromDateAndZone(date string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", date, err)
	}
	return t, nil
}

// FromZonelessTimestamp interprets a timestamp without offset as wall time in loc.
// Fractional seconds, as sent by Microsoft Graph, are accepted.
func FromZonelessTimestamp(ts string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(zonelessLayout, trimFraction(ts), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", ts, err)
	}
	return t, nil
}

// InclusiveEnd converts an exclusive all-day end date into the last second of
// the previous local day (23:59:59)
func InclusiveEnd(exclusiveEnd time.Time, loc *time.Location) time.Time {
	local := exclusiveEnd.In(loc)
	prev := time.Date(local.Year(), local.Month(), local.Day()-1, 23, 59, 59, 0, loc)
	return prev
}

// ExclusiveEndDate returns local midnight of the day after end
func ExclusiveEndDate(end time.Time, loc *time.Location) time.Time {
	local := end.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// ShiftAllDay re-expresses an all-day range, given as instants in from, as the
// same calendar dates in to. The result starts at midnight and ends at 23:59:59.
func ShiftAllDay(start, end time.Time, from, to *time.Location) (time.Time, time.Time) {
	s := start.In(from)
	e := end.In(from)
	return time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, to),
		time.Date(e.Year(), e.Month(), e.Day(), 23, 59, 59, 0, to)
}

// Midnight returns local midnight of the day containing t
func Midnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// DateString formats the local calendar date of t
func DateString(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateLayout)
}

func trimFraction(ts string) string {
	if len(ts) > len(zonelessLayout) && ts[len(zonelessLayout)] == '.' {
		return ts[:len(zonelessLayout)]
	}
	return ts
}
