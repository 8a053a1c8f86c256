package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrCastingUnsyncedCalendars = errors.New("casting between unsynced calendars")
	ErrShadowOfShadow           = errors.New("cannot create the shadow of a shadow")
	ErrShadowWithoutPair        = errors.New("event belongs to a calendar that is not casting a shadow")
	// ErrRemoteEventNotFound is returned by adapters when the provider no longer knows the event
	ErrRemoteEventNotFound = errors.New("remote event not found")
	ErrInvalidSyncPair     = errors.New("invalid sync pair")
)

// CalendarPairError identifies the calendars involved in a failed cast
type CalendarPairError struct {
	FromCalendarID int64
	ToCalendarID   int64
	Err            error
}

func (e *CalendarPairError) Error() string {
	return fmt.Sprintf("%v (from calendar %d, to calendar %d)", e.Err, e.FromCalendarID, e.ToCalendarID)
}

func (e *CalendarPairError) Unwrap() error {
	return e.Err
}

// EventError identifies the event involved in a failed shadow operation
type EventError struct {
	EventID    int64
	CalendarID int64
	Err        error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("%v (event %d, calendar %d)", e.Err, e.EventID, e.CalendarID)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// PartialPushError reports a batch push where only some events were created remotely.
// The pushed shadows are committed; the failed ones are left for the next cast.
type PartialPushError struct {
	Pushed int
	Failed int
	Err    error
}

func (e *PartialPushError) Error() string {
	return fmt.Sprintf("pushed %d of %d shadow(s): %v", e.Pushed, e.Pushed+e.Failed, e.Err)
}

func (e *PartialPushError) Unwrap() error {
	return e.Err
}

// ValidationErrors maps a field name ("base" for the record as a whole) to messages
type ValidationErrors map[string][]string

func (v ValidationErrors) Add(field, message string) {
	v[field] = append(v[field], message)
}

// Has reports whether field has at least one message
func (v ValidationErrors) Has(field string) bool {
	return len(v[field]) > 0
}

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+strings.Join(v[field], ", "))
	}
	return strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrInvalidSyncPair) match validation failures
func (v ValidationErrors) Is(target error) bool {
	return target == ErrInvalidSyncPair
}
