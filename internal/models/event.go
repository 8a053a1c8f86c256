package models

import "time"

// ShadowName is the only detail a shadow reveals about its source
const ShadowName = "(Busy)"

// Event is the canonical representation of one calendar entry.
// Events with a nil SourceEventID are sources; the others are shadows.
type Event struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	CalendarID    int64     `gorm:"column:calendar_id;index"`
	Name          string    `gorm:"column:name"`
	StartAt       time.Time `gorm:"column:start_at"`
	EndAt         time.Time `gorm:"column:end_at"`
	ExternalID    *string   `gorm:"column:external_id"`
	IsAllDay      bool      `gorm:"column:is_all_day"`
	IsAttending   bool      `gorm:"column:is_attending"`
	IsBlocking    bool      `gorm:"column:is_blocking"`
	SourceEventID *int64    `gorm:"column:source_event_id;uniqueIndex"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Event) TableName() string {
	return "events"
}

// IsShadow reports whether the event mirrors another event
func (e Event) IsShadow() bool {
	return e.SourceEventID != nil
}

// HasExternalID reports whether the event exists on the provider side
func (e Event) HasExternalID() bool {
	return e.ExternalID != nil && *e.ExternalID != ""
}

// ShouldHaveShadow reports whether the event is eligible to cast a shadow,
// ignoring work hours and sync pair configuration
func (e Event) ShouldHaveShadow() bool {
	return e.IsAttending && e.IsBlocking && e.SourceEventID == nil
}

// Moved reports whether other carries different start or end instants
func (e Event) Moved(other Event) bool {
	return !e.StartAt.Equal(other.StartAt) || !e.EndAt.Equal(other.EndAt)
}
