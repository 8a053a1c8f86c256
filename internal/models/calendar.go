package models

import (
	"time"

	"github.com/vipul43/shadowcal-worker/internal/zone"
)

// Calendar is one provider calendar belonging to a RemoteAccount
type Calendar struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RemoteAccountID int64     `gorm:"column:remote_account_id;index"`
	ExternalID      string    `gorm:"column:external_id"`
	Name            string    `gorm:"column:name"`
	TimeZone        string    `gorm:"column:time_zone"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Calendar) TableName() string {
	return "calendars"
}

// Location resolves the calendar's declared IANA zone, falling back to UTC
func (c Calendar) Location() *time.Location {
	return zone.LoadOrUTC(c.TimeZone)
}
