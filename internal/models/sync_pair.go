package models

import "time"

// SyncPair mirrors busy time from FromCalendarID onto ToCalendarID for one user
type SyncPair struct {
	ID             int64      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID         int64      `gorm:"column:user_id;index"`
	FromCalendarID int64      `gorm:"column:from_calendar_id;uniqueIndex"`
	ToCalendarID   int64      `gorm:"column:to_calendar_id;index"`
	LastSyncedAt   *time.Time `gorm:"column:last_synced_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (SyncPair) TableName() string {
	return "sync_pairs"
}
