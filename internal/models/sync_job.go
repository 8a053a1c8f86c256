package models

import "time"

type SyncJobStatus string

const (
	StatusPending    SyncJobStatus = "pending"
	StatusProcessing SyncJobStatus = "processing"
	StatusCompleted  SyncJobStatus = "completed"
	StatusFailed     SyncJobStatus = "failed"
)

type SyncJobKind string

const (
	JobRefreshCalendars SyncJobKind = "refresh_calendars" // target: remote account id
	JobCastSyncPair     SyncJobKind = "cast_sync_pair"    // target: sync pair id
)

type SyncJob struct {
	ID          string        `gorm:"column:id;primaryKey"`
	Kind        SyncJobKind   `gorm:"column:kind;index"`
	TargetID    int64         `gorm:"column:target_id"`
	Status      SyncJobStatus `gorm:"column:status;index"`
	Attempts    int           `gorm:"column:attempts"`
	LastError   *string       `gorm:"column:last_error"`
	CreatedAt   time.Time     `gorm:"column:created_at"`
	UpdatedAt   time.Time     `gorm:"column:updated_at"`
	ProcessedAt *time.Time    `gorm:"column:processed_at"`
}

// TableName specifies the table name for GORM
func (SyncJob) TableName() string {
	return "sync_jobs"
}
