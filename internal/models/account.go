package models

import "time"

type ProviderType string

const (
	ProviderGoogle  ProviderType = "google"
	ProviderOutlook ProviderType = "outlook"
)

// RemoteAccount represents a user's OAuth connection to one calendar provider
type RemoteAccount struct {
	ID             int64        `gorm:"column:id;primaryKey;autoIncrement"`
	UserID         int64        `gorm:"column:user_id;index"`
	Provider       ProviderType `gorm:"column:provider"`
	Email          string       `gorm:"column:email"`
	AccessToken    *string      `gorm:"column:access_token"`
	RefreshToken   *string      `gorm:"column:refresh_token"`
	TokenExpiresAt *time.Time   `gorm:"column:token_expires_at"`
	CreatedAt      time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (RemoteAccount) TableName() string {
	return "remote_accounts"
}

// HasRefreshToken reports whether the account can be refreshed without user interaction
func (a RemoteAccount) HasRefreshToken() bool {
	return a.RefreshToken != nil && *a.RefreshToken != ""
}
