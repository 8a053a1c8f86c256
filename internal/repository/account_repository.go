package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/shadowcal-worker/internal/models"
	"gorm.io/gorm"
)

var ErrAccountNotFound = errors.New("account not found")

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByID retrieves account by ID
func (r *AccountRepository) GetByID(ctx context.Context, accountID int64) (*models.RemoteAccount, error) {
	var account models.RemoteAccount
	result := dbFrom(ctx, r.db).First(&account, "id = ?", accountID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}

// List retrieves all accounts ordered by ID
func (r *AccountRepository) List(ctx context.Context) ([]models.RemoteAccount, error) {
	var accounts []models.RemoteAccount
	result := dbFrom(ctx, r.db).Order("id ASC").Find(&accounts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", result.Error)
	}
	return accounts, nil
}

// ListExpiringBefore retrieves refreshable accounts whose access token expires before t
func (r *AccountRepository) ListExpiringBefore(ctx context.Context, t time.Time) ([]models.RemoteAccount, error) {
	var accounts []models.RemoteAccount
	result := dbFrom(ctx, r.db).
		Where("refresh_token IS NOT NULL AND refresh_token <> ''").
		Where("token_expires_at IS NULL OR token_expires_at < ?", t).
		Order("token_expires_at ASC NULLS FIRST").
		Find(&accounts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list expiring accounts: %w", result.Error)
	}
	return accounts, nil
}

// UpdateTokens updates access token, refresh token, and the access token expiry
func (r *AccountRepository) UpdateTokens(ctx context.Context, accountID int64, accessToken string, refreshToken string, expiresAt time.Time) error {
	result := dbFrom(ctx, r.db).Model(&models.RemoteAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"access_token":     accessToken,
			"refresh_token":    refreshToken,
			"token_expires_at": expiresAt,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
