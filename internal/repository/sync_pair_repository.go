package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/shadowcal-worker/internal/models"
	"gorm.io/gorm"
)

var ErrSyncPairNotFound = errors.New("sync pair not found")

type SyncPairRepository struct {
	db *gorm.DB
}

func NewSyncPairRepository(db *gorm.DB) *SyncPairRepository {
	return &SyncPairRepository{db: db}
}

func (r *SyncPairRepository) first(ctx context.Context, query string, args ...interface{}) (*models.SyncPair, error) {
	var pair models.SyncPair
	result := dbFrom(ctx, r.db).Where(query, args...).First(&pair)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSyncPairNotFound
		}
		return nil, fmt.Errorf("failed to get sync pair: %w", result.Error)
	}
	return &pair, nil
}

// GetByID retrieves sync pair by ID
func (r *SyncPairRepository) GetByID(ctx context.Context, pairID int64) (*models.SyncPair, error) {
	return r.first(ctx, "id = ?", pairID)
}

// FindBetween retrieves the pair mirroring fromCalendarID onto toCalendarID
func (r *SyncPairRepository) FindBetween(ctx context.Context, fromCalendarID, toCalendarID int64) (*models.SyncPair, error) {
	return r.first(ctx, "from_calendar_id = ? AND to_calendar_id = ?", fromCalendarID, toCalendarID)
}

// FindByFromCalendar retrieves the pair whose source calendar is calendarID
func (r *SyncPairRepository) FindByFromCalendar(ctx context.Context, calendarID int64) (*models.SyncPair, error) {
	return r.first(ctx, "from_calendar_id = ?", calendarID)
}

// ListInvolving retrieves pairs referencing any of the calendars on either side
func (r *SyncPairRepository) ListInvolving(ctx context.Context, calendarIDs []int64) ([]models.SyncPair, error) {
	var pairs []models.SyncPair
	if len(calendarIDs) == 0 {
		return pairs, nil
	}
	result := dbFrom(ctx, r.db).
		Where("from_calendar_id IN ? OR to_calendar_id IN ?", calendarIDs, calendarIDs).
		Order("id ASC").
		Find(&pairs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list sync pairs: %w", result.Error)
	}
	return pairs, nil
}

// List retrieves all pairs, least recently synced first
func (r *SyncPairRepository) List(ctx context.Context) ([]models.SyncPair, error) {
	var pairs []models.SyncPair
	result := dbFrom(ctx, r.db).
		Order("last_synced_at ASC NULLS FIRST, id ASC").
		Find(&pairs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list sync pairs: %w", result.Error)
	}
	return pairs, nil
}

// Create inserts a new pair
func (r *SyncPairRepository) Create(ctx context.Context, pair *models.SyncPair) error {
	if err := dbFrom(ctx, r.db).Create(pair).Error; err != nil {
		return fmt.Errorf("failed to create sync pair: %w", err)
	}
	return nil
}

// Update writes the calendars of an existing pair
func (r *SyncPairRepository) Update(ctx context.Context, pair *models.SyncPair) error {
	result := dbFrom(ctx, r.db).Model(&models.SyncPair{}).
		Where("id = ?", pair.ID).
		Updates(map[string]interface{}{
			"from_calendar_id": pair.FromCalendarID,
			"to_calendar_id":   pair.ToCalendarID,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update sync pair: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSyncPairNotFound
	}
	return nil
}

// MarkSynced stamps the time of the last successful sync
func (r *SyncPairRepository) MarkSynced(ctx context.Context, pairID int64, at time.Time) error {
	result := dbFrom(ctx, r.db).Model(&models.SyncPair{}).
		Where("id = ?", pairID).
		Updates(map[string]interface{}{
			"last_synced_at": at,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark sync pair synced: %w", result.Error)
	}
	return nil
}
