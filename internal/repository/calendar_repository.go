package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/shadowcal-worker/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrCalendarNotFound = errors.New("calendar not found")

type CalendarRepository struct {
	db *gorm.DB
}

func NewCalendarRepository(db *gorm.DB) *CalendarRepository {
	return &CalendarRepository{db: db}
}

// GetByID retrieves calendar by ID
func (r *CalendarRepository) GetByID(ctx context.Context, calendarID int64) (*models.Calendar, error) {
	var calendar models.Calendar
	result := dbFrom(ctx, r.db).First(&calendar, "id = ?", calendarID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrCalendarNotFound
		}
		return nil, fmt.Errorf("failed to get calendar: %w", result.Error)
	}
	return &calendar, nil
}

// ListByAccount retrieves all calendars of an account
func (r *CalendarRepository) ListByAccount(ctx context.Context, accountID int64) ([]models.Calendar, error) {
	var calendars []models.Calendar
	result := dbFrom(ctx, r.db).
		Where("remote_account_id = ?", accountID).
		Order("id ASC").
		Find(&calendars)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", result.Error)
	}
	return calendars, nil
}

// Upsert inserts or updates a calendar keyed by (remote_account_id, external_id).
// A stored time zone is kept when the incoming one is empty.
func (r *CalendarRepository) Upsert(ctx context.Context, calendar *models.Calendar) error {
	db := dbFrom(ctx, r.db)
	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "remote_account_id"}, {Name: "external_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"name":       gorm.Expr("EXCLUDED.name"),
			"time_zone":  gorm.Expr("CASE WHEN EXCLUDED.time_zone = '' THEN calendars.time_zone ELSE EXCLUDED.time_zone END"),
			"updated_at": time.Now(),
		}),
	}).Create(calendar)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert calendar: %w", result.Error)
	}

	// Reload so the caller sees the stored time zone
	reload := db.Where("remote_account_id = ? AND external_id = ?", calendar.RemoteAccountID, calendar.ExternalID).First(calendar)
	if reload.Error != nil {
		return fmt.Errorf("failed to reload calendar: %w", reload.Error)
	}
	return nil
}
