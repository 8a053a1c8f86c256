package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/shadowcal-worker/internal/models"
	"gorm.io/gorm"
)

var ErrEventNotFound = errors.New("event not found")

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) first(ctx context.Context, query string, args ...interface{}) (*models.Event, error) {
	var event models.Event
	result := dbFrom(ctx, r.db).Where(query, args...).First(&event)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", result.Error)
	}
	return &event, nil
}

// GetByID retrieves event by ID
func (r *EventRepository) GetByID(ctx context.Context, eventID int64) (*models.Event, error) {
	return r.first(ctx, "id = ?", eventID)
}

// FindByExternalID retrieves the event of a calendar carrying the provider's id
func (r *EventRepository) FindByExternalID(ctx context.Context, calendarID int64, externalID string) (*models.Event, error) {
	return r.first(ctx, "calendar_id = ? AND external_id = ?", calendarID, externalID)
}

// FindShadowOf retrieves the shadow whose source is sourceID
func (r *EventRepository) FindShadowOf(ctx context.Context, sourceID int64) (*models.Event, error) {
	return r.first(ctx, "source_event_id = ?", sourceID)
}

// ListShadowCandidates retrieves the source events of a calendar that are attending
// and blocking and have no shadow pushed yet. A shadow row without an external id
// does not count as pushed.
func (r *EventRepository) ListShadowCandidates(ctx context.Context, calendarID int64) ([]models.Event, error) {
	var events []models.Event
	result := dbFrom(ctx, r.db).
		Table("events").
		Select("events.*").
		Joins("LEFT JOIN events AS shadows ON shadows.source_event_id = events.id").
		Where("events.calendar_id = ?", calendarID).
		Where("events.is_attending = ? AND events.is_blocking = ?", true, true).
		Where("events.source_event_id IS NULL").
		Where("shadows.id IS NULL OR shadows.external_id IS NULL OR shadows.external_id = ''").
		Order("events.start_at ASC, events.id ASC").
		Find(&events)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list shadow candidates: %w", result.Error)
	}
	return events, nil
}

// Create inserts a new event
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	if err := dbFrom(ctx, r.db).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// Save writes every column of an existing event
func (r *EventRepository) Save(ctx context.Context, event *models.Event) error {
	event.UpdatedAt = time.Now()
	if err := dbFrom(ctx, r.db).Save(event).Error; err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// Delete removes an event by ID
func (r *EventRepository) Delete(ctx context.Context, eventID int64) error {
	if err := dbFrom(ctx, r.db).Delete(&models.Event{}, eventID).Error; err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// UpdateTimes sets start and end of an event without touching other columns
func (r *EventRepository) UpdateTimes(ctx context.Context, eventID int64, startAt, endAt time.Time) error {
	result := dbFrom(ctx, r.db).Model(&models.Event{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"start_at":   startAt,
			"end_at":     endAt,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update event times: %w", result.Error)
	}
	return nil
}

// SetExternalID records the provider id assigned to an event
func (r *EventRepository) SetExternalID(ctx context.Context, eventID int64, externalID string) error {
	result := dbFrom(ctx, r.db).Model(&models.Event{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"external_id": externalID,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to set event external id: %w", result.Error)
	}
	return nil
}

// MoveToCalendar reassigns events to calendarID in one statement
func (r *EventRepository) MoveToCalendar(ctx context.Context, eventIDs []int64, calendarID int64) error {
	if len(eventIDs) == 0 {
		return nil
	}
	result := dbFrom(ctx, r.db).Model(&models.Event{}).
		Where("id IN ?", eventIDs).
		Updates(map[string]interface{}{
			"calendar_id": calendarID,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to move events to calendar %d: %w", calendarID, result.Error)
	}
	return nil
}
