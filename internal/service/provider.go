package service

import (
	"context"
	"fmt"
	"time"

	"github.com/vipul43/shadowcal-worker/internal/models"
)

// CalendarProvider is the contract every calendar provider adapter implements.
// Adapters hold only application credentials; user tokens are passed per call.
type CalendarProvider interface {
	ListCalendars(ctx context.Context, accessToken string) ([]ProviderCalendar, error)
	ListEvents(ctx context.Context, accessToken string, req ListEventsRequest) ([]ProviderEvent, error)
	// PushEvents creates the events remotely and sets ExternalID on each created one.
	// Events that already carry an external id are skipped.
	PushEvents(ctx context.Context, accessToken string, req PushRequest) error
	DeleteEvent(ctx context.Context, accessToken string, calendarExternalID string, externalID string) error
	MoveEvent(ctx context.Context, accessToken string, req MoveEventRequest) error
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error)
}

type ProviderCalendar struct {
	ExternalID string
	Name       string
	TimeZone   string // empty when the provider does not report one
}

// ProviderEvent is a remote event already normalized to UTC instants.
// All-day events end at 23:59:59 local on their last day.
type ProviderEvent struct {
	ExternalID    string
	Name          string
	StartAt       time.Time
	EndAt         time.Time
	IsAllDay      bool
	IsAttending   bool
	IsBlocking    bool
	SourceEventID *int64
}

type ListEventsRequest struct {
	CalendarExternalID string
	// Location resolves all-day dates and zoneless timestamps
	Location   *time.Location
	OwnerEmail string
	TimeMin    time.Time
	TimeMax    time.Time
}

type PushRequest struct {
	CalendarExternalID string
	// Location is the zone in which all-day events' dates are expressed
	Location *time.Location
	Events   []*models.Event
}

type MoveEventRequest struct {
	CalendarExternalID string
	ExternalID         string
	StartAt            time.Time
	EndAt              time.Time
	IsAllDay           bool
	Location           *time.Location
}

type TokenRefreshResult struct {
	AccessToken  string
	ExpiresAt    time.Time
	RefreshToken string // May be same or new
}

// ProviderRegistry selects the adapter for an account's provider type
type ProviderRegistry map[models.ProviderType]CalendarProvider

// For returns the adapter registered for the provider type
func (r ProviderRegistry) For(provider models.ProviderType) (CalendarProvider, error) {
	p, ok := r[provider]
	if !ok || p == nil {
		return nil, fmt.Errorf("no calendar provider registered for %q", provider)
	}
	return p, nil
}
