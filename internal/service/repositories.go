package service

import (
	"context"
	"time"

	"github.com/vipul43/shadowcal-worker/internal/models"
)

// AccountRepository interface for dependency injection
type AccountRepository interface {
	GetByID(ctx context.Context, accountID int64) (*models.RemoteAccount, error)
	List(ctx context.Context) ([]models.RemoteAccount, error)
	ListExpiringBefore(ctx context.Context, t time.Time) ([]models.RemoteAccount, error)
	UpdateTokens(ctx context.Context, accountID int64, accessToken string, refreshToken string, expiresAt time.Time) error
}

type CalendarRepository interface {
	GetByID(ctx context.Context, calendarID int64) (*models.Calendar, error)
	ListByAccount(ctx context.Context, accountID int64) ([]models.Calendar, error)
	Upsert(ctx context.Context, calendar *models.Calendar) error
}

type EventRepository interface {
	GetByID(ctx context.Context, eventID int64) (*models.Event, error)
	FindByExternalID(ctx context.Context, calendarID int64, externalID string) (*models.Event, error)
	FindShadowOf(ctx context.Context, sourceID int64) (*models.Event, error)
	ListShadowCandidates(ctx context.Context, calendarID int64) ([]models.Event, error)
	Create(ctx context.Context, event *models.Event) error
	Save(ctx context.Context, event *models.Event) error
	Delete(ctx context.Context, eventID int64) error
	UpdateTimes(ctx context.Context, eventID int64, startAt, endAt time.Time) error
	SetExternalID(ctx context.Context, eventID int64, externalID string) error
	MoveToCalendar(ctx context.Context, eventIDs []int64, calendarID int64) error
}

type SyncPairRepository interface {
	GetByID(ctx context.Context, pairID int64) (*models.SyncPair, error)
	FindBetween(ctx context.Context, fromCalendarID, toCalendarID int64) (*models.SyncPair, error)
	FindByFromCalendar(ctx context.Context, calendarID int64) (*models.SyncPair, error)
	ListInvolving(ctx context.Context, calendarIDs []int64) ([]models.SyncPair, error)
	List(ctx context.Context) ([]models.SyncPair, error)
	Create(ctx context.Context, pair *models.SyncPair) error
	Update(ctx context.Context, pair *models.SyncPair) error
	MarkSynced(ctx context.Context, pairID int64, at time.Time) error
}

// Transactor runs fn in a transaction; repository calls made with fn's context join it
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SyncJobEnqueuer creates background jobs, skipping duplicates of unfinished ones
type SyncJobEnqueuer interface {
	Enqueue(ctx context.Context, kind models.SyncJobKind, targetID int64) (bool, error)
}

// Repositories bundles the storage dependencies shared by the shadow services
type Repositories struct {
	Accounts  AccountRepository
	Calendars CalendarRepository
	Events    EventRepository
	SyncPairs SyncPairRepository
	Tx        Transactor
}
