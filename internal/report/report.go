// Package report forwards job failures to an error-tracking sink together
// with a snapshot of the account or sync pair involved. Snapshots never carry
// OAuth tokens.
package report

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/vipul43/shadowcal-worker/internal/models"
)

type CalendarSnapshot struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	TimeZone   string `json:"time_zone,omitempty"`
}

type AccountSnapshot struct {
	ID              int64               `json:"id"`
	UserID          int64               `json:"user_id,omitempty"`
	Provider        models.ProviderType `json:"provider,omitempty"`
	Email           string              `json:"email,omitempty"`
	TokenExpiresAt  *time.Time          `json:"token_expires_at,omitempty"`
	HasRefreshToken bool                `json:"has_refresh_token"`
	Calendars       []CalendarSnapshot  `json:"calendars,omitempty"`
}

type PairSnapshot struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id,omitempty"`
	FromCalendarID int64      `json:"from_calendar_id,omitempty"`
	ToCalendarID   int64      `json:"to_calendar_id,omitempty"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
}

// NewAccountSnapshot copies the reportable fields of an account
func NewAccountSnapshot(account *models.RemoteAccount, calendars []models.Calendar) AccountSnapshot {
	snapshot := AccountSnapshot{
		ID:              account.ID,
		UserID:          account.UserID,
		Provider:        account.Provider,
		Email:           account.Email,
		TokenExpiresAt:  account.TokenExpiresAt,
		HasRefreshToken: account.HasRefreshToken(),
	}
	for _, c := range calendars {
		snapshot.Calendars = append(snapshot.Calendars, CalendarSnapshot{
			ID:         c.ID,
			ExternalID: c.ExternalID,
			Name:       c.Name,
			TimeZone:   c.TimeZone,
		})
	}
	return snapshot
}

func NewPairSnapshot(pair *models.SyncPair) PairSnapshot {
	return PairSnapshot{
		ID:             pair.ID,
		UserID:         pair.UserID,
		FromCalendarID: pair.FromCalendarID,
		ToCalendarID:   pair.ToCalendarID,
		LastSyncedAt:   pair.LastSyncedAt,
	}
}

// Reporter is the error-tracking boundary
type Reporter interface {
	ReportAccountError(ctx context.Context, err error, snapshot AccountSnapshot)
	ReportPairError(ctx context.Context, err error, snapshot PairSnapshot)
}

// LogReporter writes reports to the process log as single-line JSON context
type LogReporter struct{}

func NewLogReporter() *LogReporter {
	return &LogReporter{}
}

func (r *LogReporter) ReportAccountError(ctx context.Context, err error, snapshot AccountSnapshot) {
	log.Printf("Error report: account %d: %v %s", snapshot.ID, err, encode(snapshot))
}

func (r *LogReporter) ReportPairError(ctx context.Context, err error, snapshot PairSnapshot) {
	log.Printf("Error report: sync pair %d: %v %s", snapshot.ID, err, encode(snapshot))
}

func encode(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

type AccountLookup interface {
	GetByID(ctx context.Context, accountID int64) (*models.RemoteAccount, error)
}

type CalendarLookup interface {
	ListByAccount(ctx context.Context, accountID int64) ([]models.Calendar, error)
}

type PairLookup interface {
	GetByID(ctx context.Context, pairID int64) (*models.SyncPair, error)
}

// Snapshots loads snapshots for reports. Lookup failures degrade to an id-only snapshot.
type Snapshots struct {
	accounts  AccountLookup
	calendars CalendarLookup
	pairs     PairLookup
}

func NewSnapshots(accounts AccountLookup, calendars CalendarLookup, pairs PairLookup) *Snapshots {
	return &Snapshots{
		accounts:  accounts,
		calendars: calendars,
		pairs:     pairs,
	}
}

func (s *Snapshots) Account(ctx context.Context, accountID int64) AccountSnapshot {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		log.Printf("Warning: failed to load account %d for error report: %v", accountID, err)
		return AccountSnapshot{ID: accountID}
	}

	calendars, err := s.calendars.ListByAccount(ctx, accountID)
	if err != nil {
		log.Printf("Warning: failed to load calendars of account %d for error report: %v", accountID, err)
	}
	return NewAccountSnapshot(account, calendars)
}

func (s *Snapshots) Pair(ctx context.Context, pairID int64) PairSnapshot {
	pair, err := s.pairs.GetByID(ctx, pairID)
	if err != nil {
		log.Printf("Warning: failed to load sync pair %d for error report: %v", pairID, err)
		return PairSnapshot{ID: pairID}
	}
	return NewPairSnapshot(pair)
}
