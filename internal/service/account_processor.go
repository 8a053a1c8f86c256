package service

import (
	"context"
	"fmt"
	"log"

	"github.com/vipul43/shadowcal-worker/internal/models"
)

// AccountProcessor refreshes the list of calendars known for an account
type AccountProcessor struct {
	accounts  AccountRepository
	calendars CalendarRepository
	providers ProviderRegistry
	tokens    *TokenManager
}

func NewAccountProcessor(accounts AccountRepository, calendars CalendarRepository, providers ProviderRegistry, tokens *TokenManager) *AccountProcessor {
	return &AccountProcessor{
		accounts:  accounts,
		calendars: calendars,
		providers: providers,
		tokens:    tokens,
	}
}

// ProcessAccount lists the account's remote calendars and upserts them locally.
// Calendars that disappeared remotely are left in place.
func (p *AccountProcessor) ProcessAccount(ctx context.Context, accountID int64) ([]models.Calendar, error) {
	account, err := p.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	log.Printf("Processing account: %d (user: %d, provider: %s)", account.ID, account.UserID, account.Provider)

	provider, err := p.providers.For(account.Provider)
	if err != nil {
		return nil, err
	}

	accessToken, err := p.tokens.AccessToken(ctx, account)
	if err != nil {
		return nil, err
	}

	remote, err := provider.ListCalendars(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars for account %d: %w", account.ID, err)
	}

	calendars := make([]models.Calendar, 0, len(remote))
	for _, rc := range remote {
		calendar := models.Calendar{
			RemoteAccountID: account.ID,
			ExternalID:      rc.ExternalID,
			Name:            rc.Name,
			TimeZone:        rc.TimeZone,
		}
		if err := p.calendars.Upsert(ctx, &calendar); err != nil {
			return nil, fmt.Errorf("failed to store calendar %q: %w", rc.ExternalID, err)
		}
		calendars = append(calendars, calendar)
	}

	log.Printf("Account %d has %d calendar(s)", account.ID, len(calendars))

	return calendars, nil
}
