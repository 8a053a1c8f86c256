package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vipul43/shadowcal-worker/internal/models"
)

const (
	// tokenExpirySkew treats tokens about to expire as already expired
	tokenExpirySkew = 5 * time.Minute
	// ProactiveRefreshWindow is how far ahead the account cron refreshes tokens
	ProactiveRefreshWindow = 20 * time.Minute
)

// TokenManager hands out usable access tokens, refreshing them through the
// account's provider when they have expired
type TokenManager struct {
	accounts  AccountRepository
	providers ProviderRegistry
	now       func() time.Time
}

func NewTokenManager(accounts AccountRepository, providers ProviderRegistry) *TokenManager {
	return &TokenManager{
		accounts:  accounts,
		providers: providers,
		now:       time.Now,
	}
}

// AccessToken returns a valid access token for the account, refreshing it first
// if it is expired or will expire within 5 minutes
func (m *TokenManager) AccessToken(ctx context.Context, account *models.RemoteAccount) (string, error) {
	if !m.isTokenExpired(account.TokenExpiresAt) && account.AccessToken != nil && *account.AccessToken != "" {
		return *account.AccessToken, nil
	}

	if !account.HasRefreshToken() {
		log.Printf("Warning: account %d (%s) has no refresh token", account.ID, account.Provider)
		if account.AccessToken != nil && *account.AccessToken != "" {
			return *account.AccessToken, nil
		}
		return "", fmt.Errorf("account %d has no usable access token", account.ID)
	}

	return m.Refresh(ctx, account)
}

// Refresh exchanges the account's refresh token for a new access token and stores it.
// The account is updated in place.
func (m *TokenManager) Refresh(ctx context.Context, account *models.RemoteAccount) (string, error) {
	if !account.HasRefreshToken() {
		return "", fmt.Errorf("no refresh token available")
	}

	provider, err := m.providers.For(account.Provider)
	if err != nil {
		return "", err
	}

	result, err := provider.RefreshAccessToken(ctx, *account.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token for account %d: %w", account.ID, err)
	}

	refreshToken := result.RefreshToken
	if refreshToken == "" {
		refreshToken = *account.RefreshToken
	}

	err = m.accounts.UpdateTokens(ctx, account.ID, result.AccessToken, refreshToken, result.ExpiresAt)
	if err != nil {
		return "", fmt.Errorf("failed to update tokens in database: %w", err)
	}

	account.AccessToken = &result.AccessToken
	account.RefreshToken = &refreshToken
	expiresAt := result.ExpiresAt
	account.TokenExpiresAt = &expiresAt

	log.Printf("Token refreshed for account %d, expires at %s", account.ID, result.ExpiresAt)

	return result.AccessToken, nil
}

// RefreshExpiring refreshes every refreshable account whose token expires within
// the window. Failures are logged and counted, never fatal to the sweep.
func (m *TokenManager) RefreshExpiring(ctx context.Context, window time.Duration) (refreshed int, failed int, err error) {
	accounts, err := m.accounts.ListExpiringBefore(ctx, m.now().Add(window))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list expiring accounts: %w", err)
	}

	for i := range accounts {
		if ctx.Err() != nil {
			return refreshed, failed, ctx.Err()
		}
		if _, err := m.Refresh(ctx, &accounts[i]); err != nil {
			log.Printf("Warning: proactive token refresh failed for account %d: %v", accounts[i].ID, err)
			failed++
			continue
		}
		refreshed++
	}

	return refreshed, failed, nil
}

// isTokenExpired checks if access token is expired or will expire within 5 minutes
func (m *TokenManager) isTokenExpired(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true // Assume expired if no expiry time
	}
	return !m.now().Add(tokenExpirySkew).Before(*expiresAt)
}
