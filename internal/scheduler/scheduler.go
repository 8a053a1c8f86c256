// Package scheduler enqueues the periodic jobs: a cast for every sync pair and
// a calendar-list refresh for every account, plus proactive token refresh.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vipul43/shadowcal-worker/internal/config"
	"github.com/vipul43/shadowcal-worker/internal/models"
	"github.com/vipul43/shadowcal-worker/internal/service"
)

type PairLister interface {
	List(ctx context.Context) ([]models.SyncPair, error)
}

type AccountLister interface {
	List(ctx context.Context) ([]models.RemoteAccount, error)
}

type TokenRefresher interface {
	RefreshExpiring(ctx context.Context, window time.Duration) (refreshed int, failed int, err error)
}

type Scheduler struct {
	syncSpec    string
	accountSpec string
	pairs       PairLister
	accounts    AccountLister
	jobs        service.SyncJobEnqueuer
	tokens      TokenRefresher
}

func New(cfg *config.Config, pairs PairLister, accounts AccountLister, jobs service.SyncJobEnqueuer, tokens TokenRefresher) *Scheduler {
	return &Scheduler{
		syncSpec:    cfg.SyncCron,
		accountSpec: cfg.AccountCron,
		pairs:       pairs,
		accounts:    accounts,
		jobs:        jobs,
		tokens:      tokens,
	}
}

// Start runs the cron schedules until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	logger := cron.PrintfLogger(log.Default())
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := c.AddFunc(s.syncSpec, func() {
		if err := s.EnqueueSyncs(ctx); err != nil {
			log.Printf("Error enqueueing sync pair jobs: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule sync pairs: %w", err)
	}

	if _, err := c.AddFunc(s.accountSpec, func() {
		if err := s.RefreshAccounts(ctx); err != nil {
			log.Printf("Error refreshing accounts: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule account refresh: %w", err)
	}

	log.Printf("Starting scheduler (sync: %q, accounts: %q)", s.syncSpec, s.accountSpec)
	c.Start()

	<-ctx.Done()
	log.Println("Scheduler shutting down...")
	<-c.Stop().Done()
	return ctx.Err()
}

// EnqueueSyncs enqueues a cast job for every sync pair, least recently synced first
func (s *Scheduler) EnqueueSyncs(ctx context.Context) error {
	pairs, err := s.pairs.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sync pairs: %w", err)
	}

	created := 0
	for _, pair := range pairs {
		ok, err := s.jobs.Enqueue(ctx, models.JobCastSyncPair, pair.ID)
		if err != nil {
			log.Printf("Warning: failed to enqueue cast for sync pair %d: %v", pair.ID, err)
			continue
		}
		if ok {
			created++
		}
	}

	log.Printf("Enqueued %d cast job(s) for %d sync pair(s)", created, len(pairs))
	return nil
}

// RefreshAccounts refreshes tokens about to expire, then enqueues a calendar-list
// refresh for every account
func (s *Scheduler) RefreshAccounts(ctx context.Context) error {
	refreshed, failed, err := s.tokens.RefreshExpiring(ctx, service.ProactiveRefreshWindow)
	if err != nil {
		log.Printf("Warning: proactive token refresh failed: %v", err)
	} else if refreshed > 0 || failed > 0 {
		log.Printf("Proactively refreshed %d token(s), %d failed", refreshed, failed)
	}

	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	created := 0
	for _, account := range accounts {
		ok, err := s.jobs.Enqueue(ctx, models.JobRefreshCalendars, account.ID)
		if err != nil {
			log.Printf("Warning: failed to enqueue calendar refresh for account %d: %v", account.ID, err)
			continue
		}
		if ok {
			created++
		}
	}

	log.Printf("Enqueued %d calendar refresh job(s) for %d account(s)", created, len(accounts))
	return nil
}
