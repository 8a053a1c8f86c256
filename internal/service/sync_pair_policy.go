package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/vipul43/shadowcal-worker/internal/models"
	"github.com/vipul43/shadowcal-worker/internal/repository"
)

// SyncPairPolicy validates sync pairs and keeps the pair graph free of
// self-loops, shared sources and chained one-way syncs
type SyncPairPolicy struct {
	repos Repositories
	jobs  SyncJobEnqueuer
}

func NewSyncPairPolicy(repos Repositories, jobs SyncJobEnqueuer) *SyncPairPolicy {
	return &SyncPairPolicy{
		repos: repos,
		jobs:  jobs,
	}
}

// Validate checks pair on behalf of its owner. A non-nil result is a ValidationErrors.
func (p *SyncPairPolicy) Validate(ctx context.Context, pair *models.SyncPair) error {
	errs := ValidationErrors{}

	from, err := p.ownedCalendar(ctx, pair.UserID, pair.FromCalendarID, "from_calendar_id", errs)
	if err != nil {
		return err
	}
	to, err := p.ownedCalendar(ctx, pair.UserID, pair.ToCalendarID, "to_calendar_id", errs)
	if err != nil {
		return err
	}

	if from != nil && to != nil && from.ID == to.ID {
		errs.Add("base", "cannot sync a calendar to itself")
	}

	if from != nil && to != nil {
		others, err := p.repos.SyncPairs.ListInvolving(ctx, []int64{from.ID, to.ID})
		if err != nil {
			return err
		}
		for _, other := range others {
			if other.ID == pair.ID {
				continue
			}
			if other.FromCalendarID == from.ID {
				errs.Add("from_calendar_id", "is already being synced from")
			}
			if other.ToCalendarID == from.ID {
				errs.Add("from_calendar_id", "is already being synced to")
			}
			if other.FromCalendarID == to.ID {
				errs.Add("to_calendar_id", "is already being synced from")
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (p *SyncPairPolicy) ownedCalendar(ctx context.Context, userID, calendarID int64, field string, errs ValidationErrors) (*models.Calendar, error) {
	if calendarID == 0 {
		errs.Add(field, "can't be blank")
		return nil, nil
	}

	calendar, err := p.repos.Calendars.GetByID(ctx, calendarID)
	if errors.Is(err, repository.ErrCalendarNotFound) {
		errs.Add(field, "does not exist")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	account, err := p.repos.Accounts.GetByID(ctx, calendar.RemoteAccountID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		errs.Add(field, "does not exist")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if account.UserID != userID {
		errs.Add(field, "must be one of your calendars")
		return nil, nil
	}
	return calendar, nil
}

// Create validates and stores a new pair, then queues its first sync
func (p *SyncPairPolicy) Create(ctx context.Context, pair *models.SyncPair) error {
	if err := p.Validate(ctx, pair); err != nil {
		return err
	}

	if err := p.repos.SyncPairs.Create(ctx, pair); err != nil {
		return err
	}

	log.Printf("Created sync pair %d: calendar %d -> calendar %d", pair.ID, pair.FromCalendarID, pair.ToCalendarID)

	if _, err := p.jobs.Enqueue(ctx, models.JobCastSyncPair, pair.ID); err != nil {
		return fmt.Errorf("failed to queue first sync of pair %d: %w", pair.ID, err)
	}
	return nil
}

// Update validates and stores changed calendars of an existing pair
func (p *SyncPairPolicy) Update(ctx context.Context, pair *models.SyncPair) error {
	if err := p.Validate(ctx, pair); err != nil {
		return err
	}
	return p.repos.SyncPairs.Update(ctx, pair)
}
