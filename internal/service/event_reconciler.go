package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vipul43/shadowcal-worker/internal/models"
	"github.com/vipul43/shadowcal-worker/internal/repository"
)

// ReconcileResult counts what a refresh did to the local cache
type ReconcileResult struct {
	Created   int
	Updated   int
	Unchanged int
	Failed    int
}

// EventReconciler refreshes the local copy of a calendar's upcoming events
type EventReconciler struct {
	repos     Repositories
	providers ProviderRegistry
	tokens    *TokenManager
	lifecycle *EventLifecycle
	now       func() time.Time
}

func NewEventReconciler(repos Repositories, providers ProviderRegistry, tokens *TokenManager, lifecycle *EventLifecycle) *EventReconciler {
	return &EventReconciler{
		repos:     repos,
		providers: providers,
		tokens:    tokens,
		lifecycle: lifecycle,
		now:       time.Now,
	}
}

// Refresh lists the calendar's events for the coming month and upserts them by
// external id. Events that were not observed are left untouched. Changes to
// known events go through the lifecycle so moves reach the corresponding event;
// an event whose update fails keeps its previous row and is retried next refresh.
func (r *EventReconciler) Refresh(ctx context.Context, calendar *models.Calendar) (*ReconcileResult, error) {
	account, err := r.repos.Accounts.GetByID(ctx, calendar.RemoteAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account of calendar %d: %w", calendar.ID, err)
	}

	provider, err := r.providers.For(account.Provider)
	if err != nil {
		return nil, err
	}

	accessToken, err := r.tokens.AccessToken(ctx, account)
	if err != nil {
		return nil, err
	}

	now := r.now()
	remote, err := provider.ListEvents(ctx, accessToken, ListEventsRequest{
		CalendarExternalID: calendar.ExternalID,
		Location:           calendar.Location(),
		OwnerEmail:         account.Email,
		TimeMin:            now,
		TimeMax:            now.AddDate(0, 1, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events of calendar %d: %w", calendar.ID, err)
	}

	result := &ReconcileResult{}
	for _, pe := range remote {
		if pe.ExternalID == "" {
			continue
		}
		if err := r.upsert(ctx, calendar, pe, result); err != nil {
			log.Printf("Warning: failed to reconcile event %q on calendar %d: %v", pe.ExternalID, calendar.ID, err)
			result.Failed++
		}
	}

	log.Printf("Refreshed calendar %d: %d created, %d updated, %d unchanged, %d failed",
		calendar.ID, result.Created, result.Updated, result.Unchanged, result.Failed)

	return result, nil
}

func (r *EventReconciler) upsert(ctx context.Context, calendar *models.Calendar, pe ProviderEvent, result *ReconcileResult) error {
	existing, err := r.repos.Events.FindByExternalID(ctx, calendar.ID, pe.ExternalID)
	if err != nil && !errors.Is(err, repository.ErrEventNotFound) {
		return err
	}

	if existing == nil {
		externalID := pe.ExternalID
		event := &models.Event{
			CalendarID:  calendar.ID,
			Name:        pe.Name,
			StartAt:     pe.StartAt.UTC(),
			EndAt:       pe.EndAt.UTC(),
			ExternalID:  &externalID,
			IsAllDay:    pe.IsAllDay,
			IsAttending: pe.IsAttending,
			IsBlocking:  pe.IsBlocking,
		}
		event.SourceEventID = r.linkableSource(ctx, 0, pe.SourceEventID)
		if err := r.repos.Events.Create(ctx, event); err != nil {
			return err
		}
		result.Created++
		return nil
	}

	next := *existing
	next.Name = pe.Name
	next.StartAt = pe.StartAt.UTC()
	next.EndAt = pe.EndAt.UTC()
	next.IsAllDay = pe.IsAllDay
	next.IsAttending = pe.IsAttending
	next.IsBlocking = pe.IsBlocking
	if next.SourceEventID == nil {
		next.SourceEventID = r.linkableSource(ctx, existing.ID, pe.SourceEventID)
	}

	if !changed(existing, &next) {
		result.Unchanged++
		return nil
	}

	if err := r.lifecycle.Update(ctx, existing, &next); err != nil {
		return err
	}
	result.Updated++
	return nil
}

// linkableSource returns sourceID when it names an existing source event that
// has no other shadow, and nil otherwise
func (r *EventReconciler) linkableSource(ctx context.Context, eventID int64, sourceID *int64) *int64 {
	if sourceID == nil || *sourceID == eventID {
		return nil
	}

	source, err := r.repos.Events.GetByID(ctx, *sourceID)
	if err != nil {
		return nil
	}
	if source.IsShadow() {
		log.Printf("Warning: event %d is tagged with shadow %d as its source, ignoring", eventID, source.ID)
		return nil
	}

	shadow, err := r.repos.Events.FindShadowOf(ctx, source.ID)
	if err == nil && shadow.ID != eventID {
		return nil
	}

	id := source.ID
	return &id
}

func changed(a, b *models.Event) bool {
	return a.Name != b.Name ||
		a.Moved(*b) ||
		a.IsAllDay != b.IsAllDay ||
		a.IsAttending != b.IsAttending ||
		a.IsBlocking != b.IsBlocking ||
		(a.SourceEventID == nil) != (b.SourceEventID == nil)
}
