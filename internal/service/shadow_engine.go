package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vipul43/shadowcal-worker/internal/models"
	"github.com/vipul43/shadowcal-worker/internal/repository"
	"github.com/vipul43/shadowcal-worker/internal/workhours"
	"github.com/vipul43/shadowcal-worker/internal/zone"
)

const DefaultCastBatchSize = 100

// CastResult summarizes one cast between a pair of calendars
type CastResult struct {
	Candidates int
	Pushed     int
	Batches    int
}

// ShadowEngine creates, moves and removes shadows so that every eligible source
// event on a synced calendar has exactly one "(Busy)" placeholder on its destination
type ShadowEngine struct {
	repos      Repositories
	providers  ProviderRegistry
	tokens     *TokenManager
	batchSize  int
	now        func() time.Time
	lifecycle  *EventLifecycle
	reconciler *EventReconciler
}

func NewShadowEngine(repos Repositories, providers ProviderRegistry, tokens *TokenManager, batchSize int) *ShadowEngine {
	if batchSize <= 0 {
		batchSize = DefaultCastBatchSize
	}
	e := &ShadowEngine{
		repos:     repos,
		providers: providers,
		tokens:    tokens,
		batchSize: batchSize,
		now:       time.Now,
	}
	e.lifecycle = NewEventLifecycle(repos, e)
	e.reconciler = NewEventReconciler(repos, providers, tokens, e.lifecycle)
	return e
}

// Lifecycle returns the lifecycle bound to this engine
func (e *ShadowEngine) Lifecycle() *EventLifecycle {
	return e.lifecycle
}

// Reconciler returns the reconciler bound to this engine
func (e *ShadowEngine) Reconciler() *EventReconciler {
	return e.reconciler
}

// PerformSync casts the pair's source calendar onto its destination and records the sync time
func (e *ShadowEngine) PerformSync(ctx context.Context, pairID int64) (*CastResult, error) {
	pair, err := e.repos.SyncPairs.GetByID(ctx, pairID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync pair %d: %w", pairID, err)
	}

	from, err := e.repos.Calendars.GetByID(ctx, pair.FromCalendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to get from calendar: %w", err)
	}
	to, err := e.repos.Calendars.GetByID(ctx, pair.ToCalendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to get to calendar: %w", err)
	}

	result, err := e.CastFromTo(ctx, from, to)
	if err != nil {
		return result, err
	}

	if err := e.repos.SyncPairs.MarkSynced(ctx, pair.ID, e.now()); err != nil {
		return result, err
	}
	return result, nil
}

// EventsNeedingShadows lists source events on the calendar that are attending,
// blocking, not yet shadowed remotely and inside work hours
func (e *ShadowEngine) EventsNeedingShadows(ctx context.Context, from *models.Calendar) ([]models.Event, error) {
	candidates, err := e.repos.Events.ListShadowCandidates(ctx, from.ID)
	if err != nil {
		return nil, err
	}

	loc := from.Location()
	events := make([]models.Event, 0, len(candidates))
	for _, event := range candidates {
		if !event.ShouldHaveShadow() {
			continue
		}
		if workhours.OutsideWorkHours(event.StartAt, event.EndAt, loc) {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// CastFromTo refreshes both calendars and pushes shadows of every event needing
// one from the source calendar onto the destination, in batches. Each batch is
// committed locally only if its push succeeds.
func (e *ShadowEngine) CastFromTo(ctx context.Context, from, to *models.Calendar) (*CastResult, error) {
	_, err := e.repos.SyncPairs.FindBetween(ctx, from.ID, to.ID)
	if errors.Is(err, repository.ErrSyncPairNotFound) {
		return nil, &CalendarPairError{FromCalendarID: from.ID, ToCalendarID: to.ID, Err: ErrCastingUnsyncedCalendars}
	}
	if err != nil {
		return nil, err
	}

	if _, err := e.reconciler.Refresh(ctx, to); err != nil {
		return nil, err
	}
	if _, err := e.reconciler.Refresh(ctx, from); err != nil {
		return nil, err
	}

	events, err := e.EventsNeedingShadows(ctx, from)
	if err != nil {
		return nil, err
	}

	result := &CastResult{Candidates: len(events)}
	log.Printf("Casting %d shadow(s) from calendar %d to calendar %d", len(events), from.ID, to.ID)
	if len(events) == 0 {
		return result, nil
	}

	dest, err := e.destinationFor(ctx, to)
	if err != nil {
		return result, err
	}

	for start := 0; start < len(events); start += e.batchSize {
		end := start + e.batchSize
		if end > len(events) {
			end = len(events)
		}

		pushed, err := e.castBatch(ctx, from, dest, events[start:end])
		result.Pushed += pushed
		result.Batches++
		if err != nil {
			return result, err
		}
	}

	return result, nil
}

// destination bundles what is needed to write onto a calendar remotely
type destination struct {
	calendar    *models.Calendar
	provider    CalendarProvider
	accessToken string
}

func (e *ShadowEngine) destinationFor(ctx context.Context, calendar *models.Calendar) (*destination, error) {
	account, err := e.repos.Accounts.GetByID(ctx, calendar.RemoteAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account of calendar %d: %w", calendar.ID, err)
	}
	provider, err := e.providers.For(account.Provider)
	if err != nil {
		return nil, err
	}
	accessToken, err := e.tokens.AccessToken(ctx, account)
	if err != nil {
		return nil, err
	}
	return &destination{calendar: calendar, provider: provider, accessToken: accessToken}, nil
}

func (e *ShadowEngine) castBatch(ctx context.Context, from *models.Calendar, dest *destination, sources []models.Event) (int, error) {
	var partial *PartialPushError
	pushed := 0

	err := e.repos.Tx.InTx(ctx, func(ctx context.Context) error {
		shadows := make([]*models.Event, 0, len(sources))
		created := make(map[int64]bool, len(sources))
		ids := make([]int64, 0, len(sources))

		for i := range sources {
			shadow, isNew, err := e.findOrCreateShadow(ctx, &sources[i], from, dest.calendar)
			if err != nil {
				return err
			}
			if shadow.HasExternalID() {
				continue
			}
			shadows = append(shadows, shadow)
			created[shadow.ID] = isNew
			ids = append(ids, shadow.ID)
		}

		if len(shadows) == 0 {
			return nil
		}

		if err := e.repos.Events.MoveToCalendar(ctx, ids, dest.calendar.ID); err != nil {
			return err
		}
		for _, shadow := range shadows {
			shadow.CalendarID = dest.calendar.ID
		}

		pushErr := dest.provider.PushEvents(ctx, dest.accessToken, PushRequest{
			CalendarExternalID: dest.calendar.ExternalID,
			Location:           dest.calendar.Location(),
			Events:             shadows,
		})

		var failed []*models.Event
		for _, shadow := range shadows {
			if !shadow.HasExternalID() {
				failed = append(failed, shadow)
				continue
			}
			if err := e.repos.Events.SetExternalID(ctx, shadow.ID, *shadow.ExternalID); err != nil {
				return err
			}
			pushed++
		}

		if len(failed) == 0 {
			return nil
		}
		if pushErr == nil {
			pushErr = fmt.Errorf("provider assigned no external id to %d shadow(s)", len(failed))
		}
		if pushed == 0 {
			return fmt.Errorf("failed to push shadows to calendar %d: %w", dest.calendar.ID, pushErr)
		}

		// Keep what made it remotely; drop new rows that did not so no stray shadow remains
		for _, shadow := range failed {
			if !created[shadow.ID] {
				continue
			}
			if err := e.repos.Events.Delete(ctx, shadow.ID); err != nil {
				return err
			}
		}
		partial = &PartialPushError{Pushed: pushed, Failed: len(failed), Err: pushErr}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if partial != nil {
		return pushed, partial
	}
	return pushed, nil
}

// findOrCreateShadow locates the shadow row of source, creating it on the source
// calendar when missing. It reports whether the row was created.
func (e *ShadowEngine) findOrCreateShadow(ctx context.Context, source *models.Event, from, to *models.Calendar) (*models.Event, bool, error) {
	if source.IsShadow() {
		return nil, false, &EventError{EventID: source.ID, CalendarID: source.CalendarID, Err: ErrShadowOfShadow}
	}

	shadow, err := e.repos.Events.FindShadowOf(ctx, source.ID)
	if err == nil {
		return shadow, false, nil
	}
	if !errors.Is(err, repository.ErrEventNotFound) {
		return nil, false, err
	}

	sourceID := source.ID
	shadow = &models.Event{
		CalendarID:    source.CalendarID,
		Name:          models.ShadowName,
		StartAt:       source.StartAt,
		EndAt:         source.EndAt,
		IsAllDay:      source.IsAllDay,
		IsAttending:   source.IsAttending,
		IsBlocking:    source.IsBlocking,
		SourceEventID: &sourceID,
	}
	if source.IsAllDay {
		start, end := zone.ShiftAllDay(source.StartAt, source.EndAt, from.Location(), to.Location())
		shadow.StartAt, shadow.EndAt = start.UTC(), end.UTC()
	}

	if err := e.repos.Events.Create(ctx, shadow); err != nil {
		return nil, false, err
	}
	log.Printf("Created shadow %d of event %d", shadow.ID, source.ID)
	return shadow, true, nil
}

// ShadowDestination returns the calendar shadows of calendarID are cast onto,
// or nil when the calendar is not the source of any sync pair
func (e *ShadowEngine) ShadowDestination(ctx context.Context, calendarID int64) (*models.Calendar, error) {
	pair, err := e.repos.SyncPairs.FindByFromCalendar(ctx, calendarID)
	if errors.Is(err, repository.ErrSyncPairNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e.repos.Calendars.GetByID(ctx, pair.ToCalendarID)
}

// PushShadowOfEvent makes sure source has a shadow that exists remotely. It is a
// no-op when one already does. A failed push leaves no new local shadow behind.
func (e *ShadowEngine) PushShadowOfEvent(ctx context.Context, source *models.Event) (*models.Event, error) {
	if source.IsShadow() {
		return nil, &EventError{EventID: source.ID, CalendarID: source.CalendarID, Err: ErrShadowOfShadow}
	}

	to, err := e.ShadowDestination(ctx, source.CalendarID)
	if err != nil {
		return nil, err
	}
	if to == nil {
		return nil, &EventError{EventID: source.ID, CalendarID: source.CalendarID, Err: ErrShadowWithoutPair}
	}

	existing, err := e.repos.Events.FindShadowOf(ctx, source.ID)
	if err == nil && existing.HasExternalID() {
		return existing, nil
	}
	if err != nil && !errors.Is(err, repository.ErrEventNotFound) {
		return nil, err
	}

	from, err := e.repos.Calendars.GetByID(ctx, source.CalendarID)
	if err != nil {
		return nil, err
	}
	dest, err := e.destinationFor(ctx, to)
	if err != nil {
		return nil, err
	}

	var shadow *models.Event
	err = e.repos.Tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		shadow, _, err = e.findOrCreateShadow(ctx, source, from, to)
		if err != nil {
			return err
		}

		if shadow.CalendarID != to.ID {
			if err := e.repos.Events.MoveToCalendar(ctx, []int64{shadow.ID}, to.ID); err != nil {
				return err
			}
			shadow.CalendarID = to.ID
		}

		err = dest.provider.PushEvents(ctx, dest.accessToken, PushRequest{
			CalendarExternalID: to.ExternalID,
			Location:           to.Location(),
			Events:             []*models.Event{shadow},
		})
		if err != nil {
			return fmt.Errorf("failed to push shadow of event %d: %w", source.ID, err)
		}
		if !shadow.HasExternalID() {
			return fmt.Errorf("provider assigned no external id to shadow of event %d", source.ID)
		}

		return e.repos.Events.SetExternalID(ctx, shadow.ID, *shadow.ExternalID)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Pushed shadow %d of event %d to calendar %d", shadow.ID, source.ID, to.ID)
	return shadow, nil
}

// DestroyShadowOfEvent removes the shadow of source, remotely first. A shadow that
// is already gone remotely is treated as deleted. Any other remote failure keeps
// the local shadow so the call can be retried.
func (e *ShadowEngine) DestroyShadowOfEvent(ctx context.Context, source *models.Event) error {
	shadow, err := e.repos.Events.FindShadowOf(ctx, source.ID)
	if errors.Is(err, repository.ErrEventNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if shadow.HasExternalID() {
		calendar, err := e.repos.Calendars.GetByID(ctx, shadow.CalendarID)
		if err != nil {
			return fmt.Errorf("failed to get calendar of shadow %d: %w", shadow.ID, err)
		}
		dest, err := e.destinationFor(ctx, calendar)
		if err != nil {
			return err
		}

		err = dest.provider.DeleteEvent(ctx, dest.accessToken, calendar.ExternalID, *shadow.ExternalID)
		if err != nil && !errors.Is(err, ErrRemoteEventNotFound) {
			return &EventError{EventID: source.ID, CalendarID: source.CalendarID, Err: fmt.Errorf("failed to delete shadow %d remotely: %w", shadow.ID, err)}
		}
	}

	if err := e.repos.Events.Delete(ctx, shadow.ID); err != nil {
		return err
	}

	log.Printf("Destroyed shadow %d of event %d", shadow.ID, source.ID)
	return nil
}

// MoveRemoteEvent moves target on its provider. loc is the zone of target's calendar.
func (e *ShadowEngine) MoveRemoteEvent(ctx context.Context, target *models.Event, startAt, endAt time.Time, isAllDay bool, loc *time.Location) error {
	if !target.HasExternalID() {
		return nil
	}

	calendar, err := e.repos.Calendars.GetByID(ctx, target.CalendarID)
	if err != nil {
		return fmt.Errorf("failed to get calendar of event %d: %w", target.ID, err)
	}
	dest, err := e.destinationFor(ctx, calendar)
	if err != nil {
		return err
	}

	return dest.provider.MoveEvent(ctx, dest.accessToken, MoveEventRequest{
		CalendarExternalID: calendar.ExternalID,
		ExternalID:         *target.ExternalID,
		StartAt:            startAt,
		EndAt:              endAt,
		IsAllDay:           isAllDay,
		Location:           loc,
	})
}
