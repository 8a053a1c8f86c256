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

type EffectKind int

const (
	// EffectMoveCorresponding copies new start/end times to the source or shadow
	EffectMoveCorresponding EffectKind = iota + 1
	EffectPushShadow
	EffectDestroyShadow
)

func (k EffectKind) String() string {
	switch k {
	case EffectMoveCorresponding:
		return "move_corresponding"
	case EffectPushShadow:
		return "push_shadow"
	case EffectDestroyShadow:
		return "destroy_shadow"
	}
	return fmt.Sprintf("effect(%d)", int(k))
}

type Effect struct {
	Kind EffectKind
}

// PlanEventMutation lists the side effects a change from prev to next requires.
// A nil prev is an insert, which never has effects: shadows of imported events
// are created in bulk by casting.
func PlanEventMutation(prev, next *models.Event) []Effect {
	if prev == nil || next == nil {
		return nil
	}

	var effects []Effect
	if next.Moved(*prev) {
		effects = append(effects, Effect{Kind: EffectMoveCorresponding})
	}

	if next.IsShadow() {
		return effects
	}

	wasEligible := prev.ShouldHaveShadow()
	isEligible := next.ShouldHaveShadow()
	switch {
	case isEligible && !wasEligible:
		effects = append(effects, Effect{Kind: EffectPushShadow})
	case wasEligible && !isEligible:
		effects = append(effects, Effect{Kind: EffectDestroyShadow})
	}

	return effects
}

// ShadowOperator performs the remote side of lifecycle effects
type ShadowOperator interface {
	PushShadowOfEvent(ctx context.Context, source *models.Event) (*models.Event, error)
	DestroyShadowOfEvent(ctx context.Context, source *models.Event) error
	MoveRemoteEvent(ctx context.Context, target *models.Event, startAt, endAt time.Time, isAllDay bool, loc *time.Location) error
	// ShadowDestination returns the calendar shadows of calendarID are cast onto, or nil
	ShadowDestination(ctx context.Context, calendarID int64) (*models.Calendar, error)
}

// EventLifecycle keeps a single event and its shadow consistent when the event changes locally
type EventLifecycle struct {
	repos Repositories
	ops   ShadowOperator
}

func NewEventLifecycle(repos Repositories, ops ShadowOperator) *EventLifecycle {
	return &EventLifecycle{
		repos: repos,
		ops:   ops,
	}
}

// SaveEvent persists event, first running the side effects its change requires.
// New events are inserted without effects. The row is left untouched when an effect fails.
func (l *EventLifecycle) SaveEvent(ctx context.Context, event *models.Event) error {
	if event.ID == 0 {
		return l.repos.Events.Create(ctx, event)
	}

	prev, err := l.repos.Events.GetByID(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to load event %d: %w", event.ID, err)
	}

	return l.Update(ctx, prev, event)
}

// Update applies the effects of changing prev into next, then saves next
func (l *EventLifecycle) Update(ctx context.Context, prev, next *models.Event) error {
	effects := PlanEventMutation(prev, next)
	if err := l.Apply(ctx, next, effects); err != nil {
		return err
	}
	return l.repos.Events.Save(ctx, next)
}

// Apply runs effects for event in order. Move and push failures abort and are
// returned; destroy failures are logged only.
func (l *EventLifecycle) Apply(ctx context.Context, event *models.Event, effects []Effect) error {
	for _, effect := range effects {
		var err error
		switch effect.Kind {
		case EffectMoveCorresponding:
			err = l.moveCorresponding(ctx, event)
		case EffectPushShadow:
			err = l.pushShadow(ctx, event)
		case EffectDestroyShadow:
			if destroyErr := l.ops.DestroyShadowOfEvent(ctx, event); destroyErr != nil {
				log.Printf("Warning: failed to destroy shadow of event %d: %v", event.ID, destroyErr)
			}
		default:
			err = fmt.Errorf("unknown effect %s", effect.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// corresponding returns the source of a shadow, or the shadow of a source
func (l *EventLifecycle) corresponding(ctx context.Context, event *models.Event) (*models.Event, error) {
	var other *models.Event
	var err error
	if event.IsShadow() {
		other, err = l.repos.Events.GetByID(ctx, *event.SourceEventID)
	} else {
		other, err = l.repos.Events.FindShadowOf(ctx, event.ID)
	}
	if errors.Is(err, repository.ErrEventNotFound) {
		return nil, nil
	}
	return other, err
}

func (l *EventLifecycle) moveCorresponding(ctx context.Context, event *models.Event) error {
	other, err := l.corresponding(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to find corresponding event of %d: %w", event.ID, err)
	}
	if other == nil {
		return nil
	}

	calendar, err := l.repos.Calendars.GetByID(ctx, event.CalendarID)
	if err != nil {
		return fmt.Errorf("failed to load calendar of event %d: %w", event.ID, err)
	}
	otherCalendar, err := l.repos.Calendars.GetByID(ctx, other.CalendarID)
	if err != nil {
		return fmt.Errorf("failed to load calendar of event %d: %w", other.ID, err)
	}

	startAt, endAt := event.StartAt, event.EndAt
	if event.IsAllDay {
		startAt, endAt = zone.ShiftAllDay(startAt, endAt, calendar.Location(), otherCalendar.Location())
	}

	if other.HasExternalID() {
		err := l.ops.MoveRemoteEvent(ctx, other, startAt, endAt, event.IsAllDay, otherCalendar.Location())
		if err != nil {
			return fmt.Errorf("failed to move corresponding event %d: %w", other.ID, err)
		}
	}

	if err := l.repos.Events.UpdateTimes(ctx, other.ID, startAt.UTC(), endAt.UTC()); err != nil {
		return err
	}

	log.Printf("Moved event %d along with event %d", other.ID, event.ID)
	return nil
}

func (l *EventLifecycle) pushShadow(ctx context.Context, event *models.Event) error {
	calendar, err := l.repos.Calendars.GetByID(ctx, event.CalendarID)
	if err != nil {
		return fmt.Errorf("failed to load calendar of event %d: %w", event.ID, err)
	}

	if workhours.OutsideWorkHours(event.StartAt, event.EndAt, calendar.Location()) {
		log.Printf("Event %d is outside work hours, not casting a shadow", event.ID)
		return nil
	}

	dest, err := l.ops.ShadowDestination(ctx, event.CalendarID)
	if err != nil {
		return err
	}
	if dest == nil {
		log.Printf("Calendar %d is not casting a shadow, skipping event %d", event.CalendarID, event.ID)
		return nil
	}

	if _, err := l.ops.PushShadowOfEvent(ctx, event); err != nil {
		return err
	}
	return nil
}
