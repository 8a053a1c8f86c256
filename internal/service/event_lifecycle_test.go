package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/vipul43/shadowcal-worker/internal/models"
)

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.Kind)
	}
	return out
}

func TestPlanEventMutation(t *testing.T) {
	sourceID := int64(1)
	base := models.Event{ID: 2, StartAt: tuesdayTen, EndAt: tuesdayTen.Add(time.Hour), IsAttending: true, IsBlocking: true}

	moved := base
	moved.StartAt = base.StartAt.Add(30 * time.Minute)

	declined := base
	declined.IsAttending = false

	accepted := declined
	declined2 := base
	declined2.IsBlocking = false

	shadow := base
	shadow.SourceEventID = &sourceID
	shadowMoved := shadow
	shadowMoved.EndAt = shadow.EndAt.Add(time.Hour)
	shadowFree := shadow
	shadowFree.IsBlocking = false

	movedAndDeclined := moved
	movedAndDeclined.IsAttending = false

	tests := []struct {
		name     string
		prev     *models.Event
		next     *models.Event
		expected []EffectKind
	}{
		{"insert", nil, &base, nil},
		{"no change", &base, &base, []EffectKind{}},
		{"moved", &base, &moved, []EffectKind{EffectMoveCorresponding}},
		{"declined", &base, &declined, []EffectKind{EffectDestroyShadow}},
		{"accepted", &declined, &base, []EffectKind{EffectPushShadow}},
		{"became free", &base, &declined2, []EffectKind{EffectDestroyShadow}},
		{"still declined", &declined, &accepted, []EffectKind{}},
		{"shadow moved", &shadow, &shadowMoved, []EffectKind{EffectMoveCorresponding}},
		{"shadow flags never toggle", &shadow, &shadowFree, []EffectKind{}},
		{"moved and declined", &base, &movedAndDeclined, []EffectKind{EffectMoveCorresponding, EffectDestroyShadow}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlanEventMutation(tt.prev, tt.next)
			if tt.expected == nil {
				if got != nil {
					t.Errorf("expected no effects, got %v", kinds(got))
				}
				return
			}
			if !reflect.DeepEqual(kinds(got), tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, kinds(got))
			}
		})
	}
}

// castOne casts a single source and returns it along with its stored shadow
func castOne(t *testing.T, w *world) (*models.Event, models.Event) {
	t.Helper()
	source := w.addSource(tuesdayTen, true, true)
	if _, err := w.engine.CastFromTo(context.Background(), w.from, w.to); err != nil {
		t.Fatalf("expected no error casting, got %v", err)
	}
	shadows := w.store.shadowsOf(source.ID)
	if len(shadows) != 1 {
		t.Fatalf("expected 1 shadow, got %d", len(shadows))
	}
	return source, shadows[0]
}

func TestEventLifecycle_SaveEvent_MovePropagates(t *testing.T) {
	w := newWorld(t)
	source, shadow := castOne(t, w)

	next := *source
	next.StartAt = source.StartAt.Add(2 * time.Hour)
	next.EndAt = source.EndAt.Add(2 * time.Hour)

	if err := w.engine.Lifecycle().SaveEvent(context.Background(), &next); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(w.provider.moveCalls) != 1 {
		t.Fatalf("expected 1 remote move, got %d", len(w.provider.moveCalls))
	}
	move := w.provider.moveCalls[0]
	if move.ExternalID != *shadow.ExternalID || move.CalendarExternalID != w.to.ExternalID {
		t.Errorf("expected move of %q on %q, got %q on %q", *shadow.ExternalID, w.to.ExternalID, move.ExternalID, move.CalendarExternalID)
	}
	if !move.StartAt.Equal(next.StartAt) || !move.EndAt.Equal(next.EndAt) {
		t.Errorf("expected move to %v-%v, got %v-%v", next.StartAt, next.EndAt, move.StartAt, move.EndAt)
	}

	stored, _ := w.store.event(shadow.ID)
	if !stored.StartAt.Equal(next.StartAt) || !stored.EndAt.Equal(next.EndAt) {
		t.Errorf("expected shadow times %v-%v, got %v-%v", next.StartAt, next.EndAt, stored.StartAt, stored.EndAt)
	}
	storedSource, _ := w.store.event(source.ID)
	if !storedSource.StartAt.Equal(next.StartAt) {
		t.Errorf("expected source saved at %v, got %v", next.StartAt, storedSource.StartAt)
	}
}

func TestEventLifecycle_SaveEvent_MoveFailureLeavesRows(t *testing.T) {
	w := newWorld(t)
	source, shadow := castOne(t, w)
	w.provider.moveFunc = func(req MoveEventRequest) error {
		return errors.New("rate limited")
	}

	next := *source
	next.StartAt = source.StartAt.Add(time.Hour)
	next.EndAt = source.EndAt.Add(time.Hour)

	if err := w.engine.Lifecycle().SaveEvent(context.Background(), &next); err == nil {
		t.Fatal("expected error, got nil")
	}

	stored, _ := w.store.event(shadow.ID)
	if !stored.StartAt.Equal(shadow.StartAt) || !stored.EndAt.Equal(shadow.EndAt) {
		t.Errorf("expected shadow times unchanged, got %v-%v", stored.StartAt, stored.EndAt)
	}
	storedSource, _ := w.store.event(source.ID)
	if !storedSource.StartAt.Equal(source.StartAt) {
		t.Errorf("expected source not saved, got start %v", storedSource.StartAt)
	}
}

func TestEventLifecycle_SaveEvent_ShadowMoveReachesSource(t *testing.T) {
	w := newWorld(t)
	source, shadow := castOne(t, w)
	externalID := "source-remote"
	if err := w.store.repos().Events.SetExternalID(context.Background(), source.ID, externalID); err != nil {
		t.Fatal(err)
	}

	next := shadow
	next.EndAt = shadow.EndAt.Add(30 * time.Minute)
	if err := w.engine.Lifecycle().SaveEvent(context.Background(), &next); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(w.provider.moveCalls) != 1 || w.provider.moveCalls[0].ExternalID != externalID {
		t.Fatalf("expected one move of %q, got %+v", externalID, w.provider.moveCalls)
	}
	storedSource, _ := w.store.event(source.ID)
	if !storedSource.EndAt.Equal(next.EndAt) {
		t.Errorf("expected source end %v, got %v", next.EndAt, storedSource.EndAt)
	}
}

func TestEventLifecycle_SaveEvent_AttendanceToggles(t *testing.T) {
	w := newWorld(t)
	source := w.addSource(tuesdayTen, false, true)
	ctx := context.Background()

	accepted := *source
	accepted.IsAttending = true
	if err := w.engine.Lifecycle().SaveEvent(ctx, &accepted); err != nil {
		t.Fatalf("expected no error accepting, got %v", err)
	}
	shadows := w.store.shadowsOf(source.ID)
	if len(shadows) != 1 || !shadows[0].HasExternalID() {
		t.Fatalf("expected a pushed shadow after accepting, got %+v", shadows)
	}

	declined := accepted
	declined.IsAttending = false
	if err := w.engine.Lifecycle().SaveEvent(ctx, &declined); err != nil {
		t.Fatalf("expected no error declining, got %v", err)
	}
	if got := len(w.store.shadowsOf(source.ID)); got != 0 {
		t.Errorf("expected shadow removed after declining, got %d", got)
	}
	if len(w.provider.deleteCalls) != 1 {
		t.Errorf("expected 1 remote delete, got %d", len(w.provider.deleteCalls))
	}
}

func TestEventLifecycle_SaveEvent_OutsideWorkHoursNotPushed(t *testing.T) {
	w := newWorld(t)
	saturday := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	source := w.addSource(saturday, false, true)

	accepted := *source
	accepted.IsAttending = true
	if err := w.engine.Lifecycle().SaveEvent(context.Background(), &accepted); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(w.provider.pushCalls) != 0 {
		t.Errorf("expected no push for a weekend event, got %d", len(w.provider.pushCalls))
	}
}

func TestEventLifecycle_SaveEvent_DestroyFailureIsBestEffort(t *testing.T) {
	w := newWorld(t)
	source, shadow := castOne(t, w)
	w.provider.deleteFunc = func(string, string) error { return errors.New("timeout") }

	declined := *source
	declined.IsAttending = false
	if err := w.engine.Lifecycle().SaveEvent(context.Background(), &declined); err != nil {
		t.Fatalf("expected destroy failure to be swallowed, got %v", err)
	}

	if _, ok := w.store.event(shadow.ID); !ok {
		t.Error("expected shadow row kept after failed remote delete")
	}
	stored, _ := w.store.event(source.ID)
	if stored.IsAttending {
		t.Error("expected source saved as not attending")
	}
}

func TestEventLifecycle_SaveEvent_InsertHasNoEffects(t *testing.T) {
	w := newWorld(t)
	event := &models.Event{CalendarID: w.from.ID, StartAt: tuesdayTen, EndAt: tuesdayTen.Add(time.Hour), IsAttending: true, IsBlocking: true}

	if err := w.engine.Lifecycle().SaveEvent(context.Background(), event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if event.ID == 0 {
		t.Error("expected event to be inserted")
	}
	if len(w.provider.pushCalls) != 0 {
		t.Errorf("expected insert not to push, got %d push calls", len(w.provider.pushCalls))
	}
}
