package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vipul43/shadowcal-worker/internal/models"
	"github.com/vipul43/shadowcal-worker/internal/repository"
)

// fakeStore is an in-memory stand-in for the postgres repositories.
// InTx snapshots all tables and restores them when fn fails.
type fakeStore struct {
	mu        sync.Mutex
	accounts  map[int64]models.RemoteAccount
	calendars map[int64]models.Calendar
	events    map[int64]models.Event
	pairs     map[int64]models.SyncPair
	nextID    int64
	enqueued  []enqueuedJob
}

type enqueuedJob struct {
	kind     models.SyncJobKind
	targetID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:  map[int64]models.RemoteAccount{},
		calendars: map[int64]models.Calendar{},
		events:    map[int64]models.Event{},
		pairs:     map[int64]models.SyncPair{},
		nextID:    100,
	}
}

func (s *fakeStore) repos() Repositories {
	return Repositories{
		Accounts:  fakeAccounts{s},
		Calendars: fakeCalendars{s},
		Events:    fakeEvents{s},
		SyncPairs: fakePairs{s},
		Tx:        s,
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	accounts := copyMap(s.accounts)
	calendars := copyMap(s.calendars)
	events := copyMap(s.events)
	pairs := copyMap(s.pairs)
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.accounts, s.calendars, s.events, s.pairs = accounts, calendars, events, pairs
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *fakeStore) Enqueue(ctx context.Context, kind models.SyncJobKind, targetID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, enqueuedJob{kind: kind, targetID: targetID})
	return true, nil
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// fixture helpers

func (s *fakeStore) addAccount(userID int64, provider models.ProviderType) *models.RemoteAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	access := fmt.Sprintf("access-%d", s.nextID+1)
	refresh := "refresh-token"
	expires := time.Now().Add(time.Hour)
	account := models.RemoteAccount{
		ID:             s.id(),
		UserID:         userID,
		Provider:       provider,
		Email:          fmt.Sprintf("user%d@example.com", userID),
		AccessToken:    &access,
		RefreshToken:   &refresh,
		TokenExpiresAt: &expires,
	}
	s.accounts[account.ID] = account
	return &account
}

func (s *fakeStore) addCalendar(accountID int64, timeZone string) *models.Calendar {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	calendar := models.Calendar{
		ID:              id,
		RemoteAccountID: accountID,
		ExternalID:      fmt.Sprintf("cal-%d", id),
		Name:            fmt.Sprintf("Calendar %d", id),
		TimeZone:        timeZone,
	}
	s.calendars[calendar.ID] = calendar
	return &calendar
}

func (s *fakeStore) addPair(userID, fromID, toID int64) *models.SyncPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair := models.SyncPair{ID: s.id(), UserID: userID, FromCalendarID: fromID, ToCalendarID: toID}
	s.pairs[pair.ID] = pair
	return &pair
}

func (s *fakeStore) addEvent(e models.Event) *models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.id()
	s.events[e.ID] = e
	return &e
}

func (s *fakeStore) event(id int64) (models.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	return e, ok
}

func (s *fakeStore) shadowsOf(sourceID int64) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, e := range s.events {
		if e.SourceEventID != nil && *e.SourceEventID == sourceID {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeStore) countShadows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.SourceEventID != nil {
			n++
		}
	}
	return n
}

type fakeAccounts struct{ s *fakeStore }

func (r fakeAccounts) GetByID(ctx context.Context, accountID int64) (*models.RemoteAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[accountID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return &a, nil
}

func (r fakeAccounts) List(ctx context.Context) ([]models.RemoteAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.RemoteAccount
	for _, a := range r.s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r fakeAccounts) ListExpiringBefore(ctx context.Context, t time.Time) ([]models.RemoteAccount, error) {
	all, _ := r.List(ctx)
	var out []models.RemoteAccount
	for _, a := range all {
		if !a.HasRefreshToken() {
			continue
		}
		if a.TokenExpiresAt == nil || a.TokenExpiresAt.Before(t) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r fakeAccounts) UpdateTokens(ctx context.Context, accountID int64, accessToken string, refreshToken string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[accountID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.AccessToken = &accessToken
	a.RefreshToken = &refreshToken
	a.TokenExpiresAt = &expiresAt
	r.s.accounts[accountID] = a
	return nil
}

type fakeCalendars struct{ s *fakeStore }

func (r fakeCalendars) GetByID(ctx context.Context, calendarID int64) (*models.Calendar, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.calendars[calendarID]
	if !ok {
		return nil, repository.ErrCalendarNotFound
	}
	return &c, nil
}

func (r fakeCalendars) ListByAccount(ctx context.Context, accountID int64) ([]models.Calendar, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Calendar
	for _, c := range r.s.calendars {
		if c.RemoteAccountID == accountID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r fakeCalendars) Upsert(ctx context.Context, calendar *models.Calendar) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, c := range r.s.calendars {
		if c.RemoteAccountID == calendar.RemoteAccountID && c.ExternalID == calendar.ExternalID {
			c.Name = calendar.Name
			if calendar.TimeZone != "" {
				c.TimeZone = calendar.TimeZone
			}
			r.s.calendars[id] = c
			*calendar = c
			return nil
		}
	}
	calendar.ID = r.s.id()
	r.s.calendars[calendar.ID] = *calendar
	return nil
}

type fakeEvents struct{ s *fakeStore }

func (r fakeEvents) find(match func(models.Event) bool) (*models.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := make([]int64, 0, len(r.s.events))
	for id := range r.s.events {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if e := r.s.events[id]; match(e) {
			return &e, nil
		}
	}
	return nil, repository.ErrEventNotFound
}

func (r fakeEvents) GetByID(ctx context.Context, eventID int64) (*models.Event, error) {
	return r.find(func(e models.Event) bool { return e.ID == eventID })
}

func (r fakeEvents) FindByExternalID(ctx context.Context, calendarID int64, externalID string) (*models.Event, error) {
	return r.find(func(e models.Event) bool {
		return e.CalendarID == calendarID && e.ExternalID != nil && *e.ExternalID == externalID
	})
}

func (r fakeEvents) FindShadowOf(ctx context.Context, sourceID int64) (*models.Event, error) {
	return r.find(func(e models.Event) bool { return e.SourceEventID != nil && *e.SourceEventID == sourceID })
}

// ListShadowCandidates mirrors the anti-join in repository.EventRepository.ListShadowCandidates;
// keep the two filters in step.
func (r fakeEvents) ListShadowCandidates(ctx context.Context, calendarID int64) ([]models.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pushed := map[int64]bool{}
	for _, e := range r.s.events {
		if e.SourceEventID != nil && e.HasExternalID() {
			pushed[*e.SourceEventID] = true
		}
	}
	var out []models.Event
	for _, e := range r.s.events {
		if e.CalendarID == calendarID && e.IsAttending && e.IsBlocking && e.SourceEventID == nil && !pushed[e.ID] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r fakeEvents) checkUnique(e models.Event) error {
	for _, other := range r.s.events {
		if other.ID == e.ID {
			continue
		}
		if e.SourceEventID != nil && other.SourceEventID != nil && *e.SourceEventID == *other.SourceEventID {
			return errors.New("duplicate key value violates unique constraint \"idx_events_source_event_id\"")
		}
		if e.HasExternalID() && other.HasExternalID() && e.CalendarID == other.CalendarID && *e.ExternalID == *other.ExternalID {
			return errors.New("duplicate key value violates unique constraint \"idx_events_external_id_calendar_id\"")
		}
	}
	return nil
}

func (r fakeEvents) Create(ctx context.Context, event *models.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.checkUnique(*event); err != nil {
		return err
	}
	event.ID = r.s.id()
	r.s.events[event.ID] = *event
	return nil
}

func (r fakeEvents) Save(ctx context.Context, event *models.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.events[event.ID]; !ok {
		return repository.ErrEventNotFound
	}
	if err := r.checkUnique(*event); err != nil {
		return err
	}
	r.s.events[event.ID] = *event
	return nil
}

func (r fakeEvents) Delete(ctx context.Context, eventID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.events, eventID)
	return nil
}

func (r fakeEvents) update(eventID int64, fn func(*models.Event)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[eventID]
	if !ok {
		return repository.ErrEventNotFound
	}
	fn(&e)
	r.s.events[eventID] = e
	return nil
}

func (r fakeEvents) UpdateTimes(ctx context.Context, eventID int64, startAt, endAt time.Time) error {
	return r.update(eventID, func(e *models.Event) { e.StartAt, e.EndAt = startAt, endAt })
}

func (r fakeEvents) SetExternalID(ctx context.Context, eventID int64, externalID string) error {
	return r.update(eventID, func(e *models.Event) { e.ExternalID = &externalID })
}

func (r fakeEvents) MoveToCalendar(ctx context.Context, eventIDs []int64, calendarID int64) error {
	for _, id := range eventIDs {
		if err := r.update(id, func(e *models.Event) { e.CalendarID = calendarID }); err != nil {
			return err
		}
	}
	return nil
}

type fakePairs struct{ s *fakeStore }

func (r fakePairs) find(match func(models.SyncPair) bool) (*models.SyncPair, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.pairs {
		if match(p) {
			return &p, nil
		}
	}
	return nil, repository.ErrSyncPairNotFound
}

func (r fakePairs) GetByID(ctx context.Context, pairID int64) (*models.SyncPair, error) {
	return r.find(func(p models.SyncPair) bool { return p.ID == pairID })
}

func (r fakePairs) FindBetween(ctx context.Context, fromCalendarID, toCalendarID int64) (*models.SyncPair, error) {
	return r.find(func(p models.SyncPair) bool {
		return p.FromCalendarID == fromCalendarID && p.ToCalendarID == toCalendarID
	})
}

func (r fakePairs) FindByFromCalendar(ctx context.Context, calendarID int64) (*models.SyncPair, error) {
	return r.find(func(p models.SyncPair) bool { return p.FromCalendarID == calendarID })
}

func (r fakePairs) ListInvolving(ctx context.Context, calendarIDs []int64) ([]models.SyncPair, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	in := map[int64]bool{}
	for _, id := range calendarIDs {
		in[id] = true
	}
	var out []models.SyncPair
	for _, p := range r.s.pairs {
		if in[p.FromCalendarID] || in[p.ToCalendarID] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r fakePairs) List(ctx context.Context) ([]models.SyncPair, error) {
	return r.ListInvolving(ctx, nil)
}

func (r fakePairs) Create(ctx context.Context, pair *models.SyncPair) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pair.ID = r.s.id()
	r.s.pairs[pair.ID] = *pair
	return nil
}

func (r fakePairs) Update(ctx context.Context, pair *models.SyncPair) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.pairs[pair.ID]; !ok {
		return repository.ErrSyncPairNotFound
	}
	r.s.pairs[pair.ID] = *pair
	return nil
}

func (r fakePairs) MarkSynced(ctx context.Context, pairID int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pairs[pairID]
	if !ok {
		return repository.ErrSyncPairNotFound
	}
	p.LastSyncedAt = &at
	r.s.pairs[pairID] = p
	return nil
}

// fakeProvider records calls and keeps pushed events listable, like a real calendar would
type fakeProvider struct {
	mu          sync.Mutex
	calendars   []ProviderCalendar
	remote      map[string][]ProviderEvent // by calendar external id
	pushFunc    func(req PushRequest) error
	deleteFunc  func(calendarExternalID, externalID string) error
	moveFunc    func(req MoveEventRequest) error
	refreshFunc func(refreshToken string) (*TokenRefreshResult, error)

	pushCalls    []PushRequest
	deleteCalls  []string
	moveCalls    []MoveEventRequest
	refreshCalls int
	nextID       int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{remote: map[string][]ProviderEvent{}}
}

func (p *fakeProvider) ListCalendars(ctx context.Context, accessToken string) ([]ProviderCalendar, error) {
	return p.calendars, nil
}

func (p *fakeProvider) ListEvents(ctx context.Context, accessToken string, req ListEventsRequest) ([]ProviderEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ProviderEvent(nil), p.remote[req.CalendarExternalID]...), nil
}

func (p *fakeProvider) PushEvents(ctx context.Context, accessToken string, req PushRequest) error {
	p.mu.Lock()
	p.pushCalls = append(p.pushCalls, req)
	p.mu.Unlock()

	if p.pushFunc != nil {
		return p.pushFunc(req)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range req.Events {
		if e.HasExternalID() {
			continue
		}
		p.nextID++
		id := fmt.Sprintf("remote-%d", p.nextID)
		e.ExternalID = &id
		p.remote[req.CalendarExternalID] = append(p.remote[req.CalendarExternalID], ProviderEvent{
			ExternalID:    id,
			Name:          e.Name,
			StartAt:       e.StartAt,
			EndAt:         e.EndAt,
			IsAllDay:      e.IsAllDay,
			IsAttending:   e.IsAttending,
			IsBlocking:    e.IsBlocking,
			SourceEventID: e.SourceEventID,
		})
	}
	return nil
}

func (p *fakeProvider) DeleteEvent(ctx context.Context, accessToken string, calendarExternalID string, externalID string) error {
	p.mu.Lock()
	p.deleteCalls = append(p.deleteCalls, externalID)
	p.mu.Unlock()
	if p.deleteFunc != nil {
		return p.deleteFunc(calendarExternalID, externalID)
	}
	return nil
}

func (p *fakeProvider) MoveEvent(ctx context.Context, accessToken string, req MoveEventRequest) error {
	p.mu.Lock()
	p.moveCalls = append(p.moveCalls, req)
	p.mu.Unlock()
	if p.moveFunc != nil {
		return p.moveFunc(req)
	}
	return nil
}

func (p *fakeProvider) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error) {
	p.mu.Lock()
	p.refreshCalls++
	p.mu.Unlock()
	if p.refreshFunc != nil {
		return p.refreshFunc(refreshToken)
	}
	return &TokenRefreshResult{
		AccessToken:  "new-access-token",
		ExpiresAt:    time.Now().Add(time.Hour),
		RefreshToken: refreshToken,
	}, nil
}

func (p *fakeProvider) pushedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, call := range p.pushCalls {
		n += len(call.Events)
	}
	return n
}
