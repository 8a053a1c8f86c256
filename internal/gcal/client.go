package gcal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/vipul43/shadowcal-worker/internal/service"
	"github.com/vipul43/shadowcal-worker/internal/zone"
)

const (
	maxResultsPerPage = 500
	// pushConcurrency bounds parallel inserts; the Go client has no batch endpoint
	pushConcurrency = 5
)

type Client struct {
	clientID     string
	clientSecret string
	tokenURL     string
	opts         []option.ClientOption
}

// NewClient creates a Google Calendar adapter. Extra options are appended to
// every service built, which lets tests point the client at a fake server.
func NewClient(clientID, clientSecret string, opts ...option.ClientOption) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     google.Endpoint.TokenURL,
		opts:         opts,
	}
}

func (c *Client) service(ctx context.Context, accessToken string) (*calendar.Service, error) {
	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}

	opts := append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(token))}, c.opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return svc, nil
}

// ListCalendars lists every calendar on the user's calendar list
func (c *Client) ListCalendars(ctx context.Context, accessToken string) ([]service.ProviderCalendar, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var calendars []service.ProviderCalendar
	err = svc.CalendarList.List().Pages(ctx, func(page *calendar.CalendarList) error {
		for _, item := range page.Items {
			name := item.Summary
			if item.SummaryOverride != "" {
				name = item.SummaryOverride
			}
			calendars = append(calendars, service.ProviderCalendar{
				ExternalID: item.Id,
				Name:       name,
				TimeZone:   item.TimeZone,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	log.Printf("Google returned %d calendar(s)", len(calendars))
	return calendars, nil
}

// ListEvents lists expanded, non-cancelled events in the request window
func (c *Client) ListEvents(ctx context.Context, accessToken string, req service.ListEventsRequest) ([]service.ProviderEvent, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}

	var events []service.ProviderEvent
	call := svc.Events.List(req.CalendarExternalID).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(maxResultsPerPage).
		TimeMin(req.TimeMin.UTC().Format(time.RFC3339)).
		TimeMax(req.TimeMax.UTC().Format(time.RFC3339))

	err = call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			event, ok := toProviderEvent(item, loc, req.OwnerEmail)
			if ok {
				events = append(events, event)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", mapError(err))
	}

	log.Printf("Google returned %d event(s) for calendar %s", len(events), req.CalendarExternalID)
	return events, nil
}

func toProviderEvent(item *calendar.Event, loc *time.Location, ownerEmail string) (service.ProviderEvent, bool) {
	if item == nil || item.Status == "cancelled" || item.Start == nil || item.End == nil {
		return service.ProviderEvent{}, false
	}

	event := service.ProviderEvent{
		ExternalID:    item.Id,
		Name:          item.Summary,
		IsAttending:   isAttending(item, ownerEmail),
		IsBlocking:    item.Transparency != "transparent",
		SourceEventID: service.ExtractSourceEventTag(item.Description),
	}

	var err error
	if item.Start.Date != "" {
		event.IsAllDay = true
		// Dates belong to the calendar's zone even when the item carries its own timeZone
		event.StartAt, err = zone.FromDateAndZone(item.Start.Date, loc)
		if err == nil {
			var exclusiveEnd time.Time
			exclusiveEnd, err = zone.FromDateAndZone(item.End.Date, loc)
			event.EndAt = zone.InclusiveEnd(exclusiveEnd, loc)
		}
	} else {
		event.StartAt, err = time.Parse(time.RFC3339, item.Start.DateTime)
		if err == nil {
			event.EndAt, err = time.Parse(time.RFC3339, item.End.DateTime)
		}
	}
	if err != nil {
		log.Printf("Warning: skipping Google event %s with unreadable times: %v", item.Id, err)
		return service.ProviderEvent{}, false
	}

	event.StartAt = event.StartAt.UTC()
	event.EndAt = event.EndAt.UTC()
	return event, true
}

func isAttending(item *calendar.Event, ownerEmail string) bool {
	if item.Creator != nil && item.Creator.Self {
		return true
	}
	if item.Organizer != nil && item.Organizer.Self {
		return true
	}
	for _, attendee := range item.Attendees {
		if attendee.Self || (ownerEmail != "" && attendee.Email == ownerEmail) {
			return attendee.ResponseStatus == "accepted"
		}
	}
	return false
}

// PushEvents inserts events concurrently. Every insert is attempted; the first
// error is returned and the events that succeeded keep their external ids.
func (c *Client) PushEvents(ctx context.Context, accessToken string, req service.PushRequest) error {
	pending := make([]int, 0, len(req.Events))
	for i, event := range req.Events {
		if !event.HasExternalID() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}

	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}

	var g errgroup.Group
	g.SetLimit(pushConcurrency)

	for _, i := range pending {
		event := req.Events[i]
		g.Go(func() error {
			item := &calendar.Event{
				Summary:      event.Name,
				Transparency: "opaque",
				Visibility:   "public",
				Start:        eventDateTime(event.StartAt, event.IsAllDay, loc),
				End:          eventDateTime(endForPush(event.EndAt, event.IsAllDay, loc), event.IsAllDay, loc),
			}
			if event.SourceEventID != nil {
				item.Description = service.ShadowDescription(*event.SourceEventID)
			}

			created, err := svc.Events.Insert(req.CalendarExternalID, item).Context(ctx).Do()
			if err != nil {
				return fmt.Errorf("failed to insert event %d: %w", event.ID, mapError(err))
			}

			id := created.Id
			event.ExternalID = &id
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.Printf("Pushed %d event(s) to Google calendar %s", len(pending), req.CalendarExternalID)
	return nil
}

// DeleteEvent deletes an event. Events already gone yield ErrRemoteEventNotFound.
func (c *Client) DeleteEvent(ctx context.Context, accessToken string, calendarExternalID string, externalID string) error {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}

	if err := svc.Events.Delete(calendarExternalID, externalID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event: %w", mapError(err))
	}
	return nil
}

// MoveEvent patches the start and end of an event
func (c *Client) MoveEvent(ctx context.Context, accessToken string, req service.MoveEventRequest) error {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}

	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}

	patch := &calendar.Event{
		Start: eventDateTime(req.StartAt, req.IsAllDay, loc),
		End:   eventDateTime(endForPush(req.EndAt, req.IsAllDay, loc), req.IsAllDay, loc),
	}
	if req.IsAllDay {
		patch.Start.NullFields = []string{"DateTime"}
		patch.End.NullFields = []string{"DateTime"}
	} else {
		patch.Start.NullFields = []string{"Date"}
		patch.End.NullFields = []string{"Date"}
	}

	if _, err := svc.Events.Patch(req.CalendarExternalID, req.ExternalID, patch).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to move event: %w", mapError(err))
	}
	return nil
}

// RefreshAccessToken refreshes the OAuth2 access token
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*service.TokenRefreshResult, error) {
	config := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
	}

	// Refresh the token
	newToken, err := config.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	result := &service.TokenRefreshResult{
		AccessToken:  newToken.AccessToken,
		ExpiresAt:    newToken.Expiry,
		RefreshToken: refreshToken, // Keep the same refresh token unless rotated
	}
	if newToken.RefreshToken != "" {
		result.RefreshToken = newToken.RefreshToken
	}

	return result, nil
}

// eventDateTime expresses t as a date (all-day) or an RFC3339 timestamp
func eventDateTime(t time.Time, allDay bool, loc *time.Location) *calendar.EventDateTime {
	if allDay {
		return &calendar.EventDateTime{Date: zone.DateString(t, loc)}
	}
	return &calendar.EventDateTime{DateTime: t.UTC().Format(time.RFC3339)}
}

// endForPush turns an inclusive all-day end into Google's exclusive end date
func endForPush(end time.Time, allDay bool, loc *time.Location) time.Time {
	if !allDay {
		return end
	}
	return zone.ExclusiveEndDate(end, loc)
}

func mapError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return fmt.Errorf("%w: %v", service.ErrRemoteEventNotFound, err)
	}
	return err
}

var _ service.CalendarProvider = (*Client)(nil)
