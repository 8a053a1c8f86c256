package outlook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/vipul43/shadowcal-worker/internal/service"
	"github.com/vipul43/shadowcal-worker/internal/zone"
)

const (
	GraphAPIURL = "https://graph.microsoft.com/v1.0"

	// BatchSize is the Graph $batch request limit
	BatchSize = 20

	graphTimeLayout = "2006-01-02T15:04:05"
	pageSize        = 250
)

type Client struct {
	clientID     string
	clientSecret string
	baseURL      string
	tokenURL     string
	httpClient   *http.Client
}

func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      GraphAPIURL,
		tokenURL:     microsoft.AzureADEndpoint("common").TokenURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Graph API payloads
type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphEvent struct {
	ID             string        `json:"id"`
	Subject        string        `json:"subject"`
	Body           graphBody     `json:"body"`
	Start          graphDateTime `json:"start"`
	End            graphDateTime `json:"end"`
	IsAllDay       bool          `json:"isAllDay"`
	IsCancelled    bool          `json:"isCancelled"`
	ShowAs         string        `json:"showAs"`
	ResponseStatus struct {
		Response string `json:"response"`
	} `json:"responseStatus"`
}

type graphEventWrite struct {
	Subject  string        `json:"subject,omitempty"`
	Body     *graphBody    `json:"body,omitempty"`
	Start    graphDateTime `json:"start"`
	End      graphDateTime `json:"end"`
	ShowAs   string        `json:"showAs,omitempty"`
	IsAllDay bool          `json:"isAllDay"`
}

type graphCalendar struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type batchRequest struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    interface{}       `json:"body,omitempty"`
}

type batchResponse struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// ListCalendars lists the user's calendars. Graph calendars carry no time zone.
func (c *Client) ListCalendars(ctx context.Context, accessToken string) ([]service.ProviderCalendar, error) {
	var calendars []service.ProviderCalendar

	next := c.baseURL + "/me/calendars"
	for next != "" {
		var page struct {
			Value    []graphCalendar `json:"value"`
			NextLink string          `json:"@odata.nextLink"`
		}
		if err := c.do(ctx, accessToken, http.MethodGet, next, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list calendars: %w", err)
		}

		for _, item := range page.Value {
			calendars = append(calendars, service.ProviderCalendar{
				ExternalID: item.ID,
				Name:       item.Name,
			})
		}
		next = page.NextLink
	}

	log.Printf("Outlook returned %d calendar(s)", len(calendars))
	return calendars, nil
}

// ListEvents reads the calendar view for the request window, following @odata.nextLink
func (c *Client) ListEvents(ctx context.Context, accessToken string, req service.ListEventsRequest) ([]service.ProviderEvent, error) {
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}

	params := url.Values{}
	params.Set("startDateTime", req.TimeMin.UTC().Format(time.RFC3339))
	params.Set("endDateTime", req.TimeMax.UTC().Format(time.RFC3339))
	params.Set("$top", strconv.Itoa(pageSize))

	var events []service.ProviderEvent
	next := fmt.Sprintf("%s/me/calendars/%s/calendarView?%s", c.baseURL, url.PathEscape(req.CalendarExternalID), params.Encode())
	for next != "" {
		var page struct {
			Value    []graphEvent `json:"value"`
			NextLink string       `json:"@odata.nextLink"`
		}
		if err := c.do(ctx, accessToken, http.MethodGet, next, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}

		for _, item := range page.Value {
			event, ok := toProviderEvent(item, loc)
			if ok {
				events = append(events, event)
			}
		}
		next = page.NextLink
	}

	log.Printf("Outlook returned %d event(s) for calendar %s", len(events), req.CalendarExternalID)
	return events, nil
}

func toProviderEvent(item graphEvent, loc *time.Location) (service.ProviderEvent, bool) {
	if item.IsCancelled {
		return service.ProviderEvent{}, false
	}

	event := service.ProviderEvent{
		ExternalID:    item.ID,
		Name:          item.Subject,
		IsAllDay:      item.IsAllDay,
		IsAttending:   isAttending(item.ResponseStatus.Response),
		IsBlocking:    isBlocking(item.ShowAs),
		SourceEventID: service.ExtractSourceEventTag(item.Body.Content),
	}

	// All-day boundaries are wall-clock midnights in the calendar's zone
	timeLoc := time.UTC
	if item.IsAllDay {
		timeLoc = loc
	}

	var err error
	event.StartAt, err = zone.FromZonelessTimestamp(item.Start.DateTime, timeLoc)
	if err == nil {
		event.EndAt, err = zone.FromZonelessTimestamp(item.End.DateTime, timeLoc)
	}
	if err != nil {
		log.Printf("Warning: skipping Outlook event %s with unreadable times: %v", item.ID, err)
		return service.ProviderEvent{}, false
	}

	if item.IsAllDay {
		event.EndAt = event.EndAt.Add(-time.Second)
	}

	event.StartAt = event.StartAt.UTC()
	event.EndAt = event.EndAt.UTC()
	return event, true
}

func isAttending(response string) bool {
	switch strings.ToLower(response) {
	case "organizer", "tentativelyaccepted", "accepted":
		return true
	}
	return false
}

func isBlocking(showAs string) bool {
	switch strings.ToLower(showAs) {
	case "free", "tentative", "unknown":
		return false
	}
	return true
}

// PushEvents creates events through Graph $batch requests of up to BatchSize.
// Every chunk is sent; events created keep their external ids even when others fail.
func (c *Client) PushEvents(ctx context.Context, accessToken string, req service.PushRequest) error {
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}

	var pending []int
	for i, event := range req.Events {
		if !event.HasExternalID() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	eventsURL := fmt.Sprintf("/me/calendars/%s/events", url.PathEscape(req.CalendarExternalID))
	var failures []string

	for start := 0; start < len(pending); start += BatchSize {
		end := start + BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]

		requests := make([]batchRequest, 0, len(chunk))
		for _, i := range chunk {
			event := req.Events[i]
			body := graphEventWrite{
				Subject:  event.Name,
				ShowAs:   "busy",
				IsAllDay: event.IsAllDay,
				Start:    graphTime(event.StartAt, event.IsAllDay, loc),
				End:      graphTime(endForPush(event.EndAt, event.IsAllDay, loc), event.IsAllDay, loc),
			}
			if event.SourceEventID != nil {
				body.Body = &graphBody{ContentType: "Text", Content: service.ShadowDescription(*event.SourceEventID)}
			}
			requests = append(requests, batchRequest{
				ID:      strconv.Itoa(i),
				Method:  http.MethodPost,
				URL:     eventsURL,
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    body,
			})
		}

		var result struct {
			Responses []batchResponse `json:"responses"`
		}
		payload := map[string]interface{}{"requests": requests}
		if err := c.do(ctx, accessToken, http.MethodPost, c.baseURL+"/$batch", payload, &result); err != nil {
			failures = append(failures, fmt.Sprintf("batch of %d: %v", len(chunk), err))
			continue
		}

		answered := make(map[string]bool, len(result.Responses))
		for _, resp := range result.Responses {
			answered[resp.ID] = true

			index, err := strconv.Atoi(resp.ID)
			if err != nil || index < 0 || index >= len(req.Events) {
				log.Printf("Warning: ignoring Outlook batch response with unknown id %q", resp.ID)
				continue
			}

			if resp.Status < 200 || resp.Status >= 300 {
				failures = append(failures, fmt.Sprintf("event %d: status %d: %s", req.Events[index].ID, resp.Status, string(resp.Body)))
				continue
			}

			var created struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(resp.Body, &created); err != nil || created.ID == "" {
				failures = append(failures, fmt.Sprintf("event %d: response without id", req.Events[index].ID))
				continue
			}
			req.Events[index].ExternalID = &created.ID
		}

		for _, r := range requests {
			if !answered[r.ID] {
				failures = append(failures, fmt.Sprintf("request %s: no response in batch", r.ID))
			}
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("failed to push %d event(s): %s", len(failures), strings.Join(failures, "; "))
	}

	log.Printf("Pushed %d event(s) to Outlook calendar %s", len(pending), req.CalendarExternalID)
	return nil
}

// DeleteEvent deletes an event. Events already gone yield ErrRemoteEventNotFound.
func (c *Client) DeleteEvent(ctx context.Context, accessToken string, calendarExternalID string, externalID string) error {
	endpoint := fmt.Sprintf("%s/me/events/%s", c.baseURL, url.PathEscape(externalID))
	if err := c.do(ctx, accessToken, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// MoveEvent patches the start and end of an event
func (c *Client) MoveEvent(ctx context.Context, accessToken string, req service.MoveEventRequest) error {
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}

	patch := map[string]interface{}{
		"start":    graphTime(req.StartAt, req.IsAllDay, loc),
		"end":      graphTime(endForPush(req.EndAt, req.IsAllDay, loc), req.IsAllDay, loc),
		"isAllDay": req.IsAllDay,
	}

	endpoint := fmt.Sprintf("%s/me/events/%s", c.baseURL, url.PathEscape(req.ExternalID))
	if err := c.do(ctx, accessToken, http.MethodPatch, endpoint, patch, nil); err != nil {
		return fmt.Errorf("failed to move event: %w", err)
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

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	newToken, err := config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	result := &service.TokenRefreshResult{
		AccessToken:  newToken.AccessToken,
		ExpiresAt:    newToken.Expiry,
		RefreshToken: refreshToken,
	}
	// Microsoft rotates refresh tokens on most grants
	if newToken.RefreshToken != "" {
		result.RefreshToken = newToken.RefreshToken
	}

	return result, nil
}

// do sends a Graph request with the bearer token and decodes the JSON response into out
func (c *Client) do(ctx context.Context, accessToken, method, endpoint string, in interface{}, out interface{}) error {
	var reader io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, c.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
	)

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return fmt.Errorf("%w: status %d: %s", service.ErrRemoteEventNotFound, resp.StatusCode, string(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse API response: %w", err)
	}
	return nil
}

// graphTime formats t for Graph: all-day values as midnight in loc, others in UTC
func graphTime(t time.Time, allDay bool, loc *time.Location) graphDateTime {
	if allDay {
		return graphDateTime{
			DateTime: zone.Midnight(t, loc).Format(graphTimeLayout),
			TimeZone: loc.String(),
		}
	}
	return graphDateTime{
		DateTime: t.UTC().Format(graphTimeLayout),
		TimeZone: "UTC",
	}
}

// endForPush turns an inclusive all-day end into Graph's exclusive midnight
func endForPush(end time.Time, allDay bool, loc *time.Location) time.Time {
	if !allDay {
		return end
	}
	return zone.ExclusiveEndDate(end, loc)
}

var _ service.CalendarProvider = (*Client)(nil)
