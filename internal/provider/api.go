package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"appointment-sync/internal/model"
)

const (
	// pageSize is the per-page count for list endpoints.
	pageSize = 100
	// maxPages bounds pagination so a misbehaving cursor can't loop forever.
	maxPages = 50

	windowBack    = 24 * time.Hour
	windowForward = 90 * 24 * time.Hour
)

// Scope selects whose events a list or subscription covers. Organization
// wins when both are set.
type Scope struct {
	User         string
	Organization string
}

func (s Scope) Kind() string {
	if s.Organization != "" {
		return "organization"
	}
	return "user"
}

// ScopeFor prefers the organization and falls back to the user.
func ScopeFor(id model.Identity) Scope {
	return Scope{User: id.UserURI, Organization: id.OrgURI}
}

type userResource struct {
	URI                 string `json:"uri"`
	CurrentOrganization string `json:"current_organization"`
	SchedulingURL       string `json:"scheduling_url"`
}

type eventResource struct {
	URI       string    `json:"uri"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	EventType string    `json:"event_type"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func (e eventResource) model() model.ProviderEvent {
	return model.ProviderEvent{
		URI:       e.URI,
		Name:      e.Name,
		EventType: e.EventType,
		Status:    e.Status,
		StartTime: e.StartTime,
		EndTime:   e.EndTime,
	}
}

type inviteeResource struct {
	URI         string `json:"uri"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Event       string `json:"event"`
	Rescheduled bool   `json:"rescheduled"`
}

func (i inviteeResource) model() model.Invitee {
	return model.Invitee{
		URI:         i.URI,
		Email:       i.Email,
		Name:        i.Name,
		EventURI:    i.Event,
		Status:      i.Status,
		Rescheduled: i.Rescheduled,
	}
}

type pagination struct {
	NextPage      string `json:"next_page"`
	NextPageToken string `json:"next_page_token"`
}

func (c *Client) FetchIdentity(ctx context.Context, accessToken string) (model.Identity, error) {
	var out struct {
		Resource userResource `json:"resource"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/me", accessToken, nil, &out); err != nil {
		return model.Identity{}, err
	}
	return model.Identity{
		UserURI:       out.Resource.URI,
		OrgURI:        out.Resource.CurrentOrganization,
		SchedulingURL: out.Resource.SchedulingURL,
	}, nil
}

// ClampWindow bounds [start, end) to at most one day back and ninety days
// ahead of now. Zero values take the bound. ok is false when nothing is left.
func ClampWindow(now, start, end time.Time) (time.Time, time.Time, bool) {
	lo, hi := now.Add(-windowBack), now.Add(windowForward)
	if start.IsZero() || start.Before(lo) {
		start = lo
	}
	if end.IsZero() || end.After(hi) {
		end = hi
	}
	return start, end, start.Before(end)
}

// ListEvents pages through scheduled events in the clamped window.
func (c *Client) ListEvents(ctx context.Context, accessToken string, scope Scope, start, end time.Time) ([]model.ProviderEvent, error) {
	if scope.User == "" && scope.Organization == "" {
		return nil, errors.New("list events: empty scope")
	}
	start, end, ok := ClampWindow(c.now().UTC(), start, end)
	if !ok {
		return nil, nil
	}

	q := url.Values{}
	if scope.Organization != "" {
		q.Set("organization", scope.Organization)
	} else {
		q.Set("user", scope.User)
	}
	q.Set("min_start_time", start.UTC().Format(time.RFC3339))
	q.Set("max_start_time", end.UTC().Format(time.RFC3339))
	q.Set("count", strconv.Itoa(pageSize))
	q.Set("sort", "start_time:asc")

	var events []model.ProviderEvent
	for page := 0; page < maxPages; page++ {
		var out struct {
			Collection []eventResource `json:"collection"`
			Pagination pagination      `json:"pagination"`
		}
		if err := c.do(ctx, http.MethodGet, "/scheduled_events?"+q.Encode(), accessToken, nil, &out); err != nil {
			return events, err
		}
		for _, e := range out.Collection {
			events = append(events, e.model())
		}
		if out.Pagination.NextPageToken == "" {
			return events, nil
		}
		q.Set("page_token", out.Pagination.NextPageToken)
	}
	return events, nil
}

func (c *Client) FetchEvent(ctx context.Context, accessToken, eventURI string) (model.ProviderEvent, error) {
	var out struct {
		Resource eventResource `json:"resource"`
	}
	if err := c.do(ctx, http.MethodGet, eventURI, accessToken, nil, &out); err != nil {
		return model.ProviderEvent{}, err
	}
	if out.Resource.URI == "" {
		out.Resource.URI = eventURI
	}
	return out.Resource.model(), nil
}

// FetchInvitee returns the first invitee of an event. ok is false when the
// event has none.
func (c *Client) FetchInvitee(ctx context.Context, accessToken, eventURI string) (model.Invitee, bool, error) {
	ref := strings.TrimRight(eventURI, "/") + "/invitees?count=1&sort=created_at:asc"
	var out struct {
		Collection []inviteeResource `json:"collection"`
	}
	if err := c.do(ctx, http.MethodGet, ref, accessToken, nil, &out); err != nil {
		return model.Invitee{}, false, err
	}
	if len(out.Collection) == 0 {
		return model.Invitee{}, false, nil
	}
	inv := out.Collection[0].model()
	if inv.EventURI == "" {
		inv.EventURI = eventURI
	}
	return inv, true, nil
}

func (c *Client) GetInvitee(ctx context.Context, accessToken, inviteeURI string) (model.Invitee, error) {
	var out struct {
		Resource inviteeResource `json:"resource"`
	}
	if err := c.do(ctx, http.MethodGet, inviteeURI, accessToken, nil, &out); err != nil {
		return model.Invitee{}, err
	}
	if out.Resource.URI == "" {
		out.Resource.URI = inviteeURI
	}
	return out.Resource.model(), nil
}

// WebhookEvents are the notification kinds every subscription asks for.
var WebhookEvents = []string{"invitee.created", "invitee.canceled"}

// RegisterWebhook creates a subscription delivering to callbackURL. A 409
// means one already exists; that counts as success and the existing URI is
// returned when it can be found.
func (c *Client) RegisterWebhook(ctx context.Context, accessToken, callbackURL string, scope Scope, events []string) (string, error) {
	if len(events) == 0 {
		events = WebhookEvents
	}
	body := map[string]any{
		"url":    callbackURL,
		"events": events,
		"scope":  scope.Kind(),
	}
	if scope.Organization != "" {
		body["organization"] = scope.Organization
	}
	if scope.Kind() == "user" {
		body["user"] = scope.User
	}
	if c.signingKey != "" {
		body["signing_key"] = c.signingKey
	}

	var out struct {
		Resource struct {
			URI string `json:"uri"`
		} `json:"resource"`
	}
	err := c.do(ctx, http.MethodPost, "/webhook_subscriptions", accessToken, body, &out)
	if StatusCode(err) == http.StatusConflict {
		uri, lookupErr := c.findWebhook(ctx, accessToken, callbackURL, scope)
		if lookupErr != nil {
			return "", nil
		}
		return uri, nil
	}
	if err != nil {
		return "", err
	}
	return out.Resource.URI, nil
}

func (c *Client) findWebhook(ctx context.Context, accessToken, callbackURL string, scope Scope) (string, error) {
	q := url.Values{}
	q.Set("scope", scope.Kind())
	q.Set("count", strconv.Itoa(pageSize))
	if scope.Organization != "" {
		q.Set("organization", scope.Organization)
	}
	if scope.Kind() == "user" {
		q.Set("user", scope.User)
	}
	var out struct {
		Collection []struct {
			URI         string `json:"uri"`
			CallbackURL string `json:"callback_url"`
		} `json:"collection"`
	}
	if err := c.do(ctx, http.MethodGet, "/webhook_subscriptions?"+q.Encode(), accessToken, nil, &out); err != nil {
		return "", err
	}
	for _, w := range out.Collection {
		if w.CallbackURL == callbackURL {
			return w.URI, nil
		}
	}
	return "", fmt.Errorf("no subscription for %s", callbackURL)
}
