package poller_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appointment-sync/internal/credentials"
	"appointment-sync/internal/model"
	"appointment-sync/internal/poller"
	"appointment-sync/internal/provider"
	"appointment-sync/internal/reconcile"
	"appointment-sync/internal/store"
)

type fakeCreds struct {
	cred *model.Credential
}

func (f fakeCreds) EnsureIdentity(_ context.Context, userID string) (*model.Credential, error) {
	if f.cred == nil {
		return nil, credentials.ErrNotConnected
	}
	return f.cred, nil
}

type fakeProvider struct {
	events    []model.ProviderEvent
	failFor   map[string]bool
	listErr   error
	gotScope  provider.Scope
	onInvitee func(eventURI string)
}

func (f *fakeProvider) ListEvents(_ context.Context, _ string, scope provider.Scope, _, _ time.Time) ([]model.ProviderEvent, error) {
	f.gotScope = scope
	return f.events, f.listErr
}

func (f *fakeProvider) FetchInvitee(_ context.Context, _ string, eventURI string) (model.Invitee, bool, error) {
	if f.onInvitee != nil {
		f.onInvitee(eventURI)
	}
	if f.failFor[eventURI] {
		return model.Invitee{}, false, &provider.RequestError{StatusCode: 500}
	}
	return model.Invitee{Email: "guest@example.com", Name: "Guest", EventURI: eventURI}, true, nil
}

func events(n int) []model.ProviderEvent {
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	out := make([]model.ProviderEvent, n)
	for i := range out {
		out[i] = model.ProviderEvent{
			URI:       fmt.Sprintf("https://api.example.com/scheduled_events/E%d", i),
			Name:      "Consult",
			Status:    "active",
			StartTime: start.Add(time.Duration(i) * time.Hour),
			EndTime:   start.Add(time.Duration(i)*time.Hour + 30*time.Minute),
		}
	}
	return out
}

func connected() *model.Credential {
	user := "https://api.example.com/users/U1"
	org := "https://api.example.com/organizations/O1"
	return &model.Credential{UserID: "user-1", AccessToken: "tok", ProviderUserURI: &user, ProviderOrgURI: &org}
}

func setup(cred *model.Credential, fp *fakeProvider) (*poller.Poller, *store.Memory) {
	st := store.NewMemory()
	rec := reconcile.New(st, nil, zerolog.Nop())
	return poller.New(fakeCreds{cred: cred}, fp, rec, zerolog.Nop()), st
}

func TestSyncPartialFailure(t *testing.T) {
	evs := events(10)
	fp := &fakeProvider{events: evs, failFor: map[string]bool{
		evs[2].URI: true, evs[5].URI: true, evs[9].URI: true,
	}}
	p, st := setup(connected(), fp)

	n, err := p.Sync(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, 7, st.Count())
	assert.Equal(t, "organization", fp.gotScope.Kind())
}

func TestSyncCanceledStatus(t *testing.T) {
	evs := events(2)
	evs[1].Status = "canceled"
	p, st := setup(connected(), &fakeProvider{events: evs})

	_, err := p.Sync(context.Background(), "user-1")
	require.NoError(t, err)

	list, err := st.ListAppointments(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, model.StatusBooked, list[0].Status)
	assert.Equal(t, model.StatusCanceled, list[1].Status)
	assert.Equal(t, "guest@example.com", list[0].InviteeEmail)
}

func TestSyncTwiceIsStable(t *testing.T) {
	p, st := setup(connected(), &fakeProvider{events: events(4)})
	ctx := context.Background()

	_, err := p.Sync(ctx, "user-1")
	require.NoError(t, err)
	before, _ := st.ListAppointments(ctx, "user-1")

	n, err := p.Sync(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	after, _ := st.ListAppointments(ctx, "user-1")
	assert.Equal(t, before, after)
}

func TestSyncCancellationReturnsPartialCount(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	evs := events(10)
	fp := &fakeProvider{events: evs}
	fp.onInvitee = func(uri string) {
		if uri == evs[3].URI {
			cancel()
		}
	}
	p, _ := setup(connected(), fp)

	n, err := p.Sync(ctx, "user-1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 4, n)
}

func TestSyncNotConnected(t *testing.T) {
	p, _ := setup(nil, &fakeProvider{})
	_, err := p.Sync(context.Background(), "ghost")
	assert.ErrorIs(t, err, credentials.ErrNotConnected)
}

func TestSyncListFailure(t *testing.T) {
	p, st := setup(connected(), &fakeProvider{listErr: &provider.RequestError{StatusCode: 401}})
	_, err := p.Sync(context.Background(), "user-1")
	assert.True(t, errors.Is(err, provider.ErrProviderRequestFailed))
	assert.Equal(t, 0, st.Count())
}

func TestSyncListFailureKeepsFetchedPages(t *testing.T) {
	p, st := setup(connected(), &fakeProvider{events: events(3), listErr: &provider.RequestError{StatusCode: 503}})
	n, err := p.Sync(context.Background(), "user-1")
	assert.ErrorIs(t, err, provider.ErrProviderRequestFailed)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, st.Count())
}

func TestSyncUserScopeWithoutOrg(t *testing.T) {
	cred := connected()
	cred.ProviderOrgURI = nil
	fp := &fakeProvider{events: events(1)}
	p, _ := setup(cred, fp)

	_, err := p.Sync(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user", fp.gotScope.Kind())
}
