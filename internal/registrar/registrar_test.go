package registrar_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appointment-sync/internal/credentials"
	"appointment-sync/internal/model"
	"appointment-sync/internal/provider"
	"appointment-sync/internal/registrar"
)

type fakeCreds struct{ cred *model.Credential }

func (f fakeCreds) EnsureIdentity(context.Context, string) (*model.Credential, error) {
	if f.cred == nil {
		return nil, credentials.ErrNotConnected
	}
	return f.cred, nil
}

type fakeProvider struct {
	callback string
	scope    provider.Scope
	events   []string
	err      error
}

func (f *fakeProvider) RegisterWebhook(_ context.Context, _, callbackURL string, scope provider.Scope, events []string) (string, error) {
	f.callback, f.scope, f.events = callbackURL, scope, events
	if f.err != nil {
		return "", f.err
	}
	return "https://api.example.com/webhook_subscriptions/W1", nil
}

func cred(org bool) *model.Credential {
	user := "https://api.example.com/users/U1"
	c := &model.Credential{UserID: "user 42", AccessToken: "tok", ProviderUserURI: &user}
	if org {
		o := "https://api.example.com/organizations/O1"
		c.ProviderOrgURI = &o
	}
	return c
}

func TestRegisterOrgScope(t *testing.T) {
	fp := &fakeProvider{}
	r := registrar.New(fakeCreds{cred(true)}, fp, "https://app.example.com/", zerolog.Nop())

	uri, err := r.Register(context.Background(), "user 42")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/webhook_subscriptions/W1", uri)
	assert.Equal(t, "https://app.example.com/webhook?user_id=user+42", fp.callback)
	assert.Equal(t, "organization", fp.scope.Kind())
	assert.ElementsMatch(t, []string{"invitee.created", "invitee.canceled"}, fp.events)
}

func TestRegisterUserScope(t *testing.T) {
	fp := &fakeProvider{}
	r := registrar.New(fakeCreds{cred(false)}, fp, "https://app.example.com", zerolog.Nop())

	_, err := r.Register(context.Background(), "user 42")
	require.NoError(t, err)
	assert.Equal(t, "user", fp.scope.Kind())
	assert.Equal(t, "https://api.example.com/users/U1", fp.scope.User)
}

func TestRegisterFailures(t *testing.T) {
	r := registrar.New(fakeCreds{}, &fakeProvider{}, "https://app.example.com", zerolog.Nop())
	_, err := r.Register(context.Background(), "ghost")
	assert.ErrorIs(t, err, credentials.ErrNotConnected)

	fp := &fakeProvider{err: &provider.RequestError{StatusCode: 403}}
	r = registrar.New(fakeCreds{cred(true)}, fp, "https://app.example.com", zerolog.Nop())
	_, err = r.Register(context.Background(), "user 42")
	assert.True(t, errors.Is(err, provider.ErrProviderRequestFailed))
	assert.Equal(t, 403, provider.StatusCode(err))
}
