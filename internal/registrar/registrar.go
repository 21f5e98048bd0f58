package registrar

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"appointment-sync/internal/credentials"
	"appointment-sync/internal/model"
	"appointment-sync/internal/provider"
)

type Credentials interface {
	EnsureIdentity(ctx context.Context, userID string) (*model.Credential, error)
}

type Provider interface {
	RegisterWebhook(ctx context.Context, accessToken, callbackURL string, scope provider.Scope, events []string) (string, error)
}

// Registrar subscribes the provider to deliver a user's booking events to
// this service, with the user id bound into the callback URL.
type Registrar struct {
	creds    Credentials
	provider Provider
	baseURL  string
	logger   zerolog.Logger
}

func New(creds Credentials, p Provider, publicBaseURL string, logger zerolog.Logger) *Registrar {
	return &Registrar{
		creds:    creds,
		provider: p,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		logger:   logger.With().Str("component", "registrar").Logger(),
	}
}

// CallbackURL is the delivery address for userID.
func (r *Registrar) CallbackURL(userID string) string {
	return r.baseURL + "/webhook?user_id=" + url.QueryEscape(userID)
}

func (r *Registrar) Register(ctx context.Context, userID string) (string, error) {
	if r.baseURL == "" {
		return "", errors.New("public base url not configured")
	}
	cred, err := r.creds.EnsureIdentity(ctx, userID)
	if err != nil {
		return "", err
	}
	scope := provider.ScopeFor(credentials.Identity(cred))
	uri, err := r.provider.RegisterWebhook(ctx, cred.AccessToken, r.CallbackURL(userID), scope, provider.WebhookEvents)
	if err != nil {
		return "", fmt.Errorf("failed to register webhook: %w", err)
	}
	r.logger.Info().Str("user_id", userID).Str("scope", scope.Kind()).Str("webhook", uri).Msg("webhook registered")
	return uri, nil
}
