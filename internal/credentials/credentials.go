// Package credentials owns the lifecycle of a user's provider grant:
// connecting, refreshing, resolving identity and disconnecting.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"appointment-sync/internal/model"
	"appointment-sync/internal/store"
)

var ErrNotConnected = errors.New("provider not connected")

// refreshSkew renews tokens slightly before they actually lapse.
const refreshSkew = time.Minute

// refreshTimeout bounds a shared refresh once it no longer follows the
// caller that started it.
const refreshTimeout = 30 * time.Second

type Store interface {
	GetCredential(ctx context.Context, userID string) (*model.Credential, error)
	UpsertCredential(ctx context.Context, c *model.Credential) error
	DeleteCredential(ctx context.Context, userID string) error
}

type Provider interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	FetchIdentity(ctx context.Context, accessToken string) (model.Identity, error)
}

type Service struct {
	store    Store
	provider Provider
	logger   zerolog.Logger
	now      func() time.Time
	refresh  singleflight.Group
}

func New(st Store, p Provider, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		provider: p,
		logger:   logger.With().Str("component", "credentials").Logger(),
		now:      time.Now,
	}
}

// AuthorizeURL carries the local user id as OAuth state.
func (s *Service) AuthorizeURL(userID string) string {
	return s.provider.AuthCodeURL(userID)
}

// Connect exchanges an authorization code and stores the resulting grant.
// Identity is resolved later, on first use.
func (s *Service) Connect(ctx context.Context, userID, code, redirectURI string) (*model.Credential, error) {
	if userID == "" {
		return nil, errors.New("connect: empty user id")
	}
	tok, err := s.provider.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	cred := &model.Credential{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tokenType(tok),
		ExpiresAt:    tok.Expiry,
	}
	if err := s.store.UpsertCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	s.logger.Info().Str("user_id", userID).Msg("provider connected")
	return cred, nil
}

func (s *Service) Disconnect(ctx context.Context, userID string) error {
	if err := s.store.DeleteCredential(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	s.logger.Info().Str("user_id", userID).Msg("provider disconnected")
	return nil
}

// Get returns the stored credential, or ErrNotConnected.
func (s *Service) Get(ctx context.Context, userID string) (*model.Credential, error) {
	cred, err := s.store.GetCredential(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// AccessToken returns a usable credential, refreshing and persisting the
// grant first when it has expired. Concurrent callers for one user share a
// single refresh. The refresh is detached from the caller that started it,
// so one caller giving up does not fail the others; each caller still
// returns early on its own cancellation.
func (s *Service) AccessToken(ctx context.Context, userID string) (*model.Credential, error) {
	cred, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !s.expired(cred) {
		return cred, nil
	}

	ch := s.refresh.DoChan(userID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return s.refreshCredential(fctx, cred)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*model.Credential), nil
	}
}

func (s *Service) expired(c *model.Credential) bool {
	if c.ExpiresAt.IsZero() || c.RefreshToken == "" {
		return false
	}
	return !s.now().Add(refreshSkew).Before(c.ExpiresAt)
}

func (s *Service) refreshCredential(ctx context.Context, cred *model.Credential) (*model.Credential, error) {
	// another flight may have finished between our read and this one
	if latest, err := s.Get(ctx, cred.UserID); err == nil && !s.expired(latest) {
		return latest, nil
	}
	tok, err := s.provider.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", cred.UserID).Msg("token refresh failed")
		return nil, err
	}
	next := *cred
	next.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	next.TokenType = tokenType(tok)
	next.ExpiresAt = tok.Expiry
	if err := s.store.UpsertCredential(ctx, &next); err != nil {
		return nil, fmt.Errorf("failed to store refreshed credential: %w", err)
	}
	s.logger.Debug().Str("user_id", cred.UserID).Msg("token refreshed")
	return &next, nil
}

// EnsureIdentity returns a credential whose provider identity is resolved,
// fetching and persisting it on first use.
func (s *Service) EnsureIdentity(ctx context.Context, userID string) (*model.Credential, error) {
	cred, err := s.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cred.HasIdentity() {
		return cred, nil
	}

	id, err := s.provider.FetchIdentity(ctx, cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}
	cred.ProviderUserURI = optional(id.UserURI)
	cred.ProviderOrgURI = optional(id.OrgURI)
	cred.SchedulingURL = optional(id.SchedulingURL)
	if err := s.store.UpsertCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to store identity: %w", err)
	}
	s.logger.Info().Str("user_id", userID).Str("provider_user", id.UserURI).Msg("identity resolved")
	return cred, nil
}

// Identity flattens the stored identity columns.
func Identity(c *model.Credential) model.Identity {
	var id model.Identity
	if c.ProviderUserURI != nil {
		id.UserURI = *c.ProviderUserURI
	}
	if c.ProviderOrgURI != nil {
		id.OrgURI = *c.ProviderOrgURI
	}
	if c.SchedulingURL != nil {
		id.SchedulingURL = *c.SchedulingURL
	}
	return id
}

func tokenType(tok *oauth2.Token) string {
	if tok.TokenType == "" {
		return "Bearer"
	}
	return tok.TokenType
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
