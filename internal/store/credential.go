package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"appointment-sync/internal/model"
)

func (s *Store) GetCredential(ctx context.Context, userID string) (*model.Credential, error) {
	c := &model.Credential{}
	var expires *time.Time
	var access, refresh string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, access_token, refresh_token, token_type, expires_at,
		        provider_user_uri, provider_org_uri, scheduling_url, created_at, updated_at
		 FROM provider_credentials WHERE user_id = $1`, userID,
	).Scan(&c.UserID, &access, &refresh, &c.TokenType, &expires,
		&c.ProviderUserURI, &c.ProviderOrgURI, &c.SchedulingURL, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expires != nil {
		c.ExpiresAt = *expires
	}

	if c.AccessToken, err = s.sealer.Open(access); err != nil {
		return nil, err
	}
	if c.RefreshToken, err = s.sealer.Open(refresh); err != nil {
		return nil, err
	}
	return c, nil
}

// UpsertCredential writes the whole row. Identity columns are only replaced
// by non-null values so a token refresh never forgets a resolved identity.
func (s *Store) UpsertCredential(ctx context.Context, c *model.Credential) error {
	access, err := s.sealer.Seal(c.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.sealer.Seal(c.RefreshToken)
	if err != nil {
		return err
	}
	var expires *time.Time
	if !c.ExpiresAt.IsZero() {
		expires = &c.ExpiresAt
	}
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO provider_credentials
		   (user_id, access_token, refresh_token, token_type, expires_at,
		    provider_user_uri, provider_org_uri, scheduling_url)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (user_id) DO UPDATE SET
		   access_token      = EXCLUDED.access_token,
		   refresh_token     = EXCLUDED.refresh_token,
		   token_type        = EXCLUDED.token_type,
		   expires_at        = EXCLUDED.expires_at,
		   provider_user_uri = COALESCE(EXCLUDED.provider_user_uri, provider_credentials.provider_user_uri),
		   provider_org_uri  = COALESCE(EXCLUDED.provider_org_uri, provider_credentials.provider_org_uri),
		   scheduling_url    = COALESCE(EXCLUDED.scheduling_url, provider_credentials.scheduling_url),
		   updated_at        = NOW()`,
		c.UserID, access, refresh, tokenType, expires,
		c.ProviderUserURI, c.ProviderOrgURI, c.SchedulingURL,
	)
	return err
}

func (s *Store) DeleteCredential(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM provider_credentials WHERE user_id = $1`, userID)
	return err
}

// ConnectedUserIDs lists every user that currently holds a credential.
func (s *Store) ConnectedUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM provider_credentials ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
