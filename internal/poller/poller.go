package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"appointment-sync/internal/credentials"
	"appointment-sync/internal/model"
	"appointment-sync/internal/provider"
	"appointment-sync/internal/reconcile"
	"appointment-sync/internal/store"
)

type Credentials interface {
	EnsureIdentity(ctx context.Context, userID string) (*model.Credential, error)
}

type Provider interface {
	ListEvents(ctx context.Context, accessToken string, scope provider.Scope, start, end time.Time) ([]model.ProviderEvent, error)
	FetchInvitee(ctx context.Context, accessToken, eventURI string) (model.Invitee, bool, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, a model.Appointment) (store.Outcome, error)
}

// Poller sweeps a user's provider calendar into the local store. It is the
// catch-up path for anything the webhook receiver missed.
type Poller struct {
	creds      Credentials
	provider   Provider
	reconciler Reconciler
	logger     zerolog.Logger
}

func New(creds Credentials, p Provider, r Reconciler, logger zerolog.Logger) *Poller {
	return &Poller{
		creds:      creds,
		provider:   p,
		reconciler: r,
		logger:     logger.With().Str("component", "poller").Logger(),
	}
}

// Sync runs one sweep for userID and returns how many events were
// reconciled. Events are processed one at a time; a failure on one event is
// logged and skipped. Cancellation stops the sweep between events and
// returns the partial count with ctx.Err(). When listing fails part way,
// the pages already fetched are reconciled and the list error is returned
// with that count.
func (p *Poller) Sync(ctx context.Context, userID string) (int, error) {
	cred, err := p.creds.EnsureIdentity(ctx, userID)
	if err != nil {
		return 0, err
	}
	log := p.logger.With().Str("user_id", userID).Logger()

	scope := provider.ScopeFor(credentials.Identity(cred))
	events, listErr := p.provider.ListEvents(ctx, cred.AccessToken, scope, time.Time{}, time.Time{})
	if listErr != nil {
		listErr = fmt.Errorf("failed to list events: %w", listErr)
		if len(events) == 0 {
			return 0, listErr
		}
		// pages fetched before the failure are still reconciled
		log.Warn().Err(listErr).Int("listed", len(events)).Msg("listing cut short")
	}

	synced := 0
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			log.Info().Int("synced", synced).Int("listed", len(events)).Msg("sweep cancelled")
			return synced, err
		}
		if err := p.syncEvent(ctx, userID, cred.AccessToken, ev); err != nil {
			log.Warn().Err(err).Str("event_uri", ev.URI).Msg("event skipped")
			continue
		}
		synced++
	}
	log.Info().Int("synced", synced).Int("listed", len(events)).Msg("sweep finished")
	return synced, listErr
}

func (p *Poller) syncEvent(ctx context.Context, userID, token string, ev model.ProviderEvent) error {
	inv, _, err := p.provider.FetchInvitee(ctx, token, ev.URI)
	if err != nil {
		return fmt.Errorf("invitee: %w", err)
	}
	status := model.StatusBooked
	if ev.Canceled() {
		status = model.StatusCanceled
	}
	// nil payload keeps whatever body a webhook stored earlier
	_, err = p.reconciler.Reconcile(ctx, reconcile.Candidate(userID, ev, inv, status, nil))
	return err
}
