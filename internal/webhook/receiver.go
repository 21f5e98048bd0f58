// Package webhook turns provider deliveries into reconciled appointments.
// A delivery moves through received, verified, resolved and reconciled
// before being acknowledged; it can instead be rejected at the signature
// step or ignored when its kind is not one we track.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"appointment-sync/internal/credentials"
	"appointment-sync/internal/model"
	"appointment-sync/internal/reconcile"
	"appointment-sync/internal/store"
)

const (
	KindInviteeCreated  = "invitee.created"
	KindInviteeCanceled = "invitee.canceled"
)

var (
	ErrMalformed        = errors.New("malformed webhook payload")
	ErrMissingUser      = errors.New("missing user_id")
	ErrResolutionFailed = errors.New("webhook event could not be resolved")
)

// Disposition is how a delivery that passed verification was handled.
type Disposition string

const (
	Acknowledged Disposition = "acknowledged"
	Ignored      Disposition = "ignored"
	NotConnected Disposition = "not_connected"
	Unresolved   Disposition = "unresolved"
)

type Result struct {
	Disposition Disposition
	Duplicate   bool
	Kind        string
	EventURI    string
	// Err holds the ErrResolutionFailed cause for Unresolved deliveries.
	Err error
}

type Credentials interface {
	AccessToken(ctx context.Context, userID string) (*model.Credential, error)
}

type Provider interface {
	GetInvitee(ctx context.Context, accessToken, inviteeURI string) (model.Invitee, error)
	FetchEvent(ctx context.Context, accessToken, eventURI string) (model.ProviderEvent, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, a model.Appointment) (store.Outcome, error)
}

type envelope struct {
	Event   string `json:"event"`
	Payload struct {
		URI         string `json:"uri"`
		Event       string `json:"event"`
		Rescheduled bool   `json:"rescheduled"`
	} `json:"payload"`
}

type Receiver struct {
	verifier   *Verifier
	creds      Credentials
	provider   Provider
	reconciler Reconciler
	seen       *ttlcache.Cache[string, struct{}]
	logger     zerolog.Logger
}

func NewReceiver(v *Verifier, creds Credentials, p Provider, r Reconciler, logger zerolog.Logger) *Receiver {
	ttl := v.Tolerance
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	seen := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go seen.Start()

	rcv := &Receiver{
		verifier:   v,
		creds:      creds,
		provider:   p,
		reconciler: r,
		seen:       seen,
		logger:     logger.With().Str("component", "webhook").Logger(),
	}
	if v.Open() {
		rcv.logger.Warn().Msg("webhook signature verification disabled; unsigned deliveries are accepted")
	}
	return rcv
}

// Close stops the dedupe cache janitor.
func (r *Receiver) Close() {
	r.seen.Stop()
}

// Handle runs one delivery to completion. Only ErrSignatureInvalid,
// ErrMissingUser and ErrMalformed are returned; every other failure is
// folded into an acknowledged Result so the provider does not retry.
func (r *Receiver) Handle(ctx context.Context, userID, signature string, body []byte) (Result, error) {
	digest, err := r.verifier.Verify(signature, body)
	if err != nil {
		r.logger.Warn().Err(err).Str("user_id", userID).Msg("delivery rejected")
		return Result{}, err
	}
	if userID == "" {
		return Result{}, ErrMissingUser
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return Result{}, fmt.Errorf("%w: missing event kind", ErrMalformed)
	}
	res := Result{Kind: env.Event}

	var status model.Status
	switch env.Event {
	case KindInviteeCreated:
		status = model.StatusBooked
		if env.Payload.Rescheduled {
			status = model.StatusRescheduled
		}
	case KindInviteeCanceled:
		status = model.StatusCanceled
	default:
		res.Disposition = Ignored
		r.logger.Debug().Str("kind", env.Event).Msg("ignored delivery")
		return res, nil
	}
	if env.Payload.URI == "" {
		return Result{}, fmt.Errorf("%w: missing invitee uri", ErrMalformed)
	}

	dedupeKey := ""
	if digest != "" {
		dedupeKey = userID + ":" + digest
		if r.seen.Has(dedupeKey) {
			res.Disposition = Acknowledged
			res.Duplicate = true
			return res, nil
		}
	}

	res.Disposition, res.EventURI, res.Err = r.resolve(ctx, userID, env, status, body)
	if dedupeKey != "" {
		r.seen.Set(dedupeKey, struct{}{}, ttlcache.DefaultTTL)
	}
	return res, nil
}

func (r *Receiver) resolve(ctx context.Context, userID string, env envelope, status model.Status, body []byte) (Disposition, string, error) {
	log := r.logger.With().Str("user_id", userID).Str("kind", env.Event).Logger()

	cred, err := r.creds.AccessToken(ctx, userID)
	if errors.Is(err, credentials.ErrNotConnected) {
		log.Info().Msg("delivery for disconnected user dropped")
		return NotConnected, "", nil
	}
	if err != nil {
		return r.unresolved(log, "", fmt.Errorf("credentials: %w", err))
	}

	inv, err := r.provider.GetInvitee(ctx, cred.AccessToken, env.Payload.URI)
	if err != nil {
		return r.unresolved(log, "", fmt.Errorf("invitee: %w", err))
	}
	eventURI := inv.EventURI
	if eventURI == "" {
		eventURI = env.Payload.Event
	}
	if eventURI == "" {
		return r.unresolved(log, "", errors.New("invitee has no event link"))
	}
	ev, err := r.provider.FetchEvent(ctx, cred.AccessToken, eventURI)
	if err != nil {
		return r.unresolved(log, eventURI, fmt.Errorf("event: %w", err))
	}
	if status == model.StatusBooked && inv.Rescheduled {
		status = model.StatusRescheduled
	}

	candidate := reconcile.Candidate(userID, ev, inv, status, body)
	if _, err := r.reconciler.Reconcile(ctx, candidate); err != nil {
		return r.unresolved(log, ev.URI, err)
	}
	log.Info().Str("event_uri", ev.URI).Str("status", string(status)).Msg("delivery reconciled")
	return Acknowledged, ev.URI, nil
}

func (r *Receiver) unresolved(log zerolog.Logger, eventURI string, cause error) (Disposition, string, error) {
	err := fmt.Errorf("%w: %v", ErrResolutionFailed, cause)
	log.Warn().Err(err).Str("event_uri", eventURI).Msg("delivery acknowledged unresolved")
	return Unresolved, eventURI, err
}
