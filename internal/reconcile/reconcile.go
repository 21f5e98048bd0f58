package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"appointment-sync/internal/model"
	"appointment-sync/internal/store"
)

var ErrInvalidCandidate = errors.New("invalid appointment candidate")

type Store interface {
	UpsertAppointment(ctx context.Context, a *model.Appointment) (store.Outcome, error)
}

type Publisher interface {
	Publish(ctx context.Context, userID string) error
}

// Reconciler is the single write path into the appointments table shared by
// the webhook receiver and the sweep.
type Reconciler struct {
	store  Store
	bus    Publisher
	logger zerolog.Logger
}

func New(st Store, bus Publisher, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:  st,
		bus:    bus,
		logger: logger.With().Str("component", "reconcile").Logger(),
	}
}

// Candidate assembles the row both sync paths write for one provider event.
func Candidate(userID string, ev model.ProviderEvent, inv model.Invitee, status model.Status, raw []byte) model.Appointment {
	eventType := ev.Name
	if eventType == "" {
		eventType = ev.EventType
	}
	return model.Appointment{
		UserID:       userID,
		EventURI:     ev.URI,
		EventType:    eventType,
		InviteeEmail: inv.Email,
		InviteeName:  inv.Name,
		StartTime:    ev.StartTime,
		EndTime:      ev.EndTime,
		Status:       status,
		RawPayload:   raw,
	}
}

func Validate(a model.Appointment) error {
	switch {
	case a.EventURI == "":
		return fmt.Errorf("%w: missing event uri", ErrInvalidCandidate)
	case a.UserID == "":
		return fmt.Errorf("%w: missing user id", ErrInvalidCandidate)
	case !a.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidCandidate, a.Status)
	}
	return nil
}

// Reconcile writes a into the store keyed by its event URI and signals the
// owning user when the row actually changed.
func (r *Reconciler) Reconcile(ctx context.Context, a model.Appointment) (store.Outcome, error) {
	if err := Validate(a); err != nil {
		return store.Unchanged, err
	}
	outcome, err := r.store.UpsertAppointment(ctx, &a)
	if err != nil {
		return store.Unchanged, fmt.Errorf("failed to upsert %s: %w", a.EventURI, err)
	}
	r.logger.Debug().
		Str("user_id", a.UserID).
		Str("event_uri", a.EventURI).
		Str("status", string(a.Status)).
		Stringer("outcome", outcome).
		Msg("reconciled")

	if outcome.Changed() && r.bus != nil {
		if err := r.bus.Publish(ctx, a.UserID); err != nil {
			r.logger.Warn().Err(err).Str("user_id", a.UserID).Msg("change notification failed")
		}
	}
	return outcome, nil
}
