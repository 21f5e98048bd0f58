package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"appointment-sync/internal/model"
)

// UpsertAppointment applies a to the row keyed by its event URI in a single
// statement. Concurrent writers for the same URI serialise on the unique
// index and the last one applied wins. The owner, id and created_at of an
// existing row are kept; raw_payload is only replaced by a non-null value.
// Writes that would not change anything are skipped and report Unchanged.
func (s *Store) UpsertAppointment(ctx context.Context, a *model.Appointment) (Outcome, error) {
	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}

	var inserted bool
	err := s.pool.QueryRow(ctx,
		`INSERT INTO appointments
		   (id, user_id, event_uri, event_type, invitee_email, invitee_name,
		    start_time, end_time, status, raw_payload)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (event_uri) DO UPDATE SET
		   event_type    = EXCLUDED.event_type,
		   invitee_email = EXCLUDED.invitee_email,
		   invitee_name  = EXCLUDED.invitee_name,
		   start_time    = EXCLUDED.start_time,
		   end_time      = EXCLUDED.end_time,
		   status        = EXCLUDED.status,
		   raw_payload   = COALESCE(EXCLUDED.raw_payload, appointments.raw_payload),
		   updated_at    = NOW()
		 WHERE (appointments.event_type, appointments.invitee_email, appointments.invitee_name,
		        appointments.start_time, appointments.end_time, appointments.status,
		        appointments.raw_payload)
		   IS DISTINCT FROM
		       (EXCLUDED.event_type, EXCLUDED.invitee_email, EXCLUDED.invitee_name,
		        EXCLUDED.start_time, EXCLUDED.end_time, EXCLUDED.status,
		        COALESCE(EXCLUDED.raw_payload, appointments.raw_payload))
		 RETURNING (xmax = 0)`,
		id, a.UserID, a.EventURI, a.EventType, a.InviteeEmail, a.InviteeName,
		a.StartTime, a.EndTime, string(a.Status), a.RawPayload,
	).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		// conflict hit, but the WHERE filtered the update out
		return Unchanged, nil
	}
	if err != nil {
		return Unchanged, err
	}
	if inserted {
		return Inserted, nil
	}
	return Updated, nil
}

func (s *Store) GetAppointmentByEventURI(ctx context.Context, eventURI string) (*model.Appointment, error) {
	rows, err := s.pool.Query(ctx, selectAppointments+` WHERE event_uri = $1`, eventURI)
	if err != nil {
		return nil, err
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAppointment)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAppointments(ctx context.Context, userID string) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx,
		selectAppointments+` WHERE user_id = $1 ORDER BY start_time, event_uri`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAppointment)
}

const selectAppointments = `SELECT id, user_id, event_uri, event_type, invitee_email, invitee_name,
        start_time, end_time, status, raw_payload, created_at, updated_at
 FROM appointments`

func scanAppointment(row pgx.CollectableRow) (model.Appointment, error) {
	var a model.Appointment
	var status string
	err := row.Scan(&a.ID, &a.UserID, &a.EventURI, &a.EventType, &a.InviteeEmail, &a.InviteeName,
		&a.StartTime, &a.EndTime, &status, &a.RawPayload, &a.CreatedAt, &a.UpdatedAt)
	a.Status = model.Status(status)
	return a, err
}
