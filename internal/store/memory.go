package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"appointment-sync/internal/model"
)

// Memory is an in-process store with the same upsert semantics as the
// Postgres one. It backs tests and DATABASE_URL-less development runs.
type Memory struct {
	mu           sync.Mutex
	credentials  map[string]model.Credential
	appointments map[string]model.Appointment
	now          func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		credentials:  map[string]model.Credential{},
		appointments: map[string]model.Appointment{},
		now:          time.Now,
	}
}

func (m *Memory) GetCredential(_ context.Context, userID string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *Memory) UpsertCredential(_ context.Context, c *model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	next := *c
	if next.TokenType == "" {
		next.TokenType = "Bearer"
	}
	if prev, ok := m.credentials[c.UserID]; ok {
		next.CreatedAt = prev.CreatedAt
		if next.ProviderUserURI == nil {
			next.ProviderUserURI = prev.ProviderUserURI
		}
		if next.ProviderOrgURI == nil {
			next.ProviderOrgURI = prev.ProviderOrgURI
		}
		if next.SchedulingURL == nil {
			next.SchedulingURL = prev.SchedulingURL
		}
	} else {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	m.credentials[c.UserID] = next
	return nil
}

func (m *Memory) DeleteCredential(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials, userID)
	return nil
}

func (m *Memory) ConnectedUserIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.credentials))
	for id := range m.credentials {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) UpsertAppointment(_ context.Context, a *model.Appointment) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	prev, ok := m.appointments[a.EventURI]
	if !ok {
		next := *a
		if next.ID == "" {
			next.ID = uuid.New().String()
		}
		next.RawPayload = cloneBytes(a.RawPayload)
		next.CreatedAt = now
		next.UpdatedAt = now
		m.appointments[a.EventURI] = next
		return Inserted, nil
	}

	next := prev
	next.EventType = a.EventType
	next.InviteeEmail = a.InviteeEmail
	next.InviteeName = a.InviteeName
	next.StartTime = a.StartTime
	next.EndTime = a.EndTime
	next.Status = a.Status
	if a.RawPayload != nil {
		next.RawPayload = cloneBytes(a.RawPayload)
	}
	if sameAppointment(prev, next) {
		return Unchanged, nil
	}
	next.UpdatedAt = now
	m.appointments[a.EventURI] = next
	return Updated, nil
}

func (m *Memory) GetAppointmentByEventURI(_ context.Context, eventURI string) (*model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[eventURI]
	if !ok {
		return nil, ErrNotFound
	}
	a.RawPayload = cloneBytes(a.RawPayload)
	return &a, nil
}

func (m *Memory) ListAppointments(_ context.Context, userID string) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.appointments {
		if a.UserID == userID {
			a.RawPayload = cloneBytes(a.RawPayload)
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].EventURI < out[j].EventURI
	})
	return out, nil
}

// Count returns the total number of appointment rows across all users.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appointments)
}

func sameAppointment(a, b model.Appointment) bool {
	return a.EventType == b.EventType &&
		a.InviteeEmail == b.InviteeEmail &&
		a.InviteeName == b.InviteeName &&
		a.StartTime.Equal(b.StartTime) &&
		a.EndTime.Equal(b.EndTime) &&
		a.Status == b.Status &&
		bytes.Equal(a.RawPayload, b.RawPayload)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
