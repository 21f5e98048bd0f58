package model

import "time"

type Status string

const (
	StatusBooked      Status = "booked"
	StatusCanceled    Status = "canceled"
	StatusRescheduled Status = "rescheduled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusBooked, StatusCanceled, StatusRescheduled:
		return true
	}
	return false
}

// Credential is the OAuth grant for one local user. A row existing is what
// "connected" means; there is no separate flag.
type Credential struct {
	UserID          string
	AccessToken     string
	RefreshToken    string
	TokenType       string
	ExpiresAt       time.Time
	ProviderUserURI *string
	ProviderOrgURI  *string
	SchedulingURL   *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasIdentity reports whether the provider user URI was already resolved.
func (c *Credential) HasIdentity() bool {
	return c.ProviderUserURI != nil && *c.ProviderUserURI != ""
}

// Appointment is one provider scheduling event as seen by one local user.
// EventURI is unique across all users.
type Appointment struct {
	ID           string
	UserID       string
	EventURI     string
	EventType    string
	InviteeEmail string
	InviteeName  string
	StartTime    time.Time
	EndTime      time.Time
	Status       Status
	RawPayload   []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity is the provider-side account a credential belongs to.
type Identity struct {
	UserURI       string
	OrgURI        string
	SchedulingURL string
}

// ProviderEvent is a scheduled event as listed by the provider.
type ProviderEvent struct {
	URI       string
	Name      string
	EventType string
	Status    string
	StartTime time.Time
	EndTime   time.Time
}

func (e ProviderEvent) Canceled() bool { return e.Status == "canceled" }

type Invitee struct {
	URI         string
	Email       string
	Name        string
	EventURI    string
	Status      string
	Rescheduled bool
}
