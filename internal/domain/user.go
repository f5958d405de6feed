package domain

import "strings"

// Role represents a user's role
type Role string

const (
	RoleParticipant Role = "PARTICIPANT"
	RoleOrganizer   Role = "ORGANIZER"
	RoleAdmin       Role = "ADMIN"
)

// AccountStatus represents whether a user may sign in
type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountSuspended AccountStatus = "SUSPENDED"
	AccountRejected  AccountStatus = "REJECTED"
)

// User represents a participant, organizer or admin
type User struct {
	ID            string        `json:"id"`
	FullName      string        `json:"full_name"`
	Email         string        `json:"email"`
	Role          Role          `json:"role"`
	Approved      bool          `json:"approved"` // organizers only
	AccountStatus AccountStatus `json:"account_status"`
}

func (u *User) GetID() string { return u.ID }

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// CanOrganize reports whether the user may publish events
func (u *User) CanOrganize() bool {
	return u.Role == RoleOrganizer && u.Approved && u.AccountStatus == AccountActive
}

// ParseRole parses a role label case-insensitively
func ParseRole(label string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(label))); r {
	case RoleParticipant, RoleOrganizer, RoleAdmin:
		return r, nil
	}
	return "", ErrInvalidStatus
}
