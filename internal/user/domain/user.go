package domain

import (
	"errors"
	"time"
)

// ErrDuplicateEmail reports an insert that lost the unique-email race: the
// pre-insert lookup saw no user, but another request created one first.
var ErrDuplicateEmail = errors.New("email already exists")

// User is the core user entity. PasswordHash is the bcrypt digest of the
// user's password; the plaintext is never persisted. Users are never
// physically deleted; Status carries soft states so audit rows and refresh
// tokens keep valid foreign keys.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	OrgID        string // optional organization membership
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

type Role string

const (
	// RoleOwner is assigned to the user who registered the organization.
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if u.Role == "" {
		u.Role = RoleMember
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}
