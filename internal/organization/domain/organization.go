package domain

import (
	"errors"
	"time"
)

// Org is the tenant an owner creates at registration. Refresh tokens and
// audit rows carry its id so session activity stays scoped to the tenant.
type Org struct {
	ID        string
	Name      string
	Status    OrgStatus
	CreatedAt time.Time
}

type OrgStatus string

const (
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
)

// Validate checks the organization before persistence and fills defaults.
func (o *Org) Validate() error {
	if o.Name == "" {
		return errors.New("name is required")
	}
	if o.Status == "" {
		o.Status = OrgStatusActive
	}
	return nil
}
