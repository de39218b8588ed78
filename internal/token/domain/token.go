package domain

import "time"

// RefreshToken is the server-side record of one renewable session. TokenHash
// is the SHA-256 digest of the raw secret; the raw value is never stored.
type RefreshToken struct {
	ID         string
	TokenHash  string
	UserID     string
	OrgID      string // optional organization context
	ExpiresAt  time.Time
	Revoked    bool
	RevokedAt  *time.Time // nil when not revoked
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// Usable reports whether the token may still be exchanged at the given
// instant: not revoked and not expired. Once Revoked is set it never
// validates again.
func (t *RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
