package repository

import (
	"context"
	"time"

	"session-control-plane/internal/token/domain"
)

// Repository defines persistence for refresh tokens.
type Repository interface {
	// GetByHash returns the token record with the given digest, or nil if absent.
	GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	Create(ctx context.Context, t *domain.RefreshToken) error
	// Rotate revokes the record identified by oldID and creates replacement in
	// one transaction. Returns false when oldID was already revoked, so of two
	// concurrent rotations of the same token exactly one wins.
	Rotate(ctx context.Context, oldID string, replacement *domain.RefreshToken) (bool, error)
	// Revoke marks the token revoked. Revoking an already-revoked token is a no-op.
	Revoke(ctx context.Context, id string) error
	RevokeAllByUser(ctx context.Context, userID string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}
