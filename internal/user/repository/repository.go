package repository

import (
	"context"

	orgdomain "session-control-plane/internal/organization/domain"
	"session-control-plane/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// CreateWithOrganization creates the organization and the user in one
	// transaction so registration cannot leave a half-created pair.
	CreateWithOrganization(ctx context.Context, u *domain.User, org *orgdomain.Org) error
	Update(ctx context.Context, u *domain.User) error
}
