package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	orgdomain "session-control-plane/internal/organization/domain"
	"session-control-plane/internal/user/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, COALESCE(name, ''), password_hash, role, COALESCE(org_id, ''), status, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.OrgID, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email, matched case-insensitively,
// or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

// Create persists the user. The user must have ID set; it is not assigned here.
// Losing the unique-email race surfaces as domain.ErrDuplicateEmail.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, org_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Role, u.OrgID, u.Status, u.CreatedAt, u.UpdatedAt)
	return mapInsertErr(err)
}

// CreateWithOrganization creates org and user inside one transaction.
func (r *PostgresRepository) CreateWithOrganization(ctx context.Context, u *domain.User, org *orgdomain.Org) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO organizations (id, name, status, created_at) VALUES ($1, $2, $3, $4)`,
		org.ID, org.Name, org.Status, org.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, org_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Role, u.OrgID, u.Status, u.CreatedAt, u.UpdatedAt); err != nil {
		return mapInsertErr(err)
	}
	return tx.Commit()
}

// mapInsertErr translates a violation of users_email_lower_idx into
// domain.ErrDuplicateEmail so the service can report EmailTaken instead of a
// generic storage failure when two registrations race.
func mapInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "users_email_lower_idx" {
		return fmt.Errorf("%w: %v", domain.ErrDuplicateEmail, err)
	}
	return err
}

// Update updates the existing user record. Missing rows are not an error.
func (r *PostgresRepository) Update(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = $2, name = $3, password_hash = $4, role = $5,
		        org_id = NULLIF($6, ''), status = $7, updated_at = $8
		 WHERE id = $1`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Role, u.OrgID, u.Status, u.UpdatedAt)
	return err
}
