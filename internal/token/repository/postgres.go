package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"session-control-plane/internal/token/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a refresh-token repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const tokenColumns = `id, token_hash, user_id, COALESCE(org_id, ''), expires_at, revoked, revoked_at, created_at, last_used_at`

func scanToken(row interface{ Scan(...any) error }) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	var revokedAt, lastUsedAt sql.NullTime
	err := row.Scan(&t.ID, &t.TokenHash, &t.UserID, &t.OrgID, &t.ExpiresAt, &t.Revoked, &revokedAt, &t.CreatedAt, &lastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	if lastUsedAt.Valid {
		t.LastUsedAt = &lastUsedAt.Time
	}
	return &t, nil
}

// GetByHash returns the token record for the digest, or nil if not found.
// token_hash is uniquely indexed so this is a single index lookup.
func (r *PostgresRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
	return scanToken(row)
}

// Create persists the token record. The record must have ID and TokenHash set.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, token_hash, user_id, org_id, expires_at, revoked, revoked_at, created_at, last_used_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)`,
		t.ID, t.TokenHash, t.UserID, t.OrgID, t.ExpiresAt, t.Revoked, nullTime(t.RevokedAt), t.CreatedAt, nullTime(t.LastUsedAt))
	return err
}

// Rotate revokes oldID and inserts replacement in a single transaction. The
// conditional UPDATE is the rotation race arbiter: when two requests present
// the same secret, only the one whose UPDATE touches a row commits a
// replacement; the other sees ok=false.
func (r *PostgresRepository) Rotate(ctx context.Context, oldID string, replacement *domain.RefreshToken) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1 AND revoked = FALSE`,
		oldID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, token_hash, user_id, org_id, expires_at, revoked, revoked_at, created_at, last_used_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, FALSE, NULL, $6, NULL)`,
		replacement.ID, replacement.TokenHash, replacement.UserID, replacement.OrgID,
		replacement.ExpiresAt, replacement.CreatedAt); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Revoke marks the token with the given id as revoked. Already-revoked rows
// are left untouched, so the operation is idempotent.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1 AND revoked = FALSE`,
		id, time.Now().UTC())
	return err
}

// RevokeAllByUser revokes every live token owned by the user.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`,
		userID, time.Now().UTC())
	return err
}

// TouchLastUsed records when the token was last presented.
func (r *PostgresRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
