package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/keygate/keygate/internal/errs"
)

// WhitelistRepo implements WhitelistRepository using PostgreSQL.
type WhitelistRepo struct{ db *DB }

// NewWhitelistRepo constructs a whitelist repository.
func NewWhitelistRepo(db *DB) *WhitelistRepo { return &WhitelistRepo{db: db} }

// Add inserts an email; re-adding an existing one is a no-op success.
func (r *WhitelistRepo) Add(ctx context.Context, email, addedBy string) error {
	const q = `
INSERT INTO allowed_emails (email, added_by)
VALUES ($1, $2)
ON CONFLICT (email) DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, q, email, addedBy)
	return err
}

// Remove deletes an email; an absent email is a reportable not-found.
func (r *WhitelistRepo) Remove(ctx context.Context, email string) error {
	const q = `DELETE FROM allowed_emails WHERE email=$1`
	tag, err := r.db.Pool.Exec(ctx, q, email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Contains reports whether the email is whitelisted.
func (r *WhitelistRepo) Contains(ctx context.Context, email string) (bool, error) {
	const q = `SELECT 1 FROM allowed_emails WHERE email=$1`
	var one int
	err := r.db.Pool.QueryRow(ctx, q, email).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, err
	}
}

// Count returns the number of whitelisted emails.
func (r *WhitelistRepo) Count(ctx context.Context) (int64, error) {
	const q = `SELECT COUNT(*) FROM allowed_emails`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
