package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/keygate/keygate/internal/errs"
	"github.com/keygate/keygate/internal/model"
)

// SessionRepo implements SessionRepository using PostgreSQL.
type SessionRepo struct{ db *DB }

// NewSessionRepo constructs a session repository.
func NewSessionRepo(db *DB) *SessionRepo { return &SessionRepo{db: db} }

// Get loads the session for a normalized email.
func (r *SessionRepo) Get(ctx context.Context, email string) (*model.Session, error) {
	const q = `
SELECT user_email, expires_at, created_at, last_activity, key_used
FROM active_sessions WHERE user_email=$1`
	row := r.db.Pool.QueryRow(ctx, q, email)
	var s model.Session
	if err := row.Scan(&s.Email, &s.ExpiresAt, &s.CreatedAt, &s.LastActivity, &s.KeyUsed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// TouchActivity refreshes last_activity on a successful resumption.
func (r *SessionRepo) TouchActivity(ctx context.Context, email string, now time.Time) error {
	const q = `UPDATE active_sessions SET last_activity=$2 WHERE user_email=$1`
	tag, err := r.db.Pool.Exec(ctx, q, email, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// DeleteIfExpired removes the session only when it has already expired.
func (r *SessionRepo) DeleteIfExpired(ctx context.Context, email string, now time.Time) (bool, error) {
	const q = `DELETE FROM active_sessions WHERE user_email=$1 AND expires_at <= $2`
	tag, err := r.db.Pool.Exec(ctx, q, email, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SweepExpired bulk-deletes expired sessions and returns the removed count.
func (r *SessionRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM active_sessions WHERE expires_at < $1`
	tag, err := r.db.Pool.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountActive returns sessions that have not yet expired.
func (r *SessionRepo) CountActive(ctx context.Context, now time.Time) (int64, error) {
	const q = `SELECT COUNT(*) FROM active_sessions WHERE expires_at > $1`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q, now).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountExpired returns sessions past their expiry that have not been swept.
func (r *SessionRepo) CountExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `SELECT COUNT(*) FROM active_sessions WHERE expires_at <= $1`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q, now).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
