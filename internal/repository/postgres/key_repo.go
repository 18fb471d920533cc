package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/keygate/keygate/internal/errs"
	"github.com/keygate/keygate/internal/model"
)

// KeyRepo implements KeyRepository using PostgreSQL.
type KeyRepo struct{ db *DB }

// NewKeyRepo constructs a license key repository.
func NewKeyRepo(db *DB) *KeyRepo { return &KeyRepo{db: db} }

// Create inserts a new unused key row.
func (r *KeyRepo) Create(ctx context.Context, code string, durationHours int) error {
	const q = `
INSERT INTO licenses (key_code, duration_hours)
VALUES ($1, $2)`
	_, err := r.db.Pool.Exec(ctx, q, code, durationHours)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Redeem consumes an unused key and writes the paired session in one
// transaction. The row lock on licenses linearizes concurrent attempts for
// the same code: the second observer sees status='used' and rolls back.
func (r *KeyRepo) Redeem(
	ctx context.Context, code, email string, now time.Time,
) (out model.RedeemOutcome, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.RedeemOutcome{}, err
	}
	defer func() {
		if err != nil || out.Status != model.RedeemActivated {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const sel = `SELECT status, duration_hours FROM licenses WHERE key_code=$1 FOR UPDATE`
	const updKey = `
UPDATE licenses SET status='used', used_by_email=$2, used_at=$3
WHERE key_code=$1 AND status='unused'`
	const upsSession = `
INSERT INTO active_sessions (user_email, expires_at, created_at, last_activity, key_used)
VALUES ($1, $2, $3, $3, $4)
ON CONFLICT (user_email) DO UPDATE
SET expires_at=$2, last_activity=$3, key_used=$4`

	var status string
	var duration int
	if err = tx.QueryRow(ctx, sel, code).Scan(&status, &duration); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RedeemOutcome{Status: model.RedeemNotFound}, nil
		}
		return model.RedeemOutcome{}, err
	}
	if status == string(model.KeyUsed) {
		return model.RedeemOutcome{Status: model.RedeemAlreadyUsed}, nil
	}

	expiresAt := now.Add(time.Duration(duration) * time.Hour)
	if _, err = tx.Exec(ctx, updKey, code, email, now); err != nil {
		return model.RedeemOutcome{}, err
	}
	if _, err = tx.Exec(ctx, upsSession, email, expiresAt, now, code); err != nil {
		return model.RedeemOutcome{}, err
	}
	return model.RedeemOutcome{
		Status:        model.RedeemActivated,
		DurationHours: duration,
		ExpiresAt:     expiresAt,
	}, nil
}

// CountByStatus returns the number of keys in the given state.
func (r *KeyRepo) CountByStatus(ctx context.Context, status model.KeyStatus) (int64, error) {
	const q = `SELECT COUNT(*) FROM licenses WHERE status=$1`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q, string(status)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
