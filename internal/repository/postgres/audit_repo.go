package postgres

import (
	"context"

	"github.com/keygate/keygate/internal/model"
)

// AuditRepo implements AuditRepository using PostgreSQL.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit log repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

// Append records one immutable event. The table is insert-only.
func (r *AuditRepo) Append(ctx context.Context, ev model.AuditEvent) error {
	const q = `
INSERT INTO audit_log (event_type, email, ip_address, details)
VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, ev.EventType, ev.Email, ev.IPAddress, ev.Details)
	return err
}

// Count returns the total number of recorded events.
func (r *AuditRepo) Count(ctx context.Context) (int64, error) {
	const q = `SELECT COUNT(*) FROM audit_log`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
