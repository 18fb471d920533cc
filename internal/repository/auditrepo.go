package repository

import (
	"context"

	"github.com/keygate/keygate/internal/model"
)

// AuditRepository appends immutable security events. No update or delete.
type AuditRepository interface {
	// Append records one event.
	Append(ctx context.Context, ev model.AuditEvent) error

	// Count returns the total number of recorded events.
	Count(ctx context.Context) (int64, error)
}
