package repository

import (
	"context"
	"time"

	"github.com/keygate/keygate/internal/model"
)

// SessionRepository owns per-email session expiry state.
// Session creation happens inside KeyRepository.Redeem; everything else
// about a session's lifecycle lives here.
type SessionRepository interface {
	// Get loads the session for a normalized email, or errs.ErrNotFound.
	Get(ctx context.Context, email string) (*model.Session, error)

	// TouchActivity refreshes last_activity on a successful resumption.
	TouchActivity(ctx context.Context, email string, now time.Time) error

	// DeleteIfExpired removes the session only when expires_at <= now.
	// Returns true when a row was removed.
	DeleteIfExpired(ctx context.Context, email string, now time.Time) (bool, error)

	// SweepExpired bulk-deletes expired sessions and returns the count.
	// Idempotent: repeat calls with no expired rows return 0.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	// CountActive returns sessions with expires_at > now.
	CountActive(ctx context.Context, now time.Time) (int64, error)

	// CountExpired returns sessions with expires_at <= now.
	CountExpired(ctx context.Context, now time.Time) (int64, error)
}
