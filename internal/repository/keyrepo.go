// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/keygate/keygate/internal/model"
)

// KeyRepository owns license key rows and their one-shot consumption.
type KeyRepository interface {
	// Create inserts a new unused key with a fixed duration.
	Create(ctx context.Context, code string, durationHours int) error

	// Redeem atomically consumes an unused key and upserts the session for
	// email in the same transaction. Exactly one of two concurrent calls for
	// the same code observes RedeemActivated; the other sees RedeemAlreadyUsed.
	Redeem(ctx context.Context, code, email string, now time.Time) (model.RedeemOutcome, error)

	// CountByStatus returns the number of keys in the given state.
	CountByStatus(ctx context.Context, status model.KeyStatus) (int64, error)
}
