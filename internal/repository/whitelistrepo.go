package repository

import "context"

// WhitelistRepository owns the optional allow-list of emails.
type WhitelistRepository interface {
	// Add inserts an email; adding an existing email is a no-op success.
	Add(ctx context.Context, email, addedBy string) error

	// Remove deletes an email; absent email returns errs.ErrNotFound.
	Remove(ctx context.Context, email string) error

	// Contains reports whether the email is present.
	Contains(ctx context.Context, email string) (bool, error)

	// Count returns the number of whitelisted emails.
	Count(ctx context.Context) (int64, error)
}
