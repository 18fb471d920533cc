// Package model defines domain entities used by services and repositories.
package model

import "time"

// KeyStatus is the lifecycle state of a license key. Used is terminal.
type KeyStatus string

const (
	KeyUnused KeyStatus = "unused"
	KeyUsed   KeyStatus = "used"
)

// LicenseKey is a one-time-use credential redeemable for a timed session.
type LicenseKey struct {
	Code          string // 48-char hex token, primary key
	Status        KeyStatus
	DurationHours int // fixed at creation, copied into the session on redemption
	CreatedAt     time.Time
	UsedByEmail   *string
	UsedAt        *time.Time
}

// Session grants access to one normalized email until ExpiresAt.
// There is at most one session per email; redemption replaces any prior one.
type Session struct {
	Email        string // normalized, primary key
	ExpiresAt    time.Time
	CreatedAt    time.Time
	LastActivity time.Time
	KeyUsed      string // informational back-reference to the redeemed key
}

// WhitelistEntry marks an email as allowed to attempt authorization.
type WhitelistEntry struct {
	Email   string
	AddedAt time.Time
	AddedBy string
}

// AuditEvent is an immutable security event record. Never updated or deleted.
type AuditEvent struct {
	ID        int64
	EventType string
	Email     *string
	IPAddress string
	Details   string
	CreatedAt time.Time
}

// Audit event types written by the engine and admin operations.
const (
	EventRateLimited       = "RATE_LIMITED"
	EventInvalidEmail      = "INVALID_EMAIL_FORMAT"
	EventNotWhitelisted    = "EMAIL_NOT_WHITELISTED"
	EventSessionResumed    = "SESSION_RESUMED"
	EventSessionExpired    = "SESSION_EXPIRED"
	EventKeyRequired       = "KEY_REQUIRED"
	EventInvalidKeyFormat  = "INVALID_KEY_FORMAT"
	EventKeyNotFound       = "KEY_NOT_FOUND"
	EventKeyAlreadyUsed    = "KEY_ALREADY_USED"
	EventKeyActivated      = "KEY_ACTIVATED"
	EventKeyCreated        = "KEY_CREATED"
	EventWhitelistAdded    = "EMAIL_WHITELISTED"
	EventWhitelistRemoved  = "EMAIL_REMOVED_WHITELIST"
	EventManualCleanup     = "MANUAL_CLEANUP"
	EventAdminNoToken      = "ADMIN_NO_TOKEN"
	EventAdminInvalidToken = "ADMIN_INVALID_TOKEN"
)

// RedeemStatus tags the outcome of a transactional redemption attempt.
type RedeemStatus int

const (
	RedeemActivated RedeemStatus = iota
	RedeemNotFound
	RedeemAlreadyUsed
)

// RedeemOutcome reports the result of consuming a key inside one transaction.
// DurationHours and ExpiresAt are set only when Status==RedeemActivated.
type RedeemOutcome struct {
	Status        RedeemStatus
	DurationHours int
	ExpiresAt     time.Time
}

// Stats is the read-only counter snapshot exposed to admins.
type Stats struct {
	UnusedKeys        int64 `json:"unused_keys"`
	UsedKeys          int64 `json:"used_keys"`
	ActiveSessions    int64 `json:"active_sessions"`
	ExpiredSessions   int64 `json:"expired_sessions"`
	WhitelistedEmails int64 `json:"whitelisted_emails"`
	TotalAuditEvents  int64 `json:"total_audit_events"`
}
