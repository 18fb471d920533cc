// Package service contains application services for authorization and administration.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/keygate/keygate/internal/errs"
	"github.com/keygate/keygate/internal/keycode"
	"github.com/keygate/keygate/internal/limiter"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/repository"
)

// Stable machine-checkable denial/grant reason codes.
const (
	ReasonSessionResumed = "session_resumed"
	ReasonKeyActivated   = "key_activated"
	ReasonRateLimited    = "rate_limited"
	ReasonInvalidEmail   = "invalid_email"
	ReasonNotWhitelisted = "not_whitelisted"
	ReasonKeyRequired    = "key_required"
	ReasonKeyInvalid     = "key_invalid"
	ReasonKeyUsed        = "key_already_used"
)

// Decision is the outcome of one authorization attempt. Denials carry a
// stable reason code plus a human message; store internals never leak here.
type Decision struct {
	Granted   bool
	Reason    string
	Message   string
	ExpiresAt *time.Time
}

// AuthorizeService is the decision procedure exposed to clients.
type AuthorizeService interface {
	// Authorize resolves one request: resume a live session or redeem a key.
	Authorize(ctx context.Context, email, providedKey, sourceIP string) (Decision, error)
}

var validate = validator.New()

// AuthorizeServiceImpl orchestrates limiter, whitelist, sessions and keys.
type AuthorizeServiceImpl struct {
	keys             repository.KeyRepository
	sessions         repository.SessionRepository
	whitelist        repository.WhitelistRepository
	audit            repository.AuditRepository
	lim              limiter.Limiter
	whitelistEnabled bool
	storeTimeout     time.Duration
	log              *zap.Logger
}

// NewAuthorizeService constructs the authorization engine with its collaborators.
func NewAuthorizeService(
	keys repository.KeyRepository,
	sessions repository.SessionRepository,
	whitelist repository.WhitelistRepository,
	audit repository.AuditRepository,
	lim limiter.Limiter,
	whitelistEnabled bool,
	storeTimeout time.Duration,
	log *zap.Logger,
) *AuthorizeServiceImpl {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &AuthorizeServiceImpl{
		keys:             keys,
		sessions:         sessions,
		whitelist:        whitelist,
		audit:            audit,
		lim:              lim,
		whitelistEnabled: whitelistEnabled,
		storeTimeout:     storeTimeout,
		log:              log,
	}
}

// normalizeEmail lower-cases and trims; every store lookup uses this form.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validEmail reports whether the address is well-formed and bounded.
func validEmail(email string) bool {
	return validate.Var(email, "required,email,max=254") == nil
}

// Authorize evaluates the decision procedure in order: rate limit, email
// validation, whitelist, session resumption, then one-shot key redemption.
// Every terminal branch writes exactly one audit event.
func (s *AuthorizeServiceImpl) Authorize(ctx context.Context, email, providedKey, sourceIP string) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if !s.lim.Allow(sourceIP) {
		s.auditEvent(ctx, model.EventRateLimited, nil, sourceIP, "ip: "+sourceIP)
		return Decision{Reason: ReasonRateLimited, Message: "Too many requests. Please wait a minute."}, nil
	}

	email = normalizeEmail(email)
	if !validEmail(email) {
		s.auditEvent(ctx, model.EventInvalidEmail, &email, sourceIP, "")
		return Decision{Reason: ReasonInvalidEmail, Message: "Invalid email format"}, nil
	}
	providedKey = strings.TrimSpace(providedKey)

	// Whitelist is re-checked on every call, including session resumption,
	// so removing an email revokes access mid-session.
	if s.whitelistEnabled {
		allowed, err := s.whitelist.Contains(ctx, email)
		if err != nil {
			return Decision{}, s.transient("whitelist lookup", err)
		}
		if !allowed {
			s.auditEvent(ctx, model.EventNotWhitelisted, &email, sourceIP, "")
			return Decision{Reason: ReasonNotWhitelisted, Message: "Email not authorized. Contact administrator."}, nil
		}
	}

	now := time.Now()
	sess, err := s.sessions.Get(ctx, email)
	switch {
	case err == nil && now.Before(sess.ExpiresAt):
		if err := s.sessions.TouchActivity(ctx, email, now); err != nil && !errors.Is(err, errs.ErrNotFound) {
			return Decision{}, s.transient("touch activity", err)
		}
		hoursLeft := int(sess.ExpiresAt.Sub(now).Hours())
		s.auditEvent(ctx, model.EventSessionResumed, &email, sourceIP, "")
		exp := sess.ExpiresAt
		return Decision{
			Granted:   true,
			Reason:    ReasonSessionResumed,
			Message:   fmt.Sprintf("Session active. %dh remaining.", hoursLeft),
			ExpiresAt: &exp,
		}, nil
	case err == nil:
		// Expired: drop it lazily and fall through to key redemption.
		if _, err := s.sessions.DeleteIfExpired(ctx, email, now); err != nil {
			return Decision{}, s.transient("delete expired session", err)
		}
		s.auditEvent(ctx, model.EventSessionExpired, &email, sourceIP, "")
	case errors.Is(err, errs.ErrNotFound):
		// No session; a key is required below.
	default:
		return Decision{}, s.transient("session lookup", err)
	}

	if providedKey == "" {
		s.auditEvent(ctx, model.EventKeyRequired, &email, sourceIP, "")
		return Decision{Reason: ReasonKeyRequired, Message: "Access key required for new session"}, nil
	}

	// Length mismatch and unknown code collapse into one rejection class so
	// responses never confirm whether a guessed code exists.
	if !keycode.Valid(providedKey) {
		s.auditEvent(ctx, model.EventInvalidKeyFormat, &email, sourceIP, "")
		return Decision{Reason: ReasonKeyInvalid, Message: "Invalid access key"}, nil
	}

	out, err := s.keys.Redeem(ctx, providedKey, email, now)
	if err != nil {
		return Decision{}, s.transient("redeem key", err)
	}
	switch out.Status {
	case model.RedeemNotFound:
		s.auditEvent(ctx, model.EventKeyNotFound, &email, sourceIP, "")
		return Decision{Reason: ReasonKeyInvalid, Message: "Invalid access key"}, nil
	case model.RedeemAlreadyUsed:
		s.auditEvent(ctx, model.EventKeyAlreadyUsed, &email, sourceIP, "")
		return Decision{Reason: ReasonKeyUsed, Message: "This key has already been used"}, nil
	}

	s.auditEvent(ctx, model.EventKeyActivated, &email, sourceIP, fmt.Sprintf("duration: %dh", out.DurationHours))
	exp := out.ExpiresAt
	return Decision{
		Granted:   true,
		Reason:    ReasonKeyActivated,
		Message:   fmt.Sprintf("Access granted for %d hours!", out.DurationHours),
		ExpiresAt: &exp,
	}, nil
}

// auditEvent appends one event; failures are logged, never surfaced.
func (s *AuthorizeServiceImpl) auditEvent(ctx context.Context, eventType string, email *string, ip, details string) {
	ev := model.AuditEvent{EventType: eventType, Email: email, IPAddress: ip, Details: details}
	if err := s.audit.Append(ctx, ev); err != nil {
		s.log.Error("audit append failed", zap.String("event", eventType), zap.Error(err))
	}
}

// transient hides store error text behind the unavailable sentinel.
func (s *AuthorizeServiceImpl) transient(op string, err error) error {
	s.log.Error("store failure", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, errs.ErrUnavailable)
}
