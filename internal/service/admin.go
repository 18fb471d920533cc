package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/keygate/keygate/internal/errs"
	"github.com/keygate/keygate/internal/keycode"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/repository"
)

// Duration bounds for issued keys: one hour to one year.
const (
	MinDurationHours = 1
	MaxDurationHours = 8760
)

// AdminService defines the privileged operations behind the admin credential.
type AdminService interface {
	// CreateKey mints a new unused key with the given lifetime in hours.
	CreateKey(ctx context.Context, durationHours int, sourceIP string) (string, error)
	// WhitelistAdd allows an email; idempotent.
	WhitelistAdd(ctx context.Context, email, sourceIP string) (string, error)
	// WhitelistRemove disallows an email; absent email is errs.ErrNotFound.
	WhitelistRemove(ctx context.Context, email, sourceIP string) (string, error)
	// Stats returns read-only counters across all four tables.
	Stats(ctx context.Context) (model.Stats, error)
	// Cleanup sweeps expired sessions and returns the removed count.
	Cleanup(ctx context.Context, sourceIP string) (int64, error)
	// RecordAuthFailure audits a rejected admin credential.
	RecordAuthFailure(ctx context.Context, eventType, sourceIP string)
}

// AdminServiceImpl implements AdminService over the repositories.
type AdminServiceImpl struct {
	keys         repository.KeyRepository
	sessions     repository.SessionRepository
	whitelist    repository.WhitelistRepository
	audit        repository.AuditRepository
	storeTimeout time.Duration
	log          *zap.Logger
}

// NewAdminService constructs AdminService with required dependencies.
func NewAdminService(
	keys repository.KeyRepository,
	sessions repository.SessionRepository,
	whitelist repository.WhitelistRepository,
	audit repository.AuditRepository,
	storeTimeout time.Duration,
	log *zap.Logger,
) *AdminServiceImpl {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &AdminServiceImpl{
		keys:         keys,
		sessions:     sessions,
		whitelist:    whitelist,
		audit:        audit,
		storeTimeout: storeTimeout,
		log:          log,
	}
}

// CreateKey validates the duration, generates a high-entropy code and inserts it.
func (s *AdminServiceImpl) CreateKey(ctx context.Context, durationHours int, sourceIP string) (string, error) {
	if durationHours < MinDurationHours || durationHours > MaxDurationHours {
		return "", fmt.Errorf("duration must be between %d and %d hours: %w",
			MinDurationHours, MaxDurationHours, errs.ErrValidation)
	}
	code, err := keycode.New()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.keys.Create(ctx, code, durationHours); err != nil {
		return "", s.transient("create key", err)
	}
	s.auditEvent(ctx, model.EventKeyCreated, nil, sourceIP, fmt.Sprintf("duration: %dh", durationHours))
	return code, nil
}

// WhitelistAdd validates, normalizes and allows an email.
func (s *AdminServiceImpl) WhitelistAdd(ctx context.Context, email, sourceIP string) (string, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return "", fmt.Errorf("invalid email format: %w", errs.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.whitelist.Add(ctx, email, "admin"); err != nil {
		return "", s.transient("whitelist add", err)
	}
	s.auditEvent(ctx, model.EventWhitelistAdded, &email, sourceIP, "")
	return email, nil
}

// WhitelistRemove normalizes and disallows an email.
func (s *AdminServiceImpl) WhitelistRemove(ctx context.Context, email, sourceIP string) (string, error) {
	email = normalizeEmail(email)

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	err := s.whitelist.Remove(ctx, email)
	switch {
	case err == nil:
		s.auditEvent(ctx, model.EventWhitelistRemoved, &email, sourceIP, "")
		return email, nil
	case errors.Is(err, errs.ErrNotFound):
		return "", err
	default:
		return "", s.transient("whitelist remove", err)
	}
}

// Stats collects the counter snapshot for the admin surface. Read-only.
func (s *AdminServiceImpl) Stats(ctx context.Context) (model.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	now := time.Now()

	var st model.Stats
	var err error
	if st.UnusedKeys, err = s.keys.CountByStatus(ctx, model.KeyUnused); err != nil {
		return model.Stats{}, s.transient("count unused keys", err)
	}
	if st.UsedKeys, err = s.keys.CountByStatus(ctx, model.KeyUsed); err != nil {
		return model.Stats{}, s.transient("count used keys", err)
	}
	if st.ActiveSessions, err = s.sessions.CountActive(ctx, now); err != nil {
		return model.Stats{}, s.transient("count active sessions", err)
	}
	if st.ExpiredSessions, err = s.sessions.CountExpired(ctx, now); err != nil {
		return model.Stats{}, s.transient("count expired sessions", err)
	}
	if st.WhitelistedEmails, err = s.whitelist.Count(ctx); err != nil {
		return model.Stats{}, s.transient("count whitelist", err)
	}
	if st.TotalAuditEvents, err = s.audit.Count(ctx); err != nil {
		return model.Stats{}, s.transient("count audit events", err)
	}
	return st, nil
}

// Cleanup removes expired sessions. Safe to repeat: a second sweep with no
// new expirations reports zero.
func (s *AdminServiceImpl) Cleanup(ctx context.Context, sourceIP string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	n, err := s.sessions.SweepExpired(ctx, time.Now())
	if err != nil {
		return 0, s.transient("sweep expired", err)
	}
	s.auditEvent(ctx, model.EventManualCleanup, nil, sourceIP, fmt.Sprintf("removed %d expired sessions", n))
	return n, nil
}

// RecordAuthFailure audits missing or invalid admin credentials.
func (s *AdminServiceImpl) RecordAuthFailure(ctx context.Context, eventType, sourceIP string) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	s.auditEvent(ctx, eventType, nil, sourceIP, "")
}

func (s *AdminServiceImpl) auditEvent(ctx context.Context, eventType string, email *string, ip, details string) {
	ev := model.AuditEvent{EventType: eventType, Email: email, IPAddress: ip, Details: details}
	if err := s.audit.Append(ctx, ev); err != nil {
		s.log.Error("audit append failed", zap.String("event", eventType), zap.Error(err))
	}
}

func (s *AdminServiceImpl) transient(op string, err error) error {
	s.log.Error("store failure", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, errs.ErrUnavailable)
}
