package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keygate/keygate/internal/errs"
	"github.com/keygate/keygate/internal/limiter"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/repository"
)

const testKey = "000102030405060708090a0b0c0d0e0f1011121314151617"

/************ fakes ************/

type fakeSessions struct {
	mu       sync.Mutex
	byEmail  map[string]*model.Session
	getErr   error
	touchErr error
}

var _ repository.SessionRepository = (*fakeSessions)(nil)

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byEmail: map[string]*model.Session{}}
}

func (f *fakeSessions) put(email string, expiresAt time.Time, keyUsed string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.byEmail[email] = &model.Session{
		Email: email, ExpiresAt: expiresAt, CreatedAt: now, LastActivity: now, KeyUsed: keyUsed,
	}
}

func (f *fakeSessions) Get(_ context.Context, email string) (*model.Session, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeSessions) TouchActivity(_ context.Context, email string, now time.Time) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byEmail[email]
	if !ok {
		return errs.ErrNotFound
	}
	s.LastActivity = now
	return nil
}

func (f *fakeSessions) DeleteIfExpired(_ context.Context, email string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byEmail[email]
	if !ok || s.ExpiresAt.After(now) {
		return false, nil
	}
	delete(f.byEmail, email)
	return true, nil
}

func (f *fakeSessions) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, s := range f.byEmail {
		if !s.ExpiresAt.After(now) {
			delete(f.byEmail, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) CountActive(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.byEmail {
		if s.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) CountExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.byEmail {
		if !s.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

type fakeKeys struct {
	mu          sync.Mutex
	byCode      map[string]*model.LicenseKey
	sessions    *fakeSessions
	createErr   error
	redeemErr   error
	redeemCalls int
}

var _ repository.KeyRepository = (*fakeKeys)(nil)

func newFakeKeys(sessions *fakeSessions) *fakeKeys {
	return &fakeKeys{byCode: map[string]*model.LicenseKey{}, sessions: sessions}
}

func (f *fakeKeys) seed(code string, durationHours int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byCode[code] = &model.LicenseKey{
		Code: code, Status: model.KeyUnused, DurationHours: durationHours, CreatedAt: time.Now(),
	}
}

func (f *fakeKeys) Create(_ context.Context, code string, durationHours int) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.seed(code, durationHours)
	return nil
}

// Redeem mirrors the transactional semantics: the lock makes the
// check-and-consume atomic, and the session write happens with it.
func (f *fakeKeys) Redeem(_ context.Context, code, email string, now time.Time) (model.RedeemOutcome, error) {
	if f.redeemErr != nil {
		return model.RedeemOutcome{}, f.redeemErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redeemCalls++
	k, ok := f.byCode[code]
	if !ok {
		return model.RedeemOutcome{Status: model.RedeemNotFound}, nil
	}
	if k.Status == model.KeyUsed {
		return model.RedeemOutcome{Status: model.RedeemAlreadyUsed}, nil
	}
	k.Status = model.KeyUsed
	k.UsedByEmail = &email
	usedAt := now
	k.UsedAt = &usedAt
	expiresAt := now.Add(time.Duration(k.DurationHours) * time.Hour)
	f.sessions.put(email, expiresAt, code)
	return model.RedeemOutcome{
		Status: model.RedeemActivated, DurationHours: k.DurationHours, ExpiresAt: expiresAt,
	}, nil
}

func (f *fakeKeys) CountByStatus(_ context.Context, status model.KeyStatus) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range f.byCode {
		if k.Status == status {
			n++
		}
	}
	return n, nil
}

type fakeWhitelist struct {
	mu      sync.Mutex
	allowed map[string]bool
	err     error
}

var _ repository.WhitelistRepository = (*fakeWhitelist)(nil)

func newFakeWhitelist(emails ...string) *fakeWhitelist {
	w := &fakeWhitelist{allowed: map[string]bool{}}
	for _, e := range emails {
		w.allowed[e] = true
	}
	return w
}

func (f *fakeWhitelist) Add(_ context.Context, email, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowed[email] = true
	return nil
}

func (f *fakeWhitelist) Remove(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.allowed[email] {
		return errs.ErrNotFound
	}
	delete(f.allowed, email)
	return nil
}

func (f *fakeWhitelist) Contains(_ context.Context, email string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allowed[email], nil
}

func (f *fakeWhitelist) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.allowed)), nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []model.AuditEvent
	err    error
}

var _ repository.AuditRepository = (*fakeAudit)(nil)

func (f *fakeAudit) Append(_ context.Context, ev model.AuditEvent) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeAudit) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.events)), nil
}

func (f *fakeAudit) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.EventType)
	}
	return out
}

type allowAll struct{}

func (allowAll) Allow(string) bool { return true }

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

/************ harness ************/

type engineDeps struct {
	keys      *fakeKeys
	sessions  *fakeSessions
	whitelist *fakeWhitelist
	audit     *fakeAudit
}

func newEngine(t *testing.T, lim limiter.Limiter, whitelistOn bool) (*AuthorizeServiceImpl, *engineDeps) {
	t.Helper()
	d := &engineDeps{
		sessions:  newFakeSessions(),
		whitelist: newFakeWhitelist(),
		audit:     &fakeAudit{},
	}
	d.keys = newFakeKeys(d.sessions)
	svc := NewAuthorizeService(
		d.keys, d.sessions, d.whitelist, d.audit,
		lim, whitelistOn, 5*time.Second, zap.NewNop(),
	)
	return svc, d
}

/************ tests ************/

func TestAuthorize_NoSessionNoKey(t *testing.T) {
	svc, d := newEngine(t, allowAll{}, false)

	dec, err := svc.Authorize(context.Background(), "a@x.com", "", "1.2.3.4")
	require.NoError(t, err)
	require.False(t, dec.Granted)
	require.Equal(t, ReasonKeyRequired, dec.Reason)
	require.Equal(t, []string{model.EventKeyRequired}, d.audit.types())
}

func TestAuthorize_RedeemRoundTrip(t *testing.T) {
	svc, d := newEngine(t, allowAll{}, false)
	d.keys.seed(testKey, 24)

	before := time.Now()
	dec, err := svc.Authorize(context.Background(), "a@x.com", testKey, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, dec.Granted)
	require.Equal(t, ReasonKeyActivated, dec.Reason)
	require.NotNil(t, dec.ExpiresAt)
	require.WithinDuration(t, before.Add(24*time.Hour), *dec.ExpiresAt, 5*time.Second)

	// Same email resumes without consuming anything; expiry is unchanged.
	resumed, err := svc.Authorize(context.Background(), "a@x.com", "", "1.2.3.4")
	require.NoError(t, err)
	require.True(t, resumed.Granted)
	require.Equal(t, ReasonSessionResumed, resumed.Reason)
	require.Equal(t, *dec.ExpiresAt, *resumed.ExpiresAt)

	// Replaying the consumed key as a different email is rejected.
	replay, err := svc.Authorize(context.Background(), "b@x.com", testKey, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, replay.Granted)
	require.Equal(t, ReasonKeyUsed, replay.Reason)
	require.Equal(t, []string{
		model.EventKeyActivated,
		model.EventSessionResumed,
		model.EventKeyAlreadyUsed,
	}, d.audit.types())
}

func TestAuthorize_ExpiredSessionDeletedLazily(t *testing.T) {
	svc, d := newEngine(t, allowAll{}, false)
	d.sessions.put("a@x.com", time.Now().Add(-time.Hour), testKey)

	dec, err := svc.Authorize(context.Background(), "a@x.com", "", "1.2.3.4")
	require.NoError(t, err)
	require.False(t, dec.Granted)
	require.Equal(t, ReasonKeyRequired, dec.Reason)

	_, err = d.sessions.Get(context.Background(), "a@x.com")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Equal(t, []string{model.EventSessionExpired, model.EventKeyRequired}, d.audit.types())
}

func TestAuthorize_EmailNormalization(t *testing.T) {
	svc, d := newEngine(t, allowAll{}, false)
	d.keys.seed(testKey, 24)

	dec, err := svc.Authorize(context.Background(), "  A@X.Com ", testKey, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, dec.Granted)

	// The session landed under the normalized form.
	s, err := d.sessions.Get(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.Equal(t, testKey, s.KeyUsed)
}

func TestAuthorize_InvalidEmail(t *testing.T) {
	svc, d := newEngine(t, allowAll{}, false)

	for _, bad := range []string{"", "not-an-email", "missing@tld", "@x.com"} {
		dec, err := svc.Authorize(context.Background(), bad, "", "1.2.3.4")
		require.NoError(t, err)
		require.False(t, dec.Granted)
		require.Equal(t, ReasonInvalidEmail, dec.Reason, "email %q", bad)
	}
	require.Zero(t, d.keys.redeemCalls)
}

func TestAuthorize_KeyLengthRejectedBeforeStore(t *testing.T) {
	svc, d := newEngine(t, allowAll{}, false)

	dec, err := svc.Authorize(context.Background(), "a@x.com", "too-short", "1.2.3.4")
	require.NoError(t, err)
	require.False(t, dec.Granted)
	require.Equal(t, ReasonKeyInvalid, dec.Reason)
	require.Zero(t, d.keys.redeemCalls, "malformed key must not reach the store")
}

func TestAuthorize_UnknownKeySameRejectionClass(t *testing.T) {
	svc, _ := newEngine(t, allowAll{}, false)

	// A well-formed but unknown code is indistinguishable from a malformed one.
	dec, err := svc.Authorize(context.Background(), "a@x.com", testKey, "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, ReasonKeyInvalid, dec.Reason)
	require.Equal(t, "Invalid access key", dec.Message)
}

func TestAuthorize_WhitelistDeniesDespiteValidKey(t *testing.T) {
	svc, d := newEngine(t, allowAll{}, true)
	d.keys.seed(testKey, 24)

	dec, err := svc.Authorize(context.Background(), "b@y.com", testKey, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, dec.Granted)
	require.Equal(t, ReasonNotWhitelisted, dec.Reason)
	require.Zero(t, d.keys.redeemCalls)
}

func TestAuthorize_WhitelistRecheckedOnResumption(t *testing.T) {
	svc, d := newEngine(t, allowAll{}, true)
	d.sessions.put("a@x.com", time.Now().Add(time.Hour), testKey)

	// Removed from the whitelist mid-session: access is revoked.
	dec, err := svc.Authorize(context.Background(), "a@x.com", "", "1.2.3.4")
	require.NoError(t, err)
	require.False(t, dec.Granted)
	require.Equal(t, ReasonNotWhitelisted, dec.Reason)

	require.NoError(t, d.whitelist.Add(context.Background(), "a@x.com", "admin"))
	dec, err = svc.Authorize(context.Background(), "a@x.com", "", "1.2.3.4")
	require.NoError(t, err)
	require.True(t, dec.Granted)
	require.Equal(t, ReasonSessionResumed, dec.Reason)
}

func TestAuthorize_RateLimited(t *testing.T) {
	svc, d := newEngine(t, denyAll{}, false)

	dec, err := svc.Authorize(context.Background(), "a@x.com", "", "1.2.3.4")
	require.NoError(t, err)
	require.False(t, dec.Granted)
	require.Equal(t, ReasonRateLimited, dec.Reason)
	require.Equal(t, []string{model.EventRateLimited}, d.audit.types())
}

func TestAuthorize_FixedWindowLimit(t *testing.T) {
	lim := limiter.NewMemory(20, time.Minute)
	svc, _ := newEngine(t, lim, false)

	for i := 0; i < 20; i++ {
		dec, err := svc.Authorize(context.Background(), "a@x.com", "", "9.9.9.9")
		require.NoError(t, err)
		require.Equal(t, ReasonKeyRequired, dec.Reason, "call %d", i+1)
	}
	dec, err := svc.Authorize(context.Background(), "a@x.com", "", "9.9.9.9")
	require.NoError(t, err)
	require.Equal(t, ReasonRateLimited, dec.Reason, "21st call from one address")
}

func TestAuthorize_ConcurrentRedemptions_ExactlyOneWins(t *testing.T) {
	svc, d := newEngine(t, allowAll{}, false)
	d.keys.seed(testKey, 24)

	const n = 50
	decisions := make([]Decision, n)
	errOut := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			email := fmt.Sprintf("user%d@x.com", i)
			decisions[i], errOut[i] = svc.Authorize(context.Background(), email, testKey, "1.2.3.4")
		}(i)
	}
	wg.Wait()
	for i, err := range errOut {
		require.NoError(t, err, "goroutine %d", i)
	}

	var activated, alreadyUsed int
	for _, dec := range decisions {
		switch dec.Reason {
		case ReasonKeyActivated:
			activated++
		case ReasonKeyUsed:
			alreadyUsed++
		}
	}
	require.Equal(t, 1, activated, "exactly one concurrent redemption may win")
	require.Equal(t, n-1, alreadyUsed)
}

func TestAuthorize_StoreFailureIsTransient(t *testing.T) {
	svc, d := newEngine(t, allowAll{}, false)
	d.sessions.getErr = errors.New("connection refused")

	_, err := svc.Authorize(context.Background(), "a@x.com", "", "1.2.3.4")
	require.ErrorIs(t, err, errs.ErrUnavailable)
	require.NotContains(t, err.Error(), "connection refused")

	d.sessions.getErr = nil
	d.keys.redeemErr = errors.New("tx aborted")
	_, err = svc.Authorize(context.Background(), "a@x.com", testKey, "1.2.3.4")
	require.ErrorIs(t, err, errs.ErrUnavailable)
}

func TestAuthorize_AuditFailureDoesNotFailRequest(t *testing.T) {
	svc, d := newEngine(t, allowAll{}, false)
	d.audit.err = errors.New("audit table gone")
	d.keys.seed(testKey, 24)

	dec, err := svc.Authorize(context.Background(), "a@x.com", testKey, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, dec.Granted)
}
