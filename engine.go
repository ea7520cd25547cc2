package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
)

// Engine orchestrates login, second-factor challenges, token issuance, and
// email verification over a Store.
//
// Engine holds no per-user state of its own; every method is safe for
// concurrent use once built through [Builder.Build].
type Engine struct {
	config      Config
	store       Store
	challenges  *stores.ChallengeStore
	limiter     *rate.Limiter
	mailer      Mailer
	logger      *slog.Logger
	audit       *audit.Dispatcher
	metrics     *Metrics
	credentials CredentialValidator
	totp        *totpManager
	jwtManager  *jwt.Manager
	lockout     LockoutPolicy
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped by a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login checks email and password.
//
// An unknown email and a wrong password both yield ErrInvalidCredentials. A
// locked account yields a *LockedError before the password is compared; the
// wrong password that reaches the attempt cap is itself answered with
// *LockedError. Correct credentials on an unverified account yield
// ErrEmailNotVerified. When two-factor authentication is enabled the result
// carries a challenge ticket instead of tokens.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if e == nil || e.store == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()
	}

	email = normalizeEmail(email)
	if err := e.checkLoginRate(ctx, email); err != nil {
		return nil, err
	}

	user, err := e.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.burnCredentialCheck(password)
			e.recordLoginRateFailure(ctx, email)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", email, ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := e.now()
	if err := e.lockout.Check(&user, now); err != nil {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginLocked, false, user.ID, email, err, nil)
		return nil, err
	}

	ok, err := e.credentials.Verify(password, user.PasswordHash)
	if err != nil {
		e.logger.ErrorContext(ctx, "stored credential cannot be verified", "user_id", user.ID, "error", err)
		return nil, err
	}

	if !ok {
		var outcome error
		_, err := e.store.UpdateUser(ctx, user.ID, func(u *UserRecord) error {
			// A lock applied while bcrypt ran is reported as is, not extended.
			if err := e.lockout.Check(u, now); err != nil {
				return err
			}
			outcome = e.lockout.RecordMismatch(u, now)
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrAccountLocked) {
				e.metricInc(MetricLoginLocked)
				e.emitAudit(ctx, auditEventLoginLocked, false, user.ID, email, err, nil)
			}
			return nil, err
		}
		e.recordLoginRateFailure(ctx, email)
		if errors.Is(outcome, ErrAccountLocked) {
			e.metricInc(MetricAccountLocked)
			e.emitAudit(ctx, auditEventAccountLocked, false, user.ID, email, outcome, nil)
			e.logger.WarnContext(ctx, "account locked after repeated failures", "user_id", user.ID)
		} else {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, email, outcome, nil)
		}
		return nil, outcome
	}

	upgraded := e.upgradedHash(ctx, user, password)
	updated, err := e.store.UpdateUser(ctx, user.ID, func(u *UserRecord) error {
		// A concurrent attempt may have locked the account while bcrypt ran.
		if err := e.lockout.Check(u, now); err != nil {
			return err
		}
		e.lockout.RecordMatch(u, now)
		if upgraded != "" && u.PasswordHash == user.PasswordHash {
			u.PasswordHash = upgraded
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAccountLocked) {
			e.metricInc(MetricLoginLocked)
			e.emitAudit(ctx, auditEventLoginLocked, false, user.ID, email, err, nil)
		}
		return nil, err
	}
	user = updated
	e.resetLoginRate(ctx, email)

	if !user.IsEmailVerified {
		e.metricInc(MetricLoginUnverified)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, email, ErrEmailNotVerified, nil)
		return nil, ErrEmailNotVerified
	}

	if user.TwoFactorEnabled {
		return e.beginTwoFactorChallenge(ctx, user)
	}

	result, err := e.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, email, nil, nil)
	return result, nil
}

// Refresh mints a new access token for a stored, unexpired refresh token. The
// claims come from the current user record, not from the refresh token.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if e == nil || e.store == nil || e.jwtManager == nil {
		return "", ErrEngineNotReady
	}
	if refreshToken == "" {
		e.metricInc(MetricRefreshFailure)
		return "", ErrInvalidRefreshToken
	}

	key := internal.HashToken(refreshToken)
	if err := e.checkRefreshRate(ctx, key); err != nil {
		return "", err
	}
	record, err := e.store.GetRefreshToken(ctx, key)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrInvalidRefreshToken, nil)
			return "", ErrInvalidRefreshToken
		}
		return "", err
	}

	if !e.now().Before(record.ExpiresAt) {
		if err := e.store.DeleteRefreshToken(ctx, key); err != nil {
			return "", err
		}
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, record.UserID, "", ErrRefreshTokenExpired, nil)
		return "", ErrRefreshTokenExpired
	}

	user, err := e.store.GetUserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = e.store.DeleteRefreshToken(ctx, key)
			e.metricInc(MetricRefreshFailure)
			return "", ErrInvalidRefreshToken
		}
		return "", err
	}

	access, err := e.jwtManager.IssueAccess(payloadFor(user))
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.ID, user.Email, nil, nil)
	return access, nil
}

// Logout deletes every refresh token of userID. Access tokens already issued
// stay valid until they expire.
func (e *Engine) Logout(ctx context.Context, userID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	n, err := e.store.DeleteUserRefreshTokens(ctx, userID)
	if err != nil {
		return err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(n)}
	})
	return nil
}

// UnlockAccount clears the failed-attempt counter and any active lock.
func (e *Engine) UnlockAccount(ctx context.Context, userID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	user, err := e.store.UpdateUser(ctx, userID, func(u *UserRecord) error {
		e.lockout.Unlock(u)
		return nil
	})
	if err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventAccountUnlocked, true, user.ID, user.Email, nil, nil)
	return nil
}

// issueSession mints the access and refresh pair and stores the refresh record.
func (e *Engine) issueSession(ctx context.Context, user UserRecord) (*LoginResult, error) {
	payload := payloadFor(user)
	access, err := e.jwtManager.IssueAccess(payload)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := e.jwtManager.IssueRefresh(payload)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	now := e.now()
	if err := e.store.SaveRefreshToken(ctx, RefreshTokenRecord{
		Token:     internal.HashToken(refresh),
		UserID:    user.ID,
		ExpiresAt: now.Add(e.jwtManager.RefreshTTL()),
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         sessionUser(user),
	}, nil
}

func payloadFor(user UserRecord) jwt.Payload {
	return jwt.Payload{
		UserID:          user.ID,
		Email:           user.Email,
		IsEmailVerified: user.IsEmailVerified,
		Has2FA:          user.TwoFactorEnabled,
	}
}

func sessionUser(user UserRecord) *SessionUser {
	return &SessionUser{
		ID:               user.ID,
		Email:            user.Email,
		Name:             user.Name,
		IsEmailVerified:  user.IsEmailVerified,
		TwoFactorEnabled: user.TwoFactorEnabled,
		LastLogin:        cloneTime(user.LastLogin),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && strings.Contains(email[at+1:], ".")
}

// credentialUpgrader is implemented by validators that can tell when a stored
// hash was produced with weaker parameters than the current ones.
type credentialUpgrader interface {
	NeedsUpgrade(encodedHash string) (bool, error)
}

// upgradedHash re-hashes a verified password when the stored hash is weaker
// than the configured cost. It returns "" when no upgrade applies.
func (e *Engine) upgradedHash(ctx context.Context, user UserRecord, password string) string {
	up, ok := e.credentials.(credentialUpgrader)
	if !ok {
		return ""
	}
	need, err := up.NeedsUpgrade(user.PasswordHash)
	if err != nil || !need {
		return ""
	}
	hash, err := e.credentials.Hash(password)
	if err != nil {
		e.logger.WarnContext(ctx, "password hash upgrade skipped", "user_id", user.ID, "error", err)
		return ""
	}
	return hash
}

// burnCredentialCheck spends one bcrypt comparison so an unknown email costs
// the same as a known one.
func (e *Engine) burnCredentialCheck(password string) {
	e.dummyOnce.Do(func() {
		hash, err := e.credentials.Hash("authcore-dummy-credential")
		if err == nil {
			e.dummyHash = hash
		}
	})
	if e.dummyHash != "" {
		_, _ = e.credentials.Verify(password, e.dummyHash)
	}
}

func (e *Engine) sendVerification(ctx context.Context, user UserRecord, token string) {
	if e.mailer == nil {
		e.logger.WarnContext(ctx, "no mailer configured, verification email skipped", "user_id", user.ID)
		return
	}
	if err := e.mailer.SendVerificationEmail(ctx, user.Email, user.Name, token); err != nil {
		e.metricInc(MetricMailFailure)
		e.logger.WarnContext(ctx, "verification email failed", "user_id", user.ID, "error", err)
	}
}

func (e *Engine) sendBackupCodes(ctx context.Context, email string, codes []string) {
	if e.mailer == nil {
		e.logger.WarnContext(ctx, "no mailer configured, backup codes email skipped")
		return
	}
	if err := e.mailer.SendBackupCodes(ctx, email, codes); err != nil {
		e.metricInc(MetricMailFailure)
		e.logger.WarnContext(ctx, "backup codes email failed", "error", err)
	}
}
