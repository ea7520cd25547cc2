package authcore

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/stores"
)

type secondFactor uint8

const (
	factorTOTP secondFactor = iota
	factorBackupCode
)

func (f secondFactor) String() string {
	if f == factorBackupCode {
		return "backup_code"
	}
	return "totp"
}

// beginTwoFactorChallenge stores a single-use ticket for a password-verified
// login. Only the ticket's digest is used as the Redis key.
func (e *Engine) beginTwoFactorChallenge(ctx context.Context, user UserRecord) (*LoginResult, error) {
	if e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	tempToken, err := internal.NewHexToken(internal.TempTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate challenge ticket: %w", err)
	}

	ttl := e.config.Challenge.TTL
	record := &stores.Challenge{
		UserID:    user.ID,
		ExpiresAt: e.now().Add(ttl).Unix(),
	}
	if err := e.challenges.Save(ctx, internal.HashToken(tempToken), record, ttl); err != nil {
		e.logger.ErrorContext(ctx, "challenge ticket not stored", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricTwoFactorRequired)
	e.emitAudit(ctx, auditEventMFARequired, true, user.ID, user.Email, nil, nil)
	return &LoginResult{
		RequiresTwoFactor: true,
		TempToken:         tempToken,
		UserID:            user.ID,
	}, nil
}

// CompleteTwoFactorLogin finishes a login that returned RequiresTwoFactor.
//
// The ticket must exist, be unexpired, and belong to userID, otherwise
// ErrInvalidChallenge. A code that is not six digits fails with
// ErrInvalidCodeFormat and does not count against the ticket. A wrong code
// fails with ErrInvalidCode; after Config.Challenge.MaxAttempts wrong codes
// the ticket is deleted. On success the ticket is consumed exactly once and a
// full session is issued.
func (e *Engine) CompleteTwoFactorLogin(ctx context.Context, tempToken, userID, code string) (*LoginResult, error) {
	return e.completeTwoFactorLogin(ctx, tempToken, userID, code, factorTOTP)
}

// CompleteTwoFactorLoginWithBackupCode finishes a challenged login with one of
// the account's backup codes. Each code is accepted once.
func (e *Engine) CompleteTwoFactorLoginWithBackupCode(ctx context.Context, tempToken, userID, backupCode string) (*LoginResult, error) {
	return e.completeTwoFactorLogin(ctx, tempToken, userID, backupCode, factorBackupCode)
}

func (e *Engine) completeTwoFactorLogin(ctx context.Context, tempToken, userID, code string, factor secondFactor) (*LoginResult, error) {
	if e == nil || e.store == nil || e.challenges == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if tempToken == "" || userID == "" {
		return nil, ErrInvalidChallenge
	}

	key := internal.HashToken(tempToken)
	ticket, err := e.loadChallenge(ctx, key)
	if err != nil {
		e.emitAudit(ctx, auditEventMFAFailure, false, userID, "", err, nil)
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(ticket.UserID), []byte(userID)) != 1 {
		e.emitAudit(ctx, auditEventMFAFailure, false, userID, "", ErrInvalidChallenge, nil)
		return nil, ErrInvalidChallenge
	}

	switch factor {
	case factorBackupCode:
		if !validBackupCodeFormat(code) {
			return nil, ErrInvalidCodeFormat
		}
	default:
		if !validCodeFormat(code) {
			return nil, ErrInvalidCodeFormat
		}
	}

	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_, _ = e.challenges.Consume(ctx, key)
			return nil, ErrInvalidChallenge
		}
		return nil, err
	}
	if !user.TwoFactorEnabled {
		_, _ = e.challenges.Consume(ctx, key)
		return nil, ErrInvalidChallenge
	}

	// Read-only check first so a wrong code never touches the user record.
	var counter int64
	switch factor {
	case factorBackupCode:
		if matchBackupCode(&user, code) < 0 {
			return nil, e.failChallenge(ctx, key, user, factor)
		}
	default:
		counter, err = e.checkTOTP(&user, code)
		if errors.Is(err, ErrInvalidCode) {
			return nil, e.failChallenge(ctx, key, user, factor)
		}
		if err != nil {
			return nil, err
		}
	}

	consumed, err := e.challenges.Consume(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
	if !consumed {
		return nil, ErrInvalidChallenge
	}

	now := e.now()
	updated, err := e.store.UpdateUser(ctx, userID, func(u *UserRecord) error {
		switch factor {
		case factorBackupCode:
			if !consumeBackupCode(u, code) {
				return ErrInvalidCode
			}
		default:
			if e.config.TOTP.EnforceReplayProtection && counter <= u.LastTOTPCounter {
				e.metricInc(MetricTOTPReplay)
				return ErrInvalidCode
			}
			e.advanceTOTPCounter(u, counter)
		}
		at := now
		u.LastLogin = &at
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			e.recordSecondFactorFailure(ctx, user, factor, err)
		}
		return nil, err
	}

	result, err := e.issueSession(ctx, updated)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricTwoFactorSuccess)
	if factor == factorBackupCode {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, updated.ID, updated.Email, nil, func() map[string]string {
			return map[string]string{"remaining": fmt.Sprint(len(updated.BackupCodes))}
		})
	}
	e.emitAudit(ctx, auditEventMFASuccess, true, updated.ID, updated.Email, nil, func() map[string]string {
		return map[string]string{"factor": factor.String()}
	})
	return result, nil
}

func (e *Engine) loadChallenge(ctx context.Context, key string) (*stores.Challenge, error) {
	ticket, err := e.challenges.Get(ctx, key)
	switch {
	case err == nil:
		return ticket, nil
	case errors.Is(err, stores.ErrChallengeBackend):
		e.logger.ErrorContext(ctx, "challenge ticket lookup failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	default:
		// Not found, expired, or an undecodable record.
		return nil, ErrInvalidChallenge
	}
}

// failChallenge counts a wrong code against the ticket.
func (e *Engine) failChallenge(ctx context.Context, key string, user UserRecord, factor secondFactor) error {
	e.recordSecondFactorFailure(ctx, user, factor, ErrInvalidCode)

	exceeded, err := e.challenges.RecordFailure(ctx, key, e.config.Challenge.MaxAttempts)
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeExpired):
		return ErrInvalidChallenge
	default:
		e.logger.ErrorContext(ctx, "challenge failure not recorded", "user_id", user.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}

	if exceeded {
		e.metricInc(MetricChallengeExhausted)
		e.emitAudit(ctx, auditEventMFAAttemptsExceeded, false, user.ID, user.Email, ErrInvalidCode, nil)
	}
	return ErrInvalidCode
}

func (e *Engine) recordSecondFactorFailure(ctx context.Context, user UserRecord, factor secondFactor, err error) {
	e.metricInc(MetricTwoFactorFailure)
	if factor == factorBackupCode {
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditEventBackupCodeFailed, false, user.ID, user.Email, err, nil)
		return
	}
	e.emitAudit(ctx, auditEventMFAFailure, false, user.ID, user.Email, err, nil)
}
