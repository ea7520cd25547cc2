package authcore

import (
	"context"
	"errors"
	"fmt"
)

// SetupTwoFactor enrolls a fresh TOTP secret and eight backup codes for
// userID. The secret is stored but stays inactive until ConfirmTwoFactor
// accepts a code. The plaintext backup codes are returned and mailed; only
// their hashes are stored. Repeating setup before confirmation replaces the
// pending secret.
func (e *Engine) SetupTwoFactor(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	if e == nil || e.store == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	key, err := e.totp.GenerateKey(user.Email)
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}
	qr, err := e.totp.QRCode(key)
	if err != nil {
		return nil, fmt.Errorf("render totp qr code: %w", err)
	}
	codes, hashes, err := generateBackupCodes(BackupCodeCount)
	if err != nil {
		return nil, err
	}

	secret := key.Secret()
	user, err = e.store.UpdateUser(ctx, userID, func(u *UserRecord) error {
		if u.TwoFactorEnabled {
			return ErrTwoFactorAlreadyEnabled
		}
		u.TwoFactorSecret = secret
		u.BackupCodes = hashes
		u.LastTOTPCounter = 0
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.sendBackupCodes(ctx, user.Email, codes)
	e.metricInc(MetricTOTPSetup)
	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, user.ID, user.Email, nil, nil)

	return &TwoFactorSetup{
		ProvisioningURI: key.URL(),
		QRCode:          qr,
		Secret:          secret,
		ManualEntryKey:  manualEntryKey(secret),
		AppName:         e.config.AppName,
		BackupCodes:     codes,
	}, nil
}

// ConfirmTwoFactor activates a pending secret once the user proves possession
// with a valid code.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, userID, code string) error {
	if e == nil || e.store == nil || e.totp == nil {
		return ErrEngineNotReady
	}

	user, err := e.store.UpdateUser(ctx, userID, func(u *UserRecord) error {
		if u.TwoFactorSecret == "" {
			return ErrTwoFactorNotEnrolled
		}
		if !validCodeFormat(code) {
			return ErrInvalidCodeFormat
		}
		counter, err := e.checkTOTP(u, code)
		if err != nil {
			return err
		}
		e.advanceTOTPCounter(u, counter)
		u.TwoFactorEnabled = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			e.metricInc(MetricTwoFactorFailure)
		}
		e.emitAudit(ctx, auditEventTOTPFailure, false, userID, "", err, nil)
		return err
	}

	e.metricInc(MetricTOTPEnabled)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, user.ID, user.Email, nil, nil)
	return nil
}

// VerifyTwoFactor checks a code for an account with two-factor enabled, for
// step-up checks outside of login.
func (e *Engine) VerifyTwoFactor(ctx context.Context, userID, code string) error {
	if e == nil || e.store == nil || e.totp == nil {
		return ErrEngineNotReady
	}

	user, err := e.store.UpdateUser(ctx, userID, func(u *UserRecord) error {
		if !u.TwoFactorEnabled {
			return ErrTwoFactorNotEnabled
		}
		if !validCodeFormat(code) {
			return ErrInvalidCodeFormat
		}
		counter, err := e.checkTOTP(u, code)
		if err != nil {
			return err
		}
		e.advanceTOTPCounter(u, counter)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			e.metricInc(MetricTwoFactorFailure)
		}
		e.emitAudit(ctx, auditEventTOTPFailure, false, userID, "", err, nil)
		return err
	}

	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventTOTPSuccess, true, user.ID, user.Email, nil, nil)
	return nil
}

// DisableTwoFactor turns two-factor authentication off after re-checking the
// account password. The secret and all backup codes are removed.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, password string) error {
	if e == nil || e.store == nil || e.credentials == nil {
		return ErrEngineNotReady
	}

	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	ok, err := e.credentials.Verify(password, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, auditEventTOTPDisabled, false, user.ID, user.Email, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	_, err = e.store.UpdateUser(ctx, userID, func(u *UserRecord) error {
		u.TwoFactorEnabled = false
		u.TwoFactorSecret = ""
		u.BackupCodes = nil
		u.LastTOTPCounter = 0
		return nil
	})
	if err != nil {
		return err
	}

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, user.ID, user.Email, nil, nil)
	return nil
}

// checkTOTP verifies code against u's secret and returns the matched time
// step. With replay protection a step at or below LastTOTPCounter is rejected.
func (e *Engine) checkTOTP(u *UserRecord, code string) (int64, error) {
	ok, counter, err := e.totp.VerifyCode(u.TwoFactorSecret, code, e.now())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrInvalidCode
	}
	if e.config.TOTP.EnforceReplayProtection && counter <= u.LastTOTPCounter {
		e.metricInc(MetricTOTPReplay)
		return 0, ErrInvalidCode
	}
	return counter, nil
}

func (e *Engine) advanceTOTPCounter(u *UserRecord, counter int64) {
	if counter > u.LastTOTPCounter {
		u.LastTOTPCounter = counter
	}
}
