package authcore

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/internal"
)

// BackupCodeCount is the number of single-use recovery codes issued with each
// two-factor enrollment.
const BackupCodeCount = 8

// generateBackupCodes returns n plaintext codes and their storage hashes in
// the same order.
func generateBackupCodes(n int) ([]string, []string, error) {
	codes := make([]string, 0, n)
	hashes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, err := internal.NewBackupCode()
		if err != nil {
			return nil, nil, fmt.Errorf("generate backup code: %w", err)
		}
		codes = append(codes, code)
		hashes = append(hashes, hashBackupCode(code))
	}
	return codes, hashes, nil
}

func hashBackupCode(code string) string {
	return internal.HashToken(internal.NormalizeBackupCode(code))
}

// matchBackupCode returns the index of code in u.BackupCodes or -1. Every
// stored hash is compared.
func matchBackupCode(u *UserRecord, code string) int {
	candidate := []byte(hashBackupCode(code))
	found := -1
	for i, stored := range u.BackupCodes {
		if subtle.ConstantTimeCompare([]byte(stored), candidate) == 1 && found < 0 {
			found = i
		}
	}
	return found
}

// consumeBackupCode removes code from u and reports whether it was present.
func consumeBackupCode(u *UserRecord, code string) bool {
	idx := matchBackupCode(u, code)
	if idx < 0 {
		return false
	}
	remaining := make([]string, 0, len(u.BackupCodes)-1)
	remaining = append(remaining, u.BackupCodes[:idx]...)
	remaining = append(remaining, u.BackupCodes[idx+1:]...)
	u.BackupCodes = remaining
	return true
}

// BackupCodesRemaining returns how many unused backup codes userID holds.
func (e *Engine) BackupCodesRemaining(ctx context.Context, userID string) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !user.TwoFactorEnabled {
		return 0, ErrTwoFactorNotEnabled
	}
	return len(user.BackupCodes), nil
}

// RegenerateBackupCodes replaces every backup code of an enabled account after
// checking a current TOTP code. The new codes are returned and mailed.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if !validCodeFormat(code) {
		return nil, ErrInvalidCodeFormat
	}

	codes, hashes, err := generateBackupCodes(BackupCodeCount)
	if err != nil {
		return nil, err
	}

	user, err := e.store.UpdateUser(ctx, userID, func(u *UserRecord) error {
		if !u.TwoFactorEnabled {
			return ErrTwoFactorNotEnabled
		}
		counter, err := e.checkTOTP(u, code)
		if err != nil {
			return err
		}
		e.advanceTOTPCounter(u, counter)
		u.BackupCodes = hashes
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			e.metricInc(MetricTwoFactorFailure)
		}
		e.emitAudit(ctx, auditEventBackupCodesGenerated, false, userID, "", err, nil)
		return nil, err
	}

	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, userID, user.Email, nil, nil)
	e.sendBackupCodes(ctx, user.Email, codes)
	return codes, nil
}

func validBackupCodeFormat(code string) bool {
	normalized := internal.NormalizeBackupCode(code)
	if len(normalized) != 9 || normalized[4] != '-' {
		return false
	}
	for i := 0; i < len(normalized); i++ {
		c := normalized[i]
		if i == 4 {
			continue
		}
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
