package authcore

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// GetProfile returns the public view of an account.
func (e *Engine) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Profile{
		ID:               user.ID,
		Email:            user.Email,
		Name:             user.Name,
		IsEmailVerified:  user.IsEmailVerified,
		TwoFactorEnabled: user.TwoFactorEnabled,
		CreatedAt:        user.CreatedAt,
		LastLogin:        cloneTime(user.LastLogin),
	}, nil
}

// ChangePassword replaces the password after re-checking the current one and
// revokes every refresh token of the account. Access tokens already issued
// stay valid until they expire.
//
// A wrong current password yields ErrInvalidCredentials and is not counted by
// the lockout policy. A new password shorter than Password.MinLength yields
// ErrWeakPassword.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if e == nil || e.store == nil || e.credentials == nil {
		return ErrEngineNotReady
	}

	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.confirmPassword(ctx, user, currentPassword, auditEventPasswordChangeFailure); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		return err
	}
	if utf8.RuneCountInString(newPassword) < e.config.Password.MinLength {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, user.ID, user.Email, ErrWeakPassword, nil)
		return ErrWeakPassword
	}

	hash, err := e.credentials.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = e.store.UpdateUser(ctx, userID, func(u *UserRecord) error {
		// Another change won the race; the current password no longer holds.
		if u.PasswordHash != user.PasswordHash {
			return ErrInvalidCredentials
		}
		u.PasswordHash = hash
		return nil
	})
	if err != nil {
		return err
	}

	revoked, err := e.store.DeleteUserRefreshTokens(ctx, userID)
	if err != nil {
		return err
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChanged, true, user.ID, user.Email, nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(revoked)}
	})
	return nil
}

// DeleteAccount removes the account and its refresh tokens after re-checking
// the password. Pending challenge tickets fail once the user is gone.
func (e *Engine) DeleteAccount(ctx context.Context, userID, password string) error {
	if e == nil || e.store == nil || e.credentials == nil {
		return ErrEngineNotReady
	}

	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.confirmPassword(ctx, user, password, auditEventAccountDeleted); err != nil {
		return err
	}
	if err := e.store.DeleteUser(ctx, userID); err != nil {
		return err
	}

	e.metricInc(MetricAccountDeleted)
	e.emitAudit(ctx, auditEventAccountDeleted, true, user.ID, user.Email, nil, nil)
	return nil
}

// confirmPassword re-verifies the password of a signed-in user. A mismatch is
// audited under eventType and returned as ErrInvalidCredentials.
func (e *Engine) confirmPassword(ctx context.Context, user UserRecord, password, eventType string) error {
	ok, err := e.credentials.Verify(password, user.PasswordHash)
	if err != nil {
		e.logger.ErrorContext(ctx, "stored credential cannot be verified", "user_id", user.ID, "error", err)
		return err
	}
	if !ok {
		e.emitAudit(ctx, eventType, false, user.ID, user.Email, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	return nil
}
