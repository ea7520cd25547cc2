package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore/internal"
)

// Register creates an unverified account and mails its verification token.
//
// The email is trimmed and lower-cased before use. Mail failures are logged
// and do not fail registration; the user can ask for a new token with
// ResendVerification.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if e == nil || e.store == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	if !validEmail(email) {
		e.emitAudit(ctx, auditEventRegistration, false, "", email, ErrInvalidEmail, nil)
		return nil, ErrInvalidEmail
	}
	if utf8.RuneCountInString(req.Password) < e.config.Password.MinLength {
		e.emitAudit(ctx, auditEventRegistration, false, "", email, ErrWeakPassword, nil)
		return nil, ErrWeakPassword
	}

	switch _, err := e.store.GetUserByEmail(ctx, email); {
	case err == nil:
		e.emitAudit(ctx, auditEventRegistration, false, "", email, ErrUserExists, nil)
		return nil, ErrUserExists
	case !errors.Is(err, ErrUserNotFound):
		return nil, err
	}

	hash, err := e.credentials.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	token, err := internal.NewHexToken(internal.TempTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	now := e.now()
	expiry := now.Add(e.config.EmailVerification.TokenTTL)
	user := UserRecord{
		ID:                uuid.NewString(),
		Email:             email,
		Name:              strings.TrimSpace(req.Name),
		PasswordHash:      hash,
		EmailVerifyToken:  internal.HashToken(token),
		EmailVerifyExpiry: &expiry,
		CreatedAt:         now,
	}
	if err := e.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) {
			e.emitAudit(ctx, auditEventRegistration, false, "", email, err, nil)
		}
		return nil, err
	}

	e.sendVerification(ctx, user, token)
	e.metricInc(MetricRegistration)
	e.emitAudit(ctx, auditEventRegistration, true, user.ID, email, nil, nil)
	return &RegisterResult{UserID: user.ID}, nil
}

// VerifyEmail marks the account holding token as verified and clears the
// token, so a second call with the same token fails with ErrInvalidToken.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if token == "" {
		return ErrInvalidToken
	}

	digest := internal.HashToken(token)
	found, err := e.store.GetUserByVerifyToken(ctx, digest)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, auditEventEmailVerified, false, "", "", ErrInvalidToken, nil)
			return ErrInvalidToken
		}
		return err
	}

	now := e.now()
	user, err := e.store.UpdateUser(ctx, found.ID, func(u *UserRecord) error {
		if u.EmailVerifyToken != digest {
			return ErrInvalidToken
		}
		if u.EmailVerifyExpiry != nil && !now.Before(*u.EmailVerifyExpiry) {
			return ErrTokenExpired
		}
		u.IsEmailVerified = true
		u.EmailVerifyToken = ""
		u.EmailVerifyExpiry = nil
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventEmailVerified, false, found.ID, found.Email, err, nil)
		return err
	}

	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEventEmailVerified, true, user.ID, user.Email, nil, nil)
	return nil
}

// ResendVerification rotates the verification token of an unverified account
// and mails the new one. Earlier tokens stop working.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)
	found, err := e.store.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	token, err := internal.NewHexToken(internal.TempTokenBytes)
	if err != nil {
		return fmt.Errorf("generate verification token: %w", err)
	}
	expiry := e.now().Add(e.config.EmailVerification.TokenTTL)

	user, err := e.store.UpdateUser(ctx, found.ID, func(u *UserRecord) error {
		if u.IsEmailVerified {
			return ErrAlreadyVerified
		}
		u.EmailVerifyToken = internal.HashToken(token)
		at := expiry
		u.EmailVerifyExpiry = &at
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventEmailVerificationSent, false, found.ID, email, err, nil)
		return err
	}

	e.sendVerification(ctx, user, token)
	e.emitAudit(ctx, auditEventEmailVerificationSent, true, user.ID, email, nil, nil)
	return nil
}
