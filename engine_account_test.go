package authcore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/authcore"
)

const newPassword = "another-password-456"

func TestGetProfile(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.seedUser(t, "alice@example.com", true)
	env.login(t, user.Email)

	profile, err := env.engine.GetProfile(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if profile.ID != user.ID || profile.Email != user.Email || profile.Name != "Alice" {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if !profile.IsEmailVerified || profile.TwoFactorEnabled {
		t.Fatalf("unexpected flags %+v", profile)
	}
	if !profile.CreatedAt.Equal(user.CreatedAt) {
		t.Fatalf("expected created at %v, got %v", user.CreatedAt, profile.CreatedAt)
	}
	if profile.LastLogin == nil || !profile.LastLogin.Equal(env.clock.Now()) {
		t.Fatalf("expected last login %v, got %v", env.clock.Now(), profile.LastLogin)
	}

	if _, err := env.engine.GetProfile(context.Background(), "missing"); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestChangePasswordWrongCurrentPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.seedUser(t, "alice@example.com", true)
	env.login(t, user.Email)

	err := env.engine.ChangePassword(context.Background(), user.ID, "wrong-password-123", newPassword)
	if !errors.Is(err, authcore.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	stored := env.user(t, user.ID)
	if stored.PasswordHash != user.PasswordHash {
		t.Fatal("expected password hash unchanged")
	}
	if stored.LoginAttempts != 0 {
		t.Fatalf("expected lockout counter untouched, got %d", stored.LoginAttempts)
	}
	if n := env.store.RefreshTokenCount(user.ID); n != 1 {
		t.Fatalf("expected refresh token kept, got %d", n)
	}
	if got := env.counter(authcore.MetricPasswordChangeFailure); got != 1 {
		t.Fatalf("expected password change failure counter 1, got %d", got)
	}
}

func TestChangePasswordRejectsShortPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.seedUser(t, "alice@example.com", true)

	err := env.engine.ChangePassword(context.Background(), user.ID, testPassword, "short")
	if !errors.Is(err, authcore.ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if env.user(t, user.ID).PasswordHash != user.PasswordHash {
		t.Fatal("expected password hash unchanged")
	}
}

func TestChangePasswordRevokesRefreshTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.seedUser(t, "alice@example.com", true)
	first := env.login(t, user.Email)
	env.login(t, user.Email)
	if n := env.store.RefreshTokenCount(user.ID); n != 2 {
		t.Fatalf("expected 2 refresh tokens, got %d", n)
	}

	if err := env.engine.ChangePassword(context.Background(), user.ID, testPassword, newPassword); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if n := env.store.RefreshTokenCount(user.ID); n != 0 {
		t.Fatalf("expected refresh tokens revoked, got %d", n)
	}
	if _, err := env.engine.Refresh(context.Background(), first.RefreshToken); !errors.Is(err, authcore.ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
	if _, err := env.engine.Login(context.Background(), user.Email, testPassword); !errors.Is(err, authcore.ErrInvalidCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := env.engine.Login(context.Background(), user.Email, newPassword); err != nil {
		t.Fatalf("expected login with new password, got %v", err)
	}
	if got := env.counter(authcore.MetricPasswordChanged); got != 1 {
		t.Fatalf("expected password changed counter 1, got %d", got)
	}
}

func TestDeleteAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.seedUser(t, "alice@example.com", true)
	session := env.login(t, user.Email)

	if err := env.engine.DeleteAccount(context.Background(), user.ID, "wrong-password-123"); !errors.Is(err, authcore.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	env.user(t, user.ID)

	if err := env.engine.DeleteAccount(context.Background(), user.ID, testPassword); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}

	if _, err := env.store.GetUserByID(context.Background(), user.ID); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("expected user removed, got %v", err)
	}
	if _, err := env.engine.Refresh(context.Background(), session.RefreshToken); !errors.Is(err, authcore.ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
	if _, err := env.engine.Login(context.Background(), user.Email, testPassword); !errors.Is(err, authcore.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials after deletion, got %v", err)
	}
	if err := env.engine.DeleteAccount(context.Background(), user.ID, testPassword); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if got := env.counter(authcore.MetricAccountDeleted); got != 1 {
		t.Fatalf("expected account deleted counter 1, got %d", got)
	}
}

func TestDeleteAccountInvalidatesPendingChallenge(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.seedUser(t, "alice@example.com", true)
	secret, _ := env.enableTwoFactor(t, user.ID)
	challenge := env.loginChallenge(t, user.Email)

	if err := env.engine.DeleteAccount(context.Background(), user.ID, testPassword); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}
	_, err := env.engine.CompleteTwoFactorLogin(context.Background(), challenge.TempToken, user.ID, codeAt(t, secret, env.clock.Now()))
	if !errors.Is(err, authcore.ErrInvalidChallenge) {
		t.Fatalf("expected ErrInvalidChallenge, got %v", err)
	}
}
