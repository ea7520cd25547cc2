package authcore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/store/memory"
)

func TestLoginIssuesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.seedUser(t, "alice@example.com", true)

	result, err := env.engine.Login(context.Background(), "  Alice@Example.com ", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.RequiresTwoFactor || result.TempToken != "" {
		t.Fatalf("unexpected challenge: %+v", result)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("expected access and refresh tokens")
	}
	if result.User == nil || result.User.ID != user.ID || result.User.Email != "alice@example.com" {
		t.Fatalf("unexpected session user: %+v", result.User)
	}
	if result.User.LastLogin == nil || !result.User.LastLogin.Equal(testEpoch) {
		t.Fatalf("expected lastLogin %v, got %v", testEpoch, result.User.LastLogin)
	}
	if n := env.store.RefreshTokenCount(user.ID); n != 1 {
		t.Fatalf("expected one refresh record, got %d", n)
	}
	if got := env.counter(authcore.MetricLoginSuccess); got != 1 {
		t.Fatalf("expected login success counter 1, got %d", got)
	}
}

func TestLoginUnknownEmailAndWrongPasswordLookAlike(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "alice@example.com", true)

	_, errUnknown := env.engine.Login(context.Background(), "nobody@example.com", testPassword)
	_, errWrong := env.engine.Login(context.Background(), "alice@example.com", "wrong-password-123")

	if !errors.Is(errUnknown, authcore.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", errUnknown)
	}
	if !errors.Is(errWrong, authcore.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("errors differ: %q vs %q", errUnknown, errWrong)
	}
}

func TestLoginLocksOnMaxAttempt(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.seedUser(t, "alice@example.com", true)

	for i := 1; i < env.cfg.Lockout.MaxAttempts; i++ {
		_, err := env.engine.Login(context.Background(), user.Email, "wrong-password-123")
		if !errors.Is(err, authcore.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
		if got := env.user(t, user.ID).LoginAttempts; got != i {
			t.Fatalf("attempt %d: expected %d recorded attempts, got %d", i, i, got)
		}
	}

	_, err := env.engine.Login(context.Background(), user.Email, "wrong-password-123")
	var locked *authcore.LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected *LockedError on attempt %d, got %v", env.cfg.Lockout.MaxAttempts, err)
	}
	if !errors.Is(err, authcore.ErrAccountLocked) {
		t.Fatal("expected LockedError to match ErrAccountLocked")
	}
	if locked.Remaining != env.cfg.Lockout.Duration {
		t.Fatalf("expected remaining %v, got %v", env.cfg.Lockout.Duration, locked.Remaining)
	}

	stored := env.user(t, user.ID)
	if stored.LockedUntil == nil || !stored.LockedUntil.Equal(testEpoch.Add(env.cfg.Lockout.Duration)) {
		t.Fatalf("unexpected lockedUntil %v", stored.LockedUntil)
	}
	if got := env.counter(authcore.MetricAccountLocked); got != 1 {
		t.Fatalf("expected account locked counter 1, got %d", got)
	}
}

func TestLockedAccountRejectsCorrectPasswordUntilExpiry(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.seedUser(t, "alice@example.com", true)

	for i := 0; i < env.cfg.Lockout.MaxAttempts; i++ {
		_, _ = env.engine.Login(context.Background(), user.Email, "wrong-password-123")
	}

	env.clock.Advance(90 * time.Second)
	_, err := env.engine.Login(context.Background(), user.Email, testPassword)
	var locked *authcore.LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected *LockedError for correct password during lock, got %v", err)
	}
	// 13m30s remaining rounds up to 14 minutes.
	if locked.Minutes() != 14 {
		t.Fatalf("expected 14 minutes remaining, got %d", locked.Minutes())
	}

	env.clock.Advance(env.cfg.Lockout.Duration)
	result, err := env.engine.Login(context.Background(), user.Email, testPassword)
	if err != nil {
		t.Fatalf("Login after lock expiry failed: %v", err)
	}
	if result.AccessToken == "" {
		t.Fatal("expected session after lock expiry")
	}

	stored := env.user(t, user.ID)
	if stored.LoginAttempts != 0 || stored.LockedUntil != nil {
		t.Fatalf("expected lockout state reset, got attempts=%d lockedUntil=%v", stored.LoginAttempts, stored.LockedUntil)
	}
}

func TestLockCheckSkipsPasswordComparison(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.seedUser(t, "alice@example.com", true)

	until := testEpoch.Add(10 * time.Minute)
	if _, err := env.store.UpdateUser(context.Background(), user.ID, func(u *authcore.UserRecord) error {
		u.PasswordHash = "not-a-bcrypt-hash"
		u.LockedUntil = &until
		return nil
	}); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	// A corrupt hash would surface ErrCorruptCredential if it were consulted.
	if _, err := env.engine.Login(context.Background(), user.Email, testPassword); !errors.Is(err, authcore.ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

func TestLoginUnverifiedEmailAfterCorrectPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.seedUser(t, "alice@example.com", false)

	if _, err := env.engine.Login(context.Background(), user.Email, "wrong-password-123"); !errors.Is(err, authcore.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := env.engine.Login(context.Background(), user.Email, testPassword); !errors.Is(err, authcore.ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
	if got := env.user(t, user.ID).LoginAttempts; got != 0 {
		t.Fatalf("expected attempts reset by correct password, got %d", got)
	}
	if n := env.store.RefreshTokenCount(user.ID); n != 0 {
		t.Fatalf("expected no refresh records, got %d", n)
	}
}

func TestConcurrentWrongPasswordsAreAllCounted(t *testing.T) {
	env := newTestEnv(t, func(cfg *authcore.Config) {
		cfg.Lockout.MaxAttempts = 50
	})
	user := env.seedUser(t, "alice@example.com", true)

	const n = 12
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := env.engine.Login(context.Background(), user.Email, "wrong-password-123")
			if !errors.Is(err, authcore.ErrInvalidCredentials) {
				t.Errorf("expected ErrInvalidCredentials, got %v", err)
			}
		}()
	}
	wg.Wait()

	if got := env.user(t, user.ID).LoginAttempts; got != n {
		t.Fatalf("expected %d attempts, got %d", n, got)
	}
}

func TestConcurrentWrongPasswordsLockExactlyOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.seedUser(t, "alice@example.com", true)

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := env.engine.Login(context.Background(), user.Email, "wrong-password-123")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	invalid := 0
	for err := range results {
		if errors.Is(err, authcore.ErrInvalidCredentials) {
			invalid++
			continue
		}
		if !errors.Is(err, authcore.ErrAccountLocked) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// Only attempts that read a count below the cap can answer InvalidCredentials.
	if invalid > env.cfg.Lockout.MaxAttempts-1 {
		t.Fatalf("expected at most %d invalid-credential results, got %d", env.cfg.Lockout.MaxAttempts-1, invalid)
	}
	if env.user(t, user.ID).LockedUntil == nil {
		t.Fatal("expected account to be locked")
	}
}

func TestUnlockAccountClearsLock(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.seedUser(t, "alice@example.com", true)

	for i := 0; i < env.cfg.Lockout.MaxAttempts; i++ {
		_, _ = env.engine.Login(context.Background(), user.Email, "wrong-password-123")
	}
	if err := env.engine.UnlockAccount(context.Background(), user.ID); err != nil {
		t.Fatalf("UnlockAccount failed: %v", err)
	}
	if _, err := env.engine.Login(context.Background(), user.Email, testPassword); err != nil {
		t.Fatalf("Login after unlock failed: %v", err)
	}
	if err := env.engine.UnlockAccount(context.Background(), "missing"); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestLoginLatencyHistogram(t *testing.T) {
	env := newTestEnv(t, func(cfg *authcore.Config) {
		cfg.Metrics.EnableLatencyHistograms = true
	})
	env.seedUser(t, "alice@example.com", true)

	if _, err := env.engine.Login(context.Background(), "alice@example.com", testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	buckets := env.engine.MetricsSnapshot().Histograms[authcore.MetricLoginLatency]
	var total uint64
	for _, v := range buckets {
		total += v
	}
	if total != 1 {
		t.Fatalf("expected one latency sample, got %d", total)
	}
}

func TestLoginUpgradesWeakerHash(t *testing.T) {
	env := newTestEnv(t, func(cfg *authcore.Config) {
		cfg.Password.Cost = password.MinCost + 1
	})
	user := env.seedUser(t, "alice@example.com", true)

	if _, err := env.engine.Login(context.Background(), user.Email, testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(env.user(t, user.ID).PasswordHash))
	if err != nil {
		t.Fatalf("bcrypt.Cost failed: %v", err)
	}
	if cost != password.MinCost+1 {
		t.Fatalf("expected hash upgraded to cost %d, got %d", password.MinCost+1, cost)
	}
	if _, err := env.engine.Login(context.Background(), user.Email, testPassword); err != nil {
		t.Fatalf("Login with upgraded hash failed: %v", err)
	}
}

// lockBeforeUpdateStore applies a lock of its own just before the first
// UpdateUser, as a concurrent request finishing first would.
type lockBeforeUpdateStore struct {
	*memory.Store
	lockedUntil time.Time
	once        sync.Once
}

func (s *lockBeforeUpdateStore) UpdateUser(ctx context.Context, userID string, fn func(*authcore.UserRecord) error) (authcore.UserRecord, error) {
	var err error
	s.once.Do(func() {
		_, err = s.Store.UpdateUser(ctx, userID, func(u *authcore.UserRecord) error {
			u.LoginAttempts = 3
			until := s.lockedUntil
			u.LockedUntil = &until
			return nil
		})
	})
	if err != nil {
		return authcore.UserRecord{}, err
	}
	return s.Store.UpdateUser(ctx, userID, fn)
}

func TestWrongPasswordDoesNotExtendConcurrentLock(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.seedUser(t, "alice@example.com", true)

	lockedUntil := env.clock.Now().Add(5 * time.Minute)
	store := &lockBeforeUpdateStore{Store: env.store, lockedUntil: lockedUntil}
	engine, err := authcore.New().
		WithConfig(env.cfg).
		WithStore(store).
		WithRedis(env.rdb).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	_, err = engine.Login(context.Background(), user.Email, "wrong-password-123")
	var locked *authcore.LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected *LockedError, got %v", err)
	}
	if locked.Minutes() != 5 {
		t.Fatalf("expected 5 remaining minutes, got %d", locked.Minutes())
	}

	stored := env.user(t, user.ID)
	if stored.LoginAttempts != 3 {
		t.Fatalf("expected attempts left at 3, got %d", stored.LoginAttempts)
	}
	if stored.LockedUntil == nil || !stored.LockedUntil.Equal(lockedUntil) {
		t.Fatalf("expected lock kept at %v, got %v", lockedUntil, stored.LockedUntil)
	}
	if got := engine.MetricsSnapshot().Counters[authcore.MetricLoginLocked]; got != 1 {
		t.Fatalf("expected login locked counter 1, got %d", got)
	}
}
