package authcore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/store/memory"
)

const (
	testPassword = "correct-password-123"
	testSecret   = "0123456789abcdef0123456789abcdef"
)

var testEpoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentVerification struct {
	To    string
	Name  string
	Token string
}

type fakeMailer struct {
	mu            sync.Mutex
	fail          bool
	verifications []sentVerification
	backupCodes   map[string][]string
}

func (m *fakeMailer) SendVerificationEmail(_ context.Context, to, name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp unavailable")
	}
	m.verifications = append(m.verifications, sentVerification{To: to, Name: name, Token: token})
	return nil
}

func (m *fakeMailer) SendBackupCodes(_ context.Context, to string, codes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp unavailable")
	}
	if m.backupCodes == nil {
		m.backupCodes = map[string][]string{}
	}
	m.backupCodes[to] = append([]string(nil), codes...)
	return nil
}

func (m *fakeMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.verifications) == 0 {
		t.Fatal("expected a verification email")
	}
	return m.verifications[len(m.verifications)-1].Token
}

type testEnv struct {
	engine *authcore.Engine
	store  *memory.Store
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	clock  *fakeClock
	mailer *fakeMailer
	cfg    authcore.Config
}

func testConfig() authcore.Config {
	cfg := authcore.DefaultConfig()
	cfg.AppName = "AuthCoreTest"
	cfg.JWT.Secret = testSecret
	cfg.JWT.Issuer = "authcore-test"
	cfg.Password.Cost = password.MinCost
	cfg.Lockout.MaxAttempts = 3
	cfg.Lockout.Duration = 15 * time.Minute
	cfg.Challenge.MaxAttempts = 3
	cfg.Metrics.Enabled = true
	// Throttling has its own tests; the rest count lockout attempts freely.
	cfg.RateLimit.Enabled = false
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*authcore.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	env := &testEnv{
		store:  memory.New(),
		mr:     mr,
		rdb:    rdb,
		clock:  newFakeClock(),
		mailer: &fakeMailer{},
		cfg:    cfg,
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithStore(env.store).
		WithRedis(rdb).
		WithMailer(env.mailer).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

// seedUser stores an account directly, bypassing registration.
func (env *testEnv) seedUser(t *testing.T, email string, verified bool) authcore.UserRecord {
	t.Helper()

	hasher, err := password.NewBcrypt(password.Config{Cost: password.MinCost})
	if err != nil {
		t.Fatalf("NewBcrypt failed: %v", err)
	}
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	user := authcore.UserRecord{
		ID:              uuid.NewString(),
		Email:           email,
		Name:            "Alice",
		PasswordHash:    hash,
		IsEmailVerified: verified,
		CreatedAt:       env.clock.Now(),
	}
	if err := env.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return user
}

func (env *testEnv) user(t *testing.T, userID string) authcore.UserRecord {
	t.Helper()
	u, err := env.store.GetUserByID(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	return u
}

// enableTwoFactor runs setup and confirmation and returns the secret and
// plaintext backup codes.
func (env *testEnv) enableTwoFactor(t *testing.T, userID string) (string, []string) {
	t.Helper()

	setup, err := env.engine.SetupTwoFactor(context.Background(), userID)
	if err != nil {
		t.Fatalf("SetupTwoFactor failed: %v", err)
	}
	if err := env.engine.ConfirmTwoFactor(context.Background(), userID, codeAt(t, setup.Secret, env.clock.Now())); err != nil {
		t.Fatalf("ConfirmTwoFactor failed: %v", err)
	}
	return setup.Secret, setup.BackupCodes
}

func (env *testEnv) counter(id authcore.MetricID) uint64 {
	return env.engine.MetricsSnapshot().Counters[id]
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}
	return code
}

// wrongCode returns a well-formed code that matches none of the accepted steps.
func wrongCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	valid := map[string]bool{}
	for step := -1; step <= 1; step++ {
		valid[codeAt(t, secret, at.Add(time.Duration(step)*30*time.Second))] = true
	}
	for _, candidate := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[candidate] {
			return candidate
		}
	}
	t.Fatal("no wrong code available")
	return ""
}
