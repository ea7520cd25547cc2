package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MrEthical07/authcore/password"
)

// EnvPrefix is prepended to every variable read by LoadConfigFromEnv.
const EnvPrefix = "AUTHCORE_"

// Config defines every tunable of the Engine.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	// AppName is the TOTP issuer and provisioning label prefix.
	AppName           string                  `env:"APP_NAME"`
	JWT               JWTConfig               `envPrefix:"JWT_"`
	Password          PasswordConfig          `envPrefix:"PASSWORD_"`
	Lockout           LockoutConfig           `envPrefix:"LOCKOUT_"`
	TOTP              TOTPConfig              `envPrefix:"TOTP_"`
	Challenge         ChallengeConfig         `envPrefix:"CHALLENGE_"`
	RateLimit         RateLimitConfig         `envPrefix:"RATE_LIMIT_"`
	EmailVerification EmailVerificationConfig `envPrefix:"EMAIL_VERIFICATION_"`
	Audit             AuditConfig             `envPrefix:"AUDIT_"`
	Metrics           MetricsConfig           `envPrefix:"METRICS_"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access and refresh token signing.
//
// For "hs256" (default) Secret is the shared HMAC key and must be at least 32
// bytes. For "ed25519" PrivateKey and PublicKey hold PEM or raw keys.
type JWTConfig struct {
	AccessTTL     time.Duration `env:"ACCESS_TTL"`
	RefreshTTL    time.Duration `env:"REFRESH_TTL"`
	GracePeriod   time.Duration `env:"GRACE_PERIOD"`
	SigningMethod string        `env:"SIGNING_METHOD"`
	Secret        string        `env:"SECRET"`
	PrivateKey    string        `env:"PRIVATE_KEY"`
	PublicKey     string        `env:"PUBLIC_KEY"`
	Issuer        string        `env:"ISSUER"`
	Leeway        time.Duration `env:"LEEWAY"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig controls the credential hash and registration policy.
type PasswordConfig struct {
	Cost      int `env:"COST"`
	MinLength int `env:"MIN_LENGTH"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig defines the brute-force lockout policy.
type LockoutConfig struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS"`
	Duration    time.Duration `env:"DURATION"`
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig holds the configurable parts of second-factor enrollment. The
// algorithm, digits, period, and skew window are fixed protocol constants.
type TOTPConfig struct {
	// EnforceReplayProtection rejects a code whose time step is not newer than
	// the last accepted one.
	EnforceReplayProtection bool `env:"ENFORCE_REPLAY_PROTECTION"`
	QRCodeSize              int  `env:"QR_CODE_SIZE"`
}

// ChallengeConfig controls second-factor challenge tickets.
type ChallengeConfig struct {
	TTL         time.Duration `env:"TTL"`
	MaxAttempts int           `env:"MAX_ATTEMPTS"`
	RedisPrefix string        `env:"REDIS_PREFIX"`
}

// RateLimitConfig controls the Redis fixed-window throttle in front of Login
// and Refresh. Login budgets count failures only; refresh budgets count every
// attempt. MaxLoginAttempts should stay above Lockout.MaxAttempts so the
// account lock answers first for a single targeted account.
type RateLimitConfig struct {
	Enabled            bool          `env:"ENABLED"`
	EnableIPThrottle   bool          `env:"IP_THROTTLE"`
	MaxLoginAttempts   int           `env:"MAX_LOGIN_ATTEMPTS"`
	LoginWindow        time.Duration `env:"LOGIN_WINDOW"`
	MaxRefreshAttempts int           `env:"MAX_REFRESH_ATTEMPTS"`
	RefreshWindow      time.Duration `env:"REFRESH_WINDOW"`
	RedisPrefix        string        `env:"REDIS_PREFIX"`
}

// EmailVerificationConfig controls verification tokens issued at registration.
type EmailVerificationConfig struct {
	TokenTTL time.Duration `env:"TOKEN_TTL"`
}

/*
====================================
AUDIT & METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

// DefaultConfig returns the production defaults. JWT.Secret is empty and must
// be supplied.
func DefaultConfig() Config {
	return Config{
		AppName: "AuthApp",
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			GracePeriod:   24 * time.Hour,
			SigningMethod: "hs256",
			Leeway:        0,
		},
		Password: PasswordConfig{
			Cost:      password.DefaultCost,
			MinLength: 8,
		},
		Lockout: LockoutConfig{
			MaxAttempts: 5,
			Duration:    15 * time.Minute,
		},
		TOTP: TOTPConfig{
			EnforceReplayProtection: false,
			QRCodeSize:              256,
		},
		Challenge: ChallengeConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
			RedisPrefix: "acc",
		},
		RateLimit: RateLimitConfig{
			Enabled:            true,
			EnableIPThrottle:   true,
			MaxLoginAttempts:   20,
			LoginWindow:        15 * time.Minute,
			MaxRefreshAttempts: 30,
			RefreshWindow:      time.Minute,
			RedisPrefix:        "arl",
		},
		EmailVerification: EmailVerificationConfig{
			TokenTTL: 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

// LoadConfigFromEnv starts from DefaultConfig and overrides every field whose
// AUTHCORE_* variable is set, e.g. AUTHCORE_JWT_SECRET or
// AUTHCORE_LOCKOUT_MAX_ATTEMPTS. The result is validated.
func LoadConfigFromEnv() (Config, error) {
	return loadConfig(env.Options{Prefix: EnvPrefix})
}

func loadConfig(opts env.Options) (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AppName) == "" {
		return errors.New("AppName is required")
	}
	if strings.Contains(c.AppName, ":") {
		return errors.New("AppName must not contain ':'")
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be greater than AccessTTL")
	}
	if c.JWT.GracePeriod < 0 {
		return errors.New("JWT GracePeriod must be >= 0")
	}
	if c.JWT.GracePeriod >= c.JWT.RefreshTTL {
		return errors.New("JWT GracePeriod must be shorter than RefreshTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "", "hs256":
		if len(c.JWT.Secret) < 32 {
			return errors.New("JWT Secret must be at least 32 bytes for hs256")
		}
	case "ed25519":
		if c.JWT.PrivateKey == "" || c.JWT.PublicKey == "" {
			return errors.New("JWT PrivateKey and PublicKey are required for ed25519")
		}
	default:
		return errors.New("JWT SigningMethod must be hs256 or ed25519")
	}

	// Password
	if c.Password.Cost < password.MinCost || c.Password.Cost > password.MaxCost {
		return fmt.Errorf("Password Cost must be within [%d, %d]", password.MinCost, password.MaxCost)
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}

	// Lockout
	if c.Lockout.MaxAttempts <= 0 {
		return errors.New("Lockout MaxAttempts must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// TOTP & challenge
	if c.TOTP.QRCodeSize < 64 || c.TOTP.QRCodeSize > 1024 {
		return errors.New("TOTP QRCodeSize must be within [64, 1024]")
	}
	if c.Challenge.TTL <= 0 || c.Challenge.TTL > 15*time.Minute {
		return errors.New("Challenge TTL must be within (0, 15m]")
	}
	if c.Challenge.MaxAttempts <= 0 {
		return errors.New("Challenge MaxAttempts must be > 0")
	}

	// Rate limits
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts <= 0 || c.RateLimit.LoginWindow <= 0 {
			return errors.New("RateLimit login budget and window must be > 0")
		}
		if c.RateLimit.MaxRefreshAttempts <= 0 || c.RateLimit.RefreshWindow <= 0 {
			return errors.New("RateLimit refresh budget and window must be > 0")
		}
	}

	// Email verification
	if c.EmailVerification.TokenTTL <= 0 {
		return errors.New("EmailVerification TokenTTL must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	return nil
}
