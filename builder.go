package authcore

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
)

// Builder assembles an Engine. A Builder is single-use: Build may succeed at
// most once.
type Builder struct {
	config      Config
	store       Store
	redis       redis.UniversalClient
	mailer      Mailer
	logger      *slog.Logger
	auditSink   AuditSink
	credentials CredentialValidator
	now         func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the durable user and refresh-token store. Required.
func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

// WithRedis sets the client holding two-factor challenge tickets and rate
// limit counters. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMailer sets the verification and backup-code mail collaborator. Without
// one, mail is skipped with a warning log.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithLogger sets the structured logger. The default discards output.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the destination for audit events. It only takes effect
// when Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithCredentialValidator overrides the bcrypt validator built from
// Config.Password.
func (b *Builder) WithCredentialValidator(v CredentialValidator) *Builder {
	b.credentials = v
	return b
}

// WithClock overrides the time source for lockout, tokens, and challenges.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the login latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	credentials := b.credentials
	if credentials == nil {
		hasher, err := password.NewBcrypt(password.Config{Cost: cfg.Password.Cost})
		if err != nil {
			return nil, err
		}
		credentials = hasher
	}

	jwtCfg := jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		GracePeriod:   cfg.JWT.GracePeriod,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	}
	if jwtCfg.SigningMethod == jwt.MethodEd25519 {
		jwtCfg.PrivateKey = []byte(cfg.JWT.PrivateKey)
		jwtCfg.PublicKey = []byte(cfg.JWT.PublicKey)
	} else {
		jwtCfg.PrivateKey = []byte(cfg.JWT.Secret)
	}
	jm, err := jwt.NewManager(jwtCfg)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:      cfg,
		store:       b.store,
		challenges:  stores.NewChallengeStore(b.redis, cfg.Challenge.RedisPrefix, now),
		mailer:      b.mailer,
		logger:      logger.With("component", "authcore"),
		credentials: credentials,
		jwtManager:  jm,
		totp:        newTOTPManager(cfg.AppName, cfg.TOTP),
		lockout:     LockoutPolicy{MaxAttempts: cfg.Lockout.MaxAttempts, Duration: cfg.Lockout.Duration},
		metrics:     NewMetrics(cfg.Metrics),
		now:         now,
	}
	if cfg.RateLimit.Enabled {
		engine.limiter = rate.New(b.redis, rate.Config{
			Prefix:             cfg.RateLimit.RedisPrefix,
			EnableIPThrottle:   cfg.RateLimit.EnableIPThrottle,
			MaxLoginAttempts:   cfg.RateLimit.MaxLoginAttempts,
			LoginWindow:        cfg.RateLimit.LoginWindow,
			MaxRefreshAttempts: cfg.RateLimit.MaxRefreshAttempts,
			RefreshWindow:      cfg.RateLimit.RefreshWindow,
		})
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true
	return engine, nil
}
