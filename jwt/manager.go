package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm used to sign tokens.
type SigningMethod string

const (
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
)

// Token use markers carried in the "use" claim.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

const minHMACSecretBytes = 32

var (
	// ErrInvalid reports a token with a bad signature, algorithm, or structure.
	ErrInvalid = errors.New("invalid token")
	// ErrExpired reports an authentic token whose exp claim has passed.
	ErrExpired = errors.New("token expired")
	// ErrNotRenewable reports a token that is not eligible for grace renewal.
	ErrNotRenewable = errors.New("token not eligible for renewal")
)

// Config defines token lifetimes, keys, and validation settings.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	GracePeriod   time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Payload is the identity carried by both access and refresh tokens.
type Payload struct {
	UserID          string `json:"userId"`
	Email           string `json:"email"`
	IsEmailVerified bool   `json:"isEmailVerified"`
	Has2FA          bool   `json:"has2FA"`
}

// Claims is the signed claim set: the payload plus registered claims.
type Claims struct {
	Payload
	Use string `json:"use"`
	jwt.RegisteredClaims
}

// Manager issues and verifies signed, time-bounded tokens.
//
// Manager is stateless after construction; all methods are safe for unlimited concurrent use.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager describes the newmanager operation and its observable behavior.
//
// NewManager may return an error when input validation, dependency calls, or security checks fail.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return nil, errors.New("access TTL must be shorter than refresh TTL")
	}
	if cfg.GracePeriod < 0 || cfg.GracePeriod >= cfg.RefreshTTL {
		return nil, errors.New("grace period must be non-negative and shorter than refresh TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)

	switch cfg.SigningMethod {
	case "", MethodHS256:
		cfg.SigningMethod = MethodHS256
		if len(cfg.PrivateKey) < minHMACSecretBytes {
			return nil, fmt.Errorf("hs256 requires a secret of at least %d bytes", minHMACSecretBytes)
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{config: cfg, now: now}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// GracePeriod returns the configured renewal window after access-token expiry.
func (m *Manager) GracePeriod() time.Duration { return m.config.GracePeriod }

// IssueAccess signs payload as a short-lived access token.
func (m *Manager) IssueAccess(payload Payload) (string, error) {
	return m.issue(payload, UseAccess, m.config.AccessTTL)
}

// IssueRefresh signs payload as a long-lived refresh token.
func (m *Manager) IssueRefresh(payload Payload) (string, error) {
	return m.issue(payload, UseRefresh, m.config.RefreshTTL)
}

func (m *Manager) issue(payload Payload, use string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		Payload: payload,
		Use:     use,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   payload.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    m.config.Issuer,
		},
	}

	signKey, err := m.getSignKey()
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(m.getMethod(), claims).SignedString(signKey)
}

// Verify checks signature and claims and returns the decoded claim set.
//
// Expiry is reported as ErrExpired, distinct from ErrInvalid. The signature is
// checked before expiry, so ErrExpired implies the token is authentic. Leeway
// never extends exp.
func (m *Manager) Verify(token string) (*Claims, error) {
	claims, err := m.parse(token, true)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return claims, nil
}

// IsExpired inspects the exp claim without checking the signature. Tokens that
// cannot be decoded or carry no exp are reported as expired.
func (m *Manager) IsExpired(token string) bool {
	exp, ok := unverifiedExpiry(token)
	if !ok {
		return true
	}
	return !m.now().Before(exp)
}

// IsInGracePeriod reports whether now < exp + GracePeriod, without checking the
// signature. Undecodable tokens are never in grace.
func (m *Manager) IsInGracePeriod(token string) bool {
	exp, ok := unverifiedExpiry(token)
	if !ok {
		return false
	}
	return m.now().Before(exp.Add(m.config.GracePeriod))
}

// Renew issues a fresh access token carrying the payload of an expired access
// token that is still within the grace period. The expired token must carry a
// valid signature.
func (m *Manager) Renew(token string) (string, *Claims, error) {
	claims, err := m.parse(token, false)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.Use != UseAccess || claims.ExpiresAt == nil {
		return "", nil, ErrNotRenewable
	}
	now := m.now()
	exp := claims.ExpiresAt.Time
	if now.Before(exp) || !now.Before(exp.Add(m.config.GracePeriod)) {
		return "", nil, ErrNotRenewable
	}

	renewed, err := m.IssueAccess(claims.Payload)
	if err != nil {
		return "", nil, err
	}
	return renewed, claims, nil
}

func (m *Manager) parse(tokenStr string, validateClaims bool) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.getMethod().Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if validateClaims {
		options = append(options, jwt.WithExpirationRequired(), jwt.WithIssuedAt())
		if m.config.Leeway > 0 {
			options = append(options, jwt.WithLeeway(m.config.Leeway))
		}
		if m.config.Issuer != "" {
			options = append(options, jwt.WithIssuer(m.config.Issuer))
		}
	} else {
		options = append(options, jwt.WithoutClaimsValidation())
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.getVerifyKey()
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if !validateClaims && m.config.Issuer != "" && claims.Issuer != m.config.Issuer {
		return nil, jwt.ErrTokenInvalidIssuer
	}
	// Leeway only relaxes iat and nbf; exp is exact so Verify agrees with IsExpired.
	if validateClaims && !m.now().Before(claims.ExpiresAt.Time) {
		return nil, jwt.ErrTokenExpired
	}
	if claims.IssuedAt != nil && m.config.MaxFutureIAT > 0 {
		maxAllowed := m.now().Add(m.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, errors.New("token iat too far in the future")
		}
	}
	return claims, nil
}

func unverifiedExpiry(tokenStr string) (time.Time, bool) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (m *Manager) getMethod() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodEd25519:
		return jwt.SigningMethodEdDSA
	default:
		return jwt.SigningMethodHS256
	}
}

func (m *Manager) getSignKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodEd25519:
		return parseEdPrivateKey(m.config.PrivateKey)
	default:
		return m.config.PrivateKey, nil
	}
}

func (m *Manager) getVerifyKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodEd25519:
		return parseEdPublicKey(m.config.PublicKey)
	default:
		return m.config.PrivateKey, nil
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
