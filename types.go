package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
)

// UserRecord is the identity and authentication state of one account.
//
// Email is stored trimmed and lower-cased. EmailVerifyToken holds the SHA-256
// hex digest of the verification token, never the token itself; empty means
// absent. TwoFactorSecret is non-empty whenever TwoFactorEnabled is true. A
// LockedUntil in the past means "not locked".
type UserRecord struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string

	IsEmailVerified   bool
	EmailVerifyToken  string
	EmailVerifyExpiry *time.Time

	LoginAttempts int
	LockedUntil   *time.Time

	TwoFactorEnabled bool
	TwoFactorSecret  string
	// BackupCodes holds SHA-256 hex digests of the unconsumed backup codes.
	BackupCodes []string
	// LastTOTPCounter is the highest accepted TOTP time step when replay
	// protection is enabled.
	LastTOTPCounter int64

	LastLogin *time.Time
	CreatedAt time.Time
}

// Clone returns a deep copy of u.
func (u UserRecord) Clone() UserRecord {
	out := u
	out.EmailVerifyExpiry = cloneTime(u.EmailVerifyExpiry)
	out.LockedUntil = cloneTime(u.LockedUntil)
	out.LastLogin = cloneTime(u.LastLogin)
	if u.BackupCodes != nil {
		out.BackupCodes = append([]string(nil), u.BackupCodes...)
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// RefreshTokenRecord is the server-side half of a refresh token. Token is the
// SHA-256 hex digest of the bearer value. Records are never mutated.
type RefreshTokenRecord struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserStore persists user records.
//
// UpdateUser must apply fn as an atomic read-modify-write against the latest
// committed record: concurrent updates to the same user are serialized and
// none is lost. If fn returns an error nothing is written and that error is
// returned unchanged. Lookups of an unknown user return ErrUserNotFound and
// CreateUser returns ErrUserExists for a duplicate email. DeleteUser also
// removes the user's refresh tokens. Backend failures wrap ErrStoreUnavailable.
type UserStore interface {
	CreateUser(ctx context.Context, user UserRecord) error
	DeleteUser(ctx context.Context, userID string) error
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByVerifyToken(ctx context.Context, tokenHash string) (UserRecord, error)
	UpdateUser(ctx context.Context, userID string, fn func(*UserRecord) error) (UserRecord, error)
}

// RefreshTokenStore persists refresh token records keyed by token digest.
// GetRefreshToken returns ErrRefreshTokenNotFound for an unknown key and
// DeleteRefreshToken is idempotent.
type RefreshTokenStore interface {
	SaveRefreshToken(ctx context.Context, record RefreshTokenRecord) error
	GetRefreshToken(ctx context.Context, tokenHash string) (RefreshTokenRecord, error)
	DeleteRefreshToken(ctx context.Context, tokenHash string) error
	DeleteUserRefreshTokens(ctx context.Context, userID string) (int, error)
}

// Store is the durable store required by the Engine.
type Store interface {
	UserStore
	RefreshTokenStore
}

// CredentialValidator hashes and verifies passwords. Verify reports a mismatch
// as (false, nil) and an unparseable hash as ErrCorruptCredential.
type CredentialValidator interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// Mailer delivers account emails. Engine methods log and swallow Mailer errors.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, name, token string) error
	SendBackupCodes(ctx context.Context, to string, codes []string) error
}

// SessionUser is the public view of the account returned with a new session.
type SessionUser struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	IsEmailVerified  bool       `json:"isEmailVerified"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	LastLogin        *time.Time `json:"lastLogin,omitempty"`
}

// Profile is the public view of an account returned by [Engine.GetProfile].
type Profile struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	IsEmailVerified  bool       `json:"isEmailVerified"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastLogin        *time.Time `json:"lastLogin,omitempty"`
}

// LoginResult is either a full session (tokens and user) or, when
// RequiresTwoFactor is set, a challenge ticket to complete with
// [Engine.CompleteTwoFactorLogin].
type LoginResult struct {
	AccessToken  string       `json:"accessToken,omitempty"`
	RefreshToken string       `json:"refreshToken,omitempty"`
	User         *SessionUser `json:"user,omitempty"`

	RequiresTwoFactor bool   `json:"requiresTwoFactor,omitempty"`
	TempToken         string `json:"tempToken,omitempty"`
	UserID            string `json:"userId,omitempty"`
}

// TwoFactorSetup is returned by [Engine.SetupTwoFactor]. QRCode is a PNG data URL
// of ProvisioningURI and ManualEntryKey is Secret in groups of four.
type TwoFactorSetup struct {
	ProvisioningURI string   `json:"provisioningUri"`
	QRCode          string   `json:"qrCode"`
	Secret          string   `json:"secret"`
	ManualEntryKey  string   `json:"manualEntryKey"`
	AppName         string   `json:"appName"`
	BackupCodes     []string `json:"backupCodes"`
}

// RegisterRequest is the input of [Engine.Register].
type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// RegisterResult is returned by [Engine.Register].
type RegisterResult struct {
	UserID string `json:"userId"`
}

// Principal is the authenticated caller derived from a verified access token.
type Principal struct {
	UserID          string
	Email           string
	IsEmailVerified bool
	Has2FA          bool
	TokenID         string
	IssuedAt        time.Time
	ExpiresAt       time.Time
}

// AuditEvent is the structured record emitted for security-relevant operations.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the Engine's async dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink drops every event.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink delivers events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per event line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink returns a sink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
