package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/password"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is matched by every *LockedError.
	ErrAccountLocked = errors.New("account locked")
	// ErrEmailNotVerified is returned by Login once credentials are correct but the email is unverified.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrUserNotFound is returned by stores and lookups for an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists reports a registration for an email that is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrWeakPassword reports a password shorter than Password.MinLength.
	ErrWeakPassword = errors.New("password too short")
	// ErrRateLimited reports a login or refresh rejected by the attempt window
	// before any credential work.
	ErrRateLimited = errors.New("too many attempts")
	// ErrInvalidEmail reports a registration email that is not a single address with a dotted domain.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrInvalidChallenge reports a missing, expired, consumed, or foreign challenge ticket.
	ErrInvalidChallenge = errors.New("invalid two-factor challenge")
	// ErrChallengeUnavailable reports a challenge registry backend failure.
	ErrChallengeUnavailable = errors.New("two-factor challenge backend unavailable")
	// ErrInvalidCodeFormat reports a code that is not exactly 6 ASCII digits.
	ErrInvalidCodeFormat = errors.New("code must be exactly 6 digits")
	// ErrInvalidCode reports a well-formed TOTP or backup code that did not match.
	ErrInvalidCode = errors.New("invalid code")
	// ErrTwoFactorAlreadyEnabled is returned by SetupTwoFactor for an enrolled account.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	// ErrTwoFactorNotEnrolled reports a confirmation without a pending secret.
	ErrTwoFactorNotEnrolled = errors.New("two-factor setup not initiated")
	// ErrTwoFactorNotEnabled is returned by VerifyTwoFactor and DisableTwoFactor when two-factor is off.
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication not enabled")

	// ErrTokenInvalid reports an access token with a bad signature or structure.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired reports an expired access token or email verification token.
	ErrTokenExpired = errors.New("token expired")
	// ErrInvalidRefreshToken reports a refresh token with no stored record.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenExpired reports a stored refresh token past ExpiresAt; the record is deleted.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrRefreshTokenNotFound is returned by stores for an unknown refresh token key.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	// ErrInvalidToken reports an email verification token that matches no user.
	ErrInvalidToken = errors.New("invalid verification token")
	// ErrAlreadyVerified is returned by VerifyEmail and ResendVerification for a verified account.
	ErrAlreadyVerified = errors.New("email already verified")

	// ErrStoreUnavailable wraps every durable store backend failure.
	ErrStoreUnavailable = errors.New("store backend unavailable")
	// ErrCorruptCredential reports a stored password hash that cannot be parsed.
	ErrCorruptCredential = password.ErrCorruptCredential
	// ErrEngineNotReady is returned by methods called on a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError is returned while an account is locked. Remaining is rounded up
// to whole minutes.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, try again in %d minute(s)", e.Minutes())
}

// Is makes errors.Is(err, ErrAccountLocked) hold for any *LockedError.
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// Minutes returns Remaining in whole minutes.
func (e *LockedError) Minutes() int {
	return int(e.Remaining / time.Minute)
}

// ErrorKind groups errors by how a caller should react to them.
type ErrorKind int

const (
	// KindInternal covers backend failures and anything unclassified.
	KindInternal ErrorKind = iota
	// KindValidation covers malformed input and state conflicts.
	KindValidation
	// KindAuthentication covers rejected credentials, codes, and challenges.
	KindAuthentication
	// KindToken covers bearer tokens that need re-authentication.
	KindToken
	// KindNotFound covers unknown users.
	KindNotFound
	// KindRateLimited covers attempts rejected by the rate limiter.
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindToken:
		return "token"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Kind classifies err. Wrapped errors are classified by their sentinel.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrEmailNotVerified),
		errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrInvalidChallenge):
		return KindAuthentication
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, ErrRefreshTokenExpired),
		errors.Is(err, ErrInvalidToken):
		return KindToken
	case errors.Is(err, ErrInvalidCodeFormat),
		errors.Is(err, ErrWeakPassword),
		errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrUserExists),
		errors.Is(err, ErrAlreadyVerified),
		errors.Is(err, ErrTwoFactorAlreadyEnabled),
		errors.Is(err, ErrTwoFactorNotEnrolled),
		errors.Is(err, ErrTwoFactorNotEnabled):
		return KindValidation
	case errors.Is(err, ErrUserNotFound):
		return KindNotFound
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}
