// Package authcore is the authentication and session core: password login with
// brute-force lockout, TOTP second-factor enrollment and challenges, backup
// codes, email verification, and JWT access/refresh tokens with grace-period
// renewal.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the [Store] and [Mailer] collaborator interfaces, and value types such as
// [LoginResult] and [Principal]. Challenge-ticket storage, random tokens, and
// audit dispatch live under internal/. Durable stores live under store/, mail
// delivery under mail/, transport guards under middleware/.
//
// # Flows
//
//	Register -> VerifyEmail -> Login -> (CompleteTwoFactorLogin) -> session
//	Refresh mints access tokens from a stored refresh token.
//	ValidateAccess verifies access tokens and renews them within the grace period.
//	SetupTwoFactor -> ConfirmTwoFactor ... DisableTwoFactor
//
// # State
//
// Per-user state (lockout counters, verification tokens, TOTP secrets, backup
// codes) lives on [UserRecord] and changes only through Store.UpdateUser.
// Challenge tickets live in Redis with a TTL and are consumed exactly once.
// Bearer values (refresh tokens, verification tokens, challenge tickets, backup
// codes) are stored as SHA-256 digests.
package authcore
