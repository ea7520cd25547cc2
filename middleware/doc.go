// Package middleware adapts authcore access-token validation to HTTP servers.
//
// # Guards
//
//   - [RequireAuth] verifies the bearer token for net/http handlers.
//   - [GinRequireAuth] does the same for gin routes.
//   - [RequireVerifiedEmail] and [RequireTwoFactor] gate on principal flags.
//
// A token that expired but is still inside the grace period is renewed by the
// engine; the new token is returned in the [RenewedTokenHeader] response header
// and the request proceeds. The principal is stored with
// authcore.WithPrincipal and read back with authcore.PrincipalFromContext.
//
// This package translates HTTP semantics into engine calls. It never parses
// tokens itself.
package middleware
