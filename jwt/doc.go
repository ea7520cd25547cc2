// Package jwt issues and verifies the signed access and refresh tokens used by
// authcore, and implements the grace-period renewal rule for recently expired
// access tokens.
//
// Both token kinds share the [Payload] shape and differ only in lifetime and
// the "use" claim. Verification is a pure signature and claims check with no
// shared state, so it may run with unlimited parallelism.
package jwt
