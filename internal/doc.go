// Package internal contains helper utilities that are private to authcore,
// such as secure random generation for challenge tickets, verification tokens,
// and backup codes.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - stores: Redis-backed challenge ticket store
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
