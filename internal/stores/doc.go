// Package stores provides the Redis-backed registry of second-factor challenge
// tickets.
//
// # Design
//
// Each ticket is a versioned, binary-encoded record stored under a TTL and
// keyed by a digest of the ticket value, never the value itself. Consume is a
// single DEL whose reply count picks the one winner among concurrent callers.
// RecordFailure uses WATCH/MULTI optimistic transactions with bounded retry
// and deletes the ticket once the attempt cap is reached.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Generate ticket values or make authentication decisions.
package stores
