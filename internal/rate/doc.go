// Package rate holds the Redis fixed-window counters that throttle login and
// refresh attempts ahead of any credential work.
//
// # Window semantics
//
// Each counter is INCR plus an EXPIRE set on the first hit of the window.
// Keys, under the configured prefix:
//   - <prefix>:login:e:<email>   failed logins per email
//   - <prefix>:login:ip:<ip>     failed logins per client IP
//   - <prefix>:refresh:t:<hash>  refresh attempts per token digest
//   - <prefix>:refresh:ip:<ip>   refresh attempts per client IP
//
// The per-account lockout lives on the user record, not here.
package rate
