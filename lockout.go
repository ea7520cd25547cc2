package authcore

import "time"

// LockoutPolicy tracks failed password attempts on the user record and
// computes lock expiry. It holds no state of its own; the Engine applies it
// inside Store.UpdateUser so every transition is an atomic read-modify-write.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// Check returns a *LockedError while u.LockedUntil is in the future. It runs
// before any password comparison.
func (p LockoutPolicy) Check(u *UserRecord, now time.Time) error {
	if u.LockedUntil == nil || !now.Before(*u.LockedUntil) {
		return nil
	}
	return &LockedError{Remaining: roundUpMinutes(u.LockedUntil.Sub(now))}
}

// RecordMismatch counts a wrong password. The attempt that reaches
// MaxAttempts locks the account and is itself answered with *LockedError.
func (p LockoutPolicy) RecordMismatch(u *UserRecord, now time.Time) error {
	u.LoginAttempts++
	if u.LoginAttempts < p.MaxAttempts {
		return ErrInvalidCredentials
	}
	until := now.Add(p.Duration)
	u.LockedUntil = &until
	return &LockedError{Remaining: roundUpMinutes(p.Duration)}
}

// RecordMatch resets the counter and lock after a correct password.
func (p LockoutPolicy) RecordMatch(u *UserRecord, now time.Time) {
	u.LoginAttempts = 0
	u.LockedUntil = nil
	at := now
	u.LastLogin = &at
}

// Unlock clears the counter and any lock without touching LastLogin.
func (p LockoutPolicy) Unlock(u *UserRecord) {
	u.LoginAttempts = 0
	u.LockedUntil = nil
}

func roundUpMinutes(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return ((d + time.Minute - 1) / time.Minute) * time.Minute
}
