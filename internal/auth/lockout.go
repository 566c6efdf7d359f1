package auth

import (
	"math"
	"time"
)

// Lockout defaults applied when configuration leaves them unset.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 2 * time.Hour
)

// LockoutState is the per-account failure bookkeeping the policy operates on.
type LockoutState struct {
	LoginAttempts   int
	LockUntil       *time.Time
	LastFailedLogin *time.Time
	LastLogin       *time.Time
}

// LockoutPolicy decides when repeated failed logins lock an account and for how long.
// It is pure: callers load the state, apply a transition and persist the result.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// NewLockoutPolicy returns a policy with defaults substituted for non-positive values.
func NewLockoutPolicy(threshold int, duration time.Duration) LockoutPolicy {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}
	return LockoutPolicy{Threshold: threshold, Duration: duration}
}

// IsLocked reports whether state carries a lock that is still active at now.
func (p LockoutPolicy) IsLocked(state LockoutState, now time.Time) bool {
	return state.LockUntil != nil && state.LockUntil.After(now)
}

// OnFailedLogin applies one failed attempt at now.
//
// An expired lock restarts the count at one. Otherwise the count grows and
// reaching the threshold sets a lock, unless one is already active; an active
// lock is never extended.
func (p LockoutPolicy) OnFailedLogin(state LockoutState, now time.Time) LockoutState {
	p = NewLockoutPolicy(p.Threshold, p.Duration)
	failedAt := now

	if state.LockUntil != nil && state.LockUntil.Before(now) {
		state.LoginAttempts = 1
		state.LockUntil = nil
		state.LastFailedLogin = &failedAt
		return state
	}

	wasLocked := p.IsLocked(state, now)
	state.LoginAttempts++
	if state.LoginAttempts >= p.Threshold && !wasLocked {
		until := now.Add(p.Duration)
		state.LockUntil = &until
	}
	state.LastFailedLogin = &failedAt
	return state
}

// OnSuccessfulLogin clears failure bookkeeping and stamps the login time.
func (p LockoutPolicy) OnSuccessfulLogin(state LockoutState, now time.Time) LockoutState {
	loginAt := now
	state.LoginAttempts = 0
	state.LockUntil = nil
	state.LastFailedLogin = nil
	state.LastLogin = &loginAt
	return state
}

// RetryAfter returns the whole seconds, rounded up, until the lock lifts. Zero when unlocked.
func (p LockoutPolicy) RetryAfter(state LockoutState, now time.Time) int {
	if !p.IsLocked(state, now) {
		return 0
	}
	return int(math.Ceil(state.LockUntil.Sub(now).Seconds()))
}

// JustLocked reports whether the transition from before to after placed a new lock.
func (p LockoutPolicy) JustLocked(before, after LockoutState, now time.Time) bool {
	return !p.IsLocked(before, now) && p.IsLocked(after, now)
}
