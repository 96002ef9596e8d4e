package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/acolita/blockterm/internal/ports"
)

// AuthRateLimiter tracks authentication failures per user@host and locks
// out further automatic attempts.
type AuthRateLimiter struct {
	mu              sync.RWMutex
	clock           ports.Clock
	failures        map[string]*authFailure
	maxFailures     int
	lockoutDuration time.Duration
}

type authFailure struct {
	count     int
	firstFail time.Time
	lockedAt  time.Time
}

// DefaultMaxAuthFailures is the default number of failures before lockout.
const DefaultMaxAuthFailures = 3

// DefaultAuthLockoutDuration is the default lockout duration.
const DefaultAuthLockoutDuration = 5 * time.Minute

// NewAuthRateLimiter creates a new auth rate limiter.
func NewAuthRateLimiter(clock ports.Clock, maxFailures int, lockoutDuration time.Duration) *AuthRateLimiter {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxAuthFailures
	}
	if lockoutDuration <= 0 {
		lockoutDuration = DefaultAuthLockoutDuration
	}

	return &AuthRateLimiter{
		clock:           clock,
		failures:        make(map[string]*authFailure),
		maxFailures:     maxFailures,
		lockoutDuration: lockoutDuration,
	}
}

// key generates a key from host and user.
func key(host, user string) string {
	return fmt.Sprintf("%s@%s", user, host)
}

// IsLocked checks if authentication is locked for the given host/user.
func (r *AuthRateLimiter) IsLocked(host, user string) (bool, time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.failures[key(host, user)]
	if !ok || f.lockedAt.IsZero() {
		return false, 0
	}

	elapsed := r.clock.Now().Sub(f.lockedAt)
	if elapsed >= r.lockoutDuration {
		return false, 0
	}

	return true, r.lockoutDuration - elapsed
}

// RecordFailure records an authentication failure.
func (r *AuthRateLimiter) RecordFailure(host, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	k := key(host, user)
	f, ok := r.failures[k]
	if !ok {
		f = &authFailure{firstFail: now}
		r.failures[k] = f
	}

	// Reset if lockout has expired
	if !f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= r.lockoutDuration {
		f.count = 0
		f.firstFail = now
		f.lockedAt = time.Time{}
	}

	f.count++
	if f.count >= r.maxFailures {
		f.lockedAt = now
	}
}

// RecordSuccess records a successful authentication, resetting the failure count.
func (r *AuthRateLimiter) RecordSuccess(host, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, key(host, user))
}

// Cleanup removes expired entries.
func (r *AuthRateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	for k, f := range r.failures {
		if !f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= r.lockoutDuration {
			delete(r.failures, k)
			continue
		}
		// No recent activity (2x lockout duration)
		if now.Sub(f.firstFail) >= 2*r.lockoutDuration {
			delete(r.failures, k)
		}
	}
}
