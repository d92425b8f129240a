// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

package vault

import (
	"sync"
	"time"
)

const (
	// rateLimitThreshold is the number of free consecutive failures.
	rateLimitThreshold = 5

	// rateLimitBase is the first lockout window; it doubles with every
	// further failure up to rateLimitMax.
	rateLimitBase = time.Second
	rateLimitMax  = 16 * time.Second
)

// rateLimiter tracks consecutive failed unlock attempts for one vault
// instance and imposes an exponentially growing lockout window. The check
// runs before the key derivation, so a locked-out attacker never gets to
// spend our CPU.
type rateLimiter struct {
	mu          sync.Mutex
	threshold   int
	base        time.Duration
	max         time.Duration
	failures    int
	lockedUntil time.Time
	now         func() time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		threshold: rateLimitThreshold,
		base:      rateLimitBase,
		max:       rateLimitMax,
		now:       time.Now,
	}
}

// check returns a *RateLimitedError while a lockout window is in effect.
func (l *rateLimiter) check() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if remaining := l.lockedUntil.Sub(l.now()); remaining > 0 {
		return &RateLimitedError{RetryAfter: remaining}
	}
	return nil
}

// fail records a failed attempt. From the threshold on, every further
// failure doubles the lockout window, capped at max.
func (l *rateLimiter) fail() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures++
	if l.failures < l.threshold {
		return
	}
	window := l.base << uint(l.failures-l.threshold)
	if window > l.max || window <= 0 {
		window = l.max
	}
	l.lockedUntil = l.now().Add(window)
}

// reset clears the failure counter and lockout after a successful unlock.
func (l *rateLimiter) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = 0
	l.lockedUntil = time.Time{}
}
