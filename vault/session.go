// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

package vault

import (
	"sync"
	"sync/atomic"
	"time"
)

// session owns the inactivity timer for the unlocked state. Every access to
// key material calls touch, which re-arms the timer; when it fires with no
// intervening activity, onExpire locks the vault and wipes the secrets.
// The timer fires at most once per arming; touch resets, never stacks.
type session struct {
	mu           sync.Mutex
	timeout      time.Duration
	timer        *time.Timer
	lastActivity atomic.Int64 // UnixNano of last activity
	onExpire     func()
}

func newSession(timeout time.Duration, onExpire func()) *session {
	return &session{timeout: timeout, onExpire: onExpire}
}

// touch records activity and resets (or starts) the inactivity timer.
// Safe for concurrent use from any goroutine.
func (s *session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Reset(s.timeout)
		return
	}
	s.timer = time.AfterFunc(s.timeout, s.expired)
}

func (s *session) expired() {
	// Guard against stale callbacks: if activity occurred after this timer
	// was scheduled, re-arm instead of locking.
	s.mu.Lock()
	timeout := s.timeout
	running := s.timer != nil
	s.mu.Unlock()
	if !running {
		return
	}
	if idle := time.Since(time.Unix(0, s.lastActivity.Load())); idle < timeout {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Reset(timeout - idle)
		}
		s.mu.Unlock()
		return
	}
	s.onExpire()
}

// stop cancels the inactivity timer if running.
func (s *session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// active reports whether the timer is armed.
func (s *session) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// expiresAt returns the time the session will lock absent further activity.
func (s *session) expiresAt() time.Time {
	s.mu.Lock()
	timeout := s.timeout
	s.mu.Unlock()
	return time.Unix(0, s.lastActivity.Load()).Add(timeout)
}

// setTimeout updates the inactivity window and re-arms a running timer.
func (s *session) setTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
	if s.timer != nil {
		s.timer.Reset(d)
	}
}
