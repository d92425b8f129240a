// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

package crypto

import (
	"crypto/subtle"
	"runtime"
	"sync"
)

// ZeroBytes securely overwrites a byte slice with zeros.
// Uses a constant-time copy so the compiler cannot elide the wipe.
func ZeroBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
	runtime.KeepAlive(b)
}

// SecureBytes wraps a secret byte buffer with locked access and guaranteed
// zeroing. Use it for passwords and derived keys that outlive a single call.
type SecureBytes struct {
	data []byte
	lock sync.RWMutex
}

// NewSecureBytes copies b into a new SecureBytes. The caller may zero the
// original immediately afterwards.
func NewSecureBytes(b []byte) *SecureBytes {
	if b == nil {
		return &SecureBytes{}
	}
	data := make([]byte, len(b))
	copy(data, b)
	return &SecureBytes{data: data}
}

// WithBytes gives fn scoped access to the underlying buffer without copying.
// The slice must not be stored or leaked outside the callback.
func (s *SecureBytes) WithBytes(fn func([]byte) error) error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return fn(s.data)
}

// Destroy zeros the buffer. The SecureBytes must not be used afterwards.
func (s *SecureBytes) Destroy() {
	s.lock.Lock()
	defer s.lock.Unlock()
	ZeroBytes(s.data)
	s.data = nil
}

// IsEmpty reports whether the buffer is empty or destroyed.
func (s *SecureBytes) IsEmpty() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.data) == 0
}
