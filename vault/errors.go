// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

package vault

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Common vault errors. All are reported synchronously to the caller and
// never retried internally.
var (
	// ErrNotInitialized indicates no store exists yet at the configured path.
	ErrNotInitialized = errors.New("store is not initialized")

	// ErrAlreadyInitialized indicates Initialize was called on an existing store.
	ErrAlreadyInitialized = errors.New("store is already initialized")

	// ErrIncorrectPassword covers both a wrong password and a tampered
	// ciphertext; the two are deliberately indistinguishable. Counts toward
	// rate limiting.
	ErrIncorrectPassword = errors.New("incorrect password or corrupt store")

	// ErrLocked indicates key material was requested while the store is locked.
	ErrLocked = errors.New("store is locked")

	// ErrCredentialExists indicates the requested name is already taken.
	ErrCredentialExists = errors.New("credential already exists")

	// ErrCredentialNotFound indicates no credential has the requested name.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrIntegrityCheckFailed indicates a decrypted secret no longer derives
	// the address stored beside it. Signals tampering or a derivation bug;
	// never silently accepted.
	ErrIntegrityCheckFailed = errors.New("credential integrity check failed")

	// ErrCorruptStore indicates the store file could not be parsed. Fatal
	// for that file; the remedy is restoring from a backup.
	ErrCorruptStore = errors.New("corrupt store file")

	// ErrWeakPassword indicates the password is below the minimum length.
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLen)
)

// RateLimitedError is returned when unlock attempts are in a lockout
// window. The key derivation is never run while rate limited.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	return fmt.Sprintf("too many attempts, retry after %ds", secs)
}

// UnsupportedVersionError is returned for store files with an unknown
// format version. The file is never parsed best-effort; it fails closed.
type UnsupportedVersionError struct {
	Version int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported store format version %d", e.Version)
}
