// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

// Package crypto implements the key derivation and envelope encryption used
// by the vault: Argon2id for turning a password into a 256-bit key, and
// AES-256-GCM for sealing the store content.
package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// SaltLen is the length of the random salt used for key derivation.
const SaltLen = 32

// Params holds the Argon2id cost parameters. They are persisted next to
// every ciphertext so that a store created with older parameters can still
// be opened, while new stores always use DefaultParams.
type Params struct {
	Time      uint32 `json:"time"`
	MemoryKiB uint32 `json:"memory_kib"`
	Threads   uint8  `json:"threads"`
	KeyLen    uint32 `json:"key_len"`
}

// DefaultParams are the Argon2id parameters for newly created stores
// (OWASP recommended).
var DefaultParams = Params{
	Time:      1,
	MemoryKiB: 64 * 1024, // 64 MB
	Threads:   4,
	KeyLen:    32, // AES-256
}

// Validate rejects parameter sets that would produce an unusable key or a
// trivially brute-forceable derivation.
func (p Params) Validate() error {
	if p.KeyLen != 32 {
		return fmt.Errorf("kdf key length must be 32 bytes, got %d", p.KeyLen)
	}
	if p.Time == 0 || p.MemoryKiB < 8*1024 || p.Threads == 0 {
		return fmt.Errorf("kdf parameters too weak (time=%d memory=%dKiB threads=%d)",
			p.Time, p.MemoryKiB, p.Threads)
	}
	return nil
}

// DeriveKey derives a symmetric key from a password and salt using Argon2id.
// This is deliberately slow and memory-hard; callers must not invoke it
// while a rate-limit lockout is in effect.
// Caller is responsible for zeroing the returned key when done.
func DeriveKey(password, salt []byte, p Params) []byte {
	return argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Threads, p.KeyLen)
}

// NewSalt returns SaltLen bytes of cryptographically random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}
