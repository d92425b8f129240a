// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// NonceLen is the AES-GCM nonce length (96 bits).
const NonceLen = 12

// TagLen is the AES-GCM authentication tag length.
const TagLen = 16

// ErrDecryptFailed is returned for every failed decryption. Wrong key,
// tampered ciphertext and corrupted tag are deliberately indistinguishable.
var ErrDecryptFailed = errors.New("incorrect password or corrupt store")

// Encrypt seals plaintext under key with AES-256-GCM and a fresh random
// nonce. The nonce, ciphertext and authentication tag are returned
// separately; the container format persists all three.
func Encrypt(plaintext, key []byte) (nonce, ciphertext, tag []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - TagLen
	return nonce, sealed[:split], sealed[split:], nil
}

// Decrypt opens ciphertext+tag under key. It either returns the exact
// original plaintext or ErrDecryptFailed; no partial plaintext is ever
// exposed.
func Decrypt(ciphertext, key, nonce, tag []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceLen || len(tag) != TagLen {
		return nil, ErrDecryptFailed
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("envelope key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
