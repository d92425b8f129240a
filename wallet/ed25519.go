// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

package wallet

import (
	"crypto/ed25519"
	"crypto/subtle"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/gagliardetto/solana-go"
)

// generateEd25519 returns a fresh 64-byte Ed25519 private key.
func generateEd25519() ([]byte, error) {
	priv, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	secret := make([]byte, len(priv))
	copy(secret, priv)
	return secret, nil
}

// deriveEd25519 normalizes an Ed25519 secret (32-byte seed or 64-byte
// private key) to the 64-byte form and derives the public key and base58
// display address. The public half of a 64-byte input must match the key
// expanded from its seed, and must be a canonical curve point.
func deriveEd25519(secret []byte) (canonical, pub []byte, addr string, err error) {
	var full ed25519.PrivateKey
	switch len(secret) {
	case ed25519.SeedSize:
		full = ed25519.NewKeyFromSeed(secret)
	case ed25519.PrivateKeySize:
		full = ed25519.NewKeyFromSeed(secret[:ed25519.SeedSize])
		if subtle.ConstantTimeCompare(full[ed25519.SeedSize:], secret[ed25519.SeedSize:]) != 1 {
			return nil, nil, "", fmt.Errorf("ed25519 public half does not match seed")
		}
	default:
		return nil, nil, "", fmt.Errorf("ed25519 secret must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(secret))
	}

	pubBytes := make([]byte, ed25519.PublicKeySize)
	copy(pubBytes, full[ed25519.SeedSize:])

	// Reject non-canonical point encodings up front rather than at first use.
	if _, err := new(edwards25519.Point).SetBytes(pubBytes); err != nil {
		return nil, nil, "", fmt.Errorf("invalid ed25519 public key: %w", err)
	}

	canonical = make([]byte, ed25519.PrivateKeySize)
	copy(canonical, full)

	address := solana.PublicKeyFromBytes(pubBytes).String()
	return canonical, pubBytes, address, nil
}
