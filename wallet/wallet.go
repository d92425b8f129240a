// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

// Package wallet defines the credential model and the two supported chain
// key classes: Ed25519 (Solana-style base58 addresses) and secp256k1
// (EVM-style hex addresses). It owns key generation, external key-material
// parsing, and address derivation; the vault package owns persistence and
// sessions.
package wallet

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"fmt"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/keywarden/keywarden/internal/crypto"
)

// ChainType identifies the signature scheme class a credential belongs to.
type ChainType string

const (
	// ChainEd25519 covers Ed25519 chains (Solana and compatible); display
	// addresses are base58-encoded public keys.
	ChainEd25519 ChainType = "ed25519"

	// ChainSecp256k1 covers secp256k1 chains (Ethereum and compatible);
	// display addresses are EIP-55 checksummed hex.
	ChainSecp256k1 ChainType = "secp256k1"
)

// Valid reports whether t names a supported chain class.
func (t ChainType) Valid() bool {
	return t == ChainEd25519 || t == ChainSecp256k1
}

// Credential is a named signing key held by the store. SecretKey is the
// canonical secret representation: the 64-byte Ed25519 private key, or the
// 32-byte secp256k1 scalar. Address and PublicKey are always recomputable
// from SecretKey; the vault verifies that after every decrypt.
type Credential struct {
	Name      string
	Chain     ChainType
	SecretKey []byte
	PublicKey []byte
	Address   string
	CreatedAt time.Time
}

// Zero overwrites the credential's secret bytes. The credential must not be
// used for signing afterwards.
func (c *Credential) Zero() {
	crypto.ZeroBytes(c.SecretKey)
}

// Info returns the non-secret metadata for this credential.
func (c *Credential) Info() Info {
	return Info{
		Name:      c.Name,
		Chain:     c.Chain,
		Address:   c.Address,
		CreatedAt: c.CreatedAt,
	}
}

// Info is the metadata surface exposed by list/info operations. It never
// carries secret bytes.
type Info struct {
	Name      string    `json:"name"`
	Chain     ChainType `json:"chain_type"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// KeyMaterial is a live signing handle returned while the store is
// unlocked. The caller must call Zero when done with it.
type KeyMaterial struct {
	Chain     ChainType
	SecretKey []byte
	PublicKey []byte
	Address   string
}

// Zero overwrites the handle's secret bytes.
func (m *KeyMaterial) Zero() {
	crypto.ZeroBytes(m.SecretKey)
}

// Ed25519 returns the secret as an ed25519.PrivateKey.
func (m *KeyMaterial) Ed25519() (ed25519.PrivateKey, error) {
	if m.Chain != ChainEd25519 {
		return nil, fmt.Errorf("credential is %s, not ed25519", m.Chain)
	}
	return ed25519.PrivateKey(m.SecretKey), nil
}

// ECDSA returns the secret as a secp256k1 ECDSA private key.
func (m *KeyMaterial) ECDSA() (*ecdsa.PrivateKey, error) {
	if m.Chain != ChainSecp256k1 {
		return nil, fmt.Errorf("credential is %s, not secp256k1", m.Chain)
	}
	return ethcrypto.ToECDSA(m.SecretKey)
}

// Generate creates a fresh credential of the given chain class.
func Generate(name string, chain ChainType) (*Credential, error) {
	var secret []byte
	var err error
	switch chain {
	case ChainEd25519:
		secret, err = generateEd25519()
	case ChainSecp256k1:
		secret, err = generateSecp256k1()
	default:
		return nil, fmt.Errorf("unsupported chain type: %q", chain)
	}
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(secret)
	return FromSecret(name, chain, secret)
}

// FromSecret builds a credential from raw secret bytes, deriving the public
// key and display address. The secret is copied; the caller keeps ownership
// of (and should zero) the input slice. Ed25519 accepts either a 32-byte
// seed or a full 64-byte private key and normalizes to the 64-byte form.
func FromSecret(name string, chain ChainType, secret []byte) (*Credential, error) {
	canonical, pub, addr, err := derive(chain, secret)
	if err != nil {
		return nil, err
	}
	return &Credential{
		Name:      name,
		Chain:     chain,
		SecretKey: canonical,
		PublicKey: pub,
		Address:   addr,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// DeriveAddress recomputes the display address for secret bytes of the
// given chain class. Used for the post-decrypt integrity check.
func DeriveAddress(chain ChainType, secret []byte) (string, error) {
	canonical, _, addr, err := derive(chain, secret)
	if err != nil {
		return "", err
	}
	crypto.ZeroBytes(canonical)
	return addr, nil
}

func derive(chain ChainType, secret []byte) (canonical, pub []byte, addr string, err error) {
	switch chain {
	case ChainEd25519:
		return deriveEd25519(secret)
	case ChainSecp256k1:
		return deriveSecp256k1(secret)
	default:
		return nil, nil, "", fmt.Errorf("unsupported chain type: %q", chain)
	}
}
