// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

package wallet

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// secp256k1SecretLen is the length of a raw secp256k1 scalar.
const secp256k1SecretLen = 32

// generateSecp256k1 returns a fresh 32-byte secp256k1 scalar.
func generateSecp256k1() ([]byte, error) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secp256k1 key: %w", err)
	}
	return ethcrypto.FromECDSA(priv), nil
}

// deriveSecp256k1 validates a 32-byte scalar and derives the compressed
// public key and EIP-55 checksummed display address.
func deriveSecp256k1(secret []byte) (canonical, pub []byte, addr string, err error) {
	if len(secret) != secp256k1SecretLen {
		return nil, nil, "", fmt.Errorf("secp256k1 secret must be %d bytes, got %d",
			secp256k1SecretLen, len(secret))
	}

	// ToECDSA rejects scalars outside [1, N-1].
	priv, err := ethcrypto.ToECDSA(secret)
	if err != nil {
		return nil, nil, "", fmt.Errorf("invalid secp256k1 secret: %w", err)
	}

	canonical = make([]byte, secp256k1SecretLen)
	copy(canonical, secret)
	pub = ethcrypto.CompressPubkey(&priv.PublicKey)
	address := ethcrypto.PubkeyToAddress(priv.PublicKey).Hex()
	return canonical, pub, address, nil
}
