// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

package wallet

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/keywarden/keywarden/internal/crypto"
)

// ParseKeyMaterial decodes externally supplied key material into raw secret
// bytes for the given chain class. Accepted encodings:
//
//   - hex (with or without 0x prefix), both chains
//   - standard base64, both chains
//   - JSON numeric array (the Solana keygen file format), Ed25519 only
//   - base58 (the Solana CLI format), Ed25519 only
//
// The decoded secret is validated by deriving from it; all decoded
// candidates that fail validation are zeroed before returning.
func ParseKeyMaterial(chain ChainType, material string) ([]byte, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, fmt.Errorf("empty key material")
	}

	if strings.HasPrefix(material, "[") {
		if chain != ChainEd25519 {
			return nil, fmt.Errorf("JSON array key material is only supported for ed25519")
		}
		return parseJSONArray(material)
	}

	var lastErr error
	for _, decode := range decodersFor(chain) {
		secret, err := decode(material)
		if err != nil {
			lastErr = err
			continue
		}
		if _, err := DeriveAddress(chain, secret); err != nil {
			crypto.ZeroBytes(secret)
			lastErr = err
			continue
		}
		return secret, nil
	}
	return nil, fmt.Errorf("unrecognized %s key material: %w", chain, lastErr)
}

type decoder func(string) ([]byte, error)

func decodersFor(chain ChainType) []decoder {
	decoders := []decoder{decodeHex, decodeBase64}
	if chain == ChainEd25519 {
		decoders = append(decoders, decodeBase58)
	}
	return decoders
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("not hex: %w", err)
	}
	return b, nil
}

func decodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("not base64: %w", err)
	}
	return b, nil
}

func decodeBase58(s string) ([]byte, error) {
	priv, err := solana.PrivateKeyFromBase58(s)
	if err != nil {
		return nil, fmt.Errorf("not base58: %w", err)
	}
	return []byte(priv), nil
}

// parseJSONArray decodes the Solana keygen file format: a JSON array of
// byte values holding the 64-byte private key (or a 32-byte seed).
func parseJSONArray(material string) ([]byte, error) {
	var values []int
	if err := json.Unmarshal([]byte(material), &values); err != nil {
		return nil, fmt.Errorf("invalid JSON array key material: %w", err)
	}
	if len(values) != ed25519.PrivateKeySize && len(values) != ed25519.SeedSize {
		return nil, fmt.Errorf("JSON array key material must hold %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(values))
	}

	secret := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			crypto.ZeroBytes(secret)
			return nil, fmt.Errorf("JSON array key material has out-of-range byte %d at index %d", v, i)
		}
		secret[i] = byte(v)
	}

	if _, err := DeriveAddress(ChainEd25519, secret); err != nil {
		crypto.ZeroBytes(secret)
		return nil, err
	}
	return secret, nil
}
