// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

package vault

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/keywarden/keywarden/internal/crypto"
	"github.com/keywarden/keywarden/internal/fsutil"
	"github.com/keywarden/keywarden/internal/logging"
	"github.com/keywarden/keywarden/wallet"
)

// exportPayload is the plaintext inside an export container: one credential.
type exportPayload struct {
	FormatVersion int              `json:"format_version"`
	Name          string           `json:"name"`
	Chain         wallet.ChainType `json:"chain_type"`
	SecretKey     string           `json:"secret_key"` // hex
	PublicKey     string           `json:"public_key"` // hex
	Address       string           `json:"address"`
	CreatedAt     time.Time        `json:"created_at"`
	ExportedAt    time.Time        `json:"exported_at"`
}

// Export writes an encrypted single-credential backup file under
// <dir>/exports and returns its path. The file reuses the store's salt and
// KDF parameters with a fresh nonce, so it decrypts with the current master
// password and is self-contained. No secret material is returned or logged.
func (v *Vault) Export(name string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.requireUnlockedLocked(); err != nil {
		return "", err
	}
	cred, exists := v.creds[name]
	if !exists {
		return "", fmt.Errorf("%w: %q", ErrCredentialNotFound, name)
	}

	now := time.Now().UTC()
	plaintext, err := json.Marshal(exportPayload{
		FormatVersion: formatVersionUnified,
		Name:          cred.Name,
		Chain:         cred.Chain,
		SecretKey:     hex.EncodeToString(cred.SecretKey),
		PublicKey:     hex.EncodeToString(cred.PublicKey),
		Address:       cred.Address,
		CreatedAt:     cred.CreatedAt,
		ExportedAt:    now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode export payload: %w", err)
	}

	var nonce, ciphertext, tag []byte
	err = v.masterKey.WithBytes(func(key []byte) error {
		var sealErr error
		nonce, ciphertext, tag, sealErr = crypto.Encrypt(plaintext, key)
		return sealErr
	})
	crypto.ZeroBytes(plaintext)
	if err != nil {
		return "", err
	}
	data, err := newContainer(v.kdfParams, v.salt, nonce, ciphertext, tag).encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode export container: %w", err)
	}

	if err := fsutil.MkdirAll(v.exportsDir()); err != nil {
		return "", fmt.Errorf("failed to create exports directory: %w", err)
	}
	path := filepath.Join(v.exportsDir(), fmt.Sprintf("%s-%d.json", name, now.Unix()))
	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	v.session.touch()
	logging.Logger.Info("credential exported", "name", name, "path", path)
	return path, nil
}
