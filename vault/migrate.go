// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/keywarden/keywarden/internal/crypto"
	"github.com/keywarden/keywarden/internal/logging"
	"github.com/keywarden/keywarden/wallet"
)

// MigrationFailure records why one legacy credential could not be migrated.
type MigrationFailure struct {
	Name   string
	Reason string
}

// MigrationReport summarizes a MigrateLegacy run. Migration is best-effort:
// a failure on one credential never aborts the rest.
type MigrationReport struct {
	Migrated []string
	Skipped  []string
	Failed   []MigrationFailure
}

// MigrateLegacy imports credentials from the old one-file-per-credential
// layout under <dir>/legacy into the unified store. passwords maps each
// legacy credential name to its per-credential password; entries without a
// password are reported as failed, not prompted for. The vault must be
// unlocked. Legacy files are left in place; call PurgeLegacy once the
// report has been reviewed.
func (v *Vault) MigrateLegacy(passwords map[string]string) (*MigrationReport, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireUnlockedLocked(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(v.legacyDir())
	if err != nil {
		if os.IsNotExist(err) {
			return &MigrationReport{}, nil
		}
		return nil, fmt.Errorf("failed to read legacy directory: %w", err)
	}

	report := &MigrationReport{}
	migrated := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), legacyFileExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), legacyFileExt)

		cred, reason := v.migrateOne(filepath.Join(v.legacyDir(), entry.Name()), name, passwords)
		if reason != "" {
			report.Failed = append(report.Failed, MigrationFailure{Name: name, Reason: reason})
			continue
		}
		if _, exists := v.creds[cred.Name]; exists {
			cred.Zero()
			report.Skipped = append(report.Skipped, cred.Name)
			continue
		}
		v.creds[cred.Name] = cred
		report.Migrated = append(report.Migrated, cred.Name)
		migrated++
	}

	if migrated > 0 {
		if err := v.persistLocked(v.masterKey); err != nil {
			for _, name := range report.Migrated {
				if c, ok := v.creds[name]; ok {
					c.Zero()
					delete(v.creds, name)
				}
			}
			return nil, err
		}
	}

	sort.Strings(report.Migrated)
	sort.Strings(report.Skipped)
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Name < report.Failed[j].Name })

	v.session.touch()
	logging.Logger.Info("legacy migration finished",
		"migrated", len(report.Migrated), "skipped", len(report.Skipped), "failed", len(report.Failed))
	return report, nil
}

// migrateOne decrypts and validates a single legacy file. It returns either
// a credential or a failure reason; secrets are zeroed on every failure path.
func (v *Vault) migrateOne(path, name string, passwords map[string]string) (*wallet.Credential, string) {
	password, ok := passwords[name]
	if !ok {
		return nil, "no password provided"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Sprintf("unreadable: %v", err)
	}
	lf, err := decodeLegacyFile(data)
	if err != nil {
		return nil, err.Error()
	}
	salt, nonce, tag, ciphertext, err := lf.fields()
	if err != nil {
		return nil, err.Error()
	}

	key := crypto.DeriveKey([]byte(password), salt, lf.KDFParams)
	secret, err := crypto.Decrypt(ciphertext, key, nonce, tag)
	crypto.ZeroBytes(key)
	if err != nil {
		return nil, "incorrect password"
	}

	cred, err := wallet.FromSecret(lf.Name, lf.Chain, secret)
	crypto.ZeroBytes(secret)
	if err != nil {
		return nil, fmt.Sprintf("invalid key material: %v", err)
	}
	if cred.Address != lf.Address {
		cred.Zero()
		return nil, fmt.Sprintf("address mismatch: derived %s, file says %s", cred.Address, lf.Address)
	}
	cred.CreatedAt = lf.CreatedAt
	return cred, ""
}

// PurgeLegacy deletes the named legacy credential files. Missing files are
// ignored so the call is safe to repeat.
func (v *Vault) PurgeLegacy(names []string) error {
	for _, name := range names {
		path := filepath.Join(v.legacyDir(), name+legacyFileExt)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove legacy file for %q: %w", name, err)
		}
	}
	return nil
}
