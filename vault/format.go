// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

package vault

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/keywarden/keywarden/internal/crypto"
	"github.com/keywarden/keywarden/wallet"
)

const (
	// formatVersionLegacy is the older one-file-per-credential format,
	// each file encrypted under that credential's own password. Read only
	// by the migration adapter.
	formatVersionLegacy = 1

	// formatVersionUnified is the single-file store encrypted under the
	// master password.
	formatVersionUnified = 2

	cipherAESGCM = "aes-256-gcm"
	kdfArgon2id  = "argon2id"

	storeFileName  = "store.json"
	legacyDirName  = "legacy"
	exportsDirName = "exports"
	legacyFileExt  = ".key"
)

// container is the on-disk envelope shared by the unified store file and
// export files: KDF metadata in the clear, payload sealed with AES-256-GCM.
// The salt is fixed for the lifetime of a password; the nonce is fresh for
// every write.
type container struct {
	FormatVersion int           `json:"format_version"`
	Cipher        string        `json:"cipher"`
	KDF           string        `json:"kdf"`
	KDFParams     crypto.Params `json:"kdf_params"`
	Salt          string        `json:"salt"`
	Nonce         string        `json:"nonce"`
	Tag           string        `json:"tag"`
	Ciphertext    string        `json:"ciphertext"`
}

func newContainer(params crypto.Params, salt, nonce, ciphertext, tag []byte) *container {
	return &container{
		FormatVersion: formatVersionUnified,
		Cipher:        cipherAESGCM,
		KDF:           kdfArgon2id,
		KDFParams:     params,
		Salt:          base64.StdEncoding.EncodeToString(salt),
		Nonce:         base64.StdEncoding.EncodeToString(nonce),
		Tag:           base64.StdEncoding.EncodeToString(tag),
		Ciphertext:    base64.StdEncoding.EncodeToString(ciphertext),
	}
}

// decodeContainer parses a unified store container, failing closed on
// unknown format versions and unknown algorithm names.
func decodeContainer(data []byte) (*container, error) {
	var versionProbe struct {
		FormatVersion int `json:"format_version"`
	}
	if err := json.Unmarshal(data, &versionProbe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if versionProbe.FormatVersion != formatVersionUnified {
		return nil, &UnsupportedVersionError{Version: versionProbe.FormatVersion}
	}

	var c container
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if c.Cipher != cipherAESGCM {
		return nil, fmt.Errorf("%w: unknown cipher %q", ErrCorruptStore, c.Cipher)
	}
	if c.KDF != kdfArgon2id {
		return nil, fmt.Errorf("%w: unknown kdf %q", ErrCorruptStore, c.KDF)
	}
	if err := c.KDFParams.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	return &c, nil
}

func (c *container) encode() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// fields decodes the binary container fields.
func (c *container) fields() (salt, nonce, tag, ciphertext []byte, err error) {
	for _, f := range []struct {
		name string
		src  string
		dst  *[]byte
	}{
		{"salt", c.Salt, &salt},
		{"nonce", c.Nonce, &nonce},
		{"tag", c.Tag, &tag},
		{"ciphertext", c.Ciphertext, &ciphertext},
	} {
		b, err := base64.StdEncoding.DecodeString(f.src)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("%w: bad %s encoding", ErrCorruptStore, f.name)
		}
		*f.dst = b
	}
	return salt, nonce, tag, ciphertext, nil
}

// storeContent is the plaintext payload of the unified container. It exists
// only in memory while the vault is unlocked.
type storeContent struct {
	FormatVersion int                         `json:"format_version"`
	CreatedAt     time.Time                   `json:"created_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`
	Credentials   map[string]storedCredential `json:"credentials"`
}

type storedCredential struct {
	Name      string           `json:"name"`
	Chain     wallet.ChainType `json:"chain_type"`
	SecretKey string           `json:"secret_key"` // hex
	PublicKey string           `json:"public_key"` // hex
	Address   string           `json:"address"`
	CreatedAt time.Time        `json:"created_at"`
}

// encodeContent serializes the in-memory credentials. The returned buffer
// holds plaintext secrets; the caller must zero it after encryption.
func encodeContent(creds map[string]*wallet.Credential, createdAt, updatedAt time.Time) ([]byte, error) {
	sc := storeContent{
		FormatVersion: formatVersionUnified,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
		Credentials:   make(map[string]storedCredential, len(creds)),
	}
	for name, c := range creds {
		sc.Credentials[name] = storedCredential{
			Name:      c.Name,
			Chain:     c.Chain,
			SecretKey: hex.EncodeToString(c.SecretKey),
			PublicKey: hex.EncodeToString(c.PublicKey),
			Address:   c.Address,
			CreatedAt: c.CreatedAt,
		}
	}
	return json.Marshal(sc)
}

// decodeContent parses decrypted store content and rebuilds the credential
// map, re-deriving every credential's address from its secret and rejecting
// the store on any mismatch. On any error, all partially decoded secret
// buffers are zeroed before returning.
func decodeContent(plaintext []byte) (map[string]*wallet.Credential, time.Time, time.Time, error) {
	var sc storeContent
	if err := json.Unmarshal(plaintext, &sc); err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if sc.FormatVersion != formatVersionUnified {
		return nil, time.Time{}, time.Time{}, &UnsupportedVersionError{Version: sc.FormatVersion}
	}

	creds := make(map[string]*wallet.Credential, len(sc.Credentials))
	fail := func(err error) (map[string]*wallet.Credential, time.Time, time.Time, error) {
		for _, c := range creds {
			c.Zero()
		}
		return nil, time.Time{}, time.Time{}, err
	}

	for name, stored := range sc.Credentials {
		secret, err := hex.DecodeString(stored.SecretKey)
		if err != nil {
			return fail(fmt.Errorf("%w: credential %q has invalid secret encoding", ErrCorruptStore, name))
		}
		cred, err := wallet.FromSecret(stored.Name, stored.Chain, secret)
		crypto.ZeroBytes(secret)
		if err != nil {
			return fail(fmt.Errorf("%w: credential %q: %v", ErrIntegrityCheckFailed, name, err))
		}
		if cred.Address != stored.Address {
			cred.Zero()
			return fail(fmt.Errorf("%w: credential %q derives %s, stored %s",
				ErrIntegrityCheckFailed, name, cred.Address, stored.Address))
		}
		cred.CreatedAt = stored.CreatedAt
		creds[name] = cred
	}
	return creds, sc.CreatedAt, sc.UpdatedAt, nil
}

// legacyFile is the format-version-1 per-credential file: non-secret
// metadata in the clear, the raw secret key bytes sealed under that
// credential's own password and salt.
type legacyFile struct {
	FormatVersion int              `json:"format_version"`
	Name          string           `json:"name"`
	Chain         wallet.ChainType `json:"chain_type"`
	Address       string           `json:"address"`
	CreatedAt     time.Time        `json:"created_at"`
	KDF           string           `json:"kdf"`
	KDFParams     crypto.Params    `json:"kdf_params"`
	Salt          string           `json:"salt"`
	Nonce         string           `json:"nonce"`
	Tag           string           `json:"tag"`
	Ciphertext    string           `json:"ciphertext"`
}

func decodeLegacyFile(data []byte) (*legacyFile, error) {
	var lf legacyFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if lf.FormatVersion != formatVersionLegacy {
		return nil, &UnsupportedVersionError{Version: lf.FormatVersion}
	}
	if lf.KDF != kdfArgon2id {
		return nil, fmt.Errorf("%w: unknown kdf %q", ErrCorruptStore, lf.KDF)
	}
	if err := lf.KDFParams.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	return &lf, nil
}

func (lf *legacyFile) fields() (salt, nonce, tag, ciphertext []byte, err error) {
	c := container{Salt: lf.Salt, Nonce: lf.Nonce, Tag: lf.Tag, Ciphertext: lf.Ciphertext}
	return c.fields()
}
