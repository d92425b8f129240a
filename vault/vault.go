// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

// Package vault implements the encrypted multi-chain key store: a single
// master-password-encrypted file of named credentials, unlocked into a
// timed in-memory session that wipes itself on expiry. It is a library
// with no network or CLI surface; the embedding agent composes one Vault
// at its top level and hands it to whatever needs signing material.
package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keywarden/keywarden/internal/crypto"
	"github.com/keywarden/keywarden/internal/fsutil"
	"github.com/keywarden/keywarden/internal/logging"
	"github.com/keywarden/keywarden/internal/security"
	"github.com/keywarden/keywarden/wallet"
)

// State is the vault lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateLocked
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is the non-secret view of the vault returned by Status.
type Status struct {
	Initialized      bool
	Unlocked         bool
	Credentials      int
	SessionExpiresAt time.Time // zero while locked
}

// Vault is the encrypted multi-chain key store. All methods are safe for
// concurrent use. Secret material exists in memory only between a
// successful Unlock and the next Lock (manual or timer-triggered).
type Vault struct {
	dir  string
	opts Options

	// mu guards state, creds, masterKey and the cached container
	// parameters. All mutation flows through it, so the credential map
	// needs no locking of its own.
	mu    sync.RWMutex
	state State

	creds     map[string]*wallet.Credential
	createdAt time.Time
	updatedAt time.Time

	masterKey *crypto.SecureBytes
	salt      []byte
	kdfParams crypto.Params

	// writeMu is the write-ownership token: every store write waits for
	// the previous one to finish, so read-modify-write cycles never
	// interleave.
	writeMu       sync.Mutex
	lastSelfWrite atomic.Int64

	session *session
	limiter *rateLimiter

	watchMu   sync.Mutex
	watchStop func()
}

// Open prepares a Vault over the given directory, creating it (owner-only)
// if needed. The store itself is created later by Initialize. Open never
// prompts for or requires a password.
func Open(opts Options) (*Vault, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("vault: Dir is required")
	}
	opts = opts.withDefaults()
	if err := opts.KDFParams.Validate(); err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	if err := fsutil.MkdirAll(opts.Dir); err != nil {
		return nil, fmt.Errorf("vault: failed to create store directory: %w", err)
	}

	if opts.HardenProcess {
		if err := security.LockMemory(); err != nil {
			return nil, fmt.Errorf("vault: %w", err)
		}
		if err := security.DisableCoreDumps(); err != nil {
			return nil, fmt.Errorf("vault: %w", err)
		}
	}

	v := &Vault{
		dir:       opts.Dir,
		opts:      opts,
		state:     StateUninitialized,
		kdfParams: opts.KDFParams,
		limiter:   newRateLimiter(),
	}
	v.session = newSession(opts.SessionTimeout, v.autoLock)

	if _, err := os.Stat(v.storePath()); err == nil {
		v.state = StateLocked
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("vault: failed to stat store file: %w", err)
	}
	return v, nil
}

func (v *Vault) storePath() string  { return filepath.Join(v.dir, storeFileName) }
func (v *Vault) legacyDir() string  { return filepath.Join(v.dir, legacyDirName) }
func (v *Vault) exportsDir() string { return filepath.Join(v.dir, exportsDirName) }

// IsInitialized reports whether a store file exists.
func (v *Vault) IsInitialized() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state != StateUninitialized
}

// Status returns the non-secret vault state.
func (v *Vault) Status() Status {
	v.mu.RLock()
	defer v.mu.RUnlock()
	st := Status{
		Initialized: v.state != StateUninitialized,
		Unlocked:    v.state == StateUnlocked,
		Credentials: len(v.creds),
	}
	if st.Unlocked {
		st.SessionExpiresAt = v.session.expiresAt()
	}
	return st
}

// Initialize creates a new empty store encrypted under password and leaves
// the vault unlocked.
func (v *Vault) Initialize(password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != StateUninitialized {
		return ErrAlreadyInitialized
	}
	if len(password) < MinPasswordLen {
		return ErrWeakPassword
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return err
	}
	key := crypto.DeriveKey([]byte(password), salt, v.opts.KDFParams)
	master := crypto.NewSecureBytes(key)
	crypto.ZeroBytes(key)

	now := time.Now().UTC()
	v.creds = make(map[string]*wallet.Credential)
	v.createdAt = now
	v.updatedAt = now
	v.salt = salt
	v.kdfParams = v.opts.KDFParams

	if err := v.persistLocked(master); err != nil {
		master.Destroy()
		v.creds = nil
		return err
	}

	v.masterKey = master
	v.state = StateUnlocked
	v.session.touch()
	logging.Logger.Info("store initialized", "dir", v.dir)
	return nil
}

// Unlock decrypts the store and starts the inactivity session. Calling it
// while already unlocked refreshes the timer and returns immediately
// without re-running the key derivation. Failed attempts count toward the
// rate limiter; while a lockout window is in effect the attempt is
// rejected before any derivation work.
func (v *Vault) Unlock(password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case StateUnlocked:
		v.session.touch()
		return nil
	case StateUninitialized:
		return ErrNotInitialized
	}

	if err := v.limiter.check(); err != nil {
		return err
	}

	cont, err := v.readContainer()
	if err != nil {
		return err
	}
	salt, nonce, tag, ciphertext, err := cont.fields()
	if err != nil {
		return err
	}

	key := crypto.DeriveKey([]byte(password), salt, cont.KDFParams)
	plaintext, err := crypto.Decrypt(ciphertext, key, nonce, tag)
	if err != nil {
		crypto.ZeroBytes(key)
		v.limiter.fail()
		return ErrIncorrectPassword
	}

	creds, createdAt, updatedAt, err := decodeContent(plaintext)
	crypto.ZeroBytes(plaintext)
	if err != nil {
		crypto.ZeroBytes(key)
		return err
	}

	v.creds = creds
	v.createdAt = createdAt
	v.updatedAt = updatedAt
	v.masterKey = crypto.NewSecureBytes(key)
	crypto.ZeroBytes(key)
	v.salt = salt
	v.kdfParams = cont.KDFParams
	v.state = StateUnlocked
	v.limiter.reset()
	v.session.touch()
	logging.Logger.Info("store unlocked", "credentials", len(creds))
	return nil
}

// Lock wipes all decrypted material and cancels the inactivity timer.
// Locking an already locked vault is a no-op.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lockLocked()
}

// lockLocked wipes secrets and transitions to StateLocked. Caller holds mu.
func (v *Vault) lockLocked() {
	if v.state != StateUnlocked {
		return
	}
	v.session.stop()
	for _, c := range v.creds {
		c.Zero()
	}
	v.creds = nil
	v.masterKey.Destroy()
	v.masterKey = nil
	v.state = StateLocked
	logging.Logger.Info("store locked")
}

// autoLock is the session timer callback.
func (v *Vault) autoLock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateUnlocked {
		return
	}
	logging.Logger.Info("session timeout, locking store", "timeout", v.opts.SessionTimeout)
	v.lockLocked()
}

// SetSessionTimeout updates the inactivity window, clamped to
// [MinSessionTimeout, MaxSessionTimeout]. A running session is re-armed
// with the new window.
func (v *Vault) SetSessionTimeout(d time.Duration) time.Duration {
	d = clampSessionTimeout(d)
	v.mu.Lock()
	v.opts.SessionTimeout = d
	v.mu.Unlock()
	v.session.setTimeout(d)
	return d
}

// Close locks the vault and stops the store watcher if one is running.
func (v *Vault) Close() {
	v.StopWatch()
	v.Lock()
}

// AddWallet generates a fresh credential of the given chain class, inserts
// it and persists the store. The name must be unused.
func (v *Vault) AddWallet(name string, chain wallet.ChainType) (wallet.Info, error) {
	return v.addCredential(name, func() (*wallet.Credential, error) {
		return wallet.Generate(name, chain)
	})
}

// ImportWallet parses external key material (hex, base64, JSON numeric
// array or base58 depending on chain class) and inserts it like AddWallet.
func (v *Vault) ImportWallet(name string, chain wallet.ChainType, material string) (wallet.Info, error) {
	return v.addCredential(name, func() (*wallet.Credential, error) {
		secret, err := wallet.ParseKeyMaterial(chain, material)
		if err != nil {
			return nil, err
		}
		cred, err := wallet.FromSecret(name, chain, secret)
		crypto.ZeroBytes(secret)
		return cred, err
	})
}

func (v *Vault) addCredential(name string, build func() (*wallet.Credential, error)) (wallet.Info, error) {
	if name == "" {
		return wallet.Info{}, fmt.Errorf("credential name is required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireUnlockedLocked(); err != nil {
		return wallet.Info{}, err
	}
	if _, exists := v.creds[name]; exists {
		return wallet.Info{}, fmt.Errorf("%w: %q", ErrCredentialExists, name)
	}

	cred, err := build()
	if err != nil {
		return wallet.Info{}, err
	}

	v.creds[name] = cred
	if err := v.persistLocked(v.masterKey); err != nil {
		delete(v.creds, name)
		cred.Zero()
		return wallet.Info{}, err
	}

	v.session.touch()
	logging.Logger.Info("credential added", "name", name, "chain", cred.Chain, "address", cred.Address)
	return cred.Info(), nil
}

// RemoveWallet zeroes the credential's secret, removes it and persists.
func (v *Vault) RemoveWallet(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireUnlockedLocked(); err != nil {
		return err
	}
	cred, exists := v.creds[name]
	if !exists {
		return fmt.Errorf("%w: %q", ErrCredentialNotFound, name)
	}

	cred.Zero()
	delete(v.creds, name)
	if err := v.persistLocked(v.masterKey); err != nil {
		return err
	}

	v.session.touch()
	logging.Logger.Info("credential removed", "name", name)
	return nil
}

// ListWallets returns non-secret metadata for every credential, sorted by
// name. Requires the vault to be unlocked.
func (v *Vault) ListWallets() ([]wallet.Info, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.requireUnlockedLocked(); err != nil {
		return nil, err
	}
	infos := make([]wallet.Info, 0, len(v.creds))
	for _, c := range v.creds {
		infos = append(infos, c.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// WalletInfo returns non-secret metadata for one credential.
func (v *Vault) WalletInfo(name string) (wallet.Info, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.requireUnlockedLocked(); err != nil {
		return wallet.Info{}, err
	}
	cred, exists := v.creds[name]
	if !exists {
		return wallet.Info{}, fmt.Errorf("%w: %q", ErrCredentialNotFound, name)
	}
	return cred.Info(), nil
}

// SigningHandle returns live key material for signing and refreshes the
// session timer. The returned material is a copy owned by the caller, who
// must Zero it when the signing operation completes. Fails fast with
// ErrLocked when the store is locked; callers must not block waiting for a
// human to unlock.
func (v *Vault) SigningHandle(name string) (*wallet.KeyMaterial, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.requireUnlockedLocked(); err != nil {
		return nil, err
	}
	cred, exists := v.creds[name]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrCredentialNotFound, name)
	}

	secret := make([]byte, len(cred.SecretKey))
	copy(secret, cred.SecretKey)
	pub := make([]byte, len(cred.PublicKey))
	copy(pub, cred.PublicKey)

	v.session.touch()
	return &wallet.KeyMaterial{
		Chain:     cred.Chain,
		SecretKey: secret,
		PublicKey: pub,
		Address:   cred.Address,
	}, nil
}

// ChangePassword verifies the old password against the store file, derives
// a brand-new salt and key for the new password and re-encrypts the full
// content. The old key is discarded only after the new container is
// written. A wrong old password counts toward the rate limiter.
func (v *Vault) ChangePassword(oldPassword, newPassword string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == StateUninitialized {
		return ErrNotInitialized
	}
	if len(newPassword) < MinPasswordLen {
		return ErrWeakPassword
	}
	if err := v.limiter.check(); err != nil {
		return err
	}

	cont, err := v.readContainer()
	if err != nil {
		return err
	}
	salt, nonce, tag, ciphertext, err := cont.fields()
	if err != nil {
		return err
	}

	oldKey := crypto.DeriveKey([]byte(oldPassword), salt, cont.KDFParams)
	plaintext, err := crypto.Decrypt(ciphertext, oldKey, nonce, tag)
	if err != nil {
		crypto.ZeroBytes(oldKey)
		v.limiter.fail()
		return ErrIncorrectPassword
	}
	v.limiter.reset()

	// Brand-new salt and key; re-encrypting under the old salt would reuse
	// a (salt, nonce) risk surface across passwords. New containers always
	// use the current default parameters.
	newSalt, err := crypto.NewSalt()
	if err != nil {
		crypto.ZeroBytes(oldKey)
		crypto.ZeroBytes(plaintext)
		return err
	}
	newKey := crypto.DeriveKey([]byte(newPassword), newSalt, v.opts.KDFParams)

	newNonce, newCiphertext, newTag, err := crypto.Encrypt(plaintext, newKey)
	crypto.ZeroBytes(plaintext)
	if err != nil {
		crypto.ZeroBytes(oldKey)
		crypto.ZeroBytes(newKey)
		return err
	}

	data, err := newContainer(v.opts.KDFParams, newSalt, newNonce, newCiphertext, newTag).encode()
	if err != nil {
		crypto.ZeroBytes(oldKey)
		crypto.ZeroBytes(newKey)
		return fmt.Errorf("failed to encode store container: %w", err)
	}
	if err := v.writeStore(data); err != nil {
		crypto.ZeroBytes(oldKey)
		crypto.ZeroBytes(newKey)
		return err
	}

	crypto.ZeroBytes(oldKey)
	v.salt = newSalt
	v.kdfParams = v.opts.KDFParams
	if v.state == StateUnlocked {
		v.masterKey.Destroy()
		v.masterKey = crypto.NewSecureBytes(newKey)
		v.session.touch()
	}
	crypto.ZeroBytes(newKey)
	logging.Logger.Info("master password changed")
	return nil
}

// requireUnlockedLocked validates the state for operations that need
// decrypted content. Caller holds mu (read or write).
func (v *Vault) requireUnlockedLocked() error {
	switch v.state {
	case StateUninitialized:
		return ErrNotInitialized
	case StateLocked:
		return ErrLocked
	default:
		return nil
	}
}

// readContainer loads and parses the store file.
func (v *Vault) readContainer() (*container, error) {
	data, err := os.ReadFile(v.storePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}
	return decodeContainer(data)
}

// persistLocked serializes the in-memory content, seals it under master with
// a fresh nonce (reusing the current salt and KDF parameters) and writes the
// container atomically. Caller holds mu.
func (v *Vault) persistLocked(master *crypto.SecureBytes) error {
	next := time.Now().UTC()
	if !next.After(v.updatedAt) {
		next = v.updatedAt.Add(time.Nanosecond)
	}

	plaintext, err := encodeContent(v.creds, v.createdAt, next)
	if err != nil {
		return fmt.Errorf("failed to encode store content: %w", err)
	}
	var nonce, ciphertext, tag []byte
	err = master.WithBytes(func(key []byte) error {
		var sealErr error
		nonce, ciphertext, tag, sealErr = crypto.Encrypt(plaintext, key)
		return sealErr
	})
	crypto.ZeroBytes(plaintext)
	if err != nil {
		return err
	}

	data, err := newContainer(v.kdfParams, v.salt, nonce, ciphertext, tag).encode()
	if err != nil {
		return fmt.Errorf("failed to encode store container: %w", err)
	}
	if err := v.writeStore(data); err != nil {
		return err
	}
	v.updatedAt = next
	return nil
}

// writeStore performs the serialized atomic write of the container bytes.
func (v *Vault) writeStore(data []byte) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	if err := fsutil.WriteFileAtomic(v.storePath(), data); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	v.lastSelfWrite.Store(time.Now().UnixNano())
	return nil
}
