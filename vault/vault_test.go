// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

package vault

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/keywarden/keywarden/internal/crypto"
	"github.com/keywarden/keywarden/wallet"
)

// testKDFParams keeps Argon2id cheap enough for tests while staying above
// the validation floor.
var testKDFParams = crypto.Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1, KeyLen: 32}

const testPassword = "correct horse battery"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(Options{Dir: t.TempDir(), KDFParams: testKDFParams})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(v.Close)
	return v
}

func reopen(t *testing.T, v *Vault) *Vault {
	t.Helper()
	v2, err := Open(Options{Dir: v.dir, KDFParams: testKDFParams})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(v2.Close)
	return v2
}

func TestInitializeAndReopen(t *testing.T) {
	v := newTestVault(t)

	if v.IsInitialized() {
		t.Fatal("fresh vault reports initialized")
	}
	if err := v.Unlock(testPassword); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Unlock before init: got %v, want ErrNotInitialized", err)
	}
	if err := v.Initialize("short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("Initialize with weak password: got %v, want ErrWeakPassword", err)
	}
	if err := v.Initialize(testPassword); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := v.Initialize(testPassword); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second Initialize: got %v, want ErrAlreadyInitialized", err)
	}

	st := v.Status()
	if !st.Initialized || !st.Unlocked || st.Credentials != 0 {
		t.Fatalf("unexpected status after init: %+v", st)
	}

	info, err := v.AddWallet("sol-hot", wallet.ChainEd25519)
	if err != nil {
		t.Fatalf("AddWallet: %v", err)
	}
	if _, err := v.AddWallet("eth-hot", wallet.ChainSecp256k1); err != nil {
		t.Fatalf("AddWallet secp256k1: %v", err)
	}

	// A second instance over the same directory must see the store and
	// reproduce the same addresses after unlock.
	v2 := reopen(t, v)
	if !v2.IsInitialized() {
		t.Fatal("reopened vault reports uninitialized")
	}
	if err := v2.Unlock("wrong password!"); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("Unlock wrong password: got %v, want ErrIncorrectPassword", err)
	}
	if err := v2.Unlock(testPassword); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	got, err := v2.WalletInfo("sol-hot")
	if err != nil {
		t.Fatalf("WalletInfo: %v", err)
	}
	if got.Address != info.Address {
		t.Fatalf("address changed across instances: %s != %s", got.Address, info.Address)
	}
}

func TestUnlockIdempotentWhileUnlocked(t *testing.T) {
	v := newTestVault(t)
	if err := v.Initialize(testPassword); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// A second Unlock on an unlocked vault succeeds without touching the
	// password at all; even garbage passes.
	if err := v.Unlock("not the password"); err != nil {
		t.Fatalf("Unlock while unlocked: %v", err)
	}
	if !v.Status().Unlocked {
		t.Fatal("vault locked itself")
	}
}

func TestLockedOperationsFail(t *testing.T) {
	v := newTestVault(t)
	if err := v.Initialize(testPassword); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := v.AddWallet("w", wallet.ChainEd25519); err != nil {
		t.Fatalf("AddWallet: %v", err)
	}
	v.Lock()

	st := v.Status()
	if st.Unlocked || !st.SessionExpiresAt.IsZero() {
		t.Fatalf("unexpected status after lock: %+v", st)
	}

	if _, err := v.ListWallets(); !errors.Is(err, ErrLocked) {
		t.Fatalf("ListWallets: got %v, want ErrLocked", err)
	}
	if _, err := v.SigningHandle("w"); !errors.Is(err, ErrLocked) {
		t.Fatalf("SigningHandle: got %v, want ErrLocked", err)
	}
	if _, err := v.AddWallet("w2", wallet.ChainEd25519); !errors.Is(err, ErrLocked) {
		t.Fatalf("AddWallet: got %v, want ErrLocked", err)
	}
	if err := v.RemoveWallet("w"); !errors.Is(err, ErrLocked) {
		t.Fatalf("RemoveWallet: got %v, want ErrLocked", err)
	}

	// Lock on a locked vault is a no-op.
	v.Lock()
}

func TestCredentialLifecycle(t *testing.T) {
	v := newTestVault(t)
	if err := v.Initialize(testPassword); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for _, name := range []string{"charlie", "alice", "bob"} {
		if _, err := v.AddWallet(name, wallet.ChainEd25519); err != nil {
			t.Fatalf("AddWallet(%s): %v", name, err)
		}
	}
	if _, err := v.AddWallet("alice", wallet.ChainSecp256k1); !errors.Is(err, ErrCredentialExists) {
		t.Fatalf("duplicate AddWallet: got %v, want ErrCredentialExists", err)
	}
	if _, err := v.AddWallet("", wallet.ChainEd25519); err == nil {
		t.Fatal("AddWallet with empty name succeeded")
	}

	infos, err := v.ListWallets()
	if err != nil {
		t.Fatalf("ListWallets: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("got %d credentials, want 3", len(infos))
	}
	for i, want := range []string{"alice", "bob", "charlie"} {
		if infos[i].Name != want {
			t.Fatalf("list not sorted: position %d is %s, want %s", i, infos[i].Name, want)
		}
	}

	if err := v.RemoveWallet("bob"); err != nil {
		t.Fatalf("RemoveWallet: %v", err)
	}
	if err := v.RemoveWallet("bob"); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("double RemoveWallet: got %v, want ErrCredentialNotFound", err)
	}
	if _, err := v.WalletInfo("bob"); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("WalletInfo after remove: got %v, want ErrCredentialNotFound", err)
	}

	// Removal persists.
	v2 := reopen(t, v)
	if err := v2.Unlock(testPassword); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if st := v2.Status(); st.Credentials != 2 {
		t.Fatalf("got %d credentials after reopen, want 2", st.Credentials)
	}
}

func TestImportEncodingsAgree(t *testing.T) {
	v := newTestVault(t)
	if err := v.Initialize(testPassword); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	gen, err := v.AddWallet("origin", wallet.ChainEd25519)
	if err != nil {
		t.Fatalf("AddWallet: %v", err)
	}
	handle, err := v.SigningHandle("origin")
	if err != nil {
		t.Fatalf("SigningHandle: %v", err)
	}
	defer handle.Zero()

	hexMat := hex.EncodeToString(handle.SecretKey)
	ints := make([]int, len(handle.SecretKey))
	for i, b := range handle.SecretKey {
		ints[i] = int(b)
	}
	arr, err := json.Marshal(ints)
	if err != nil {
		t.Fatalf("marshal array: %v", err)
	}

	for name, material := range map[string]string{
		"from-hex":   hexMat,
		"from-array": string(arr),
	} {
		info, err := v.ImportWallet(name, wallet.ChainEd25519, material)
		if err != nil {
			t.Fatalf("ImportWallet(%s): %v", name, err)
		}
		if info.Address != gen.Address {
			t.Fatalf("%s derives %s, want %s", name, info.Address, gen.Address)
		}
	}

	if _, err := v.ImportWallet("junk", wallet.ChainEd25519, "not key material"); err == nil {
		t.Fatal("ImportWallet accepted garbage")
	}
	if _, err := v.WalletInfo("junk"); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatal("failed import left a credential behind")
	}
}

func TestSigningHandleIsACopy(t *testing.T) {
	v := newTestVault(t)
	if err := v.Initialize(testPassword); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := v.AddWallet("w", wallet.ChainSecp256k1); err != nil {
		t.Fatalf("AddWallet: %v", err)
	}

	h1, err := v.SigningHandle("w")
	if err != nil {
		t.Fatalf("SigningHandle: %v", err)
	}
	h1.Zero()

	h2, err := v.SigningHandle("w")
	if err != nil {
		t.Fatalf("SigningHandle: %v", err)
	}
	defer h2.Zero()
	if bytes.Equal(h2.SecretKey, make([]byte, len(h2.SecretKey))) {
		t.Fatal("zeroing a handle wiped the vault's copy")
	}
	if _, err := h2.ECDSA(); err != nil {
		t.Fatalf("ECDSA: %v", err)
	}
	if _, err := h2.Ed25519(); err == nil {
		t.Fatal("Ed25519 accessor on secp256k1 handle succeeded")
	}
}

func TestConcurrentAdds(t *testing.T) {
	v := newTestVault(t)
	if err := v.Initialize(testPassword); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = v.AddWallet(fmt.Sprintf("w-%d", i), wallet.ChainEd25519)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("AddWallet(w-%d): %v", i, err)
		}
	}

	// Every credential must survive the interleaved persists.
	v2 := reopen(t, v)
	if err := v2.Unlock(testPassword); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if st := v2.Status(); st.Credentials != n {
		t.Fatalf("got %d credentials, want %d", st.Credentials, n)
	}
}

func TestChangePassword(t *testing.T) {
	v := newTestVault(t)
	if err := v.Initialize(testPassword); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := v.AddWallet("w", wallet.ChainEd25519); err != nil {
		t.Fatalf("AddWallet: %v", err)
	}

	const newPassword = "a brand new passphrase"
	if err := v.ChangePassword(testPassword, "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("weak new password: got %v, want ErrWeakPassword", err)
	}
	if err := v.ChangePassword("wrong old", newPassword); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("wrong old password: got %v, want ErrIncorrectPassword", err)
	}
	if err := v.ChangePassword(testPassword, newPassword); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// The vault stayed unlocked and keeps working with the swapped key.
	if _, err := v.AddWallet("after", wallet.ChainSecp256k1); err != nil {
		t.Fatalf("AddWallet after password change: %v", err)
	}

	v2 := reopen(t, v)
	if err := v2.Unlock(testPassword); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("old password still unlocks: %v", err)
	}
	if err := v2.Unlock(newPassword); err != nil {
		t.Fatalf("Unlock with new password: %v", err)
	}
	if st := v2.Status(); st.Credentials != 2 {
		t.Fatalf("got %d credentials, want 2", st.Credentials)
	}
}

func TestChangePasswordWhileLocked(t *testing.T) {
	v := newTestVault(t)
	if err := v.Initialize(testPassword); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	v.Lock()

	const newPassword = "a brand new passphrase"
	if err := v.ChangePassword(testPassword, newPassword); err != nil {
		t.Fatalf("ChangePassword while locked: %v", err)
	}
	if v.Status().Unlocked {
		t.Fatal("ChangePassword unlocked the vault")
	}
	if err := v.Unlock(newPassword); err != nil {
		t.Fatalf("Unlock with new password: %v", err)
	}
}

func TestCorruptAndUnsupportedStores(t *testing.T) {
	v := newTestVault(t)
	if err := v.Initialize(testPassword); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	v.Lock()

	path := v.storePath()
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}

	// Truncated JSON.
	if err := os.WriteFile(path, original[:len(original)/2], 0600); err != nil {
		t.Fatalf("write store: %v", err)
	}
	if err := v.Unlock(testPassword); !errors.Is(err, ErrCorruptStore) {
		t.Fatalf("truncated store: got %v, want ErrCorruptStore", err)
	}

	// Unknown format version fails closed before any password work.
	if err := os.WriteFile(path, []byte(`{"format_version": 99}`), 0600); err != nil {
		t.Fatalf("write store: %v", err)
	}
	var verr *UnsupportedVersionError
	if err := v.Unlock(testPassword); !errors.As(err, &verr) || verr.Version != 99 {
		t.Fatalf("future store: got %v, want UnsupportedVersionError{99}", err)
	}

	// Flipped ciphertext byte is indistinguishable from a wrong password.
	var c container
	if err := json.Unmarshal(original, &c); err != nil {
		t.Fatalf("unmarshal container: %v", err)
	}
	raw := []byte(c.Ciphertext)
	if raw[0] == 'A' {
		raw[0] = 'B'
	} else {
		raw[0] = 'A'
	}
	c.Ciphertext = string(raw)
	tampered, err := c.encode()
	if err != nil {
		t.Fatalf("encode container: %v", err)
	}
	if err := os.WriteFile(path, tampered, 0600); err != nil {
		t.Fatalf("write store: %v", err)
	}
	if err := v.Unlock(testPassword); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("tampered store: got %v, want ErrIncorrectPassword", err)
	}

	// Intact store still unlocks.
	if err := os.WriteFile(path, original, 0600); err != nil {
		t.Fatalf("restore store: %v", err)
	}
	if err := v.Unlock(testPassword); err != nil {
		t.Fatalf("Unlock restored store: %v", err)
	}
}

func TestIntegrityCheckRejectsSwappedAddress(t *testing.T) {
	v := newTestVault(t)
	if err := v.Initialize(testPassword); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := v.AddWallet("w", wallet.ChainEd25519); err != nil {
		t.Fatalf("AddWallet: %v", err)
	}
	v.Lock()

	// Forge a store whose stored address no longer matches its secret,
	// simulating tampering by someone who knows the password.
	data, err := os.ReadFile(v.storePath())
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	cont, err := decodeContainer(data)
	if err != nil {
		t.Fatalf("decodeContainer: %v", err)
	}
	salt, nonce, tag, ciphertext, err := cont.fields()
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	key := crypto.DeriveKey([]byte(testPassword), salt, cont.KDFParams)
	plaintext, err := crypto.Decrypt(ciphertext, key, nonce, tag)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	var sc storeContent
	if err := json.Unmarshal(plaintext, &sc); err != nil {
		t.Fatalf("unmarshal content: %v", err)
	}
	stored := sc.Credentials["w"]
	stored.Address = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	sc.Credentials["w"] = stored
	forged, err := json.Marshal(sc)
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	newNonce, newCiphertext, newTag, err := crypto.Encrypt(forged, key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	out, err := newContainer(cont.KDFParams, salt, newNonce, newCiphertext, newTag).encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(v.storePath(), out, 0600); err != nil {
		t.Fatalf("write store: %v", err)
	}

	if err := v.Unlock(testPassword); !errors.Is(err, ErrIntegrityCheckFailed) {
		t.Fatalf("forged store: got %v, want ErrIntegrityCheckFailed", err)
	}
	if v.Status().Unlocked {
		t.Fatal("vault unlocked despite integrity failure")
	}
}

func TestExport(t *testing.T) {
	v := newTestVault(t)
	if err := v.Initialize(testPassword); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	info, err := v.AddWallet("backup-me", wallet.ChainSecp256k1)
	if err != nil {
		t.Fatalf("AddWallet: %v", err)
	}

	if _, err := v.Export("missing"); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("Export missing: got %v, want ErrCredentialNotFound", err)
	}

	path, err := v.Export("backup-me")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	// The export file decrypts with the master password and round-trips the
	// credential.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	cont, err := decodeContainer(data)
	if err != nil {
		t.Fatalf("decodeContainer: %v", err)
	}
	salt, nonce, tag, ciphertext, err := cont.fields()
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	key := crypto.DeriveKey([]byte(testPassword), salt, cont.KDFParams)
	plaintext, err := crypto.Decrypt(ciphertext, key, nonce, tag)
	if err != nil {
		t.Fatalf("export does not decrypt with master password: %v", err)
	}
	var payload exportPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Address != info.Address || payload.Chain != wallet.ChainSecp256k1 {
		t.Fatalf("payload mismatch: %+v", payload)
	}
	secret, err := hex.DecodeString(payload.SecretKey)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	addr, err := wallet.DeriveAddress(wallet.ChainSecp256k1, secret)
	if err != nil {
		t.Fatalf("DeriveAddress: %v", err)
	}
	if addr != info.Address {
		t.Fatalf("exported secret derives %s, want %s", addr, info.Address)
	}
}

func TestMasterKeyLifecycle(t *testing.T) {
	v := newTestVault(t)
	if err := v.Initialize(testPassword); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	v.mu.RLock()
	master := v.masterKey
	v.mu.RUnlock()
	if master == nil || master.IsEmpty() {
		t.Fatal("no master key held while unlocked")
	}

	// Lock destroys the buffer, not just the reference.
	v.Lock()
	if !master.IsEmpty() {
		t.Fatal("master key not destroyed on lock")
	}
	v.mu.RLock()
	released := v.masterKey == nil
	v.mu.RUnlock()
	if !released {
		t.Fatal("master key still referenced after lock")
	}

	// ChangePassword while unlocked destroys the old key and swaps in the new.
	if err := v.Unlock(testPassword); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	v.mu.RLock()
	master = v.masterKey
	v.mu.RUnlock()
	if err := v.ChangePassword(testPassword, "a brand new passphrase"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if !master.IsEmpty() {
		t.Fatal("old master key survived password change")
	}
	if _, err := v.AddWallet("after-swap", wallet.ChainEd25519); err != nil {
		t.Fatalf("AddWallet with swapped key: %v", err)
	}
}

func TestStoreChangedExternally(t *testing.T) {
	v := newTestVault(t)
	if err := v.Initialize(testPassword); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Recent self-write: change is ours, stay unlocked.
	v.lastSelfWrite.Store(time.Now().UnixNano())
	v.storeChanged()
	if !v.Status().Unlocked {
		t.Fatal("locked on our own write")
	}

	// Stale self-write: change is external, lock.
	v.lastSelfWrite.Store(time.Now().Add(-time.Minute).UnixNano())
	v.storeChanged()
	if v.Status().Unlocked {
		t.Fatal("stayed unlocked after external modification")
	}
}

func TestWatchStoreStartStop(t *testing.T) {
	v := newTestVault(t)
	if err := v.Initialize(testPassword); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := v.WatchStore(); err != nil {
		t.Fatalf("WatchStore: %v", err)
	}
	if err := v.WatchStore(); err == nil {
		t.Fatal("second WatchStore succeeded")
	}
	v.StopWatch()
	v.StopWatch() // idempotent

	if err := v.WatchStore(); err != nil {
		t.Fatalf("WatchStore after stop: %v", err)
	}
}
