// Package wallet persists the ed25519 signing accounts a node forges
// blocks on behalf of, and exposes them through a capability that never
// hands out raw private key material.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nxtnode/nxtnode/internal/consensus"
)

const accountsKeyFile = "generator_accounts.key"

// Wallet is a mutex-guarded set of generator accounts loaded from a single
// file under the node's data directory. One file holds the concatenation
// of every private key it owns, 64 bytes each (ed25519.PrivateKeySize).
type Wallet struct {
	mu   sync.RWMutex
	path string
	keys []ed25519.PrivateKey
}

// Open loads the wallet's accounts from dataDir, creating a fresh
// single-account wallet if none exists yet.
func Open(dataDir string) (*Wallet, error) {
	path := filepath.Join(dataDir, accountsKeyFile)

	w := &Wallet{path: path}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := w.decode(data); err != nil {
			return nil, fmt.Errorf("decode wallet accounts: %w", err)
		}
		return w, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read wallet accounts: %w", err)
	}

	if _, err := w.generateAccount(); err != nil {
		return nil, err
	}
	if err := w.persist(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Wallet) decode(data []byte) error {
	if len(data)%ed25519.PrivateKeySize != 0 {
		return fmt.Errorf("wallet file size %d is not a multiple of %d", len(data), ed25519.PrivateKeySize)
	}
	for i := 0; i < len(data); i += ed25519.PrivateKeySize {
		key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
		copy(key, data[i:i+ed25519.PrivateKeySize])
		w.keys = append(w.keys, key)
	}
	return nil
}

// generateAccount appends a freshly generated ed25519 keypair to the
// wallet's in-memory set. Callers are responsible for persisting.
func (w *Wallet) generateAccount() (ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate generator account: %w", err)
	}
	w.keys = append(w.keys, priv)
	return pub, nil
}

// NewAccount generates and persists a new generator account, returning its
// public key.
func (w *Wallet) NewAccount() (ed25519.PublicKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pub, err := w.generateAccount()
	if err != nil {
		return nil, err
	}
	if err := w.persist(); err != nil {
		return nil, err
	}
	return pub, nil
}

func (w *Wallet) persist() error {
	buf := make([]byte, 0, len(w.keys)*ed25519.PrivateKeySize)
	for _, key := range w.keys {
		buf = append(buf, key...)
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(w.path, buf, 0600); err != nil {
		return fmt.Errorf("write wallet accounts: %w", err)
	}
	return nil
}

// Accounts returns every signing account the wallet holds. The returned
// closures sign on the account's behalf; no caller ever receives the raw
// private key.
func (w *Wallet) Accounts() []consensus.Account {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]consensus.Account, len(w.keys))
	for i, key := range w.keys {
		key := key // capture for the closure
		acc := consensus.Account{
			Sign: func(message []byte) []byte { return ed25519.Sign(key, message) },
		}
		copy(acc.PublicKey[:], key.Public().(ed25519.PublicKey))
		out[i] = acc
	}
	return out
}
