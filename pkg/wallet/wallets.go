package wallet

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
)

// DefaultFile is the on-disk wallet file name, relative to the process's
// working directory.
const DefaultFile = "wallet.dat"

// Wallets is a mapping from address string to wallet, persisted to disk.
// Concurrent mutation is not supported: callers must serialize wallet
// creation themselves (§5 of the spec this package implements).
type Wallets struct {
	path string
	m    map[string]*Wallet
}

// Load reads wallets from path. A missing file yields an empty, valid
// Wallets value rather than an error.
func Load(path string) (*Wallets, error) {
	w := &Wallets{path: path, m: make(map[string]*Wallet)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read wallet file: %w", err)
	}

	var m map[string]*Wallet
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode wallet file: %w", err)
	}
	w.m = m
	return w, nil
}

// Save persists the current set of wallets to disk.
func (w *Wallets) Save() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w.m); err != nil {
		return fmt.Errorf("encode wallet file: %w", err)
	}
	if err := os.WriteFile(w.path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write wallet file: %w", err)
	}
	return nil
}

// Addresses returns every address currently stored.
func (w *Wallets) Addresses() []string {
	addrs := make([]string, 0, len(w.m))
	for addr := range w.m {
		addrs = append(addrs, addr)
	}
	return addrs
}

// Get returns the wallet for addr, or false if none exists.
func (w *Wallets) Get(addr string) (*Wallet, bool) {
	wal, ok := w.m[addr]
	return wal, ok
}

// Create generates a new wallet, stores it under its derived address,
// persists the updated set to disk, and returns the new address.
func (w *Wallets) Create() (string, error) {
	wal, err := New()
	if err != nil {
		return "", err
	}

	addr := wal.Address()
	w.m[addr] = wal

	if err := w.Save(); err != nil {
		return "", err
	}
	return addr, nil
}
