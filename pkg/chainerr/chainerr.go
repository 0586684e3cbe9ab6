// Package chainerr defines the sentinel error kinds surfaced by the core
// packages. Callers distinguish them with errors.Is; internal plumbing wraps
// them with context via fmt.Errorf("...: %w", ...).
package chainerr

import "errors"

var (
	// ErrNoLedger is returned by Open when no ledger exists yet.
	ErrNoLedger = errors.New("no ledger found")

	// ErrInvalidTransaction is returned when a transaction fails
	// verification, or signing/verification cannot resolve a referenced
	// prior transaction.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrInsufficientFunds is returned when a spendable-output selection
	// accumulates less than the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAddress is returned on checksum mismatch or base58 decode
	// failure.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrStoreError wraps underlying key-value store I/O failures.
	ErrStoreError = errors.New("store error")

	// ErrCryptoError wraps key load/sign failures.
	ErrCryptoError = errors.New("crypto error")

	// ErrNonceExhausted is returned when proof-of-work search exceeds the
	// maximum nonce without finding a hash below target.
	ErrNonceExhausted = errors.New("nonce exhausted")
)
