// Package cryptoutil provides the crypto primitives the ledger is built on:
// hashing, the base58 address codec, and ECDSA P-256 keypair/sign/verify.
package cryptoutil

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160"
)

// Sha256 returns the SHA-256 digest of data.
func Sha256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Ripemd160 returns the RIPEMD-160 digest of data. The hasher never returns
// an error on Write, so the implementation panics rather than thread an
// unreachable error through the call chain.
func Ripemd160(data []byte) [20]byte {
	h := ripemd160.New()
	if _, err := h.Write(data); err != nil {
		panic(err)
	}
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HashPubKey returns ripemd160(sha256(pubKey)), the locking identifier
// stored in a TxOutput and encoded into an address.
func HashPubKey(pubKey []byte) []byte {
	sha := Sha256(pubKey)
	r := Ripemd160(sha[:])
	return r[:]
}
