// Package wallet implements keypair generation, address derivation, and
// on-disk persistence of a collection of wallets.
package wallet

import (
	"bytes"
	"fmt"

	"minichain/pkg/chainerr"
	"minichain/pkg/cryptoutil"
)

const (
	version         = byte(0x00)
	addrChecksumLen = 4
)

// Wallet is a keypair: a PKCS8-encoded private key and its derived raw
// public key.
type Wallet struct {
	PKCS8  []byte
	PubKey []byte
}

// New generates a fresh keypair.
func New() (*Wallet, error) {
	pkcs8, pub, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Wallet{PKCS8: pkcs8, PubKey: pub}, nil
}

// Address computes base58(VERSION || hash_pub_key(pub) || checksum).
func (w *Wallet) Address() string {
	return EncodeAddress(cryptoutil.HashPubKey(w.PubKey))
}

// EncodeAddress encodes a public-key hash into a user-facing address
// string. It is exported so callers that only have a pubkey hash (e.g. when
// printing a transaction's source address) can derive the same address a
// wallet would produce.
func EncodeAddress(pubKeyHash []byte) string {
	versioned := append([]byte{version}, pubKeyHash...)
	sum := checksum(versioned)
	full := append(versioned, sum...)
	return string(cryptoutil.Base58Encode(full))
}

// ValidateAddress decodes addr, splits it into version/hash/checksum,
// recomputes the checksum, and reports whether they match. Decode failures
// (malformed base58, too-short payload) also yield false.
func ValidateAddress(addr string) bool {
	full := cryptoutil.Base58Decode([]byte(addr))
	if len(full) < 1+addrChecksumLen {
		return false
	}
	// Base58Decode skips characters outside the alphabet; a string that does
	// not re-encode to itself contained such characters.
	if string(cryptoutil.Base58Encode(full)) != addr {
		return false
	}

	actualChecksum := full[len(full)-addrChecksumLen:]
	ver := full[0]
	pubKeyHash := full[1 : len(full)-addrChecksumLen]

	expected := checksum(append([]byte{ver}, pubKeyHash...))
	return bytes.Equal(actualChecksum, expected)
}

// PubKeyHashFromAddress extracts the 20-byte pubkey hash from a validated
// address. Callers must call ValidateAddress first; this returns
// ErrInvalidAddress if the payload is too short to contain one.
func PubKeyHashFromAddress(addr string) ([]byte, error) {
	full := cryptoutil.Base58Decode([]byte(addr))
	if len(full) < 1+20+addrChecksumLen {
		return nil, fmt.Errorf("%w: %q decodes too short", chainerr.ErrInvalidAddress, addr)
	}
	return full[1 : len(full)-addrChecksumLen], nil
}

func checksum(payload []byte) []byte {
	first := cryptoutil.Sha256(payload)
	second := cryptoutil.Sha256(first[:])
	return second[:addrChecksumLen]
}
