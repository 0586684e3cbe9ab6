package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"math/big"

	"minichain/pkg/chainerr"
)

// GenerateKeyPair creates a fresh P-256 ECDSA keypair and returns the
// PKCS8-encoded private key plus the raw (uncompressed X||Y) public key.
func GenerateKeyPair() (pkcs8 []byte, pub []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: generate key: %v", chainerr.ErrCryptoError, err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: marshal pkcs8: %v", chainerr.ErrCryptoError, err)
	}

	return der, rawPublicKey(&priv.PublicKey), nil
}

// PublicKeyFromPKCS8 recovers the raw public key bytes from a PKCS8-encoded
// ECDSA P-256 private key.
func PublicKeyFromPKCS8(pkcs8 []byte) ([]byte, error) {
	priv, err := parsePrivateKey(pkcs8)
	if err != nil {
		return nil, err
	}
	return rawPublicKey(&priv.PublicKey), nil
}

// Sign signs msg (expected to already be a digest, e.g. a transaction id)
// with the PKCS8-encoded private key, returning a fixed-length r||s
// signature.
func Sign(pkcs8, msg []byte) ([]byte, error) {
	priv, err := parsePrivateKey(pkcs8)
	if err != nil {
		return nil, err
	}

	r, s, err := ecdsa.Sign(rand.Reader, priv, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", chainerr.ErrCryptoError, err)
	}

	curveByteLen := (priv.Curve.Params().BitSize + 7) / 8
	sig := make([]byte, 2*curveByteLen)
	r.FillBytes(sig[:curveByteLen])
	s.FillBytes(sig[curveByteLen:])
	return sig, nil
}

// Verify reports whether sig is a valid ECDSA P-256 signature of msg under
// pub (the raw X||Y public key). Malformed input yields false, never an
// error or panic.
func Verify(pub, sig, msg []byte) bool {
	curve := elliptic.P256()
	byteLen := (curve.Params().BitSize + 7) / 8

	if len(pub) != 2*byteLen || len(sig) != 2*byteLen {
		return false
	}

	x := new(big.Int).SetBytes(pub[:byteLen])
	y := new(big.Int).SetBytes(pub[byteLen:])
	if !curve.IsOnCurve(x, y) {
		return false
	}

	r := new(big.Int).SetBytes(sig[:byteLen])
	s := new(big.Int).SetBytes(sig[byteLen:])

	pubKey := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
	return ecdsa.Verify(pubKey, msg, r, s)
}

func rawPublicKey(pub *ecdsa.PublicKey) []byte {
	byteLen := (pub.Curve.Params().BitSize + 7) / 8
	out := make([]byte, 2*byteLen)
	pub.X.FillBytes(out[:byteLen])
	pub.Y.FillBytes(out[byteLen:])
	return out
}

func parsePrivateKey(pkcs8 []byte) (*ecdsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(pkcs8)
	if err != nil {
		return nil, fmt.Errorf("%w: parse pkcs8: %v", chainerr.ErrCryptoError, err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: pkcs8 key is not ECDSA", chainerr.ErrCryptoError)
	}
	return priv, nil
}
