package cryptoutil

import (
	"bytes"
	"math/big"
)

// base58Alphabet is the standard Bitcoin base58 alphabet: no 0, O, I, l.
var base58Alphabet = []byte("123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz")

var base58Base = big.NewInt(int64(len(base58Alphabet)))

// Base58Encode encodes input using the standard Bitcoin alphabet.
func Base58Encode(input []byte) []byte {
	var encoded []byte

	x := new(big.Int).SetBytes(input)
	zero := big.NewInt(0)
	mod := new(big.Int)

	for x.Cmp(zero) != 0 {
		x.DivMod(x, base58Base, mod)
		encoded = append(encoded, base58Alphabet[mod.Int64()])
	}
	reverseBytes(encoded)

	for _, b := range input {
		if b != 0x00 {
			break
		}
		encoded = append([]byte{base58Alphabet[0]}, encoded...)
	}

	return encoded
}

// Base58Decode decodes a base58 string encoded with Base58Encode.
func Base58Decode(input []byte) []byte {
	result := new(big.Int)
	zeroBytes := 0

	for _, b := range input {
		if b != base58Alphabet[0] {
			break
		}
		zeroBytes++
	}

	payload := input[zeroBytes:]
	for _, b := range payload {
		idx := bytes.IndexByte(base58Alphabet, b)
		if idx < 0 {
			// Malformed input: not a base58 character. Decoding falls
			// through with this byte contributing nothing, matching the
			// teacher's permissive decode (validity is checked by the
			// caller via checksum comparison, not here).
			continue
		}
		result.Mul(result, base58Base)
		result.Add(result, big.NewInt(int64(idx)))
	}

	decoded := result.Bytes()
	return append(bytes.Repeat([]byte{0x00}, zeroBytes), decoded...)
}

func reverseBytes(data []byte) {
	for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
		data[i], data[j] = data[j], data[i]
	}
}
