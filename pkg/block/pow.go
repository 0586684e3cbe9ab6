package block

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"minichain/pkg/chainerr"
	"minichain/pkg/cryptoutil"
)

// TargetBits is the fixed proof-of-work difficulty: a valid block hash,
// read as an integer, must be strictly less than 1 << (256 - TargetBits).
// Dynamic retargeting is explicitly out of scope.
const TargetBits = 8

// MaxNonce bounds the nonce search.
const MaxNonce = math.MaxInt64

// proofOfWork computes and validates the proof-of-work for a single block.
type proofOfWork struct {
	block  *Block
	target *big.Int
}

func newProofOfWork(b *Block) *proofOfWork {
	target := big.NewInt(1)
	target.Lsh(target, uint(256-TargetBits))
	return &proofOfWork{block: b, target: target}
}

// prepareData assembles the exact preimage bytes:
// prevHash(utf8) || hashTransactions(32) || timestamp-be-i64(8) ||
// targetBits-be-i32(4) || nonce-be-i64(8).
func (p *proofOfWork) prepareData(nonce int64) []byte {
	var buf bytes.Buffer
	buf.WriteString(p.block.PrevHash)
	buf.Write(p.block.hashTransactions())
	_ = binary.Write(&buf, binary.BigEndian, p.block.Timestamp)
	_ = binary.Write(&buf, binary.BigEndian, int32(TargetBits))
	_ = binary.Write(&buf, binary.BigEndian, nonce)
	return buf.Bytes()
}

// run searches for a nonce whose preimage hashes below target, returning
// the nonce and the raw 32-byte hash.
func (p *proofOfWork) run() (int64, [32]byte, error) {
	var hash [32]byte
	var hashInt big.Int

	for nonce := int64(0); nonce < MaxNonce; nonce++ {
		hash = cryptoutil.Sha256(p.prepareData(nonce))
		hashInt.SetBytes(hash[:])
		if hashInt.Cmp(p.target) < 0 {
			return nonce, hash, nil
		}
	}
	return 0, hash, fmt.Errorf("%w: exhausted %d nonces", chainerr.ErrNonceExhausted, MaxNonce)
}

// validate reports whether b's stored nonce actually produces a hash below
// target equal to b's stored hash.
func (p *proofOfWork) validate() bool {
	var hashInt big.Int
	hash := cryptoutil.Sha256(p.prepareData(p.block.Nonce))
	hashInt.SetBytes(hash[:])
	return hashInt.Cmp(p.target) < 0 && fmt.Sprintf("%x", hash) == p.block.Hash
}
