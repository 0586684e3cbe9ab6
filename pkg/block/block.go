// Package block implements the chain's unit of storage: a batch of
// transactions paired with a proof-of-work solved against the previous
// block's hash. ProofOfWork lives in this package alongside Block rather
// than its own package because a Block must run PoW against itself before
// its own hash exists.
package block

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"minichain/pkg/chainerr"
	"minichain/pkg/cryptoutil"
	"minichain/pkg/transaction"
)

// Block is one link in the chain: a timestamped batch of transactions,
// its predecessor's hash, and the nonce that solves its proof-of-work.
type Block struct {
	Timestamp    int64
	PrevHash     string
	Hash         string
	Transactions []*transaction.Transaction
	Nonce        int64
	Height       uint64
}

// New mines and returns a block at height prevHeight+1 following prevHash,
// containing txs. Mining runs synchronously and blocks until a nonce is
// found or the search space is exhausted.
func New(txs []*transaction.Transaction, prevHash string, prevHeight uint64) (*Block, error) {
	b := &Block{
		Timestamp:    time.Now().UnixMilli(),
		PrevHash:     prevHash,
		Transactions: txs,
		Height:       prevHeight + 1,
	}

	nonce, hash, err := newProofOfWork(b).run()
	if err != nil {
		return nil, fmt.Errorf("mine block at height %d: %w", b.Height, err)
	}
	b.Nonce = nonce
	b.Hash = fmt.Sprintf("%x", hash)
	return b, nil
}

// GenesisPrevHash is the sentinel predecessor hash stored in the genesis
// block, where no real predecessor exists.
const GenesisPrevHash = "None"

// Genesis mints the first block of a chain: height 0, sentinel predecessor
// hash, containing only coinbaseTx.
func Genesis(coinbaseTx *transaction.Transaction) (*Block, error) {
	b := &Block{
		Timestamp:    time.Now().UnixMilli(),
		PrevHash:     GenesisPrevHash,
		Transactions: []*transaction.Transaction{coinbaseTx},
		Height:       0,
	}

	nonce, hash, err := newProofOfWork(b).run()
	if err != nil {
		return nil, fmt.Errorf("mine genesis block: %w", err)
	}
	b.Nonce = nonce
	b.Hash = fmt.Sprintf("%x", hash)
	return b, nil
}

// Validate reports whether b's stored hash and nonce actually solve its
// proof-of-work.
func (b *Block) Validate() bool {
	return newProofOfWork(b).validate()
}

// hashTransactions returns sha256 of the concatenation of every
// transaction's id, in order — the explicit byte-concatenation digest this
// chain uses in place of a Merkle tree.
func (b *Block) hashTransactions() []byte {
	var buf bytes.Buffer
	for _, tx := range b.Transactions {
		buf.Write(tx.ID)
	}
	h := cryptoutil.Sha256(buf.Bytes())
	return h[:]
}

// Serialize returns the stable gob encoding of b.
func (b *Block) Serialize() []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		panic(fmt.Sprintf("block: encode: %v", err))
	}
	return buf.Bytes()
}

// Deserialize decodes a block previously produced by Serialize.
func Deserialize(data []byte) (*Block, error) {
	var b Block
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: decode block: %v", chainerr.ErrStoreError, err)
	}
	return &b, nil
}
