// Package chainstate maintains a derived, queryable index of unspent
// transaction outputs, rebuildable at any time from the ledger.
package chainstate

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"fmt"

	"github.com/boltdb/bolt"

	"minichain/pkg/block"
	"minichain/pkg/chainerr"
	"minichain/pkg/ledger"
	"minichain/pkg/transaction"
)

const chainstateBucket = "chainstate"

// UTXOSet is the materialized unspent-output index for a ledger, stored in
// its own bolt bucket alongside the ledger's blocks bucket.
type UTXOSet struct {
	Chain *ledger.BlockChain
	db    *bolt.DB
}

// Open attaches a UTXOSet to chain, storing the chainstate bucket in the
// same underlying *bolt.DB the ledger itself opened.
func Open(chain *ledger.BlockChain) *UTXOSet {
	return &UTXOSet{Chain: chain, db: chain.DB()}
}

func encodeOutputs(outs []transaction.TxOutput) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(outs); err != nil {
		return nil, fmt.Errorf("%w: encode utxo entry: %v", chainerr.ErrStoreError, err)
	}
	return buf.Bytes(), nil
}

func decodeOutputs(data []byte) ([]transaction.TxOutput, error) {
	var outs []transaction.TxOutput
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&outs); err != nil {
		return nil, fmt.Errorf("%w: decode utxo entry: %v", chainerr.ErrStoreError, err)
	}
	return outs, nil
}

// Reindex rebuilds the chainstate bucket from scratch by scanning the
// entire ledger.
func (s *UTXOSet) Reindex() error {
	utxo, err := s.Chain.FindUTXO()
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(chainstateBucket)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		bucket, err := tx.CreateBucket([]byte(chainstateBucket))
		if err != nil {
			return err
		}

		for txIDHex, outs := range utxo {
			key, err := hex.DecodeString(txIDHex)
			if err != nil {
				return fmt.Errorf("%w: decode txid %q: %v", chainerr.ErrStoreError, txIDHex, err)
			}
			data, err := encodeOutputs(outs)
			if err != nil {
				return err
			}
			if err := bucket.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update folds a newly mined or received block into the chainstate index:
// each spent input's output is removed (or its entry dropped entirely once
// empty), and each new output is added under its owning transaction's id.
// b must be the block that just became (or remains) the chain tip.
func (s *UTXOSet) Update(b *block.Block) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(chainstateBucket))
		if bucket == nil {
			return fmt.Errorf("%w: chainstate bucket missing, run Reindex first", chainerr.ErrStoreError)
		}

		for _, t := range b.Transactions {
			if !t.IsCoinbase() {
				for _, in := range t.Vin {
					existing, err := decodeOutputs(bucket.Get(in.TxID))
					if err != nil {
						return err
					}

					var remaining []transaction.TxOutput
					for idx, out := range existing {
						if idx != in.Vout {
							remaining = append(remaining, out)
						}
					}

					if len(remaining) == 0 {
						if err := bucket.Delete(in.TxID); err != nil {
							return err
						}
					} else {
						data, err := encodeOutputs(remaining)
						if err != nil {
							return err
						}
						if err := bucket.Put(in.TxID, data); err != nil {
							return err
						}
					}
				}
			}

			data, err := encodeOutputs(t.Vout)
			if err != nil {
				return err
			}
			if err := bucket.Put(t.ID, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindSpendableOutputs returns the accumulated value and the set of output
// indices (keyed by hex transaction id) locked to pubKeyHash, stopping
// once the accumulated value reaches amount. It satisfies
// transaction.SpendableFinder.
func (s *UTXOSet) FindSpendableOutputs(pubKeyHash []byte, amount int32) (int32, map[string][]int, error) {
	unspent := make(map[string][]int)
	var accumulated int32

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(chainstateBucket))
		if bucket == nil {
			return fmt.Errorf("%w: chainstate bucket missing, run Reindex first", chainerr.ErrStoreError)
		}
		cursor := bucket.Cursor()

		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			if accumulated >= amount {
				break
			}
			outs, err := decodeOutputs(value)
			if err != nil {
				return err
			}
			txIDHex := hex.EncodeToString(key)
			for idx, out := range outs {
				if out.IsLockedWithKey(pubKeyHash) && accumulated < amount {
					accumulated += out.Value
					unspent[txIDHex] = append(unspent[txIDHex], idx)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return accumulated, unspent, nil
}

// FindUTXO returns every unspent output locked to pubKeyHash.
func (s *UTXOSet) FindUTXO(pubKeyHash []byte) ([]transaction.TxOutput, error) {
	var result []transaction.TxOutput

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(chainstateBucket))
		if bucket == nil {
			return fmt.Errorf("%w: chainstate bucket missing, run Reindex first", chainerr.ErrStoreError)
		}
		cursor := bucket.Cursor()

		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			outs, err := decodeOutputs(value)
			if err != nil {
				return err
			}
			for _, out := range outs {
				if out.IsLockedWithKey(pubKeyHash) {
					result = append(result, out)
				}
			}
		}
		return nil
	})
	return result, err
}

// CountTransactions returns the number of distinct transactions currently
// represented in the chainstate index.
func (s *UTXOSet) CountTransactions() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(chainstateBucket))
		if bucket == nil {
			return fmt.Errorf("%w: chainstate bucket missing, run Reindex first", chainerr.ErrStoreError)
		}
		cursor := bucket.Cursor()
		for key, _ := cursor.First(); key != nil; key, _ = cursor.Next() {
			count++
		}
		return nil
	})
	return count, err
}
