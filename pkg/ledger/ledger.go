// Package ledger implements the durable, ordered chain of blocks: a boltdb
// file holding every mined block plus a cached pointer to the current tip.
package ledger

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/boltdb/bolt"

	"minichain/pkg/block"
	"minichain/pkg/chainerr"
	"minichain/pkg/cryptoutil"
	"minichain/pkg/transaction"
	"minichain/pkg/wallet"
)

const blocksBucket = "blocks"
const tipKey = "l"

// BlockChain is the durable, append-only ledger: a boltdb-backed store of
// every block plus an in-memory cache of the current tip hash.
type BlockChain struct {
	db  *bolt.DB
	mu  sync.RWMutex
	tip string
}

// Init opens the ledger at path, creating it if necessary. If the blocks
// bucket already has a tip, that tip is loaded and no genesis block is
// mined — Init is safe to call against an existing ledger. Otherwise a
// genesis block whose coinbase reward goes to genesisAddr is mined and
// stored as the new tip.
func Init(path, genesisAddr string) (*BlockChain, error) {
	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", chainerr.ErrStoreError, path, err)
	}

	var tip string
	err = db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(blocksBucket))
		if err != nil {
			return err
		}

		if existing := bucket.Get([]byte(tipKey)); existing != nil {
			tip = string(existing)
			return nil
		}

		coinbaseTx, err := transaction.NewCoinbase(genesisAddr)
		if err != nil {
			return err
		}
		genesis, err := block.Genesis(coinbaseTx)
		if err != nil {
			return err
		}

		if err := bucket.Put([]byte(genesis.Hash), genesis.Serialize()); err != nil {
			return err
		}
		if err := bucket.Put([]byte(tipKey), []byte(genesis.Hash)); err != nil {
			return err
		}
		tip = genesis.Hash
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: init ledger at %s: %v", chainerr.ErrStoreError, path, err)
	}

	return &BlockChain{db: db, tip: tip}, nil
}

// Open attaches to an existing ledger at path.
func Open(path string) (*BlockChain, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: no ledger at %s", chainerr.ErrNoLedger, path)
	}

	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", chainerr.ErrStoreError, path, err)
	}

	var tip []byte
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(blocksBucket))
		if bucket == nil {
			return fmt.Errorf("%w: missing blocks bucket", chainerr.ErrStoreError)
		}
		tip = bucket.Get([]byte(tipKey))
		if tip == nil {
			return fmt.Errorf("%w: no tip in %s", chainerr.ErrNoLedger, path)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BlockChain{db: db, tip: string(tip)}, nil
}

// Close releases the underlying store.
func (c *BlockChain) Close() error {
	return c.db.Close()
}

// DB returns the underlying store, shared with pkg/chainstate so the
// chainstate index lives in the same database file as the ledger itself.
func (c *BlockChain) DB() *bolt.DB {
	return c.db
}

// Tip returns the current tip block hash.
func (c *BlockChain) Tip() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip
}

// MineBlock verifies every transaction in txs against the current ledger,
// mines a block extending the tip, persists it, and advances the tip.
// Chainstate maintenance is the caller's responsibility: call
// chainstate.Update on the returned block immediately afterward.
func (c *BlockChain) MineBlock(txs []*transaction.Transaction) (*block.Block, error) {
	for _, tx := range txs {
		ok, err := c.VerifyTransaction(tx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: signature check failed for %s", chainerr.ErrInvalidTransaction, tx.IDHex())
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var prevHeight uint64
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(blocksBucket))
		data := bucket.Get([]byte(c.tip))
		prev, err := block.Deserialize(data)
		if err != nil {
			return err
		}
		prevHeight = prev.Height
		return nil
	})
	if err != nil {
		return nil, err
	}

	newBlock, err := block.New(txs, c.tip, prevHeight)
	if err != nil {
		return nil, err
	}

	err = c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(blocksBucket))
		if err := bucket.Put([]byte(newBlock.Hash), newBlock.Serialize()); err != nil {
			return err
		}
		return bucket.Put([]byte(tipKey), []byte(newBlock.Hash))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: write block %s: %v", chainerr.ErrStoreError, newBlock.Hash, err)
	}

	c.tip = newBlock.Hash
	return newBlock, nil
}

// AddBlock stores an externally-received block and advances the tip if b
// extends a longer chain than the current one. Shorter or equal-height
// blocks are stored but not promoted — no reorg path.
func (c *BlockChain) AddBlock(b *block.Block) error {
	if !b.Validate() {
		return fmt.Errorf("%w: block %s fails proof-of-work", chainerr.ErrInvalidTransaction, b.Hash)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var curHeight uint64
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(blocksBucket))
		data := bucket.Get([]byte(c.tip))
		if data == nil {
			return nil
		}
		cur, err := block.Deserialize(data)
		if err != nil {
			return err
		}
		curHeight = cur.Height
		return nil
	})
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(blocksBucket))
		if err := bucket.Put([]byte(b.Hash), b.Serialize()); err != nil {
			return err
		}
		if b.Height > curHeight {
			if err := bucket.Put([]byte(tipKey), []byte(b.Hash)); err != nil {
				return err
			}
			c.tip = b.Hash
		}
		return nil
	})
}

// BestHeight returns the height of the current tip block.
func (c *BlockChain) BestHeight() (uint64, error) {
	c.mu.RLock()
	tip := c.tip
	c.mu.RUnlock()

	var height uint64
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(blocksBucket))
		data := bucket.Get([]byte(tip))
		b, err := block.Deserialize(data)
		if err != nil {
			return err
		}
		height = b.Height
		return nil
	})
	return height, err
}

// GetBlock returns the block with the given hash.
func (c *BlockChain) GetBlock(hash string) (*block.Block, error) {
	var b *block.Block
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(blocksBucket))
		data := bucket.Get([]byte(hash))
		if data == nil {
			return fmt.Errorf("%w: no block with hash %s", chainerr.ErrStoreError, hash)
		}
		decoded, err := block.Deserialize(data)
		if err != nil {
			return err
		}
		b = decoded
		return nil
	})
	return b, err
}

// GetBlockHashes returns every block hash in the chain, from tip to
// genesis.
func (c *BlockChain) GetBlockHashes() ([]string, error) {
	var hashes []string
	it := c.Iterator()
	for {
		b, err := it.Next()
		if err != nil {
			return nil, err
		}
		if b == nil {
			break
		}
		hashes = append(hashes, b.Hash)
	}
	return hashes, nil
}

// FindTransaction scans the chain from the tip for the transaction with
// the given id.
func (c *BlockChain) FindTransaction(txID []byte) (transaction.Transaction, error) {
	it := c.Iterator()
	for {
		b, err := it.Next()
		if err != nil {
			return transaction.Transaction{}, err
		}
		if b == nil {
			break
		}
		for _, tx := range b.Transactions {
			if bytes.Equal(tx.ID, txID) {
				return *tx, nil
			}
		}
	}
	return transaction.Transaction{}, fmt.Errorf("%w: transaction %x not found", chainerr.ErrInvalidTransaction, txID)
}

// prevTxs builds the map of referenced prior transactions tx's inputs
// point to, required by Transaction.Sign/Verify.
func (c *BlockChain) prevTxs(tx *transaction.Transaction) (map[string]transaction.Transaction, error) {
	prev := make(map[string]transaction.Transaction)
	for _, in := range tx.Vin {
		prevTx, err := c.FindTransaction(in.TxID)
		if err != nil {
			return nil, err
		}
		prev[prevTx.IDHex()] = prevTx
	}
	return prev, nil
}

// SignTransaction signs tx's inputs against the prior transactions they
// reference, looked up from this ledger.
func (c *BlockChain) SignTransaction(tx *transaction.Transaction, pkcs8 []byte) error {
	prev, err := c.prevTxs(tx)
	if err != nil {
		return err
	}
	return tx.Sign(pkcs8, prev)
}

// VerifyTransaction verifies tx's inputs against the prior transactions
// they reference, looked up from this ledger.
func (c *BlockChain) VerifyTransaction(tx *transaction.Transaction) (bool, error) {
	if tx.IsCoinbase() {
		return true, nil
	}
	prev, err := c.prevTxs(tx)
	if err != nil {
		return false, err
	}
	return tx.Verify(prev)
}

// FindUTXO scans the entire chain and returns every unspent output, keyed
// by hex transaction id. Used only to rebuild the chainstate index; day to
// day lookups go through pkg/chainstate instead.
func (c *BlockChain) FindUTXO() (map[string][]transaction.TxOutput, error) {
	utxo := make(map[string][]transaction.TxOutput)
	spent := make(map[string][]int)

	it := c.Iterator()
	for {
		b, err := it.Next()
		if err != nil {
			return nil, err
		}
		if b == nil {
			break
		}

		for _, tx := range b.Transactions {
			txID := tx.IDHex()

		outputs:
			for outIdx, out := range tx.Vout {
				for _, spentIdx := range spent[txID] {
					if outIdx == spentIdx {
						continue outputs
					}
				}
				utxo[txID] = append(utxo[txID], out)
			}

			if !tx.IsCoinbase() {
				for _, in := range tx.Vin {
					inTxID := hex.EncodeToString(in.TxID)
					spent[inTxID] = append(spent[inTxID], in.Vout)
				}
			}
		}
	}
	return utxo, nil
}

// DumpChain writes a human-readable dump of every block from tip to
// genesis, resolving each input's source address. Supplements the
// operation list with the original CLI's printchain behavior.
func (c *BlockChain) DumpChain(w io.Writer) error {
	it := c.Iterator()
	for {
		b, err := it.Next()
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}

		fmt.Fprintf(w, "============ block %s ============\n", b.Hash)
		fmt.Fprintf(w, "height:     %d\n", b.Height)
		fmt.Fprintf(w, "prev block: %s\n", b.PrevHash)
		fmt.Fprintf(w, "timestamp:  %d\n", b.Timestamp)
		for _, tx := range b.Transactions {
			fmt.Fprintf(w, "  tx %s\n", tx.IDHex())
			for _, in := range tx.Vin {
				if tx.IsCoinbase() {
					fmt.Fprintf(w, "    in: coinbase\n")
					continue
				}
				addr := wallet.EncodeAddress(cryptoutil.HashPubKey(in.PubKey))
				fmt.Fprintf(w, "    in:  %x:%d from %s\n", in.TxID, in.Vout, addr)
			}
			for _, out := range tx.Vout {
				fmt.Fprintf(w, "    out: %d to %x\n", out.Value, out.PubKeyHash)
			}
		}
		fmt.Fprintln(w)
	}
}

// Iterator walks the chain from the current tip back to genesis.
type Iterator struct {
	curHash string
	db      *bolt.DB
}

// Iterator returns a fresh iterator positioned at the current tip.
func (c *BlockChain) Iterator() *Iterator {
	return &Iterator{curHash: c.Tip(), db: c.db}
}

// Next returns the next block walking backward from the tip, or (nil, nil)
// once genesis has been consumed.
func (it *Iterator) Next() (*block.Block, error) {
	if it.curHash == "" {
		return nil, nil
	}

	var b *block.Block
	err := it.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(blocksBucket))
		data := bucket.Get([]byte(it.curHash))
		if data == nil {
			return fmt.Errorf("%w: missing block %s", chainerr.ErrStoreError, it.curHash)
		}
		decoded, err := block.Deserialize(data)
		if err != nil {
			return err
		}
		b = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b.PrevHash == block.GenesisPrevHash {
		it.curHash = ""
	} else {
		it.curHash = b.PrevHash
	}
	return b, nil
}
