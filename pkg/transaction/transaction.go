// Package transaction implements the UTXO transaction model: inputs that
// reference prior outputs, coinbase issuance, and the trimmed-copy signing
// and verification scheme.
package transaction

import (
	"bytes"
	"crypto/rand"
	"encoding/gob"
	"encoding/hex"
	"fmt"

	"minichain/pkg/chainerr"
	"minichain/pkg/cryptoutil"
	"minichain/pkg/wallet"
)

// Incentive is the fixed coinbase reward paid to a miner per block.
const Incentive = int32(10)

// TxInput references one output of a prior transaction.
type TxInput struct {
	TxID      []byte
	Vout      int
	Signature []byte
	PubKey    []byte
}

// UsesKey reports whether pubKeyHash is the locking key this input spends
// against.
func (in *TxInput) UsesKey(pubKeyHash []byte) bool {
	return bytes.Equal(cryptoutil.HashPubKey(in.PubKey), pubKeyHash)
}

// TxOutput is a value locked to a public-key hash.
type TxOutput struct {
	Value      int32
	PubKeyHash []byte
}

// NewTxOutput builds an output of value locked to addr.
func NewTxOutput(value int32, addr string) (*TxOutput, error) {
	out := &TxOutput{Value: value}
	if err := out.Lock(addr); err != nil {
		return nil, err
	}
	return out, nil
}

// Lock decodes addr and stores its public-key hash as this output's lock.
func (out *TxOutput) Lock(addr string) error {
	pkh, err := wallet.PubKeyHashFromAddress(addr)
	if err != nil {
		return err
	}
	out.PubKeyHash = pkh
	return nil
}

// IsLockedWithKey reports raw-byte equality between out's lock and
// pubKeyHash.
func (out *TxOutput) IsLockedWithKey(pubKeyHash []byte) bool {
	return bytes.Equal(out.PubKeyHash, pubKeyHash)
}

// Transaction is a UTXO-model value transfer: an id, a set of inputs
// spending prior outputs, and a set of new outputs.
type Transaction struct {
	ID   []byte
	Vin  []TxInput
	Vout []TxOutput
}

// IsCoinbase reports whether tx is a coinbase transaction: exactly one
// input with an empty public key.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Vin) == 1 && len(tx.Vin[0].PubKey) == 0
}

// Serialize returns the stable gob encoding of tx.
func (tx *Transaction) Serialize() []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(tx); err != nil {
		panic(fmt.Sprintf("transaction: encode: %v", err))
	}
	return buf.Bytes()
}

// Deserialize decodes a transaction previously produced by Serialize.
func Deserialize(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&tx); err != nil {
		return nil, fmt.Errorf("%w: decode transaction: %v", chainerr.ErrStoreError, err)
	}
	return &tx, nil
}

// Hash returns sha256(serialize(tx)) with ID cleared first — the value
// installed as tx.ID.
func (tx *Transaction) Hash() []byte {
	copied := *tx
	copied.ID = nil
	h := cryptoutil.Sha256(copied.Serialize())
	return h[:]
}

// NewCoinbase builds the block reward transaction: one input with an empty
// public key and a 16-byte random uniqueness tag as its signature, and one
// output of Incentive locked to toAddr.
func NewCoinbase(toAddr string) (*Transaction, error) {
	out, err := NewTxOutput(Incentive, toAddr)
	if err != nil {
		return nil, err
	}

	tag := make([]byte, 16)
	if _, err := rand.Read(tag); err != nil {
		return nil, fmt.Errorf("%w: coinbase uniqueness tag: %v", chainerr.ErrCryptoError, err)
	}

	tx := &Transaction{
		Vin:  []TxInput{{TxID: []byte{}, Vout: -1, Signature: tag, PubKey: []byte{}}},
		Vout: []TxOutput{*out},
	}
	tx.ID = tx.Hash()
	return tx, nil
}

// SpendableFinder is the narrow surface Transaction needs from a chainstate
// index to construct a spending transaction. pkg/chainstate.UTXOSet
// satisfies this interface structurally; pkg/transaction never imports
// pkg/chainstate, avoiding an import cycle.
type SpendableFinder interface {
	FindSpendableOutputs(pubKeyHash []byte, amount int32) (int32, map[string][]int, error)
}

// NewSpend constructs an unsigned transaction sending amount from the
// wallet's own address to toAddr, funded by outputs found via finder. The
// caller is responsible for signing against the ledger afterward by calling
// Sign with the map of referenced prior transactions.
func NewSpend(from *wallet.Wallet, fromAddr, toAddr string, amount int32, finder SpendableFinder) (*Transaction, error) {
	pubKeyHash := cryptoutil.HashPubKey(from.PubKey)

	accumulated, unspent, err := finder.FindSpendableOutputs(pubKeyHash, amount)
	if err != nil {
		return nil, err
	}
	if accumulated < amount {
		return nil, fmt.Errorf("%w: have %d, need %d", chainerr.ErrInsufficientFunds, accumulated, amount)
	}

	var vin []TxInput
	for txIDHex, outIdxs := range unspent {
		txID, err := hex.DecodeString(txIDHex)
		if err != nil {
			return nil, fmt.Errorf("%w: decode txid %q: %v", chainerr.ErrStoreError, txIDHex, err)
		}
		for _, idx := range outIdxs {
			vin = append(vin, TxInput{TxID: txID, Vout: idx, PubKey: from.PubKey})
		}
	}

	toOut, err := NewTxOutput(amount, toAddr)
	if err != nil {
		return nil, err
	}
	vout := []TxOutput{*toOut}

	if accumulated > amount {
		changeOut, err := NewTxOutput(accumulated-amount, fromAddr)
		if err != nil {
			return nil, err
		}
		vout = append(vout, *changeOut)
	}

	tx := &Transaction{Vin: vin, Vout: vout}
	tx.ID = tx.Hash()
	return tx, nil
}

// trimmed returns a copy of tx with every input's Signature and PubKey
// cleared, used as the base for the signed/verified message.
func (tx *Transaction) trimmed() Transaction {
	vin := make([]TxInput, len(tx.Vin))
	for i, in := range tx.Vin {
		vin[i] = TxInput{TxID: in.TxID, Vout: in.Vout}
	}
	vout := make([]TxOutput, len(tx.Vout))
	copy(vout, tx.Vout)
	return Transaction{ID: tx.ID, Vin: vin, Vout: vout}
}

// Sign signs each input of tx against prevTxs, the set of transactions
// referenced by tx's inputs (keyed by hex txid). The trimmed-copy dance:
// for each input, clear its signature, install the referenced prior
// output's pubkey-hash as the copy's pubkey, rehash the copy to get the
// per-input signed digest, clear the copy's pubkey again, then sign that
// digest with the real private key. Any deviation from this order changes
// the signed digests and breaks verification of existing data.
func (tx *Transaction) Sign(pkcs8 []byte, prevTxs map[string]Transaction) error {
	if tx.IsCoinbase() {
		return nil
	}

	for _, in := range tx.Vin {
		if _, ok := prevTxs[hex.EncodeToString(in.TxID)]; !ok {
			return fmt.Errorf("%w: dangling input referencing %x", chainerr.ErrInvalidTransaction, in.TxID)
		}
	}

	copyTx := tx.trimmed()
	for i, in := range tx.Vin {
		prevTx := prevTxs[hex.EncodeToString(in.TxID)]
		copyTx.Vin[i].Signature = nil
		copyTx.Vin[i].PubKey = prevTx.Vout[in.Vout].PubKeyHash
		copyTx.ID = copyTx.Hash()
		copyTx.Vin[i].PubKey = nil

		sig, err := cryptoutil.Sign(pkcs8, copyTx.ID)
		if err != nil {
			return err
		}
		tx.Vin[i].Signature = sig
	}
	return nil
}

// Verify mirrors Sign: coinbase transactions verify unconditionally;
// otherwise each input's signature is checked against the same per-input
// digest Sign would have produced.
func (tx *Transaction) Verify(prevTxs map[string]Transaction) (bool, error) {
	if tx.IsCoinbase() {
		return true, nil
	}

	for _, in := range tx.Vin {
		prevTx, ok := prevTxs[hex.EncodeToString(in.TxID)]
		if !ok {
			return false, fmt.Errorf("%w: dangling input referencing %x", chainerr.ErrInvalidTransaction, in.TxID)
		}
		if in.Vout < 0 || in.Vout >= len(prevTx.Vout) {
			return false, fmt.Errorf("%w: input references missing output %x:%d", chainerr.ErrInvalidTransaction, in.TxID, in.Vout)
		}
	}

	copyTx := tx.trimmed()
	for i, in := range tx.Vin {
		prevTx := prevTxs[hex.EncodeToString(in.TxID)]
		copyTx.Vin[i].Signature = nil
		copyTx.Vin[i].PubKey = prevTx.Vout[in.Vout].PubKeyHash
		copyTx.ID = copyTx.Hash()
		copyTx.Vin[i].PubKey = nil

		if !cryptoutil.Verify(in.PubKey, in.Signature, copyTx.ID) {
			return false, nil
		}
	}
	return true, nil
}

// IDHex returns the hex encoding of tx.ID.
func (tx *Transaction) IDHex() string {
	return hex.EncodeToString(tx.ID)
}
