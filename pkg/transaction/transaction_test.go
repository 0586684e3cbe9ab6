package transaction_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"minichain/pkg/transaction"
	"minichain/pkg/wallet"
)

type fakeFinder struct {
	accumulated int32
	outputs     map[string][]int
	err         error
}

func (f *fakeFinder) FindSpendableOutputs(pubKeyHash []byte, amount int32) (int32, map[string][]int, error) {
	return f.accumulated, f.outputs, f.err
}

func TestCoinbaseDetection(t *testing.T) {
	w, err := wallet.New()
	require.NoError(t, err)

	tx, err := transaction.NewCoinbase(w.Address())
	require.NoError(t, err)

	require.True(t, tx.IsCoinbase())

	ok, err := tx.Verify(nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCoinbaseUniqueness(t *testing.T) {
	w, err := wallet.New()
	require.NoError(t, err)

	tx1, err := transaction.NewCoinbase(w.Address())
	require.NoError(t, err)
	tx2, err := transaction.NewCoinbase(w.Address())
	require.NoError(t, err)

	require.NotEqual(t, tx1.ID, tx2.ID)
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	src, err := wallet.New()
	require.NoError(t, err)
	dst, err := wallet.New()
	require.NoError(t, err)

	// prevTx: a funding transaction whose only output is locked to src.
	prevOut, err := transaction.NewTxOutput(10, src.Address())
	require.NoError(t, err)
	prevTx := transaction.Transaction{ID: []byte("prevtxid"), Vout: []transaction.TxOutput{*prevOut}}

	tx := &transaction.Transaction{
		Vin:  []transaction.TxInput{{TxID: prevTx.ID, Vout: 0, PubKey: src.PubKey}},
		Vout: []transaction.TxOutput{},
	}
	out, err := transaction.NewTxOutput(3, dst.Address())
	require.NoError(t, err)
	tx.Vout = append(tx.Vout, *out)
	change, err := transaction.NewTxOutput(7, src.Address())
	require.NoError(t, err)
	tx.Vout = append(tx.Vout, *change)
	tx.ID = tx.Hash()

	prevTxs := map[string]transaction.Transaction{prevTx.IDHex(): prevTx}

	require.NoError(t, tx.Sign(src.PKCS8, prevTxs))

	ok, err := tx.Verify(prevTxs)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	src, err := wallet.New()
	require.NoError(t, err)

	prevOut, err := transaction.NewTxOutput(10, src.Address())
	require.NoError(t, err)
	prevTx := transaction.Transaction{ID: []byte("prevtxid2"), Vout: []transaction.TxOutput{*prevOut}}

	out, err := transaction.NewTxOutput(10, src.Address())
	require.NoError(t, err)

	tx := &transaction.Transaction{
		Vin:  []transaction.TxInput{{TxID: prevTx.ID, Vout: 0, PubKey: src.PubKey}},
		Vout: []transaction.TxOutput{*out},
	}
	tx.ID = tx.Hash()

	prevTxs := map[string]transaction.Transaction{prevTx.IDHex(): prevTx}
	require.NoError(t, tx.Sign(src.PKCS8, prevTxs))

	tx.Vin[0].Signature[0] ^= 0xFF

	ok, err := tx.Verify(prevTxs)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSignFailsOnDanglingInput(t *testing.T) {
	src, err := wallet.New()
	require.NoError(t, err)

	tx := &transaction.Transaction{
		Vin: []transaction.TxInput{{TxID: []byte("missing"), Vout: 0, PubKey: src.PubKey}},
	}
	tx.ID = tx.Hash()

	err = tx.Sign(src.PKCS8, map[string]transaction.Transaction{})
	require.Error(t, err)
}

func TestNewSpendInsufficientFunds(t *testing.T) {
	src, err := wallet.New()
	require.NoError(t, err)
	dst, err := wallet.New()
	require.NoError(t, err)

	finder := &fakeFinder{accumulated: 5, outputs: map[string][]int{}}

	_, err = transaction.NewSpend(src, src.Address(), dst.Address(), 10, finder)
	require.Error(t, err)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	w, err := wallet.New()
	require.NoError(t, err)

	tx, err := transaction.NewCoinbase(w.Address())
	require.NoError(t, err)

	data := tx.Serialize()
	decoded, err := transaction.Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, tx.ID, decoded.ID)
	require.Equal(t, tx.Vout, decoded.Vout)
}
