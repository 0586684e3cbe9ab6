package chainstate_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"minichain/pkg/chainstate"
	"minichain/pkg/cryptoutil"
	"minichain/pkg/ledger"
	"minichain/pkg/transaction"
	"minichain/pkg/wallet"
)

func setup(t *testing.T) (*ledger.BlockChain, *chainstate.UTXOSet, *wallet.Wallet) {
	t.Helper()
	w, err := wallet.New()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "blocks.db")
	chain, err := ledger.Init(path, w.Address())
	require.NoError(t, err)
	t.Cleanup(func() { _ = chain.Close() })

	set := chainstate.Open(chain)
	require.NoError(t, set.Reindex())

	return chain, set, w
}

func TestReindexFindsGenesisReward(t *testing.T) {
	_, set, w := setup(t)

	pubKeyHash := cryptoutil.HashPubKey(w.PubKey)
	outs, err := set.FindUTXO(pubKeyHash)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.EqualValues(t, transaction.Incentive, outs[0].Value)
}

func TestFindSpendableOutputsAccumulates(t *testing.T) {
	_, set, w := setup(t)

	pubKeyHash := cryptoutil.HashPubKey(w.PubKey)
	accumulated, unspent, err := set.FindSpendableOutputs(pubKeyHash, transaction.Incentive)
	require.NoError(t, err)
	require.EqualValues(t, transaction.Incentive, accumulated)
	require.Len(t, unspent, 1)
}

func TestUpdateAfterSpendRemovesConsumedOutput(t *testing.T) {
	chain, set, src := setup(t)
	dst, err := wallet.New()
	require.NoError(t, err)

	tx, err := transaction.NewSpend(src, src.Address(), dst.Address(), transaction.Incentive, set)
	require.NoError(t, err)
	require.NoError(t, chain.SignTransaction(tx, src.PKCS8))

	mined, err := chain.MineBlock([]*transaction.Transaction{tx})
	require.NoError(t, err)
	require.NoError(t, set.Update(mined))

	srcHash := cryptoutil.HashPubKey(src.PubKey)
	srcOuts, err := set.FindUTXO(srcHash)
	require.NoError(t, err)
	require.Empty(t, srcOuts)

	dstHash := cryptoutil.HashPubKey(dst.PubKey)
	dstOuts, err := set.FindUTXO(dstHash)
	require.NoError(t, err)
	require.Len(t, dstOuts, 1)
	require.EqualValues(t, transaction.Incentive, dstOuts[0].Value)
}

func TestCountTransactions(t *testing.T) {
	_, set, _ := setup(t)

	count, err := set.CountTransactions()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestReindexIsIdempotent(t *testing.T) {
	chain, set, src := setup(t)
	dst, err := wallet.New()
	require.NoError(t, err)

	tx, err := transaction.NewSpend(src, src.Address(), dst.Address(), transaction.Incentive, set)
	require.NoError(t, err)
	require.NoError(t, chain.SignTransaction(tx, src.PKCS8))
	mined, err := chain.MineBlock([]*transaction.Transaction{tx})
	require.NoError(t, err)
	require.NoError(t, set.Update(mined))

	before, err := set.CountTransactions()
	require.NoError(t, err)

	require.NoError(t, set.Reindex())
	require.NoError(t, set.Reindex())

	after, err := set.CountTransactions()
	require.NoError(t, err)
	require.Equal(t, before, after)

	dstHash := cryptoutil.HashPubKey(dst.PubKey)
	dstOuts, err := set.FindUTXO(dstHash)
	require.NoError(t, err)
	require.Len(t, dstOuts, 1)
}

func TestIncrementalUpdateMatchesBatchReindex(t *testing.T) {
	chain, set, src := setup(t)
	dst, err := wallet.New()
	require.NoError(t, err)

	tx, err := transaction.NewSpend(src, src.Address(), dst.Address(), transaction.Incentive, set)
	require.NoError(t, err)
	require.NoError(t, chain.SignTransaction(tx, src.PKCS8))
	mined, err := chain.MineBlock([]*transaction.Transaction{tx})
	require.NoError(t, err)

	// Incremental: fold only the new block into the already-reindexed set.
	require.NoError(t, set.Update(mined))
	incrementalDst, err := set.FindUTXO(cryptoutil.HashPubKey(dst.PubKey))
	require.NoError(t, err)
	incrementalSrc, err := set.FindUTXO(cryptoutil.HashPubKey(src.PubKey))
	require.NoError(t, err)

	// Batch: rebuild the whole index from the ledger from scratch.
	require.NoError(t, set.Reindex())
	batchDst, err := set.FindUTXO(cryptoutil.HashPubKey(dst.PubKey))
	require.NoError(t, err)
	batchSrc, err := set.FindUTXO(cryptoutil.HashPubKey(src.PubKey))
	require.NoError(t, err)

	require.Equal(t, incrementalDst, batchDst)
	require.Equal(t, incrementalSrc, batchSrc)
}
