package ledger_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"minichain/pkg/ledger"
	"minichain/pkg/transaction"
	"minichain/pkg/wallet"
)

func openTestChain(t *testing.T) (*ledger.BlockChain, *wallet.Wallet) {
	t.Helper()
	w, err := wallet.New()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "blocks.db")
	chain, err := ledger.Init(path, w.Address())
	require.NoError(t, err)
	t.Cleanup(func() { _ = chain.Close() })

	return chain, w
}

func TestInitCreatesGenesis(t *testing.T) {
	chain, _ := openTestChain(t)

	height, err := chain.BestHeight()
	require.NoError(t, err)
	require.Equal(t, uint64(0), height)
}

func TestOpenRejectsMissingLedger(t *testing.T) {
	_, err := ledger.Open(filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
}

func TestInitOnExistingLedgerLoadsTipWithoutRemining(t *testing.T) {
	w, err := wallet.New()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "blocks.db")

	chain, err := ledger.Init(path, w.Address())
	require.NoError(t, err)

	tx, err := transaction.NewCoinbase(w.Address())
	require.NoError(t, err)
	mined, err := chain.MineBlock([]*transaction.Transaction{tx})
	require.NoError(t, err)
	require.NoError(t, chain.Close())

	reopened, err := ledger.Init(path, w.Address())
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, mined.Hash, reopened.Tip())

	height, err := reopened.BestHeight()
	require.NoError(t, err)
	require.Equal(t, uint64(1), height)
}

func TestMineBlockAdvancesTip(t *testing.T) {
	chain, w := openTestChain(t)

	genesisTip := chain.Tip()

	tx, err := transaction.NewCoinbase(w.Address())
	require.NoError(t, err)

	mined, err := chain.MineBlock([]*transaction.Transaction{tx})
	require.NoError(t, err)
	require.NotEqual(t, genesisTip, mined.Hash)
	require.Equal(t, mined.Hash, chain.Tip())

	height, err := chain.BestHeight()
	require.NoError(t, err)
	require.Equal(t, uint64(1), height)
}

func TestFindTransactionLocatesGenesisCoinbase(t *testing.T) {
	chain, w := openTestChain(t)

	height, err := chain.BestHeight()
	require.NoError(t, err)
	require.Equal(t, uint64(0), height)

	it := chain.Iterator()
	genesis, err := it.Next()
	require.NoError(t, err)
	require.NotNil(t, genesis)
	require.Len(t, genesis.Transactions, 1)

	found, err := chain.FindTransaction(genesis.Transactions[0].ID)
	require.NoError(t, err)
	require.Equal(t, genesis.Transactions[0].ID, found.ID)

	_ = w
}

func TestAddBlockDoesNotPromoteShorterBlock(t *testing.T) {
	chain, w := openTestChain(t)

	tx, err := transaction.NewCoinbase(w.Address())
	require.NoError(t, err)
	mined, err := chain.MineBlock([]*transaction.Transaction{tx})
	require.NoError(t, err)

	it := chain.Iterator()
	_, err = it.Next()
	require.NoError(t, err)
	genesis, err := it.Next()
	require.NoError(t, err)

	require.NoError(t, chain.AddBlock(genesis))
	require.Equal(t, mined.Hash, chain.Tip())
}

func TestDumpChainWritesEveryBlock(t *testing.T) {
	chain, w := openTestChain(t)

	tx, err := transaction.NewCoinbase(w.Address())
	require.NoError(t, err)
	_, err = chain.MineBlock([]*transaction.Transaction{tx})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, chain.DumpChain(&buf))
	require.Contains(t, buf.String(), "block")
}
