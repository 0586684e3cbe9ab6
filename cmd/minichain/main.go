package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"minichain/internal/config"
	"minichain/internal/gossip"
	"minichain/pkg/chainerr"
	"minichain/pkg/chainstate"
	"minichain/pkg/ledger"
	"minichain/pkg/transaction"
	"minichain/pkg/wallet"
)

const dbFile = "data/blocks.db"

const usage = `Usage:
	createblockchain --address ADDR                   --- Create the ledger and send the genesis reward to ADDR
	createwallet                                      --- Generate a new wallet and save it into the wallet file
	listaddresses                                     --- List every address saved in the local wallet file
	printchain                                        --- Print every block in the local ledger
	getbalance --address ADDR                         --- Get the balance of ADDR
	send --from ADDR1 --to ADDR2 --amount AMT --mine  --- Send AMT from ADDR1 to ADDR2, mining immediately if --mine is set
	reindexutxo                                       --- Rebuild the chainstate index from the ledger
	startnode [--miner ADDR] [--listen ADDR]          --- Start a node; --miner records ADDR as the mining address, the node itself mines no blocks`

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

func printUsage() {
	fmt.Println(usage)
}

func fail(err error) {
	log.Error().Err(err).Msg("command failed")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}

	createChainCmd := flag.NewFlagSet("createblockchain", flag.ExitOnError)
	createChainAddr := createChainCmd.String("address", "", "wallet address to receive the genesis reward")

	createWalletCmd := flag.NewFlagSet("createwallet", flag.ExitOnError)

	listAddressesCmd := flag.NewFlagSet("listaddresses", flag.ExitOnError)

	printChainCmd := flag.NewFlagSet("printchain", flag.ExitOnError)

	getBalanceCmd := flag.NewFlagSet("getbalance", flag.ExitOnError)
	getBalanceAddr := getBalanceCmd.String("address", "", "address to query the balance of")

	sendCmd := flag.NewFlagSet("send", flag.ExitOnError)
	sendFrom := sendCmd.String("from", "", "source wallet address")
	sendTo := sendCmd.String("to", "", "destination wallet address")
	sendAmount := sendCmd.Int("amount", 0, "amount of coins to send")
	sendMine := sendCmd.Bool("mine", false, "mine immediately instead of broadcasting")

	reindexCmd := flag.NewFlagSet("reindexutxo", flag.ExitOnError)

	startNodeCmd := flag.NewFlagSet("startnode", flag.ExitOnError)
	startNodeMiner := startNodeCmd.String("miner", "", "mining reward address to validate and record in the node config (the node does not mine)")
	startNodeListen := startNodeCmd.String("listen", "", "override the configured listen address")

	switch os.Args[1] {
	case "createblockchain":
		mustParse(createChainCmd, os.Args[2:])
		if *createChainAddr == "" {
			createChainCmd.Usage()
			os.Exit(1)
		}
		runCreateBlockChain(*createChainAddr)
	case "createwallet":
		mustParse(createWalletCmd, os.Args[2:])
		runCreateWallet()
	case "listaddresses":
		mustParse(listAddressesCmd, os.Args[2:])
		runListAddresses()
	case "printchain":
		mustParse(printChainCmd, os.Args[2:])
		runPrintChain()
	case "getbalance":
		mustParse(getBalanceCmd, os.Args[2:])
		if *getBalanceAddr == "" {
			getBalanceCmd.Usage()
			os.Exit(1)
		}
		runGetBalance(*getBalanceAddr)
	case "send":
		mustParse(sendCmd, os.Args[2:])
		if *sendFrom == "" || *sendTo == "" || *sendAmount <= 0 {
			sendCmd.Usage()
			os.Exit(1)
		}
		runSend(*sendFrom, *sendTo, int32(*sendAmount), *sendMine)
	case "reindexutxo":
		mustParse(reindexCmd, os.Args[2:])
		runReindex()
	case "startnode":
		mustParse(startNodeCmd, os.Args[2:])
		if *startNodeListen != "" {
			cfg.ListenAddr = *startNodeListen
		}
		if *startNodeMiner != "" {
			cfg.SetMiningAddress(*startNodeMiner)
		}
		runStartNode(cfg)
	default:
		printUsage()
		os.Exit(1)
	}
}

func mustParse(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		fail(err)
	}
}

func runCreateBlockChain(addr string) {
	if !wallet.ValidateAddress(addr) {
		fail(fmt.Errorf("%w: %s", chainerr.ErrInvalidAddress, addr))
	}

	if err := os.MkdirAll("data", 0755); err != nil {
		fail(err)
	}

	chain, err := ledger.Init(dbFile, addr)
	if err != nil {
		fail(err)
	}
	defer chain.Close()

	set := chainstate.Open(chain)
	if err := set.Reindex(); err != nil {
		fail(err)
	}

	log.Info().Str("address", addr).Msg("blockchain created")
}

func runCreateWallet() {
	ws, err := wallet.Load(wallet.DefaultFile)
	if err != nil {
		fail(err)
	}
	addr, err := ws.Create()
	if err != nil {
		fail(err)
	}
	fmt.Printf("new address: %s\n", addr)
}

func runListAddresses() {
	ws, err := wallet.Load(wallet.DefaultFile)
	if err != nil {
		fail(err)
	}
	for _, addr := range ws.Addresses() {
		fmt.Println(addr)
	}
}

func runPrintChain() {
	chain, err := ledger.Open(dbFile)
	if err != nil {
		fail(err)
	}
	defer chain.Close()

	if err := chain.DumpChain(os.Stdout); err != nil {
		fail(err)
	}
}

func runGetBalance(addr string) {
	if !wallet.ValidateAddress(addr) {
		fail(fmt.Errorf("%w: %s", chainerr.ErrInvalidAddress, addr))
	}

	chain, err := ledger.Open(dbFile)
	if err != nil {
		fail(err)
	}
	defer chain.Close()
	set := chainstate.Open(chain)

	pubKeyHash, err := wallet.PubKeyHashFromAddress(addr)
	if err != nil {
		fail(err)
	}
	outs, err := set.FindUTXO(pubKeyHash)
	if err != nil {
		fail(err)
	}

	var balance int32
	for _, out := range outs {
		balance += out.Value
	}
	fmt.Printf("balance of %s: %d\n", addr, balance)
}

func runSend(fromAddr, toAddr string, amount int32, mineNow bool) {
	if !wallet.ValidateAddress(fromAddr) || !wallet.ValidateAddress(toAddr) {
		fail(fmt.Errorf("%w: from=%s to=%s", chainerr.ErrInvalidAddress, fromAddr, toAddr))
	}

	chain, err := ledger.Open(dbFile)
	if err != nil {
		fail(err)
	}
	defer chain.Close()
	set := chainstate.Open(chain)

	ws, err := wallet.Load(wallet.DefaultFile)
	if err != nil {
		fail(err)
	}
	fromWallet, ok := ws.Get(fromAddr)
	if !ok {
		fail(fmt.Errorf("%w: no local wallet for %s", chainerr.ErrInvalidAddress, fromAddr))
	}

	tx, err := transaction.NewSpend(fromWallet, fromAddr, toAddr, amount, set)
	if err != nil {
		fail(err)
	}
	if err := chain.SignTransaction(tx, fromWallet.PKCS8); err != nil {
		fail(err)
	}

	if mineNow {
		coinbaseTx, err := transaction.NewCoinbase(fromAddr)
		if err != nil {
			fail(err)
		}
		mined, err := chain.MineBlock([]*transaction.Transaction{coinbaseTx, tx})
		if err != nil {
			fail(err)
		}
		if err := set.Update(mined); err != nil {
			fail(err)
		}
		log.Info().Str("hash", mined.Hash).Msg("mined block")
	} else {
		if err := gossip.SendTransaction(gossip.CentralNode, tx); err != nil {
			fail(err)
		}
	}

	fmt.Println("success")
}

func runReindex() {
	chain, err := ledger.Open(dbFile)
	if err != nil {
		fail(err)
	}
	defer chain.Close()

	set := chainstate.Open(chain)
	if err := set.Reindex(); err != nil {
		fail(err)
	}

	count, err := set.CountTransactions()
	if err != nil {
		fail(err)
	}
	fmt.Printf("done, %d transactions indexed\n", count)
}

func runStartNode(cfg *config.Config) {
	chain, err := ledger.Open(dbFile)
	if err != nil {
		fail(err)
	}
	defer chain.Close()

	set := chainstate.Open(chain)
	if cfg.MiningAddress != "" && !wallet.ValidateAddress(cfg.MiningAddress) {
		fail(fmt.Errorf("%w: %s", chainerr.ErrInvalidAddress, cfg.MiningAddress))
	}

	node := gossip.New(chain, set, log)
	closer, err := node.Listen(cfg.ListenAddr)
	if err != nil {
		fail(err)
	}
	defer closer.Close()

	log.Info().Str("listen", cfg.ListenAddr).Str("miner", cfg.MiningAddress).Msg("node started")
	select {}
}
