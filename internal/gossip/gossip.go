// Package gossip wires a ledger and chainstate index to a minimal TCP
// listener. The broader peer-discovery/inventory protocol the teacher's
// pseudo p2p network implements (version/addr/inv/getblocks/getdata
// handshaking, known-node tracking) is out of scope here; only the
// state-transition surface — receiving a block or a transaction from a
// peer — is wired to an actual listener.
package gossip

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"

	"minichain/pkg/block"
	"minichain/pkg/chainerr"
	"minichain/pkg/chainstate"
	"minichain/pkg/ledger"
	"minichain/pkg/transaction"
)

const (
	protocol = "tcp"
	cmdLen   = 12

	// CentralNode is the default seed node a bare "send --mine=false" call
	// broadcasts an unmined transaction to.
	CentralNode = "localhost:3000"
)

// Node wraps a ledger and its chainstate index with the state-transition
// operations a peer connection drives.
type Node struct {
	Chain *ledger.BlockChain
	Set   *chainstate.UTXOSet
	Log   zerolog.Logger
}

// New builds a Node over chain and its chainstate index.
func New(chain *ledger.BlockChain, set *chainstate.UTXOSet, log zerolog.Logger) *Node {
	return &Node{Chain: chain, Set: set, Log: log}
}

// ReceiveBlock stores a block received from a peer and, if it advances the
// tip, folds it into the chainstate index.
func (n *Node) ReceiveBlock(b *block.Block) error {
	before := n.Chain.Tip()
	if err := n.Chain.AddBlock(b); err != nil {
		return err
	}
	if n.Chain.Tip() != before {
		if err := n.Set.Update(b); err != nil {
			return err
		}
		n.Log.Info().Str("hash", b.Hash).Uint64("height", b.Height).Msg("accepted block from peer")
	}
	return nil
}

// ReceiveTransaction verifies a transaction received from a peer against
// the current ledger. It does not add the transaction to any local pool —
// pooling and batching into a block is the caller's responsibility.
func (n *Node) ReceiveTransaction(tx *transaction.Transaction) (bool, error) {
	ok, err := n.Chain.VerifyTransaction(tx)
	if err != nil {
		return false, err
	}
	if !ok {
		n.Log.Warn().Str("tx", tx.IDHex()).Msg("rejected invalid transaction from peer")
	}
	return ok, nil
}

// block/tx gob envelopes exchanged over the wire.
type blockPayload struct {
	Block []byte
}

type txPayload struct {
	Transaction []byte
}

// Listen opens a TCP listener at addr and serves incoming "block" and "tx"
// commands until the listener is closed via the returned io.Closer.
func (n *Node) Listen(addr string) (io.Closer, error) {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen on %s: %v", chainerr.ErrStoreError, addr, err)
	}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go n.handleConn(conn)
		}
	}()

	return listener, nil
}

func (n *Node) handleConn(conn net.Conn) {
	defer conn.Close()

	request, err := io.ReadAll(conn)
	if err != nil {
		n.Log.Error().Err(err).Msg("read peer connection")
		return
	}
	if len(request) < cmdLen {
		n.Log.Warn().Int("len", len(request)).Msg("short request from peer")
		return
	}

	switch bytes2Cmd(request[:cmdLen]) {
	case "block":
		n.handleBlockCmd(request[cmdLen:])
	case "tx":
		n.handleTxCmd(request[cmdLen:])
	default:
		n.Log.Warn().Str("cmd", bytes2Cmd(request[:cmdLen])).Msg("unknown command from peer")
	}
}

func (n *Node) handleBlockCmd(payload []byte) {
	var p blockPayload
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&p); err != nil {
		n.Log.Error().Err(err).Msg("decode block payload")
		return
	}
	b, err := block.Deserialize(p.Block)
	if err != nil {
		n.Log.Error().Err(err).Msg("deserialize peer block")
		return
	}
	if err := n.ReceiveBlock(b); err != nil {
		n.Log.Error().Err(err).Msg("receive peer block")
	}
}

func (n *Node) handleTxCmd(payload []byte) {
	var p txPayload
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&p); err != nil {
		n.Log.Error().Err(err).Msg("decode tx payload")
		return
	}
	tx, err := transaction.Deserialize(p.Transaction)
	if err != nil {
		n.Log.Error().Err(err).Msg("deserialize peer transaction")
		return
	}
	if _, err := n.ReceiveTransaction(tx); err != nil {
		n.Log.Error().Err(err).Msg("verify peer transaction")
	}
}

// SendBlock gob-encodes and sends b to dstAddr, framed with the "block"
// command.
func SendBlock(dstAddr string, b *block.Block) error {
	payload, err := gobEncode(blockPayload{Block: b.Serialize()})
	if err != nil {
		return err
	}
	return send(dstAddr, append(cmd2Bytes("block"), payload...))
}

// SendTransaction gob-encodes and sends tx to dstAddr, framed with the
// "tx" command.
func SendTransaction(dstAddr string, tx *transaction.Transaction) error {
	payload, err := gobEncode(txPayload{Transaction: tx.Serialize()})
	if err != nil {
		return err
	}
	return send(dstAddr, append(cmd2Bytes("tx"), payload...))
}

func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("%w: gob encode: %v", chainerr.ErrStoreError, err)
	}
	return buf.Bytes(), nil
}

func send(dstAddr string, data []byte) error {
	conn, err := net.Dial(protocol, dstAddr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", chainerr.ErrStoreError, dstAddr, err)
	}
	defer conn.Close()

	_, err = io.Copy(conn, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: write to %s: %v", chainerr.ErrStoreError, dstAddr, err)
	}
	return nil
}

func cmd2Bytes(cmd string) []byte {
	var byteChars [cmdLen]byte
	copy(byteChars[:], cmd)
	return byteChars[:]
}

func bytes2Cmd(byteChars []byte) string {
	var cmd []byte
	for _, b := range byteChars {
		if b != 0x0 {
			cmd = append(cmd, b)
		}
	}
	return string(cmd)
}
