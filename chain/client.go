package chain

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TxConfirmation describes a confirmed transaction the way lnd's
// chainntnfs.TxConfirmation does: enough to locate the output again without
// re-fetching the block.
type TxConfirmation struct {
	Tx          *wire.MsgTx
	BlockHash   *chainhash.Hash
	BlockHeight uint32
	TxIndex     uint32
}

// Client is the narrow RPC surface the Chain Listener needs from a full node
// for one currency (Bitcoin Core, Elements, or a compatible proxy). One
// Client is constructed per symbol so a ChainSwap can watch two chains
// concurrently.
type Client interface {
	// Symbol identifies which currency this client talks to, e.g. "BTC"
	// or "L-BTC".
	Symbol() string

	// BestBlockHeight returns the tip height known to the backend.
	BestBlockHeight(ctx context.Context) (int32, error)

	// GetRawTransaction fetches a transaction by hash, if the backend's
	// txindex or wallet has it.
	GetRawTransaction(ctx context.Context,
		txid *chainhash.Hash) (*wire.MsgTx, error)

	// EstimateFeePerVByte returns a fee estimate for confirmation within
	// confTarget blocks, in satoshis per vbyte.
	EstimateFeePerVByte(ctx context.Context, confTarget int32) (
		btcutil.Amount, error)

	// SendRawTransaction broadcasts tx and returns its hash.
	SendRawTransaction(ctx context.Context,
		tx *wire.MsgTx) (*chainhash.Hash, error)

	// RegisterConfirmationsNtfn asks the backend to report when the
	// output identified by pkScript (or, once known, txid) reaches
	// numConfs confirmations. heightHint bounds the backend's rescan.
	RegisterConfirmationsNtfn(ctx context.Context, txid *chainhash.Hash,
		pkScript []byte, numConfs, heightHint int32) (
		confChan <-chan *TxConfirmation, errChan <-chan error, err error)

	// RegisterBlockEpochNtfn streams block heights as they connect to
	// the backend's chain, starting from the current tip.
	RegisterBlockEpochNtfn(ctx context.Context) (
		heightChan <-chan int32, errChan <-chan error, err error)

	// RegisterSpendNtfn asks the backend to report the transaction that
	// spends the given outpoint, used to detect a counterparty's claim
	// or refund of an HTLC we published ourselves and so already know
	// the outpoint of.
	RegisterSpendNtfn(ctx context.Context, outpoint *wire.OutPoint,
		pkScript []byte, heightHint int32) (
		spendChan <-chan *SpendDetail, errChan <-chan error, err error)

	// SendToScript pays amount to pkScript from the backend's onchain
	// wallet, returning the funding transaction's hash. Coin selection
	// and signing are the backend's responsibility.
	SendToScript(ctx context.Context, pkScript []byte,
		amount btcutil.Amount) (*chainhash.Hash, error)
}

// SpendDetail describes a transaction that spends a watched outpoint.
type SpendDetail struct {
	SpendingTx  *wire.MsgTx
	InputIndex  uint32
	BlockHeight int32
}
