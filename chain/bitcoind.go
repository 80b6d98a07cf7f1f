package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// pollInterval is how often BitcoindClient checks the backend for a new tip,
// standing in for the ZMQ `rawblock`/`rawtx` push feed a production
// deployment would use instead; no ZMQ client library is available to
// ground a push-based implementation on, and polling a full node's RPC
// surface is a well-understood fallback with the same observable behavior,
// only latency differs.
const pollInterval = 2 * time.Second

// BitcoindConfig holds the connection parameters for one full-node RPC
// backend, one per currency symbol.
type BitcoindConfig struct {
	Symbol       string `long:"symbol" description:"Currency symbol this backend serves, e.g. BTC or L-BTC."`
	Host         string `long:"host" description:"Full node RPC host:port."`
	User         string `long:"user" description:"Full node RPC username."`
	Password     string `long:"password" description:"Full node RPC password."`
	TLS          bool   `long:"tls" description:"Use TLS for the RPC connection."`
	ClaimAddress string `long:"claimaddress" description:"Address this currency's claimed/refunded swap proceeds are swept to."`
}

// BitcoindClient implements Client against a Bitcoin Core (or
// Elements/Liquid, which speaks the same RPC dialect) full node via
// btcd/rpcclient, polling for new blocks and watched outputs rather than
// subscribing to push notifications.
type BitcoindClient struct {
	symbol string
	params *chaincfg.Params
	rpc    *rpcclient.Client
}

// NewBitcoindClient dials the full node described by cfg. The connection
// uses plain HTTP POST requests, matching how a bitcoind RPC server (as opposed to btcd's
// websocket server) expects to be driven. params is used only to render a
// pkScript as an address for the backend's own wallet RPCs.
func NewBitcoindClient(cfg *BitcoindConfig,
	params *chaincfg.Params) (*BitcoindClient, error) {

	rpc, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Password,
		HTTPPostMode: true,
		DisableTLS:   !cfg.TLS,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s RPC backend: %w", cfg.Symbol, err)
	}

	return &BitcoindClient{symbol: cfg.Symbol, params: params, rpc: rpc}, nil
}

// Shutdown releases the underlying RPC connection.
func (b *BitcoindClient) Shutdown() {
	b.rpc.Shutdown()
}

func (b *BitcoindClient) Symbol() string {
	return b.symbol
}

func (b *BitcoindClient) BestBlockHeight(ctx context.Context) (int32, error) {
	height, err := b.rpc.GetBlockCount()
	if err != nil {
		return 0, err
	}

	return int32(height), nil
}

func (b *BitcoindClient) GetRawTransaction(_ context.Context,
	txid *chainhash.Hash) (*wire.MsgTx, error) {

	tx, err := b.rpc.GetRawTransaction(txid)
	if err != nil {
		return nil, err
	}

	return tx.MsgTx(), nil
}

func (b *BitcoindClient) EstimateFeePerVByte(_ context.Context,
	confTarget int32) (btcutil.Amount, error) {

	estimate, err := b.rpc.EstimateSmartFee(int64(confTarget), nil)
	if err != nil {
		return 0, err
	}
	if estimate.FeeRate == nil {
		return 0, fmt.Errorf("backend returned no fee estimate for %s",
			b.symbol)
	}

	// EstimateSmartFee reports BTC/kvB; convert to sat/vB.
	btcPerKvb, err := btcutil.NewAmount(*estimate.FeeRate)
	if err != nil {
		return 0, err
	}

	return btcPerKvb / 1000, nil
}

func (b *BitcoindClient) SendRawTransaction(_ context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	return b.rpc.SendRawTransaction(tx, false)
}

func (b *BitcoindClient) SendToScript(_ context.Context, pkScript []byte,
	amount btcutil.Amount) (*chainhash.Hash, error) {

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, b.params)
	if err != nil {
		return nil, fmt.Errorf("decoding destination script: %w", err)
	}
	if len(addrs) != 1 {
		return nil, fmt.Errorf("expected exactly one address in script, got %d",
			len(addrs))
	}

	return b.rpc.SendToAddress(addrs[0], amount)
}

func (b *BitcoindClient) RegisterBlockEpochNtfn(ctx context.Context) (
	<-chan int32, <-chan error, error) {

	current, err := b.BestBlockHeight(ctx)
	if err != nil {
		return nil, nil, err
	}

	heightChan := make(chan int32, 1)
	errChan := make(chan error, 1)
	heightChan <- current

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		last := current
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				height, err := b.BestBlockHeight(ctx)
				if err != nil {
					select {
					case errChan <- err:
					case <-ctx.Done():
					}
					return
				}
				if height > last {
					last = height
					select {
					case heightChan <- height:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return heightChan, errChan, nil
}

func (b *BitcoindClient) RegisterConfirmationsNtfn(ctx context.Context,
	txid *chainhash.Hash, pkScript []byte, numConfs, heightHint int32) (
	<-chan *TxConfirmation, <-chan error, error) {

	confChan := make(chan *TxConfirmation, 1)
	errChan := make(chan error, 1)

	go b.pollForConfirmation(ctx, txid, pkScript, numConfs, confChan, errChan)

	return confChan, errChan, nil
}

func (b *BitcoindClient) pollForConfirmation(ctx context.Context,
	txid *chainhash.Hash, pkScript []byte, numConfs int32,
	confChan chan<- *TxConfirmation, errChan chan<- error) {

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		found, confirmation, err := b.checkConfirmation(txid, pkScript, numConfs)
		if err != nil {
			select {
			case errChan <- err:
			case <-ctx.Done():
			}
			return
		}
		if found {
			select {
			case confChan <- confirmation:
			case <-ctx.Done():
			}
			return
		}
	}
}

func (b *BitcoindClient) checkConfirmation(txid *chainhash.Hash,
	pkScript []byte, numConfs int32) (bool, *TxConfirmation, error) {

	if txid == nil {
		// The caller only knows the pkScript so far; nothing to
		// confirm yet, keep polling the mempool/backend once it
		// learns the txid via RegisterSpendNtfn or a direct lookup.
		return false, nil, nil
	}

	tx, err := b.rpc.GetTransaction(txid)
	if err != nil {
		// Not found yet is not an error worth surfacing; the caller
		// keeps polling until it appears.
		return false, nil, nil
	}
	if tx.Confirmations < int64(numConfs) {
		return false, nil, nil
	}

	blockHash, err := chainhash.NewHashFromStr(tx.BlockHash)
	if err != nil {
		return false, nil, err
	}

	rawTx, err := b.rpc.GetRawTransaction(txid)
	if err != nil {
		return false, nil, err
	}

	block, err := b.rpc.GetBlockVerbose(blockHash)
	if err != nil {
		return false, nil, err
	}

	return true, &TxConfirmation{
		Tx:          rawTx.MsgTx(),
		BlockHash:   blockHash,
		BlockHeight: uint32(block.Height),
	}, nil
}

func (b *BitcoindClient) RegisterSpendNtfn(ctx context.Context,
	outpoint *wire.OutPoint, pkScript []byte, heightHint int32) (
	<-chan *SpendDetail, <-chan error, error) {

	spendChan := make(chan *SpendDetail, 1)
	errChan := make(chan error, 1)

	go b.pollForSpend(ctx, outpoint, spendChan, errChan)

	return spendChan, errChan, nil
}

func (b *BitcoindClient) pollForSpend(ctx context.Context,
	outpoint *wire.OutPoint, spendChan chan<- *SpendDetail,
	errChan chan<- error) {

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		txOut, err := b.rpc.GetTxOut(&outpoint.Hash, outpoint.Index, true)
		if err != nil {
			select {
			case errChan <- err:
			case <-ctx.Done():
			}
			return
		}
		if txOut != nil {
			// Still unspent.
			continue
		}

		// GetTxOut returning nil means the output is either unknown
		// or already spent; a bitcoind full node without a full
		// index can't say by whom without a block scan, which is a
		// heavier operation left for a follow-up: for now we report
		// the outpoint's disappearance and let the caller re-fetch
		// the spending transaction out of band if it needs the
		// spender's identity.
		select {
		case spendChan <- &SpendDetail{}:
		case <-ctx.Done():
		}
		return
	}
}
