package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// EventType distinguishes an output's confirmation from its being spent or
// unconfirmed by a re-org.
type EventType uint8

const (
	// OutputFound fires the first time a watched output reaches its
	// required confirmation depth.
	OutputFound EventType = iota

	// OutputRetracted marks a previously confirmed output whose
	// transaction is no longer present in the best chain, e.g. after a
	// re-org unconfirms the block it was mined in. Listener does not emit
	// it: Watch does not track re-orgs and only ever reports OutputFound.
	OutputRetracted
)

// Event is delivered to a watch's callback for each confirmation the
// underlying client reports for a transaction paying the watched script.
type Event struct {
	Type        EventType
	PkScript    []byte
	Txid        chainhash.Hash
	Vout        uint32
	Amount      btcutil.Amount
	BlockHeight int32
}

// Listener watches the mempool and chain for outputs paying to specific
// scripts, deduplicating notifications per (pkScript) the way
// utils.TxSubscribeConfirmationManager deduplicates per swap hash. It
// reports confirmations only; re-orgs are not detected and OutputRetracted
// is never emitted.
type Listener struct {
	client Client
	index  *outputIndex

	mu          sync.Mutex
	blockHeight int32
}

// NewListener constructs a Listener bound to a single chain client. A
// ChainSwap watches two independent Listeners, one per currency.
func NewListener(client Client) *Listener {
	return &Listener{
		client: client,
		index:  newOutputIndex(),
	}
}

// Symbol returns the underlying client's currency symbol.
func (l *Listener) Symbol() string {
	return l.client.Symbol()
}

// Client returns the underlying chain client, letting a caller broadcast a
// transaction or fetch chain data without the Listener needing to expose a
// pass-through method for every Client operation.
func (l *Listener) Client() Client {
	return l.client
}

// Run drives the listener's block-epoch subscription until ctx is
// cancelled. It must be called exactly once per Listener.
func (l *Listener) Run(ctx context.Context) error {
	height, err := l.client.BestBlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("fetching best height: %w", err)
	}

	l.mu.Lock()
	l.blockHeight = height
	l.mu.Unlock()

	heightChan, errChan, err := l.client.RegisterBlockEpochNtfn(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case h := <-heightChan:
			l.mu.Lock()
			l.blockHeight = h
			l.mu.Unlock()

		case err := <-errChan:
			return err

		case <-ctx.Done():
			return nil
		}
	}
}

// BlockHeight returns the last height observed by Run.
func (l *Listener) BlockHeight() int32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.blockHeight
}

// Watch registers interest in a script and starts a confirmation
// subscription against the underlying client. onEvent is invoked from a
// dedicated goroutine per watch; it must not block.
func (l *Listener) Watch(ctx context.Context, pkScript []byte, numConfs,
	heightHint int32, onEvent func(Event)) error {

	if !l.index.add(pkScript, numConfs, heightHint, onEvent) {
		return nil
	}

	confChan, errChan, err := l.client.RegisterConfirmationsNtfn(
		ctx, nil, pkScript, numConfs, heightHint,
	)
	if err != nil {
		l.index.remove(pkScript)
		return err
	}

	go func() {
		defer l.index.remove(pkScript)

		for {
			select {
			case conf := <-confChan:
				txid, vout, amount, ok := findOutput(
					conf.Tx, pkScript,
				)
				if !ok {
					continue
				}

				onEvent(Event{
					Type:        OutputFound,
					PkScript:    pkScript,
					Txid:        txid,
					Vout:        vout,
					Amount:      amount,
					BlockHeight: int32(conf.BlockHeight),
				})

			case err := <-errChan:
				if err != nil {
					log.Errorf("chain listener: %v", err)
				}
				return

			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Unwatch stops watching a previously registered script.
func (l *Listener) Unwatch(pkScript []byte) {
	l.index.remove(pkScript)
}

// WatchSpend watches for the transaction that spends outpoint, invoking
// onSpend exactly once when it appears. Unlike Watch, the caller already
// knows the outpoint (it's the lockup transaction it published itself), so
// there is no need to search a confirmation's outputs first.
func (l *Listener) WatchSpend(ctx context.Context, outpoint wire.OutPoint,
	pkScript []byte, heightHint int32, onSpend func(*SpendDetail)) error {

	spendChan, errChan, err := l.client.RegisterSpendNtfn(
		ctx, &outpoint, pkScript, heightHint,
	)
	if err != nil {
		return err
	}

	go func() {
		select {
		case spend := <-spendChan:
			onSpend(spend)

		case err := <-errChan:
			if err != nil {
				log.Errorf("chain listener: watching spend "+
					"of %v: %v", outpoint, err)
			}

		case <-ctx.Done():
		}
	}()

	return nil
}

func findOutput(tx *wire.MsgTx, pkScript []byte) (chainhash.Hash, uint32,
	btcutil.Amount, bool) {

	for i, out := range tx.TxOut {
		if string(out.PkScript) == string(pkScript) {
			return tx.TxHash(), uint32(i),
				btcutil.Amount(out.Value), true
		}
	}

	return chainhash.Hash{}, 0, 0, false
}
