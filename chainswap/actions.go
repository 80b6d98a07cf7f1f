package chainswap

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/boltz-exchange/swapd/chain"
	"github.com/boltz-exchange/swapd/fsm"
	"github.com/boltz-exchange/swapd/swap"
	"github.com/boltz-exchange/swapd/swapdb"
	"github.com/boltz-exchange/swapd/timeout"
)

// Context is the fsm.EventContext every chain swap action receives.
type Context struct {
	Ctx  context.Context
	Hash lntypes.Hash
}

// Actions implements every state's Action func for a chain swap, composing
// the "from" leg (the user's lockup, watched the way submarine.Actions
// watches one) and the "to" leg (our own lockup, published and raced the
// way reverse.Actions handles one) against two independent chain.Listeners.
type Actions struct {
	store   swapdb.Store
	from    *chain.Listener
	to      *chain.Listener
	keyRing swap.KeyRing
	watcher *timeout.Watcher

	fromParams *chaincfg.Params
	toParams   *chaincfg.Params

	minConfirmations int32
	claimPkScript    []byte

	// toRefundPkScript is where our own "to" leg lockup is swept back to
	// if the user never claims it, mirroring reverse.Actions.refundPkScript.
	toRefundPkScript []byte

	notify func(swapdb.Status, *swapdb.Swap)
}

// NewActions constructs the Actions collaborator set for the chain swap
// Manager. from/to identify which currency each chain.Listener watches;
// they must match the swap's Pair.
func NewActions(store swapdb.Store, from, to *chain.Listener,
	keyRing swap.KeyRing, watcher *timeout.Watcher,
	fromParams, toParams *chaincfg.Params,
	claimPkScript, toRefundPkScript []byte, minConfirmations int32,
	notify func(swapdb.Status, *swapdb.Swap)) *Actions {

	return &Actions{
		store:            store,
		from:             from,
		to:               to,
		keyRing:          keyRing,
		watcher:          watcher,
		fromParams:       fromParams,
		toParams:         toParams,
		claimPkScript:    claimPkScript,
		toRefundPkScript: toRefundPkScript,
		minConfirmations: minConfirmations,
		notify:           notify,
	}
}

func (a *Actions) fromCtx(eventCtx fsm.EventContext) (*swapdb.Swap,
	context.Context, error) {

	sc, ok := eventCtx.(*Context)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected event context type %T",
			eventCtx)
	}

	s, err := a.store.FetchSwap(sc.Ctx, sc.Hash)
	if err != nil {
		return nil, nil, err
	}

	return s, sc.Ctx, nil
}

func (a *Actions) setStatus(ctx context.Context, s *swapdb.Swap,
	status swapdb.Status) error {

	if err := a.store.SetStatus(ctx, s.Hash, status); err != nil {
		return err
	}

	s.Status = status
	if a.notify != nil {
		a.notify(status, s)
	}

	return nil
}

// fromHtlc is the user's lockup HTLC: they're the sender (refund path), we
// are the receiver (claim path), mirroring submarine.Actions.htlcFor.
func (a *Actions) fromHtlc(s *swapdb.Swap) (*swap.Htlc, error) {
	return swap.NewHtlc(
		swap.HtlcV3, s.CltvExpiry, s.HtlcKeys.TheirPubkey,
		s.HtlcKeys.OurPubkey, s.Hash, swap.HtlcP2TR, a.fromParams,
	)
}

// toHtlc is our own lockup HTLC: we're the sender (refund path), the user
// is the receiver (claim path), mirroring reverse.Actions.htlcFor.
func (a *Actions) toHtlc(s *swapdb.Swap) (*swap.Htlc, error) {
	return swap.NewHtlc(
		swap.HtlcV3, s.ToCltvExpiry, s.ToHtlcKeys.OurPubkey,
		s.ToHtlcKeys.TheirPubkey, s.Hash, swap.HtlcP2TR, a.toParams,
	)
}

// FromLockupAddress returns the address the user must pay their leg of the
// swap to.
func (a *Actions) FromLockupAddress(s *swapdb.Swap) (string, error) {
	htlc, err := a.fromHtlc(s)
	if err != nil {
		return "", err
	}

	return htlc.Address.EncodeAddress(), nil
}

// EstimateToClaimFee quotes the fee the user will pay to claim the "to" leg
// onchain, used at swap creation to tell them what they'll actually net.
func (a *Actions) EstimateToClaimFee(ctx context.Context,
	htlc *swap.Htlc) (btcutil.Amount, error) {

	satPerVByte, err := a.to.Client().EstimateFeePerVByte(
		ctx, swap.SweepConfTarget,
	)
	if err != nil {
		return 0, fmt.Errorf("estimating to-leg claim fee: %w", err)
	}

	return swap.EstimateClaimFeeQuote(htlc, satPerVByte)
}

// AwaitUserLockupAction watches the "from" chain for the user's HTLC to
// confirm, exactly as submarine.Actions.AwaitLockupAction does.
func (a *Actions) AwaitUserLockupAction(eventCtx fsm.EventContext) fsm.EventType {
	s, ctx, err := a.fromCtx(eventCtx)
	if err != nil {
		return a.handleError(err)
	}

	htlc, err := a.fromHtlc(s)
	if err != nil {
		return a.handleError(err)
	}

	events := make(chan chain.Event, 1)
	err = a.from.Watch(ctx, htlc.PkScript, a.minConfirmations, 0,
		func(ev chain.Event) {
			select {
			case events <- ev:
			default:
			}
		})
	if err != nil {
		return a.handleError(err)
	}
	defer a.from.Unwatch(htlc.PkScript)

	timedOut := make(chan struct{}, 1)
	a.watcher.RegisterHeightExpiry(s.Hash, a.from.Symbol(), s.CltvExpiry,
		func() {
			select {
			case timedOut <- struct{}{}:
			default:
			}
		})

	select {
	case ev := <-events:
		a.watcher.Cancel(s.Hash)

		if ev.Type != chain.OutputFound {
			return fsm.NoOp
		}

		if err := a.store.SetLockup(
			ctx, s.Hash, ev.Txid, ev.Vout, ev.Amount,
		); err != nil {
			return a.handleError(err)
		}

		if err := a.setStatus(
			ctx, s, swapdb.StatusTransactionConfirmed,
		); err != nil {
			return a.handleError(err)
		}

		return OnUserLockupConfirmed

	case <-timedOut:
		if err := a.setStatus(ctx, s, swapdb.StatusFailed); err != nil {
			return a.handleError(err)
		}

		return OnTimeout

	case <-ctx.Done():
		return fsm.NoOp
	}
}

// PublishOwnLockupAction pays the swap's "to" amount into the second HTLC
// once the user's lockup has confirmed, exactly as
// reverse.Actions.PublishLockupAction does.
func (a *Actions) PublishOwnLockupAction(eventCtx fsm.EventContext) fsm.EventType {
	s, ctx, err := a.fromCtx(eventCtx)
	if err != nil {
		return a.handleError(err)
	}

	htlc, err := a.toHtlc(s)
	if err != nil {
		return a.handleError(err)
	}

	txid, err := a.to.Client().SendToScript(ctx, htlc.PkScript, s.OnchainAmount)
	if err != nil {
		return a.handleError(fmt.Errorf("publishing to-leg lockup: %w", err))
	}

	if err := a.store.SetToLockup(ctx, s.Hash, *txid, 0); err != nil {
		return a.handleError(err)
	}

	if err := a.setStatus(
		ctx, s, swapdb.StatusInvoicePending,
	); err != nil {
		return a.handleError(err)
	}

	return OnOwnLockupPublished
}

// AwaitUserClaimAction watches the "to" leg's output for the user's claim,
// lifting the preimage out of its witness exactly as
// reverse.Actions.AwaitClaimAction does.
func (a *Actions) AwaitUserClaimAction(eventCtx fsm.EventContext) fsm.EventType {
	s, ctx, err := a.fromCtx(eventCtx)
	if err != nil {
		return a.handleError(err)
	}

	htlc, err := a.toHtlc(s)
	if err != nil {
		return a.handleError(err)
	}

	if s.ToLockupTxid == nil {
		return a.handleError(fmt.Errorf("awaiting claim before " +
			"to-leg outpoint was known"))
	}

	spends := make(chan *chain.SpendDetail, 1)
	outpoint := wire.OutPoint{Hash: *s.ToLockupTxid, Index: s.ToLockupVout}

	err = a.to.WatchSpend(ctx, outpoint, htlc.PkScript, 0,
		func(sd *chain.SpendDetail) {
			select {
			case spends <- sd:
			default:
			}
		})
	if err != nil {
		return a.handleError(err)
	}

	timedOut := make(chan struct{}, 1)
	a.watcher.RegisterHeightExpiry(s.Hash, a.to.Symbol(), s.ToCltvExpiry,
		func() {
			select {
			case timedOut <- struct{}{}:
			default:
			}
		})

	select {
	case spend := <-spends:
		a.watcher.Cancel(s.Hash)

		preimage, ok := extractPreimage(htlc, spend.SpendingTx)
		if !ok {
			return a.handleError(fmt.Errorf("to-leg htlc spent by " +
				"neither claim nor refund"))
		}

		if err := a.store.SetPreimage(ctx, s.Hash, preimage); err != nil {
			return a.handleError(err)
		}

		if err := a.setStatus(
			ctx, s, swapdb.StatusInvoicePaid,
		); err != nil {
			return a.handleError(err)
		}

		return OnUserClaimed

	case <-timedOut:
		if err := a.setStatus(
			ctx, s, swapdb.StatusTransactionRefunding,
		); err != nil {
			return a.handleError(err)
		}

		return OnTimeout

	case <-ctx.Done():
		return fsm.NoOp
	}
}

// ClaimUserLockupAction uses the preimage extracted from the "to" leg's
// claim to sweep the "from" leg's HTLC, exactly as
// submarine.Actions.ClaimAction does.
func (a *Actions) ClaimUserLockupAction(eventCtx fsm.EventContext) fsm.EventType {
	s, ctx, err := a.fromCtx(eventCtx)
	if err != nil {
		return a.handleError(err)
	}

	if s.Preimage == nil {
		return a.handleError(fmt.Errorf("claiming from-leg before " +
			"preimage was known"))
	}
	if s.LockupTxid == nil {
		return a.handleError(fmt.Errorf("claiming from-leg before " +
			"its outpoint was known"))
	}

	htlc, err := a.fromHtlc(s)
	if err != nil {
		return a.handleError(err)
	}

	ourKey, err := a.keyRing.DeriveKey(s.HtlcKeys.OurKeyLocator)
	if err != nil {
		return a.handleError(err)
	}

	satPerVByte, err := a.from.Client().EstimateFeePerVByte(
		ctx, swap.SweepConfTarget,
	)
	if err != nil {
		return a.handleError(fmt.Errorf("estimating claim fee: %w", err))
	}

	fee, err := swap.EstimateSweepFee(htlc, a.claimPkScript, satPerVByte)
	if err != nil {
		return a.handleError(fmt.Errorf("sizing claim fee: %w", err))
	}

	claimTx, err := swap.BuildSuccessSweep(
		htlc, ourKey, *s.LockupTxid, s.LockupVout, s.OnchainAmount, fee,
		*s.Preimage, a.claimPkScript,
	)
	if err != nil {
		return a.handleError(fmt.Errorf("building claim tx: %w", err))
	}

	if _, err := a.from.Client().SendRawTransaction(ctx, claimTx); err != nil {
		return a.handleError(fmt.Errorf("broadcasting claim tx: %w", err))
	}

	if err := a.setStatus(
		ctx, s, swapdb.StatusTransactionClaimed,
	); err != nil {
		return a.handleError(err)
	}

	return OnClaimed
}

// RefundOwnLockupAction broadcasts our own timeout-path spend of the "to"
// leg lockup published in PublishOwnLockupAction, once the timeout watcher
// has fired an OnTimeout event because the user never claimed it, mirroring
// reverse.Actions.RefundAction.
func (a *Actions) RefundOwnLockupAction(eventCtx fsm.EventContext) fsm.EventType {
	s, ctx, err := a.fromCtx(eventCtx)
	if err != nil {
		return a.handleError(err)
	}

	if s.ToLockupTxid == nil {
		return a.handleError(fmt.Errorf("refund requested before " +
			"to-leg outpoint was known"))
	}

	htlc, err := a.toHtlc(s)
	if err != nil {
		return a.handleError(err)
	}

	ourKey, err := a.keyRing.DeriveKey(s.ToHtlcKeys.OurKeyLocator)
	if err != nil {
		return a.handleError(err)
	}

	satPerVByte, err := a.to.Client().EstimateFeePerVByte(
		ctx, swap.SweepConfTarget,
	)
	if err != nil {
		return a.handleError(fmt.Errorf("estimating refund fee: %w", err))
	}

	fee, err := swap.EstimateTimeoutSweepFee(
		htlc, a.toRefundPkScript, satPerVByte,
	)
	if err != nil {
		return a.handleError(fmt.Errorf("sizing refund fee: %w", err))
	}

	refundTx, err := swap.BuildTimeoutSweep(
		htlc, ourKey, *s.ToLockupTxid, s.ToLockupVout, s.OnchainAmount,
		fee, s.ToCltvExpiry, a.toRefundPkScript,
	)
	if err != nil {
		return a.handleError(fmt.Errorf("building refund tx: %w", err))
	}

	if _, err := a.to.Client().SendRawTransaction(
		ctx, refundTx,
	); err != nil {
		return a.handleError(fmt.Errorf("broadcasting refund tx: %w",
			err))
	}

	if err := a.setStatus(
		ctx, s, swapdb.StatusTransactionRefunded,
	); err != nil {
		return a.handleError(err)
	}

	return OnRefunded
}

func extractPreimage(htlc *swap.Htlc, spendTx *wire.MsgTx) (lntypes.Preimage,
	bool) {

	for _, in := range spendTx.TxIn {
		if !htlc.IsSuccessWitness(in.Witness) {
			continue
		}
		if len(in.Witness) < 1 {
			continue
		}

		var preimage lntypes.Preimage
		copy(preimage[:], in.Witness[0])
		if preimage.Hash() == htlc.Hash {
			return preimage, true
		}
	}

	return lntypes.Preimage{}, false
}

func (a *Actions) handleError(err error) fsm.EventType {
	log.Errorf("chain swap action error: %v", err)
	return fsm.OnError
}
