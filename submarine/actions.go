package submarine

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/boltz-exchange/swapd/chain"
	"github.com/boltz-exchange/swapd/fsm"
	"github.com/boltz-exchange/swapd/lightning"
	"github.com/boltz-exchange/swapd/musig2"
	"github.com/boltz-exchange/swapd/rates"
	"github.com/boltz-exchange/swapd/swap"
	"github.com/boltz-exchange/swapd/swapdb"
	"github.com/boltz-exchange/swapd/timeout"
)

// Context is the fsm.EventContext every submarine action receives. It
// carries the request-scoped context alongside the hash of the swap the
// action operates on; the record itself is re-fetched from the store at the
// start of each action rather than trusted to stay fresh across the async
// gap between events.
type Context struct {
	Ctx  context.Context
	Hash lntypes.Hash
}

// Actions implements every state's Action func for a submarine swap. A
// single Actions instance is shared across every swap's state machine; all
// per-swap data lives in the store and is looked up by hash.
type Actions struct {
	store       swapdb.Store
	chain       *chain.Listener
	lnClient    lightning.Client
	invoices    *lightning.SubscriptionManager
	keyRing     swap.KeyRing
	signer      *musig2.Signer
	chainParams *chaincfg.Params
	watcher     *timeout.Watcher

	// claimPkScript is where reclaimed onchain funds are swept to.
	claimPkScript []byte

	// minConfirmations is how many confirmations a lockup transaction
	// must reach before the invoice is paid, unless it qualifies for
	// zero-conf under limits.
	minConfirmations int32

	// limits carries the pair's configured amount bounds, consulted to
	// decide whether an observed lockup qualifies for zero-conf
	// acceptance.
	limits rates.Limits

	// notify is called after every successful status transition, wiring
	// the state machine into the event bus without the fsm package
	// needing to know anything about swapdb.
	notify func(swapdb.Status, *swapdb.Swap)
}

// NewActions constructs the Actions collaborator set for the Submarine
// Manager.
func NewActions(store swapdb.Store, chainListener *chain.Listener,
	lnClient lightning.Client, invoices *lightning.SubscriptionManager,
	keyRing swap.KeyRing, signer *musig2.Signer, chainParams *chaincfg.Params,
	watcher *timeout.Watcher, claimPkScript []byte, minConfirmations int32,
	limits rates.Limits, notify func(swapdb.Status, *swapdb.Swap)) *Actions {

	return &Actions{
		store:            store,
		chain:            chainListener,
		lnClient:         lnClient,
		invoices:         invoices,
		keyRing:          keyRing,
		signer:           signer,
		chainParams:      chainParams,
		watcher:          watcher,
		claimPkScript:    claimPkScript,
		minConfirmations: minConfirmations,
		limits:           limits,
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

func (a *Actions) htlcFor(s *swapdb.Swap) (*swap.Htlc, error) {
	return swap.NewHtlc(
		swap.HtlcV3, s.CltvExpiry, s.HtlcKeys.TheirPubkey,
		s.HtlcKeys.OurPubkey, s.Hash, swap.HtlcP2TR,
		a.chainParams,
	)
}

// LockupAddress returns the address the counterparty must pay the onchain
// HTLC to, derived the same way htlcFor builds the script watched onchain.
func (a *Actions) LockupAddress(s *swapdb.Swap) (string, error) {
	htlc, err := a.htlcFor(s)
	if err != nil {
		return "", err
	}

	return htlc.Address.EncodeAddress(), nil
}

// AwaitLockupAction watches the chain for the swap's HTLC output. It first
// waits for the lockup to appear in the mempool (StatusTransactionMempool),
// checks the paid amount against what the swap expects, and either accepts
// the lockup at zero confirmations (if its amount qualifies under a.limits)
// or falls back to waiting for a.minConfirmations before advancing with
// OnLockupConfirmed. An underpaid lockup is routed to OnLockupFailed instead
// of ever reaching the invoice-payment step. If the swap's CLTV expiry
// height is reached first, the counterparty never locked up and the swap is
// abandoned.
func (a *Actions) AwaitLockupAction(eventCtx fsm.EventContext) fsm.EventType {
	s, ctx, err := a.fromCtx(eventCtx)
	if err != nil {
		return a.handleError(err)
	}

	htlc, err := a.htlcFor(s)
	if err != nil {
		return a.handleError(err)
	}

	timedOut := make(chan struct{}, 1)
	a.watcher.RegisterHeightExpiry(s.Hash, a.chain.Symbol(), s.CltvExpiry,
		func() {
			select {
			case timedOut <- struct{}{}:
			default:
			}
		})
	defer a.watcher.Cancel(s.Hash)

	ev, sawTimeout, err := a.awaitOutput(ctx, htlc.PkScript, 0, timedOut)
	if err != nil {
		return a.handleError(err)
	}
	if sawTimeout {
		if err := a.setStatus(ctx, s, swapdb.StatusFailed); err != nil {
			return a.handleError(err)
		}
		return OnTimeout
	}
	if ev == nil {
		return fsm.NoOp
	}

	if err := a.store.SetLockup(
		ctx, s.Hash, ev.Txid, ev.Vout, ev.Amount,
	); err != nil {
		return a.handleError(err)
	}

	if ev.Amount < s.OnchainAmount {
		if err := a.setStatus(
			ctx, s, swapdb.StatusTransactionLockupFailed,
		); err != nil {
			return a.handleError(err)
		}

		return OnLockupFailed
	}

	if err := a.setStatus(
		ctx, s, swapdb.StatusTransactionMempool,
	); err != nil {
		return a.handleError(err)
	}

	if a.limits.AllowsZeroConf(ev.Amount) {
		if err := a.store.SetAcceptedZeroConf(
			ctx, s.Hash, true,
		); err != nil {
			return a.handleError(err)
		}

		if err := a.setStatus(
			ctx, s, swapdb.StatusTransactionConfirmed,
		); err != nil {
			return a.handleError(err)
		}

		return OnLockupConfirmed
	}

	ev, sawTimeout, err = a.awaitOutput(
		ctx, htlc.PkScript, a.minConfirmations, timedOut,
	)
	if err != nil {
		return a.handleError(err)
	}
	if sawTimeout {
		if err := a.setStatus(ctx, s, swapdb.StatusFailed); err != nil {
			return a.handleError(err)
		}
		return OnTimeout
	}
	if ev == nil {
		return fsm.NoOp
	}

	if err := a.setStatus(
		ctx, s, swapdb.StatusTransactionConfirmed,
	); err != nil {
		return a.handleError(err)
	}

	return OnLockupConfirmed
}

// awaitOutput watches pkScript at the given confirmation depth until a
// matching output is found, timedOut fires, or ctx is cancelled. It always
// unwatches before returning, since the chain listener silently drops a
// second concurrent watch registered against a pkScript that's already
// being watched; a caller re-watching the same script at a different depth
// must unwatch first.
func (a *Actions) awaitOutput(ctx context.Context, pkScript []byte,
	numConfs int32, timedOut <-chan struct{}) (*chain.Event, bool, error) {

	events := make(chan chain.Event, 1)
	err := a.chain.Watch(ctx, pkScript, numConfs, 0,
		func(ev chain.Event) {
			select {
			case events <- ev:
			default:
			}
		})
	if err != nil {
		return nil, false, err
	}
	defer a.chain.Unwatch(pkScript)

	select {
	case ev := <-events:
		if ev.Type != chain.OutputFound {
			return nil, false, nil
		}
		return &ev, false, nil

	case <-timedOut:
		return nil, true, nil

	case <-ctx.Done():
		return nil, false, nil
	}
}

// paymentRetryDelay is the backoff schedule between payment attempts once
// one comes back with an error, indexed by attempt-2 (the first attempt
// never waits). Capped at the last entry once exhausted.
var paymentRetryDelay = []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}

// maxPaymentAttempts bounds how many payment attempts PayInvoiceAction
// makes, the first included, before giving up on the invoice entirely.
const maxPaymentAttempts = 4

// PayInvoiceAction pays the swap's Lightning invoice once its onchain
// lockup has confirmed; the preimage revealed by the payment unlocks the
// claim. A failed payment attempt is retried after the delays in
// paymentRetryDelay, up to maxPaymentAttempts attempts in all, as long as
// the swap's CLTV expiry hasn't yet been reached.
func (a *Actions) PayInvoiceAction(eventCtx fsm.EventContext) fsm.EventType {
	s, ctx, err := a.fromCtx(eventCtx)
	if err != nil {
		return a.handleError(err)
	}

	maxFee := s.OnchainAmount / 100

	timedOut := make(chan struct{}, 1)
	a.watcher.RegisterHeightExpiry(s.Hash, a.chain.Symbol(), s.CltvExpiry,
		func() {
			select {
			case timedOut <- struct{}{}:
			default:
			}
		})
	defer a.watcher.Cancel(s.Hash)

	var lastErr error

	for attempt := 1; attempt <= maxPaymentAttempts; attempt++ {
		if attempt > 1 {
			idx := attempt - 2
			if idx >= len(paymentRetryDelay) {
				idx = len(paymentRetryDelay) - 1
			}

			select {
			case <-time.After(paymentRetryDelay[idx]):
			case <-timedOut:
				return a.onPaymentTimeout(ctx, s)
			case <-ctx.Done():
				return fsm.NoOp
			}
		}

		resultChan := a.lnClient.PayInvoice(ctx, s.Invoice, maxFee, nil)

		select {
		case result := <-resultChan:
			if result.Err != nil {
				lastErr = result.Err
				continue
			}

			if err := a.store.SetPreimage(
				ctx, s.Hash, result.Preimage,
			); err != nil {
				return a.handleError(err)
			}

			if err := a.setStatus(
				ctx, s, swapdb.StatusInvoicePaid,
			); err != nil {
				return a.handleError(err)
			}

			return OnInvoicePaid

		case <-timedOut:
			return a.onPaymentTimeout(ctx, s)

		case <-ctx.Done():
			return fsm.NoOp
		}
	}

	return a.handleError(fmt.Errorf("paying invoice: exhausted %d "+
		"attempts, last error: %w", maxPaymentAttempts, lastErr))
}

// onPaymentTimeout is reached when the swap's CLTV expiry fires while a
// payment attempt is in flight or between retries. The counterparty's own
// timeout-path refund is what actually returns their coins; we only need to
// stop trying to pay once it's no longer worth the risk of the payment
// succeeding after they've already reclaimed the lockup.
func (a *Actions) onPaymentTimeout(ctx context.Context,
	s *swapdb.Swap) fsm.EventType {

	if err := a.setStatus(
		ctx, s, swapdb.StatusTransactionRefunded,
	); err != nil {
		return a.handleError(err)
	}

	return OnTimeout
}

// ClaimAction sweeps the onchain HTLC using the preimage revealed by the
// Lightning payment, spending the success path of the HTLC script directly
// to claimPkScript. This always takes the script-path spend rather than a
// cooperative Musig2 claim: a key-path spend needs the counterparty's
// partial signature, and nothing here solicits it, so there's no
// cooperativeClaimTimeout to race against before falling back.
func (a *Actions) ClaimAction(eventCtx fsm.EventContext) fsm.EventType {
	s, ctx, err := a.fromCtx(eventCtx)
	if err != nil {
		return a.handleError(err)
	}

	if s.Preimage == nil {
		return a.handleError(fmt.Errorf("claim requested before " +
			"preimage was known"))
	}

	if s.LockupTxid == nil {
		return a.handleError(fmt.Errorf("claim requested before " +
			"lockup outpoint was known"))
	}

	// The invoice may have taken long enough to pay that the HTLC's
	// timeout path is already spendable by the counterparty; racing a
	// claim broadcast against their refund at that point risks nothing
	// but a wasted fee, so we stand down instead.
	if a.chain.BlockHeight() >= s.CltvExpiry {
		if err := a.setStatus(
			ctx, s, swapdb.StatusTransactionRefunded,
		); err != nil {
			return a.handleError(err)
		}

		return OnTimeout
	}

	htlc, err := a.htlcFor(s)
	if err != nil {
		return a.handleError(err)
	}

	ourKey, err := a.keyRing.DeriveKey(s.HtlcKeys.OurKeyLocator)
	if err != nil {
		return a.handleError(err)
	}

	satPerVByte, err := a.chain.Client().EstimateFeePerVByte(
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

	if _, err := a.chain.Client().SendRawTransaction(
		ctx, claimTx,
	); err != nil {
		return a.handleError(fmt.Errorf("broadcasting claim tx: %w",
			err))
	}

	if err := a.setStatus(
		ctx, s, swapdb.StatusTransactionClaimed,
	); err != nil {
		return a.handleError(err)
	}

	return OnClaim
}

// SignCooperativeRefund produces our Musig2 partial signature over a
// counterparty's cooperative refund transaction, letting them reclaim their
// locked coins immediately instead of waiting out the CLTV timelock. It
// must never be signed once we might still claim the lockup ourselves: a
// preimage on file means the invoice was paid and ClaimAction owns this
// swap's outcome from here, and a swap whose lockup was already claimed or
// refunded (StatusTransactionClaimed, StatusTransactionRefunded) has none
// left to fight over.
func (a *Actions) SignCooperativeRefund(ctx context.Context, s *swapdb.Swap,
	theirPubkey *btcec.PublicKey, theirNonce [66]byte,
	sigHash [32]byte) (*musig2.PartialSignature, error) {

	if s.Preimage != nil {
		return nil, fmt.Errorf("swap %v already has a payment "+
			"preimage on file, refusing to sign a refund", s.Hash)
	}

	if s.LockupTxid == nil {
		return nil, fmt.Errorf("swap %v has no lockup to refund", s.Hash)
	}

	switch s.Status {
	case swapdb.StatusTransactionClaimed, swapdb.StatusTransactionRefunded:
		return nil, fmt.Errorf("swap %v is not refundable (status %v)",
			s.Hash, s.Status)
	}

	htlc, err := a.htlcFor(s)
	if err != nil {
		return nil, err
	}

	rootHash, ok := htlc.TaprootRootHash()
	if !ok {
		return nil, fmt.Errorf("swap %v htlc is not a taproot output",
			s.Hash)
	}

	loc := musig2.KeyLocator{
		Family: uint32(swap.KeyFamily),
		Index:  s.HtlcKeys.OurKeyLocator.Index,
	}

	return a.signer.SignSwapRefund(
		loc, theirPubkey, theirNonce, sigHash, rootHash[:],
	)
}

func (a *Actions) handleError(err error) fsm.EventType {
	log.Errorf("submarine swap action error: %v", err)
	return fsm.OnError
}
