package reverse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/boltz-exchange/swapd/chain"
	"github.com/boltz-exchange/swapd/fsm"
	"github.com/boltz-exchange/swapd/lightning"
	"github.com/boltz-exchange/swapd/musig2"
	"github.com/boltz-exchange/swapd/swap"
	"github.com/boltz-exchange/swapd/swapdb"
	"github.com/boltz-exchange/swapd/timeout"
)

// Context is the fsm.EventContext every reverse swap action receives.
type Context struct {
	Ctx  context.Context
	Hash lntypes.Hash
}

// Actions implements every state's Action func for a reverse swap.
type Actions struct {
	store       swapdb.Store
	chain       *chain.Listener
	lnClient    lightning.Client
	invoices    *lightning.SubscriptionManager
	keyRing     swap.KeyRing
	signer      *musig2.Signer
	chainParams *chaincfg.Params
	watcher     *timeout.Watcher

	// refundPkScript is where our own lockup is swept back to if the
	// counterparty never claims it.
	refundPkScript []byte

	acceptTimeout time.Duration

	notify func(swapdb.Status, *swapdb.Swap)

	// coopClaims lets SignCooperativeClaim hand a settled preimage
	// straight to a running AwaitClaimAction, the same way an onchain
	// success-path spend would, instead of leaving that goroutine to
	// find out about the cooperative sweep from the chain itself (which
	// it can't: a Musig2 key-path spend carries no witness preimage).
	coopMu     sync.Mutex
	coopClaims map[lntypes.Hash]chan lntypes.Preimage
}

// NewActions constructs the Actions collaborator set for the reverse
// Manager.
func NewActions(store swapdb.Store, chainListener *chain.Listener,
	lnClient lightning.Client, invoices *lightning.SubscriptionManager,
	keyRing swap.KeyRing, signer *musig2.Signer,
	chainParams *chaincfg.Params, watcher *timeout.Watcher,
	refundPkScript []byte, acceptTimeout time.Duration,
	notify func(swapdb.Status, *swapdb.Swap)) *Actions {

	return &Actions{
		store:          store,
		chain:          chainListener,
		lnClient:       lnClient,
		invoices:       invoices,
		keyRing:        keyRing,
		signer:         signer,
		chainParams:    chainParams,
		watcher:        watcher,
		refundPkScript: refundPkScript,
		acceptTimeout:  acceptTimeout,
		notify:         notify,
		coopClaims:     make(map[lntypes.Hash]chan lntypes.Preimage),
	}
}

// registerCoopClaim returns the channel AwaitClaimAction should select on to
// learn about a cooperative claim's settled preimage, creating it if this is
// the first caller for hash.
func (a *Actions) registerCoopClaim(hash lntypes.Hash) chan lntypes.Preimage {
	a.coopMu.Lock()
	defer a.coopMu.Unlock()

	ch, ok := a.coopClaims[hash]
	if !ok {
		ch = make(chan lntypes.Preimage, 1)
		a.coopClaims[hash] = ch
	}

	return ch
}

func (a *Actions) unregisterCoopClaim(hash lntypes.Hash) {
	a.coopMu.Lock()
	defer a.coopMu.Unlock()

	delete(a.coopClaims, hash)
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

// htlcFor builds the onchain HTLC script for s. Unlike a submarine swap, we
// are the sender (refund path) and the counterparty is the receiver (claim
// path), since it's our onchain funds locked up here.
func (a *Actions) htlcFor(s *swapdb.Swap) (*swap.Htlc, error) {
	return swap.NewHtlc(
		swap.HtlcV3, s.CltvExpiry, s.HtlcKeys.OurPubkey,
		s.HtlcKeys.TheirPubkey, s.Hash, swap.HtlcP2TR,
		a.chainParams,
	)
}

// EstimateClaimFee quotes the fee a client will pay to claim htlc onchain,
// used at swap creation to tell them what they'll actually net.
func (a *Actions) EstimateClaimFee(ctx context.Context,
	htlc *swap.Htlc) (btcutil.Amount, error) {

	satPerVByte, err := a.chain.Client().EstimateFeePerVByte(
		ctx, swap.SweepConfTarget,
	)
	if err != nil {
		return 0, fmt.Errorf("estimating claim fee: %w", err)
	}

	return swap.EstimateClaimFeeQuote(htlc, satPerVByte)
}

// AwaitInvoiceAcceptedAction waits for the counterparty to accept (but not
// settle) the hold invoice we issued, or for acceptTimeout to elapse first.
func (a *Actions) AwaitInvoiceAcceptedAction(
	eventCtx fsm.EventContext) fsm.EventType {

	s, ctx, err := a.fromCtx(eventCtx)
	if err != nil {
		return a.handleError(err)
	}

	updates := make(chan lightning.InvoiceUpdate, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err = a.invoices.Subscribe(subCtx, s.Hash,
		func(u lightning.InvoiceUpdate, err error) {
			if err != nil {
				return
			}
			select {
			case updates <- u:
			default:
			}
		})
	if err != nil {
		return a.handleError(err)
	}

	timeout := time.NewTimer(a.acceptTimeout)
	defer timeout.Stop()

	for {
		select {
		case u := <-updates:
			if u.State != lightning.InvoiceAccepted {
				continue
			}

			if err := a.setStatus(
				ctx, s, swapdb.StatusInvoicePending,
			); err != nil {
				return a.handleError(err)
			}

			return OnInvoiceAccepted

		case <-timeout.C:
			if err := a.lnClient.CancelHoldInvoice(
				ctx, s.Hash,
			); err != nil {
				log.Warnf("cancelling unaccepted hold "+
					"invoice %v: %v", s.Hash, err)
			}

			if err := a.setStatus(
				ctx, s, swapdb.StatusFailed,
			); err != nil {
				return a.handleError(err)
			}

			return OnTimeout

		case <-ctx.Done():
			return fsm.NoOp
		}
	}
}

// PublishLockupAction pays the swap's onchain amount into the HTLC address
// once the hold invoice has been accepted, funding it from the daemon's own
// onchain wallet rather than a counterparty-supplied transaction.
func (a *Actions) PublishLockupAction(eventCtx fsm.EventContext) fsm.EventType {
	s, ctx, err := a.fromCtx(eventCtx)
	if err != nil {
		return a.handleError(err)
	}

	htlc, err := a.htlcFor(s)
	if err != nil {
		return a.handleError(err)
	}

	txid, err := a.chain.Client().SendToScript(
		ctx, htlc.PkScript, s.OnchainAmount,
	)
	if err != nil {
		return a.handleError(fmt.Errorf("publishing lockup: %w", err))
	}

	if err := a.store.SetLockup(
		ctx, s.Hash, *txid, 0, s.OnchainAmount,
	); err != nil {
		return a.handleError(err)
	}

	if err := a.setStatus(
		ctx, s, swapdb.StatusTransactionConfirmed,
	); err != nil {
		return a.handleError(err)
	}

	return OnLockupPublished
}

// AwaitClaimAction watches the HTLC output we just published for a spend.
// If it's spent along the success path, the preimage is lifted straight out
// of the claim transaction's witness and used to settle the hold invoice.
// Otherwise, once the CLTV expiry passes, we broadcast our own refund.
func (a *Actions) AwaitClaimAction(eventCtx fsm.EventContext) fsm.EventType {
	s, ctx, err := a.fromCtx(eventCtx)
	if err != nil {
		return a.handleError(err)
	}

	htlc, err := a.htlcFor(s)
	if err != nil {
		return a.handleError(err)
	}

	if s.LockupTxid == nil {
		return a.handleError(fmt.Errorf("awaiting claim before " +
			"lockup outpoint was known"))
	}

	spends := make(chan *chain.SpendDetail, 1)
	outpoint := wire.OutPoint{Hash: *s.LockupTxid, Index: s.LockupVout}

	err = a.chain.WatchSpend(ctx, outpoint, htlc.PkScript, 0,
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
	a.watcher.RegisterHeightExpiry(s.Hash, a.chain.Symbol(), s.CltvExpiry,
		func() {
			select {
			case timedOut <- struct{}{}:
			default:
			}
		})

	coopClaimed := a.registerCoopClaim(s.Hash)
	defer a.unregisterCoopClaim(s.Hash)

	select {
	case spend := <-spends:
		a.watcher.Cancel(s.Hash)

		preimage, ok := extractPreimage(htlc, spend.SpendingTx)
		if !ok {
			// A Musig2 key-path spend carries no witness preimage;
			// if this is our own cooperative claim going through,
			// SignCooperativeClaim already settled the invoice and
			// is waiting on coopClaimed below to be selected.
			return a.handleError(fmt.Errorf("htlc spent by " +
				"neither claim nor our own refund"))
		}

		if err := a.store.SetPreimage(ctx, s.Hash, preimage); err != nil {
			return a.handleError(err)
		}

		if err := a.lnClient.SettleHoldInvoice(
			ctx, preimage,
		); err != nil {
			return a.handleError(fmt.Errorf("settling hold "+
				"invoice: %w", err))
		}

		if err := a.setStatus(
			ctx, s, swapdb.StatusTransactionClaimed,
		); err != nil {
			return a.handleError(err)
		}

		return OnClaimed

	case <-coopClaimed:
		// SignCooperativeClaim already verified the preimage,
		// settled the hold invoice, and persisted it; all that's
		// left is recording the terminal status.
		a.watcher.Cancel(s.Hash)

		if err := a.setStatus(
			ctx, s, swapdb.StatusTransactionClaimed,
		); err != nil {
			return a.handleError(err)
		}

		return OnClaimed

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

// RefundAction broadcasts our own timeout-path spend of the lockup we
// published in PublishLockupAction, once the timeout watcher has fired an
// OnTimeout event because the counterparty never claimed it.
func (a *Actions) RefundAction(eventCtx fsm.EventContext) fsm.EventType {
	s, ctx, err := a.fromCtx(eventCtx)
	if err != nil {
		return a.handleError(err)
	}

	if s.LockupTxid == nil {
		return a.handleError(fmt.Errorf("refund requested before " +
			"lockup outpoint was known"))
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
		return a.handleError(fmt.Errorf("estimating refund fee: %w", err))
	}

	fee, err := swap.EstimateTimeoutSweepFee(
		htlc, a.refundPkScript, satPerVByte,
	)
	if err != nil {
		return a.handleError(fmt.Errorf("sizing refund fee: %w", err))
	}

	refundTx, err := swap.BuildTimeoutSweep(
		htlc, ourKey, *s.LockupTxid, s.LockupVout, s.OnchainAmount, fee,
		s.CltvExpiry, a.refundPkScript,
	)
	if err != nil {
		return a.handleError(fmt.Errorf("building refund tx: %w", err))
	}

	if _, err := a.chain.Client().SendRawTransaction(
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

// extractPreimage pulls the preimage out of an HTLC's success-path
// witness, returning ok=false for a timeout-path spend.
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

// SignCooperativeClaim produces our Musig2 partial signature over a
// cooperative claim transaction the counterparty proposes, letting them
// sweep the HTLC directly instead of revealing the preimage via the
// script-path witness. Unlike the script-path claim AwaitClaimAction
// watches for, a cooperative claim never puts the preimage onchain, so this
// is the only place that ever learns it: preimage is required up front,
// checked against the swap's hash, and used to settle the hold invoice
// before we sign anything. We never hand out a valid signature without
// having already been paid for it.
func (a *Actions) SignCooperativeClaim(ctx context.Context, s *swapdb.Swap,
	preimage lntypes.Preimage, theirPubkey *btcec.PublicKey,
	theirNonce [66]byte, sigHash [32]byte) (*musig2.PartialSignature, error) {

	if preimage.Hash() != s.Hash {
		return nil, fmt.Errorf("preimage does not hash to swap %v", s.Hash)
	}

	// Only a swap actively awaiting claim has a live invoice to settle
	// and an outstanding lockup for the counterparty to sweep.
	if s.Status != swapdb.StatusTransactionConfirmed {
		return nil, fmt.Errorf("swap %v is not awaiting claim "+
			"(status %v)", s.Hash, s.Status)
	}

	if err := a.lnClient.SettleHoldInvoice(ctx, preimage); err != nil {
		return nil, fmt.Errorf("settling hold invoice: %w", err)
	}

	if err := a.store.SetPreimage(ctx, s.Hash, preimage); err != nil {
		return nil, fmt.Errorf("persisting preimage: %w", err)
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

	partial, err := a.signer.SignReverseSwapClaim(
		loc, theirPubkey, theirNonce, sigHash, rootHash[:],
	)
	if err != nil {
		return nil, err
	}

	// Wake AwaitClaimAction so it records the terminal status instead of
	// waiting on an onchain spend that will never reveal this preimage.
	select {
	case a.registerCoopClaim(s.Hash) <- preimage:
	default:
	}

	return partial, nil
}

func (a *Actions) handleError(err error) fsm.EventType {
	log.Errorf("reverse swap action error: %v", err)
	return fsm.OnError
}
