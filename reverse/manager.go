package reverse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/boltz-exchange/swapd/chain"
	"github.com/boltz-exchange/swapd/fsm"
	"github.com/boltz-exchange/swapd/hints"
	"github.com/boltz-exchange/swapd/lightning"
	"github.com/boltz-exchange/swapd/musig2"
	"github.com/boltz-exchange/swapd/swap"
	"github.com/boltz-exchange/swapd/swapdb"
	"github.com/boltz-exchange/swapd/timeout"
)

// Manager owns one fsm.StateMachine per active reverse swap.
type Manager struct {
	store   swapdb.Store
	actions *Actions
	engine  *hints.Engine
	keyRing swap.KeyRing
	params  *chaincfg.Params
	pair    string

	invoiceExpiry time.Duration

	mu       sync.Mutex
	machines map[lntypes.Hash]*fsm.StateMachine
}

// Notifier receives every status transition a swap makes.
type Notifier interface {
	Notify(status swapdb.Status, s *swapdb.Swap)
}

// NewManager constructs a reverse swap Manager.
func NewManager(store swapdb.Store, chainListener *chain.Listener,
	lnClient lightning.Client, invoices *lightning.SubscriptionManager,
	keyRing swap.KeyRing, signer *musig2.Signer, engine *hints.Engine,
	params *chaincfg.Params, watcher *timeout.Watcher, pair string,
	refundPkScript []byte, acceptTimeout, invoiceExpiry time.Duration,
	notifier Notifier) *Manager {

	m := &Manager{
		store:         store,
		engine:        engine,
		keyRing:       keyRing,
		params:        params,
		pair:          pair,
		invoiceExpiry: invoiceExpiry,
		machines:      make(map[lntypes.Hash]*fsm.StateMachine),
	}

	var notify func(swapdb.Status, *swapdb.Swap)
	if notifier != nil {
		notify = notifier.Notify
	}

	m.actions = NewActions(
		store, chainListener, lnClient, invoices, keyRing, signer,
		params, watcher, refundPkScript, acceptTimeout, notify,
	)

	return m
}

// CreateSwapRequest describes a new reverse swap. PreimageHash is chosen by
// the client, which is the only party that ever holds the preimage; we
// never generate it ourselves, or nothing could later claim the onchain
// HTLC we lock up.
type CreateSwapRequest struct {
	ClaimPubkey     [33]byte
	PreimageHash    lntypes.Hash
	OnchainAmount   btcutil.Amount
	CltvExpiry      int32
	DescriptionHash []byte
}

// CreateSwapResult is returned to the caller so the invoice can be handed
// back over the API. ReceivedAmount quotes what the client will actually net
// once they pay their own miner fee to claim the onchain HTLC.
type CreateSwapResult struct {
	Swap           *swapdb.Swap
	Invoice        string
	ReceivedAmount btcutil.Amount
}

// CreateSwap issues the hold invoice against the client-supplied preimage
// hash, persists a new swap record, and starts its state machine.
func (m *Manager) CreateSwap(ctx context.Context,
	req *CreateSwapRequest) (*CreateSwapResult, error) {

	hash := req.PreimageHash

	if err := hints.ValidateDescriptionHash(req.DescriptionHash); err != nil {
		return nil, err
	}

	ourKey, keyLocator, err := m.keyRing.DeriveNextKey()
	if err != nil {
		return nil, fmt.Errorf("deriving refund key: %w", err)
	}

	var ourPubkey [33]byte
	copy(ourPubkey[:], ourKey.PubKey().SerializeCompressed())

	descriptor, err := m.engine.DescribeOurInvoice("reverse swap " +
		hash.String()[:8])
	if err != nil {
		return nil, fmt.Errorf("building routing hint: %w", err)
	}

	s := &swapdb.Swap{
		ID:            newSwapID(hash),
		Hash:          hash,
		Type:          swap.Reverse,
		Pair:          m.pair,
		Status:        swapdb.StatusInvoiceSet,
		OnchainAmount: req.OnchainAmount,
		CltvExpiry:    req.CltvExpiry,
		HtlcKeys: swapdb.HtlcKeys{
			OurPubkey:     ourPubkey,
			OurKeyLocator: keyLocator,
			TheirPubkey:   req.ClaimPubkey,
		},
	}

	invoiceStr, err := m.actions.lnClient.AddHoldInvoice(
		ctx, hash, req.OnchainAmount, m.invoiceExpiry,
		descriptor.Memo, req.DescriptionHash, descriptor.RouteHints,
	)
	if err != nil {
		return nil, fmt.Errorf("creating hold invoice: %w", err)
	}
	s.Invoice = invoiceStr

	if err := m.store.Create(ctx, s); err != nil {
		return nil, err
	}

	// Create always stores a new record as StatusCreated; the hold invoice
	// is already issued, so the record moves on to StatusInvoiceSet.
	if err := m.store.SetStatus(
		ctx, s.Hash, swapdb.StatusInvoiceSet,
	); err != nil {
		return nil, err
	}
	s.Status = swapdb.StatusInvoiceSet

	htlc, err := m.actions.htlcFor(s)
	if err != nil {
		return nil, fmt.Errorf("building htlc for fee quote: %w", err)
	}

	claimFee, err := m.actions.EstimateClaimFee(ctx, htlc)
	if err != nil {
		return nil, err
	}

	received, err := hints.ReceivedAmount(req.OnchainAmount, claimFee)
	if err != nil {
		return nil, err
	}

	m.start(s.Hash, StateAwaitingAccept)

	return &CreateSwapResult{
		Swap:           s,
		Invoice:        invoiceStr,
		ReceivedAmount: received,
	}, nil
}

// Resume reloads every non-final reverse swap from the store and restarts
// its state machine in the state matching its persisted status.
func (m *Manager) Resume(ctx context.Context) error {
	swaps, err := m.store.FetchSwapsByStatus(
		ctx,
		swapdb.StatusInvoiceSet,
		swapdb.StatusInvoicePending,
		swapdb.StatusTransactionConfirmed,
		swapdb.StatusTransactionRefunding,
	)
	if err != nil {
		return err
	}

	for _, s := range swaps {
		if s.Type != swap.Reverse {
			continue
		}

		m.start(s.Hash, FromStatus(s.Status))
	}

	return nil
}

func (m *Manager) start(hash lntypes.Hash, initial fsm.StateType) {
	sm := fsm.NewStateMachineWithState(NewStates(m.actions), initial, 0)

	m.mu.Lock()
	m.machines[hash] = sm
	m.mu.Unlock()

	if initial == StateSettled || initial == StateRefunded ||
		initial == StateFailed {
		return
	}

	go func() {
		ctx := context.Background()
		eventCtx := &Context{Ctx: ctx, Hash: hash}

		if err := sm.SendEvent(fsm.NoOp, eventCtx); err != nil {
			log.Errorf("reverse swap %v: %v", hash, err)
		}
	}()
}

// StateFor returns the in-memory state machine's current state for an
// active swap, or fsm.EmptyState if untracked.
func (m *Manager) StateFor(hash lntypes.Hash) fsm.StateType {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.machines[hash]
	if !ok {
		return fsm.EmptyState
	}

	return sm.CurrentState()
}

// SignCooperativeClaim delegates to Actions, first fetching the swap record
// so callers over the API only need to supply the hash.
func (m *Manager) SignCooperativeClaim(ctx context.Context, hash lntypes.Hash,
	preimage lntypes.Preimage, theirPubkey *btcec.PublicKey,
	theirNonce [66]byte, sigHash [32]byte) (*musig2.PartialSignature, error) {

	s, err := m.store.FetchSwap(ctx, hash)
	if err != nil {
		return nil, err
	}

	return m.actions.SignCooperativeClaim(
		ctx, s, preimage, theirPubkey, theirNonce, sigHash,
	)
}

func newSwapID(hash lntypes.Hash) string {
	return fmt.Sprintf("%x", hash[:8])
}
