package submarine

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/boltz-exchange/swapd/chain"
	"github.com/boltz-exchange/swapd/fsm"
	"github.com/boltz-exchange/swapd/hints"
	"github.com/boltz-exchange/swapd/lightning"
	"github.com/boltz-exchange/swapd/musig2"
	"github.com/boltz-exchange/swapd/rates"
	"github.com/boltz-exchange/swapd/swap"
	"github.com/boltz-exchange/swapd/swapdb"
	"github.com/boltz-exchange/swapd/timeout"
)

// Manager owns one fsm.StateMachine per active submarine swap, creates new
// swaps, and resumes in-flight ones from the store after a restart.
type Manager struct {
	store   swapdb.Store
	actions *Actions
	engine  *hints.Engine
	keyRing swap.KeyRing
	params  *chaincfg.Params
	pair    string

	invoiceExpiry uint32

	mu       sync.Mutex
	machines map[lntypes.Hash]*fsm.StateMachine
}

// Notifier receives every status transition a swap makes, decoupling the
// state machines from the Event Bus's fan-out mechanics.
type Notifier interface {
	Notify(status swapdb.Status, s *swapdb.Swap)
}

// NewManager constructs a submarine swap Manager.
func NewManager(store swapdb.Store, chainListener *chain.Listener,
	lnClient lightning.Client, invoices *lightning.SubscriptionManager,
	keyRing swap.KeyRing, signer *musig2.Signer, engine *hints.Engine,
	params *chaincfg.Params, watcher *timeout.Watcher, pair string,
	claimPkScript []byte, minConfirmations int32, limits rates.Limits,
	invoiceExpiry uint32, notifier Notifier) *Manager {

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
		params, watcher, claimPkScript, minConfirmations, limits, notify,
	)

	return m
}

// SignCooperativeRefund delegates to Actions, first fetching the swap
// record so callers over the API only need to supply the hash.
func (m *Manager) SignCooperativeRefund(ctx context.Context,
	hash lntypes.Hash, theirPubkey *btcec.PublicKey, theirNonce [66]byte,
	sigHash [32]byte) (*musig2.PartialSignature, error) {

	s, err := m.store.FetchSwap(ctx, hash)
	if err != nil {
		return nil, err
	}

	return m.actions.SignCooperativeRefund(
		ctx, s, theirPubkey, theirNonce, sigHash,
	)
}

// LockupAddress returns the address the swap's onchain HTLC pays to.
func (m *Manager) LockupAddress(s *swapdb.Swap) (string, error) {
	return m.actions.LockupAddress(s)
}

// CreateSwapRequest describes a new submarine swap.
type CreateSwapRequest struct {
	Invoice        string
	RefundPubkey   [33]byte
	CltvExpiry     int32
	OnchainAmount  btcutil.Amount
}

// CreateSwap validates the request's invoice, derives a fresh claim key,
// persists a new swap record, and starts its state machine.
func (m *Manager) CreateSwap(ctx context.Context,
	req *CreateSwapRequest) (*swapdb.Swap, error) {

	invoice, err := m.engine.DecodeCounterpartyInvoice(req.Invoice)
	if err != nil {
		return nil, fmt.Errorf("decoding invoice: %w", err)
	}

	if invoice.MilliSat == nil {
		return nil, fmt.Errorf("invoice has no amount")
	}

	ourKey, keyLocator, err := m.keyRing.DeriveNextKey()
	if err != nil {
		return nil, fmt.Errorf("deriving claim key: %w", err)
	}

	var ourPubkey [33]byte
	copy(ourPubkey[:], ourKey.PubKey().SerializeCompressed())

	s := &swapdb.Swap{
		ID:            newSwapID(*invoice.PaymentHash),
		Hash:          lntypes.Hash(*invoice.PaymentHash),
		Type:          swap.Submarine,
		Pair:          m.pair,
		Status:        swapdb.StatusInvoiceSet,
		OnchainAmount: req.OnchainAmount,
		Invoice:       req.Invoice,
		CltvExpiry:    req.CltvExpiry,
		HtlcKeys: swapdb.HtlcKeys{
			OurPubkey:     ourPubkey,
			OurKeyLocator: keyLocator,
			TheirPubkey:   req.RefundPubkey,
		},
	}

	if err := m.store.Create(ctx, s); err != nil {
		return nil, err
	}

	// Create always stores a new record as StatusCreated; the invoice is
	// already attached, so the record moves on to StatusInvoiceSet.
	if err := m.store.SetStatus(
		ctx, s.Hash, swapdb.StatusInvoiceSet,
	); err != nil {
		return nil, err
	}
	s.Status = swapdb.StatusInvoiceSet

	m.start(s.Hash, StateInvoiceSet)

	return s, nil
}

// Resume reloads every submarine swap in StatusInvoiceSet,
// StatusTransactionConfirmed or StatusInvoicePaid from the store and
// restarts its state machine in the state matching its persisted status,
// the way a daemon picks its work back up after a restart. A swap whose
// lockup has only been seen in the mempool (StatusTransactionMempool) is
// not restarted.
func (m *Manager) Resume(ctx context.Context) error {
	swaps, err := m.store.FetchSwapsByStatus(
		ctx,
		swapdb.StatusInvoiceSet,
		swapdb.StatusTransactionConfirmed,
		swapdb.StatusInvoicePaid,
	)
	if err != nil {
		return err
	}

	for _, s := range swaps {
		if s.Type != swap.Submarine {
			continue
		}

		m.start(s.Hash, FromStatus(s.Status))
	}

	return nil
}

// start builds and registers a state machine for hash in the given initial
// state, then drives it forward with a no-op event so any action whose
// wait condition is already satisfied (e.g. the lockup already confirmed
// while the daemon was down) fires immediately.
func (m *Manager) start(hash lntypes.Hash, initial fsm.StateType) {
	sm := fsm.NewStateMachineWithState(NewStates(m.actions), initial, 0)

	m.mu.Lock()
	m.machines[hash] = sm
	m.mu.Unlock()

	if initial == StateClaimed || initial == StateRefunded ||
		initial == StateFailed {
		return
	}

	go func() {
		ctx := context.Background()
		eventCtx := &Context{Ctx: ctx, Hash: hash}

		// Every non-terminal state's transition table loops NoOp back
		// onto itself, so sending NoOp both kicks off a freshly
		// created swap and re-runs a resumed swap's in-flight action.
		if err := sm.SendEvent(fsm.NoOp, eventCtx); err != nil {
			log.Errorf("submarine swap %v: %v", hash, err)
		}
	}()
}

// StateFor returns the in-memory state machine's current state for an
// active swap, or fsm.EmptyState if the swap isn't tracked in memory
// (either finished or never started in this process).
func (m *Manager) StateFor(hash lntypes.Hash) fsm.StateType {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.machines[hash]
	if !ok {
		return fsm.EmptyState
	}

	return sm.CurrentState()
}

func newSwapID(hash [32]byte) string {
	return fmt.Sprintf("%x", hash[:8])
}
