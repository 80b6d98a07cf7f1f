package chainswap

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/boltz-exchange/swapd/chain"
	"github.com/boltz-exchange/swapd/fsm"
	"github.com/boltz-exchange/swapd/hints"
	"github.com/boltz-exchange/swapd/swap"
	"github.com/boltz-exchange/swapd/swapdb"
	"github.com/boltz-exchange/swapd/timeout"
)

// Manager owns one fsm.StateMachine per active chain swap, creates new
// ones, and resumes in-flight ones from the store after a restart.
type Manager struct {
	store   swapdb.Store
	actions *Actions
	keyRing swap.KeyRing
	pair    string

	mu       sync.Mutex
	machines map[lntypes.Hash]*fsm.StateMachine
}

// Notifier receives every status transition a swap makes.
type Notifier interface {
	Notify(status swapdb.Status, s *swapdb.Swap)
}

// NewManager constructs a chain swap Manager. from/to are the chain
// listeners for the swap pair's two legs, e.g. from=liquid, to=bitcoin for
// an L-BTC-to-BTC chain swap.
func NewManager(store swapdb.Store, from, to *chain.Listener,
	keyRing swap.KeyRing, watcher *timeout.Watcher,
	fromParams, toParams *chaincfg.Params, pair string,
	claimPkScript, toRefundPkScript []byte, minConfirmations int32,
	notifier Notifier) *Manager {

	m := &Manager{
		store:    store,
		keyRing:  keyRing,
		pair:     pair,
		machines: make(map[lntypes.Hash]*fsm.StateMachine),
	}

	var notify func(swapdb.Status, *swapdb.Swap)
	if notifier != nil {
		notify = notifier.Notify
	}

	m.actions = NewActions(
		store, from, to, keyRing, watcher, fromParams, toParams,
		claimPkScript, toRefundPkScript, minConfirmations, notify,
	)

	return m
}

// CreateSwapRequest describes a new chain swap: the user locks
// FromAmount on the "from" leg, and we lock ToAmount on the "to" leg.
type CreateSwapRequest struct {
	FromRefundPubkey [33]byte
	ToClaimPubkey    [33]byte
	FromCltvExpiry   int32
	ToCltvExpiry     int32
	FromAmount       btcutil.Amount
	ToAmount         btcutil.Amount
}

// FromLockupAddress returns the address the user must pay their leg of the
// swap to.
func (m *Manager) FromLockupAddress(s *swapdb.Swap) (string, error) {
	return m.actions.FromLockupAddress(s)
}

// CreateSwapResult is returned to the caller so the "to" leg's fee quote
// can be handed back over the API. ToReceivedAmount quotes what the user
// will actually net once they pay their own miner fee to claim the "to" leg.
type CreateSwapResult struct {
	Swap             *swapdb.Swap
	ToReceivedAmount btcutil.Amount
}

// CreateSwap generates a fresh preimage, derives a claim key for the "from"
// leg and a refund key for the "to" leg, persists a new swap record with
// both legs described, and starts its state machine watching the "from"
// leg's lockup.
func (m *Manager) CreateSwap(ctx context.Context,
	req *CreateSwapRequest) (*CreateSwapResult, error) {

	var preimage lntypes.Preimage
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, fmt.Errorf("generating preimage: %w", err)
	}
	hash := preimage.Hash()

	fromKey, fromLocator, err := m.keyRing.DeriveNextKey()
	if err != nil {
		return nil, fmt.Errorf("deriving from-leg claim key: %w", err)
	}
	var fromPubkey [33]byte
	copy(fromPubkey[:], fromKey.PubKey().SerializeCompressed())

	toKey, toLocator, err := m.keyRing.DeriveNextKey()
	if err != nil {
		return nil, fmt.Errorf("deriving to-leg refund key: %w", err)
	}
	var toPubkey [33]byte
	copy(toPubkey[:], toKey.PubKey().SerializeCompressed())

	s := &swapdb.Swap{
		ID:            newSwapID(hash),
		Hash:          hash,
		Type:          swap.Chain,
		Pair:          m.pair,
		Status:        swapdb.StatusCreated,
		OnchainAmount: req.FromAmount,
		CltvExpiry:    req.FromCltvExpiry,
		HtlcKeys: swapdb.HtlcKeys{
			OurPubkey:     fromPubkey,
			OurKeyLocator: fromLocator,
			TheirPubkey:   req.FromRefundPubkey,
		},
		ToCltvExpiry: req.ToCltvExpiry,
		ToHtlcKeys: swapdb.HtlcKeys{
			OurPubkey:     toPubkey,
			OurKeyLocator: toLocator,
			TheirPubkey:   req.ToClaimPubkey,
		},
	}

	if err := m.store.Create(ctx, s); err != nil {
		return nil, err
	}

	toHtlc, err := m.actions.toHtlc(s)
	if err != nil {
		return nil, fmt.Errorf("building to-leg htlc for fee quote: %w",
			err)
	}

	toClaimFee, err := m.actions.EstimateToClaimFee(ctx, toHtlc)
	if err != nil {
		return nil, err
	}

	toReceived, err := hints.ReceivedAmount(req.ToAmount, toClaimFee)
	if err != nil {
		return nil, err
	}

	m.start(s.Hash, StateCreated)

	return &CreateSwapResult{Swap: s, ToReceivedAmount: toReceived}, nil
}

// Resume reloads every non-final chain swap from the store and restarts
// its state machine in the state matching its persisted status.
func (m *Manager) Resume(ctx context.Context) error {
	swaps, err := m.store.FetchSwapsByStatus(
		ctx,
		swapdb.StatusCreated,
		swapdb.StatusTransactionConfirmed,
		swapdb.StatusInvoicePending,
		swapdb.StatusInvoicePaid,
		swapdb.StatusTransactionRefunding,
	)
	if err != nil {
		return err
	}

	for _, s := range swaps {
		if s.Type != swap.Chain {
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

	if initial == StateClaimed || initial == StateRefunded ||
		initial == StateFailed {
		return
	}

	go func() {
		ctx := context.Background()
		eventCtx := &Context{Ctx: ctx, Hash: hash}

		if err := sm.SendEvent(fsm.NoOp, eventCtx); err != nil {
			log.Errorf("chain swap %v: %v", hash, err)
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

func newSwapID(hash lntypes.Hash) string {
	return fmt.Sprintf("%x", hash[:8])
}
