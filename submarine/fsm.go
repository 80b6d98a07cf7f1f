package submarine

import (
	"github.com/boltz-exchange/swapd/fsm"
	"github.com/boltz-exchange/swapd/swapdb"
)

// States follow swapdb.Status for a submarine swap, except that
// StatusTransactionMempool has no state of its own (it is recorded while
// still in StateInvoiceSet): the counterparty locks up coins onchain, we wait for confirmation, pay their
// Lightning invoice, and claim the onchain HTLC via the preimage script
// path, or, on timeout, let them refund. ClaimAction always takes the
// script path rather than racing a cooperative Musig2 claim (the
// counterparty co-signing a key-path spend) against a cooperativeClaimTimeout
// fallback first, since it has no channel to solicit that cooperation over.
const (
	StateCreated         fsm.StateType = "Created"
	StateInvoiceSet      fsm.StateType = "InvoiceSet"
	StateLockupConfirmed fsm.StateType = "LockupConfirmed"
	StateInvoicePaid     fsm.StateType = "InvoicePaid"
	StateClaimed         fsm.StateType = "Claimed"
	StateRefunded        fsm.StateType = "Refunded"
	StateLockupFailed    fsm.StateType = "LockupFailed"
	StateFailed          fsm.StateType = "Failed"
)

const (
	OnInvoiceSet      fsm.EventType = "OnInvoiceSet"
	OnLockupConfirmed fsm.EventType = "OnLockupConfirmed"
	OnLockupFailed    fsm.EventType = "OnLockupFailed"
	OnInvoicePaid     fsm.EventType = "OnInvoicePaid"
	OnClaim           fsm.EventType = "OnClaim"
	OnTimeout         fsm.EventType = "OnTimeout"
)

// NewStates builds the submarine swap's transition table. actions supplies
// the concrete Action functions; keeping the table construction separate
// from the Actions type mirrors instantout/fsm.go's split between the
// static transition graph and the receiver methods that implement it.
func NewStates(a *Actions) fsm.States {
	return fsm.States{
		StateCreated: {
			Action: fsm.NoOpAction,
			Transitions: fsm.Transitions{
				OnInvoiceSet: StateInvoiceSet,
				fsm.OnError:  StateFailed,
				fsm.NoOp:     StateCreated,
			},
		},
		StateInvoiceSet: {
			Action: a.AwaitLockupAction,
			Transitions: fsm.Transitions{
				OnLockupConfirmed: StateLockupConfirmed,
				OnLockupFailed:    StateLockupFailed,
				OnTimeout:         StateFailed,
				fsm.OnError:       StateFailed,
				fsm.NoOp:          StateInvoiceSet,
			},
		},
		StateLockupConfirmed: {
			Action: a.PayInvoiceAction,
			Transitions: fsm.Transitions{
				OnInvoicePaid: StateInvoicePaid,
				OnTimeout:     StateRefunded,
				fsm.OnError:   StateFailed,
				fsm.NoOp:      StateLockupConfirmed,
			},
		},
		StateInvoicePaid: {
			Action: a.ClaimAction,
			Transitions: fsm.Transitions{
				OnClaim:     StateClaimed,
				OnTimeout:   StateRefunded,
				fsm.OnError: StateFailed,
				fsm.NoOp:    StateInvoicePaid,
			},
		},
		StateClaimed: {
			Action: fsm.NoOpAction,
			Transitions: fsm.Transitions{
				fsm.NoOp: StateClaimed,
			},
		},
		StateRefunded: {
			Action: fsm.NoOpAction,
			Transitions: fsm.Transitions{
				fsm.NoOp: StateRefunded,
			},
		},
		StateLockupFailed: {
			Action: fsm.NoOpAction,
			Transitions: fsm.Transitions{
				fsm.NoOp: StateLockupFailed,
			},
		},
		StateFailed: {
			Action: fsm.NoOpAction,
			Transitions: fsm.Transitions{
				fsm.NoOp: StateFailed,
			},
		},
	}
}

// ToStatus maps an in-memory fsm.StateType back onto the persisted
// swapdb.Status the same swap should be recorded under, so the store's
// predecessor validation and the FSM's transition table never disagree
// about what states exist.
func ToStatus(s fsm.StateType) swapdb.Status {
	switch s {
	case StateCreated:
		return swapdb.StatusCreated
	case StateInvoiceSet:
		return swapdb.StatusInvoiceSet
	case StateLockupConfirmed:
		return swapdb.StatusTransactionConfirmed
	case StateInvoicePaid:
		return swapdb.StatusInvoicePaid
	case StateClaimed:
		return swapdb.StatusTransactionClaimed
	case StateRefunded:
		return swapdb.StatusTransactionRefunded
	case StateLockupFailed:
		return swapdb.StatusTransactionLockupFailed
	default:
		return swapdb.StatusFailed
	}
}

// FromStatus is the inverse of ToStatus, used to resume a swap's FSM in the
// correct state after a restart.
func FromStatus(s swapdb.Status) fsm.StateType {
	switch s {
	case swapdb.StatusCreated:
		return StateCreated
	case swapdb.StatusInvoiceSet:
		return StateInvoiceSet
	case swapdb.StatusTransactionConfirmed:
		return StateLockupConfirmed
	case swapdb.StatusInvoicePaid:
		return StateInvoicePaid
	case swapdb.StatusTransactionClaimed:
		return StateClaimed
	case swapdb.StatusTransactionRefunded:
		return StateRefunded
	case swapdb.StatusTransactionLockupFailed:
		return StateLockupFailed
	default:
		return StateFailed
	}
}
