package reverse

import (
	"github.com/boltz-exchange/swapd/fsm"
	"github.com/boltz-exchange/swapd/swapdb"
)

// States model a reverse swap from the service's point of view: we issue a
// hold invoice, wait for it to be accepted (funds held but not settled),
// publish an onchain HTLC paying the counterparty, and wait for them to
// either claim it with the preimage (which we then use to settle the hold
// invoice) or let it time out, at which point we refund ourselves.
const (
	StateCreated         fsm.StateType = "Created"
	StateAwaitingAccept  fsm.StateType = "AwaitingAccept"
	StateLockupPublished fsm.StateType = "LockupPublished"
	StateAwaitingClaim   fsm.StateType = "AwaitingClaim"
	StateSettled         fsm.StateType = "Settled"
	StateRefunding       fsm.StateType = "Refunding"
	StateRefunded        fsm.StateType = "Refunded"
	StateFailed          fsm.StateType = "Failed"
)

const (
	OnInvoiceSet      fsm.EventType = "OnInvoiceSet"
	OnInvoiceAccepted fsm.EventType = "OnInvoiceAccepted"
	OnLockupPublished fsm.EventType = "OnLockupPublished"
	OnClaimed         fsm.EventType = "OnClaimed"
	OnTimeout         fsm.EventType = "OnTimeout"
	OnRefunded        fsm.EventType = "OnRefunded"
)

// NewStates builds the reverse swap's transition table.
func NewStates(a *Actions) fsm.States {
	return fsm.States{
		StateCreated: {
			Action: fsm.NoOpAction,
			Transitions: fsm.Transitions{
				OnInvoiceSet: StateAwaitingAccept,
				fsm.OnError:  StateFailed,
				fsm.NoOp:     StateCreated,
			},
		},
		StateAwaitingAccept: {
			Action: a.AwaitInvoiceAcceptedAction,
			Transitions: fsm.Transitions{
				OnInvoiceAccepted: StateLockupPublished,
				OnTimeout:         StateFailed,
				fsm.OnError:       StateFailed,
				fsm.NoOp:          StateAwaitingAccept,
			},
		},
		StateLockupPublished: {
			Action: a.PublishLockupAction,
			Transitions: fsm.Transitions{
				OnLockupPublished: StateAwaitingClaim,
				fsm.OnError:       StateFailed,
				fsm.NoOp:          StateLockupPublished,
			},
		},
		StateAwaitingClaim: {
			Action: a.AwaitClaimAction,
			Transitions: fsm.Transitions{
				OnClaimed:   StateSettled,
				OnTimeout:   StateRefunding,
				fsm.OnError: StateFailed,
				fsm.NoOp:    StateAwaitingClaim,
			},
		},
		StateSettled: {
			Action: fsm.NoOpAction,
			Transitions: fsm.Transitions{
				fsm.NoOp: StateSettled,
			},
		},
		StateRefunding: {
			Action: a.RefundAction,
			Transitions: fsm.Transitions{
				OnRefunded:  StateRefunded,
				fsm.OnError: StateFailed,
				fsm.NoOp:    StateRefunding,
			},
		},
		StateRefunded: {
			Action: fsm.NoOpAction,
			Transitions: fsm.Transitions{
				fsm.NoOp: StateRefunded,
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

// ToStatus maps an in-memory state onto the persisted swapdb.Status.
func ToStatus(s fsm.StateType) swapdb.Status {
	switch s {
	case StateCreated:
		return swapdb.StatusCreated
	case StateAwaitingAccept:
		return swapdb.StatusInvoiceSet
	case StateLockupPublished:
		return swapdb.StatusInvoicePending
	case StateAwaitingClaim:
		return swapdb.StatusTransactionConfirmed
	case StateSettled:
		return swapdb.StatusTransactionClaimed
	case StateRefunding:
		return swapdb.StatusTransactionRefunding
	case StateRefunded:
		return swapdb.StatusTransactionRefunded
	default:
		return swapdb.StatusFailed
	}
}

// FromStatus is the inverse of ToStatus, used to resume a reverse swap's
// FSM in the correct state after a restart.
func FromStatus(s swapdb.Status) fsm.StateType {
	switch s {
	case swapdb.StatusCreated:
		return StateCreated
	case swapdb.StatusInvoiceSet:
		return StateAwaitingAccept
	case swapdb.StatusInvoicePending:
		return StateLockupPublished
	case swapdb.StatusTransactionConfirmed:
		return StateAwaitingClaim
	case swapdb.StatusTransactionClaimed:
		return StateSettled
	case swapdb.StatusTransactionRefunding:
		return StateRefunding
	case swapdb.StatusTransactionRefunded:
		return StateRefunded
	default:
		return StateFailed
	}
}
