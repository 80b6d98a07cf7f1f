package chainswap

import (
	"github.com/boltz-exchange/swapd/fsm"
	"github.com/boltz-exchange/swapd/swapdb"
)

// States compose submarine's lockup-watch action with reverse's
// lockup-publish/claim-race action against two independent HTLCs that share
// one preimage hash: the user locks funds on the "from" chain the way a
// submarine swap's counterparty does, we lock funds on the "to" chain the
// way a reverse swap's service side does, and the user's claim on the "to"
// side reveals the preimage that lets us claim the "from" side.
const (
	StateCreated            fsm.StateType = "Created"
	StateOwnLockupPublished fsm.StateType = "OwnLockupPublished"
	StateAwaitingUserClaim  fsm.StateType = "AwaitingUserClaim"
	StateClaimingUserLockup fsm.StateType = "ClaimingUserLockup"
	StateClaimed            fsm.StateType = "Claimed"
	StateRefunding          fsm.StateType = "Refunding"
	StateRefunded           fsm.StateType = "Refunded"
	StateFailed             fsm.StateType = "Failed"
)

const (
	OnUserLockupConfirmed fsm.EventType = "OnUserLockupConfirmed"
	OnOwnLockupPublished  fsm.EventType = "OnOwnLockupPublished"
	OnUserClaimed         fsm.EventType = "OnUserClaimed"
	OnClaimed             fsm.EventType = "OnClaimed"
	OnTimeout             fsm.EventType = "OnTimeout"
	OnRefunded            fsm.EventType = "OnRefunded"
)

// NewStates builds the chain swap's transition table.
func NewStates(a *Actions) fsm.States {
	return fsm.States{
		StateCreated: {
			Action: a.AwaitUserLockupAction,
			Transitions: fsm.Transitions{
				OnUserLockupConfirmed: StateOwnLockupPublished,
				OnTimeout:             StateFailed,
				fsm.OnError:           StateFailed,
				fsm.NoOp:              StateCreated,
			},
		},
		StateOwnLockupPublished: {
			Action: a.PublishOwnLockupAction,
			Transitions: fsm.Transitions{
				OnOwnLockupPublished: StateAwaitingUserClaim,
				fsm.OnError:          StateFailed,
				fsm.NoOp:             StateOwnLockupPublished,
			},
		},
		StateAwaitingUserClaim: {
			Action: a.AwaitUserClaimAction,
			Transitions: fsm.Transitions{
				OnUserClaimed: StateClaimingUserLockup,
				OnTimeout:     StateRefunding,
				fsm.OnError:   StateFailed,
				fsm.NoOp:      StateAwaitingUserClaim,
			},
		},
		StateClaimingUserLockup: {
			Action: a.ClaimUserLockupAction,
			Transitions: fsm.Transitions{
				OnClaimed:   StateClaimed,
				fsm.OnError: StateFailed,
				fsm.NoOp:    StateClaimingUserLockup,
			},
		},
		StateClaimed: {
			Action: fsm.NoOpAction,
			Transitions: fsm.Transitions{
				fsm.NoOp: StateClaimed,
			},
		},
		StateRefunding: {
			Action: a.RefundOwnLockupAction,
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
	case StateOwnLockupPublished:
		return swapdb.StatusTransactionConfirmed
	case StateAwaitingUserClaim:
		return swapdb.StatusInvoicePending
	case StateClaimingUserLockup:
		return swapdb.StatusInvoicePaid
	case StateClaimed:
		return swapdb.StatusTransactionClaimed
	case StateRefunding:
		return swapdb.StatusTransactionRefunding
	case StateRefunded:
		return swapdb.StatusTransactionRefunded
	default:
		return swapdb.StatusFailed
	}
}

// FromStatus is the inverse of ToStatus.
func FromStatus(s swapdb.Status) fsm.StateType {
	switch s {
	case swapdb.StatusCreated:
		return StateCreated
	case swapdb.StatusTransactionConfirmed:
		return StateOwnLockupPublished
	case swapdb.StatusInvoicePending:
		return StateAwaitingUserClaim
	case swapdb.StatusInvoicePaid:
		return StateClaimingUserLockup
	case swapdb.StatusTransactionClaimed:
		return StateClaimed
	case swapdb.StatusTransactionRefunding:
		return StateRefunding
	case swapdb.StatusTransactionRefunded:
		return StateRefunded
	default:
		return StateFailed
	}
}
