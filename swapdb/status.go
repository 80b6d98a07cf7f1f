package swapdb

// Status is the union of every state a Submarine, Reverse or Chain swap can
// be in. A single enumeration is used for all three swap types, the same way
// the teacher unions loop-in and loop-out into one SwapState, so the store
// and the event bus don't need type-switches to report progress.
type Status uint8

const (
	// StatusCreated is the initial state of a swap record, before any
	// onchain or offchain activity has been observed.
	StatusCreated Status = iota

	// StatusInvoiceSet indicates that a hold invoice or BOLT11/12 invoice
	// has been attached to the swap (submarine/chain: the invoice we
	// expect to be paid against; reverse: the hold invoice we issued).
	StatusInvoiceSet

	// StatusInvoicePending indicates the counterparty has accepted (but
	// not yet settled) the hold invoice for a reverse or chain swap.
	StatusInvoicePending

	// StatusTransactionMempool indicates the HTLC funding transaction has
	// been seen unconfirmed in the mempool.
	StatusTransactionMempool

	// StatusTransactionLockupFailed indicates the HTLC funding
	// transaction paid less than the swap's expected onchain amount. The
	// swap is abandoned rather than proceeding to pay out against an
	// underfunded lockup.
	StatusTransactionLockupFailed

	// StatusTransactionConfirmed indicates the HTLC funding transaction
	// has reached its required confirmation depth, or was accepted at
	// zero confirmations under the pair's zero-conf limit.
	StatusTransactionConfirmed

	// StatusInvoicePaid indicates the Lightning invoice tied to the swap
	// has been settled.
	StatusInvoicePaid

	// StatusTransactionClaimed indicates the onchain HTLC output has been
	// spent along the success path (cooperative Musig2 close or preimage
	// script-path spend).
	StatusTransactionClaimed

	// StatusTransactionRefunded indicates the onchain HTLC output has been
	// spent back to the sender along the timeout path.
	StatusTransactionRefunded

	// StatusTransactionRefunding indicates a refund transaction has been
	// broadcast for a lockup we ourselves published (reverse or a chain
	// swap's own leg), but the CLTV-gated spend hasn't yet been observed
	// as final. Distinguished from StatusTransactionRefunded so a
	// restart resumes the broadcast instead of skipping straight to the
	// terminal no-op state.
	StatusTransactionRefunding

	// StatusChannelCreated indicates the Channel Nursery opened a channel
	// to deliver the swap's proceeds instead of a sweep.
	StatusChannelCreated

	// StatusFailed is a terminal state reached when the swap could not be
	// completed and no funds are at risk (e.g. invoice expired before any
	// onchain activity).
	StatusFailed

	// StatusAbandoned is a terminal state for a swap that was manually
	// cancelled before any onchain lockup occurred.
	StatusAbandoned
)

// StatusType classifies a Status into pending, success or failure, the same
// three buckets the teacher's SwapStateType uses.
type StatusType uint8

const (
	StatusTypePending StatusType = iota
	StatusTypeSuccess
	StatusTypeFail
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "swap.created"
	case StatusInvoiceSet:
		return "invoice.set"
	case StatusInvoicePending:
		return "invoice.pending"
	case StatusTransactionMempool:
		return "transaction.mempool"
	case StatusTransactionLockupFailed:
		return "transaction.lockupFailed"
	case StatusTransactionConfirmed:
		return "transaction.confirmed"
	case StatusInvoicePaid:
		return "invoice.paid"
	case StatusTransactionClaimed:
		return "transaction.claimed"
	case StatusTransactionRefunded:
		return "transaction.refunded"
	case StatusTransactionRefunding:
		return "transaction.refunding"
	case StatusChannelCreated:
		return "channel.created"
	case StatusFailed:
		return "swap.failed"
	case StatusAbandoned:
		return "swap.abandoned"
	default:
		return "unknown"
	}
}

// Type buckets a status as pending, success or fail.
func (s Status) Type() StatusType {
	switch s {
	case StatusTransactionClaimed, StatusChannelCreated:
		return StatusTypeSuccess
	case StatusFailed, StatusAbandoned, StatusTransactionRefunded,
		StatusTransactionLockupFailed:
		return StatusTypeFail
	default:
		return StatusTypePending
	}
}

func (s Status) IsFinal() bool {
	return s.Type() != StatusTypePending
}

// predecessors enumerates, for every status, the set of statuses a swap is
// legally allowed to transition from. SetStatus rejects any update whose
// current stored status is not a member of the target status's predecessor
// set. This is the store-side enforcement of the state diagrams the
// submarine/reverse/chainswap FSMs implement in memory; the store re-checks
// it independently because a crash-and-resume can replay a stale FSM state.
var predecessors = map[Status]map[Status]struct{}{
	StatusCreated: {},
	StatusInvoiceSet: {
		StatusCreated: {},
	},
	StatusInvoicePending: {
		StatusInvoiceSet:           {},
		StatusTransactionMempool:   {},
		StatusTransactionConfirmed: {},
	},
	StatusTransactionMempool: {
		StatusCreated:        {},
		StatusInvoiceSet:     {},
		StatusInvoicePending: {},
	},
	StatusTransactionLockupFailed: {
		StatusTransactionMempool: {},
		StatusInvoiceSet:         {},
		StatusInvoicePending:     {},
	},
	StatusTransactionConfirmed: {
		StatusTransactionMempool: {},
		StatusInvoicePending:     {},
		StatusInvoiceSet:         {},
		StatusCreated:            {},
	},
	StatusInvoicePaid: {
		StatusTransactionConfirmed: {},
		StatusInvoicePending:       {},
	},
	StatusTransactionClaimed: {
		StatusTransactionConfirmed: {},
		StatusInvoicePaid:          {},
	},
	StatusTransactionRefunding: {
		StatusTransactionConfirmed: {},
		StatusTransactionMempool:   {},
		StatusInvoicePending:       {},
	},
	StatusTransactionRefunded: {
		StatusTransactionConfirmed: {},
		StatusTransactionMempool:   {},
		StatusInvoicePending:       {},
		StatusInvoicePaid:          {},
		StatusTransactionRefunding: {},
	},
	StatusChannelCreated: {
		StatusInvoicePaid: {},
	},
	StatusFailed: {
		StatusCreated:            {},
		StatusInvoiceSet:         {},
		StatusInvoicePending:     {},
		StatusTransactionMempool: {},
	},
	StatusAbandoned: {
		StatusCreated:    {},
		StatusInvoiceSet: {},
	},
}

// CanTransition reports whether a swap currently in `from` may transition to
// `to`.
func CanTransition(from, to Status) bool {
	allowed, ok := predecessors[to]
	if !ok {
		return false
	}

	_, ok = allowed[from]
	return ok
}
