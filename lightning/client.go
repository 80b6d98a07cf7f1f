package lightning

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/zpay32"
)

// InvoiceState mirrors the states a hold invoice moves through, the subset
// of lndclient.InvoiceUpdate's states this system reacts to.
type InvoiceState uint8

const (
	InvoiceOpen InvoiceState = iota
	InvoiceAccepted
	InvoiceSettled
	InvoiceCanceled
)

// InvoiceUpdate is a single hold-invoice state transition.
type InvoiceUpdate struct {
	Hash        lntypes.Hash
	State       InvoiceState
	AmtPaidMsat int64
}

// PaymentResult is the outcome of a PayInvoice call, delivered once the
// payment either succeeds or is given up on.
type PaymentResult struct {
	Preimage lntypes.Preimage
	FeeMsat  int64
	Err      error
}

// PeerEvent reports a peer's connectivity, needed by the Channel Nursery
// before it attempts to open a channel.
type PeerEvent struct {
	Pubkey  [33]byte
	Online  bool
}

// Client is the narrow surface the Reverse/Submarine state machines and the
// Channel Nursery need from a Lightning node, modelled on lndclient's
// InvoicesClient/RouterClient/LightningClient split.
type Client interface {
	// DecodeInvoice parses a BOLT11 payment request against this node's
	// network parameters.
	DecodeInvoice(payReq string) (*zpay32.Invoice, error)

	// AddHoldInvoice creates a new hold invoice for hash, payable up to
	// amt, expiring after expiry. descriptionHash, if non-nil, replaces
	// memo with a BOLT11 hashed description and must already have been
	// validated as exactly 32 bytes.
	AddHoldInvoice(ctx context.Context, hash lntypes.Hash,
		amt btcutil.Amount, expiry time.Duration, memo string,
		descriptionHash []byte,
		routeHints [][]zpay32.HopHint) (string, error)

	// SettleHoldInvoice releases a held invoice's funds using preimage.
	SettleHoldInvoice(ctx context.Context, preimage lntypes.Preimage) error

	// CancelHoldInvoice cancels a held invoice without ever revealing
	// its preimage.
	CancelHoldInvoice(ctx context.Context, hash lntypes.Hash) error

	// SubscribeInvoice streams state updates for a single invoice until
	// ctx is cancelled or the invoice reaches a terminal state.
	SubscribeInvoice(ctx context.Context, hash lntypes.Hash,
		cb func(InvoiceUpdate, error)) error

	// PayInvoice pays a BOLT11 invoice, restricted to maxFee and
	// (optionally) a specific outgoing channel, returning the result
	// asynchronously.
	PayInvoice(ctx context.Context, invoice string, maxFee btcutil.Amount,
		outgoingChannel *uint64) <-chan PaymentResult

	// SubscribePeerEvents streams peer online/offline transitions.
	SubscribePeerEvents(ctx context.Context,
		cb func(PeerEvent)) error

	// OpenChannel opens a channel to peer of the given size, private or
	// public.
	OpenChannel(ctx context.Context, peer [33]byte, amt btcutil.Amount,
		private bool) (fundingTxid [32]byte, err error)
}
