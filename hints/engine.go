package hints

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"
)

// DescriptionHashLen is the only length a BOLT11 hashed description is ever
// valid at (a raw SHA256 digest).
const DescriptionHashLen = 32

// ErrInvalidDescriptionHash is returned when a caller supplies a
// non-empty description hash that isn't exactly DescriptionHashLen bytes.
var ErrInvalidDescriptionHash = errors.New("description hash must be " +
	"32 bytes")

// ValidateDescriptionHash checks hash's length, allowing a nil/empty slice
// through since a description hash is optional.
func ValidateDescriptionHash(hash []byte) error {
	if len(hash) == 0 {
		return nil
	}

	if len(hash) != DescriptionHashLen {
		return ErrInvalidDescriptionHash
	}

	return nil
}

// Engine builds and inspects the routing-hint/invoice descriptors a swap
// needs: the synthetic hop hint on a reverse swap's own invoice, and
// decoding/validating a submarine swap's counterparty-supplied invoice.
type Engine struct {
	params       *chaincfg.Params
	ourNodeID    [33]byte
	offers       OfferResolver
	baseFeeMsat  uint32
	feeRateMsat  uint32
	cltvDelta    uint16
}

// NewEngine constructs a routing-hints engine for a node identified by
// ourNodeID. baseFeeMsat, feeRateMsat and cltvDelta go into the synthetic
// hop hint on any invoice we issue ourselves.
func NewEngine(params *chaincfg.Params, ourNodeID [33]byte,
	offers OfferResolver, baseFeeMsat, feeRateMsat uint32,
	cltvDelta uint16) *Engine {

	return &Engine{
		params:      params,
		ourNodeID:   ourNodeID,
		offers:      offers,
		baseFeeMsat: baseFeeMsat,
		feeRateMsat: feeRateMsat,
		cltvDelta:   cltvDelta,
	}
}

// InvoiceDescriptor is everything needed to create a hold invoice for a
// reverse swap.
type InvoiceDescriptor struct {
	Memo       string
	RouteHints [][]zpay32.HopHint
}

// DescribeOurInvoice builds the memo and synthetic routing hint for an
// invoice this node issues.
func (e *Engine) DescribeOurInvoice(memo string) (*InvoiceDescriptor, error) {
	hint, err := SyntheticHopHint(
		e.ourNodeID, e.baseFeeMsat, e.feeRateMsat, e.cltvDelta,
	)
	if err != nil {
		return nil, err
	}

	return &InvoiceDescriptor{
		Memo:       memo,
		RouteHints: [][]zpay32.HopHint{hint},
	}, nil
}

// DecodeCounterpartyInvoice decodes and sanity-checks a submarine swap's
// invoice supplied by the counterparty, returning the parsed BOLT11
// structure the state machine needs (amount, hash, expiry).
func (e *Engine) DecodeCounterpartyInvoice(payReq string) (*zpay32.Invoice, error) {
	return DecodeInvoice(payReq, e.params)
}

// ResolveOffer resolves a BOLT12 offer to its payee identity and
// description, used both to populate an invoice memo and, later, to verify
// a cooperative claim signature against the offer's key.
func (e *Engine) ResolveOffer(offer string) (*OfferInfo, error) {
	if e.offers == nil {
		return nil, ErrOfferNotFound
	}

	return e.offers.ResolveOffer(offer)
}

// ReceivedAmount quotes what a client will actually net onchain from an
// HTLC of onchainAmount once they pay claimFee to sweep it themselves —
// always strictly less than onchainAmount, since the client bears their own
// claim transaction's miner fee.
func ReceivedAmount(onchainAmount,
	claimFee btcutil.Amount) (btcutil.Amount, error) {

	if claimFee >= onchainAmount {
		return 0, fmt.Errorf("claim fee %v exceeds onchain amount %v",
			claimFee, onchainAmount)
	}

	return onchainAmount - claimFee, nil
}
