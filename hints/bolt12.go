package hints

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// ErrOfferNotFound is returned when a BOLT12 offer string doesn't resolve to
// a known payee.
var ErrOfferNotFound = errors.New("offer not found")

// OfferInfo carries a BOLT12 offer's payee identity independently of
// decoding any specific invoice fetched against it, the behavior
// original_source/boltzr's lightning_info.rs implements: an offer's payee
// key is fixed at offer-creation time and is used both to populate an
// invoice's memo at swap creation and, at claim time, to verify an address
// signature against the offer rather than a possibly-stale decoded invoice.
type OfferInfo struct {
	// PayeeNodeID is the node that will ultimately be paid.
	PayeeNodeID *btcec.PublicKey

	// Description is the offer's human-readable description, used to
	// populate a swap's invoice-memo field.
	Description string
}

// OfferResolver resolves a BOLT12 offer string to its payee identity. The
// concrete resolution (parsing the offer's TLV blob, following any
// blinded-path indirection) lives with the Lightning node implementation;
// this package only defines the contract the Routing-Hints Engine needs.
type OfferResolver interface {
	ResolveOffer(offer string) (*OfferInfo, error)
}

// VerifyOfferSignature checks that sig over msg was produced by the offer's
// payee key, used at claim time to authenticate a cooperative-close request
// against the original offer rather than a decoded invoice.
func VerifyOfferSignature(info *OfferInfo, msg, sig []byte) error {
	if info == nil || info.PayeeNodeID == nil {
		return fmt.Errorf("%w: missing payee key", ErrOfferNotFound)
	}

	parsedSig, err := schnorr.ParseSignature(sig)
	if err != nil {
		return fmt.Errorf("parsing signature: %w", err)
	}

	if !parsedSig.Verify(msg, info.PayeeNodeID) {
		return errors.New("invalid offer signature")
	}

	return nil
}

func parsePubKey(raw [33]byte) (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(raw[:])
}
