package hints

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
)

// ErrInvalidAddressSignature is returned when a client-supplied destination
// address doesn't carry a valid signature from the key it was registered
// under, guarding against a third party redirecting a claim or refund to an
// address they don't control.
var ErrInvalidAddressSignature = errors.New("invalid address signature")

// VerifyAddressSignature checks that sig is a valid Schnorr signature over
// SHA256(address) made by pubkey, the way a client proves ownership of a
// destination address it supplies after a swap was already created (rather
// than baking the address in upfront), grounded on VerifyOfferSignature's
// use of schnorr.ParseSignature/Verify in bolt12.go.
func VerifyAddressSignature(address string, sig []byte,
	pubkey [33]byte) error {

	parsedKey, err := parsePubKey(pubkey)
	if err != nil {
		return fmt.Errorf("parsing pubkey: %w", err)
	}

	parsedSig, err := schnorr.ParseSignature(sig)
	if err != nil {
		return fmt.Errorf("parsing signature: %w", err)
	}

	digest := sha256.Sum256([]byte(address))

	if !parsedSig.Verify(digest[:], parsedKey) {
		return ErrInvalidAddressSignature
	}

	return nil
}

// BuildBIP21 renders a bitcoin: URI for address carrying amount and label,
// the form a submarine or chain-swap lockup address is shown to a client
// as, so a wallet can prefill both fields from a single scanned code.
func BuildBIP21(address string, amount btcutil.Amount, label string) string {
	v := url.Values{}
	v.Set("amount", strconv.FormatFloat(amount.ToBTC(), 'f', -1, 64))
	if label != "" {
		v.Set("label", label)
	}

	return "bitcoin:" + address + "?" + v.Encode()
}
