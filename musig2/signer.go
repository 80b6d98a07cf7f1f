package musig2

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/input"
)

// PartialSignature is what a signing call hands back to the counterparty:
// our nonce for this signing round plus our partial signature, which the
// counterparty combines with their own to get a valid Schnorr signature.
type PartialSignature struct {
	PubNonce [66]byte
	Sig      []byte
}

// Signer produces Musig2 partial signatures for the two cooperative-close
// paths a swap ever needs: a submarine swap's early refund, and a reverse
// swap's claim. Every call builds a fresh session from scratch; unlike a
// remote-wallet backed session there is no persistent nonce state to leak
// across calls, matching swap.NewMusig2Session's "session per call"
// contract.
type Signer struct {
	keyRing KeyRing
}

// KeyRing supplies the private key material a Signer needs. It's a narrow
// alias of swap.KeyRing so this package doesn't have to import swap just for
// the interface shape.
type KeyRing interface {
	DeriveKey(loc KeyLocator) (*btcec.PrivateKey, error)
}

// KeyLocator identifies a previously derived per-swap key.
type KeyLocator struct {
	Family uint32
	Index  uint32
}

// NewSigner constructs a Signer backed by keyRing.
func NewSigner(keyRing KeyRing) *Signer {
	return &Signer{keyRing: keyRing}
}

// SignSwapRefund produces our partial signature over a submarine swap's
// cooperative refund transaction, allowing the counterparty to reclaim their
// locked coins before the timeout without waiting out the script-path
// timelock. ourKeyLoc identifies our own (claim-side) key for this swap, and
// tapTweak is the HtlcV3 output's taproot script-tree root hash: without
// it, the session would produce a signature valid for the untweaked
// aggregate key rather than the actual taproot output key.
func (s *Signer) SignSwapRefund(ourKeyLoc KeyLocator,
	theirPubkey *btcec.PublicKey, theirNonce [66]byte,
	sigHash [32]byte, tapTweak []byte) (*PartialSignature, error) {

	return s.sign(ourKeyLoc, theirPubkey, theirNonce, sigHash, tapTweak)
}

// SignReverseSwapClaim produces our partial signature over a reverse swap's
// cooperative claim transaction, letting the counterparty sweep the HTLC
// output directly to their address once we've confirmed the invoice is
// settled, instead of forcing a script-path preimage reveal onchain.
// tapTweak is the HtlcV3 output's taproot script-tree root hash.
func (s *Signer) SignReverseSwapClaim(ourKeyLoc KeyLocator,
	theirPubkey *btcec.PublicKey, theirNonce [66]byte,
	sigHash [32]byte, tapTweak []byte) (*PartialSignature, error) {

	return s.sign(ourKeyLoc, theirPubkey, theirNonce, sigHash, tapTweak)
}

func (s *Signer) sign(ourKeyLoc KeyLocator, theirPubkey *btcec.PublicKey,
	theirNonce [66]byte, sigHash [32]byte,
	tapTweak []byte) (*PartialSignature, error) {

	ourKey, err := s.keyRing.DeriveKey(ourKeyLoc)
	if err != nil {
		return nil, fmt.Errorf("deriving signing key: %w", err)
	}

	pubKeys := []*btcec.PublicKey{ourKey.PubKey(), theirPubkey}

	tweaks := &input.MuSig2Tweaks{TaprootTweak: tapTweak}

	_, session, err := input.MuSig2CreateContext(
		input.MuSig2Version100RC2, ourKey, pubKeys, tweaks, nil,
	)
	if err != nil {
		return nil, fmt.Errorf("creating musig2 session: %w", err)
	}

	haveAllNonces, err := session.RegisterPubNonce(theirNonce)
	if err != nil {
		return nil, fmt.Errorf("registering counterparty nonce: %w", err)
	}
	if !haveAllNonces {
		return nil, fmt.Errorf("musig2 session incomplete after " +
			"registering counterparty nonce")
	}

	partialSig, err := input.MuSig2Sign(session, sigHash, false)
	if err != nil {
		return nil, fmt.Errorf("producing partial signature: %w", err)
	}

	var sigBuf bytes.Buffer
	if err := partialSig.Encode(&sigBuf); err != nil {
		return nil, fmt.Errorf("encoding partial signature: %w", err)
	}

	return &PartialSignature{
		PubNonce: session.PublicNonce(),
		Sig:      sigBuf.Bytes(),
	}, nil
}
