package musig2

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/input"
	"github.com/stretchr/testify/require"

	"github.com/boltz-exchange/swapd/test"
)

// fakeKeyRing derives the fixed test keys by index, mirroring how the real
// KeyRing implementation maps a KeyLocator's Index to a wallet-derived key.
type fakeKeyRing struct{}

func (fakeKeyRing) DeriveKey(loc KeyLocator) (*btcec.PrivateKey, error) {
	priv, _ := test.CreateKey(int32(loc.Index))
	return priv, nil
}

// counterpartyNonce builds a real MuSig2 session for theirPriv the way the
// counterparty side of the protocol would, returning the public nonce our
// Signer needs to register. tapTweak mirrors the taproot tweak our side
// applies, since both sides must agree on it to end up aggregating toward
// the same taproot output key.
func counterpartyNonce(t *testing.T, theirPriv *btcec.PrivateKey,
	ourPub *btcec.PublicKey, tapTweak []byte) [66]byte {

	pubKeys := []*btcec.PublicKey{theirPriv.PubKey(), ourPub}

	tweaks := &input.MuSig2Tweaks{TaprootTweak: tapTweak}

	_, session, err := input.MuSig2CreateContext(
		input.MuSig2Version100RC2, theirPriv, pubKeys, tweaks, nil,
	)
	require.NoError(t, err)

	return session.PublicNonce()
}

func TestSignSwapRefundProducesPartialSignature(t *testing.T) {
	signer := NewSigner(fakeKeyRing{})

	ourKeyLoc := KeyLocator{Family: 0, Index: 1}
	_, ourPub := test.CreateKey(1)
	theirPriv, theirPub := test.CreateKey(2)

	tapTweak := []byte("test root hash placeholder 00000")[:32]
	theirNonce := counterpartyNonce(t, theirPriv, ourPub, tapTweak)

	var sigHash [32]byte
	sigHash[0] = 0xaa

	partial, err := signer.SignSwapRefund(
		ourKeyLoc, theirPub, theirNonce, sigHash, tapTweak,
	)
	require.NoError(t, err)
	require.NotEmpty(t, partial.Sig)
	require.NotEqual(t, theirNonce, partial.PubNonce)
}

func TestSignReverseSwapClaimProducesPartialSignature(t *testing.T) {
	signer := NewSigner(fakeKeyRing{})

	ourKeyLoc := KeyLocator{Family: 0, Index: 3}
	_, ourPub := test.CreateKey(3)
	theirPriv, theirPub := test.CreateKey(4)

	tapTweak := []byte("test root hash placeholder 00001")[:32]
	theirNonce := counterpartyNonce(t, theirPriv, ourPub, tapTweak)

	var sigHash [32]byte
	sigHash[0] = 0xbb

	partial, err := signer.SignReverseSwapClaim(
		ourKeyLoc, theirPub, theirNonce, sigHash, tapTweak,
	)
	require.NoError(t, err)
	require.NotEmpty(t, partial.Sig)
}

func TestSignRejectsMalformedCounterpartyNonce(t *testing.T) {
	signer := NewSigner(fakeKeyRing{})

	ourKeyLoc := KeyLocator{Family: 0, Index: 5}
	_, theirPub := test.CreateKey(6)

	var badNonce [66]byte // all-zero, not a valid pair of nonce points

	var sigHash [32]byte
	sigHash[0] = 0xcc

	tapTweak := []byte("test root hash placeholder 00002")[:32]

	_, err := signer.SignSwapRefund(
		ourKeyLoc, theirPub, badNonce, sigHash, tapTweak,
	)
	require.Error(t, err)
}
