package swap

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/input"
)

// NewMusig2Session creates a new local MuSig2 signing session between our
// own swap key and the counterparty's public key. Unlike a remote-wallet
// backed session, the private key is held directly by the caller: swap keys
// are generated fresh per swap and never leave this process.
func NewMusig2Session(ourKey *btcec.PrivateKey, theirKey *btcec.PublicKey,
	tweaks *input.MuSig2Tweaks) (input.MuSig2Session, error) {

	pubKeys := []*btcec.PublicKey{ourKey.PubKey(), theirKey}

	_, session, err := input.MuSig2CreateContext(
		input.MuSig2Version100RC2, ourKey, pubKeys, tweaks, nil,
	)
	if err != nil {
		return nil, err
	}

	return session, nil
}
