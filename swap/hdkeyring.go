package swap

import (
	"fmt"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/lightningnetwork/lnd/keychain"
)

// HDKeyRing is the in-process KeyRing: every claim/refund key a swap ever
// uses is derived from one BIP32 root extended key held in memory for the
// daemon's lifetime, at m/KeyFamily'/index. There is no wallet on the other
// end of this derivation the way a remote signer's KeyRing talks to a
// running lnd; the daemon is the only party that ever needs these keys, so
// holding the root key in process is sufficient.
type HDKeyRing struct {
	root *hdkeychain.ExtendedKey
	next uint32
}

// NewHDKeyRing constructs an HDKeyRing from a root extended private key,
// starting derivation at startIndex so a restarted daemon never re-issues an
// index handed out before the restart. Callers derive startIndex from the
// highest OurKeyLocator.Index seen across every persisted swap.
func NewHDKeyRing(root *hdkeychain.ExtendedKey, startIndex uint32) *HDKeyRing {
	return &HDKeyRing{root: root, next: startIndex}
}

// DeriveNextKey returns the next unused key in KeyFamily.
func (r *HDKeyRing) DeriveNextKey() (*btcec.PrivateKey, keychain.KeyLocator,
	error) {

	index := atomic.AddUint32(&r.next, 1) - 1
	loc := keychain.KeyLocator{Family: KeyFamily, Index: index}

	priv, err := r.DeriveKey(loc)
	if err != nil {
		return nil, keychain.KeyLocator{}, err
	}

	return priv, loc, nil
}

// DeriveKey re-derives the private key at loc, used both by DeriveNextKey
// and to recover a previously issued key when resuming a swap.
func (r *HDKeyRing) DeriveKey(loc keychain.KeyLocator) (*btcec.PrivateKey,
	error) {

	familyKey, err := r.root.Derive(
		hdkeychain.HardenedKeyStart + uint32(loc.Family),
	)
	if err != nil {
		return nil, fmt.Errorf("deriving key family %d: %w",
			loc.Family, err)
	}

	indexKey, err := familyKey.Derive(loc.Index)
	if err != nil {
		return nil, fmt.Errorf("deriving key index %d: %w",
			loc.Index, err)
	}

	return indexKey.ECPrivKey()
}
