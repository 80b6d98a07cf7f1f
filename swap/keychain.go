package swap

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/keychain"
)

// KeyFamily is the key family used to derive per-swap HTLC keys from the
// daemon's root key. It only labels the derivation path; no remote wallet
// backs it, keys are derived and held in-process for the lifetime of the
// swap.
var KeyFamily = keychain.KeyFamily(824)

// KeyRing derives fresh per-swap key pairs. A swap never reuses a key
// across two different swaps, so every call returns a new index.
type KeyRing interface {
	// DeriveNextKey returns the next unused key in KeyFamily along with
	// its locator so it can be re-derived later from the store.
	DeriveNextKey() (*btcec.PrivateKey, keychain.KeyLocator, error)

	// DeriveKey re-derives the private key for a previously handed out
	// locator, used when resuming a swap's state machine after restart.
	DeriveKey(loc keychain.KeyLocator) (*btcec.PrivateKey, error)
}
