package swapdb

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/keychain"
	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/boltz-exchange/swapd/swap"
)

var (
	// ErrSwapNotFound is returned when a swap hash has no matching
	// record.
	ErrSwapNotFound = errors.New("swap not found")

	// ErrIllegalTransition is returned by SetStatus when the requested
	// status is not reachable from the swap's current stored status.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrDuplicateSwap is returned by Create when a swap with the same
	// hash already exists.
	ErrDuplicateSwap = errors.New("swap already exists")
)

// HtlcKeys holds the keys used to build a swap's HTLC script, mirroring
// which side of the swap is the claimer versus the refund path.
type HtlcKeys struct {
	// OurPubkey is our claim or refund key, depending on swap type.
	OurPubkey [33]byte

	// OurKeyLocator lets us re-derive OurPubkey's private key.
	OurKeyLocator keychain.KeyLocator

	// TheirPubkey is the counterparty's key.
	TheirPubkey [33]byte
}

// Swap is the persisted record for a Submarine, Reverse or Chain swap. Fields
// that only apply to one swap type are left zero-valued for the others.
type Swap struct {
	// ID is the swap's external identifier, exposed over the API.
	ID string

	// Hash is the preimage hash identifying the swap.
	Hash lntypes.Hash

	// Preimage is populated once known, either supplied by the
	// counterparty (submarine) or generated by us (reverse/chain).
	Preimage *lntypes.Preimage

	// Type distinguishes submarine, reverse and chain swaps.
	Type swap.Type

	// Pair identifies the asset pair being swapped, e.g. "BTC/BTC".
	Pair string

	// Status is the swap's current lifecycle status.
	Status Status

	// OnchainAmount is the amount locked in the onchain HTLC.
	OnchainAmount btcutil.Amount

	// Invoice is the BOLT11 payment request tied to the swap, when one
	// exists.
	Invoice string

	// CltvExpiry is the absolute block height at which the onchain HTLC
	// can be refunded.
	CltvExpiry int32

	// HtlcKeys are the keys used to build the onchain HTLC script.
	HtlcKeys HtlcKeys

	// LockupTxid is the txid of the funding transaction for the onchain
	// HTLC, once observed.
	LockupTxid *chainhash.Hash

	// LockupVout is the output index of the HTLC within LockupTxid.
	LockupVout uint32

	// AcceptedZeroConf records whether the lockup was accepted before
	// reaching its required confirmation depth, because its amount fell
	// within the pair's configured zero-conf limit.
	AcceptedZeroConf bool

	// ToHtlcKeys, ToCltvExpiry, ToLockupTxid and ToLockupVout describe
	// the second HTLC of a Chain swap, locked on a different currency
	// than the fields above. They're zero-valued for Submarine and
	// Reverse swaps, which only ever have one leg.
	ToHtlcKeys    HtlcKeys
	ToCltvExpiry  int32
	ToLockupTxid  *chainhash.Hash
	ToLockupVout  uint32

	// ChannelCreation holds the nursery's channel-open record, if this
	// swap was configured to deliver its proceeds via a new channel.
	ChannelCreation *ChannelCreation

	// CreatedAt is when the swap record was first inserted.
	CreatedAt time.Time

	// UpdatedAt is when the swap record was last mutated.
	UpdatedAt time.Time
}

// ChannelCreation tracks the Channel Nursery's attempt to open a channel to
// deliver a swap's proceeds.
type ChannelCreation struct {
	SwapHash    lntypes.Hash
	NodePubkey  [33]byte
	Private     bool
	Attempts    int
	FundingTxid *chainhash.Hash
	ChannelID   uint64
}

// Store is the persistence interface used by the state machines, the
// nursery, and the timeout watcher. All methods are safe for concurrent use.
type Store interface {
	// Create inserts a brand new swap record in StatusCreated.
	Create(ctx context.Context, s *Swap) error

	// FetchSwap returns the swap with the given hash.
	FetchSwap(ctx context.Context, hash lntypes.Hash) (*Swap, error)

	// FetchSwaps returns every swap, for daemon-restart resumption.
	FetchSwaps(ctx context.Context) ([]*Swap, error)

	// FetchSwapsByStatus returns every swap currently in one of the given
	// statuses.
	FetchSwapsByStatus(ctx context.Context, statuses ...Status) ([]*Swap, error)

	// FetchSwapByLockup returns the swap that is watching the given
	// outpoint as its onchain HTLC lockup, if any.
	FetchSwapByLockup(ctx context.Context, txid chainhash.Hash,
		vout uint32) (*Swap, error)

	// SetStatus transitions a swap to a new status. It fails with
	// ErrIllegalTransition if the swap's current stored status is not in
	// the target status's predecessor set.
	SetStatus(ctx context.Context, hash lntypes.Hash, status Status) error

	// SetLockup records the onchain HTLC's funding outpoint and amount.
	SetLockup(ctx context.Context, hash lntypes.Hash, txid chainhash.Hash,
		vout uint32, amount btcutil.Amount) error

	// SetToLockup records a Chain swap's second-leg HTLC funding
	// outpoint.
	SetToLockup(ctx context.Context, hash lntypes.Hash,
		txid chainhash.Hash, vout uint32) error

	// SetInvoice attaches or replaces the swap's Lightning invoice.
	SetInvoice(ctx context.Context, hash lntypes.Hash, invoice string) error

	// SetPreimage records the preimage once it becomes known.
	SetPreimage(ctx context.Context, hash lntypes.Hash,
		preimage lntypes.Preimage) error

	// SetAcceptedZeroConf records whether a swap's lockup was accepted at
	// zero confirmations.
	SetAcceptedZeroConf(ctx context.Context, hash lntypes.Hash,
		accepted bool) error

	// SetChannelCreation attaches a channel-creation record to a swap.
	SetChannelCreation(ctx context.Context, hash lntypes.Hash,
		cc *ChannelCreation) error

	// Close releases the underlying database connection.
	Close() error
}
