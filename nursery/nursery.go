package nursery

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lntypes"
	"golang.org/x/sync/singleflight"

	"github.com/boltz-exchange/swapd/lightning"
	"github.com/boltz-exchange/swapd/swapdb"
)

// baseRetryDelay is multiplied by the backoff schedule between channel-open
// attempts.
const baseRetryDelay = 30 * time.Second

// Manager is the Channel Nursery (C8): once a swap's onchain proceeds are
// ready to deliver via a new channel rather than a plain claim, it waits
// for the destination node to come online, opens the channel, and retries
// on transient failure. Grounded on the openchannel.Manager idiom (a
// cfg-holding struct, a request/response channel pair processed by one
// Run loop) but reworked around a single onchain amount already claimed by
// the state machine, rather than aggregating several deposit UTXOs.
type Manager struct {
	store  swapdb.Store
	client lightning.Client

	group singleflight.Group
}

// NewManager constructs a Channel Nursery.
func NewManager(store swapdb.Store, client lightning.Client) *Manager {
	return &Manager{
		store:  store,
		client: client,
	}
}

// DeliverViaChannel is called once a reverse or chain swap's claim amount
// is ready to hand off, when the swap was configured for channel-creation
// delivery instead of a direct claim broadcast. It blocks until the peer
// comes online or ctx is cancelled, then opens the channel with retry.
// Calls are single-flighted on the swap hash so a resumed nursery entry
// racing a still-running one from before a restart can't open the channel
// twice.
func (m *Manager) DeliverViaChannel(ctx context.Context, hash lntypes.Hash,
	peer [33]byte, amount btcutil.Amount, private bool) error {

	_, err, _ := m.group.Do(hash.String(), func() (interface{}, error) {
		return nil, m.openWithRetry(ctx, hash, peer, amount, private)
	})

	return err
}

func (m *Manager) openWithRetry(ctx context.Context, hash lntypes.Hash,
	peer [33]byte, amount btcutil.Amount, private bool) error {

	if err := m.awaitPeerOnline(ctx, peer); err != nil {
		return fmt.Errorf("waiting for peer online: %w", err)
	}

	var lastErr error

	for attempt := 1; ; attempt++ {
		delay, ok := backoff(baseRetryDelay, attempt-1)
		if !ok {
			return fmt.Errorf("channel open exhausted %d attempts, "+
				"last error: %w", maxAttempts, lastErr)
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := m.store.SetChannelCreation(ctx, hash, &swapdb.ChannelCreation{
			SwapHash:   hash,
			NodePubkey: peer,
			Private:    private,
			Attempts:   attempt,
		}); err != nil {
			return fmt.Errorf("recording channel-open attempt: %w", err)
		}

		fundingTxid, err := m.client.OpenChannel(ctx, peer, amount, private)
		if err == nil {
			return m.settleChannel(
				ctx, hash, peer, private, attempt, fundingTxid,
			)
		}

		lastErr = err
		if !isTransientOpenChannelErr(err) {
			return fmt.Errorf("opening channel: %w", err)
		}

		log.Warnf("swap %v: channel open attempt %d failed, retrying: %v",
			hash, attempt, err)
	}
}

// awaitPeerOnline blocks until peer reports online, or an already-online
// event has already been seen — SubscribePeerEvents delivers the current
// state as its first event the way lnd's own peer notifier does.
func (m *Manager) awaitPeerOnline(ctx context.Context, peer [33]byte) error {
	online := make(chan struct{}, 1)

	err := m.client.SubscribePeerEvents(ctx, func(ev lightning.PeerEvent) {
		if ev.Pubkey == peer && ev.Online {
			select {
			case online <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		return err
	}

	select {
	case <-online:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) settleChannel(ctx context.Context, hash lntypes.Hash,
	peer [33]byte, private bool, attempts int, fundingTxid [32]byte) error {

	txHash := chainhash.Hash(fundingTxid)

	if err := m.store.SetChannelCreation(ctx, hash, &swapdb.ChannelCreation{
		SwapHash:    hash,
		NodePubkey:  peer,
		Private:     private,
		Attempts:    attempts,
		FundingTxid: &txHash,
	}); err != nil {
		return fmt.Errorf("recording opened channel: %w", err)
	}

	log.Infof("swap %v: opened settlement channel, funding txid %x",
		hash, txHash)

	return nil
}
