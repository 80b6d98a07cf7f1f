package notifications

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"

	"github.com/boltz-exchange/swapd/swapdb"
)

func testSwap(hash lntypes.Hash) *swapdb.Swap {
	return &swapdb.Swap{Hash: hash, Status: swapdb.StatusCreated}
}

// TestSubscribePerSwap checks that a per-swap subscriber only receives
// updates for its own hash.
func TestSubscribePerSwap(t *testing.T) {
	m := NewManager()

	hashA := lntypes.Hash{0x01}
	hashB := lntypes.Hash{0x02}

	updatesA, cancelA := m.Subscribe(hashA)
	defer cancelA()

	m.Notify(swapdb.StatusInvoiceSet, testSwap(hashA))
	m.Notify(swapdb.StatusInvoiceSet, testSwap(hashB))

	select {
	case u := <-updatesA:
		update := u.(Update)
		require.Equal(t, hashA, update.Swap.Hash)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}

	select {
	case u := <-updatesA:
		t.Fatalf("unexpected second update: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestSubscribeReplaysLatest checks that a subscriber connecting after a
// swap already transitioned immediately receives its current status.
func TestSubscribeReplaysLatest(t *testing.T) {
	m := NewManager()

	hash := lntypes.Hash{0x03}
	m.Notify(swapdb.StatusTransactionConfirmed, testSwap(hash))

	updates, cancel := m.Subscribe(hash)
	defer cancel()

	select {
	case u := <-updates:
		update := u.(Update)
		require.Equal(t, swapdb.StatusTransactionConfirmed, update.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replayed update")
	}
}

// TestSubscribeAll checks that the global feed observes every swap.
func TestSubscribeAll(t *testing.T) {
	m := NewManager()

	updates, cancel := m.SubscribeAll()
	defer cancel()

	hashA := lntypes.Hash{0x04}
	hashB := lntypes.Hash{0x05}

	m.Notify(swapdb.StatusInvoiceSet, testSwap(hashA))
	m.Notify(swapdb.StatusInvoiceSet, testSwap(hashB))

	seen := make(map[lntypes.Hash]bool)
	for i := 0; i < 2; i++ {
		select {
		case u := <-updates:
			seen[u.(Update).Swap.Hash] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for update")
		}
	}

	require.True(t, seen[hashA])
	require.True(t, seen[hashB])
}

// TestCancelStopsDelivery checks that a cancelled subscription stops
// receiving further updates.
func TestCancelStopsDelivery(t *testing.T) {
	m := NewManager()

	hash := lntypes.Hash{0x06}
	updates, cancel := m.Subscribe(hash)
	cancel()

	m.Notify(swapdb.StatusInvoiceSet, testSwap(hash))

	select {
	case u, ok := <-updates:
		if ok {
			t.Fatalf("unexpected update after cancel: %+v", u)
		}
	case <-time.After(50 * time.Millisecond):
	}
}
