package timeout

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/boltz-exchange/swapd/chain"
)

// fakeClient is a minimal chain.Client whose block height is driven
// entirely by test code pushing onto its epoch channel.
type fakeClient struct {
	symbol     string
	startingAt int32
	epochChan  chan int32
}

func newFakeClient(symbol string, startingAt int32) *fakeClient {
	return &fakeClient{
		symbol:     symbol,
		startingAt: startingAt,
		epochChan:  make(chan int32, 1),
	}
}

func (f *fakeClient) Symbol() string { return f.symbol }

func (f *fakeClient) BestBlockHeight(context.Context) (int32, error) {
	return f.startingAt, nil
}

func (f *fakeClient) GetRawTransaction(context.Context,
	*chainhash.Hash) (*wire.MsgTx, error) {
	return nil, nil
}

func (f *fakeClient) EstimateFeePerVByte(context.Context, int32) (
	btcutil.Amount, error) {
	return 0, nil
}

func (f *fakeClient) SendRawTransaction(context.Context, *wire.MsgTx) (
	*chainhash.Hash, error) {
	return nil, nil
}

func (f *fakeClient) RegisterConfirmationsNtfn(context.Context,
	*chainhash.Hash, []byte, int32, int32) (
	<-chan *chain.TxConfirmation, <-chan error, error) {
	return make(chan *chain.TxConfirmation), make(chan error), nil
}

func (f *fakeClient) RegisterBlockEpochNtfn(context.Context) (
	<-chan int32, <-chan error, error) {
	return f.epochChan, make(chan error), nil
}

func (f *fakeClient) RegisterSpendNtfn(context.Context, *wire.OutPoint,
	[]byte, int32) (<-chan *chain.SpendDetail, <-chan error, error) {
	return make(chan *chain.SpendDetail), make(chan error), nil
}

func (f *fakeClient) SendToScript(context.Context, []byte, btcutil.Amount) (
	*chainhash.Hash, error) {
	return nil, nil
}

var _ chain.Client = (*fakeClient)(nil)

func newRunningListener(t *testing.T, symbol string,
	startingAt int32) (*chain.Listener, *fakeClient, func()) {

	t.Helper()

	c := newFakeClient(symbol, startingAt)
	l := chain.NewListener(c)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return l.BlockHeight() == startingAt
	}, time.Second, time.Millisecond)

	return l, c, func() {
		cancel()
		<-done
	}
}

func TestRegisterHeightExpiryFiresOnceHeightReached(t *testing.T) {
	l, c, stop := newRunningListener(t, "BTC", 100)
	defer stop()

	w := NewWatcher(nil)
	w.AddListener(l)

	fired := make(chan struct{}, 1)
	var hash [32]byte
	hash[0] = 1

	w.RegisterHeightExpiry(hash, "BTC", 105, func() {
		fired <- struct{}{}
	})

	// Not yet at the expiry height: an explicit check must not fire.
	w.checkHeights()
	select {
	case <-fired:
		t.Fatal("fired before expiry height was reached")
	default:
	}

	c.epochChan <- 105
	require.Eventually(t, func() bool {
		return l.BlockHeight() == 105
	}, time.Second, time.Millisecond)

	w.checkHeights()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expiry never fired")
	}

	// The entry is removed once it fires, so a second check is a no-op.
	w.checkHeights()
	select {
	case <-fired:
		t.Fatal("fired twice")
	default:
	}
}

func TestRegisterHeightExpiryIgnoresUnknownSymbol(t *testing.T) {
	l, _, stop := newRunningListener(t, "BTC", 200)
	defer stop()

	w := NewWatcher(nil)
	w.AddListener(l)

	fired := make(chan struct{}, 1)
	var hash [32]byte
	hash[0] = 2

	// L-BTC was never registered as a listener, so nothing should ever
	// check this expiry, no matter how high BTC's tip climbs.
	w.RegisterHeightExpiry(hash, "L-BTC", 1, func() {
		fired <- struct{}{}
	})

	w.checkHeights()

	select {
	case <-fired:
		t.Fatal("fired for a symbol with no registered listener")
	default:
	}
}

func TestCancelRemovesPendingExpiry(t *testing.T) {
	l, c, stop := newRunningListener(t, "BTC", 500)
	defer stop()

	w := NewWatcher(nil)
	w.AddListener(l)

	fired := make(chan struct{}, 1)
	var hash [32]byte
	hash[0] = 3

	w.RegisterHeightExpiry(hash, "BTC", 501, func() {
		fired <- struct{}{}
	})
	w.Cancel(hash)

	c.epochChan <- 501
	require.Eventually(t, func() bool {
		return l.BlockHeight() == 501
	}, time.Second, time.Millisecond)

	w.checkHeights()

	select {
	case <-fired:
		t.Fatal("cancelled expiry still fired")
	default:
	}
}

func TestRegisterDeadlineFiresOnceClockPasses(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	testClock := clock.NewTestClock(now)

	w := NewWatcher(testClock)

	fired := make(chan struct{}, 1)
	var hash [32]byte
	hash[0] = 4

	w.RegisterDeadline(hash, time.Minute, func() {
		fired <- struct{}{}
	})

	w.checkDeadlines()
	select {
	case <-fired:
		t.Fatal("fired before the deadline elapsed")
	default:
	}

	testClock.SetTime(now.Add(2 * time.Minute))
	w.checkDeadlines()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("deadline never fired")
	}
}

func TestRegisterHeightExpiryOverwritesExistingEntry(t *testing.T) {
	l, c, stop := newRunningListener(t, "BTC", 10)
	defer stop()

	w := NewWatcher(nil)
	w.AddListener(l)

	firstFired := make(chan struct{}, 1)
	secondFired := make(chan struct{}, 1)
	var hash [32]byte
	hash[0] = 5

	w.RegisterHeightExpiry(hash, "BTC", 20, func() {
		firstFired <- struct{}{}
	})

	// Re-registering for the same hash (e.g. an FSM resume re-arming the
	// watcher) must replace the stale callback rather than leak it.
	w.RegisterHeightExpiry(hash, "BTC", 20, func() {
		secondFired <- struct{}{}
	})

	c.epochChan <- 20
	require.Eventually(t, func() bool {
		return l.BlockHeight() == 20
	}, time.Second, time.Millisecond)

	w.checkHeights()

	select {
	case <-secondFired:
	case <-time.After(time.Second):
		t.Fatal("replacement callback never fired")
	}

	select {
	case <-firstFired:
		t.Fatal("stale callback fired after being overwritten")
	default:
	}
}
