package chain

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// fakeClient is a minimal Client whose notification channels are driven
// explicitly by test code rather than a real backend.
type fakeClient struct {
	symbol     string
	startingAt int32

	epochChan chan int32
	confChan  chan *TxConfirmation
	spendChan chan *SpendDetail

	broadcast []*wire.MsgTx
}

func newFakeClient(symbol string, startingAt int32) *fakeClient {
	return &fakeClient{
		symbol:     symbol,
		startingAt: startingAt,
		epochChan:  make(chan int32, 1),
		confChan:   make(chan *TxConfirmation, 1),
		spendChan:  make(chan *SpendDetail, 1),
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

func (f *fakeClient) SendRawTransaction(_ context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	f.broadcast = append(f.broadcast, tx)
	txid := tx.TxHash()

	return &txid, nil
}

func (f *fakeClient) RegisterConfirmationsNtfn(context.Context,
	*chainhash.Hash, []byte, int32, int32) (<-chan *TxConfirmation,
	<-chan error, error) {

	return f.confChan, make(chan error), nil
}

func (f *fakeClient) RegisterBlockEpochNtfn(context.Context) (
	<-chan int32, <-chan error, error) {

	return f.epochChan, make(chan error), nil
}

func (f *fakeClient) RegisterSpendNtfn(context.Context, *wire.OutPoint,
	[]byte, int32) (<-chan *SpendDetail, <-chan error, error) {

	return f.spendChan, make(chan error), nil
}

func (f *fakeClient) SendToScript(context.Context, []byte, btcutil.Amount) (
	*chainhash.Hash, error) {

	return nil, nil
}

var _ Client = (*fakeClient)(nil)

func TestListenerRunTracksBlockHeight(t *testing.T) {
	c := newFakeClient("BTC", 100)
	l := NewListener(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return l.BlockHeight() == 100
	}, time.Second, time.Millisecond)

	c.epochChan <- 101
	require.Eventually(t, func() bool {
		return l.BlockHeight() == 101
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestListenerWatchDeliversOutputFound(t *testing.T) {
	c := newFakeClient("BTC", 100)
	l := NewListener(c)

	pkScript := []byte{0x00, 0x14, 1, 2, 3}

	events := make(chan Event, 1)
	err := l.Watch(context.Background(), pkScript, 1, 0,
		func(ev Event) { events <- ev })
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(50_000, pkScript))

	c.confChan <- &TxConfirmation{Tx: tx, BlockHeight: 101}

	select {
	case ev := <-events:
		require.Equal(t, OutputFound, ev.Type)
		require.Equal(t, tx.TxHash(), ev.Txid)
		require.Equal(t, uint32(0), ev.Vout)
		require.Equal(t, btcutil.Amount(50_000), ev.Amount)
	case <-time.After(time.Second):
		t.Fatal("watch never delivered the confirmation")
	}
}

func TestListenerWatchIgnoresNonMatchingOutput(t *testing.T) {
	c := newFakeClient("BTC", 100)
	l := NewListener(c)

	pkScript := []byte{0x00, 0x14, 1, 2, 3}
	otherScript := []byte{0x00, 0x14, 9, 9, 9}

	events := make(chan Event, 1)
	err := l.Watch(context.Background(), pkScript, 1, 0,
		func(ev Event) { events <- ev })
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(50_000, otherScript))
	c.confChan <- &TxConfirmation{Tx: tx}

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for a non-matching output: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListenerWatchDedupesBySameScript(t *testing.T) {
	c := newFakeClient("BTC", 100)
	l := NewListener(c)

	pkScript := []byte{0x00, 0x14, 1, 2, 3}

	err := l.Watch(context.Background(), pkScript, 1, 0, func(Event) {})
	require.NoError(t, err)

	// A second Watch call for the same script must not open a second
	// confirmation subscription; the index rejects it silently.
	err = l.Watch(context.Background(), pkScript, 1, 0, func(Event) {})
	require.NoError(t, err)

	l.Unwatch(pkScript)
	_, ok := l.index.get(pkScript)
	require.False(t, ok)
}

func TestListenerWatchSpendDeliversSpendDetail(t *testing.T) {
	c := newFakeClient("BTC", 100)
	l := NewListener(c)

	outpoint := wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0}
	pkScript := []byte{0x00, 0x14, 1, 2, 3}

	spends := make(chan *SpendDetail, 1)
	err := l.WatchSpend(context.Background(), outpoint, pkScript, 0,
		func(sd *SpendDetail) { spends <- sd })
	require.NoError(t, err)

	spendTx := wire.NewMsgTx(2)
	c.spendChan <- &SpendDetail{SpendingTx: spendTx, BlockHeight: 102}

	select {
	case sd := <-spends:
		require.Same(t, spendTx, sd.SpendingTx)
		require.Equal(t, int32(102), sd.BlockHeight)
	case <-time.After(time.Second):
		t.Fatal("watch spend never delivered")
	}
}
