package chainswap

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/keychain"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"

	"github.com/boltz-exchange/swapd/chain"
	"github.com/boltz-exchange/swapd/fsm"
	"github.com/boltz-exchange/swapd/swap"
	"github.com/boltz-exchange/swapd/swapdb"
	"github.com/boltz-exchange/swapd/test"
	"github.com/boltz-exchange/swapd/timeout"
)

// fakeStore serves a single in-memory swap and records status writes,
// following nursery_test.go's partial-embedding idiom.
type fakeStore struct {
	swapdb.Store

	swap     *swapdb.Swap
	statuses []swapdb.Status
}

func (f *fakeStore) FetchSwap(context.Context, lntypes.Hash) (*swapdb.Swap,
	error) {

	return f.swap, nil
}

func (f *fakeStore) SetStatus(_ context.Context, _ lntypes.Hash,
	status swapdb.Status) error {

	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeStore) SetLockup(_ context.Context, _ lntypes.Hash,
	txid chainhash.Hash, vout uint32, amount btcutil.Amount) error {

	f.swap.LockupTxid = &txid
	f.swap.LockupVout = vout
	f.swap.OnchainAmount = amount

	return nil
}

func (f *fakeStore) SetToLockup(_ context.Context, _ lntypes.Hash,
	txid chainhash.Hash, vout uint32) error {

	f.swap.ToLockupTxid = &txid
	f.swap.ToLockupVout = vout

	return nil
}

func (f *fakeStore) SetPreimage(_ context.Context, _ lntypes.Hash,
	preimage lntypes.Preimage) error {

	f.swap.Preimage = &preimage

	return nil
}

// fakeKeyRing hands out one fixed key regardless of the requested locator.
type fakeKeyRing struct {
	key *btcec.PrivateKey
}

func (f *fakeKeyRing) DeriveNextKey() (*btcec.PrivateKey,
	keychain.KeyLocator, error) {

	return f.key, keychain.KeyLocator{}, nil
}

func (f *fakeKeyRing) DeriveKey(keychain.KeyLocator) (*btcec.PrivateKey,
	error) {

	return f.key, nil
}

// fakeChainClient is a minimal chain.Client whose confirmation/spend
// notifications are driven explicitly, mirroring
// submarine/actions_test.go and reverse/actions_test.go.
type fakeChainClient struct {
	symbol      string
	height      int32
	feePerVByte btcutil.Amount

	broadcast []*wire.MsgTx
	confChan  chan *chain.TxConfirmation
	spendChan chan *chain.SpendDetail
}

func (f *fakeChainClient) Symbol() string { return f.symbol }

func (f *fakeChainClient) BestBlockHeight(context.Context) (int32, error) {
	return f.height, nil
}

func (f *fakeChainClient) GetRawTransaction(context.Context,
	*chainhash.Hash) (*wire.MsgTx, error) {
	return nil, nil
}

func (f *fakeChainClient) EstimateFeePerVByte(context.Context, int32) (
	btcutil.Amount, error) {

	return f.feePerVByte, nil
}

func (f *fakeChainClient) SendRawTransaction(_ context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	f.broadcast = append(f.broadcast, tx)
	txid := tx.TxHash()

	return &txid, nil
}

func (f *fakeChainClient) RegisterConfirmationsNtfn(context.Context,
	*chainhash.Hash, []byte, int32, int32) (<-chan *chain.TxConfirmation,
	<-chan error, error) {

	if f.confChan == nil {
		f.confChan = make(chan *chain.TxConfirmation, 1)
	}

	return f.confChan, make(chan error), nil
}

func (f *fakeChainClient) RegisterBlockEpochNtfn(context.Context) (
	<-chan int32, <-chan error, error) {

	return make(chan int32), make(chan error), nil
}

func (f *fakeChainClient) RegisterSpendNtfn(context.Context, *wire.OutPoint,
	[]byte, int32) (<-chan *chain.SpendDetail, <-chan error, error) {

	if f.spendChan == nil {
		f.spendChan = make(chan *chain.SpendDetail, 1)
	}

	return f.spendChan, make(chan error), nil
}

func (f *fakeChainClient) SendToScript(_ context.Context, _ []byte,
	_ btcutil.Amount) (*chainhash.Hash, error) {

	txid := chainhash.Hash{0x09}
	return &txid, nil
}

var _ chain.Client = (*fakeChainClient)(nil)

func newTestSwap(hash lntypes.Hash, fromSenderKey, fromReceiverKey [33]byte,
	fromCltvExpiry int32, toSenderKey, toReceiverKey [33]byte,
	toCltvExpiry int32) *swapdb.Swap {

	return &swapdb.Swap{
		Hash:          hash,
		Type:          swap.Chain,
		Status:        swapdb.StatusInvoiceSet,
		OnchainAmount: 50_000,
		CltvExpiry:    fromCltvExpiry,
		HtlcKeys: swapdb.HtlcKeys{
			OurPubkey:   fromReceiverKey,
			TheirPubkey: fromSenderKey,
		},
		ToCltvExpiry: toCltvExpiry,
		ToHtlcKeys: swapdb.HtlcKeys{
			OurPubkey:   toSenderKey,
			TheirPubkey: toReceiverKey,
		},
	}
}

func TestAwaitUserLockupActionAdvancesOnConfirmation(t *testing.T) {
	_, userSenderPub := test.CreateKey(1)
	_, ourReceiverPub := test.CreateKey(2)
	_, toSenderPub := test.CreateKey(3)
	_, userClaimPub := test.CreateKey(4)

	var fromSender, fromReceiver, toSender, toReceiver [33]byte
	copy(fromSender[:], userSenderPub.SerializeCompressed())
	copy(fromReceiver[:], ourReceiverPub.SerializeCompressed())
	copy(toSender[:], toSenderPub.SerializeCompressed())
	copy(toReceiver[:], userClaimPub.SerializeCompressed())

	var preimage lntypes.Preimage
	_, err := rand.Read(preimage[:])
	require.NoError(t, err)
	hash := preimage.Hash()

	s := newTestSwap(hash, fromSender, fromReceiver, 500,
		toSender, toReceiver, 200)

	store := &fakeStore{swap: s}
	fromClient := &fakeChainClient{symbol: "BTC", height: 100}
	from := chain.NewListener(fromClient)
	toClient := &fakeChainClient{symbol: "L-BTC", height: 50}
	to := chain.NewListener(toClient)

	a := NewActions(
		store, from, to, &fakeKeyRing{}, timeout.NewWatcher(nil),
		&chaincfg.RegressionNetParams, &chaincfg.RegressionNetParams,
		[]byte("claim-dest"), []byte("to-refund-dest"), 1, nil,
	)

	htlc, err := a.fromHtlc(s)
	require.NoError(t, err)

	lockupTx := wire.NewMsgTx(2)
	lockupTx.AddTxOut(wire.NewTxOut(int64(s.OnchainAmount), htlc.PkScript))

	done := make(chan fsm.EventType, 1)
	go func() {
		done <- a.AwaitUserLockupAction(
			&Context{Ctx: context.Background(), Hash: hash},
		)
	}()

	require.Eventually(t, func() bool {
		return fromClient.confChan != nil
	}, time.Second, time.Millisecond, "user lockup watch never registered")

	fromClient.confChan <- &chain.TxConfirmation{Tx: lockupTx}

	select {
	case event := <-done:
		require.Equal(t, OnUserLockupConfirmed, event)
	case <-time.After(time.Second):
		t.Fatal("AwaitUserLockupAction never returned")
	}

	require.Equal(t, []swapdb.Status{swapdb.StatusTransactionConfirmed},
		store.statuses)
	require.Equal(t, lockupTx.TxHash(), *s.LockupTxid)
}

func TestAwaitUserClaimActionExtractsPreimage(t *testing.T) {
	_, userSenderPub := test.CreateKey(1)
	_, ourReceiverPub := test.CreateKey(2)
	_, toSenderPub := test.CreateKey(3)
	userClaimPriv, userClaimPub := test.CreateKey(4)

	var fromSender, fromReceiver, toSender, toReceiver [33]byte
	copy(fromSender[:], userSenderPub.SerializeCompressed())
	copy(fromReceiver[:], ourReceiverPub.SerializeCompressed())
	copy(toSender[:], toSenderPub.SerializeCompressed())
	copy(toReceiver[:], userClaimPub.SerializeCompressed())

	var preimage lntypes.Preimage
	_, err := rand.Read(preimage[:])
	require.NoError(t, err)
	hash := preimage.Hash()

	s := newTestSwap(hash, fromSender, fromReceiver, 500,
		toSender, toReceiver, 200)
	toLockupTxid := chainhash.Hash{0x05}
	s.ToLockupTxid = &toLockupTxid
	s.ToLockupVout = 0

	store := &fakeStore{swap: s}
	fromClient := &fakeChainClient{symbol: "BTC", height: 100}
	from := chain.NewListener(fromClient)
	toClient := &fakeChainClient{symbol: "L-BTC", height: 50}
	to := chain.NewListener(toClient)

	a := NewActions(
		store, from, to, &fakeKeyRing{}, timeout.NewWatcher(nil),
		&chaincfg.RegressionNetParams, &chaincfg.RegressionNetParams,
		[]byte("claim-dest"), []byte("to-refund-dest"), 1, nil,
	)

	htlc, err := a.toHtlc(s)
	require.NoError(t, err)

	claimTx, err := swap.BuildSuccessSweep(
		htlc, userClaimPriv, toLockupTxid, 0, s.OnchainAmount, 1_000,
		preimage, []byte("user-dest"),
	)
	require.NoError(t, err)

	done := make(chan fsm.EventType, 1)
	go func() {
		done <- a.AwaitUserClaimAction(
			&Context{Ctx: context.Background(), Hash: hash},
		)
	}()

	require.Eventually(t, func() bool {
		return toClient.spendChan != nil
	}, time.Second, time.Millisecond, "user claim watch never registered")

	toClient.spendChan <- &chain.SpendDetail{SpendingTx: claimTx}

	select {
	case event := <-done:
		require.Equal(t, OnUserClaimed, event)
	case <-time.After(time.Second):
		t.Fatal("AwaitUserClaimAction never returned")
	}

	require.Equal(t, &preimage, s.Preimage)
}

func TestClaimUserLockupActionBroadcastsSweep(t *testing.T) {
	_, userSenderPub := test.CreateKey(1)
	ourReceiverPriv, ourReceiverPub := test.CreateKey(2)
	_, toSenderPub := test.CreateKey(3)
	_, userClaimPub := test.CreateKey(4)

	var fromSender, fromReceiver, toSender, toReceiver [33]byte
	copy(fromSender[:], userSenderPub.SerializeCompressed())
	copy(fromReceiver[:], ourReceiverPub.SerializeCompressed())
	copy(toSender[:], toSenderPub.SerializeCompressed())
	copy(toReceiver[:], userClaimPub.SerializeCompressed())

	var preimage lntypes.Preimage
	_, err := rand.Read(preimage[:])
	require.NoError(t, err)
	hash := preimage.Hash()

	s := newTestSwap(hash, fromSender, fromReceiver, 500,
		toSender, toReceiver, 200)
	s.Preimage = &preimage
	lockupTxid := chainhash.Hash{0x06}
	s.LockupTxid = &lockupTxid
	s.LockupVout = 0

	store := &fakeStore{swap: s}
	fromClient := &fakeChainClient{
		symbol: "BTC", height: 100, feePerVByte: 2,
	}
	from := chain.NewListener(fromClient)
	toClient := &fakeChainClient{symbol: "L-BTC", height: 50}
	to := chain.NewListener(toClient)

	claimDest := []byte{
		txscript.OP_0, 0x14,
		1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18,
		19, 20,
	}

	a := NewActions(
		store, from, to, &fakeKeyRing{key: ourReceiverPriv},
		timeout.NewWatcher(nil), &chaincfg.RegressionNetParams,
		&chaincfg.RegressionNetParams, claimDest, []byte("to-refund-dest"),
		1, nil,
	)

	event := a.ClaimUserLockupAction(
		&Context{Ctx: context.Background(), Hash: hash},
	)

	require.Equal(t, OnClaimed, event)
	require.Len(t, fromClient.broadcast, 1)
	require.Equal(t, []swapdb.Status{swapdb.StatusTransactionClaimed},
		store.statuses)

	tx := fromClient.broadcast[0]
	htlc, err := a.fromHtlc(s)
	require.NoError(t, err)

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		htlc.PkScript, int64(s.OnchainAmount),
	)
	engine, err := txscript.NewEngine(
		htlc.PkScript, tx, 0, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, prevOutFetcher),
		int64(s.OnchainAmount), prevOutFetcher,
	)
	require.NoError(t, err)
	require.NoError(t, engine.Execute())
}

func TestRefundOwnLockupActionBroadcastsTimeoutSweep(t *testing.T) {
	_, userSenderPub := test.CreateKey(1)
	_, ourReceiverPub := test.CreateKey(2)
	toSenderPriv, toSenderPub := test.CreateKey(3)
	_, userClaimPub := test.CreateKey(4)

	var fromSender, fromReceiver, toSender, toReceiver [33]byte
	copy(fromSender[:], userSenderPub.SerializeCompressed())
	copy(fromReceiver[:], ourReceiverPub.SerializeCompressed())
	copy(toSender[:], toSenderPub.SerializeCompressed())
	copy(toReceiver[:], userClaimPub.SerializeCompressed())

	var preimage lntypes.Preimage
	_, err := rand.Read(preimage[:])
	require.NoError(t, err)
	hash := preimage.Hash()

	s := newTestSwap(hash, fromSender, fromReceiver, 500,
		toSender, toReceiver, 200)
	toLockupTxid := chainhash.Hash{0x07}
	s.ToLockupTxid = &toLockupTxid
	s.ToLockupVout = 0

	store := &fakeStore{swap: s}
	fromClient := &fakeChainClient{symbol: "BTC", height: 100}
	from := chain.NewListener(fromClient)
	toClient := &fakeChainClient{
		symbol: "L-BTC", height: 200, feePerVByte: 1,
	}
	to := chain.NewListener(toClient)

	toRefundDest := []byte{
		txscript.OP_0, 0x14,
		20, 19, 18, 17, 16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3,
		2, 1,
	}

	a := NewActions(
		store, from, to, &fakeKeyRing{key: toSenderPriv},
		timeout.NewWatcher(nil), &chaincfg.RegressionNetParams,
		&chaincfg.RegressionNetParams, []byte("claim-dest"), toRefundDest,
		1, nil,
	)

	event := a.RefundOwnLockupAction(
		&Context{Ctx: context.Background(), Hash: hash},
	)

	require.Equal(t, OnRefunded, event)
	require.Len(t, toClient.broadcast, 1)
	require.Equal(t, []swapdb.Status{swapdb.StatusTransactionRefunded},
		store.statuses)

	tx := toClient.broadcast[0]
	require.Equal(t, uint32(s.ToCltvExpiry), tx.LockTime)

	htlc, err := a.toHtlc(s)
	require.NoError(t, err)

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		htlc.PkScript, int64(s.OnchainAmount),
	)
	engine, err := txscript.NewEngine(
		htlc.PkScript, tx, 0, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, prevOutFetcher),
		int64(s.OnchainAmount), prevOutFetcher,
	)
	require.NoError(t, err)
	require.NoError(t, engine.Execute())
}
