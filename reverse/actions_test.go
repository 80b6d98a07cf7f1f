package reverse

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
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/keychain"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/stretchr/testify/require"

	"github.com/boltz-exchange/swapd/chain"
	"github.com/boltz-exchange/swapd/fsm"
	"github.com/boltz-exchange/swapd/lightning"
	"github.com/boltz-exchange/swapd/musig2"
	"github.com/boltz-exchange/swapd/swap"
	"github.com/boltz-exchange/swapd/swapdb"
	"github.com/boltz-exchange/swapd/test"
	"github.com/boltz-exchange/swapd/timeout"
)

// fakeStore serves a single in-memory swap and records status/preimage
// writes, following nursery_test.go's partial-embedding idiom.
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

// fakeLightningClient implements lightning.Client, overriding only what a
// given test exercises.
type fakeLightningClient struct {
	lightning.Client

	settled   []lntypes.Preimage
	cancelled []lntypes.Hash

	acceptedUpdate *lightning.InvoiceUpdate
}

func (f *fakeLightningClient) SettleHoldInvoice(_ context.Context,
	preimage lntypes.Preimage) error {

	f.settled = append(f.settled, preimage)
	return nil
}

func (f *fakeLightningClient) CancelHoldInvoice(_ context.Context,
	hash lntypes.Hash) error {

	f.cancelled = append(f.cancelled, hash)
	return nil
}

func (f *fakeLightningClient) SubscribeInvoice(ctx context.Context,
	_ lntypes.Hash, cb func(lightning.InvoiceUpdate, error)) error {

	if f.acceptedUpdate != nil {
		cb(*f.acceptedUpdate, nil)
	}

	<-ctx.Done()
	return nil
}

func (f *fakeLightningClient) DecodeInvoice(string) (*zpay32.Invoice, error) {
	return nil, nil
}

// fakeChainClient is a minimal chain.Client whose confirmation/spend
// notifications are driven explicitly by pushing onto the channels it hands
// back, the same seam timeout/watcher_test.go and submarine/actions_test.go
// use.
type fakeChainClient struct {
	symbol      string
	height      int32
	feePerVByte btcutil.Amount

	broadcast []*wire.MsgTx
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

	return make(chan *chain.TxConfirmation), make(chan error), nil
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
	amt btcutil.Amount) (*chainhash.Hash, error) {

	txid := chainhash.Hash{0x09}
	return &txid, nil
}

var _ chain.Client = (*fakeChainClient)(nil)

func newTestSwap(hash lntypes.Hash, ourKey, theirKey [33]byte,
	cltvExpiry int32) *swapdb.Swap {

	return &swapdb.Swap{
		Hash:          hash,
		Type:          swap.Reverse,
		Status:        swapdb.StatusInvoiceSet,
		OnchainAmount: 50_000,
		CltvExpiry:    cltvExpiry,
		HtlcKeys: swapdb.HtlcKeys{
			OurPubkey:   ourKey,
			TheirPubkey: theirKey,
		},
	}
}

func TestAwaitInvoiceAcceptedActionAdvancesOnAcceptance(t *testing.T) {
	_, ourPub := test.CreateKey(1)
	_, theirPub := test.CreateKey(2)

	var ourKey, theirKey [33]byte
	copy(ourKey[:], ourPub.SerializeCompressed())
	copy(theirKey[:], theirPub.SerializeCompressed())

	var preimage lntypes.Preimage
	_, err := rand.Read(preimage[:])
	require.NoError(t, err)
	hash := preimage.Hash()

	s := newTestSwap(hash, ourKey, theirKey, 500)
	store := &fakeStore{swap: s}

	update := lightning.InvoiceUpdate{
		Hash:  hash,
		State: lightning.InvoiceAccepted,
	}
	lnClient := &fakeLightningClient{acceptedUpdate: &update}
	invoices := lightning.NewSubscriptionManager(lnClient)

	a := NewActions(
		store, nil, lnClient, invoices, &fakeKeyRing{}, nil,
		&chaincfg.RegressionNetParams, timeout.NewWatcher(nil),
		[]byte("refund-dest"), time.Minute, nil,
	)

	event := a.AwaitInvoiceAcceptedAction(
		&Context{Ctx: context.Background(), Hash: hash},
	)

	require.Equal(t, OnInvoiceAccepted, event)
	require.Equal(t, []swapdb.Status{swapdb.StatusInvoicePending},
		store.statuses)
}

func TestAwaitClaimActionSettlesOnPreimageReveal(t *testing.T) {
	_, ourPub := test.CreateKey(1)
	theirPriv, theirPub := test.CreateKey(2)

	var ourKey, theirKey [33]byte
	copy(ourKey[:], ourPub.SerializeCompressed())
	copy(theirKey[:], theirPub.SerializeCompressed())

	var preimage lntypes.Preimage
	_, err := rand.Read(preimage[:])
	require.NoError(t, err)
	hash := preimage.Hash()

	s := newTestSwap(hash, ourKey, theirKey, 500)
	lockupTxid := chainhash.Hash{0x03}
	s.LockupTxid = &lockupTxid
	s.LockupVout = 0

	store := &fakeStore{swap: s}
	client := &fakeChainClient{symbol: "BTC", height: 100}
	listener := chain.NewListener(client)
	lnClient := &fakeLightningClient{}

	a := NewActions(
		store, listener, lnClient, nil, &fakeKeyRing{}, nil,
		&chaincfg.RegressionNetParams, timeout.NewWatcher(nil),
		[]byte("refund-dest"), time.Minute, nil,
	)

	htlc, err := a.htlcFor(s)
	require.NoError(t, err)

	// Build the transaction the counterparty's own claim would produce:
	// a success-path spend of the HTLC we published, signed with their
	// (receiver) key.
	claimTx, err := swap.BuildSuccessSweep(
		htlc, theirPriv, lockupTxid, 0, s.OnchainAmount, 1_000,
		preimage, []byte("their-dest"),
	)
	require.NoError(t, err)

	done := make(chan fsm.EventType, 1)
	go func() {
		done <- a.AwaitClaimAction(
			&Context{Ctx: context.Background(), Hash: hash},
		)
	}()

	require.Eventually(t, func() bool {
		return client.spendChan != nil
	}, time.Second, time.Millisecond, "claim watch never registered")

	client.spendChan <- &chain.SpendDetail{SpendingTx: claimTx}

	select {
	case event := <-done:
		require.Equal(t, OnClaimed, event)
	case <-time.After(time.Second):
		t.Fatal("AwaitClaimAction never returned")
	}

	require.Equal(t, []swapdb.Status{swapdb.StatusTransactionClaimed},
		store.statuses)
	require.Equal(t, []lntypes.Preimage{preimage}, lnClient.settled)
	require.Equal(t, &preimage, s.Preimage)
}

func TestRefundActionBroadcastsTimeoutSweep(t *testing.T) {
	ourPriv, ourPub := test.CreateKey(1)
	_, theirPub := test.CreateKey(2)

	var ourKey, theirKey [33]byte
	copy(ourKey[:], ourPub.SerializeCompressed())
	copy(theirKey[:], theirPub.SerializeCompressed())

	var preimage lntypes.Preimage
	_, err := rand.Read(preimage[:])
	require.NoError(t, err)
	hash := preimage.Hash()

	s := newTestSwap(hash, ourKey, theirKey, 500)
	lockupTxid := chainhash.Hash{0x04}
	s.LockupTxid = &lockupTxid
	s.LockupVout = 0

	store := &fakeStore{swap: s}
	client := &fakeChainClient{symbol: "BTC", height: 500, feePerVByte: 2}
	listener := chain.NewListener(client)

	refundDest := []byte{
		txscript.OP_0, 0x14,
		1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18,
		19, 20,
	}

	a := NewActions(
		store, listener, nil, nil, &fakeKeyRing{key: ourPriv}, nil,
		&chaincfg.RegressionNetParams, timeout.NewWatcher(nil),
		refundDest, time.Minute, nil,
	)

	event := a.RefundAction(
		&Context{Ctx: context.Background(), Hash: hash},
	)

	require.Equal(t, OnRefunded, event)
	require.Len(t, client.broadcast, 1)
	require.Equal(t, []swapdb.Status{swapdb.StatusTransactionRefunded},
		store.statuses)

	tx := client.broadcast[0]
	require.Len(t, tx.TxOut, 1)
	require.Equal(t, refundDest, []byte(tx.TxOut[0].PkScript))
	require.Equal(t, uint32(s.CltvExpiry), tx.LockTime)

	htlc, err := a.htlcFor(s)
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

// fakeMusigKeyRing hands out one fixed key regardless of the requested
// locator, the musig2.KeyRing counterpart of fakeKeyRing.
type fakeMusigKeyRing struct {
	key *btcec.PrivateKey
}

func (f fakeMusigKeyRing) DeriveKey(musig2.KeyLocator) (*btcec.PrivateKey,
	error) {

	return f.key, nil
}

// counterpartyCoopNonce builds a real MuSig2 session for theirPriv the way
// the counterparty side of the cooperative-claim protocol would, returning
// the public nonce our Signer needs to register.
func counterpartyCoopNonce(t *testing.T, theirPriv *btcec.PrivateKey,
	ourPub *btcec.PublicKey) [66]byte {

	pubKeys := []*btcec.PublicKey{theirPriv.PubKey(), ourPub}

	_, session, err := input.MuSig2CreateContext(
		input.MuSig2Version100RC2, theirPriv, pubKeys, nil, nil,
	)
	require.NoError(t, err)

	return session.PublicNonce()
}

func TestSignCooperativeClaimSettlesInvoiceBeforeSigning(t *testing.T) {
	ourPriv, ourPub := test.CreateKey(1)
	theirPriv, theirPub := test.CreateKey(2)

	var ourKey, theirKey [33]byte
	copy(ourKey[:], ourPub.SerializeCompressed())
	copy(theirKey[:], theirPub.SerializeCompressed())

	var preimage lntypes.Preimage
	_, err := rand.Read(preimage[:])
	require.NoError(t, err)
	hash := preimage.Hash()

	s := newTestSwap(hash, ourKey, theirKey, 500)
	s.Status = swapdb.StatusTransactionConfirmed

	store := &fakeStore{swap: s}
	lnClient := &fakeLightningClient{}
	signer := musig2.NewSigner(fakeMusigKeyRing{key: ourPriv})

	a := NewActions(
		store, nil, lnClient, nil, &fakeKeyRing{}, signer,
		&chaincfg.RegressionNetParams, timeout.NewWatcher(nil),
		[]byte("refund-dest"), time.Minute, nil,
	)

	theirNonce := counterpartyCoopNonce(t, theirPriv, ourPub)

	var sigHash [32]byte
	sigHash[0] = 0xaa

	partial, err := a.SignCooperativeClaim(
		context.Background(), s, preimage, theirPub, theirNonce, sigHash,
	)
	require.NoError(t, err)
	require.NotEmpty(t, partial.Sig)
	require.Equal(t, []lntypes.Preimage{preimage}, lnClient.settled)
	require.Equal(t, &preimage, s.Preimage)
}

func TestSignCooperativeClaimRejectsMismatchedPreimage(t *testing.T) {
	ourPriv, ourPub := test.CreateKey(1)
	theirPriv, theirPub := test.CreateKey(2)

	var ourKey, theirKey [33]byte
	copy(ourKey[:], ourPub.SerializeCompressed())
	copy(theirKey[:], theirPub.SerializeCompressed())

	var preimage, wrongPreimage lntypes.Preimage
	_, err := rand.Read(preimage[:])
	require.NoError(t, err)
	_, err = rand.Read(wrongPreimage[:])
	require.NoError(t, err)
	hash := preimage.Hash()

	s := newTestSwap(hash, ourKey, theirKey, 500)
	s.Status = swapdb.StatusTransactionConfirmed

	store := &fakeStore{swap: s}
	lnClient := &fakeLightningClient{}
	signer := musig2.NewSigner(fakeMusigKeyRing{key: ourPriv})

	a := NewActions(
		store, nil, lnClient, nil, &fakeKeyRing{}, signer,
		&chaincfg.RegressionNetParams, timeout.NewWatcher(nil),
		[]byte("refund-dest"), time.Minute, nil,
	)

	theirNonce := counterpartyCoopNonce(t, theirPriv, ourPub)

	var sigHash [32]byte
	sigHash[0] = 0xaa

	_, err = a.SignCooperativeClaim(
		context.Background(), s, wrongPreimage, theirPub, theirNonce,
		sigHash,
	)
	require.Error(t, err)
	require.Empty(t, lnClient.settled)
}

func TestSignCooperativeClaimRejectsBeforeLockup(t *testing.T) {
	_, ourPub := test.CreateKey(1)
	theirPriv, theirPub := test.CreateKey(2)

	var ourKey, theirKey [33]byte
	copy(ourKey[:], ourPub.SerializeCompressed())
	copy(theirKey[:], theirPub.SerializeCompressed())

	var preimage lntypes.Preimage
	_, err := rand.Read(preimage[:])
	require.NoError(t, err)
	hash := preimage.Hash()

	// Still awaiting invoice acceptance: the lockup hasn't been
	// published yet, so there's nothing to claim.
	s := newTestSwap(hash, ourKey, theirKey, 500)

	store := &fakeStore{swap: s}
	lnClient := &fakeLightningClient{}
	signer := musig2.NewSigner(fakeMusigKeyRing{})

	a := NewActions(
		store, nil, lnClient, nil, &fakeKeyRing{}, signer,
		&chaincfg.RegressionNetParams, timeout.NewWatcher(nil),
		[]byte("refund-dest"), time.Minute, nil,
	)

	theirNonce := counterpartyCoopNonce(t, theirPriv, ourPub)

	var sigHash [32]byte
	sigHash[0] = 0xaa

	_, err = a.SignCooperativeClaim(
		context.Background(), s, preimage, theirPub, theirNonce, sigHash,
	)
	require.Error(t, err)
	require.Empty(t, lnClient.settled)
}
