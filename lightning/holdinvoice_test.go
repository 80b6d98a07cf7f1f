package lightning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

// fakeClient implements Client, counting SubscribeInvoice calls and letting
// a test control when the call returns.
type fakeClient struct {
	Client

	mu        sync.Mutex
	subCalls  int
	blockOnCh chan struct{}
}

func (f *fakeClient) SubscribeInvoice(ctx context.Context, hash lntypes.Hash,
	cb func(InvoiceUpdate, error)) error {

	f.mu.Lock()
	f.subCalls++
	f.mu.Unlock()

	if f.blockOnCh != nil {
		<-f.blockOnCh
	}

	cb(InvoiceUpdate{Hash: hash, State: InvoiceAccepted}, nil)

	return nil
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.subCalls
}

func TestSubscriptionManagerDedupesConcurrentSubscribes(t *testing.T) {
	client := &fakeClient{blockOnCh: make(chan struct{})}
	mgr := NewSubscriptionManager(client)

	var hash lntypes.Hash
	hash[0] = 1

	updates := make(chan InvoiceUpdate, 2)
	cb := func(u InvoiceUpdate, err error) {
		require.NoError(t, err)
		updates <- u
	}

	require.NoError(t, mgr.Subscribe(context.Background(), hash, cb))

	// A second Subscribe call for the same hash before the first has
	// returned must not open a second stream.
	require.NoError(t, mgr.Subscribe(context.Background(), hash, cb))

	require.Eventually(t, func() bool {
		return client.calls() == 1
	}, time.Second, time.Millisecond)

	close(client.blockOnCh)

	select {
	case u := <-updates:
		require.Equal(t, hash, u.Hash)
		require.Equal(t, InvoiceAccepted, u.State)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the update")
	}

	require.Equal(t, 1, client.calls())
}

func TestSubscriptionManagerResubscribesAfterCompletion(t *testing.T) {
	client := &fakeClient{}
	mgr := NewSubscriptionManager(client)

	var hash lntypes.Hash
	hash[1] = 2

	first := make(chan InvoiceUpdate, 1)
	require.NoError(t, mgr.Subscribe(
		context.Background(), hash,
		func(u InvoiceUpdate, _ error) { first <- u },
	))

	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("first subscription never fired")
	}

	// Once the first subscription's goroutine has cleaned itself up, a
	// fresh Subscribe call for the same hash opens a new stream.
	require.Eventually(t, func() bool {
		mgr.mu.Lock()
		_, subscribed := mgr.subscribers[hash]
		mgr.mu.Unlock()

		return client.calls() == 1 && !subscribed
	}, time.Second, time.Millisecond)

	second := make(chan InvoiceUpdate, 1)
	require.NoError(t, mgr.Subscribe(
		context.Background(), hash,
		func(u InvoiceUpdate, _ error) { second <- u },
	))

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("second subscription never fired")
	}

	require.Equal(t, 2, client.calls())
}

// erroringClient always fails to subscribe, exercising the manager's
// error-relay path.
type erroringClient struct {
	Client
}

func (e *erroringClient) SubscribeInvoice(context.Context, lntypes.Hash,
	func(InvoiceUpdate, error)) error {

	return errors.New("node unreachable")
}

func TestSubscriptionManagerRelaysSubscribeError(t *testing.T) {
	mgr := NewSubscriptionManager(&erroringClient{})

	var hash lntypes.Hash
	hash[2] = 3

	errs := make(chan error, 1)
	require.NoError(t, mgr.Subscribe(
		context.Background(), hash,
		func(_ InvoiceUpdate, err error) { errs <- err },
	))

	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscribe error was never relayed")
	}
}
