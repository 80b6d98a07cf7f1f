package lightning

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/lntypes"
)

// SubscriptionManager deduplicates hold-invoice subscriptions the way
// utils.SubscribeInvoiceManager does: a second SubscribeInvoice call for a
// hash already being watched is a no-op rather than opening a second stream
// against the node.
type SubscriptionManager struct {
	client Client

	mu          sync.Mutex
	subscribers map[lntypes.Hash]struct{}
}

// NewSubscriptionManager constructs a SubscriptionManager bound to client.
func NewSubscriptionManager(client Client) *SubscriptionManager {
	return &SubscriptionManager{
		client:      client,
		subscribers: make(map[lntypes.Hash]struct{}),
	}
}

// Subscribe starts relaying invoice updates for hash to cb, or does nothing
// if hash is already subscribed.
func (m *SubscriptionManager) Subscribe(ctx context.Context,
	hash lntypes.Hash, cb func(InvoiceUpdate, error)) error {

	m.mu.Lock()
	if _, ok := m.subscribers[hash]; ok {
		m.mu.Unlock()
		return nil
	}
	m.subscribers[hash] = struct{}{}
	m.mu.Unlock()

	log.Debugf("Subscribing to invoice %v", hash)

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.subscribers, hash)
			m.mu.Unlock()
		}()

		err := m.client.SubscribeInvoice(ctx, hash, cb)
		if err != nil {
			cb(InvoiceUpdate{}, err)
		}
	}()

	return nil
}
