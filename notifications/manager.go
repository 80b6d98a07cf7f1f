package notifications

import (
	"sync"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/queue"

	"github.com/boltz-exchange/swapd/swapdb"
)

// Update is a single status transition delivered to a subscriber. It
// carries the full swap record rather than just the new status so a
// WebSocket subscriber never has to make a second round trip to the store
// to render an update.
type Update struct {
	Status swapdb.Status
	Swap   *swapdb.Swap
}

// Manager is the Event Bus (C9): every state machine's notify callback
// feeds it status transitions, and it fans each one out to every
// subscriber interested in that swap, plus anyone subscribed to the global
// feed. It generalises the teacher's notifications/manager.go, which only
// ever fanned out one server-pushed notification type
// (ServerReservationNotification) to a single flat subscriber list, into a
// per-swap subscriber map keyed by hash plus this repo's unified Status
// enum.
type Manager struct {
	mu         sync.Mutex
	perSwap    map[lntypes.Hash][]*subscriber
	global     []*subscriber
	lastByHash map[lntypes.Hash]Update
}

type subscriber struct {
	queue *queue.ConcurrentQueue
}

// NewManager constructs an empty Event Bus.
func NewManager() *Manager {
	return &Manager{
		perSwap:    make(map[lntypes.Hash][]*subscriber),
		lastByHash: make(map[lntypes.Hash]Update),
	}
}

// Notify is the callback every submarine/reverse/chainswap Manager's
// Actions is constructed with; it fans a status transition out to every
// interested subscriber and remembers it as the hash's latest update for
// subscribers that connect afterward.
func (m *Manager) Notify(status swapdb.Status, s *swapdb.Swap) {
	update := Update{Status: status, Swap: s}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastByHash[s.Hash] = update

	for _, sub := range m.perSwap[s.Hash] {
		sub.push(update)
	}
	for _, sub := range m.global {
		sub.push(update)
	}
}

// Subscribe returns a channel of updates for a single swap and a cancel
// func to unsubscribe. If the swap already has a recorded status, that
// latest update is replayed immediately so a subscriber connecting
// mid-swap doesn't have to wait for the next transition to learn where
// things stand — the teacher's subscriber only ever saw notifications that
// occurred after it connected, which is fine for a live reservation feed
// but wrong for a swap's lifecycle, since a client may well connect after
// the swap already moved past its first few states.
func (m *Manager) Subscribe(hash lntypes.Hash) (<-chan interface{}, func()) {
	sub := newSubscriber()

	m.mu.Lock()
	m.perSwap[hash] = append(m.perSwap[hash], sub)
	if last, ok := m.lastByHash[hash]; ok {
		sub.push(last)
	}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		subs := m.perSwap[hash]
		for i, s := range subs {
			if s == sub {
				m.perSwap[hash] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		sub.queue.Stop()
	}

	return sub.queue.ChanOut(), cancel
}

// SubscribeAll returns a channel of every swap's updates, used by an
// operator-facing feed rather than a per-swap client callback.
func (m *Manager) SubscribeAll() (<-chan interface{}, func()) {
	sub := newSubscriber()

	m.mu.Lock()
	m.global = append(m.global, sub)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		for i, s := range m.global {
			if s == sub {
				m.global = append(m.global[:i], m.global[i+1:]...)
				break
			}
		}
		sub.queue.Stop()
	}

	return sub.queue.ChanOut(), cancel
}

func newSubscriber() *subscriber {
	q := queue.NewConcurrentQueue(64)
	q.Start()

	return &subscriber{queue: q}
}

// push is best-effort against a slow subscriber: ConcurrentQueue buffers
// internally, so a subscriber that falls behind applies backpressure to
// its own queue rather than to Notify's caller.
func (s *subscriber) push(update Update) {
	s.queue.ChanIn() <- update
}
