package timeout

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/boltz-exchange/swapd/chain"
)

// pollInterval is how often the watcher re-checks every registered
// listener's block height against its pending expiries. A dedicated
// per-listener block-epoch subscription would notice a new block sooner,
// but polling keeps one Watcher able to track an arbitrary number of
// chain.Listeners (one per currency a ChainSwap touches) without opening a
// subscription per listener per swap.
const pollInterval = 10 * time.Second

// Watcher fires a registered callback once a swap's HTLC becomes
// refundable, either because the chain reached its CLTV expiry height or
// because a wall-clock deadline (e.g. a cooperative-claim grace period)
// elapsed. It generalises utils.ExpiryManager, which only ever tracked one
// chain's block height, to the multi-currency case a ChainSwap needs.
type Watcher struct {
	clock clock.Clock

	mu        sync.Mutex
	listeners map[string]*chain.Listener
	heights   map[[32]byte]heightExpiry
	deadlines map[[32]byte]deadlineExpiry

	quit chan struct{}
}

type heightExpiry struct {
	symbol string
	height int32
	fn     func()
}

type deadlineExpiry struct {
	at time.Time
	fn func()
}

// NewWatcher constructs a Watcher. Use the default clock in production;
// tests inject clock.NewTestClock for deterministic wall-clock expiries.
func NewWatcher(clk clock.Clock) *Watcher {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Watcher{
		clock:     clk,
		listeners: make(map[string]*chain.Listener),
		heights:   make(map[[32]byte]heightExpiry),
		deadlines: make(map[[32]byte]deadlineExpiry),
		quit:      make(chan struct{}),
	}
}

// AddListener registers a chain.Listener under its symbol so height
// expiries against that currency can be checked.
func (w *Watcher) AddListener(l *chain.Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.listeners[l.Symbol()] = l
}

// RegisterHeightExpiry arms a block-height expiry for a swap's HTLC on the
// given currency. fn fires from a dedicated goroutine the first poll tick
// after the listener's observed height reaches expiryHeight.
func (w *Watcher) RegisterHeightExpiry(hash [32]byte, symbol string,
	expiryHeight int32, fn func()) {

	w.mu.Lock()
	defer w.mu.Unlock()

	w.heights[hash] = heightExpiry{
		symbol: symbol,
		height: expiryHeight,
		fn:     fn,
	}
}

// RegisterDeadline arms a wall-clock expiry, used for windows that aren't
// tied to chain confirmation, e.g. a cooperative-signing grace period.
func (w *Watcher) RegisterDeadline(hash [32]byte, deadline time.Duration,
	fn func()) {

	w.mu.Lock()
	defer w.mu.Unlock()

	w.deadlines[hash] = deadlineExpiry{
		at: w.clock.Now().Add(deadline),
		fn: fn,
	}
}

// Cancel removes any pending height or wall-clock expiry for a swap, used
// once it reaches a terminal state through its normal claim path.
func (w *Watcher) Cancel(hash [32]byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.heights, hash)
	delete(w.deadlines, hash)
}

// Start runs the watcher's poll loop until Stop is called.
func (w *Watcher) Start() {
	t := ticker.New(pollInterval)
	t.Resume()

	go func() {
		defer t.Stop()

		for {
			select {
			case <-t.Ticks():
				w.checkHeights()
				w.checkDeadlines()

			case <-w.quit:
				return
			}
		}
	}()
}

// Stop halts the poll loop.
func (w *Watcher) Stop() {
	close(w.quit)
}

func (w *Watcher) checkHeights() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for hash, exp := range w.heights {
		l, ok := w.listeners[exp.symbol]
		if !ok {
			continue
		}

		if l.BlockHeight() < exp.height {
			continue
		}

		log.Debugf("swap %x: height expiry reached on %v at %d",
			hash, exp.symbol, exp.height)

		go exp.fn()
		delete(w.heights, hash)
	}
}

func (w *Watcher) checkDeadlines() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()

	for hash, exp := range w.deadlines {
		if now.Before(exp.at) {
			continue
		}

		log.Debugf("swap %x: wall-clock deadline reached", hash)

		go exp.fn()
		delete(w.deadlines, hash)
	}
}
