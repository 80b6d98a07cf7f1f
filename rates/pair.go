// Package rates holds the Pair type the state machines consult when
// deciding whether an incoming swap request falls within accepted bounds.
// Sourcing exchange rates and republishing them is an external concern; this
// package only carries the resolved policy a pair was configured with.
package rates

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// Pair identifies a base/quote currency combination a swap can be created
// for, e.g. BTC/BTC (onchain to Lightning) or BTC/L-BTC (chain swap).
type Pair struct {
	Base  string
	Quote string
}

func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.Base, p.Quote)
}

// Limits are the amount and expiry bounds a swap request must fall within
// for a given Pair, mirroring the terms the teacher's swap server quotes to
// a client before a swap is created.
type Limits struct {
	// MinAmount is the smallest onchain amount accepted for this pair.
	MinAmount btcutil.Amount

	// MaxAmount is the largest onchain amount accepted for this pair.
	MaxAmount btcutil.Amount

	// MaxZeroConfAmount caps how large a lockup may be while still
	// qualifying for zero-conf confirmation (0 disables zero-conf
	// entirely for the pair).
	MaxZeroConfAmount btcutil.Amount

	// MinCltvDelta is the minimum acceptable expiry delta, in blocks,
	// between swap creation and the onchain HTLC's timeout height.
	MinCltvDelta int32

	// MaxCltvDelta is the largest expiry delta this pair will accept.
	MaxCltvDelta int32
}

// Quote is the fee estimate returned to a client before it commits to a
// swap, matching the shape of the teacher's LoopOutQuote/LoopInQuote pair
// but unified across all three swap types since the fee components
// (service fee, miner fee, optional prepay) are the same regardless of
// direction.
type Quote struct {
	// ServiceFee is what the service charges for facilitating the swap.
	ServiceFee btcutil.Amount

	// MinerFee is the estimated onchain fee for the HTLC's claim or
	// refund transaction.
	MinerFee btcutil.Amount

	// PrepayAmount is the portion of ServiceFee requested upfront via a
	// non-refundable hold invoice, zero when the pair doesn't use one.
	PrepayAmount btcutil.Amount
}

// Total returns the client's full expected cost for a swap quoted at q.
func (q Quote) Total() btcutil.Amount {
	return q.ServiceFee + q.MinerFee + q.PrepayAmount
}

// Policy resolves Limits and Quotes for the pairs a deployment supports. A
// production implementation would refresh Quote from a live rate feed;
// rate polling itself is out of scope here, so Policy is populated once at
// startup from configuration and held fixed.
type Policy struct {
	limits map[Pair]Limits
	quotes map[Pair]Quote
}

// NewPolicy builds a Policy from a fixed set of per-pair limits and quotes.
func NewPolicy(limits map[Pair]Limits, quotes map[Pair]Quote) *Policy {
	return &Policy{limits: limits, quotes: quotes}
}

// Limits returns the accepted bounds for pair, and false if the pair isn't
// configured.
func (p *Policy) Limits(pair Pair) (Limits, bool) {
	l, ok := p.limits[pair]
	return l, ok
}

// Quote returns the current fee quote for pair, and false if the pair isn't
// configured.
func (p *Policy) Quote(pair Pair) (Quote, bool) {
	q, ok := p.quotes[pair]
	return q, ok
}

// CheckAmount reports whether amount falls within pair's configured bounds.
func (l Limits) CheckAmount(amount btcutil.Amount) error {
	if amount < l.MinAmount {
		return fmt.Errorf("amount %v below minimum %v", amount, l.MinAmount)
	}
	if amount > l.MaxAmount {
		return fmt.Errorf("amount %v above maximum %v", amount, l.MaxAmount)
	}

	return nil
}

// CheckCltvDelta reports whether delta falls within pair's configured
// expiry bounds.
func (l Limits) CheckCltvDelta(delta int32) error {
	if delta < l.MinCltvDelta {
		return fmt.Errorf(
			"cltv delta %d below minimum %d", delta, l.MinCltvDelta,
		)
	}
	if delta > l.MaxCltvDelta {
		return fmt.Errorf(
			"cltv delta %d above maximum %d", delta, l.MaxCltvDelta,
		)
	}

	return nil
}

// AllowsZeroConf reports whether amount qualifies for zero-conf
// confirmation under l.
func (l Limits) AllowsZeroConf(amount btcutil.Amount) bool {
	return l.MaxZeroConfAmount > 0 && amount <= l.MaxZeroConfAmount
}
