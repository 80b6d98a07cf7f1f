package swap

// Type indicates the direction and shape of a swap's HTLC arrangement.
type Type uint8

const (
	// Submarine is a swap where the counterparty locks up coins onchain
	// and we pay out a Lightning invoice against the same preimage hash.
	Submarine Type = iota

	// Reverse is a swap where the counterparty pays a Lightning invoice
	// and we lock up coins onchain for them to claim.
	Reverse

	// Chain is a swap between two chains, using one HTLC on each side of
	// the same preimage hash.
	Chain
)

func (t Type) String() string {
	switch t {
	case Submarine:
		return "Submarine"
	case Reverse:
		return "Reverse"
	case Chain:
		return "Chain"
	default:
		return "Unknown"
	}
}
