package hints

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"
)

// SyntheticHopHint builds the single-hop routing hint attached to a reverse
// swap's invoice, pointing at our own node with a synthetic
// short-channel-id since no real channel funds the payment.
func SyntheticHopHint(ourNodeID [33]byte, baseFeeMsat,
	feeRateMilliMsat uint32, cltvExpiryDelta uint16) ([]zpay32.HopHint, error) {

	nodeID, err := parsePubKey(ourNodeID)
	if err != nil {
		return nil, err
	}

	return []zpay32.HopHint{{
		NodeID:                    nodeID,
		ChannelID:                 SyntheticShortChanID(),
		FeeBaseMSat:               baseFeeMsat,
		FeeProportionalMillionths: feeRateMilliMsat,
		CLTVExpiryDelta:           cltvExpiryDelta,
	}}, nil
}

// DecodeInvoice decodes a BOLT11 payment request against params, returning
// the parsed invoice so the routing-hints engine and the state machines can
// inspect its amount, hash and expiry.
func DecodeInvoice(payReq string,
	params *chaincfg.Params) (*zpay32.Invoice, error) {

	return zpay32.Decode(payReq, params)
}
