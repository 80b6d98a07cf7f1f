// Package swapserverrpc holds the protobuf-ish request/response types
// shared by every caller that reaches into the daemon's swap managers: the
// gRPC surface swapcli talks to, and (per SPEC_FULL's HTTP/WebSocket
// collaborator boundary) whatever HTTP layer a deployment fronts it with.
// Types here carry both `json` tags for the HTTP case and plain exported
// fields for the JSON-over-gRPC codec in codec.go, so neither caller needs
// its own copy of the wire shapes.
package swapserverrpc

import (
	"google.golang.org/protobuf/types/known/timestamppb"
)

// SwapType mirrors swap.Type without importing the swap package, keeping
// this package's only dependency direction inward from cmd/swapd.
type SwapType uint8

const (
	SwapTypeSubmarine SwapType = iota
	SwapTypeReverse
	SwapTypeChain
)

// CreateSubmarineSwapRequest asks the daemon to create a new submarine
// swap: the counterparty is paying us an invoice in exchange for locking an
// onchain HTLC they can claim with the invoice's preimage.
type CreateSubmarineSwapRequest struct {
	Pair          string `json:"pair"`
	Invoice       string `json:"invoice"`
	RefundPubkey  []byte `json:"refundPubkey"`
	CltvExpiry    int32  `json:"cltvExpiry"`
	OnchainAmount int64  `json:"onchainAmount"`
}

// CreateReverseSwapRequest asks the daemon to create a new reverse swap: we
// pay the counterparty an invoice and they claim an onchain HTLC we lock in
// exchange, revealing the preimage we need to be paid. PreimageHash is
// chosen by the client — we never generate the preimage ourselves, since
// we're the party locking up the onchain HTLC and must never be able to
// claim it back. DescriptionHash, if supplied, replaces the invoice's plain
// memo with a BOLT11 hashed description and must be exactly 32 bytes.
type CreateReverseSwapRequest struct {
	Pair            string `json:"pair"`
	ClaimPubkey     []byte `json:"claimPubkey"`
	PreimageHash    []byte `json:"preimageHash"`
	CltvExpiry      int32  `json:"cltvExpiry"`
	OnchainAmount   int64  `json:"onchainAmount"`
	DescriptionHash []byte `json:"descriptionHash,omitempty"`
}

// CreateReverseSwapResponse carries the invoice the counterparty pays,
// alongside the created swap's summary. ReceivedAmount quotes what the
// counterparty will actually net once they pay their own miner fee to claim
// the onchain HTLC — always less than OnchainAmount.
type CreateReverseSwapResponse struct {
	Swap           *SwapInfo `json:"swap"`
	Invoice        string    `json:"invoice"`
	ReceivedAmount int64     `json:"receivedAmount"`
}

// CreateChainSwapRequest asks the daemon to create a new chain swap between
// two onchain currencies, bridged by a Lightning-less shared preimage.
type CreateChainSwapRequest struct {
	Pair             string `json:"pair"`
	FromRefundPubkey []byte `json:"fromRefundPubkey"`
	ToClaimPubkey    []byte `json:"toClaimPubkey"`
	FromCltvExpiry   int32  `json:"fromCltvExpiry"`
	ToCltvExpiry     int32  `json:"toCltvExpiry"`
	FromAmount       int64  `json:"fromAmount"`
	ToAmount         int64  `json:"toAmount"`
}

// CreateChainSwapResponse carries the created swap's summary alongside
// ToReceivedAmount, quoting what the counterparty will actually net on the
// "to" leg once they pay their own miner fee to claim it.
type CreateChainSwapResponse struct {
	Swap             *SwapInfo `json:"swap"`
	ToReceivedAmount int64     `json:"toReceivedAmount"`
}

// SwapInfo is the read-only projection of a swap record handed back over
// the API; it never carries key material or the preimage.
type SwapInfo struct {
	ID            string               `json:"id"`
	Hash          string               `json:"hash"`
	Type          SwapType             `json:"type"`
	Pair          string               `json:"pair"`
	Status        string               `json:"status"`
	OnchainAmount int64                `json:"onchainAmount"`
	LockupAddress string               `json:"lockupAddress,omitempty"`
	LockupBip21   string               `json:"lockupBip21,omitempty"`
	CreatedAt     *timestamppb.Timestamp `json:"createdAt"`
	UpdatedAt     *timestamppb.Timestamp `json:"updatedAt"`
}

// SwapInfoRequest asks for a single swap's current state by hash.
type SwapInfoRequest struct {
	Hash string `json:"hash"`
}

// SwapInfoResponse is the answer to a SwapInfoRequest.
type SwapInfoResponse struct {
	Swap *SwapInfo `json:"swap"`
}

// ListSwapsRequest optionally filters swaps returned by ListSwaps.
type ListSwapsRequest struct {
	Pair string `json:"pair,omitempty"`
}

// ListSwapsResponse is the answer to a ListSwapsRequest.
type ListSwapsResponse struct {
	Swaps []*SwapInfo `json:"swaps"`
}

// MonitorRequest opens a stream of every swap update, or a single swap's
// updates if Hash is set.
type MonitorRequest struct {
	Hash string `json:"hash,omitempty"`
}

// SwapUpdate is a single status transition delivered over the Monitor
// stream, the wire shape of notifications.Update.
type SwapUpdate struct {
	Swap *SwapInfo `json:"swap"`
}

// PairRequest asks for the swap terms and limits for a trading pair.
type PairRequest struct {
	Pair string `json:"pair"`
}

// PairResponse describes the fee and amount limits for a trading pair.
type PairResponse struct {
	Pair          string `json:"pair"`
	MinAmount     int64  `json:"minAmount"`
	MaxAmount     int64  `json:"maxAmount"`
	FeePercentage int64  `json:"feePercentage"`
}

// GetInfoRequest asks for the daemon's own status.
type GetInfoRequest struct{}

// GetInfoResponse reports the daemon's chain sync state per currency.
type GetInfoResponse struct {
	Version       string           `json:"version"`
	BlockHeights  map[string]int32 `json:"blockHeights"`
	PendingSwaps  int32            `json:"pendingSwaps"`
}

// SignCooperativeClaimRequest asks a reverse swap's server side to produce
// its Musig2 partial signature over a claim transaction the counterparty
// (the one holding the preimage) proposes, in place of a script-path spend
// that would reveal the preimage onchain. Preimage is required up front: a
// key-path spend carries no witness, so this call is the only place the
// preimage is ever surfaced to the daemon.
type SignCooperativeClaimRequest struct {
	Hash        string `json:"hash"`
	Preimage    []byte `json:"preimage"`
	TheirPubkey []byte `json:"theirPubkey"`
	TheirNonce  []byte `json:"theirNonce"`
	SigHash     []byte `json:"sigHash"`
}

// SignCooperativeRefundRequest asks a submarine swap's server side to
// produce its Musig2 partial signature over a refund transaction the
// counterparty proposes, letting them reclaim their lockup before its CLTV
// timeout without a script-path spend.
type SignCooperativeRefundRequest struct {
	Hash        string `json:"hash"`
	TheirPubkey []byte `json:"theirPubkey"`
	TheirNonce  []byte `json:"theirNonce"`
	SigHash     []byte `json:"sigHash"`
}

// PartialSignatureResponse carries the wire form of musig2.PartialSignature:
// our nonce for this round and our partial signature, which the caller
// combines with their own to finish the Schnorr signature.
type PartialSignatureResponse struct {
	PubNonce []byte `json:"pubNonce"`
	Sig      []byte `json:"sig"`
}
