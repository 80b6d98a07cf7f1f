package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/boltz-exchange/swapd/chainswap"
	"github.com/boltz-exchange/swapd/hints"
	"github.com/boltz-exchange/swapd/notifications"
	"github.com/boltz-exchange/swapd/rates"
	"github.com/boltz-exchange/swapd/reverse"
	"github.com/boltz-exchange/swapd/submarine"
	"github.com/boltz-exchange/swapd/swap"
	"github.com/boltz-exchange/swapd/swapdb"
	"github.com/boltz-exchange/swapd/swapserverrpc"
)

// parsePair splits the wire "Base/Quote" pair identifier rates.Pair.String
// produces back into its two legs.
func parsePair(s string) (rates.Pair, error) {
	base, quote, ok := strings.Cut(s, "/")
	if !ok {
		return rates.Pair{}, fmt.Errorf("malformed pair %q", s)
	}

	return rates.Pair{Base: base, Quote: quote}, nil
}

// rpcServer adapts the daemon's swap managers to the swapserverrpc.SwapServerServer
// interface swapcli dials.
type rpcServer struct {
	d *daemon
}

func newRPCServer(d *daemon) *rpcServer {
	return &rpcServer{d: d}
}

// swapInfo projects s into its API representation, filling in the address
// the counterparty pays their onchain leg to. The address is derived fresh
// from the swap's stored keys rather than persisted, since it's fully
// determined by them; a lookup failure only drops the address field rather
// than failing the whole request, so callers still see status and history
// for a swap whose onchain currency parameters have gone missing.
func (r *rpcServer) swapInfo(s *swapdb.Swap) *swapserverrpc.SwapInfo {
	info := &swapserverrpc.SwapInfo{
		ID:            s.ID,
		Hash:          s.Hash.String(),
		Type:          swapserverrpc.SwapType(s.Type),
		Pair:          s.Pair,
		Status:        s.Status.String(),
		OnchainAmount: int64(s.OnchainAmount),
	}

	switch s.Type {
	case swap.Submarine:
		if mgr, ok := r.d.submarineByPair[s.Pair]; ok {
			if addr, err := mgr.LockupAddress(s); err == nil {
				info.LockupAddress = addr
				info.LockupBip21 = hints.BuildBIP21(
					addr, s.OnchainAmount, s.ID,
				)
			}
		}
	case swap.Chain:
		if mgr, ok := r.d.chainswapByPair[s.Pair]; ok {
			if addr, err := mgr.FromLockupAddress(s); err == nil {
				info.LockupAddress = addr
				info.LockupBip21 = hints.BuildBIP21(
					addr, s.OnchainAmount, s.ID,
				)
			}
		}
	}

	return info
}

func (r *rpcServer) CreateSubmarineSwap(ctx context.Context,
	req *swapserverrpc.CreateSubmarineSwapRequest) (
	*swapserverrpc.SwapInfoResponse, error) {

	mgr, ok := r.d.submarineByPair[req.Pair]
	if !ok {
		return nil, fmt.Errorf("no submarine manager for pair %s", req.Pair)
	}

	var refundPubkey [33]byte
	copy(refundPubkey[:], req.RefundPubkey)

	s, err := mgr.CreateSwap(ctx, &submarine.CreateSwapRequest{
		Invoice:       req.Invoice,
		RefundPubkey:  refundPubkey,
		CltvExpiry:    req.CltvExpiry,
		OnchainAmount: btcutil.Amount(req.OnchainAmount),
	})
	if err != nil {
		return nil, err
	}

	return &swapserverrpc.SwapInfoResponse{Swap: r.swapInfo(s)}, nil
}

func (r *rpcServer) CreateReverseSwap(ctx context.Context,
	req *swapserverrpc.CreateReverseSwapRequest) (
	*swapserverrpc.CreateReverseSwapResponse, error) {

	mgr, ok := r.d.reverseByPair[req.Pair]
	if !ok {
		return nil, fmt.Errorf("no reverse manager for pair %s", req.Pair)
	}

	var claimPubkey [33]byte
	copy(claimPubkey[:], req.ClaimPubkey)

	preimageHash, err := lntypes.MakeHash(req.PreimageHash)
	if err != nil {
		return nil, fmt.Errorf("parsing preimage hash: %w", err)
	}

	result, err := mgr.CreateSwap(ctx, &reverse.CreateSwapRequest{
		ClaimPubkey:     claimPubkey,
		PreimageHash:    preimageHash,
		OnchainAmount:   btcutil.Amount(req.OnchainAmount),
		CltvExpiry:      req.CltvExpiry,
		DescriptionHash: req.DescriptionHash,
	})
	if err != nil {
		return nil, err
	}

	return &swapserverrpc.CreateReverseSwapResponse{
		Swap:           r.swapInfo(result.Swap),
		Invoice:        result.Invoice,
		ReceivedAmount: int64(result.ReceivedAmount),
	}, nil
}

func (r *rpcServer) CreateChainSwap(ctx context.Context,
	req *swapserverrpc.CreateChainSwapRequest) (
	*swapserverrpc.CreateChainSwapResponse, error) {

	mgr, ok := r.d.chainswapByPair[req.Pair]
	if !ok {
		return nil, fmt.Errorf("no chain swap manager for pair %s", req.Pair)
	}

	var fromRefund, toClaim [33]byte
	copy(fromRefund[:], req.FromRefundPubkey)
	copy(toClaim[:], req.ToClaimPubkey)

	result, err := mgr.CreateSwap(ctx, &chainswap.CreateSwapRequest{
		FromRefundPubkey: fromRefund,
		ToClaimPubkey:    toClaim,
		FromCltvExpiry:   req.FromCltvExpiry,
		ToCltvExpiry:     req.ToCltvExpiry,
		FromAmount:       btcutil.Amount(req.FromAmount),
		ToAmount:         btcutil.Amount(req.ToAmount),
	})
	if err != nil {
		return nil, err
	}

	return &swapserverrpc.CreateChainSwapResponse{
		Swap:             r.swapInfo(result.Swap),
		ToReceivedAmount: int64(result.ToReceivedAmount),
	}, nil
}

func (r *rpcServer) SwapInfo(ctx context.Context,
	req *swapserverrpc.SwapInfoRequest) (*swapserverrpc.SwapInfoResponse, error) {

	hash, err := lntypes.MakeHashFromStr(req.Hash)
	if err != nil {
		return nil, fmt.Errorf("parsing hash: %w", err)
	}

	s, err := r.d.store.FetchSwap(ctx, hash)
	if err != nil {
		return nil, err
	}

	return &swapserverrpc.SwapInfoResponse{Swap: r.swapInfo(s)}, nil
}

func (r *rpcServer) ListSwaps(ctx context.Context,
	req *swapserverrpc.ListSwapsRequest) (*swapserverrpc.ListSwapsResponse, error) {

	swaps, err := r.d.store.FetchSwaps(ctx)
	if err != nil {
		return nil, err
	}

	resp := &swapserverrpc.ListSwapsResponse{}
	for _, s := range swaps {
		if req.Pair != "" && s.Pair != req.Pair {
			continue
		}
		resp.Swaps = append(resp.Swaps, r.swapInfo(s))
	}

	return resp, nil
}

func (r *rpcServer) Pair(_ context.Context,
	req *swapserverrpc.PairRequest) (*swapserverrpc.PairResponse, error) {

	pair, err := parsePair(req.Pair)
	if err != nil {
		return nil, err
	}

	limits, ok := r.d.policy.Limits(pair)
	if !ok {
		return nil, fmt.Errorf("no policy configured for pair %s", req.Pair)
	}

	var feePercentage int64
	if quote, ok := r.d.policy.Quote(pair); ok && limits.MaxAmount > 0 {
		feePercentage = int64(quote.ServiceFee) * 100 / int64(limits.MaxAmount)
	}

	return &swapserverrpc.PairResponse{
		Pair:          req.Pair,
		MinAmount:     int64(limits.MinAmount),
		MaxAmount:     int64(limits.MaxAmount),
		FeePercentage: feePercentage,
	}, nil
}

func (r *rpcServer) GetInfo(ctx context.Context,
	_ *swapserverrpc.GetInfoRequest) (*swapserverrpc.GetInfoResponse, error) {

	heights := make(map[string]int32, len(r.d.listeners))
	for _, l := range r.d.listeners {
		height, err := l.Client().BestBlockHeight(ctx)
		if err != nil {
			return nil, err
		}
		heights[l.Symbol()] = height
	}

	swaps, err := r.d.store.FetchSwaps(ctx)
	if err != nil {
		return nil, err
	}

	pending := int32(0)
	for _, s := range swaps {
		switch s.Status.Type() {
		case swapdb.StatusTypePending:
			pending++
		}
	}

	return &swapserverrpc.GetInfoResponse{
		BlockHeights: heights,
		PendingSwaps: pending,
	}, nil
}

func parseCoopSigArgs(theirPubkeyRaw, theirNonceRaw, sigHashRaw []byte) (
	*btcec.PublicKey, [66]byte, [32]byte, error) {

	var theirNonce [66]byte
	var sigHash [32]byte

	theirPubkey, err := btcec.ParsePubKey(theirPubkeyRaw)
	if err != nil {
		return nil, theirNonce, sigHash, fmt.Errorf(
			"parsing counterparty pubkey: %w", err)
	}

	if len(theirNonceRaw) != len(theirNonce) {
		return nil, theirNonce, sigHash, fmt.Errorf(
			"nonce must be %d bytes, got %d", len(theirNonce),
			len(theirNonceRaw))
	}
	copy(theirNonce[:], theirNonceRaw)

	if len(sigHashRaw) != len(sigHash) {
		return nil, theirNonce, sigHash, fmt.Errorf(
			"sighash must be %d bytes, got %d", len(sigHash),
			len(sigHashRaw))
	}
	copy(sigHash[:], sigHashRaw)

	return theirPubkey, theirNonce, sigHash, nil
}

func (r *rpcServer) SignCooperativeClaim(ctx context.Context,
	req *swapserverrpc.SignCooperativeClaimRequest) (
	*swapserverrpc.PartialSignatureResponse, error) {

	hash, err := lntypes.MakeHashFromStr(req.Hash)
	if err != nil {
		return nil, fmt.Errorf("parsing hash: %w", err)
	}

	s, err := r.d.store.FetchSwap(ctx, hash)
	if err != nil {
		return nil, err
	}

	mgr, ok := r.d.reverseByPair[s.Pair]
	if !ok {
		return nil, fmt.Errorf("no reverse manager for pair %s", s.Pair)
	}

	theirPubkey, theirNonce, sigHash, err := parseCoopSigArgs(
		req.TheirPubkey, req.TheirNonce, req.SigHash,
	)
	if err != nil {
		return nil, err
	}

	preimage, err := lntypes.MakePreimage(req.Preimage)
	if err != nil {
		return nil, fmt.Errorf("parsing preimage: %w", err)
	}

	partial, err := mgr.SignCooperativeClaim(
		ctx, hash, preimage, theirPubkey, theirNonce, sigHash,
	)
	if err != nil {
		return nil, err
	}

	return &swapserverrpc.PartialSignatureResponse{
		PubNonce: partial.PubNonce[:],
		Sig:      partial.Sig,
	}, nil
}

func (r *rpcServer) SignCooperativeRefund(ctx context.Context,
	req *swapserverrpc.SignCooperativeRefundRequest) (
	*swapserverrpc.PartialSignatureResponse, error) {

	hash, err := lntypes.MakeHashFromStr(req.Hash)
	if err != nil {
		return nil, fmt.Errorf("parsing hash: %w", err)
	}

	s, err := r.d.store.FetchSwap(ctx, hash)
	if err != nil {
		return nil, err
	}

	mgr, ok := r.d.submarineByPair[s.Pair]
	if !ok {
		return nil, fmt.Errorf("no submarine manager for pair %s", s.Pair)
	}

	theirPubkey, theirNonce, sigHash, err := parseCoopSigArgs(
		req.TheirPubkey, req.TheirNonce, req.SigHash,
	)
	if err != nil {
		return nil, err
	}

	partial, err := mgr.SignCooperativeRefund(
		ctx, hash, theirPubkey, theirNonce, sigHash,
	)
	if err != nil {
		return nil, err
	}

	return &swapserverrpc.PartialSignatureResponse{
		PubNonce: partial.PubNonce[:],
		Sig:      partial.Sig,
	}, nil
}

func (r *rpcServer) Monitor(req *swapserverrpc.MonitorRequest,
	stream swapserverrpc.SwapServer_MonitorServer) error {

	var (
		updates <-chan interface{}
		cancel  func()
	)

	if req.Hash != "" {
		hash, err := lntypes.MakeHashFromStr(req.Hash)
		if err != nil {
			return fmt.Errorf("parsing hash: %w", err)
		}
		updates, cancel = r.d.notifications.Subscribe(hash)
	} else {
		updates, cancel = r.d.notifications.SubscribeAll()
	}
	defer cancel()

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case raw, ok := <-updates:
			if !ok {
				return nil
			}
			update, ok := raw.(notifications.Update)
			if !ok {
				continue
			}
			if err := stream.Send(&swapserverrpc.SwapUpdate{
				Swap: r.swapInfo(update.Swap),
			}); err != nil {
				return err
			}
		}
	}
}
