package swapserverrpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// fakeServer implements SwapServerServer with canned responses, enough to
// exercise the hand-rolled unary and streaming plumbing end to end over a
// real (in-memory) gRPC connection.
type fakeServer struct {
	updates []*SwapUpdate
}

func (f *fakeServer) CreateSubmarineSwap(context.Context,
	*CreateSubmarineSwapRequest) (*SwapInfoResponse, error) {

	return &SwapInfoResponse{Swap: &SwapInfo{ID: "abc123"}}, nil
}

func (f *fakeServer) CreateReverseSwap(context.Context,
	*CreateReverseSwapRequest) (*CreateReverseSwapResponse, error) {

	return &CreateReverseSwapResponse{
		Swap:    &SwapInfo{ID: "def456"},
		Invoice: "lnbc1...",
	}, nil
}

func (f *fakeServer) CreateChainSwap(context.Context,
	*CreateChainSwapRequest) (*CreateChainSwapResponse, error) {

	return &CreateChainSwapResponse{
		Swap:             &SwapInfo{ID: "ghi789"},
		ToReceivedAmount: 99_000,
	}, nil
}

func (f *fakeServer) SwapInfo(_ context.Context,
	req *SwapInfoRequest) (*SwapInfoResponse, error) {

	return &SwapInfoResponse{Swap: &SwapInfo{Hash: req.Hash}}, nil
}

func (f *fakeServer) ListSwaps(context.Context,
	*ListSwapsRequest) (*ListSwapsResponse, error) {

	return &ListSwapsResponse{Swaps: []*SwapInfo{{ID: "abc123"}}}, nil
}

func (f *fakeServer) Pair(_ context.Context,
	req *PairRequest) (*PairResponse, error) {

	return &PairResponse{Pair: req.Pair, MinAmount: 10_000, MaxAmount: 1_000_000}, nil
}

func (f *fakeServer) GetInfo(context.Context,
	*GetInfoRequest) (*GetInfoResponse, error) {

	return &GetInfoResponse{Version: "test", PendingSwaps: int32(len(f.updates))}, nil
}

func (f *fakeServer) SignCooperativeClaim(_ context.Context,
	req *SignCooperativeClaimRequest) (*PartialSignatureResponse, error) {

	return &PartialSignatureResponse{
		PubNonce: []byte("claim-nonce"),
		Sig:      req.Preimage,
	}, nil
}

func (f *fakeServer) SignCooperativeRefund(_ context.Context,
	req *SignCooperativeRefundRequest) (*PartialSignatureResponse, error) {

	return &PartialSignatureResponse{
		PubNonce: []byte("refund-nonce"),
		Sig:      req.TheirPubkey,
	}, nil
}

func (f *fakeServer) Monitor(_ *MonitorRequest, stream SwapServer_MonitorServer) error {
	for _, u := range f.updates {
		if err := stream.Send(u); err != nil {
			return err
		}
	}

	return nil
}

func dialFakeServer(t *testing.T, srv SwapServerServer) SwapServerClient {
	lis := bufconn.Listen(1024 * 1024)

	s := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	RegisterSwapServerServer(s, srv)

	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewSwapServerClient(conn)
}

func TestSwapServerClientUnaryRoundTrip(t *testing.T) {
	client := dialFakeServer(t, &fakeServer{})

	resp, err := client.CreateSubmarineSwap(
		context.Background(), &CreateSubmarineSwapRequest{Pair: "BTC/BTC"},
	)
	require.NoError(t, err)
	require.Equal(t, "abc123", resp.Swap.ID)

	info, err := client.SwapInfo(
		context.Background(), &SwapInfoRequest{Hash: "deadbeef"},
	)
	require.NoError(t, err)
	require.Equal(t, "deadbeef", info.Swap.Hash)

	pair, err := client.Pair(context.Background(), &PairRequest{Pair: "BTC/BTC"})
	require.NoError(t, err)
	require.Equal(t, int64(10_000), pair.MinAmount)

	claim, err := client.SignCooperativeClaim(
		context.Background(), &SignCooperativeClaimRequest{
			Hash: "deadbeef", Preimage: []byte("preimage"),
		},
	)
	require.NoError(t, err)
	require.Equal(t, []byte("preimage"), claim.Sig)

	refund, err := client.SignCooperativeRefund(
		context.Background(), &SignCooperativeRefundRequest{
			Hash: "deadbeef", TheirPubkey: []byte("pubkey"),
		},
	)
	require.NoError(t, err)
	require.Equal(t, []byte("pubkey"), refund.Sig)
}

func TestSwapServerClientMonitorStream(t *testing.T) {
	srv := &fakeServer{
		updates: []*SwapUpdate{
			{Swap: &SwapInfo{ID: "abc123", Status: "invoice.set"}},
			{Swap: &SwapInfo{ID: "abc123", Status: "transaction.confirmed"}},
		},
	}
	client := dialFakeServer(t, srv)

	stream, err := client.Monitor(context.Background(), &MonitorRequest{})
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "invoice.set", first.Swap.Status)

	second, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "transaction.confirmed", second.Swap.Status)
}
