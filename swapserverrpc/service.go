package swapserverrpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC service swapcli dials and cmd/swapd registers.
const ServiceName = "swapserverrpc.SwapServer"

const (
	methodCreateSubmarineSwap = "/" + ServiceName + "/CreateSubmarineSwap"
	methodCreateReverseSwap   = "/" + ServiceName + "/CreateReverseSwap"
	methodCreateChainSwap     = "/" + ServiceName + "/CreateChainSwap"
	methodSwapInfo            = "/" + ServiceName + "/SwapInfo"
	methodListSwaps           = "/" + ServiceName + "/ListSwaps"
	methodPair                = "/" + ServiceName + "/Pair"
	methodGetInfo             = "/" + ServiceName + "/GetInfo"
	methodMonitor             = "/" + ServiceName + "/Monitor"
	methodSignCooperativeClaim  = "/" + ServiceName + "/SignCooperativeClaim"
	methodSignCooperativeRefund = "/" + ServiceName + "/SignCooperativeRefund"
)

// SwapServerServer is the interface cmd/swapd implements to expose the
// swap managers over gRPC.
type SwapServerServer interface {
	CreateSubmarineSwap(context.Context, *CreateSubmarineSwapRequest) (*SwapInfoResponse, error)
	CreateReverseSwap(context.Context, *CreateReverseSwapRequest) (*CreateReverseSwapResponse, error)
	CreateChainSwap(context.Context, *CreateChainSwapRequest) (*CreateChainSwapResponse, error)
	SwapInfo(context.Context, *SwapInfoRequest) (*SwapInfoResponse, error)
	ListSwaps(context.Context, *ListSwapsRequest) (*ListSwapsResponse, error)
	Pair(context.Context, *PairRequest) (*PairResponse, error)
	GetInfo(context.Context, *GetInfoRequest) (*GetInfoResponse, error)
	Monitor(*MonitorRequest, SwapServer_MonitorServer) error
	SignCooperativeClaim(context.Context, *SignCooperativeClaimRequest) (*PartialSignatureResponse, error)
	SignCooperativeRefund(context.Context, *SignCooperativeRefundRequest) (*PartialSignatureResponse, error)
}

// SwapServer_MonitorServer is the server side of the Monitor stream.
type SwapServer_MonitorServer interface {
	Send(*SwapUpdate) error
	grpc.ServerStream
}

type swapServerMonitorServer struct {
	grpc.ServerStream
}

func (s *swapServerMonitorServer) Send(u *SwapUpdate) error {
	return s.ServerStream.SendMsg(u)
}

// RegisterSwapServerServer registers srv on s, the way a generated
// _grpc.pb.go file would.
func RegisterSwapServerServer(s grpc.ServiceRegistrar, srv SwapServerServer) {
	s.RegisterService(&serviceDesc, srv)
}

func unaryHandler(name string, newReq func() interface{},
	call func(SwapServerServer, context.Context, interface{}) (interface{}, error)) func(
	interface{}, context.Context, func(interface{}) error,
	grpc.UnaryServerInterceptor) (interface{}, error) {

	return func(srv interface{}, ctx context.Context,
		dec func(interface{}) error,
		interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

		req := newReq()
		if err := dec(req); err != nil {
			return nil, err
		}

		if interceptor == nil {
			return call(srv.(SwapServerServer), ctx, req)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + name,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SwapServerServer), ctx, req)
		}

		return interceptor(ctx, req, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SwapServerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateSubmarineSwap",
			Handler: unaryHandler("CreateSubmarineSwap",
				func() interface{} { return new(CreateSubmarineSwapRequest) },
				func(s SwapServerServer, ctx context.Context, req interface{}) (interface{}, error) {
					return s.CreateSubmarineSwap(ctx, req.(*CreateSubmarineSwapRequest))
				},
			),
		},
		{
			MethodName: "CreateReverseSwap",
			Handler: unaryHandler("CreateReverseSwap",
				func() interface{} { return new(CreateReverseSwapRequest) },
				func(s SwapServerServer, ctx context.Context, req interface{}) (interface{}, error) {
					return s.CreateReverseSwap(ctx, req.(*CreateReverseSwapRequest))
				},
			),
		},
		{
			MethodName: "CreateChainSwap",
			Handler: unaryHandler("CreateChainSwap",
				func() interface{} { return new(CreateChainSwapRequest) },
				func(s SwapServerServer, ctx context.Context, req interface{}) (interface{}, error) {
					return s.CreateChainSwap(ctx, req.(*CreateChainSwapRequest))
				},
			),
		},
		{
			MethodName: "SwapInfo",
			Handler: unaryHandler("SwapInfo",
				func() interface{} { return new(SwapInfoRequest) },
				func(s SwapServerServer, ctx context.Context, req interface{}) (interface{}, error) {
					return s.SwapInfo(ctx, req.(*SwapInfoRequest))
				},
			),
		},
		{
			MethodName: "ListSwaps",
			Handler: unaryHandler("ListSwaps",
				func() interface{} { return new(ListSwapsRequest) },
				func(s SwapServerServer, ctx context.Context, req interface{}) (interface{}, error) {
					return s.ListSwaps(ctx, req.(*ListSwapsRequest))
				},
			),
		},
		{
			MethodName: "Pair",
			Handler: unaryHandler("Pair",
				func() interface{} { return new(PairRequest) },
				func(s SwapServerServer, ctx context.Context, req interface{}) (interface{}, error) {
					return s.Pair(ctx, req.(*PairRequest))
				},
			),
		},
		{
			MethodName: "GetInfo",
			Handler: unaryHandler("GetInfo",
				func() interface{} { return new(GetInfoRequest) },
				func(s SwapServerServer, ctx context.Context, req interface{}) (interface{}, error) {
					return s.GetInfo(ctx, req.(*GetInfoRequest))
				},
			),
		},
		{
			MethodName: "SignCooperativeClaim",
			Handler: unaryHandler("SignCooperativeClaim",
				func() interface{} { return new(SignCooperativeClaimRequest) },
				func(s SwapServerServer, ctx context.Context, req interface{}) (interface{}, error) {
					return s.SignCooperativeClaim(ctx, req.(*SignCooperativeClaimRequest))
				},
			),
		},
		{
			MethodName: "SignCooperativeRefund",
			Handler: unaryHandler("SignCooperativeRefund",
				func() interface{} { return new(SignCooperativeRefundRequest) },
				func(s SwapServerServer, ctx context.Context, req interface{}) (interface{}, error) {
					return s.SignCooperativeRefund(ctx, req.(*SignCooperativeRefundRequest))
				},
			),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Monitor",
			ServerStreams: true,
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				req := new(MonitorRequest)
				if err := stream.RecvMsg(req); err != nil {
					return err
				}

				return srv.(SwapServerServer).Monitor(
					req, &swapServerMonitorServer{stream},
				)
			},
		},
	},
}

// SwapServerClient is the client side swapcli uses to talk to cmd/swapd.
type SwapServerClient interface {
	CreateSubmarineSwap(ctx context.Context, in *CreateSubmarineSwapRequest, opts ...grpc.CallOption) (*SwapInfoResponse, error)
	CreateReverseSwap(ctx context.Context, in *CreateReverseSwapRequest, opts ...grpc.CallOption) (*CreateReverseSwapResponse, error)
	CreateChainSwap(ctx context.Context, in *CreateChainSwapRequest, opts ...grpc.CallOption) (*CreateChainSwapResponse, error)
	SwapInfo(ctx context.Context, in *SwapInfoRequest, opts ...grpc.CallOption) (*SwapInfoResponse, error)
	ListSwaps(ctx context.Context, in *ListSwapsRequest, opts ...grpc.CallOption) (*ListSwapsResponse, error)
	Pair(ctx context.Context, in *PairRequest, opts ...grpc.CallOption) (*PairResponse, error)
	GetInfo(ctx context.Context, in *GetInfoRequest, opts ...grpc.CallOption) (*GetInfoResponse, error)
	Monitor(ctx context.Context, in *MonitorRequest, opts ...grpc.CallOption) (SwapServer_MonitorClient, error)
	SignCooperativeClaim(ctx context.Context, in *SignCooperativeClaimRequest, opts ...grpc.CallOption) (*PartialSignatureResponse, error)
	SignCooperativeRefund(ctx context.Context, in *SignCooperativeRefundRequest, opts ...grpc.CallOption) (*PartialSignatureResponse, error)
}

type swapServerClient struct {
	cc grpc.ClientConnInterface
}

// NewSwapServerClient wraps an existing connection, the way generated
// client constructors do.
func NewSwapServerClient(cc grpc.ClientConnInterface) SwapServerClient {
	return &swapServerClient{cc}
}

func (c *swapServerClient) CreateSubmarineSwap(ctx context.Context,
	in *CreateSubmarineSwapRequest, opts ...grpc.CallOption) (*SwapInfoResponse, error) {

	out := new(SwapInfoResponse)
	if err := c.cc.Invoke(ctx, methodCreateSubmarineSwap, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *swapServerClient) CreateReverseSwap(ctx context.Context,
	in *CreateReverseSwapRequest, opts ...grpc.CallOption) (*CreateReverseSwapResponse, error) {

	out := new(CreateReverseSwapResponse)
	if err := c.cc.Invoke(ctx, methodCreateReverseSwap, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *swapServerClient) CreateChainSwap(ctx context.Context,
	in *CreateChainSwapRequest, opts ...grpc.CallOption) (*CreateChainSwapResponse, error) {

	out := new(CreateChainSwapResponse)
	if err := c.cc.Invoke(ctx, methodCreateChainSwap, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *swapServerClient) SwapInfo(ctx context.Context,
	in *SwapInfoRequest, opts ...grpc.CallOption) (*SwapInfoResponse, error) {

	out := new(SwapInfoResponse)
	if err := c.cc.Invoke(ctx, methodSwapInfo, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *swapServerClient) ListSwaps(ctx context.Context,
	in *ListSwapsRequest, opts ...grpc.CallOption) (*ListSwapsResponse, error) {

	out := new(ListSwapsResponse)
	if err := c.cc.Invoke(ctx, methodListSwaps, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *swapServerClient) Pair(ctx context.Context,
	in *PairRequest, opts ...grpc.CallOption) (*PairResponse, error) {

	out := new(PairResponse)
	if err := c.cc.Invoke(ctx, methodPair, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *swapServerClient) GetInfo(ctx context.Context,
	in *GetInfoRequest, opts ...grpc.CallOption) (*GetInfoResponse, error) {

	out := new(GetInfoResponse)
	if err := c.cc.Invoke(ctx, methodGetInfo, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *swapServerClient) SignCooperativeClaim(ctx context.Context,
	in *SignCooperativeClaimRequest, opts ...grpc.CallOption) (*PartialSignatureResponse, error) {

	out := new(PartialSignatureResponse)
	if err := c.cc.Invoke(ctx, methodSignCooperativeClaim, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *swapServerClient) SignCooperativeRefund(ctx context.Context,
	in *SignCooperativeRefundRequest, opts ...grpc.CallOption) (*PartialSignatureResponse, error) {

	out := new(PartialSignatureResponse)
	if err := c.cc.Invoke(ctx, methodSignCooperativeRefund, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// SwapServer_MonitorClient is the client side of the Monitor stream.
type SwapServer_MonitorClient interface {
	Recv() (*SwapUpdate, error)
	grpc.ClientStream
}

type swapServerMonitorClient struct {
	grpc.ClientStream
}

func (c *swapServerClient) Monitor(ctx context.Context, in *MonitorRequest,
	opts ...grpc.CallOption) (SwapServer_MonitorClient, error) {

	stream, err := c.cc.NewStream(
		ctx, &serviceDesc.Streams[0], methodMonitor, opts...,
	)
	if err != nil {
		return nil, err
	}

	x := &swapServerMonitorClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}

	return x, nil
}

func (x *swapServerMonitorClient) Recv() (*SwapUpdate, error) {
	m := new(SwapUpdate)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}

	return m, nil
}
