package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/proofrec"
)

// #region service-desc
const serviceName = "psychescore.ledger.v1.LedgerService"

// Method names match the dispatcher operation names with a leading capital.
var methods = map[string]string{
	proofrec.OpComputeAndStoreScore: "ComputeAndStoreScore",
	proofrec.OpVerifyScore:          "VerifyScore",
	proofrec.OpUpdateModelHash:      "UpdateModelHash",
}

func fullMethod(op string) string { return "/" + serviceName + "/" + methods[op] }

// LedgerServiceServer is implemented by *GRPCServer.
type LedgerServiceServer interface {
	ComputeAndStoreScore(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	VerifyScore(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	UpdateModelHash(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// LedgerServiceClient calls an operation by its dispatcher name.
type LedgerServiceClient interface {
	Call(ctx context.Context, op string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type ledgerServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerServiceClient(cc grpc.ClientConnInterface) LedgerServiceClient {
	return &ledgerServiceClient{cc: cc}
}

func (c *ledgerServiceClient) Call(ctx context.Context, op string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(op), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterLedgerServiceServer registers srv on s.
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

type unaryFunc func(srv LedgerServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(op string, call unaryFunc) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(op)}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: methods[proofrec.OpComputeAndStoreScore],
			Handler: unaryHandler(proofrec.OpComputeAndStoreScore, func(srv LedgerServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.ComputeAndStoreScore(ctx, in)
			}),
		},
		{
			MethodName: methods[proofrec.OpVerifyScore],
			Handler: unaryHandler(proofrec.OpVerifyScore, func(srv LedgerServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.VerifyScore(ctx, in)
			}),
		},
		{
			MethodName: methods[proofrec.OpUpdateModelHash],
			Handler: unaryHandler(proofrec.OpUpdateModelHash, func(srv LedgerServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.UpdateModelHash(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "psychescore/ledger/v1/ledger.proto",
}

// #endregion service-desc
