package prover

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc
const (
	serviceName         = "psychescore.prover.v1.ProverService"
	generateProofMethod = "/" + serviceName + "/GenerateProof"
	verifyProofMethod   = "/" + serviceName + "/VerifyProof"
)

// ProverServiceClient is the client side of the proving backend.
type ProverServiceClient interface {
	GenerateProof(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	VerifyProof(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type proverServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewProverServiceClient binds the service to a connection.
func NewProverServiceClient(cc grpc.ClientConnInterface) ProverServiceClient {
	return &proverServiceClient{cc: cc}
}

func (c *proverServiceClient) GenerateProof(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, generateProofMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *proverServiceClient) VerifyProof(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, verifyProofMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ProverServiceServer is implemented by proving backends. The Go side only
// uses it for in-process fakes.
type ProverServiceServer interface {
	GenerateProof(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	VerifyProof(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterProverServiceServer registers srv on s.
func RegisterProverServiceServer(s grpc.ServiceRegistrar, srv ProverServiceServer) {
	s.RegisterService(&proverServiceDesc, srv)
}

type unaryCall func(srv ProverServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ProverServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ProverServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var proverServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ProverServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GenerateProof",
			Handler: unaryHandler(generateProofMethod, func(srv ProverServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.GenerateProof(ctx, in)
			}),
		},
		{
			MethodName: "VerifyProof",
			Handler: unaryHandler(verifyProofMethod, func(srv ProverServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.VerifyProof(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "psychescore/prover/v1/prover.proto",
}

// #endregion service-desc
