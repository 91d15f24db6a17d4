// Package rpc serves coverage rasters over gRPC.
//
// The service is described by hand with protobuf well-known types, so no
// generated code is needed:
//
//	service CoverageService {
//	  rpc ComputeCoverage(google.protobuf.Struct) returns (google.protobuf.BytesValue);
//	  rpc ListGrids(google.protobuf.Empty) returns (google.protobuf.Struct);
//	}
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "meshrf.coverage.v1.CoverageService"

	ComputeCoverageMethod = "/" + ServiceName + "/ComputeCoverage"
	ListGridsMethod       = "/" + ServiceName + "/ListGrids"
)

// CoverageServer is the server API for CoverageService.
type CoverageServer interface {
	ComputeCoverage(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	ListGrids(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterCoverageServer attaches srv to s.
func RegisterCoverageServer(s grpc.ServiceRegistrar, srv CoverageServer) {
	s.RegisterService(&CoverageServiceDesc, srv)
}

// CoverageServiceDesc is the grpc.ServiceDesc for CoverageService.
var CoverageServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CoverageServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ComputeCoverage", Handler: computeCoverageHandler},
		{MethodName: "ListGrids", Handler: listGridsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "meshrf/coverage/v1/coverage.proto",
}

func computeCoverageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoverageServer).ComputeCoverage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ComputeCoverageMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CoverageServer).ComputeCoverage(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listGridsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoverageServer).ListGrids(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListGridsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CoverageServer).ListGrids(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// CoverageClient is the client API for CoverageService.
type CoverageClient struct {
	cc grpc.ClientConnInterface
}

func NewCoverageClient(cc grpc.ClientConnInterface) *CoverageClient {
	return &CoverageClient{cc: cc}
}

func (c *CoverageClient) ComputeCoverage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, ComputeCoverageMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CoverageClient) ListGrids(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ListGridsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
