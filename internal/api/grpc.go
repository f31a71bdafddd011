package api

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"walkfwd/internal/domain"
	"walkfwd/pkg/walkfwd"
)

// backtestServer is the handler type of the walkfwd.v1.Backtest service.
// Messages travel as google.protobuf.Struct holding the JSON form of the
// pkg/walkfwd types.
type backtestServer interface {
	Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Sweep(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var backtestServiceDesc = grpc.ServiceDesc{
	ServiceName: walkfwd.ServiceName,
	HandlerType: (*backtestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: unaryHandler(walkfwd.RunMethod, backtestServer.Run)},
		{MethodName: "Sweep", Handler: unaryHandler(walkfwd.SweepMethod, backtestServer.Sweep)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "walkfwd/v1/backtest.proto",
}

type structMethod func(backtestServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call structMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(backtestServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(backtestServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// grpcHandler adapts a BacktestService to the wire service.
type grpcHandler struct {
	svc *BacktestService
}

// Compile-time interface check.
var _ backtestServer = (*grpcHandler)(nil)

func (h *grpcHandler) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := h.svc.DefaultRunRequest()
	if err := walkfwd.FromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	resp, err := h.svc.Run(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(resp)
}

func (h *grpcHandler) Sweep(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := walkfwd.SweepRequest{Base: h.svc.DefaultRunRequest()}
	if err := walkfwd.FromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	resp, err := h.svc.Sweep(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(resp)
}

func encode(v any) (*structpb.Struct, error) {
	out, err := walkfwd.ToStruct(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, domain.ErrInvalidConfiguration), errors.Is(err, domain.ErrLookAhead):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrInsufficientData), errors.Is(err, domain.ErrModelNotTrained):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrExternalDataUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}
