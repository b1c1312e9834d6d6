package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/fluxbridge/fluxbridge/pkg/types"
)

// actionGateService is the handler surface the service descriptor binds to.
type actionGateService interface {
	DoAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DoPut(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DoGet(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	ListFlights(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetFlightInfo(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*actionGateService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DoAction", Handler: doActionHandler},
		{MethodName: "DoPut", Handler: doPutHandler},
		{MethodName: "DoGet", Handler: doGetHandler},
		{MethodName: "ListFlights", Handler: listFlightsHandler},
		{MethodName: "GetFlightInfo", Handler: getFlightInfoHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func doActionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(actionGateService).DoAction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/DoAction"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(actionGateService).DoAction(ctx, req.(*structpb.Struct))
	})
}

func doPutHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(actionGateService).DoPut(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/DoPut"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(actionGateService).DoPut(ctx, req.(*structpb.Struct))
	})
}

func doGetHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(actionGateService).DoGet(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/DoGet"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(actionGateService).DoGet(ctx, req.(*structpb.Struct))
	})
}

func listFlightsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(actionGateService).ListFlights(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ListFlights"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(actionGateService).ListFlights(ctx, req.(*structpb.Struct))
	})
}

func getFlightInfoHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(actionGateService).GetFlightInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetFlightInfo"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(actionGateService).GetFlightInfo(ctx, req.(*structpb.Struct))
	})
}

// statusFromError maps domain sentinels to gRPC status codes.
func statusFromError(err error) error {
	if _, ok := status.FromError(err); ok && status.Code(err) != codes.Unknown {
		return err
	}
	switch {
	case errors.Is(err, types.ErrAuth):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, types.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, types.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, types.ErrUnimplemented):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, types.ErrProtocol), errors.Is(err, types.ErrMissingName), errors.Is(err, types.ErrAssembly):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, types.ErrSolver):
		return status.Error(codes.Internal, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
