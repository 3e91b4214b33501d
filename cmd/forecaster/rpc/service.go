// Package rpc exposes the forecaster over gRPC.
//
// The service bizcast.v1.Forecaster has four unary methods. Requests and
// responses are google.protobuf.Struct values carrying the same JSON shapes
// as the HTTP API, so no generated stubs are needed on either side:
//
//	Forecast    {business_id, metric_name, horizon?, backend?} → ForecastResult
//	Train       {business_id, metric_name, backend?}           → {business_id, metric_name, backend, status, metrics}
//	ListModels  {}                                             → {models: [...]}
//	DeleteModel {key}                                          → {deleted}
package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/HatiCode/bizcast/pkg/features"
	"github.com/HatiCode/bizcast/pkg/forecast"
	"github.com/HatiCode/bizcast/pkg/models"
	"github.com/HatiCode/bizcast/pkg/series"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "bizcast.v1.Forecaster"

// Full method names.
const (
	MethodForecast    = "/" + ServiceName + "/Forecast"
	MethodTrain       = "/" + ServiceName + "/Train"
	MethodListModels  = "/" + ServiceName + "/ListModels"
	MethodDeleteModel = "/" + ServiceName + "/DeleteModel"
)

// forecasterServer is the handler type registered with grpc.
type forecasterServer interface {
	Forecast(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Train(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ListModels(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	DeleteModel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*forecasterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Forecast", Handler: unary(MethodForecast, forecasterServer.Forecast)},
		{MethodName: "Train", Handler: unary(MethodTrain, forecasterServer.Train)},
		{MethodName: "ListModels", Handler: unary(MethodListModels, forecasterServer.ListModels)},
		{MethodName: "DeleteModel", Handler: unary(MethodDeleteModel, forecasterServer.DeleteModel)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bizcast/v1/forecaster.proto",
}

type unaryCall func(forecasterServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(forecasterServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(forecasterServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// codeFor maps engine errors onto gRPC status codes.
func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, forecast.ErrInvalidRequest), errors.Is(err, errBadMessage):
		return codes.InvalidArgument
	case errors.Is(err, forecast.ErrUnsupportedBackend):
		return codes.Unimplemented
	case errors.Is(err, series.ErrNoData), errors.Is(err, models.ErrModelNotFound):
		return codes.NotFound
	case errors.Is(err, series.ErrEmptySeries), errors.Is(err, features.ErrInsufficientData):
		return codes.FailedPrecondition
	case errors.Is(err, forecast.ErrNoBackendAvailable):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// toStatus converts an engine error into a gRPC status error. Internal
// errors carry a generic message.
func toStatus(err error) error {
	code := codeFor(err)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}
