package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/HatiCode/bizcast/pkg/forecast"
	"github.com/HatiCode/bizcast/pkg/models"
)

// Service is the forecasting surface exported over gRPC.
type Service interface {
	Forecast(ctx context.Context, req forecast.Request) (*forecast.Result, error)
	Train(ctx context.Context, businessID int64, metric, backend string) (*models.Artifact, error)
	Models(ctx context.Context) ([]forecast.ModelInfo, error)
	DeleteModel(ctx context.Context, key models.Key) (bool, error)
}

var errBadMessage = errors.New("malformed message")

// TrainRequest is the Train payload.
type TrainRequest struct {
	BusinessID int64  `json:"business_id"`
	MetricName string `json:"metric_name"`
	Backend    string `json:"backend,omitempty"`
}

// TrainResponse is the Train result.
type TrainResponse struct {
	BusinessID int64                  `json:"business_id"`
	MetricName string                 `json:"metric_name"`
	Backend    models.BackendID       `json:"backend"`
	Status     string                 `json:"status"`
	Metrics    models.TrainingMetrics `json:"metrics"`
}

// ModelsResponse is the ListModels result.
type ModelsResponse struct {
	Models []forecast.ModelInfo `json:"models"`
}

// DeleteRequest is the DeleteModel payload.
type DeleteRequest struct {
	Key string `json:"key"`
}

// DeleteResponse is the DeleteModel result.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// Server implements bizcast.v1.Forecaster over a Service.
type Server struct {
	svc    Service
	logger *slog.Logger
}

// NewServer wraps svc. A nil logger uses slog.Default().
func NewServer(svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, logger: logger}
}

// Register adds the forecaster service, the standard health service and
// reflection to gs. The returned health server reports SERVING for both the
// overall server and ServiceName.
func Register(gs *grpc.Server, srv *Server) *health.Server {
	gs.RegisterService(&serviceDesc, srv)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(gs)
	return hs
}

// LoggingInterceptor logs each unary call with its status code.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := "OK"
		if err != nil {
			code = status.Code(err).String()
		}
		logger.Info("gRPC request",
			"method", info.FullMethod,
			"code", code,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

// Forecast serves a forecast request.
func (s *Server) Forecast(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req forecast.Request
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	result, err := s.svc.Forecast(ctx, req)
	if err != nil {
		return nil, s.fail(MethodForecast, err)
	}
	return encode(result)
}

// Train retrains one model.
func (s *Server) Train(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req TrainRequest
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	a, err := s.svc.Train(ctx, req.BusinessID, req.MetricName, req.Backend)
	if err != nil {
		return nil, s.fail(MethodTrain, err)
	}
	return encode(TrainResponse{
		BusinessID: a.BusinessID,
		MetricName: a.Metric,
		Backend:    a.Backend,
		Status:     "trained",
		Metrics:    a.Metrics,
	})
}

// ListModels lists stored models.
func (s *Server) ListModels(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	infos, err := s.svc.Models(ctx)
	if err != nil {
		return nil, s.fail(MethodListModels, err)
	}
	return encode(ModelsResponse{Models: infos})
}

// DeleteModel removes one stored model.
func (s *Server) DeleteModel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req DeleteRequest
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	key, err := models.ParseKey(req.Key)
	if err != nil {
		return nil, toStatus(fmt.Errorf("%w: %v", forecast.ErrInvalidRequest, err))
	}
	deleted, err := s.svc.DeleteModel(ctx, key)
	if err != nil {
		return nil, s.fail(MethodDeleteModel, err)
	}
	return encode(DeleteResponse{Deleted: deleted})
}

func (s *Server) fail(method string, err error) error {
	if codeFor(err) == codes.Internal {
		s.logger.Error("request failed", "method", method, "error", err)
	}
	return toStatus(err)
}

// decode converts a Struct into v through its JSON form. Unknown fields are
// rejected.
func decode(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadMessage, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadMessage, err)
	}
	return nil
}

// encode converts v into a Struct through its JSON form.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, toStatus(fmt.Errorf("encode response: %w", err))
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, toStatus(fmt.Errorf("encode response: %w", err))
	}
	return out, nil
}
