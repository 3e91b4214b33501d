// Command forecaster implements the bizcast forecast engine.
//
// The forecaster serves daily forecasts of business metrics. On each request
// it resolves a backend, trains a model on the metric's history if none is
// stored yet, and predicts the requested horizon. Models persist in the
// configured repository and can be refreshed on a cron schedule.
//
// APIs:
//   - HTTP on :8081 - POST /v1/forecast, POST /v1/train/{business_id}/{metric_name},
//     GET /v1/models, DELETE /v1/models/{key}, GET /healthz, GET /metrics
//   - gRPC on :8082 - bizcast.v1.Forecaster and grpc.health.v1.Health
//
// Usage:
//
//	LOADER_URL='https://store/businesses/{{.BusinessID}}/metrics/{{.Metric}}' \
//	LOADER_VALUE_PATH='data.#.value' LOADER_DATE_PATH='data.#.date' \
//	forecaster -loader=http -storage=redis -redis-addr=redis:6379
//
// Environment variables:
//
//	LOADER           - Series loader: http, postgres, mysql (required)
//	LOADER_*         - Loader settings (LOADER_URL, LOADER_DSN, LOADER_QUERY, ...)
//	STORAGE          - Model storage: memory, file, redis (default: memory)
//	MODEL_DIR        - Artifact directory for file storage
//	REDIS_ADDR       - Redis server address
//	CACHE_SIZE       - In-process artifact cache entries (default: 256)
//	BACKENDS         - Enabled backends (default: tree,additive)
//	ENGINE_CONFIG    - YAML file with feature and model tuning
//	RETRAIN_SCHEDULE - Cron spec for retraining stored models
//	RATE_LIMIT       - API requests per second (default: unlimited)
//	OTLP_ENDPOINT    - OTLP gRPC collector for traces
//	TLS_ENABLED      - Serve HTTP and gRPC over TLS (TLS_CERT_FILE, TLS_KEY_FILE, TLS_CA_FILE)
//	LOG_LEVEL        - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT       - Logging format: text, json (default: text)
//	ENV_FILE         - .env file to load first (default: .env)
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/HatiCode/bizcast/cmd/forecaster/config"
	"github.com/HatiCode/bizcast/cmd/forecaster/logger"
	"github.com/HatiCode/bizcast/cmd/forecaster/metrics"
	"github.com/HatiCode/bizcast/cmd/forecaster/models"
	"github.com/HatiCode/bizcast/cmd/forecaster/router"
	"github.com/HatiCode/bizcast/cmd/forecaster/rpc"
	"github.com/HatiCode/bizcast/cmd/forecaster/store"
	"github.com/HatiCode/bizcast/pkg/adapters"
	"github.com/HatiCode/bizcast/pkg/forecast"
	"github.com/HatiCode/bizcast/pkg/httpx"
	"github.com/HatiCode/bizcast/pkg/storage"
	"github.com/HatiCode/bizcast/pkg/telemetry"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	logger.Info("starting bizcast forecaster",
		"version", version,
		"loader", cfg.Loader,
		"storage", cfg.Storage,
		"backends", cfg.Backends,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := config.LoadEngine(cfg.EngineConfig)
	if err != nil {
		logger.Error("invalid engine configuration", "error", err)
		os.Exit(1)
	}

	registry, err := models.New(cfg, engine, logger)
	if err != nil {
		logger.Error("failed to build backends", "error", err)
		os.Exit(1)
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	loader, err := adapters.New(connectCtx, cfg.Loader, cfg.LoaderConfig)
	connectCancel()
	if err != nil {
		logger.Error("failed to create loader", "loader", cfg.Loader, "error", err)
		os.Exit(1)
	}
	if closer, ok := loader.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Error("failed to close loader", "error", err)
			}
		}()
	}

	repo, err := store.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create model storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := storage.Close(repo); err != nil {
			logger.Error("failed to close model storage", "error", err)
		}
	}()

	tp, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName:    "bizcast-forecaster",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		SamplingRate:   cfg.TraceSampling,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background(), tp); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	orch := forecast.New(loader, repo, registry,
		forecast.WithLogger(logger),
		forecast.WithObserver(m),
	)

	health := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return storage.Ping(ctx, repo)
	}

	mux := router.SetupRoutes(orch, router.Options{
		Gatherer:       reg,
		Health:         health,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
	handler := httpx.Chain(mux,
		httpx.RequestIDMiddleware(),
		httpx.RecoveryMiddleware(logger),
		httpx.LoggingMiddleware(logger),
		httpx.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst, "/healthz", "/metrics"),
	)
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	tlsConfig, err := cfg.TLS.ServerConfig()
	if err != nil {
		logger.Error("failed to load TLS configuration", "error", err)
		os.Exit(1)
	}
	if tlsConfig != nil {
		httpServer.SetTLSConfig(tlsConfig)
		logger.Info("TLS enabled", "mutual", cfg.TLS.MutualTLS())
	}

	serverErr := make(chan error, 2)
	go func() {
		serverErr <- httpServer.Start()
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCListen != "" {
		opts := []grpc.ServerOption{grpc.UnaryInterceptor(rpc.LoggingInterceptor(logger))}
		if tlsConfig != nil {
			opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
		}
		grpcServer = grpc.NewServer(opts...)
		healthServer := rpc.Register(grpcServer, rpc.NewServer(orch, logger))

		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			logger.Error("failed to listen", "address", cfg.GRPCListen, "error", err)
			os.Exit(1)
		}
		go func() {
			logger.Info("grpc server listening", "address", cfg.GRPCListen)
			serverErr <- grpcServer.Serve(lis)
		}()
		defer healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	if cfg.RetrainSchedule != "" {
		retrainer := NewRetrainer(orch, cfg.RequestTimeout, logger, m)
		if err := retrainer.Start(ctx, cfg.RetrainSchedule); err != nil {
			logger.Error("failed to schedule retraining", "error", err)
			os.Exit(1)
		}
		defer retrainer.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	logger.Info("shutting down")
	cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
}
