package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/dago-wrap/internal/application/orchestrator"
	"github.com/aescanero/dago-wrap/internal/application/workers"
	"github.com/aescanero/dago-wrap/internal/config"
	"github.com/aescanero/dago-wrap/internal/tracing"
	eventsmemory "github.com/aescanero/dago-wrap/pkg/adapters/events/memory"
	eventsnats "github.com/aescanero/dago-wrap/pkg/adapters/events/nats"
	eventsredis "github.com/aescanero/dago-wrap/pkg/adapters/events/redis"
	"github.com/aescanero/dago-wrap/pkg/adapters/llm"
	"github.com/aescanero/dago-wrap/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/dago-wrap/pkg/adapters/storage/memory"
	storageredis "github.com/aescanero/dago-wrap/pkg/adapters/storage/redis"
	"github.com/aescanero/dago-wrap/pkg/api/grpc"
	"github.com/aescanero/dago-wrap/pkg/api/http"
	"github.com/aescanero/dago-wrap/pkg/api/websocket"
	"github.com/aescanero/dago-wrap/pkg/controls"
	"github.com/aescanero/dago-wrap/pkg/manifest"
	"github.com/aescanero/dago-wrap/pkg/ports"
	"github.com/aescanero/dago-wrap/pkg/wrap"
	"go.opentelemetry.io/otel"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting wrap service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("event_backend", cfg.EventBackend),
		zap.String("storage_backend", cfg.StorageBackend))

	ctx := context.Background()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    "wrapd",
		ServiceVersion: Version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	eventBus, err := newEventBus(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("failed to create event bus", zap.Error(err))
	}

	var stateStorage ports.StateStorage
	switch cfg.StorageBackend {
	case config.BackendRedis:
		stateStorage = storageredis.NewStateStorage(redisClient, cfg.Storage.RunTTL, logger)
	default:
		stateStorage = storagememory.NewInMemoryStateStorage(cfg.Storage.RunTTL)
	}

	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsCollector := prometheus.NewCollector(registry)

	factory := newControlFactory(cfg, redisClient, logger)

	manifests, err := manifest.LoadDir(cfg.ManifestDir)
	if err != nil {
		logger.Fatal("failed to load manifests",
			zap.String("dir", cfg.ManifestDir),
			zap.Error(err))
	}

	orchestratorMgr := orchestrator.NewManager(
		eventBus,
		stateStorage,
		metricsCollector,
		logger,
		cfg.Timeouts.RunTimeout,
	)

	if err := orchestratorMgr.RegisterManifests(manifests, orchestrator.NewValidator(), factory,
		wrap.WithLogger(logger),
		wrap.WithMetrics(metricsCollector),
		wrap.WithTracer(otel.Tracer("github.com/aescanero/dago-wrap/pkg/wrap")),
		wrap.WithControlTimeout(cfg.Loader.ControlTimeout),
		wrap.WithMaxParallel(cfg.Loader.MaxParallel),
	); err != nil {
		logger.Fatal("failed to register manifests", zap.Error(err))
	}
	logger.Info("manifests registered",
		zap.String("dir", cfg.ManifestDir),
		zap.Int("wraps", len(manifests)))

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		cfg.Workers.QueueSize,
		orchestratorMgr,
		eventBus,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Logger:       logger,
		Gatherer:     registry,
		Checks:       map[string]http.HealthChecker{"workers": workerPool.Health()},
	})
	httpServer.SetupWebSocket(websocket.NewHandler(eventBus, stateStorage, logger, 0))

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:          cfg.GRPCPort,
		Logger:        logger,
		Checker:       workerPool.Health(),
		CheckInterval: cfg.Workers.HealthCheckInterval,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("wrap service started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("wrap service shut down complete")
}

// newEventBus creates the event bus for the configured backend
func newEventBus(ctx context.Context, cfg *config.Config, redisClient *goredis.Client, logger *zap.Logger) (ports.EventBus, error) {
	switch cfg.EventBackend {
	case config.BackendRedis:
		consumer := cfg.Redis.ConsumerName
		if consumer == "" {
			consumer = fmt.Sprintf("wrapd-%d", os.Getpid())
		}
		return eventsredis.NewStreamsEventBus(redisClient, cfg.Redis.ConsumerGroup, consumer, cfg.Redis.StreamMaxLen, logger)

	case config.BackendNATS:
		conn, err := eventsnats.Connect(ctx, eventsnats.ConnectionConfig{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       cfg.NATS.Timeout,
			Token:         cfg.NATS.Token,
			Username:      cfg.NATS.Username,
			Password:      cfg.NATS.Password,
		}, logger)
		if err != nil {
			return nil, err
		}
		return eventsnats.NewEventBus(conn, cfg.NATS.QueueGroup, logger)

	default:
		return eventsmemory.NewInMemoryEventBus(logger), nil
	}
}

// newControlFactory builds controls with the backends that are configured.
// Redis and llm controls fail to build when their backend is missing.
func newControlFactory(cfg *config.Config, redisClient *goredis.Client, logger *zap.Logger) *controls.Factory {
	var reader controls.RedisReader
	if cfg.Redis.Controls && redisClient != nil {
		reader = redisClient
	}

	var completer controls.Completer
	if cfg.LLM.APIKey != "" {
		c, err := llm.NewCompleter(&llm.Config{
			Provider:  cfg.LLM.Provider,
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.DefaultModel,
			MaxTokens: cfg.LLM.DefaultMaxTokens,
			Logger:    logger,
		})
		if err != nil {
			logger.Fatal("failed to create LLM client", zap.Error(err))
		}
		completer = c
	} else {
		logger.Info("no LLM API key configured, llm controls are disabled")
	}

	return controls.NewFactory(reader, completer, cfg.Loader.ScriptTimeout, logger)
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
