package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/lms/internal/health"
	"github.com/vladislavdragonenkov/lms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/lms/internal/metrics"
	"github.com/vladislavdragonenkov/lms/internal/service/inbox"
	"github.com/vladislavdragonenkov/lms/internal/service/outbox"
	"github.com/vladislavdragonenkov/lms/internal/service/pool"
	"github.com/vladislavdragonenkov/lms/internal/service/routecache"
	redisstore "github.com/vladislavdragonenkov/lms/internal/storage/redis"
	"github.com/vladislavdragonenkov/lms/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает сервис сущностей и блокируется до отмены ctx или ошибки одного из компонентов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return err
	}
	kinds, err := cfg.ParsedKinds()
	if err != nil {
		return err
	}

	shutdownTracing, err := setupTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}

	routes, closeCache, err := initRouteCache(ctx, cfg, deps, healthHandler, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		return fmt.Errorf("init kafka producer: %w", err)
	}
	defer closeKafkaProducer(producer, logger)

	svcDeps := serviceDeps{
		cfg:      cfg,
		storage:  deps,
		routes:   routes,
		sender:   discardSender{logger: logger.WithField("layer", "kafka-disabled")},
		mutation: metrics.NewMutationMetrics(),
		dispatch: metrics.NewDispatchMetrics(),
		logger:   logger,
	}
	if producer != nil {
		svcDeps.sender = producer
		svcDeps.outbox = deps.outbox
		brokers := kafka.SplitBrokers(cfg.KafkaBrokers)
		healthHandler.RegisterChecker("kafka", healthcheck.NewSimpleChecker("kafka", func(ctx context.Context) error {
			return kafka.Ping(ctx, brokers)
		}))
	}
	svc := buildServices(kinds, svcDeps)

	var msg *messaging
	if producer != nil {
		msg, err = initMessaging(cfg, producer, deps, svc, logger)
		if err != nil {
			return err
		}
	}

	grpcServer, healthServer := newGRPCServer(logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		if msg != nil {
			_ = msg.consumer.Stop()
		}
		return fmt.Errorf("listen grpc: %w", err)
	}

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: svc.api.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	metricsSrv := startMetricsServer(gctx, cfg.MetricsAddr, logger, healthHandler)
	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		return serveHTTP(apiSrv)
	})

	cleanup := inbox.NewCleanupWorker(deps.inbox,
		inbox.WithLogger(logger.WithField("layer", "inbox-cleanup")),
		inbox.WithInterval(cfg.InboxCleanupInterval),
		inbox.WithBatchSize(cfg.InboxCleanupBatchSize),
		inbox.WithMetrics(metrics.NewInboxMetrics()),
	)
	g.Go(func() error {
		cleanup.Run(gctx)
		return nil
	})

	if msg != nil {
		msg.run(gctx, g)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(metricsSrv, logger)
		shutdownHTTP(apiSrv, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// initRouteCache оборачивает репозиторий маршрутов кэшем: Redis, если задан адрес, иначе in-memory.
func initRouteCache(ctx context.Context, cfg Config, deps runtimeDependencies, healthHandler *healthcheck.Handler, logger *log.Entry) (*routecache.CachedRouteRepository, func(), error) {
	noop := func() {}
	cacheLogger := logger.WithField("layer", "route-cache")
	opts := []routecache.Option{
		routecache.WithLogger(cacheLogger),
		routecache.WithTTL(cfg.CacheTTL),
		routecache.WithMetrics(metrics.NewCacheMetrics()),
	}

	if cfg.RedisAddr == "" {
		return routecache.NewCachedRouteRepository(deps.routes, routecache.NewMemoryCache(), opts...), noop, nil
	}

	cache, err := redisstore.Open(ctx, redisstore.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.TopicPrefix + ":",
	})
	if err != nil {
		return nil, noop, fmt.Errorf("init redis cache: %w", err)
	}
	healthHandler.RegisterChecker("redis", healthcheck.NewOptionalChecker("redis", cache.Ping))

	closeFn := func() {
		if err := cache.Close(); err != nil {
			cacheLogger.WithError(err).Warn("failed to close redis client")
		}
	}
	return routecache.NewCachedRouteRepository(deps.routes, cache, opts...), closeFn, nil
}

// messaging объединяет consumer команд и задач, пул обработки и outbox worker.
type messaging struct {
	pool     *pool.KeyedPool
	consumer *kafka.Consumer
	outbox   *outbox.Worker
}

func initMessaging(cfg Config, producer *kafka.Producer, deps runtimeDependencies, svc *services, logger *log.Entry) (*messaging, error) {
	dlqTopic := kafka.DLQTopic(cfg.TopicPrefix)
	workers := pool.New(
		pool.WithLogger(logger.WithField("layer", "pool")),
		pool.WithWorkers(cfg.PoolWorkers),
		pool.WithQueueSize(cfg.PoolQueueSize),
		pool.WithMetrics(metrics.NewPoolMetrics()),
	)

	consumer, err := kafka.NewConsumer(kafka.SplitBrokers(cfg.KafkaBrokers), cfg.KafkaGroupID, svc.router.Topics(), svc.router,
		kafka.WithConsumerLogger(logger.WithField("layer", "kafka-consumer")),
		kafka.WithPool(workers),
		kafka.WithDLQ(producer, dlqTopic),
		kafka.WithRetries(cfg.ConsumerMaxRetries, cfg.ConsumerRetryDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("init kafka consumer: %w", err)
	}

	worker := outbox.NewWorker(deps.outbox, kafka.NewOutboxPublisher(producer),
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithDLQPublisher(kafka.NewDLQPublisher(producer, dlqTopic)),
		outbox.WithMetrics(metrics.NewOutboxMetrics()),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)

	return &messaging{pool: workers, consumer: consumer, outbox: worker}, nil
}

// run запускает компоненты в группе; пул останавливается после consumer.
func (m *messaging) run(ctx context.Context, g *errgroup.Group) {
	m.pool.Start()

	g.Go(func() error {
		m.outbox.Run(ctx)
		return nil
	})
	g.Go(func() error {
		defer m.pool.Stop()
		if err := m.consumer.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return m.consumer.Stop()
	})
}

func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	return server, healthServer
}

// startMetricsServer поднимает /metrics и health checks; сервер останавливается при отмене ctx.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	healthHandler.Routes(mux)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

func serveHTTP(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server %s: %w", srv.Addr, err)
	}
	return nil
}

// stopGRPC останавливает gRPC сервер, принудительно по таймауту.
func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("addr", srv.Addr).Warn("http shutdown with error")
	}
}
