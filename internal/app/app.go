package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/cart/internal/health"
	"github.com/vladislavdragonenkov/cart/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/cart/internal/metrics"
	"github.com/vladislavdragonenkov/cart/internal/service/cart"
	grpcsvc "github.com/vladislavdragonenkov/cart/internal/service/grpc"
	httpapi "github.com/vladislavdragonenkov/cart/internal/service/http"
	"github.com/vladislavdragonenkov/cart/internal/service/notify"
	"github.com/vladislavdragonenkov/cart/internal/service/outbox"
	"github.com/vladislavdragonenkov/cart/internal/version"
)

const defaultShutdownTimeout = 5 * time.Second

// Run собирает сервис корзины по cfg и блокируется до отмены ctx
// или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithFields(log.Fields{"component": "app", "service": version.Service})
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	// Kafka опциональна: без неё уведомления только логируются, а события не публикуются.
	brokers := cfg.Brokers()
	// Ошибка подключения уже залогирована, сервис продолжает работу без Kafka.
	producer, _ := initKafkaProducer(brokers, logger)
	defer closeKafka(producer, logger)

	notifiers := notify.Multi{notify.NewLogNotifier(logger.WithField("component", "notifications"))}
	storeOptions := []cart.Option{
		cart.WithLogger(logger.WithField("component", "cart")),
		cart.WithMetrics(metrics.NewCartMetrics()),
	}
	if producer != nil {
		notifiers = append(notifiers, kafka.NewNotificationPublisher(producer, kafka.TopicCartNotifications, logger))
		storeOptions = append(storeOptions, cart.WithOutbox(deps.outboxRepo))
	}
	storeOptions = append(storeOptions, cart.WithNotifier(notifiers))

	limits := cart.DefaultLimits()
	limits.MaxSessions = cfg.MaxSessions
	limits.StoreTTL = cfg.SessionTTL
	registry := cart.NewBoundedRegistry(limits, deps.kv, deps.stock, deps.catalog, storeOptions...)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var background sync.WaitGroup
	if producer != nil {
		worker := newOutboxWorker(cfg, deps.outboxRepo, producer, logger)
		background.Add(1)
		go func() {
			defer background.Done()
			worker.Run(runCtx)
		}()

		if cleanerRepo, ok := deps.outboxRepo.(domain.OutboxCleaner); ok {
			cleaner := newOutboxCleaner(cfg, cleanerRepo, logger)
			background.Add(1)
			go func() {
				defer background.Done()
				cleaner.Run(runCtx)
			}()
		}
	}

	consumer, err := initCommandConsumer(brokers, registry, producer, cfg.KafkaConsumeRetries, logger)
	if err == nil && consumer != nil {
		if err := consumer.Start(runCtx); err != nil {
			logger.WithError(err).Warn("failed to start kafka consumer")
			consumer = nil
		}
	}
	defer stopConsumer(consumer, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	metricsSrv := startMetricsServer(runCtx, cfg.MetricsAddr, logger, healthHandler)

	errCh := make(chan error, 2)

	var grpcServer *grpc.Server
	var healthServer *health.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			shutdownHTTP(metricsSrv, logger)
			return err
		}
		grpcServer, healthServer = newGRPCServer(registry, logger)
		go func() {
			logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	var apiSrv *http.Server
	if cfg.HTTPAddr != "" {
		router := httpapi.NewRouter(httpapi.NewHandler(registry, logger.WithField("layer", "http")))
		apiSrv = &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
			if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("server failed, shutting down")
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	stopGRPC(grpcServer, healthServer, timeout, logger)
	shutdownHTTP(apiSrv, logger)
	shutdownHTTP(metricsSrv, logger)

	cancel()
	background.Wait()
	return runErr
}

func newOutboxWorker(cfg Config, repo domain.OutboxRepository, producer *kafka.Producer, logger *log.Entry) *outbox.Worker {
	return outbox.NewWorker(
		repo,
		kafka.NewCartEventPublisher(producer, kafka.TopicCartEvents),
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(kafka.NewCartEventPublisher(producer, kafka.TopicDeadLetterQueue)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
}

func newOutboxCleaner(cfg Config, repo domain.OutboxCleaner, logger *log.Entry) *outbox.Cleaner {
	return outbox.NewCleaner(
		repo,
		outbox.WithCleanupLogger(logger.WithField("component", "outbox-cleaner")),
		outbox.WithCleanupInterval(cfg.OutboxCleanupInterval),
		outbox.WithCleanupBatchSize(cfg.OutboxBatchSize),
		outbox.WithRetention(cfg.OutboxRetention),
	)
}

func newGRPCServer(registry *cart.Registry, logger *log.Entry) (*grpc.Server, *health.Server) {
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

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterCartServiceServer(server, grpcsvc.NewCartService(registry, logger.WithField("layer", "grpc")))
	grpcMetrics.InitializeMetrics(server)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	reflection.Register(server)
	return server, healthServer
}

// stopGRPC останавливает сервер мягко, а по таймауту принудительно.
func stopGRPC(server *grpc.Server, healthServer *health.Server, timeout time.Duration, logger *log.Entry) {
	if server == nil {
		return
	}
	if healthServer != nil {
		healthServer.Shutdown()
	}

	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus и health-проверки.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
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

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
