// Package app собирает сервис очередей кофеен из компонентов и управляет его жизненным циклом.
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
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/coffee-queue/internal/health"
	"github.com/vladislavdragonenkov/coffee-queue/internal/metrics"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/httpapi"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/idempotency"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/notification"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/ordering"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/outbox"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/queue"
	"github.com/vladislavdragonenkov/coffee-queue/internal/version"
)

const tracerName = "github.com/vladislavdragonenkov/coffee-queue"

// App — собранный сервис с открытыми listener'ами.
type App struct {
	cfg    Config
	logger *log.Entry

	storage  *storageDeps
	delivery *deliveryDeps

	dispatcher *notification.Dispatcher
	service    *ordering.Service
	outbox     *outbox.Relay
	cleanup    *idempotency.Sweeper
	health     *healthcheck.Handler

	httpServer    *http.Server
	metricsServer *http.Server
	grpcServer    *grpc.Server
	grpcHealth    *grpchealth.Server

	httpLis    net.Listener
	metricsLis net.Listener
	grpcLis    net.Listener
}

// Run собирает сервис и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// New проверяет конфигурацию, открывает хранилище, каналы уведомлений и listener'ы.
// При ошибке всё уже открытое закрывается.
func New(ctx context.Context, cfg Config) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Ветки ошибок возвращают nil, поэтому освобождается локальная ссылка, а не результат.
	app := &App{cfg: cfg, logger: log.WithField("component", "app")}
	a = app
	defer func() {
		if err != nil {
			app.release()
		}
	}()

	if a.storage, err = initStorage(ctx, cfg, a.logger); err != nil {
		return nil, err
	}
	if err = seedCatalog(ctx, cfg.SeedFile, a.storage.tx, a.logger); err != nil {
		return nil, err
	}
	if a.delivery, err = initDelivery(ctx, cfg, a.storage.outbox, a.logger); err != nil {
		return nil, err
	}

	a.compose()

	if a.httpLis, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
		return nil, fmt.Errorf("listen http: %w", err)
	}
	if cfg.MetricsAddr != "" {
		if a.metricsLis, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
			return nil, fmt.Errorf("listen metrics: %w", err)
		}
	}
	if cfg.GRPCAddr != "" {
		if a.grpcLis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			return nil, fmt.Errorf("listen grpc: %w", err)
		}
	}
	return a, nil
}

// compose связывает компоненты через конструкторы.
func (a *App) compose() {
	cfg := a.cfg
	tracer := otel.Tracer(tracerName)
	queueMetrics := metrics.NewQueueMetrics()

	a.dispatcher = notification.NewDispatcher(a.delivery.sender,
		notification.WithLogger(log.WithField("component", "notification-dispatcher")),
		notification.WithMetrics(metrics.NewNotificationMetrics()),
		notification.WithWorkers(cfg.NotifyWorkers),
		notification.WithBufferSize(cfg.NotifyBuffer),
		notification.WithConfirmationRetry(cfg.NotifyConfirmAttempts, cfg.NotifyConfirmDelay),
	)

	queues := queue.NewManager(a.storage.tx,
		queue.WithLogger(log.WithField("component", "queue-manager")),
		queue.WithMetrics(queueMetrics),
		queue.WithTracer(tracer),
		queue.WithAveragePrepMinutes(cfg.AvgPrepMinutes),
	)
	a.service = ordering.NewService(a.storage.tx, queues,
		ordering.WithLogger(log.WithField("component", "ordering")),
		ordering.WithMetrics(queueMetrics),
		ordering.WithTracer(tracer),
		ordering.WithNotifier(a.dispatcher),
		ordering.WithTimeline(a.storage.timeline),
	)

	if a.delivery.relay != nil {
		a.outbox = outbox.NewRelay(a.storage.outbox, a.delivery.relay,
			outbox.WithLogger(log.WithField("component", "outbox-relay")),
			outbox.WithMetrics(metrics.NewOutboxMetrics()),
			outbox.WithDeadLetters(a.delivery.dlq),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithBackoff(cfg.OutboxRetryDelay, 0),
		)
	}
	a.cleanup = idempotency.NewSweeper(a.storage.idempotency,
		idempotency.WithLogger(log.WithField("component", "idempotency-sweeper")),
		idempotency.WithMetrics(metrics.NewCleanupMetrics()),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	api := httpapi.NewHandler(a.service,
		httpapi.WithMetrics(metrics.NewHTTPMetrics()),
		httpapi.WithIdempotency(a.storage.idempotency, cfg.IdempotencyTTL),
		httpapi.WithRequestTimeout(cfg.HTTPRequestTimeout),
		httpapi.WithMaxInFlight(cfg.HTTPMaxInFlight),
	)
	a.httpServer = &http.Server{Handler: api.Routes(), ReadHeaderTimeout: 5 * time.Second}

	a.health = a.healthHandler()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", a.health)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", a.health.ReadinessHandler)
	a.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	a.grpcServer, a.grpcHealth = newGRPCServer(a.logger)
}

func (a *App) healthHandler() *healthcheck.Handler {
	h := healthcheck.NewHandler(version.Get().Version)
	h.Register("storage", healthcheck.CheckFunc(a.storage.ping))
	h.Register("notifications", dispatcherChecker{
		dispatcher: a.dispatcher,
		threshold:  a.cfg.NotifyBuffer * 9 / 10,
	}, healthcheck.Optional())
	if a.outbox != nil && a.cfg.OutboxMaxPending > 0 {
		repo := a.storage.outbox
		h.Register("outbox", healthcheck.Gauge{
			Measure: func(ctx context.Context) (int, error) {
				stats, err := repo.Stats(ctx)
				return stats.PendingCount, err
			},
			Limit: a.cfg.OutboxMaxPending,
			Label: "pending outbox messages",
		}, healthcheck.Optional())
	}
	return h
}

const healthWatchInterval = 10 * time.Second

// servingStatus переводит общий статус в статус gRPC health.
func servingStatus(resp healthcheck.Response) healthpb.HealthCheckResponse_ServingStatus {
	if resp.Ready() {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// newGRPCServer поднимает gRPC только со стандартным сервисом health и метриками интерсепторов.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
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
	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)
	return server, healthServer
}

// HTTPAddr возвращает фактический адрес HTTP API (полезно при порте 0).
func (a *App) HTTPAddr() string { return a.httpLis.Addr().String() }

// MetricsAddr возвращает адрес сервера метрик или пустую строку, если он отключён.
func (a *App) MetricsAddr() string {
	if a.metricsLis == nil {
		return ""
	}
	return a.metricsLis.Addr().String()
}

// GRPCAddr возвращает адрес gRPC или пустую строку, если он отключён.
func (a *App) GRPCAddr() string {
	if a.grpcLis == nil {
		return ""
	}
	return a.grpcLis.Addr().String()
}

// Run обслуживает запросы до отмены ctx или падения одного из серверов, затем
// останавливает всё по порядку: серверы, фоновые воркеры, диспетчер, брокеры, хранилище.
func (a *App) Run(ctx context.Context) error {
	defer a.release()

	a.dispatcher.Start()
	a.grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.WithField("addr", a.HTTPAddr()).Info("http api listening")
		return serveHTTP(a.httpServer, a.httpLis)
	})
	if a.metricsLis != nil {
		g.Go(func() error {
			a.logger.WithField("addr", a.MetricsAddr()).Info("metrics and health checks listening")
			return serveHTTP(a.metricsServer, a.metricsLis)
		})
	}
	if a.grpcLis != nil {
		g.Go(func() error {
			a.logger.WithField("addr", a.GRPCAddr()).Info("grpc health listening")
			if err := a.grpcServer.Serve(a.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	if a.outbox != nil {
		g.Go(func() error { return a.outbox.Run(gctx) })
	}
	g.Go(func() error { return a.cleanup.Run(gctx) })
	g.Go(func() error {
		a.health.Watch(gctx, healthWatchInterval, func(resp healthcheck.Response) {
			a.logger.WithField("status", resp.Status).Info("health status changed")
			a.grpcHealth.SetServingStatus("", servingStatus(resp))
		})
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		a.shutdownServers()
		return nil
	})

	err := g.Wait()
	a.drainDispatcher()

	if err != nil {
		return err
	}
	return ctx.Err()
}

func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (a *App) shutdownServers() {
	a.grpcHealth.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("http shutdown with error")
	}
	if err := a.metricsServer.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("metrics shutdown with error")
	}

	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		a.logger.Warn("grpc graceful stop timed out, forcing stop")
		a.grpcServer.Stop()
	}
}

// drainDispatcher дожидается доставки уже принятых уведомлений.
func (a *App) drainDispatcher() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.dispatcher.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("notification dispatcher did not drain in time")
	}
}

// release закрывает listener'ы, брокеры и хранилище. Безопасен для частично собранного App.
func (a *App) release() {
	var closers []func() error
	if a.storage != nil {
		closers = append(closers, a.storage.closeFn)
	}
	if a.delivery != nil {
		closers = append(closers, a.delivery.closeFn)
	}
	for _, lis := range []net.Listener{a.httpLis, a.metricsLis, a.grpcLis} {
		if lis != nil {
			closers = append(closers, ignoreClosed(lis.Close))
		}
	}
	closeAll(a.logger, closers...)
	a.storage, a.delivery = nil, nil
	a.httpLis, a.metricsLis, a.grpcLis = nil, nil, nil
}

// ignoreClosed скрывает ошибку повторного закрытия listener'а, уже закрытого сервером.
func ignoreClosed(fn func() error) func() error {
	return func() error {
		if err := fn(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	}
}

// dispatcherChecker: остановленный диспетчер unhealthy, почти полный буфер degraded.
type dispatcherChecker struct {
	dispatcher *notification.Dispatcher
	threshold  int
}

func (c dispatcherChecker) Check(ctx context.Context) healthcheck.Check {
	if err := c.dispatcher.Check(); err != nil {
		return healthcheck.Check{Status: healthcheck.StatusUnhealthy, Message: err.Error()}
	}
	return healthcheck.Gauge{
		Measure: func(context.Context) (int, error) { return c.dispatcher.Pending(), nil },
		Limit:   c.threshold,
		Label:   "notification buffer",
	}.Check(ctx)
}
