package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/fulfillment/internal/client"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/httpapi"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/order"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

const orderServiceName = "order-service"

// RunOrderService поднимает order-service: публичный API заказов, внутренний
// listener для callback оплаты, служебный listener и фоновые воркеры.
// Возвращается после отмены ctx и остановки всех компонентов.
func RunOrderService(ctx context.Context, cfg OrderConfig) error {
	logger := log.WithField("component", orderServiceName)
	v, _, _ := version.Info()
	logger.WithField("build", version.String()).Info("starting order-service")

	tracing, flushTraces := setupTracing(ctx, cfg.CommonConfig, orderServiceName, logger)
	defer flushTraces()

	repos, err := openRepositories(ctx, cfg.CommonConfig, logger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer repos.close(logger)

	verifier, closeVerifier, err := newVerifier(ctx, cfg.CommonConfig, logger)
	if err != nil {
		return fmt.Errorf("init token verifier: %w", err)
	}
	defer closeVerifier()

	producer := newProducer(cfg.KafkaBrokers, logger)
	defer closeProducer(producer, logger)

	sagaMetrics := metrics.NewSagaMetrics()
	clientOpts := []client.Option{
		client.WithTimeout(cfg.HTTPClientTimeout),
		client.WithInternalToken(cfg.InternalToken),
	}
	catalog, err := client.NewCatalog(cfg.ProductServiceURL, append(clientOpts, client.WithLogger(logger.WithField("component", "catalog-client")))...)
	if err != nil {
		return fmt.Errorf("init catalog client: %w", err)
	}
	payments, err := client.NewPayments(cfg.PaymentServiceURL, append(clientOpts, client.WithLogger(logger.WithField("component", "payments-client")))...)
	if err != nil {
		return fmt.Errorf("init payments client: %w", err)
	}

	orchestrator := saga.NewOrchestrator(payments, repos.orders,
		saga.WithMetrics(sagaMetrics),
		saga.WithLogger(logger.WithField("component", "saga")),
	)
	orderOpts := []order.Option{
		order.WithPayments(orchestrator),
		order.WithPaymentLookup(payments),
		order.WithMetrics(sagaMetrics),
		order.WithLogger(logger.WithField("component", "orders")),
	}
	if producer != nil {
		orderOpts = append(orderOpts, order.WithEventOutbox(repos.outbox))
	}
	orders := order.NewService(repos.orders, catalog, orderOpts...)

	routerCfg := httpapi.RouterConfig{
		Service:       orderServiceName,
		Version:       v,
		Verifier:      verifier,
		Guard:         idempotency.NewGuard(repos.idempotency, cfg.IdempotencyTTL, logger.WithField("component", "idempotency")),
		Limiter:       httpapi.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		HTTPMetrics:   metrics.NewHTTPMetrics(nil),
		InternalToken: cfg.InternalToken,
		Tracing:       tracing,
		Logger:        logger.WithField("component", "http"),
	}
	routerCfg.Responder = httpapi.NewResponder(routerCfg.Logger)
	handler := httpapi.NewOrderHandler(orders, routerCfg.Responder)

	checks := health.NewHandler(orderServiceName, v)
	checks.Register("storage", true, storageCheck(repos))

	g, gctx := errgroup.WithContext(ctx)
	serveHTTP(gctx, g, "public", cfg.HTTPAddr, httpapi.NewOrderPublicRouter(handler, routerCfg), cfg.ShutdownTimeout, logger)
	serveHTTP(gctx, g, "internal", cfg.InternalAddr, httpapi.NewOrderInternalRouter(handler, routerCfg), cfg.ShutdownTimeout, logger)
	serveHTTP(gctx, g, "metrics", cfg.MetricsAddr, metricsHandler(checks), cfg.ShutdownTimeout, logger)

	runWorker(gctx, g, idempotency.NewCleanupWorker(repos.idempotency,
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
	).Run)

	if producer != nil {
		checks.Register("outbox", false, health.NewOutboxBacklogChecker(repos.outbox, cfg.OutboxMaxAge))
		runWorker(gctx, g, outbox.NewWorker(repos.outbox, kafka.NewOutboxPublisher(producer, ""),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		).Run)
	}

	if cfg.PaymentEventsConsumer {
		if err := startPaymentEventsConsumer(gctx, g, cfg, orders, producer, sagaMetrics, logger); err != nil {
			return err
		}
	}

	return waitGroup(g)
}

// startPaymentEventsConsumer сверяет заказы по событиям платежей из Kafka
// в дополнение к HTTP callback.
func startPaymentEventsConsumer(
	ctx context.Context,
	g *errgroup.Group,
	cfg OrderConfig,
	orders saga.OutcomeApplier,
	dlq *kafka.Producer,
	m *metrics.SagaMetrics,
	logger *log.Entry,
) error {
	handler := saga.NewPaymentEventHandler(orders, m, logger.WithField("component", "payment-events"))
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     cfg.ConsumerGroup,
		Topics:      []string{kafka.TopicPaymentEvents},
		DLQProducer: dlq,
		DLQTopic:    kafka.TopicPaymentEventsDLQ,
	}, kafka.EnvelopeHandler(handler.Handle,
		domain.EventPaymentSucceeded,
		domain.EventPaymentFailed,
		domain.EventPaymentRefunded,
	))
	if err != nil {
		return fmt.Errorf("init payment events consumer: %w", err)
	}
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start payment events consumer: %w", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop payment events consumer")
		}
		return nil
	})
	return nil
}
