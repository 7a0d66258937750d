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
	"github.com/vladislavdragonenkov/fulfillment/internal/service/gateway"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

const paymentServiceName = "payment-service"

// RunPaymentService поднимает payment-service: публичный API платежей,
// внутренний listener для инициации оплаты и служебный listener.
func RunPaymentService(ctx context.Context, cfg PaymentConfig) error {
	logger := log.WithField("component", paymentServiceName)
	v, _, _ := version.Info()
	logger.WithFields(log.Fields{
		"build":         version.String(),
		"callback_mode": cfg.CallbackMode,
	}).Info("starting payment-service")

	tracing, flushTraces := setupTracing(ctx, cfg.CommonConfig, paymentServiceName, logger)
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
	callback, err := client.NewOrderCallback(cfg.OrderServiceURL,
		client.WithTimeout(cfg.HTTPClientTimeout),
		client.WithInternalToken(cfg.InternalToken),
		client.WithLogger(logger.WithField("component", "order-callback")),
	)
	if err != nil {
		return fmt.Errorf("init order callback client: %w", err)
	}

	var (
		notifier domain.OrderNotifier
		direct   *saga.DirectNotifier
	)
	switch cfg.CallbackMode {
	case saga.CallbackModeOutbox:
		notifier = saga.NewOutboxNotifier(repos.outbox, sagaMetrics, logger.WithField("component", "callback-outbox"))
	default:
		direct = saga.NewDirectNotifier(callback, cfg.CallbackTimeout, sagaMetrics, logger.WithField("component", "callback-direct"))
		notifier = direct
	}

	sim := gateway.NewSimulator(
		gateway.WithFailureRate(cfg.SimulatedFailureRate),
		gateway.WithRefundFailureRate(cfg.SimulatedRefundFailureRate),
		gateway.WithDelay(cfg.SimulatedMinDelay, cfg.SimulatedMaxDelay),
		gateway.WithLogger(logger.WithField("component", "gateway")),
	)
	paymentOpts := []payment.Option{
		payment.WithNotifier(notifier),
		payment.WithMetrics(sagaMetrics),
		payment.WithLogger(logger.WithField("component", "payments")),
	}
	if producer != nil {
		paymentOpts = append(paymentOpts, payment.WithEventOutbox(repos.outbox))
	}
	payments := payment.NewService(repos.payments, sim, paymentOpts...)

	routerCfg := httpapi.RouterConfig{
		Service:       paymentServiceName,
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
	handler := httpapi.NewPaymentHandler(payments, routerCfg.Responder)

	checks := health.NewHandler(paymentServiceName, v)
	checks.Register("storage", true, storageCheck(repos))

	g, gctx := errgroup.WithContext(ctx)
	serveHTTP(gctx, g, "public", cfg.HTTPAddr, httpapi.NewPaymentPublicRouter(handler, routerCfg), cfg.ShutdownTimeout, logger)
	serveHTTP(gctx, g, "internal", cfg.InternalAddr, httpapi.NewPaymentInternalRouter(handler, routerCfg), cfg.ShutdownTimeout, logger)
	serveHTTP(gctx, g, "metrics", cfg.MetricsAddr, metricsHandler(checks), cfg.ShutdownTimeout, logger)

	runWorker(gctx, g, idempotency.NewCleanupWorker(repos.idempotency,
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
	).Run)

	if worker := newPaymentOutboxWorker(cfg, repos.outbox, callback, producer, logger); worker != nil {
		checks.Register("outbox", false, health.NewOutboxBacklogChecker(repos.outbox, cfg.OutboxMaxAge))
		runWorker(gctx, g, worker.Run)
	}

	err = waitGroup(g)
	if direct != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if waitErr := direct.Wait(drainCtx); waitErr != nil {
			logger.WithError(waitErr).Warn("in-flight callbacks were not delivered before shutdown")
		}
	}
	return err
}

// newPaymentOutboxWorker собирает доставку outbox: callback идёт в order-service,
// события платежей в Kafka, исчерпавшие попытки сообщения в DLQ.
// Возвращает nil, если доставлять нечего.
func newPaymentOutboxWorker(cfg PaymentConfig, repo domain.OutboxRepository, callback *client.OrderCallback, producer *kafka.Producer, logger *log.Entry) *outbox.Worker {
	outboxCallbacks := cfg.CallbackMode == saga.CallbackModeOutbox
	if !outboxCallbacks && producer == nil {
		return nil
	}

	var fallback domain.OutboxPublisher
	if producer != nil {
		fallback = kafka.NewOutboxPublisher(producer, "")
	}
	router := outbox.NewRouter(fallback).Route(domain.EventPaymentCallback, callback)

	opts := []outbox.Option{
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
	}
	if producer != nil {
		opts = append(opts, outbox.WithDLQPublisher(kafka.NewDLQPublisher(producer, kafka.TopicCallbackDLQ)))
	}
	return outbox.NewWorker(repo, router, opts...)
}
