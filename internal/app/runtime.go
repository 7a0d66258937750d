package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/fulfillment/internal/auth"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/observability"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// repositories — хранилища процесса: PostgreSQL при заданном DSN, иначе память.
type repositories struct {
	orders      domain.OrderRepository
	payments    domain.PaymentRepository
	outbox      domain.OutboxRepository
	idempotency domain.IdempotencyRepository
	store       *postgres.Store
}

func openRepositories(ctx context.Context, cfg CommonConfig, logger *log.Entry) (*repositories, error) {
	if cfg.PostgresDSN == "" {
		logger.Warn("POSTGRES_DSN is empty, using in-memory storage")
		return &repositories{
			orders:      memory.NewOrderRepository(),
			payments:    memory.NewPaymentRepository(),
			outbox:      memory.NewOutboxRepository(),
			idempotency: memory.NewIdempotencyRepository(),
		}, nil
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithStoreLogger(logger.WithField("component", "postgres")))
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	payments, err := postgres.NewPaymentRepository(store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info("postgres storage initialized")
	return &repositories{
		orders:      postgres.NewOrderRepository(store),
		payments:    payments,
		outbox:      postgres.NewOutboxRepository(store),
		idempotency: postgres.NewIdempotencyRepository(store),
		store:       store,
	}, nil
}

func (r *repositories) ping(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	return r.store.Ping(ctx)
}

func (r *repositories) close(logger *log.Entry) {
	if r == nil || r.store == nil {
		return
	}
	if err := r.store.Close(); err != nil {
		logger.WithError(err).Warn("failed to close postgres store")
	}
}

// newVerifier выбирает проверку токенов: локальный JWT при JWT_SECRET,
// иначе auth-service с кэшем в Redis, если задан REDIS_ADDR.
func newVerifier(ctx context.Context, cfg CommonConfig, logger *log.Entry) (domain.TokenVerifier, func(), error) {
	noop := func() {}
	if cfg.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier(cfg.JWTSecret)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("token verification: local jwt")
		return verifier, noop, nil
	}

	remote, err := auth.NewRemoteVerifier(cfg.AuthServiceURL, cfg.HTTPClientTimeout, logger.WithField("component", "auth-client"))
	if err != nil {
		return nil, noop, err
	}
	if cfg.RedisAddr == "" {
		logger.WithField("auth_url", cfg.AuthServiceURL).Info("token verification: auth-service")
		return remote, noop, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("redis is unreachable, auth cache will be bypassed until it recovers")
	}
	closeRedis := func() {
		if err := rdb.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}
	logger.WithFields(log.Fields{"auth_url": cfg.AuthServiceURL, "redis": cfg.RedisAddr}).Info("token verification: auth-service with redis cache")
	return auth.NewCachedVerifier(remote, rdb, cfg.AuthCacheTTL, logger.WithField("component", "auth-cache")), closeRedis, nil
}

// newProducer создаёт Kafka producer; без брокеров или при ошибке сервис работает без Kafka.
func newProducer(brokers []string, logger *log.Entry) *kafka.Producer {
	if len(brokers) == 0 {
		return nil
	}
	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}
	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer
}

func closeProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

// setupTracing возвращает признак включённого трейсинга и функцию сброса спанов.
func setupTracing(ctx context.Context, cfg CommonConfig, service string, logger *log.Entry) (bool, func()) {
	v, _, _ := version.Info()
	_, shutdown, err := observability.Init(ctx, observability.Config{
		ServiceName:    service,
		ServiceVersion: v,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       true,
		Disabled:       cfg.TracingDisabled,
	}, logger.WithField("component", "observability"))
	if err != nil {
		logger.WithError(err).Warn("failed to initialize tracing, continuing without it")
		return false, func() {}
	}
	return !cfg.TracingDisabled, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}
}

// metricsHandler — служебный listener: /metrics и проверки здоровья.
func metricsHandler(h *health.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", h)
	mux.HandleFunc("/livez", health.LivenessHandler)
	mux.HandleFunc("/readyz", h.ReadinessHandler)
	return mux
}

// serveHTTP запускает сервер в группе и останавливает его при отмене ctx.
func serveHTTP(ctx context.Context, g *errgroup.Group, name, addr string, handler http.Handler, shutdownTimeout time.Duration, logger *log.Entry) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	entry := logger.WithFields(log.Fields{"listener": name, "addr": addr})

	g.Go(func() error {
		entry.Info("http listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s listener: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			entry.WithError(err).Warn("http shutdown with error")
		}
		entry.Info("http listener stopped")
		return nil
	})
}

// runWorker запускает фоновый цикл, живущий до отмены ctx.
func runWorker(ctx context.Context, g *errgroup.Group, run func(context.Context)) {
	g.Go(func() error {
		run(ctx)
		return nil
	})
}

// waitGroup дожидается группы; штатная остановка по сигналу ошибкой не считается.
func waitGroup(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func storageCheck(repos *repositories) health.Checker {
	return health.CheckFunc(repos.ping)
}
