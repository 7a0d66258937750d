package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
)

const (
	opTimeout = 5 * time.Second

	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// StoreOptions задаёт параметры пула соединений.
type StoreOptions struct {
	Logger       *log.Entry
	MaxOpenConns int
	MaxIdleConns int
}

// StoreOption настраивает Store.
type StoreOption func(*StoreOptions)

// WithStoreLogger задаёт logger для миграций и диагностики.
func WithStoreLogger(logger *log.Entry) StoreOption {
	return func(o *StoreOptions) { o.Logger = logger }
}

// WithPoolSize задаёт размер пула соединений.
func WithPoolSize(maxOpen, maxIdle int) StoreOption {
	return func(o *StoreOptions) {
		o.MaxOpenConns = maxOpen
		o.MaxIdleConns = maxIdle
	}
}

// Store оборачивает общий пул соединений к PostgreSQL, на котором работают все репозитории сервиса.
type Store struct {
	db     *sql.DB
	logger *log.Entry
}

// Open открывает пул через pgx stdlib и проверяет доступность базы.
func Open(ctx context.Context, dsn string, options ...StoreOption) (*Store, error) {
	opts := StoreOptions{MaxOpenConns: defaultMaxOpenConns, MaxIdleConns: defaultMaxIdleConns}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "postgres")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	store := &Store{db: db, logger: opts.Logger}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB возвращает пул для репозиториев и gorm.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения (используется readiness-проверкой).
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close закрывает пул.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTimeout ограничивает одну операцию репозитория, не выходя за дедлайн вызывающего.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// rollback откатывает транзакцию, если она ещё не закоммичена.
func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
