// Package postgres хранит клиентов, кофейни, заказы и служебные записи в PostgreSQL.
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

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

const (
	connectTimeout = 5 * time.Second

	// opTimeout ограничивает одиночные запросы вне транзакции.
	opTimeout = 5 * time.Second

	defaultTxAttempts = 3
	txRetryPause      = 20 * time.Millisecond
)

// SQLSTATE, на которые реагирует хранилище.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Pool задаёт параметры пула подключений. Нулевые поля заменяются значениями по умолчанию.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (p Pool) apply(db *sql.DB) {
	db.SetMaxOpenConns(orDefault(p.MaxOpenConns, 25))
	db.SetMaxIdleConns(orDefault(p.MaxIdleConns, orDefault(p.MaxOpenConns, 25)))
	db.SetConnMaxLifetime(orDefault(p.ConnMaxLifetime, 30*time.Minute))
	db.SetConnMaxIdleTime(orDefault(p.ConnMaxIdleTime, 5*time.Minute))
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

type settings struct {
	pool       Pool
	logger     *log.Entry
	txAttempts int
}

// Option настраивает Store при открытии.
type Option func(*settings)

// WithPool задаёт параметры пула подключений.
func WithPool(pool Pool) Option {
	return func(s *settings) { s.pool = pool }
}

// WithLogger задаёт логгер хранилища.
func WithLogger(logger *log.Entry) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTxAttempts ограничивает число попыток транзакции при конфликте сериализации
// или взаимной блокировке. 1 отключает повторы.
func WithTxAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.txAttempts = n
		}
	}
}

// querier — общий набор методов *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store держит пул подключений к PostgreSQL и реализует domain.TxManager.
type Store struct {
	db         *sql.DB
	logger     *log.Entry
	txAttempts int
}

var errNotInitialized = errors.New("postgres store is not initialized")

// Open подключается к PostgreSQL через драйвер pgx и проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg := settings{
		logger:     log.WithField("component", "postgres"),
		txAttempts: defaultTxAttempts,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	cfg.pool.apply(db)

	store := &Store{db: db, logger: cfg.logger, txAttempts: cfg.txAttempts}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB возвращает пул для запросов вне репозиториев.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Repositories возвращает репозитории, работающие вне транзакции.
// LockQueue вне InTx ничего не удерживает.
func (s *Store) Repositories() domain.Repositories {
	return newRepositories(s.db, s.db)
}

// InTx выполняет fn в одной транзакции. Ошибка fn или паника откатывают её.
// При конфликте сериализации или взаимной блокировке fn повторяется целиком,
// поэтому fn не должна иметь побочных эффектов вне транзакции.
func (s *Store) InTx(ctx context.Context, fn func(repos domain.Repositories) error) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = s.once(ctx, fn)
		if err == nil || !retryable(err) || attempt >= s.txAttempts {
			return err
		}
		s.logger.WithError(err).WithField("attempt", attempt).Debug("transaction conflict, retrying")

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * txRetryPause):
		}
	}
}

func (s *Store) once(ctx context.Context, fn func(repos domain.Repositories) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.WithError(rbErr).Warn("rollback failed")
		}
	}()

	if err = fn(newRepositories(tx, nil)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// newRepositories связывает репозитории с q. db != nil означает работу вне транзакции:
// многошаговые операции тогда открывают собственную транзакцию.
func newRepositories(q querier, db *sql.DB) domain.Repositories {
	return domain.Repositories{
		Customers: &customerRepository{q: q},
		Shops:     &shopRepository{q: q},
		MenuItems: &menuItemRepository{q: q},
		Orders:    &orderRepository{q: q, db: db},
	}
}

// sqlState возвращает код ошибки PostgreSQL или пустую строку.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool     { return sqlState(err) == codeUniqueViolation }
func isForeignKeyViolation(err error) bool { return sqlState(err) == codeForeignKeyViolation }

func retryable(err error) bool {
	switch sqlState(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	default:
		return false
	}
}

var _ domain.TxManager = (*Store)(nil)
