package db

import (
	"context"
	"fmt"
	"time"

	"github.com/clubhub/billing-engine/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier общий интерфейс выполнения запросов, которому удовлетворяют
// и *pgxpool.Pool, и pgx.Tx. Репозитории работают через него, поэтому
// один и тот же код выполняется как в транзакции, так и вне ее.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Client представляет клиент для работы с базой данных
type Client struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewClient создает новый экземпляр Client и проверяет соединение
func NewClient(ctx context.Context, dsn string, log *logger.Logger) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{pool: pool, log: log}, nil
}

// Pool возвращает пул соединений
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Close закрывает пул соединений
func (c *Client) Close() {
	c.pool.Close()
}

type txKey struct{}

// WithTx выполняет fn внутри транзакции. Транзакция кладется в контекст,
// репозитории извлекают ее через QuerierFrom — так запись состояния
// подписки, сдвиг периода и создание платежа фиксируются вместе.
func (c *Client) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	// вложенный вызов присоединяется к уже открытой транзакции
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			c.log.Errorw("Failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// QuerierFrom возвращает транзакцию из контекста, если она там есть,
// иначе пул соединений
func QuerierFrom(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}
