package repository

import "context"

// Transactor выполняет fn внутри одной транзакционной границы. Все записи
// по одной единице обработки подписки фиксируются вместе.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoopTransactor выполняет fn без транзакции. Используется с in-memory
// репозиториями, где атомарность обеспечивается их внутренними мьютексами.
type NoopTransactor struct{}

// WithTx выполняет fn в том же контексте
func (NoopTransactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
