package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clubhub/billing-engine/internal/db"
	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/pkg/logger"
	"github.com/google/uuid"
)

// PaymentRepository интерфейс репозитория попыток списания
type PaymentRepository interface {
	Create(ctx context.Context, payment domain.ProviderPayment) (domain.ProviderPayment, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ProviderPayment, error)
	GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (domain.ProviderPayment, error)
	Update(ctx context.Context, payment domain.ProviderPayment) error
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]domain.ProviderPayment, error)
	ListPendingSubmission(ctx context.Context, asOf time.Time) ([]domain.ProviderPayment, error)
	ListUnresolved(ctx context.Context, olderThan time.Time) ([]domain.ProviderPayment, error)
	HasHistoryForSubscription(ctx context.Context, subscriptionID uuid.UUID) (bool, error)
}

// InMemoryPaymentRepository реализация репозитория платежей в памяти
type InMemoryPaymentRepository struct {
	payments map[uuid.UUID]domain.ProviderPayment
	mutex    sync.RWMutex
	log      *logger.Logger
}

// NewInMemoryPaymentRepository создает новый репозиторий платежей в памяти
func NewInMemoryPaymentRepository(log *logger.Logger) *InMemoryPaymentRepository {
	return &InMemoryPaymentRepository{
		payments: make(map[uuid.UUID]domain.ProviderPayment),
		log:      log,
	}
}

// Create создает новую запись о попытке списания
func (r *InMemoryPaymentRepository) Create(ctx context.Context, payment domain.ProviderPayment) (domain.ProviderPayment, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.payments[payment.ID]; exists {
		return domain.ProviderPayment{}, ErrDuplicate
	}

	payment.CreatedAt = time.Now()
	payment.UpdatedAt = time.Now()
	r.payments[payment.ID] = payment

	return payment, nil
}

// GetByID возвращает платеж по ID
func (r *InMemoryPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ProviderPayment, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	payment, exists := r.payments[id]
	if !exists {
		return domain.ProviderPayment{}, ErrNotFound
	}

	return payment, nil
}

// GetByProviderPaymentID возвращает платеж по идентификатору провайдера
func (r *InMemoryPaymentRepository) GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (domain.ProviderPayment, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, payment := range r.payments {
		if payment.ProviderPaymentID == providerPaymentID {
			return payment, nil
		}
	}

	return domain.ProviderPayment{}, ErrNotFound
}

// Update обновляет существующий платеж
func (r *InMemoryPaymentRepository) Update(ctx context.Context, payment domain.ProviderPayment) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.payments[payment.ID]; !exists {
		return ErrNotFound
	}

	payment.UpdatedAt = time.Now()
	r.payments[payment.ID] = payment

	return nil
}

// ListBySubscription возвращает платежи подписки
func (r *InMemoryPaymentRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]domain.ProviderPayment, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []domain.ProviderPayment
	for _, payment := range r.payments {
		if payment.SubscriptionID != nil && *payment.SubscriptionID == subscriptionID {
			result = append(result, payment)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// ListPendingSubmission возвращает платежи, ожидающие отправки провайдеру,
// с наступившей датой списания
func (r *InMemoryPaymentRepository) ListPendingSubmission(ctx context.Context, asOf time.Time) ([]domain.ProviderPayment, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []domain.ProviderPayment
	for _, payment := range r.payments {
		if payment.Status == domain.ProviderPaymentStatusPendingSubmission && !payment.ChargeDate.After(asOf) {
			result = append(result, payment)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ChargeDate.Before(result[j].ChargeDate)
	})

	return result, nil
}

// ListUnresolved возвращает отправленные платежи без терминального статуса,
// созданные раньше указанного момента — кандидаты на опрос провайдера
func (r *InMemoryPaymentRepository) ListUnresolved(ctx context.Context, olderThan time.Time) ([]domain.ProviderPayment, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []domain.ProviderPayment
	for _, payment := range r.payments {
		if payment.Status == domain.ProviderPaymentStatusSubmitted && payment.CreatedAt.Before(olderThan) {
			result = append(result, payment)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// HasHistoryForSubscription проверяет наличие хотя бы одного платежа подписки
func (r *InMemoryPaymentRepository) HasHistoryForSubscription(ctx context.Context, subscriptionID uuid.UUID) (bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, payment := range r.payments {
		if payment.SubscriptionID != nil && *payment.SubscriptionID == subscriptionID {
			return true, nil
		}
	}

	return false, nil
}

// PostgresPaymentRepository реализация репозитория платежей через PostgreSQL
type PostgresPaymentRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresPaymentRepository создает новый репозиторий платежей через PostgreSQL
func NewPostgresPaymentRepository(pool *pgxpool.Pool, log *logger.Logger) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{
		pool: pool,
		log:  log,
	}
}

const paymentColumns = `
	id, subscription_id, invoice_id, provider_payment_id, amount, currency,
	status, description, charge_date, failure_reason, retry_count,
	payout_id, paid_out_at, created_at, updated_at
`

func scanPayment(row rowScanner) (domain.ProviderPayment, error) {
	var payment domain.ProviderPayment
	var amountStr string

	err := row.Scan(
		&payment.ID,
		&payment.SubscriptionID,
		&payment.InvoiceID,
		&payment.ProviderPaymentID,
		&amountStr,
		&payment.Currency,
		&payment.Status,
		&payment.Description,
		&payment.ChargeDate,
		&payment.FailureReason,
		&payment.RetryCount,
		&payment.PayoutID,
		&payment.PaidOutAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return domain.ProviderPayment{}, err
	}

	payment.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return domain.ProviderPayment{}, fmt.Errorf("failed to parse payment amount: %w", err)
	}

	return payment, nil
}

// Create создает новую запись о попытке списания в базе данных
func (r *PostgresPaymentRepository) Create(ctx context.Context, payment domain.ProviderPayment) (domain.ProviderPayment, error) {
	query := `
		INSERT INTO provider_payments (
			id, subscription_id, invoice_id, provider_payment_id, amount, currency,
			status, description, charge_date, failure_reason, retry_count,
			payout_id, paid_out_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`

	q := db.QuerierFrom(ctx, r.pool)
	err := q.QueryRow(
		ctx,
		query,
		payment.ID,
		payment.SubscriptionID,
		payment.InvoiceID,
		payment.ProviderPaymentID,
		payment.Amount.String(),
		payment.Currency,
		payment.Status,
		payment.Description,
		payment.ChargeDate,
		payment.FailureReason,
		payment.RetryCount,
		payment.PayoutID,
		payment.PaidOutAt,
		time.Now(),
		time.Now(),
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" {
				return domain.ProviderPayment{}, ErrDuplicate
			}
			if pgErr.Code == "23503" {
				return domain.ProviderPayment{}, ErrNotFound
			}
		}
		return domain.ProviderPayment{}, fmt.Errorf("failed to create payment: %w", err)
	}

	return payment, nil
}

// GetByID возвращает платеж по ID из базы данных
func (r *PostgresPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ProviderPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM provider_payments WHERE id = $1`

	q := db.QuerierFrom(ctx, r.pool)
	payment, err := scanPayment(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ProviderPayment{}, ErrNotFound
		}
		return domain.ProviderPayment{}, fmt.Errorf("failed to get payment: %w", err)
	}

	return payment, nil
}

// GetByProviderPaymentID возвращает платеж по идентификатору провайдера
func (r *PostgresPaymentRepository) GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (domain.ProviderPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM provider_payments WHERE provider_payment_id = $1`

	q := db.QuerierFrom(ctx, r.pool)
	payment, err := scanPayment(q.QueryRow(ctx, query, providerPaymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ProviderPayment{}, ErrNotFound
		}
		return domain.ProviderPayment{}, fmt.Errorf("failed to get payment by provider id: %w", err)
	}

	return payment, nil
}

// Update обновляет существующий платеж в базе данных
func (r *PostgresPaymentRepository) Update(ctx context.Context, payment domain.ProviderPayment) error {
	query := `
		UPDATE provider_payments
		SET provider_payment_id = $1, status = $2, failure_reason = $3,
			retry_count = $4, payout_id = $5, paid_out_at = $6,
			charge_date = $7, updated_at = $8
		WHERE id = $9
	`

	q := db.QuerierFrom(ctx, r.pool)
	result, err := q.Exec(
		ctx,
		query,
		payment.ProviderPaymentID,
		payment.Status,
		payment.FailureReason,
		payment.RetryCount,
		payment.PayoutID,
		payment.PaidOutAt,
		payment.ChargeDate,
		time.Now(),
		payment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListBySubscription возвращает платежи подписки из базы данных
func (r *PostgresPaymentRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]domain.ProviderPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM provider_payments WHERE subscription_id = $1 ORDER BY created_at`

	q := db.QuerierFrom(ctx, r.pool)
	rows, err := q.Query(ctx, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	return collectPayments(rows)
}

// ListPendingSubmission возвращает платежи, ожидающие отправки провайдеру
func (r *PostgresPaymentRepository) ListPendingSubmission(ctx context.Context, asOf time.Time) ([]domain.ProviderPayment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM provider_payments
		WHERE status = $1 AND charge_date <= $2
		ORDER BY charge_date
	`

	q := db.QuerierFrom(ctx, r.pool)
	rows, err := q.Query(ctx, query, domain.ProviderPaymentStatusPendingSubmission, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending payments: %w", err)
	}
	defer rows.Close()

	return collectPayments(rows)
}

// ListUnresolved возвращает отправленные платежи без терминального статуса
func (r *PostgresPaymentRepository) ListUnresolved(ctx context.Context, olderThan time.Time) ([]domain.ProviderPayment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM provider_payments
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
	`

	q := db.QuerierFrom(ctx, r.pool)
	rows, err := q.Query(ctx, query, domain.ProviderPaymentStatusSubmitted, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to query unresolved payments: %w", err)
	}
	defer rows.Close()

	return collectPayments(rows)
}

// HasHistoryForSubscription проверяет наличие хотя бы одного платежа подписки
func (r *PostgresPaymentRepository) HasHistoryForSubscription(ctx context.Context, subscriptionID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM provider_payments WHERE subscription_id = $1)`

	q := db.QuerierFrom(ctx, r.pool)
	var exists bool
	if err := q.QueryRow(ctx, query, subscriptionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check payment history: %w", err)
	}

	return exists, nil
}

func collectPayments(rows pgx.Rows) ([]domain.ProviderPayment, error) {
	var payments []domain.ProviderPayment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, payment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}

	return payments, nil
}
