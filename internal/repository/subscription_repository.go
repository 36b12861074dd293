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

// SubscriptionRepository интерфейс репозитория подписок
type SubscriptionRepository interface {
	Create(ctx context.Context, subscription domain.Subscription) (domain.Subscription, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error)
	Update(ctx context.Context, subscription domain.Subscription) error
	ListByStatus(ctx context.Context, statuses ...domain.SubscriptionStatus) ([]domain.Subscription, error)
	ListDue(ctx context.Context, asOf time.Time) ([]domain.Subscription, error)
	CountByStatus(ctx context.Context) (map[domain.SubscriptionStatus]int, error)
}

// InMemorySubscriptionRepository реализация репозитория подписок в памяти
type InMemorySubscriptionRepository struct {
	subscriptions map[uuid.UUID]domain.Subscription
	mutex         sync.RWMutex
	log           *logger.Logger
}

// NewInMemorySubscriptionRepository создает новый репозиторий подписок в памяти
func NewInMemorySubscriptionRepository(log *logger.Logger) *InMemorySubscriptionRepository {
	return &InMemorySubscriptionRepository{
		subscriptions: make(map[uuid.UUID]domain.Subscription),
		log:           log,
	}
}

// Create создает новую подписку
func (r *InMemorySubscriptionRepository) Create(ctx context.Context, subscription domain.Subscription) (domain.Subscription, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.subscriptions[subscription.ID]; exists {
		return domain.Subscription{}, ErrDuplicate
	}

	subscription.CreatedAt = time.Now()
	subscription.UpdatedAt = time.Now()
	r.subscriptions[subscription.ID] = subscription

	return subscription, nil
}

// GetByID возвращает подписку по ID
func (r *InMemorySubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	subscription, exists := r.subscriptions[id]
	if !exists {
		return domain.Subscription{}, ErrNotFound
	}

	return subscription, nil
}

// Update обновляет существующую подписку
func (r *InMemorySubscriptionRepository) Update(ctx context.Context, subscription domain.Subscription) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.subscriptions[subscription.ID]; !exists {
		return ErrNotFound
	}

	subscription.UpdatedAt = time.Now()
	r.subscriptions[subscription.ID] = subscription

	return nil
}

// ListByStatus возвращает подписки в указанных статусах
func (r *InMemorySubscriptionRepository) ListByStatus(ctx context.Context, statuses ...domain.SubscriptionStatus) ([]domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []domain.Subscription
	for _, subscription := range r.subscriptions {
		for _, status := range statuses {
			if subscription.Status == status {
				result = append(result, subscription)
				break
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// ListDue возвращает активные подписки с наступившей датой списания
func (r *InMemorySubscriptionRepository) ListDue(ctx context.Context, asOf time.Time) ([]domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []domain.Subscription
	for _, subscription := range r.subscriptions {
		if subscription.Status == domain.SubscriptionStatusActive && !subscription.NextBillingDate.After(asOf) {
			result = append(result, subscription)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].NextBillingDate.Before(result[j].NextBillingDate)
	})

	return result, nil
}

// CountByStatus возвращает количество подписок по статусам
func (r *InMemorySubscriptionRepository) CountByStatus(ctx context.Context) (map[domain.SubscriptionStatus]int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	counts := make(map[domain.SubscriptionStatus]int)
	for _, subscription := range r.subscriptions {
		counts[subscription.Status]++
	}

	return counts, nil
}

// PostgresSubscriptionRepository реализация репозитория подписок через PostgreSQL
type PostgresSubscriptionRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresSubscriptionRepository создает новый репозиторий подписок через PostgreSQL
func NewPostgresSubscriptionRepository(pool *pgxpool.Pool, log *logger.Logger) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{
		pool: pool,
		log:  log,
	}
}

const subscriptionColumns = `
	id, club_id, payer_id, member_id, tier_id, mandate_id,
	provider_subscription_id, status, billing_frequency, billing_day_of_month,
	amount, currency, current_period_start, current_period_end,
	next_billing_date, failed_payment_count, last_failed_payment_date,
	paused_at, resume_date, cancelled_at, cancellation_reason,
	created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (domain.Subscription, error) {
	var subscription domain.Subscription
	var amountStr string

	err := row.Scan(
		&subscription.ID,
		&subscription.ClubID,
		&subscription.PayerID,
		&subscription.MemberID,
		&subscription.TierID,
		&subscription.MandateID,
		&subscription.ProviderSubscriptionID,
		&subscription.Status,
		&subscription.BillingFrequency,
		&subscription.BillingDayOfMonth,
		&amountStr,
		&subscription.Currency,
		&subscription.CurrentPeriodStart,
		&subscription.CurrentPeriodEnd,
		&subscription.NextBillingDate,
		&subscription.FailedPaymentCount,
		&subscription.LastFailedPaymentDate,
		&subscription.PausedAt,
		&subscription.ResumeDate,
		&subscription.CancelledAt,
		&subscription.CancellationReason,
		&subscription.CreatedAt,
		&subscription.UpdatedAt,
	)
	if err != nil {
		return domain.Subscription{}, err
	}

	subscription.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("failed to parse subscription amount: %w", err)
	}

	return subscription, nil
}

// Create создает новую подписку в базе данных
func (r *PostgresSubscriptionRepository) Create(ctx context.Context, subscription domain.Subscription) (domain.Subscription, error) {
	query := `
		INSERT INTO subscriptions (
			id, club_id, payer_id, member_id, tier_id, mandate_id,
			provider_subscription_id, status, billing_frequency, billing_day_of_month,
			amount, currency, current_period_start, current_period_end,
			next_billing_date, failed_payment_count, last_failed_payment_date,
			paused_at, resume_date, cancelled_at, cancellation_reason,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23
		)
		RETURNING created_at, updated_at
	`

	q := db.QuerierFrom(ctx, r.pool)
	err := q.QueryRow(
		ctx,
		query,
		subscription.ID,
		subscription.ClubID,
		subscription.PayerID,
		subscription.MemberID,
		subscription.TierID,
		subscription.MandateID,
		subscription.ProviderSubscriptionID,
		subscription.Status,
		subscription.BillingFrequency,
		subscription.BillingDayOfMonth,
		subscription.Amount.String(),
		subscription.Currency,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.NextBillingDate,
		subscription.FailedPaymentCount,
		subscription.LastFailedPaymentDate,
		subscription.PausedAt,
		subscription.ResumeDate,
		subscription.CancelledAt,
		subscription.CancellationReason,
		time.Now(),
		time.Now(),
	).Scan(&subscription.CreatedAt, &subscription.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" {
				return domain.Subscription{}, ErrDuplicate
			}
			if pgErr.Code == "23503" {
				return domain.Subscription{}, ErrNotFound
			}
		}
		return domain.Subscription{}, fmt.Errorf("failed to create subscription: %w", err)
	}

	return subscription, nil
}

// GetByID возвращает подписку по ID из базы данных
func (r *PostgresSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	q := db.QuerierFrom(ctx, r.pool)
	subscription, err := scanSubscription(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, ErrNotFound
		}
		return domain.Subscription{}, fmt.Errorf("failed to get subscription: %w", err)
	}

	return subscription, nil
}

// Update обновляет существующую подписку в базе данных
func (r *PostgresSubscriptionRepository) Update(ctx context.Context, subscription domain.Subscription) error {
	query := `
		UPDATE subscriptions
		SET
			tier_id = $1,
			mandate_id = $2,
			provider_subscription_id = $3,
			status = $4,
			billing_frequency = $5,
			billing_day_of_month = $6,
			amount = $7,
			currency = $8,
			current_period_start = $9,
			current_period_end = $10,
			next_billing_date = $11,
			failed_payment_count = $12,
			last_failed_payment_date = $13,
			paused_at = $14,
			resume_date = $15,
			cancelled_at = $16,
			cancellation_reason = $17,
			updated_at = $18
		WHERE id = $19
	`

	q := db.QuerierFrom(ctx, r.pool)
	result, err := q.Exec(
		ctx,
		query,
		subscription.TierID,
		subscription.MandateID,
		subscription.ProviderSubscriptionID,
		subscription.Status,
		subscription.BillingFrequency,
		subscription.BillingDayOfMonth,
		subscription.Amount.String(),
		subscription.Currency,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.NextBillingDate,
		subscription.FailedPaymentCount,
		subscription.LastFailedPaymentDate,
		subscription.PausedAt,
		subscription.ResumeDate,
		subscription.CancelledAt,
		subscription.CancellationReason,
		time.Now(),
		subscription.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListByStatus возвращает подписки в указанных статусах из базы данных
func (r *PostgresSubscriptionRepository) ListByStatus(ctx context.Context, statuses ...domain.SubscriptionStatus) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE status = ANY($1) ORDER BY created_at`

	statusStrings := make([]string, len(statuses))
	for i, status := range statuses {
		statusStrings[i] = string(status)
	}

	q := db.QuerierFrom(ctx, r.pool)
	rows, err := q.Query(ctx, query, statusStrings)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// ListDue возвращает активные подписки с наступившей датой списания
func (r *PostgresSubscriptionRepository) ListDue(ctx context.Context, asOf time.Time) ([]domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = $1 AND next_billing_date <= $2
		ORDER BY next_billing_date
	`

	q := db.QuerierFrom(ctx, r.pool)
	rows, err := q.Query(ctx, query, domain.SubscriptionStatusActive, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query due subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// CountByStatus возвращает количество подписок по статусам
func (r *PostgresSubscriptionRepository) CountByStatus(ctx context.Context) (map[domain.SubscriptionStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`

	q := db.QuerierFrom(ctx, r.pool)
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SubscriptionStatus]int)
	for rows.Next() {
		var status domain.SubscriptionStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan subscription count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription counts: %w", err)
	}

	return counts, nil
}

func collectSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	var subscriptions []domain.Subscription
	for rows.Next() {
		subscription, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subscriptions = append(subscriptions, subscription)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}

	return subscriptions, nil
}
