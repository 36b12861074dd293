package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubhub/billing-engine/internal/db"
	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/pkg/logger"
	"github.com/google/uuid"
)

// MandateRepository интерфейс репозитория платежных мандатов
type MandateRepository interface {
	Create(ctx context.Context, mandate domain.PaymentMandate) (domain.PaymentMandate, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.PaymentMandate, error)
	GetDefaultByPayer(ctx context.Context, payerID uuid.UUID) (domain.PaymentMandate, error)
	Update(ctx context.Context, mandate domain.PaymentMandate) error
	List(ctx context.Context) ([]domain.PaymentMandate, error)
}

// InMemoryMandateRepository реализация репозитория мандатов в памяти
type InMemoryMandateRepository struct {
	mandates map[uuid.UUID]domain.PaymentMandate
	mutex    sync.RWMutex
	log      *logger.Logger
}

// NewInMemoryMandateRepository создает новый репозиторий мандатов в памяти
func NewInMemoryMandateRepository(log *logger.Logger) *InMemoryMandateRepository {
	return &InMemoryMandateRepository{
		mandates: make(map[uuid.UUID]domain.PaymentMandate),
		log:      log,
	}
}

// Create создает новый мандат. Установка is_default снимает флаг
// с прежнего мандата по умолчанию того же плательщика.
func (r *InMemoryMandateRepository) Create(ctx context.Context, mandate domain.PaymentMandate) (domain.PaymentMandate, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.mandates[mandate.ID]; exists {
		return domain.PaymentMandate{}, ErrDuplicate
	}

	if mandate.IsDefault {
		for id, existing := range r.mandates {
			if existing.PayerID == mandate.PayerID && existing.IsDefault {
				existing.IsDefault = false
				r.mandates[id] = existing
			}
		}
	}

	mandate.CreatedAt = time.Now()
	mandate.UpdatedAt = time.Now()
	r.mandates[mandate.ID] = mandate

	return mandate, nil
}

// GetByID возвращает мандат по ID
func (r *InMemoryMandateRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.PaymentMandate, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	mandate, exists := r.mandates[id]
	if !exists {
		return domain.PaymentMandate{}, ErrNotFound
	}

	return mandate, nil
}

// GetDefaultByPayer возвращает мандат плательщика по умолчанию
func (r *InMemoryMandateRepository) GetDefaultByPayer(ctx context.Context, payerID uuid.UUID) (domain.PaymentMandate, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, mandate := range r.mandates {
		if mandate.PayerID == payerID && mandate.IsDefault {
			return mandate, nil
		}
	}

	return domain.PaymentMandate{}, ErrNotFound
}

// Update обновляет существующий мандат
func (r *InMemoryMandateRepository) Update(ctx context.Context, mandate domain.PaymentMandate) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.mandates[mandate.ID]; !exists {
		return ErrNotFound
	}

	mandate.UpdatedAt = time.Now()
	r.mandates[mandate.ID] = mandate

	return nil
}

// List возвращает все мандаты
func (r *InMemoryMandateRepository) List(ctx context.Context) ([]domain.PaymentMandate, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	mandates := make([]domain.PaymentMandate, 0, len(r.mandates))
	for _, mandate := range r.mandates {
		mandates = append(mandates, mandate)
	}

	return mandates, nil
}

// PostgresMandateRepository реализация репозитория мандатов через PostgreSQL
type PostgresMandateRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresMandateRepository создает новый репозиторий мандатов через PostgreSQL
func NewPostgresMandateRepository(pool *pgxpool.Pool, log *logger.Logger) *PostgresMandateRepository {
	return &PostgresMandateRepository{
		pool: pool,
		log:  log,
	}
}

const mandateColumns = `
	id, payer_id, provider, provider_mandate_id, scheme, status, is_default,
	created_at, updated_at
`

func scanMandate(row rowScanner) (domain.PaymentMandate, error) {
	var mandate domain.PaymentMandate
	err := row.Scan(
		&mandate.ID,
		&mandate.PayerID,
		&mandate.Provider,
		&mandate.ProviderMandateID,
		&mandate.Scheme,
		&mandate.Status,
		&mandate.IsDefault,
		&mandate.CreatedAt,
		&mandate.UpdatedAt,
	)
	return mandate, err
}

// Create создает новый мандат в базе данных. Сброс прежнего мандата
// по умолчанию и вставка выполняются одним батчем, уникальность
// обеспечивает частичный индекс (payer_id) WHERE is_default.
func (r *PostgresMandateRepository) Create(ctx context.Context, mandate domain.PaymentMandate) (domain.PaymentMandate, error) {
	q := db.QuerierFrom(ctx, r.pool)

	if mandate.IsDefault {
		clearQuery := `UPDATE payment_mandates SET is_default = FALSE, updated_at = $1 WHERE payer_id = $2 AND is_default`
		if _, err := q.Exec(ctx, clearQuery, time.Now(), mandate.PayerID); err != nil {
			return domain.PaymentMandate{}, fmt.Errorf("failed to clear default mandate: %w", err)
		}
	}

	query := `
		INSERT INTO payment_mandates (
			id, payer_id, provider, provider_mandate_id, scheme, status, is_default,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := q.QueryRow(
		ctx,
		query,
		mandate.ID,
		mandate.PayerID,
		mandate.Provider,
		mandate.ProviderMandateID,
		mandate.Scheme,
		mandate.Status,
		mandate.IsDefault,
		time.Now(),
		time.Now(),
	).Scan(&mandate.CreatedAt, &mandate.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.PaymentMandate{}, ErrDuplicate
		}
		return domain.PaymentMandate{}, fmt.Errorf("failed to create mandate: %w", err)
	}

	return mandate, nil
}

// GetByID возвращает мандат по ID из базы данных
func (r *PostgresMandateRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.PaymentMandate, error) {
	query := `SELECT ` + mandateColumns + ` FROM payment_mandates WHERE id = $1`

	q := db.QuerierFrom(ctx, r.pool)
	mandate, err := scanMandate(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PaymentMandate{}, ErrNotFound
		}
		return domain.PaymentMandate{}, fmt.Errorf("failed to get mandate: %w", err)
	}

	return mandate, nil
}

// GetDefaultByPayer возвращает мандат плательщика по умолчанию
func (r *PostgresMandateRepository) GetDefaultByPayer(ctx context.Context, payerID uuid.UUID) (domain.PaymentMandate, error) {
	query := `SELECT ` + mandateColumns + ` FROM payment_mandates WHERE payer_id = $1 AND is_default`

	q := db.QuerierFrom(ctx, r.pool)
	mandate, err := scanMandate(q.QueryRow(ctx, query, payerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PaymentMandate{}, ErrNotFound
		}
		return domain.PaymentMandate{}, fmt.Errorf("failed to get default mandate: %w", err)
	}

	return mandate, nil
}

// Update обновляет существующий мандат в базе данных
func (r *PostgresMandateRepository) Update(ctx context.Context, mandate domain.PaymentMandate) error {
	query := `
		UPDATE payment_mandates
		SET provider = $1, provider_mandate_id = $2, scheme = $3, status = $4,
			is_default = $5, updated_at = $6
		WHERE id = $7
	`

	q := db.QuerierFrom(ctx, r.pool)
	result, err := q.Exec(
		ctx,
		query,
		mandate.Provider,
		mandate.ProviderMandateID,
		mandate.Scheme,
		mandate.Status,
		mandate.IsDefault,
		time.Now(),
		mandate.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update mandate: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// List возвращает все мандаты из базы данных
func (r *PostgresMandateRepository) List(ctx context.Context) ([]domain.PaymentMandate, error) {
	query := `SELECT ` + mandateColumns + ` FROM payment_mandates ORDER BY created_at`

	q := db.QuerierFrom(ctx, r.pool)
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query mandates: %w", err)
	}
	defer rows.Close()

	var mandates []domain.PaymentMandate
	for rows.Next() {
		mandate, err := scanMandate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mandate: %w", err)
		}
		mandates = append(mandates, mandate)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mandates: %w", err)
	}

	return mandates, nil
}
