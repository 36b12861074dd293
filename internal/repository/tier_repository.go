package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clubhub/billing-engine/internal/db"
	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/pkg/logger"
	"github.com/google/uuid"
)

// TierRepository интерфейс репозитория тарифов членства
type TierRepository interface {
	Create(ctx context.Context, tier domain.MembershipTier) (domain.MembershipTier, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.MembershipTier, error)
}

// InMemoryTierRepository реализация репозитория тарифов в памяти
type InMemoryTierRepository struct {
	tiers map[uuid.UUID]domain.MembershipTier
	mutex sync.RWMutex
	log   *logger.Logger
}

// NewInMemoryTierRepository создает новый репозиторий тарифов в памяти
func NewInMemoryTierRepository(log *logger.Logger) *InMemoryTierRepository {
	return &InMemoryTierRepository{
		tiers: make(map[uuid.UUID]domain.MembershipTier),
		log:   log,
	}
}

// Create создает новый тариф
func (r *InMemoryTierRepository) Create(ctx context.Context, tier domain.MembershipTier) (domain.MembershipTier, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.tiers[tier.ID]; exists {
		return domain.MembershipTier{}, ErrDuplicate
	}

	tier.CreatedAt = time.Now()
	tier.UpdatedAt = time.Now()
	r.tiers[tier.ID] = tier

	return tier, nil
}

// GetByID возвращает тариф по ID
func (r *InMemoryTierRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.MembershipTier, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	tier, exists := r.tiers[id]
	if !exists {
		return domain.MembershipTier{}, ErrNotFound
	}

	return tier, nil
}

// PostgresTierRepository реализация репозитория тарифов через PostgreSQL
type PostgresTierRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresTierRepository создает новый репозиторий тарифов через PostgreSQL
func NewPostgresTierRepository(pool *pgxpool.Pool, log *logger.Logger) *PostgresTierRepository {
	return &PostgresTierRepository{
		pool: pool,
		log:  log,
	}
}

// Create создает новый тариф в базе данных
func (r *PostgresTierRepository) Create(ctx context.Context, tier domain.MembershipTier) (domain.MembershipTier, error) {
	query := `
		INSERT INTO membership_tiers (id, club_id, name, price, currency, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	q := db.QuerierFrom(ctx, r.pool)
	err := q.QueryRow(
		ctx,
		query,
		tier.ID,
		tier.ClubID,
		tier.Name,
		tier.Price.String(),
		tier.Currency,
		tier.Active,
		time.Now(),
		time.Now(),
	).Scan(&tier.CreatedAt, &tier.UpdatedAt)

	if err != nil {
		return domain.MembershipTier{}, fmt.Errorf("failed to create membership tier: %w", err)
	}

	return tier, nil
}

// GetByID возвращает тариф по ID из базы данных
func (r *PostgresTierRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.MembershipTier, error) {
	query := `
		SELECT id, club_id, name, price, currency, active, created_at, updated_at
		FROM membership_tiers
		WHERE id = $1
	`

	var tier domain.MembershipTier
	var priceStr string

	q := db.QuerierFrom(ctx, r.pool)
	err := q.QueryRow(ctx, query, id).Scan(
		&tier.ID,
		&tier.ClubID,
		&tier.Name,
		&priceStr,
		&tier.Currency,
		&tier.Active,
		&tier.CreatedAt,
		&tier.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MembershipTier{}, ErrNotFound
		}
		return domain.MembershipTier{}, fmt.Errorf("failed to get membership tier: %w", err)
	}

	tier.Price, err = decimal.NewFromString(priceStr)
	if err != nil {
		return domain.MembershipTier{}, fmt.Errorf("failed to parse tier price: %w", err)
	}

	return tier, nil
}
