package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubhub/billing-engine/internal/db"
	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/pkg/logger"
	"github.com/google/uuid"
)

// EventRepository интерфейс append-only журнала событий подписок
type EventRepository interface {
	Append(ctx context.Context, event domain.SubscriptionEvent) (domain.SubscriptionEvent, error)
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]domain.SubscriptionEvent, error)
}

// InMemoryEventRepository реализация журнала событий подписок в памяти.
// Журнал append-only, методов изменения и удаления нет.
type InMemoryEventRepository struct {
	events []domain.SubscriptionEvent
	mutex  sync.RWMutex
	log    *logger.Logger
}

// NewInMemoryEventRepository создает новый журнал событий в памяти
func NewInMemoryEventRepository(log *logger.Logger) *InMemoryEventRepository {
	return &InMemoryEventRepository{log: log}
}

// Append добавляет запись в журнал
func (r *InMemoryEventRepository) Append(ctx context.Context, event domain.SubscriptionEvent) (domain.SubscriptionEvent, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	event.CreatedAt = time.Now()
	r.events = append(r.events, event)

	return event, nil
}

// ListBySubscription возвращает записи журнала по подписке
func (r *InMemoryEventRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]domain.SubscriptionEvent, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []domain.SubscriptionEvent
	for _, event := range r.events {
		if event.SubscriptionID == subscriptionID {
			result = append(result, event)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// PostgresEventRepository реализация журнала событий через PostgreSQL
type PostgresEventRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresEventRepository создает новый журнал событий через PostgreSQL
func NewPostgresEventRepository(pool *pgxpool.Pool, log *logger.Logger) *PostgresEventRepository {
	return &PostgresEventRepository{
		pool: pool,
		log:  log,
	}
}

// Append добавляет запись в журнал
func (r *PostgresEventRepository) Append(ctx context.Context, event domain.SubscriptionEvent) (domain.SubscriptionEvent, error) {
	query := `
		INSERT INTO subscription_events (
			id, subscription_id, previous_status, new_status,
			previous_tier_id, new_tier_id, actor_type, actor_id,
			description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	q := db.QuerierFrom(ctx, r.pool)
	err := q.QueryRow(
		ctx,
		query,
		event.ID,
		event.SubscriptionID,
		event.PreviousStatus,
		event.NewStatus,
		event.PreviousTierID,
		event.NewTierID,
		event.ActorType,
		event.ActorID,
		event.Description,
		time.Now(),
	).Scan(&event.CreatedAt)

	if err != nil {
		return domain.SubscriptionEvent{}, fmt.Errorf("failed to append subscription event: %w", err)
	}

	return event, nil
}

// ListBySubscription возвращает записи журнала по подписке
func (r *PostgresEventRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]domain.SubscriptionEvent, error) {
	query := `
		SELECT id, subscription_id, previous_status, new_status,
			previous_tier_id, new_tier_id, actor_type, actor_id,
			description, created_at
		FROM subscription_events
		WHERE subscription_id = $1
		ORDER BY created_at
	`

	q := db.QuerierFrom(ctx, r.pool)
	rows, err := q.Query(ctx, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription events: %w", err)
	}
	defer rows.Close()

	var events []domain.SubscriptionEvent
	for rows.Next() {
		var event domain.SubscriptionEvent
		err := rows.Scan(
			&event.ID,
			&event.SubscriptionID,
			&event.PreviousStatus,
			&event.NewStatus,
			&event.PreviousTierID,
			&event.NewTierID,
			&event.ActorType,
			&event.ActorID,
			&event.Description,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription events: %w", err)
	}

	return events, nil
}
