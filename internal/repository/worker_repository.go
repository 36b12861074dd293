package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubhub/billing-engine/internal/db"
	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/pkg/logger"
	"github.com/google/uuid"
)

// WorkerRepository интерфейс журнала запусков воркеров. StartRun
// атомарно отклоняет запуск, если воркер с тем же именем уже выполняется.
type WorkerRepository interface {
	StartRun(ctx context.Context, workerName string) (domain.WorkerExecution, error)
	FinishRun(ctx context.Context, execution domain.WorkerExecution) error
	ListByWorker(ctx context.Context, workerName string, limit int) ([]domain.WorkerExecution, error)
}

// InMemoryWorkerRepository реализация журнала запусков воркеров в памяти
type InMemoryWorkerRepository struct {
	executions map[uuid.UUID]domain.WorkerExecution
	mutex      sync.Mutex
	log        *logger.Logger
}

// NewInMemoryWorkerRepository создает новый журнал запусков в памяти
func NewInMemoryWorkerRepository(log *logger.Logger) *InMemoryWorkerRepository {
	return &InMemoryWorkerRepository{
		executions: make(map[uuid.UUID]domain.WorkerExecution),
		log:        log,
	}
}

// StartRun атомарно регистрирует запуск воркера. Возвращает
// ErrAlreadyRunning, если открытый запуск с тем же именем уже существует.
func (r *InMemoryWorkerRepository) StartRun(ctx context.Context, workerName string) (domain.WorkerExecution, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, execution := range r.executions {
		if execution.WorkerName == workerName && execution.Status == domain.WorkerStatusRunning {
			return domain.WorkerExecution{}, ErrAlreadyRunning
		}
	}

	execution := domain.WorkerExecution{
		ID:         uuid.New(),
		WorkerName: workerName,
		Status:     domain.WorkerStatusRunning,
		StartedAt:  time.Now(),
	}
	r.executions[execution.ID] = execution

	return execution, nil
}

// FinishRun финализирует запись о запуске
func (r *InMemoryWorkerRepository) FinishRun(ctx context.Context, execution domain.WorkerExecution) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.executions[execution.ID]; !exists {
		return ErrNotFound
	}

	r.executions[execution.ID] = execution

	return nil
}

// ListByWorker возвращает последние запуски воркера, свежие первыми
func (r *InMemoryWorkerRepository) ListByWorker(ctx context.Context, workerName string, limit int) ([]domain.WorkerExecution, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var result []domain.WorkerExecution
	for _, execution := range r.executions {
		if execution.WorkerName == workerName {
			result = append(result, execution)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// PostgresWorkerRepository реализация журнала запусков через PostgreSQL.
// Единственность открытого запуска обеспечивает частичный уникальный
// индекс (worker_name) WHERE status = 'running' — гонка двух планировщиков
// разрешается на уровне базы.
type PostgresWorkerRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresWorkerRepository создает новый журнал запусков через PostgreSQL
func NewPostgresWorkerRepository(pool *pgxpool.Pool, log *logger.Logger) *PostgresWorkerRepository {
	return &PostgresWorkerRepository{
		pool: pool,
		log:  log,
	}
}

// StartRun атомарно регистрирует запуск воркера
func (r *PostgresWorkerRepository) StartRun(ctx context.Context, workerName string) (domain.WorkerExecution, error) {
	execution := domain.WorkerExecution{
		ID:         uuid.New(),
		WorkerName: workerName,
		Status:     domain.WorkerStatusRunning,
	}

	query := `
		INSERT INTO worker_executions (id, worker_name, status, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING started_at
	`

	q := db.QuerierFrom(ctx, r.pool)
	err := q.QueryRow(ctx, query, execution.ID, workerName, execution.Status, time.Now()).
		Scan(&execution.StartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.WorkerExecution{}, ErrAlreadyRunning
		}
		return domain.WorkerExecution{}, fmt.Errorf("failed to start worker execution: %w", err)
	}

	return execution, nil
}

// FinishRun финализирует запись о запуске
func (r *PostgresWorkerRepository) FinishRun(ctx context.Context, execution domain.WorkerExecution) error {
	query := `
		UPDATE worker_executions
		SET status = $1, completed_at = $2, duration_ms = $3,
			items_processed = $4, items_successful = $5, items_failed = $6,
			error_message = $7, metadata = $8
		WHERE id = $9
	`

	var metadataBytes []byte
	if execution.Metadata != nil {
		var err error
		metadataBytes, err = json.Marshal(execution.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal execution metadata: %w", err)
		}
	}

	q := db.QuerierFrom(ctx, r.pool)
	result, err := q.Exec(
		ctx,
		query,
		execution.Status,
		execution.CompletedAt,
		execution.Duration.Milliseconds(),
		execution.ItemsProcessed,
		execution.ItemsSuccessful,
		execution.ItemsFailed,
		execution.ErrorMessage,
		metadataBytes,
		execution.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish worker execution: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListByWorker возвращает последние запуски воркера, свежие первыми
func (r *PostgresWorkerRepository) ListByWorker(ctx context.Context, workerName string, limit int) ([]domain.WorkerExecution, error) {
	query := `
		SELECT id, worker_name, status, started_at, completed_at,
			duration_ms, items_processed, items_successful, items_failed,
			error_message, metadata
		FROM worker_executions
		WHERE worker_name = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	q := db.QuerierFrom(ctx, r.pool)
	rows, err := q.Query(ctx, query, workerName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query worker executions: %w", err)
	}
	defer rows.Close()

	var executions []domain.WorkerExecution
	for rows.Next() {
		var execution domain.WorkerExecution
		var durationMS int64
		var metadataBytes []byte

		err := rows.Scan(
			&execution.ID,
			&execution.WorkerName,
			&execution.Status,
			&execution.StartedAt,
			&execution.CompletedAt,
			&durationMS,
			&execution.ItemsProcessed,
			&execution.ItemsSuccessful,
			&execution.ItemsFailed,
			&execution.ErrorMessage,
			&metadataBytes,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker execution: %w", err)
		}

		execution.Duration = time.Duration(durationMS) * time.Millisecond
		if len(metadataBytes) > 0 {
			if err := json.Unmarshal(metadataBytes, &execution.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal execution metadata: %w", err)
			}
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating worker executions: %w", err)
	}

	return executions, nil
}
