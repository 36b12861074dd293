package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/internal/metrics"
	"github.com/clubhub/billing-engine/internal/repository"
	"github.com/clubhub/billing-engine/pkg/logger"
)

// JobFunc тело воркера. Возвращает счетчики по обработанным элементам;
// ошибка означает провал запуска целиком, частичные неудачи остаются
// в WorkerResult.
type JobFunc func(ctx context.Context) (domain.WorkerResult, error)

// WorkerService оркестратор воркеров: каждый именованный запуск — по
// расписанию или вручную — проходит через общий барьер "не больше одного
// выполняющегося запуска на имя" и оставляет запись в журнале запусков.
type WorkerService interface {
	Register(name string, job JobFunc)
	Trigger(ctx context.Context, name string) (domain.WorkerExecution, error)
	ListExecutions(ctx context.Context, name string, limit int) ([]domain.WorkerExecution, error)
	Names() []string
}

type workerService struct {
	executions repository.WorkerRepository
	jobs       map[string]JobFunc
	names      []string
	metrics    metrics.BillingMetrics
	log        *logger.Logger
	now        func() time.Time
}

// NewWorkerService создает новый оркестратор воркеров
func NewWorkerService(executions repository.WorkerRepository, billingMetrics metrics.BillingMetrics, log *logger.Logger) WorkerService {
	return &workerService{
		executions: executions,
		jobs:       make(map[string]JobFunc),
		metrics:    billingMetrics,
		log:        log,
		now:        time.Now,
	}
}

// Register регистрирует воркер под именем. Вызывается при сборке
// приложения, до запуска планировщика.
func (s *workerService) Register(name string, job JobFunc) {
	s.jobs[name] = job
	s.names = append(s.names, name)
}

// Names возвращает имена зарегистрированных воркеров в порядке регистрации
func (s *workerService) Names() []string {
	return append([]string(nil), s.names...)
}

// Trigger запускает воркер. Если запуск с тем же именем уже выполняется,
// возвращает domain.ErrWorkerAlreadyRunning — и планировщик, и ручной
// запуск проходят через один барьер. Паника внутри тела воркера
// перехватывается и фиксируется в записи запуска, планировщик продолжает
// работать.
func (s *workerService) Trigger(ctx context.Context, name string) (domain.WorkerExecution, error) {
	job, ok := s.jobs[name]
	if !ok {
		return domain.WorkerExecution{}, domain.NewNotFoundError("worker", name)
	}

	execution, err := s.executions.StartRun(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyRunning) {
			s.log.Warnw("Worker trigger rejected, already running", "worker", name)
			return domain.WorkerExecution{}, domain.ErrWorkerAlreadyRunning
		}
		return domain.WorkerExecution{}, err
	}

	s.log.Infow("Worker started", "worker", name, "execution_id", execution.ID)

	result, jobErr := s.runJob(ctx, job)

	completedAt := s.now()
	execution.CompletedAt = &completedAt
	execution.Duration = completedAt.Sub(execution.StartedAt)
	execution.ItemsProcessed = result.Processed
	execution.ItemsSuccessful = result.Successful
	execution.ItemsFailed = result.Failed
	execution.Metadata = result.Metadata

	if jobErr != nil {
		execution.Status = domain.WorkerStatusFailed
		execution.ErrorMessage = jobErr.Error()
	} else {
		execution.Status = domain.WorkerStatusCompleted
		if len(result.Errors) > 0 {
			execution.ErrorMessage = strings.Join(result.Errors, "; ")
		}
	}

	if err := s.executions.FinishRun(ctx, execution); err != nil {
		s.log.Errorw("Failed to finalize worker execution", "worker", name, "execution_id", execution.ID, "error", err)
		return execution, err
	}

	s.metrics.ObserveWorkerDuration(name, execution.Duration.Seconds())
	s.log.Infow("Worker finished", "worker", name, "status", execution.Status,
		"duration", execution.Duration, "processed", execution.ItemsProcessed,
		"successful", execution.ItemsSuccessful, "failed", execution.ItemsFailed)

	if jobErr != nil {
		return execution, jobErr
	}
	return execution, nil
}

// runJob выполняет тело воркера, превращая панику в ошибку запуска
func (s *workerService) runJob(ctx context.Context, job JobFunc) (result domain.WorkerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("Worker panicked", "panic", r)
			err = fmt.Errorf("worker panicked: %v", r)
		}
	}()
	return job(ctx)
}

func (s *workerService) ListExecutions(ctx context.Context, name string, limit int) ([]domain.WorkerExecution, error) {
	if _, ok := s.jobs[name]; !ok {
		return nil, domain.NewNotFoundError("worker", name)
	}
	return s.executions.ListByWorker(ctx, name, limit)
}
