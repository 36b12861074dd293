package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/internal/service"
	"github.com/clubhub/billing-engine/pkg/logger"
)

// Scheduler запускает зарегистрированные воркеры по cron-расписанию.
// Перекрытие запусков отсекает не планировщик, а барьер журнала запусков:
// ручной и плановый запуск проходят через один и тот же Trigger.
type Scheduler struct {
	cron    *cron.Cron
	workers service.WorkerService
	log     *logger.Logger
}

// New создает планировщик поверх оркестратора воркеров
func New(workers service.WorkerService, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		workers: workers,
		log:     log,
	}
}

// Schedule регистрирует запуск воркера по cron-выражению
func (s *Scheduler) Schedule(spec, workerName string) error {
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.workers.Trigger(context.Background(), workerName); err != nil {
			if errors.Is(err, domain.ErrWorkerAlreadyRunning) {
				s.log.Warnw("Scheduled run skipped, worker still running", "worker", workerName)
				return
			}
			s.log.Errorw("Scheduled worker run failed", "worker", workerName, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q for worker %s: %w", spec, workerName, err)
	}

	s.log.Infow("Worker scheduled", "worker", workerName, "cron", spec)
	return nil
}

// Start запускает cron-движок
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started")
}

// Stop останавливает планировщик, дожидаясь завершения текущих запусков
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.log.Info("Scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("Scheduler stop timed out, running jobs abandoned")
	}
}
