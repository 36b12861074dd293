package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clubhub/billing-engine/internal/config"
	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/internal/integration/directdebit"
	"github.com/clubhub/billing-engine/internal/repository"
	"github.com/clubhub/billing-engine/pkg/logger"
)

// ProviderStateReader чтение авторитетного состояния провайдера,
// нужное синхронизатору
type ProviderStateReader interface {
	GetMandateStatus(ctx context.Context, providerMandateID string) (domain.MandateStatus, error)
	GetPayment(ctx context.Context, providerPaymentID string) (directdebit.PaymentResponse, error)
	SubscriptionExists(ctx context.Context, providerSubscriptionID string) (bool, error)
}

// paymentStatusIngest единый путь приема исходов списаний
type paymentStatusIngest interface {
	ApplyPaymentStatus(ctx context.Context, providerPaymentID string, status domain.ProviderPaymentStatus, failureReason, payoutID string, paidOutAt *time.Time) error
}

// subscriptionActivator переход pending-подписки в active
type subscriptionActivator interface {
	Activate(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Subscription, error)
}

// SyncService синхронизатор мандатов и диагностика расхождений между
// локальным состоянием и состоянием провайдера
type SyncService interface {
	RunMandateSync(ctx context.Context) (domain.WorkerResult, error)
	Diagnose(ctx context.Context) (domain.DiagnosticReport, error)
	DiagnoseSubscription(ctx context.Context, id uuid.UUID) (domain.SubscriptionDiagnostic, error)
}

type syncService struct {
	subscriptions repository.SubscriptionRepository
	mandates      repository.MandateRepository
	payments      repository.PaymentRepository
	provider      ProviderStateReader
	ingest        paymentStatusIngest
	activator     subscriptionActivator
	publisher     EventPublisher
	cfg           *config.Config
	log           *logger.Logger
	now           func() time.Time
}

// NewSyncService создает новый сервис синхронизации
func NewSyncService(
	subscriptions repository.SubscriptionRepository,
	mandates repository.MandateRepository,
	payments repository.PaymentRepository,
	provider ProviderStateReader,
	ingest paymentStatusIngest,
	activator subscriptionActivator,
	publisher EventPublisher,
	cfg *config.Config,
	log *logger.Logger,
) SyncService {
	return &syncService{
		subscriptions: subscriptions,
		mandates:      mandates,
		payments:      payments,
		provider:      provider,
		ingest:        ingest,
		activator:     activator,
		publisher:     publisher,
		cfg:           cfg,
		log:           log,
		now:           time.Now,
	}
}

// RunMandateSync один проход синхронизации: обновляет локальные статусы
// мандатов по состоянию провайдера, активирует pending-подписки с
// пригодным мандатом и опрашивает затянувшиеся списания, пропуская их
// исходы через тот же путь, что и вебхуки.
func (s *syncService) RunMandateSync(ctx context.Context) (domain.WorkerResult, error) {
	result := domain.WorkerResult{Metadata: map[string]string{}}

	if err := s.refreshMandates(ctx, &result); err != nil {
		return result, err
	}
	if err := s.promotePending(ctx, &result); err != nil {
		return result, err
	}
	if err := s.pollStalePayments(ctx, &result); err != nil {
		return result, err
	}

	s.log.Infow("Mandate sync finished", "processed", result.Processed, "successful", result.Successful, "failed", result.Failed)
	return result, nil
}

// refreshMandates сверяет локальные статусы мандатов с провайдером
func (s *syncService) refreshMandates(ctx context.Context, result *domain.WorkerResult) error {
	mandates, err := s.mandates.List(ctx)
	if err != nil {
		return err
	}

	refreshed := 0
	for _, mandate := range mandates {
		if mandate.ProviderMandateID == "" {
			continue
		}
		result.Processed++

		remote, err := s.provider.GetMandateStatus(ctx, mandate.ProviderMandateID)
		if err != nil {
			result.AddError(fmt.Errorf("mandate %s: %w", mandate.ID, err))
			continue
		}
		if remote == mandate.Status {
			result.Successful++
			continue
		}

		previous := mandate.Status
		mandate.Status = remote
		mandate.UpdatedAt = s.now()
		if err := s.mandates.Update(ctx, mandate); err != nil {
			result.AddError(fmt.Errorf("mandate %s: %w", mandate.ID, err))
			continue
		}
		result.Successful++
		refreshed++
		s.log.Infow("Mandate status refreshed", "mandate_id", mandate.ID, "from", previous, "to", remote)

		if remote == domain.MandateStatusActive && s.publisher != nil {
			event := domain.LifecycleEvent{
				Type:       domain.LifecycleMandateActive,
				PayerID:    mandate.PayerID,
				OccurredAt: s.now(),
			}
			if err := s.publisher.PublishLifecycleEvent(ctx, event); err != nil {
				s.log.Errorw("Failed to publish lifecycle event", "type", event.Type, "error", err)
			}
		}
	}
	result.Metadata["mandates_refreshed"] = fmt.Sprintf("%d", refreshed)
	return nil
}

// promotePending активирует подписки, ждавшие пригодного мандата
func (s *syncService) promotePending(ctx context.Context, result *domain.WorkerResult) error {
	pending, err := s.subscriptions.ListByStatus(ctx, domain.SubscriptionStatusPending)
	if err != nil {
		return err
	}

	promoted := 0
	for _, sub := range pending {
		mandate, err := resolveMandate(ctx, s.mandates, sub)
		if err != nil || !mandate.IsUsable() {
			continue
		}

		result.Processed++
		if _, err := s.activator.Activate(ctx, sub.ID, domain.SystemActor); err != nil {
			result.AddError(fmt.Errorf("promote %s: %w", sub.ID, err))
			continue
		}
		result.Successful++
		promoted++
		s.log.Infow("Pending subscription promoted to active", "id", sub.ID)
	}
	result.Metadata["subscriptions_promoted"] = fmt.Sprintf("%d", promoted)
	return nil
}

// pollStalePayments запасной путь к вебхукам: опрашивает статусы
// отправленных списаний, по которым провайдер давно молчит
func (s *syncService) pollStalePayments(ctx context.Context, result *domain.WorkerResult) error {
	ageHours := s.cfg.Sync.PaymentPollAgeHours
	if ageHours <= 0 {
		ageHours = 24
	}
	olderThan := s.now().Add(-time.Duration(ageHours) * time.Hour)

	stale, err := s.payments.ListUnresolved(ctx, olderThan)
	if err != nil {
		return err
	}

	for _, payment := range stale {
		if payment.ProviderPaymentID == "" {
			continue
		}
		result.Processed++

		resp, err := s.provider.GetPayment(ctx, payment.ProviderPaymentID)
		if err != nil {
			result.AddError(fmt.Errorf("poll payment %s: %w", payment.ID, err))
			continue
		}

		var paidOutAt *time.Time
		if resp.PaidOutAt != "" {
			if ts, parseErr := time.Parse(time.RFC3339, resp.PaidOutAt); parseErr == nil {
				paidOutAt = &ts
			}
		}

		status := directdebit.MapPaymentStatus(resp.Status)
		if err := s.ingest.ApplyPaymentStatus(ctx, payment.ProviderPaymentID, status, resp.FailureReason, resp.PayoutID, paidOutAt); err != nil {
			result.AddError(fmt.Errorf("poll payment %s: %w", payment.ID, err))
			continue
		}
		result.Successful++
	}
	return nil
}

// Diagnose строит отчет сверки по всем активным и ожидающим подпискам.
// Отчет только читает состояние: никакие расхождения здесь не исправляются,
// ими занимаются операторы или следующий корректирующий проход.
func (s *syncService) Diagnose(ctx context.Context) (domain.DiagnosticReport, error) {
	subs, err := s.subscriptions.ListByStatus(ctx, domain.SubscriptionStatusActive, domain.SubscriptionStatusPending)
	if err != nil {
		return domain.DiagnosticReport{}, err
	}

	report := domain.DiagnosticReport{
		GeneratedAt:   s.now(),
		Total:         len(subs),
		Subscriptions: make([]domain.SubscriptionDiagnostic, 0, len(subs)),
	}

	for _, sub := range subs {
		diag := s.diagnose(ctx, sub)
		if diag.NeedsSync {
			report.NeedingSync++
		}
		if diag.Blocked() {
			report.BlockedCount++
		}
		report.Subscriptions = append(report.Subscriptions, diag)
	}
	return report, nil
}

// DiagnoseSubscription сверка одной подписки
func (s *syncService) DiagnoseSubscription(ctx context.Context, id uuid.UUID) (domain.SubscriptionDiagnostic, error) {
	sub, err := s.subscriptions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.SubscriptionDiagnostic{}, domain.NewNotFoundError("subscription", id.String())
		}
		return domain.SubscriptionDiagnostic{}, err
	}
	return s.diagnose(ctx, sub), nil
}

func (s *syncService) diagnose(ctx context.Context, sub domain.Subscription) domain.SubscriptionDiagnostic {
	diag := domain.SubscriptionDiagnostic{
		SubscriptionID: sub.ID,
		Status:         sub.Status,
		MandateID:      sub.MandateID,
	}

	mandate, err := resolveMandate(ctx, s.mandates, sub)
	switch {
	case errors.Is(err, domain.ErrMandateNotReady):
		if sub.MandateID == nil {
			diag.SyncBlockers = append(diag.SyncBlockers, domain.BlockerNoDefaultMandate)
		} else {
			diag.SyncBlockers = append(diag.SyncBlockers, domain.BlockerNoMandate)
		}
	case err != nil:
		diag.SyncBlockers = append(diag.SyncBlockers, domain.BlockerNoMandate)
	default:
		diag.LocalMandateStatus = mandate.Status
		if !mandate.IsUsable() {
			diag.SyncBlockers = append(diag.SyncBlockers, domain.BlockerMandateNotActive)
		}

		if mandate.ProviderMandateID != "" {
			if remote, rerr := s.provider.GetMandateStatus(ctx, mandate.ProviderMandateID); rerr == nil {
				diag.RemoteMandateStatus = remote
				if remote != mandate.Status {
					diag.NeedsSync = true
				}
			}
		}
	}

	if sub.ProviderSubscriptionID != "" {
		exists, rerr := s.provider.SubscriptionExists(ctx, sub.ProviderSubscriptionID)
		if rerr == nil && !exists {
			diag.NeedsSync = true
			diag.SyncBlockers = append(diag.SyncBlockers, domain.BlockerMissingRemoteRecord)
		}

		hasHistory, herr := s.payments.HasHistoryForSubscription(ctx, sub.ID)
		if herr == nil && !hasHistory {
			diag.NeedsSync = true
			diag.SyncBlockers = append(diag.SyncBlockers, domain.BlockerMissingLocalPayments)
		}
	}

	return diag
}
