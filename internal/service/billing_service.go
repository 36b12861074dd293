package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/internal/metrics"
	"github.com/clubhub/billing-engine/internal/repository"
	"github.com/clubhub/billing-engine/pkg/logger"
)

// lifecycleTransitions переходы машины состояний, нужные биллинговому
// обходу: авто-возобновление пауз и финализация отложенных отмен
type lifecycleTransitions interface {
	Resume(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Subscription, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string, immediate bool, actor domain.Actor) (domain.Subscription, error)
}

// collectionDispatcher отправка созданной попытки списания провайдеру
type collectionDispatcher interface {
	Submit(ctx context.Context, paymentID uuid.UUID) (domain.ProviderPayment, error)
}

// BillingService движок биллингового цикла: сдвигает периоды подписок
// с подошедшей датой списания и порождает попытки списания
type BillingService interface {
	RunBillingSweep(ctx context.Context) (domain.WorkerResult, error)
}

type billingService struct {
	subscriptions repository.SubscriptionRepository
	mandates      repository.MandateRepository
	payments      repository.PaymentRepository
	tx            repository.Transactor
	lifecycle     lifecycleTransitions
	dispatcher    collectionDispatcher
	metrics       metrics.BillingMetrics
	log           *logger.Logger
	now           func() time.Time
}

// NewBillingService создает новый сервис биллингового цикла
func NewBillingService(
	subscriptions repository.SubscriptionRepository,
	mandates repository.MandateRepository,
	payments repository.PaymentRepository,
	tx repository.Transactor,
	lifecycle lifecycleTransitions,
	dispatcher collectionDispatcher,
	billingMetrics metrics.BillingMetrics,
	log *logger.Logger,
) BillingService {
	return &billingService{
		subscriptions: subscriptions,
		mandates:      mandates,
		payments:      payments,
		tx:            tx,
		lifecycle:     lifecycle,
		dispatcher:    dispatcher,
		metrics:       billingMetrics,
		log:           log,
		now:           time.Now,
	}
}

// RunBillingSweep один проход биллингового цикла: возобновляет паузы с
// подошедшей датой, финализирует отложенные отмены, затем обрабатывает
// подписки с подошедшей датой списания. Подписки независимы — ошибка по
// одной не прерывает обход остальных.
func (s *billingService) RunBillingSweep(ctx context.Context) (domain.WorkerResult, error) {
	now := s.now()
	result := domain.WorkerResult{Metadata: map[string]string{}}

	if err := s.autoResume(ctx, now, &result); err != nil {
		return result, err
	}
	if err := s.finalizeCancellations(ctx, now, &result); err != nil {
		return result, err
	}

	due, err := s.subscriptions.ListDue(ctx, now)
	if err != nil {
		return result, err
	}

	charged := 0
	for _, sub := range due {
		if sub.IsCancelledAtPeriodEnd() {
			// отмена вступит в силу в конце периода, новых списаний нет
			continue
		}

		result.Processed++
		if err := s.processDue(ctx, sub, now); err != nil {
			result.AddError(fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		result.Successful++
		charged++
	}
	result.Metadata["collections_created"] = fmt.Sprintf("%d", charged)

	s.refreshStatusGauge(ctx)
	s.log.Infow("Billing sweep finished", "processed", result.Processed, "successful", result.Successful, "failed", result.Failed)
	return result, nil
}

// processDue сдвигает период одной подписки и создает попытку списания.
// Сдвиг фиксируется вместе с созданием записи списания до обращения к
// провайдеру: даже если ответ провайдера потеряется, период за один тик
// продвинется не больше одного раза. Неудавшуюся отправку позже дошлет
// обход повторов, период заново не двигается.
func (s *billingService) processDue(ctx context.Context, sub domain.Subscription, now time.Time) error {
	mandate, err := resolveMandate(ctx, s.mandates, sub)
	if err != nil {
		return err
	}
	if !mandate.IsUsable() {
		return fmt.Errorf("mandate %s is %s: %w", mandate.ID, mandate.Status, domain.ErrMandateNotReady)
	}

	subID := sub.ID
	payment := domain.ProviderPayment{
		ID:             uuid.New(),
		SubscriptionID: &subID,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		Status:         domain.ProviderPaymentStatusPendingSubmission,
		Description:    "recurring membership collection",
		ChargeDate:     truncateToDay(now),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		sub.CurrentPeriodStart = sub.CurrentPeriodEnd
		sub.CurrentPeriodEnd = nextBillingDate(sub.CurrentPeriodStart, sub.BillingFrequency, sub.BillingDayOfMonth)
		sub.NextBillingDate = sub.CurrentPeriodEnd
		sub.UpdatedAt = now

		if err := s.subscriptions.Update(ctx, sub); err != nil {
			return err
		}
		_, err := s.payments.Create(ctx, payment)
		return err
	})
	if err != nil {
		return err
	}

	if _, err := s.dispatcher.Submit(ctx, payment.ID); err != nil {
		if domain.IsTransientProviderError(err) {
			// запись осталась в pending_submission, дошлет обход повторов
			s.log.Warnw("Collection submission deferred", "subscription_id", sub.ID, "payment_id", payment.ID, "error", err)
			return nil
		}
		return err
	}
	return nil
}

// autoResume возвращает в active паузы, у которых дата возобновления
// уже прошла
func (s *billingService) autoResume(ctx context.Context, now time.Time, result *domain.WorkerResult) error {
	paused, err := s.subscriptions.ListByStatus(ctx, domain.SubscriptionStatusPaused)
	if err != nil {
		return err
	}

	for _, sub := range paused {
		if sub.ResumeDate == nil || sub.ResumeDate.After(now) {
			continue
		}
		result.Processed++
		if _, err := s.lifecycle.Resume(ctx, sub.ID, domain.SystemActor); err != nil {
			result.AddError(fmt.Errorf("auto-resume %s: %w", sub.ID, err))
			continue
		}
		result.Successful++
		s.log.Infow("Subscription auto-resumed", "id", sub.ID)
	}
	return nil
}

// finalizeCancellations завершает отложенные отмены, чей оплаченный
// период истек
func (s *billingService) finalizeCancellations(ctx context.Context, now time.Time, result *domain.WorkerResult) error {
	subs, err := s.subscriptions.ListByStatus(ctx,
		domain.SubscriptionStatusActive,
		domain.SubscriptionStatusPaused,
		domain.SubscriptionStatusSuspended,
	)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		if !sub.IsCancelledAtPeriodEnd() || sub.CurrentPeriodEnd.After(now) {
			continue
		}
		result.Processed++
		if _, err := s.lifecycle.Cancel(ctx, sub.ID, sub.CancellationReason, true, domain.SystemActor); err != nil {
			result.AddError(fmt.Errorf("finalize cancellation %s: %w", sub.ID, err))
			continue
		}
		result.Successful++
		s.log.Infow("Deferred cancellation finalized", "id", sub.ID)
	}
	return nil
}

func (s *billingService) refreshStatusGauge(ctx context.Context) {
	counts, err := s.subscriptions.CountByStatus(ctx)
	if err != nil {
		s.log.Warnw("Failed to refresh subscription status gauge", "error", err)
		return
	}
	for status, count := range counts {
		s.metrics.SetSubscriptionsByStatus(string(status), count)
	}
}
