package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clubhub/billing-engine/internal/config"
	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/internal/metrics"
	"github.com/clubhub/billing-engine/internal/repository"
	"github.com/clubhub/billing-engine/pkg/logger"
)

// Suspender приостанавливает подписку за неуплату. Движку повторных
// списаний нужна только эта операция машины состояний, не весь сервис.
type Suspender interface {
	Suspend(ctx context.Context, id uuid.UUID, reason string) (domain.Subscription, error)
}

// CollectionSubmitter отправляет провайдеру запрос на списание по мандату
type CollectionSubmitter interface {
	SubmitCollection(ctx context.Context, mandateRef string, amount decimal.Decimal, currency, description string, chargeDate time.Time, idempotencyKey string) (string, error)
}

// Причина приостановки после исчерпания повторных списаний
const SuspensionReasonPaymentFailure = "payment_failure_exhausted"

// PaymentService владеет попытками списания: отправкой провайдеру,
// приемом исходов (вебхук и опрос идут через один путь ApplyPaymentStatus)
// и повторами с эскалацией до приостановки.
type PaymentService interface {
	Submit(ctx context.Context, paymentID uuid.UUID) (domain.ProviderPayment, error)
	ApplyPaymentStatus(ctx context.Context, providerPaymentID string, status domain.ProviderPaymentStatus, failureReason, payoutID string, paidOutAt *time.Time) error
	RunDunningSweep(ctx context.Context) (domain.WorkerResult, error)
}

type paymentService struct {
	payments      repository.PaymentRepository
	subscriptions repository.SubscriptionRepository
	mandates      repository.MandateRepository
	events        repository.EventRepository
	tx            repository.Transactor
	provider      CollectionSubmitter
	suspender     Suspender
	publisher     EventPublisher
	cfg           *config.Config
	metrics       metrics.BillingMetrics
	log           *logger.Logger
	now           func() time.Time
}

// NewPaymentService создает новый сервис попыток списания
func NewPaymentService(
	payments repository.PaymentRepository,
	subscriptions repository.SubscriptionRepository,
	mandates repository.MandateRepository,
	events repository.EventRepository,
	tx repository.Transactor,
	provider CollectionSubmitter,
	suspender Suspender,
	publisher EventPublisher,
	cfg *config.Config,
	billingMetrics metrics.BillingMetrics,
	log *logger.Logger,
) PaymentService {
	return &paymentService{
		payments:      payments,
		subscriptions: subscriptions,
		mandates:      mandates,
		events:        events,
		tx:            tx,
		provider:      provider,
		suspender:     suspender,
		publisher:     publisher,
		cfg:           cfg,
		metrics:       billingMetrics,
		log:           log,
		now:           time.Now,
	}
}

// Submit отправляет провайдеру списание со статусом pending_submission.
// Временная ошибка провайдера оставляет запись в pending_submission —
// следующий обход повторит отправку; счетчик неудач подписки при этом
// не растет. Окончательный отказ сразу уходит в обработку неудачи.
func (s *paymentService) Submit(ctx context.Context, paymentID uuid.UUID) (domain.ProviderPayment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ProviderPayment{}, domain.NewNotFoundError("provider payment", paymentID.String())
		}
		return domain.ProviderPayment{}, err
	}

	if payment.Status != domain.ProviderPaymentStatusPendingSubmission {
		// повторный вызов для уже отправленной записи — не ошибка
		return payment, nil
	}
	if payment.SubscriptionID == nil {
		return domain.ProviderPayment{}, fmt.Errorf("provider payment %s is not linked to a subscription", payment.ID)
	}

	sub, err := s.subscriptions.GetByID(ctx, *payment.SubscriptionID)
	if err != nil {
		return domain.ProviderPayment{}, err
	}
	if sub.Status == domain.SubscriptionStatusCancelled {
		payment.Status = domain.ProviderPaymentStatusCancelled
		payment.UpdatedAt = s.now()
		if err := s.payments.Update(ctx, payment); err != nil {
			return domain.ProviderPayment{}, err
		}
		s.log.Infow("Collection dropped for cancelled subscription", "payment_id", payment.ID, "subscription_id", sub.ID)
		return payment, nil
	}

	mandate, err := resolveMandate(ctx, s.mandates, sub)
	if err != nil {
		return domain.ProviderPayment{}, err
	}
	if !mandate.IsUsable() {
		return domain.ProviderPayment{}, domain.ErrMandateNotReady
	}

	// идентификатор записи служит ключом идемпотентности: повтор отправки
	// той же записи провайдер у себя схлопнет
	providerPaymentID, err := s.provider.SubmitCollection(ctx, mandate.ProviderMandateID, payment.Amount, payment.Currency, payment.Description, payment.ChargeDate, payment.ID.String())
	if err != nil {
		if domain.IsTransientProviderError(err) {
			s.log.Warnw("Transient provider error, collection stays pending", "payment_id", payment.ID, "error", err)
			return payment, err
		}

		var pe *domain.ProviderError
		if errors.As(err, &pe) {
			s.log.Warnw("Collection rejected by provider", "payment_id", payment.ID, "code", pe.Code)
			if applyErr := s.applyFailure(ctx, payment, sub, pe.Message); applyErr != nil {
				return domain.ProviderPayment{}, applyErr
			}
			return s.payments.GetByID(ctx, payment.ID)
		}
		return domain.ProviderPayment{}, err
	}

	payment.ProviderPaymentID = providerPaymentID
	payment.Status = domain.ProviderPaymentStatusSubmitted
	payment.UpdatedAt = s.now()
	if err := s.payments.Update(ctx, payment); err != nil {
		return domain.ProviderPayment{}, err
	}

	s.metrics.IncCollectionSubmitted(payment.Currency)
	amount, _ := payment.Amount.Float64()
	s.metrics.ObserveCollectionAmount(amount, payment.Currency, string(payment.Status))

	event := lifecycleEvent(domain.LifecyclePaymentSubmitted, sub, "", s.now())
	event.Amount = &payment.Amount
	s.publish(ctx, event)

	s.log.Infow("Collection submitted", "payment_id", payment.ID, "provider_payment_id", providerPaymentID, "amount", payment.Amount.StringFixed(2))
	return payment, nil
}

// ApplyPaymentStatus единый путь приема исхода списания: сюда попадают
// и вебхуки провайдера, и результаты опроса. Успех сбрасывает счетчик
// неудач подписки, окончательный провал увеличивает его и планирует
// повтор либо приостанавливает подписку.
func (s *paymentService) ApplyPaymentStatus(ctx context.Context, providerPaymentID string, status domain.ProviderPaymentStatus, failureReason, payoutID string, paidOutAt *time.Time) error {
	payment, err := s.payments.GetByProviderPaymentID(ctx, providerPaymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warnw("Status update for unknown provider payment", "provider_payment_id", providerPaymentID, "status", status)
			return domain.NewNotFoundError("provider payment", providerPaymentID)
		}
		return err
	}

	if payment.Status == status {
		return nil
	}
	if payment.Status.IsTerminal() && !(payment.Status == domain.ProviderPaymentStatusConfirmed && status == domain.ProviderPaymentStatusPaidOut) {
		s.log.Warnw("Ignoring status update for terminal payment", "payment_id", payment.ID, "current", payment.Status, "incoming", status)
		return nil
	}

	previous := payment.Status
	payment.Status = status
	payment.FailureReason = failureReason
	payment.PayoutID = payoutID
	payment.PaidOutAt = paidOutAt
	payment.UpdatedAt = s.now()

	if payment.SubscriptionID == nil {
		if err := s.payments.Update(ctx, payment); err != nil {
			return err
		}
		s.log.Infow("Provider payment status applied", "payment_id", payment.ID, "from", previous, "to", status)
		return nil
	}
	sub, err := s.subscriptions.GetByID(ctx, *payment.SubscriptionID)
	if err != nil {
		return err
	}

	// терминальный исход фиксируется вместе со счетчиком подписки, записью
	// журнала и повтором в одной транзакции: внутри applySuccess/applyFailure
	// обновление платежа входит в тот же WithTx
	switch {
	case status.IsSuccess() && !previous.IsSuccess():
		err = s.applySuccess(ctx, payment, sub)
	case status.IsTerminalFailure():
		err = s.applyFailure(ctx, payment, sub, failureReason)
	default:
		err = s.payments.Update(ctx, payment)
	}
	if err != nil {
		return err
	}

	s.log.Infow("Provider payment status applied", "payment_id", payment.ID, "from", previous, "to", status)
	return nil
}

// applySuccess сбрасывает счетчик неудач до нуля. История прежних
// неудач остается в журнале событий — сбрасывается только живой счетчик.
func (s *paymentService) applySuccess(ctx context.Context, payment domain.ProviderPayment, sub domain.Subscription) error {
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.payments.Update(ctx, payment); err != nil {
			return err
		}
		sub.FailedPaymentCount = 0
		sub.UpdatedAt = s.now()
		if err := s.subscriptions.Update(ctx, sub); err != nil {
			return err
		}
		return s.appendPaymentEvent(ctx, sub, fmt.Sprintf("collection %s confirmed, amount %s %s", payment.ID, payment.Amount.StringFixed(2), payment.Currency))
	})
	if err != nil {
		return err
	}

	s.metrics.IncCollectionConfirmed(payment.Currency)
	amount, _ := payment.Amount.Float64()
	s.metrics.ObserveCollectionAmount(amount, payment.Currency, string(payment.Status))

	event := lifecycleEvent(domain.LifecyclePaymentConfirmed, sub, "", s.now())
	event.Amount = &payment.Amount
	s.publish(ctx, event)
	return nil
}

func (s *paymentService) applyFailure(ctx context.Context, payment domain.ProviderPayment, sub domain.Subscription, reason string) error {
	policy := s.cfg.DunningPolicy()
	now := s.now()

	if payment.Status != domain.ProviderPaymentStatusFailed && payment.Status != domain.ProviderPaymentStatusChargedBack {
		payment.Status = domain.ProviderPaymentStatusFailed
		payment.FailureReason = reason
		payment.UpdatedAt = now
	}

	sub.FailedPaymentCount++
	sub.LastFailedPaymentDate = &now
	sub.UpdatedAt = now

	scheduleRetry := sub.FailedPaymentCount < policy.RetryLimit && sub.Status == domain.SubscriptionStatusActive

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.payments.Update(ctx, payment); err != nil {
			return err
		}
		if err := s.subscriptions.Update(ctx, sub); err != nil {
			return err
		}
		if err := s.appendPaymentEvent(ctx, sub, fmt.Sprintf("collection failed (attempt %d): %s", sub.FailedPaymentCount, reason)); err != nil {
			return err
		}

		if scheduleRetry {
			backoffDays := policy.BackoffFor(sub.FailedPaymentCount)
			retry := domain.ProviderPayment{
				ID:             uuid.New(),
				SubscriptionID: payment.SubscriptionID,
				Amount:         payment.Amount,
				Currency:       payment.Currency,
				Status:         domain.ProviderPaymentStatusPendingSubmission,
				Description:    payment.Description,
				ChargeDate:     truncateToDay(now).AddDate(0, 0, backoffDays),
				RetryCount:     payment.RetryCount + 1,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if _, err := s.payments.Create(ctx, retry); err != nil {
				return err
			}
			s.log.Infow("Retry collection scheduled", "subscription_id", sub.ID, "attempt", sub.FailedPaymentCount, "charge_date", retry.ChargeDate)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.IncCollectionFailed(payment.Currency)
	event := lifecycleEvent(domain.LifecyclePaymentFailed, sub, reason, s.now())
	event.Amount = &payment.Amount
	s.publish(ctx, event)

	if scheduleRetry {
		s.metrics.IncDunningRetry()
		return nil
	}

	if sub.Status == domain.SubscriptionStatusActive {
		if _, err := s.suspender.Suspend(ctx, sub.ID, SuspensionReasonPaymentFailure); err != nil {
			return err
		}
		s.metrics.IncSuspension()
	}
	return nil
}

// RunDunningSweep отправляет провайдеру все списания, чей срок подошел:
// повторы после неудач и разовые корректировки. Ошибка по одному списанию
// не прерывает обход остальных.
func (s *paymentService) RunDunningSweep(ctx context.Context) (domain.WorkerResult, error) {
	now := s.now()
	result := domain.WorkerResult{}

	due, err := s.payments.ListPendingSubmission(ctx, now)
	if err != nil {
		return result, err
	}

	for _, payment := range due {
		result.Processed++
		if _, err := s.Submit(ctx, payment.ID); err != nil {
			result.AddError(fmt.Errorf("payment %s: %w", payment.ID, err))
			continue
		}
		result.Successful++
	}

	s.log.Infow("Dunning sweep finished", "processed", result.Processed, "successful", result.Successful, "failed", result.Failed)
	return result, nil
}

func (s *paymentService) appendPaymentEvent(ctx context.Context, sub domain.Subscription, description string) error {
	_, err := s.events.Append(ctx, domain.SubscriptionEvent{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		PreviousStatus: sub.Status,
		NewStatus:      sub.Status,
		ActorType:      domain.ActorTypeWebhook,
		ActorID:        "provider",
		Description:    description,
		CreatedAt:      s.now(),
	})
	return err
}

func (s *paymentService) publish(ctx context.Context, event domain.LifecycleEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLifecycleEvent(ctx, event); err != nil {
		s.log.Errorw("Failed to publish lifecycle event", "type", event.Type, "subscription_id", event.SubscriptionID, "error", err)
	}
}
