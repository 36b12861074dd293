package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/internal/repository"
	"github.com/clubhub/billing-engine/pkg/logger"
)

// SubscriptionService машина состояний подписки. Единственный владелец
// переходов статусов: остальные компоненты меняют подписку только через
// этот сервис. Каждый переход пишет запись в журнал событий.
type SubscriptionService interface {
	Create(ctx context.Context, req domain.CreateSubscriptionRequest, actor domain.Actor) (domain.Subscription, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error)
	Activate(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Subscription, error)
	Pause(ctx context.Context, id uuid.UUID, resumeDate *time.Time, actor domain.Actor) (domain.Subscription, error)
	Resume(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Subscription, error)
	ChangeTier(ctx context.Context, id uuid.UUID, newTierID uuid.UUID, prorate bool, actor domain.Actor) (domain.Subscription, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string, immediate bool, actor domain.Actor) (domain.Subscription, error)
	Suspend(ctx context.Context, id uuid.UUID, reason string) (domain.Subscription, error)
	ListEvents(ctx context.Context, id uuid.UUID) ([]domain.SubscriptionEvent, error)
}

type subscriptionService struct {
	subscriptions repository.SubscriptionRepository
	mandates      repository.MandateRepository
	tiers         repository.TierRepository
	events        repository.EventRepository
	payments      repository.PaymentRepository
	tx            repository.Transactor
	publisher     EventPublisher
	log           *logger.Logger
	now           func() time.Time
}

// NewSubscriptionService создает новый сервис подписок
func NewSubscriptionService(
	subscriptions repository.SubscriptionRepository,
	mandates repository.MandateRepository,
	tiers repository.TierRepository,
	events repository.EventRepository,
	payments repository.PaymentRepository,
	tx repository.Transactor,
	publisher EventPublisher,
	log *logger.Logger,
) SubscriptionService {
	return &subscriptionService{
		subscriptions: subscriptions,
		mandates:      mandates,
		tiers:         tiers,
		events:        events,
		payments:      payments,
		tx:            tx,
		publisher:     publisher,
		log:           log,
		now:           time.Now,
	}
}

func (s *subscriptionService) Create(ctx context.Context, req domain.CreateSubscriptionRequest, actor domain.Actor) (domain.Subscription, error) {
	s.log.Debugw("Creating subscription", "club_id", req.ClubID, "member_id", req.MemberID, "tier_id", req.TierID)

	var verrs domain.ValidationErrors
	if req.BillingDayOfMonth < 1 || req.BillingDayOfMonth > 31 {
		verrs.Add("billing_day_of_month", "must be between 1 and 31")
	}
	frequency := domain.BillingFrequency(req.BillingFrequency)
	if frequency != domain.BillingFrequencyMonthly && frequency != domain.BillingFrequencyAnnual {
		verrs.Add("billing_frequency", "must be monthly or annual")
	}
	if verrs.HasErrors() {
		return domain.Subscription{}, verrs
	}

	tier, err := s.tiers.GetByID(ctx, req.TierID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Subscription{}, domain.NewNotFoundError("membership tier", req.TierID.String())
		}
		return domain.Subscription{}, err
	}
	if !tier.Active {
		return domain.Subscription{}, domain.ErrTierInactive
	}

	now := s.now()
	sub := domain.Subscription{
		ID:                uuid.New(),
		ClubID:            req.ClubID,
		PayerID:           req.PayerID,
		MemberID:          req.MemberID,
		TierID:            tier.ID,
		MandateID:         req.MandateID,
		Status:            domain.SubscriptionStatusPending,
		BillingFrequency:  frequency,
		BillingDayOfMonth: req.BillingDayOfMonth,
		Amount:            tier.Price,
		Currency:          tier.Currency,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// подписка активируется сразу, если пригодный мандат уже есть
	mandate, err := resolveMandate(ctx, s.mandates, sub)
	if err != nil && !errors.Is(err, domain.ErrMandateNotReady) {
		return domain.Subscription{}, err
	}
	if err == nil && mandate.IsUsable() {
		sub.Status = domain.SubscriptionStatusActive
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd = billingPeriodFrom(now, frequency, req.BillingDayOfMonth)
		sub.NextBillingDate = sub.CurrentPeriodEnd
	}

	var created domain.Subscription
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		created, err = s.subscriptions.Create(ctx, sub)
		if err != nil {
			return err
		}
		return s.appendEvent(ctx, created, "", created.Status, actor, "subscription created")
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	s.publish(ctx, lifecycleEvent(domain.LifecycleSubscriptionCreated, created, "", s.now()))
	if created.Status == domain.SubscriptionStatusActive {
		s.publish(ctx, lifecycleEvent(domain.LifecycleSubscriptionActivated, created, "", s.now()))
	}

	s.log.Infow("Subscription created", "id", created.ID, "status", created.Status)
	return created, nil
}

func (s *subscriptionService) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	sub, err := s.subscriptions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Subscription{}, domain.NewNotFoundError("subscription", id.String())
		}
		return domain.Subscription{}, err
	}
	return sub, nil
}

func (s *subscriptionService) Activate(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Subscription, error) {
	s.log.Debugw("Activating subscription", "id", id)

	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if !sub.CanTransitionTo(domain.SubscriptionStatusActive) {
		return domain.Subscription{}, domain.NewStateConflictError(id.String(), sub.Status, domain.SubscriptionStatusActive)
	}

	mandate, err := resolveMandate(ctx, s.mandates, sub)
	if err != nil {
		return domain.Subscription{}, err
	}
	if !mandate.IsUsable() {
		return domain.Subscription{}, domain.ErrMandateNotReady
	}

	now := s.now()
	previous := sub.Status
	sub.Status = domain.SubscriptionStatusActive
	sub.CurrentPeriodStart, sub.CurrentPeriodEnd = billingPeriodFrom(now, sub.BillingFrequency, sub.BillingDayOfMonth)
	sub.NextBillingDate = sub.CurrentPeriodEnd
	sub.PausedAt = nil
	sub.ResumeDate = nil
	sub.UpdatedAt = now

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.subscriptions.Update(ctx, sub); err != nil {
			return err
		}
		return s.appendEvent(ctx, sub, previous, sub.Status, actor, "subscription activated")
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	s.publish(ctx, lifecycleEvent(domain.LifecycleSubscriptionActivated, sub, "", s.now()))
	s.log.Infow("Subscription activated", "id", sub.ID, "next_billing_date", sub.NextBillingDate)
	return sub, nil
}

func (s *subscriptionService) Pause(ctx context.Context, id uuid.UUID, resumeDate *time.Time, actor domain.Actor) (domain.Subscription, error) {
	s.log.Debugw("Pausing subscription", "id", id)

	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if !sub.CanTransitionTo(domain.SubscriptionStatusPaused) {
		return domain.Subscription{}, domain.NewStateConflictError(id.String(), sub.Status, domain.SubscriptionStatusPaused)
	}

	now := s.now()
	previous := sub.Status
	sub.Status = domain.SubscriptionStatusPaused
	sub.PausedAt = &now
	sub.ResumeDate = resumeDate
	sub.UpdatedAt = now

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.subscriptions.Update(ctx, sub); err != nil {
			return err
		}
		return s.appendEvent(ctx, sub, previous, sub.Status, actor, "subscription paused")
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	s.publish(ctx, lifecycleEvent(domain.LifecycleSubscriptionPaused, sub, "", s.now()))
	s.log.Infow("Subscription paused", "id", sub.ID, "resume_date", resumeDate)
	return sub, nil
}

// Resume возобновляет приостановленную подписку. Дата следующего списания
// пересчитывается вперед от текущего момента, а не от исходного расписания,
// чтобы не списать сразу за пропущенный период.
func (s *subscriptionService) Resume(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Subscription, error) {
	s.log.Debugw("Resuming subscription", "id", id)

	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if sub.Status != domain.SubscriptionStatusPaused {
		return domain.Subscription{}, domain.NewStateConflictError(id.String(), sub.Status, domain.SubscriptionStatusActive)
	}

	mandate, err := resolveMandate(ctx, s.mandates, sub)
	if err != nil {
		return domain.Subscription{}, err
	}
	if !mandate.IsUsable() {
		return domain.Subscription{}, domain.ErrMandateNotReady
	}

	now := s.now()
	previous := sub.Status
	sub.Status = domain.SubscriptionStatusActive
	sub.CurrentPeriodStart, sub.CurrentPeriodEnd = billingPeriodFrom(now, sub.BillingFrequency, sub.BillingDayOfMonth)
	sub.NextBillingDate = sub.CurrentPeriodEnd
	sub.PausedAt = nil
	sub.ResumeDate = nil
	sub.UpdatedAt = now

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.subscriptions.Update(ctx, sub); err != nil {
			return err
		}
		return s.appendEvent(ctx, sub, previous, sub.Status, actor, "subscription resumed")
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	s.publish(ctx, lifecycleEvent(domain.LifecycleSubscriptionResumed, sub, "", s.now()))
	s.log.Infow("Subscription resumed", "id", sub.ID, "next_billing_date", sub.NextBillingDate)
	return sub, nil
}

// ChangeTier меняет тариф подписки со снимком новой цены. При prorate
// считается корректировка за остаток периода: доплата оформляется разовым
// списанием, кредит фиксируется событием и не отправляется провайдеру.
// Границы текущего периода смена тарифа не двигает.
func (s *subscriptionService) ChangeTier(ctx context.Context, id uuid.UUID, newTierID uuid.UUID, prorate bool, actor domain.Actor) (domain.Subscription, error) {
	s.log.Debugw("Changing subscription tier", "id", id, "new_tier_id", newTierID, "prorate", prorate)

	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if sub.Status == domain.SubscriptionStatusCancelled {
		return domain.Subscription{}, domain.ErrSubscriptionCancelled
	}

	tier, err := s.tiers.GetByID(ctx, newTierID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Subscription{}, domain.NewNotFoundError("membership tier", newTierID.String())
		}
		return domain.Subscription{}, err
	}
	if !tier.Active {
		return domain.Subscription{}, domain.ErrTierInactive
	}

	now := s.now()
	previousTierID := sub.TierID
	oldAmount := sub.Amount

	adjustment := decimal.Zero
	if prorate && sub.Status == domain.SubscriptionStatusActive {
		adjustment = Prorate(oldAmount, tier.Price, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now)
	}

	sub.TierID = tier.ID
	sub.Amount = tier.Price
	sub.Currency = tier.Currency
	sub.UpdatedAt = now

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.subscriptions.Update(ctx, sub); err != nil {
			return err
		}

		event := domain.SubscriptionEvent{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			PreviousStatus: sub.Status,
			NewStatus:      sub.Status,
			PreviousTierID: &previousTierID,
			NewTierID:      &tier.ID,
			ActorType:      actor.Type,
			ActorID:        actor.ID,
			Description:    fmt.Sprintf("tier changed, proration adjustment %s", adjustment.StringFixed(2)),
			CreatedAt:      s.now(),
		}
		if _, err := s.events.Append(ctx, event); err != nil {
			return err
		}

		if adjustment.IsPositive() {
			subID := sub.ID
			payment := domain.ProviderPayment{
				ID:             uuid.New(),
				SubscriptionID: &subID,
				Amount:         adjustment,
				Currency:       sub.Currency,
				Status:         domain.ProviderPaymentStatusPendingSubmission,
				Description:    "tier change proration adjustment",
				ChargeDate:     truncateToDay(now),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if _, err := s.payments.Create(ctx, payment); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	s.publish(ctx, lifecycleEvent(domain.LifecycleSubscriptionTierChange, sub, "", s.now()))
	if adjustment.IsNegative() {
		credit := lifecycleEvent(domain.LifecycleAdjustmentCredit, sub, "", s.now())
		creditAmount := adjustment.Neg()
		credit.Amount = &creditAmount
		s.publish(ctx, credit)
	}

	s.log.Infow("Subscription tier changed", "id", sub.ID, "tier_id", tier.ID, "adjustment", adjustment.StringFixed(2))
	return sub, nil
}

// Cancel отменяет подписку. При immediate переход в cancelled происходит
// сразу; иначе подписка помечается к отмене и действует до конца
// оплаченного периода, после чего биллинговый обход завершает переход.
func (s *subscriptionService) Cancel(ctx context.Context, id uuid.UUID, reason string, immediate bool, actor domain.Actor) (domain.Subscription, error) {
	s.log.Debugw("Cancelling subscription", "id", id, "immediate", immediate)

	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if sub.Status == domain.SubscriptionStatusCancelled {
		return domain.Subscription{}, domain.ErrSubscriptionCancelled
	}

	now := s.now()
	previous := sub.Status
	// при финализации отложенной отмены исходная отметка времени сохраняется
	if sub.CancelledAt == nil {
		sub.CancelledAt = &now
	}
	if reason != "" {
		sub.CancellationReason = reason
	}
	sub.UpdatedAt = now

	description := "cancellation scheduled at period end"
	if immediate {
		if !sub.CanTransitionTo(domain.SubscriptionStatusCancelled) {
			return domain.Subscription{}, domain.NewStateConflictError(id.String(), sub.Status, domain.SubscriptionStatusCancelled)
		}
		sub.Status = domain.SubscriptionStatusCancelled
		description = "subscription cancelled"
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.subscriptions.Update(ctx, sub); err != nil {
			return err
		}
		return s.appendEvent(ctx, sub, previous, sub.Status, actor, description)
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	s.publish(ctx, lifecycleEvent(domain.LifecycleSubscriptionCancelled, sub, reason, s.now()))
	s.log.Infow("Subscription cancelled", "id", sub.ID, "immediate", immediate, "reason", reason)
	return sub, nil
}

// Suspend приостанавливает подписку за неуплату. Системный переход,
// доступный только движку повторных списаний, из статуса active.
func (s *subscriptionService) Suspend(ctx context.Context, id uuid.UUID, reason string) (domain.Subscription, error) {
	s.log.Debugw("Suspending subscription", "id", id, "reason", reason)

	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if !sub.CanTransitionTo(domain.SubscriptionStatusSuspended) {
		return domain.Subscription{}, domain.NewStateConflictError(id.String(), sub.Status, domain.SubscriptionStatusSuspended)
	}

	now := s.now()
	previous := sub.Status
	sub.Status = domain.SubscriptionStatusSuspended
	sub.UpdatedAt = now

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.subscriptions.Update(ctx, sub); err != nil {
			return err
		}
		return s.appendEvent(ctx, sub, previous, sub.Status, domain.SystemActor, reason)
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	s.publish(ctx, lifecycleEvent(domain.LifecycleSubscriptionSuspended, sub, reason, s.now()))
	s.log.Warnw("Subscription suspended", "id", sub.ID, "reason", reason)
	return sub, nil
}

func (s *subscriptionService) ListEvents(ctx context.Context, id uuid.UUID) ([]domain.SubscriptionEvent, error) {
	return s.events.ListBySubscription(ctx, id)
}

func (s *subscriptionService) appendEvent(ctx context.Context, sub domain.Subscription, previous, next domain.SubscriptionStatus, actor domain.Actor, description string) error {
	_, err := s.events.Append(ctx, domain.SubscriptionEvent{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		PreviousStatus: previous,
		NewStatus:      next,
		ActorType:      actor.Type,
		ActorID:        actor.ID,
		Description:    description,
		CreatedAt:      s.now(),
	})
	return err
}

// publish отправляет событие диспетчеру уведомлений. Сбой публикации
// логируется и не влияет на исход операции.
func (s *subscriptionService) publish(ctx context.Context, event domain.LifecycleEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLifecycleEvent(ctx, event); err != nil {
		s.log.Errorw("Failed to publish lifecycle event", "type", event.Type, "subscription_id", event.SubscriptionID, "error", err)
	}
}

func lifecycleEvent(eventType string, sub domain.Subscription, reason string, at time.Time) domain.LifecycleEvent {
	tierID := sub.TierID
	amount := sub.Amount
	return domain.LifecycleEvent{
		Type:           eventType,
		SubscriptionID: sub.ID,
		ClubID:         sub.ClubID,
		PayerID:        sub.PayerID,
		MemberID:       sub.MemberID,
		TierID:         &tierID,
		Amount:         &amount,
		Currency:       sub.Currency,
		Reason:         reason,
		OccurredAt:     at,
	}
}
