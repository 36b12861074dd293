package service

import (
	"context"
	"errors"

	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/internal/repository"
)

// EventPublisher публикует события жизненного цикла для внешнего
// диспетчера уведомлений
type EventPublisher interface {
	PublishLifecycleEvent(ctx context.Context, event domain.LifecycleEvent) error
}

// resolveMandate применяет порядок разрешения мандата: собственный мандат
// подписки, иначе мандат плательщика с флагом по умолчанию. Возвращает
// domain.ErrMandateNotReady, если ни один не находится. Пригодность
// найденного мандата (IsUsable) проверяет вызывающая сторона — диагностика
// различает отсутствие мандата и мандат в непригодном статусе.
func resolveMandate(ctx context.Context, mandates repository.MandateRepository, sub domain.Subscription) (domain.PaymentMandate, error) {
	if sub.MandateID != nil {
		mandate, err := mandates.GetByID(ctx, *sub.MandateID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.PaymentMandate{}, domain.ErrMandateNotReady
			}
			return domain.PaymentMandate{}, err
		}
		return mandate, nil
	}

	mandate, err := mandates.GetDefaultByPayer(ctx, sub.PayerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.PaymentMandate{}, domain.ErrMandateNotReady
		}
		return domain.PaymentMandate{}, err
	}
	return mandate, nil
}
