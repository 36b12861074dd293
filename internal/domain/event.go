package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActorType тип инициатора перехода
type ActorType string

const (
	ActorTypeUser    ActorType = "user"
	ActorTypeSystem  ActorType = "system"
	ActorTypeWebhook ActorType = "webhook"
)

// Actor инициатор операции над подпиской
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id,omitempty"`
}

// SystemActor системный инициатор для переходов, выполняемых воркерами
var SystemActor = Actor{Type: ActorTypeSystem, ID: "system"}

// SubscriptionEvent запись журнала аудита переходов подписки. Журнал
// append-only: записи никогда не изменяются и не удаляются.
type SubscriptionEvent struct {
	ID             uuid.UUID          `json:"id"`
	SubscriptionID uuid.UUID          `json:"subscription_id"`
	PreviousStatus SubscriptionStatus `json:"previous_status"`
	NewStatus      SubscriptionStatus `json:"new_status"`
	PreviousTierID *uuid.UUID         `json:"previous_tier_id,omitempty"`
	NewTierID      *uuid.UUID         `json:"new_tier_id,omitempty"`
	ActorType      ActorType          `json:"actor_type"`
	ActorID        string             `json:"actor_id,omitempty"`
	Description    string             `json:"description,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Типы жизненных событий, публикуемых для диспетчера уведомлений
const (
	LifecycleSubscriptionCreated    = "subscription.created"
	LifecycleSubscriptionActivated  = "subscription.activated"
	LifecycleSubscriptionPaused     = "subscription.paused"
	LifecycleSubscriptionResumed    = "subscription.resumed"
	LifecycleSubscriptionTierChange = "subscription.tier_changed"
	LifecycleSubscriptionCancelled  = "subscription.cancelled"
	LifecycleSubscriptionSuspended  = "subscription.suspended"
	LifecycleMandateActive          = "mandate.active"
	LifecyclePaymentSubmitted       = "payment.submitted"
	LifecyclePaymentConfirmed       = "payment.confirmed"
	LifecyclePaymentFailed          = "payment.failed"
	LifecycleAdjustmentCredit       = "adjustment.credit"
)

// LifecycleEvent событие жизненного цикла для внешнего диспетчера
// уведомлений. Несет только структурированные данные — форматирование
// текста остается за потребителем.
type LifecycleEvent struct {
	Type           string           `json:"type"`
	SubscriptionID uuid.UUID        `json:"subscription_id"`
	ClubID         uuid.UUID        `json:"club_id"`
	PayerID        uuid.UUID        `json:"payer_id"`
	MemberID       uuid.UUID        `json:"member_id"`
	TierID         *uuid.UUID       `json:"tier_id,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Currency       string           `json:"currency,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}
