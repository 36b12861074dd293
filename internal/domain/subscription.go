package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionStatus статус подписки
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// BillingFrequency периодичность списаний
type BillingFrequency string

const (
	BillingFrequencyMonthly BillingFrequency = "monthly"
	BillingFrequencyAnnual  BillingFrequency = "annual"
)

// Subscription представляет собой подписку участника на тариф клуба.
// Amount — снимок цены тарифа на момент оформления или смены тарифа,
// изменение цены тарифа не затрагивает существующие подписки.
type Subscription struct {
	ID                     uuid.UUID          `json:"id"`
	ClubID                 uuid.UUID          `json:"club_id"`
	PayerID                uuid.UUID          `json:"payer_id"`
	MemberID               uuid.UUID          `json:"member_id"`
	TierID                 uuid.UUID          `json:"tier_id"`
	MandateID              *uuid.UUID         `json:"mandate_id,omitempty"`
	ProviderSubscriptionID string             `json:"provider_subscription_id,omitempty"`
	Status                 SubscriptionStatus `json:"status"`
	BillingFrequency       BillingFrequency   `json:"billing_frequency"`
	BillingDayOfMonth      int                `json:"billing_day_of_month"`
	Amount                 decimal.Decimal    `json:"amount"`
	Currency               string             `json:"currency"`
	CurrentPeriodStart     time.Time          `json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end"`
	NextBillingDate        time.Time          `json:"next_billing_date"`
	FailedPaymentCount     int                `json:"failed_payment_count"`
	LastFailedPaymentDate  *time.Time         `json:"last_failed_payment_date,omitempty"`
	PausedAt               *time.Time         `json:"paused_at,omitempty"`
	ResumeDate             *time.Time         `json:"resume_date,omitempty"`
	CancelledAt            *time.Time         `json:"cancelled_at,omitempty"`
	CancellationReason     string             `json:"cancellation_reason,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// allowedTransitions таблица допустимых переходов статусов.
// cancelled — терминальный статус, из него переходов нет.
var allowedTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusPending:   {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusActive:    {SubscriptionStatusPaused, SubscriptionStatusSuspended, SubscriptionStatusCancelled},
	SubscriptionStatusPaused:    {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusSuspended: {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusCancelled: {},
}

// CanTransitionTo проверяет допустимость перехода в новый статус
func (s *Subscription) CanTransitionTo(target SubscriptionStatus) bool {
	for _, allowed := range allowedTransitions[s.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsCancelledAtPeriodEnd подписка помечена к отмене, но продолжает
// действовать до конца оплаченного периода
func (s *Subscription) IsCancelledAtPeriodEnd() bool {
	return s.Status != SubscriptionStatusCancelled && s.CancelledAt != nil
}

// CreateSubscriptionRequest запрос на создание подписки
type CreateSubscriptionRequest struct {
	ClubID            uuid.UUID  `json:"club_id" binding:"required"`
	PayerID           uuid.UUID  `json:"payer_id" binding:"required"`
	MemberID          uuid.UUID  `json:"member_id" binding:"required"`
	TierID            uuid.UUID  `json:"tier_id" binding:"required"`
	MandateID         *uuid.UUID `json:"mandate_id,omitempty"`
	BillingFrequency  string     `json:"billing_frequency" binding:"required,oneof=monthly annual"`
	BillingDayOfMonth int        `json:"billing_day_of_month" binding:"required,min=1,max=31"`
}

// ChangeTierRequest запрос на смену тарифа
type ChangeTierRequest struct {
	TierID  uuid.UUID `json:"tier_id" binding:"required"`
	Prorate bool      `json:"prorate"`
}

// PauseRequest запрос на приостановку подписки
type PauseRequest struct {
	ResumeDate *time.Time `json:"resume_date,omitempty"`
}

// CancelRequest запрос на отмену подписки
type CancelRequest struct {
	Reason    string `json:"reason,omitempty"`
	Immediate bool   `json:"immediate"`
}
