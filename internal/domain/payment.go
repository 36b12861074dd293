package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProviderPaymentStatus статус попытки списания у провайдера
type ProviderPaymentStatus string

const (
	ProviderPaymentStatusPending           ProviderPaymentStatus = "pending"
	ProviderPaymentStatusPendingSubmission ProviderPaymentStatus = "pending_submission"
	ProviderPaymentStatusSubmitted         ProviderPaymentStatus = "submitted"
	ProviderPaymentStatusConfirmed         ProviderPaymentStatus = "confirmed"
	ProviderPaymentStatusPaidOut           ProviderPaymentStatus = "paid_out"
	ProviderPaymentStatusFailed            ProviderPaymentStatus = "failed"
	ProviderPaymentStatusCancelled         ProviderPaymentStatus = "cancelled"
	ProviderPaymentStatusChargedBack       ProviderPaymentStatus = "charged_back"
)

// ProviderPayment представляет собой одну попытку списания, отправленную
// провайдеру. Ссылается либо на подписку, либо на счет — никогда на оба.
// Статус меняется только результатами вебхуков/опроса провайдера.
type ProviderPayment struct {
	ID                uuid.UUID             `json:"id"`
	SubscriptionID    *uuid.UUID            `json:"subscription_id,omitempty"`
	InvoiceID         *uuid.UUID            `json:"invoice_id,omitempty"`
	ProviderPaymentID string                `json:"provider_payment_id,omitempty"`
	Amount            decimal.Decimal       `json:"amount"`
	Currency          string                `json:"currency"`
	Status            ProviderPaymentStatus `json:"status"`
	Description       string                `json:"description,omitempty"`
	ChargeDate        time.Time             `json:"charge_date"`
	FailureReason     string                `json:"failure_reason,omitempty"`
	RetryCount        int                   `json:"retry_count"`
	PayoutID          string                `json:"payout_id,omitempty"`
	PaidOutAt         *time.Time            `json:"paid_out_at,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// IsTerminalFailure списание окончательно не прошло и подлежит обработке
// механизмом повторных попыток
func (p ProviderPaymentStatus) IsTerminalFailure() bool {
	return p == ProviderPaymentStatusFailed || p == ProviderPaymentStatusChargedBack
}

// IsSuccess списание подтверждено провайдером
func (p ProviderPaymentStatus) IsSuccess() bool {
	return p == ProviderPaymentStatusConfirmed || p == ProviderPaymentStatusPaidOut
}

// IsTerminal статус окончательный, дальнейших изменений от провайдера не ожидается
func (p ProviderPaymentStatus) IsTerminal() bool {
	return p.IsSuccess() || p.IsTerminalFailure() || p == ProviderPaymentStatusCancelled
}
