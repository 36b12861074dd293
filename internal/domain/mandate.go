package domain

import (
	"time"

	"github.com/google/uuid"
)

// MandateStatus статус мандата у платежного провайдера
type MandateStatus string

const (
	MandateStatusPending   MandateStatus = "pending"
	MandateStatusActive    MandateStatus = "active"
	MandateStatusCancelled MandateStatus = "cancelled"
	MandateStatusFailed    MandateStatus = "failed"
	MandateStatusExpired   MandateStatus = "expired"
)

// PaymentMandate представляет собой разрешение плательщика на периодические
// списания через платежного провайдера. У плательщика может быть несколько
// мандатов, но не более одного с флагом IsDefault.
type PaymentMandate struct {
	ID                uuid.UUID     `json:"id"`
	PayerID           uuid.UUID     `json:"payer_id"`
	Provider          string        `json:"provider"`
	ProviderMandateID string        `json:"provider_mandate_id"`
	Scheme            string        `json:"scheme"`
	Status            MandateStatus `json:"status"`
	IsDefault         bool          `json:"is_default"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// IsUsable мандат пригоден для списаний
func (m *PaymentMandate) IsUsable() bool {
	return m.Status == MandateStatusActive
}
