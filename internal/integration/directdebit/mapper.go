package directdebit

import (
	"github.com/clubhub/billing-engine/internal/domain"
)

// mapMandateStatus переводит статус мандата провайдера в доменный
func mapMandateStatus(status string) domain.MandateStatus {
	switch status {
	case "pending_submission", "pending_customer_approval", "submitted":
		return domain.MandateStatusPending
	case "active":
		return domain.MandateStatusActive
	case "cancelled":
		return domain.MandateStatusCancelled
	case "failed":
		return domain.MandateStatusFailed
	case "expired":
		return domain.MandateStatusExpired
	default:
		return domain.MandateStatusPending
	}
}

// MapPaymentStatus переводит статус платежа провайдера в доменный
func MapPaymentStatus(status string) domain.ProviderPaymentStatus {
	switch status {
	case "pending_submission":
		return domain.ProviderPaymentStatusPendingSubmission
	case "submitted":
		return domain.ProviderPaymentStatusSubmitted
	case "confirmed":
		return domain.ProviderPaymentStatusConfirmed
	case "paid_out":
		return domain.ProviderPaymentStatusPaidOut
	case "failed":
		return domain.ProviderPaymentStatusFailed
	case "cancelled":
		return domain.ProviderPaymentStatusCancelled
	case "charged_back", "customer_approval_denied":
		return domain.ProviderPaymentStatusChargedBack
	default:
		return domain.ProviderPaymentStatusPending
	}
}
