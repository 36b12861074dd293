package directdebit

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// CollectionRequest запрос на списание по мандату
type CollectionRequest struct {
	MandateReference string `json:"mandate_reference"`
	AmountMinor      int64  `json:"amount_minor"`
	Currency         string `json:"currency"`
	Description      string `json:"description,omitempty"`
	ChargeDate       string `json:"charge_date"`
	IdempotencyKey   string `json:"idempotency_key"`
}

// CollectionResponse ответ провайдера на запрос списания. Подтверждение
// здесь только синхронное — итог списания приходит вебхуком позже.
type CollectionResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ChargeDate string `json:"charge_date"`
}

// PaymentResponse состояние платежа у провайдера
type PaymentResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	PayoutID      string `json:"payout_id,omitempty"`
	PaidOutAt     string `json:"paid_out_at,omitempty"`
}

// SubmitCollection отправляет провайдеру запрос на списание.
// IdempotencyKey защищает от двойной отправки при повторе после сбоя.
func (c *Client) SubmitCollection(ctx context.Context, mandateRef string, amount decimal.Decimal, currency, description string, chargeDate time.Time, idempotencyKey string) (string, error) {
	c.log.Debugw("Submitting collection to provider", "mandate", mandateRef, "amount", amount.String(), "currency", currency)

	req := CollectionRequest{
		MandateReference: mandateRef,
		AmountMinor:      amount.Shift(2).IntPart(),
		Currency:         currency,
		Description:      description,
		ChargeDate:       chargeDate.Format("2006-01-02"),
		IdempotencyKey:   idempotencyKey,
	}

	var resp CollectionResponse
	if err := c.doRequest(ctx, http.MethodPost, "/collections", req, &resp); err != nil {
		return "", err
	}

	c.log.Infow("Collection submitted", "provider_payment_id", resp.ID, "status", resp.Status)
	return resp.ID, nil
}

// GetPayment возвращает состояние платежа у провайдера
func (c *Client) GetPayment(ctx context.Context, providerPaymentID string) (PaymentResponse, error) {
	var resp PaymentResponse
	if err := c.doRequest(ctx, http.MethodGet, "/payments/"+providerPaymentID, nil, &resp); err != nil {
		return PaymentResponse{}, err
	}
	return resp, nil
}
