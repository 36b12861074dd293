package directdebit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/clubhub/billing-engine/internal/domain"
)

// WebhookEvent одно событие из тела вебхука провайдера
type WebhookEvent struct {
	ID            string `json:"id"`
	ResourceType  string `json:"resource_type"`
	Action        string `json:"action"`
	PaymentID     string `json:"payment_id,omitempty"`
	MandateID     string `json:"mandate_id,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	PayoutID      string `json:"payout_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// PaymentStatus доменный статус, соответствующий действию события.
// Пустая строка для событий, не относящихся к платежам.
func (e WebhookEvent) PaymentStatus() domain.ProviderPaymentStatus {
	if e.ResourceType != "payments" {
		return ""
	}
	return MapPaymentStatus(e.Action)
}

type webhookEnvelope struct {
	Events []WebhookEvent `json:"events"`
}

// VerifySignature сверяет HMAC-SHA256 подпись тела вебхука с секретом.
// Сравнение постоянного времени, провал подписи — единая sentinel-ошибка.
func (c *Client) VerifySignature(payload []byte, signature string) error {
	if signature == "" {
		return domain.ErrWebhookValidationFailed
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		c.log.Warnw("Webhook signature mismatch")
		return domain.ErrWebhookValidationFailed
	}

	return nil
}

// ParseEvents проверяет подпись и разбирает конверт с событиями.
// Ничего не обрабатывается до успешной проверки подписи.
func (c *Client) ParseEvents(payload []byte, signature string) ([]WebhookEvent, error) {
	if err := c.VerifySignature(payload, signature); err != nil {
		return nil, err
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	return envelope.Events, nil
}
