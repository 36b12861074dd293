package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/internal/integration/directdebit"
	"github.com/clubhub/billing-engine/internal/service"
	"github.com/clubhub/billing-engine/pkg/logger"
)

// SignatureHeader заголовок с HMAC-подписью тела вебхука
const SignatureHeader = "Webhook-Signature"

// WebhookHandler принимает вебхуки провайдера с исходами списаний.
// До проверки подписи ничего не сохраняется; исходы идут через тот же
// путь ApplyPaymentStatus, что и результаты опроса.
type WebhookHandler struct {
	client   *directdebit.Client
	payments service.PaymentService
	log      *logger.Logger
}

// NewWebhookHandler создает новый обработчик вебхуков провайдера
func NewWebhookHandler(client *directdebit.Client, payments service.PaymentService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		client:   client,
		payments: payments,
		log:      log,
	}
}

// HandleProviderWebhook обрабатывает пакет событий от провайдера
func (h *WebhookHandler) HandleProviderWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"reason": "InvalidInput", "error": "failed to read request body"})
		return
	}

	events, err := h.client.ParseEvents(payload, c.GetHeader(SignatureHeader))
	if err != nil {
		h.log.Warnw("Provider webhook rejected", "error", err)
		respondError(c, err)
		return
	}

	applied := 0
	for _, event := range events {
		status := event.PaymentStatus()
		if status == "" || event.PaymentID == "" {
			h.log.Debugw("Ignored webhook event", "resource_type", event.ResourceType, "action", event.Action)
			continue
		}

		var paidOutAt *time.Time
		if status == domain.ProviderPaymentStatusPaidOut && event.CreatedAt != "" {
			if ts, parseErr := time.Parse(time.RFC3339, event.CreatedAt); parseErr == nil {
				paidOutAt = &ts
			}
		}

		if err := h.payments.ApplyPaymentStatus(c.Request.Context(), event.PaymentID, status, event.FailureReason, event.PayoutID, paidOutAt); err != nil {
			// неизвестный платеж не валит пакет, а вот внутренняя ошибка
			// должна вернуть не-2xx: провайдер переотправит пакет, повтор
			// безопасен благодаря защите от повторного применения статуса
			if errors.Is(err, domain.ErrNotFound) {
				h.log.Warnw("Webhook event for unknown provider payment skipped", "provider_payment_id", event.PaymentID, "status", status)
				continue
			}
			h.log.Errorw("Failed to apply webhook payment status", "provider_payment_id", event.PaymentID, "status", status, "error", err)
			respondError(c, err)
			return
		}
		applied++
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "applied": applied})
}
