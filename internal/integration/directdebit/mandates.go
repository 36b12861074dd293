package directdebit

import (
	"context"
	"errors"
	"net/http"

	"github.com/clubhub/billing-engine/internal/domain"
)

// MandateResponse состояние мандата у провайдера
type MandateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Scheme string `json:"scheme"`
}

// GetMandateStatus возвращает статус мандата по его идентификатору
// у провайдера
func (c *Client) GetMandateStatus(ctx context.Context, providerMandateID string) (domain.MandateStatus, error) {
	var resp MandateResponse
	if err := c.doRequest(ctx, http.MethodGet, "/mandates/"+providerMandateID, nil, &resp); err != nil {
		return "", err
	}

	return mapMandateStatus(resp.Status), nil
}

// SubscriptionResponse состояние подписки на стороне провайдера
type SubscriptionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SubscriptionExists проверяет наличие подписки у провайдера.
// Ответ 404 означает отсутствие, не ошибку.
func (c *Client) SubscriptionExists(ctx context.Context, providerSubscriptionID string) (bool, error) {
	var resp SubscriptionResponse
	err := c.doRequest(ctx, http.MethodGet, "/subscriptions/"+providerSubscriptionID, nil, &resp)
	if err != nil {
		var pe *domain.ProviderError
		if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}

	return true, nil
}
