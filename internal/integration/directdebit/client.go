package directdebit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/pkg/logger"
)

// Client представляет клиент для работы с API платежного провайдера
// прямого дебетования
type Client struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	httpClient    *http.Client
	log           *logger.Logger
}

// Config конфигурация для клиента провайдера
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

// NewClient создает новый клиент провайдера
func NewClient(cfg Config, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		httpClient:    &http.Client{Timeout: timeout},
		log:           log,
	}
}

// ErrorResponse тело ошибки API провайдера
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// doRequest выполняет запрос к API провайдера и декодирует ответ в out.
// Таймауты и 5xx превращаются во временные ошибки, 4xx — в окончательные.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.NewProviderError("timeout", "provider request timed out", 0, true, err)
		}
		return domain.NewProviderError("connection", "provider request failed", 0, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Code == "" {
			errResp.Code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		transient := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return domain.NewProviderError(errResp.Code, errResp.Message, resp.StatusCode, transient, nil)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
	}

	return nil
}
