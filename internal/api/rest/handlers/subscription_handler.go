package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/internal/service"
	"github.com/clubhub/billing-engine/pkg/logger"
)

// SubscriptionHandler обработчик операций над подписками
type SubscriptionHandler struct {
	subscriptions service.SubscriptionService
	log           *logger.Logger
}

// NewSubscriptionHandler создает новый обработчик подписок
func NewSubscriptionHandler(subscriptions service.SubscriptionService, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptions: subscriptions,
		log:           log,
	}
}

// actorFrom инициатор операции из предавторизованного контекста вызова
func actorFrom(c *gin.Context) domain.Actor {
	return domain.Actor{
		Type: domain.ActorTypeUser,
		ID:   c.GetHeader("X-Actor-Id"),
	}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"reason": "InvalidInput", "error": "invalid subscription id"})
		return uuid.Nil, false
	}
	return id, true
}

// CreateSubscription создает новую подписку
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	var req domain.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"reason": "InvalidInput", "error": err.Error()})
		return
	}

	subscription, err := h.subscriptions.Create(c.Request.Context(), req, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, subscription)
}

// GetSubscription возвращает подписку по идентификатору
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	subscription, err := h.subscriptions.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, subscription)
}

// ActivateSubscription активирует подписку с пригодным мандатом
func (h *SubscriptionHandler) ActivateSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	subscription, err := h.subscriptions.Activate(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, subscription)
}

// PauseSubscription приостанавливает активную подписку
func (h *SubscriptionHandler) PauseSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req domain.PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"reason": "InvalidInput", "error": err.Error()})
		return
	}

	subscription, err := h.subscriptions.Pause(c.Request.Context(), id, req.ResumeDate, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, subscription)
}

// ResumeSubscription возобновляет приостановленную подписку
func (h *SubscriptionHandler) ResumeSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	subscription, err := h.subscriptions.Resume(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, subscription)
}

// ChangeTier меняет тариф подписки, по запросу — с пропорциональной
// корректировкой за остаток периода
func (h *SubscriptionHandler) ChangeTier(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req domain.ChangeTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"reason": "InvalidInput", "error": err.Error()})
		return
	}

	subscription, err := h.subscriptions.ChangeTier(c.Request.Context(), id, req.TierID, req.Prorate, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, subscription)
}

// CancelSubscription отменяет подписку сразу или в конце периода
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req domain.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"reason": "InvalidInput", "error": err.Error()})
		return
	}

	subscription, err := h.subscriptions.Cancel(c.Request.Context(), id, req.Reason, req.Immediate, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, subscription)
}

// ListEvents возвращает журнал событий подписки
func (h *SubscriptionHandler) ListEvents(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	events, err := h.subscriptions.ListEvents(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}
