package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clubhub/billing-engine/internal/domain"
)

// respondError переводит доменную ошибку в HTTP-ответ со структурированной
// причиной: исключенный слой UI подбирает по ней подсказку пользователю,
// не разбирая текст сообщения.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"reason": "NotFound", "error": err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"reason": "InvalidInput", "error": err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"reason": "InvalidTransition", "error": err.Error()})
	case errors.Is(err, domain.ErrSubscriptionCancelled):
		c.JSON(http.StatusConflict, gin.H{"reason": "SubscriptionCancelled", "error": err.Error()})
	case errors.Is(err, domain.ErrMandateNotReady):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"reason": "MandateNotReady", "error": err.Error()})
	case errors.Is(err, domain.ErrTierInactive):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"reason": "TierInactive", "error": err.Error()})
	case errors.Is(err, domain.ErrWorkerAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"reason": "AlreadyRunning", "error": err.Error()})
	case errors.Is(err, domain.ErrWebhookValidationFailed):
		c.JSON(http.StatusUnauthorized, gin.H{"reason": "InvalidSignature", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"reason": "Internal", "error": "internal error"})
	}
}
