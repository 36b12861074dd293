package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clubhub/billing-engine/internal/service"
	"github.com/clubhub/billing-engine/pkg/logger"
)

// DiagnosticHandler обработчик отчетов сверки с провайдером
type DiagnosticHandler struct {
	sync service.SyncService
	log  *logger.Logger
}

// NewDiagnosticHandler создает новый обработчик диагностики
func NewDiagnosticHandler(sync service.SyncService, log *logger.Logger) *DiagnosticHandler {
	return &DiagnosticHandler{
		sync: sync,
		log:  log,
	}
}

// GetReport возвращает отчет сверки по всем активным и ожидающим подпискам
func (h *DiagnosticHandler) GetReport(c *gin.Context) {
	report, err := h.sync.Diagnose(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetSubscriptionDiagnostic возвращает сверку одной подписки
func (h *DiagnosticHandler) GetSubscriptionDiagnostic(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"reason": "InvalidInput", "error": "invalid subscription id"})
		return
	}

	diagnostic, err := h.sync.DiagnoseSubscription(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, diagnostic)
}
