package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clubhub/billing-engine/internal/service"
	"github.com/clubhub/billing-engine/pkg/logger"
)

// WorkerHandler обработчик ручного запуска воркеров и истории запусков
type WorkerHandler struct {
	workers service.WorkerService
	log     *logger.Logger
}

// NewWorkerHandler создает новый обработчик воркеров
func NewWorkerHandler(workers service.WorkerService, log *logger.Logger) *WorkerHandler {
	return &WorkerHandler{
		workers: workers,
		log:     log,
	}
}

// ListWorkers возвращает имена зарегистрированных воркеров
func (h *WorkerHandler) ListWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workers": h.workers.Names()})
}

// TriggerWorker запускает воркер вручную. Запуск проходит через тот же
// барьер, что и плановый: перекрытие отклоняется со статусом 409.
func (h *WorkerHandler) TriggerWorker(c *gin.Context) {
	name := c.Param("name")

	execution, err := h.workers.Trigger(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, execution)
}

// ListExecutions возвращает историю запусков воркера
func (h *WorkerHandler) ListExecutions(c *gin.Context) {
	name := c.Param("name")

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"reason": "InvalidInput", "error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	executions, err := h.workers.ListExecutions(c.Request.Context(), name, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"executions": executions})
}
