package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clubhub/billing-engine/internal/api/rest/handlers"
	"github.com/clubhub/billing-engine/internal/api/rest/middleware"
	"github.com/clubhub/billing-engine/internal/integration/directdebit"
	"github.com/clubhub/billing-engine/internal/service"
	"github.com/clubhub/billing-engine/pkg/logger"
)

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(
	subscriptions service.SubscriptionService,
	payments service.PaymentService,
	sync service.SyncService,
	workers service.WorkerService,
	provider *directdebit.Client,
	registry *prometheus.Registry,
	log *logger.Logger,
) *gin.Engine {
	r := gin.New()

	r.Use(middleware.LoggerMiddleware(log))
	r.Use(gin.Recovery())

	r.GET("/health", handlers.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptions, log)
	workerHandler := handlers.NewWorkerHandler(workers, log)
	diagnosticHandler := handlers.NewDiagnosticHandler(sync, log)
	webhookHandler := handlers.NewWebhookHandler(provider, payments, log)

	v1 := r.Group("/api/v1")
	{
		subs := v1.Group("/subscriptions")
		{
			subs.POST("", subscriptionHandler.CreateSubscription)
			subs.GET("/:id", subscriptionHandler.GetSubscription)
			subs.GET("/:id/events", subscriptionHandler.ListEvents)
			subs.GET("/:id/diagnostics", diagnosticHandler.GetSubscriptionDiagnostic)
			subs.POST("/:id/activate", subscriptionHandler.ActivateSubscription)
			subs.POST("/:id/pause", subscriptionHandler.PauseSubscription)
			subs.POST("/:id/resume", subscriptionHandler.ResumeSubscription)
			subs.POST("/:id/tier", subscriptionHandler.ChangeTier)
			subs.POST("/:id/cancel", subscriptionHandler.CancelSubscription)
		}

		v1.GET("/diagnostics", diagnosticHandler.GetReport)

		workersGroup := v1.Group("/workers")
		{
			workersGroup.GET("", workerHandler.ListWorkers)
			workersGroup.POST("/:name/trigger", workerHandler.TriggerWorker)
			workersGroup.GET("/:name/executions", workerHandler.ListExecutions)
		}
	}

	r.POST("/webhooks/provider", webhookHandler.HandleProviderWebhook)

	return r
}
