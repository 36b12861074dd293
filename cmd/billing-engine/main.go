package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clubhub/billing-engine/internal/api/rest"
	"github.com/clubhub/billing-engine/internal/config"
	"github.com/clubhub/billing-engine/internal/db"
	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/internal/integration/directdebit"
	"github.com/clubhub/billing-engine/internal/kafka"
	"github.com/clubhub/billing-engine/internal/metrics"
	"github.com/clubhub/billing-engine/internal/repository"
	"github.com/clubhub/billing-engine/internal/scheduler"
	"github.com/clubhub/billing-engine/internal/service"
	"github.com/clubhub/billing-engine/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := initLogger()
	log.Infow("Billing engine starting up...")

	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalw("Failed to load configuration", "error", err)
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	dbClient, err := db.NewClient(ctx, cfg.Database.DSN, log)
	if err != nil {
		log.Fatalw("Failed to connect to database", "error", err)
	}
	defer dbClient.Close()
	log.Infow("Database connection established")

	pool := dbClient.Pool()
	subscriptionRepo := repository.NewPostgresSubscriptionRepository(pool, log)
	mandateRepo := repository.NewPostgresMandateRepository(pool, log)
	paymentRepo := repository.NewPostgresPaymentRepository(pool, log)
	eventRepo := repository.NewPostgresEventRepository(pool, log)
	tierRepo := repository.NewPostgresTierRepository(pool, log)
	workerRepo := repository.NewPostgresWorkerRepository(pool, log)

	providerClient := directdebit.NewClient(directdebit.Config{
		BaseURL:       cfg.Provider.BaseURL,
		APIKey:        cfg.Provider.APIKey,
		WebhookSecret: cfg.Provider.WebhookSecret,
		Timeout:       time.Duration(cfg.Provider.TimeoutSec) * time.Second,
	}, log)

	var publisher service.EventPublisher
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopics(cfg.Kafka.Brokers, log); err != nil {
			log.Errorw("Failed to ensure Kafka topics, continuing without event publishing", "error", err)
		} else {
			producer, err := kafka.NewProducer(cfg.Kafka.Brokers, log)
			if err != nil {
				log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
			} else {
				publisher = producer
				defer func() {
					if err := producer.Close(); err != nil {
						log.Errorw("Error closing Kafka producer", "error", err)
					}
				}()
			}
		}
	}

	registry := prometheus.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(registry, log)
	systemMetrics := metrics.NewSystemMetrics(registry, log)
	systemMetrics.StartRecording(15 * time.Second)
	defer systemMetrics.Stop()

	subscriptionSvc := service.NewSubscriptionService(subscriptionRepo, mandateRepo, tierRepo, eventRepo, paymentRepo, dbClient, publisher, log)
	paymentSvc := service.NewPaymentService(paymentRepo, subscriptionRepo, mandateRepo, eventRepo, dbClient, providerClient, subscriptionSvc, publisher, cfg, billingMetrics, log)
	billingSvc := service.NewBillingService(subscriptionRepo, mandateRepo, paymentRepo, dbClient, subscriptionSvc, paymentSvc, billingMetrics, log)
	syncSvc := service.NewSyncService(subscriptionRepo, mandateRepo, paymentRepo, providerClient, paymentSvc, subscriptionSvc, publisher, cfg, log)

	workerSvc := service.NewWorkerService(workerRepo, billingMetrics, log)
	workerSvc.Register(domain.WorkerBillingSweep, billingSvc.RunBillingSweep)
	workerSvc.Register(domain.WorkerMandateSync, syncSvc.RunMandateSync)
	workerSvc.Register(domain.WorkerDunningSweep, paymentSvc.RunDunningSweep)

	sched := scheduler.New(workerSvc, log)
	schedules := map[string]string{
		domain.WorkerMandateSync:  cfg.Scheduler.MandateSyncCron,
		domain.WorkerBillingSweep: cfg.Scheduler.BillingCron,
		domain.WorkerDunningSweep: cfg.Scheduler.DunningCron,
	}
	for name, spec := range schedules {
		if err := sched.Schedule(spec, name); err != nil {
			log.Fatalw("Failed to schedule worker", "worker", name, "error", err)
		}
	}
	sched.Start()

	router := rest.SetupRouter(subscriptionSvc, paymentSvc, syncSvc, workerSvc, providerClient, registry, log)
	server := rest.NewServer(router, cfg, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalw("HTTP server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sched.Stop(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Infow("HTTP server gracefully stopped")
	}

	log.Infow("Cleanup finished. Goodbye!")
}

// initLogger инициализирует логгер с уровнем из окружения
func initLogger() *logger.Logger {
	logLevel := logger.INFO
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = logger.DEBUG
	}
	return logger.New(logLevel)
}
