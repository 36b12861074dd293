package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/clubhub/billing-engine/internal/config"
	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/internal/integration/directdebit"
	"github.com/clubhub/billing-engine/internal/metrics"
	"github.com/clubhub/billing-engine/internal/repository"
	"github.com/clubhub/billing-engine/internal/service"
	"github.com/clubhub/billing-engine/pkg/logger"
)

const testWebhookSecret = "topsecret"

// handlerFixture собирает HTTP-слой поверх in-memory репозиториев
type handlerFixture struct {
	router        *gin.Engine
	subscriptions *repository.InMemorySubscriptionRepository
	mandates      *repository.InMemoryMandateRepository
	payments      *repository.InMemoryPaymentRepository
	tiers         *repository.InMemoryTierRepository
	lifecycle     service.SubscriptionService
	paymentSvc    service.PaymentService
}

// noSubmit провайдер, до которого тесты обработчиков не должны доходить
type noSubmit struct{}

func (noSubmit) SubmitCollection(context.Context, string, decimal.Decimal, string, string, time.Time, string) (string, error) {
	return "", domain.NewProviderError("unexpected", "no submissions expected in handler tests", 0, false, nil)
}

func newHandlerFixture() *handlerFixture {
	return newHandlerFixtureWithPaymentTx(repository.NoopTransactor{})
}

// newHandlerFixtureWithPaymentTx подменяет транзактор только у сервиса
// списаний: обвязка прочих сервисов продолжает писать в in-memory хранилища
func newHandlerFixtureWithPaymentTx(paymentTx repository.Transactor) *handlerFixture {
	gin.SetMode(gin.TestMode)
	log := logger.New(logger.ERROR)

	cfg := &config.Config{}
	cfg.SetDunningPolicy(config.DunningPolicy{RetryLimit: 3, BackoffDays: []int{1, 3, 7}})

	subscriptions := repository.NewInMemorySubscriptionRepository(log)
	mandates := repository.NewInMemoryMandateRepository(log)
	payments := repository.NewInMemoryPaymentRepository(log)
	events := repository.NewInMemoryEventRepository(log)
	tiers := repository.NewInMemoryTierRepository(log)
	tx := repository.NoopTransactor{}
	billingMetrics := metrics.NewBillingMetrics(prometheus.NewRegistry(), log)

	lifecycle := service.NewSubscriptionService(subscriptions, mandates, tiers, events, payments, tx, nil, log)
	paymentSvc := service.NewPaymentService(payments, subscriptions, mandates, events, paymentTx, noSubmit{}, lifecycle, nil, cfg, billingMetrics, log)

	providerClient := directdebit.NewClient(directdebit.Config{
		BaseURL:       "https://provider.test",
		APIKey:        "key",
		WebhookSecret: testWebhookSecret,
	}, log)

	subscriptionHandler := NewSubscriptionHandler(lifecycle, log)
	webhookHandler := NewWebhookHandler(providerClient, paymentSvc, log)

	router := gin.New()
	subs := router.Group("/api/v1/subscriptions")
	{
		subs.POST("", subscriptionHandler.CreateSubscription)
		subs.GET("/:id", subscriptionHandler.GetSubscription)
		subs.GET("/:id/events", subscriptionHandler.ListEvents)
		subs.POST("/:id/activate", subscriptionHandler.ActivateSubscription)
		subs.POST("/:id/pause", subscriptionHandler.PauseSubscription)
		subs.POST("/:id/resume", subscriptionHandler.ResumeSubscription)
		subs.POST("/:id/tier", subscriptionHandler.ChangeTier)
		subs.POST("/:id/cancel", subscriptionHandler.CancelSubscription)
	}
	router.POST("/webhooks/provider", webhookHandler.HandleProviderWebhook)

	return &handlerFixture{
		router:        router,
		subscriptions: subscriptions,
		mandates:      mandates,
		payments:      payments,
		tiers:         tiers,
		lifecycle:     lifecycle,
		paymentSvc:    paymentSvc,
	}
}

func (f *handlerFixture) addTier(price string) domain.MembershipTier {
	tier, _ := f.tiers.Create(context.Background(), domain.MembershipTier{
		ID:       uuid.New(),
		ClubID:   uuid.New(),
		Name:     "Full Membership",
		Price:    decimal.RequireFromString(price),
		Currency: "GBP",
		Active:   true,
	})
	return tier
}

func (f *handlerFixture) addMandate(payerID uuid.UUID) domain.PaymentMandate {
	mandate, _ := f.mandates.Create(context.Background(), domain.PaymentMandate{
		ID:                uuid.New(),
		PayerID:           payerID,
		Provider:          "directdebit",
		ProviderMandateID: "MD-" + uuid.NewString()[:8],
		Scheme:            "bacs",
		Status:            domain.MandateStatusActive,
		IsDefault:         true,
	})
	return mandate
}
