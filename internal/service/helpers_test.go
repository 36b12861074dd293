package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/clubhub/billing-engine/internal/config"
	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/internal/integration/directdebit"
	"github.com/clubhub/billing-engine/internal/metrics"
	"github.com/clubhub/billing-engine/internal/repository"
	"github.com/clubhub/billing-engine/pkg/logger"
)

// testEnv общая обвязка сервисных тестов: in-memory репозитории и
// зафиксированное время
type testEnv struct {
	subscriptions *repository.InMemorySubscriptionRepository
	mandates      *repository.InMemoryMandateRepository
	payments      *repository.InMemoryPaymentRepository
	events        *repository.InMemoryEventRepository
	tiers         *repository.InMemoryTierRepository
	workers       *repository.InMemoryWorkerRepository
	tx            repository.Transactor
	cfg           *config.Config
	metrics       metrics.BillingMetrics
	publisher     *capturingPublisher
	log           *logger.Logger
	now           time.Time
}

func newTestEnv() *testEnv {
	log := logger.New(logger.ERROR)
	cfg := &config.Config{}
	cfg.SetDunningPolicy(config.DunningPolicy{RetryLimit: 3, BackoffDays: []int{1, 3, 7}})
	cfg.Sync.PaymentPollAgeHours = 24

	return &testEnv{
		subscriptions: repository.NewInMemorySubscriptionRepository(log),
		mandates:      repository.NewInMemoryMandateRepository(log),
		payments:      repository.NewInMemoryPaymentRepository(log),
		events:        repository.NewInMemoryEventRepository(log),
		tiers:         repository.NewInMemoryTierRepository(log),
		workers:       repository.NewInMemoryWorkerRepository(log),
		tx:            repository.NoopTransactor{},
		cfg:           cfg,
		metrics:       metrics.NewBillingMetrics(prometheus.NewRegistry(), log),
		publisher:     &capturingPublisher{},
		log:           log,
		now:           time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC),
	}
}

func (e *testEnv) clock() func() time.Time {
	return func() time.Time { return e.now }
}

func (e *testEnv) lifecycle() *subscriptionService {
	svc := NewSubscriptionService(e.subscriptions, e.mandates, e.tiers, e.events, e.payments, e.tx, e.publisher, e.log).(*subscriptionService)
	svc.now = e.clock()
	return svc
}

func (e *testEnv) paymentSvc(provider CollectionSubmitter, suspender Suspender) *paymentService {
	svc := NewPaymentService(e.payments, e.subscriptions, e.mandates, e.events, e.tx, provider, suspender, e.publisher, e.cfg, e.metrics, e.log).(*paymentService)
	svc.now = e.clock()
	return svc
}

func (e *testEnv) addTier(price string, active bool) domain.MembershipTier {
	tier, _ := e.tiers.Create(context.Background(), domain.MembershipTier{
		ID:       uuid.New(),
		ClubID:   uuid.New(),
		Name:     "Full Membership",
		Price:    decimal.RequireFromString(price),
		Currency: "GBP",
		Active:   active,
	})
	return tier
}

func (e *testEnv) addMandate(payerID uuid.UUID, status domain.MandateStatus, isDefault bool) domain.PaymentMandate {
	mandate, _ := e.mandates.Create(context.Background(), domain.PaymentMandate{
		ID:                uuid.New(),
		PayerID:           payerID,
		Provider:          "directdebit",
		ProviderMandateID: "MD" + uuid.NewString()[:8],
		Scheme:            "bacs",
		Status:            status,
		IsDefault:         isDefault,
	})
	return mandate
}

func (e *testEnv) addActiveSubscription(tier domain.MembershipTier, billingDay int) domain.Subscription {
	payerID := uuid.New()
	e.addMandate(payerID, domain.MandateStatusActive, true)

	start, end := billingPeriodFrom(e.now, domain.BillingFrequencyMonthly, billingDay)
	sub, _ := e.subscriptions.Create(context.Background(), domain.Subscription{
		ID:                 uuid.New(),
		ClubID:             tier.ClubID,
		PayerID:            payerID,
		MemberID:           uuid.New(),
		TierID:             tier.ID,
		Status:             domain.SubscriptionStatusActive,
		BillingFrequency:   domain.BillingFrequencyMonthly,
		BillingDayOfMonth:  billingDay,
		Amount:             tier.Price,
		Currency:           tier.Currency,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		NextBillingDate:    end,
	})
	return sub
}

// failingTransactor имитирует транзакцию, которую не удалось открыть или
// зафиксировать: fn не выполняется, записи не попадают в хранилище
type failingTransactor struct {
	err error
}

func (t failingTransactor) WithTx(context.Context, func(context.Context) error) error {
	return t.err
}

// capturingPublisher собирает опубликованные события для проверок
type capturingPublisher struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (p *capturingPublisher) PublishLifecycleEvent(_ context.Context, event domain.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// fakeProvider управляемая заглушка провайдера для сервисных тестов
type fakeProvider struct {
	mu          sync.Mutex
	submitErr   error
	submissions []string
	seq         int

	mandateStatuses map[string]domain.MandateStatus
	paymentResps    map[string]fakePaymentResp
	remoteSubs      map[string]bool
}

type fakePaymentResp struct {
	status        string
	failureReason string
	payoutID      string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		mandateStatuses: make(map[string]domain.MandateStatus),
		paymentResps:    make(map[string]fakePaymentResp),
		remoteSubs:      make(map[string]bool),
	}
}

func (f *fakeProvider) SubmitCollection(_ context.Context, _ string, _ decimal.Decimal, _, _ string, _ time.Time, idempotencyKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.seq++
	f.submissions = append(f.submissions, idempotencyKey)
	return "PM" + uuid.NewString()[:8], nil
}

func (f *fakeProvider) GetMandateStatus(_ context.Context, providerMandateID string) (domain.MandateStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.mandateStatuses[providerMandateID]
	if !ok {
		return domain.MandateStatusActive, nil
	}
	return status, nil
}

func (f *fakeProvider) GetPayment(_ context.Context, providerPaymentID string) (directdebit.PaymentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp, ok := f.paymentResps[providerPaymentID]
	if !ok {
		return directdebit.PaymentResponse{ID: providerPaymentID, Status: "submitted"}, nil
	}
	return directdebit.PaymentResponse{
		ID:            providerPaymentID,
		Status:        resp.status,
		FailureReason: resp.failureReason,
		PayoutID:      resp.payoutID,
	}, nil
}

func (f *fakeProvider) SubscriptionExists(_ context.Context, providerSubscriptionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteSubs[providerSubscriptionID], nil
}

func (f *fakeProvider) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submissions)
}
