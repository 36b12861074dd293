package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubhub/billing-engine/internal/domain"
)

func (e *testEnv) syncSvc(provider *fakeProvider) (*syncService, *paymentService) {
	lifecycle := e.lifecycle()
	payments := e.paymentSvc(provider, lifecycle)
	svc := NewSyncService(e.subscriptions, e.mandates, e.payments, provider, payments, lifecycle, e.publisher, e.cfg, e.log).(*syncService)
	svc.now = e.clock()
	return svc, payments
}

func TestMandateSync_RefreshesLocalStatus(t *testing.T) {
	env := newTestEnv()
	provider := newFakeProvider()
	svc, _ := env.syncSvc(provider)

	payerID := uuid.New()
	mandate := env.addMandate(payerID, domain.MandateStatusPending, true)
	provider.mandateStatuses[mandate.ProviderMandateID] = domain.MandateStatusActive

	result, err := svc.RunMandateSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", result.Metadata["mandates_refreshed"])

	stored, err := env.mandates.GetByID(context.Background(), mandate.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MandateStatusActive, stored.Status)
	assert.Contains(t, env.publisher.types(), domain.LifecycleMandateActive)
}

func TestMandateSync_RevokedMandateIsPickedUp(t *testing.T) {
	env := newTestEnv()
	provider := newFakeProvider()
	svc, _ := env.syncSvc(provider)

	mandate := env.addMandate(uuid.New(), domain.MandateStatusActive, true)
	provider.mandateStatuses[mandate.ProviderMandateID] = domain.MandateStatusCancelled

	_, err := svc.RunMandateSync(context.Background())
	require.NoError(t, err)

	stored, err := env.mandates.GetByID(context.Background(), mandate.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MandateStatusCancelled, stored.Status)
	assert.NotContains(t, env.publisher.types(), domain.LifecycleMandateActive)
}

func TestMandateSync_PromotesPendingSubscription(t *testing.T) {
	env := newTestEnv()
	provider := newFakeProvider()
	svc, _ := env.syncSvc(provider)
	tier := env.addTier("25.00", true)

	payerID := uuid.New()
	mandate := env.addMandate(payerID, domain.MandateStatusPending, true)
	provider.mandateStatuses[mandate.ProviderMandateID] = domain.MandateStatusActive

	sub, _ := env.subscriptions.Create(context.Background(), domain.Subscription{
		ID:                uuid.New(),
		ClubID:            tier.ClubID,
		PayerID:           payerID,
		MemberID:          uuid.New(),
		TierID:            tier.ID,
		Status:            domain.SubscriptionStatusPending,
		BillingFrequency:  domain.BillingFrequencyMonthly,
		BillingDayOfMonth: 1,
		Amount:            tier.Price,
		Currency:          tier.Currency,
	})

	result, err := svc.RunMandateSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", result.Metadata["subscriptions_promoted"])

	updated, err := env.subscriptions.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, updated.Status)
	assert.Equal(t, day(2026, time.April, 1), updated.NextBillingDate)
}

func TestMandateSync_PendingWithoutMandateStaysPending(t *testing.T) {
	env := newTestEnv()
	provider := newFakeProvider()
	svc, _ := env.syncSvc(provider)
	tier := env.addTier("25.00", true)

	sub, _ := env.subscriptions.Create(context.Background(), domain.Subscription{
		ID:                uuid.New(),
		ClubID:            tier.ClubID,
		PayerID:           uuid.New(),
		MemberID:          uuid.New(),
		TierID:            tier.ID,
		Status:            domain.SubscriptionStatusPending,
		BillingFrequency:  domain.BillingFrequencyMonthly,
		BillingDayOfMonth: 1,
	})

	result, err := svc.RunMandateSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0", result.Metadata["subscriptions_promoted"])

	updated, err := env.subscriptions.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPending, updated.Status)
}

func TestMandateSync_PollsStaleSubmittedPayments(t *testing.T) {
	env := newTestEnv()
	provider := newFakeProvider()
	svc, paymentSvc := env.syncSvc(provider)

	// опрос отбирает платежи по реальному времени создания записи
	svc.now = time.Now
	paymentSvc.now = time.Now

	tier := env.addTier("25.00", true)
	sub := env.addActiveSubscription(tier, 1)
	payment := submittedCollection(env, sub, "PM-stale")

	backdated := payment
	backdated.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, env.payments.Update(context.Background(), backdated))

	provider.paymentResps["PM-stale"] = fakePaymentResp{status: "confirmed"}

	result, err := svc.RunMandateSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Failed)

	stored, err := env.payments.GetByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderPaymentStatusConfirmed, stored.Status)
}

func TestMandateSync_FreshSubmittedPaymentsNotPolled(t *testing.T) {
	env := newTestEnv()
	provider := newFakeProvider()
	svc, paymentSvc := env.syncSvc(provider)
	svc.now = time.Now
	paymentSvc.now = time.Now

	tier := env.addTier("25.00", true)
	sub := env.addActiveSubscription(tier, 1)
	payment := submittedCollection(env, sub, "PM-fresh")
	provider.paymentResps["PM-fresh"] = fakePaymentResp{status: "confirmed"}

	_, err := svc.RunMandateSync(context.Background())
	require.NoError(t, err)

	stored, err := env.payments.GetByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderPaymentStatusSubmitted, stored.Status)
}

func TestDiagnose_NoMandateBlocker(t *testing.T) {
	env := newTestEnv()
	provider := newFakeProvider()
	svc, _ := env.syncSvc(provider)
	tier := env.addTier("25.00", true)

	sub, _ := env.subscriptions.Create(context.Background(), domain.Subscription{
		ID:       uuid.New(),
		ClubID:   tier.ClubID,
		PayerID:  uuid.New(),
		MemberID: uuid.New(),
		TierID:   tier.ID,
		Status:   domain.SubscriptionStatusPending,
	})

	diag, err := svc.DiagnoseSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, diag.Blocked())
	assert.Contains(t, diag.SyncBlockers, domain.BlockerNoDefaultMandate)
}

func TestDiagnose_MandateNotActiveBlocker(t *testing.T) {
	env := newTestEnv()
	provider := newFakeProvider()
	svc, _ := env.syncSvc(provider)
	tier := env.addTier("25.00", true)

	payerID := uuid.New()
	mandate := env.addMandate(payerID, domain.MandateStatusFailed, true)
	provider.mandateStatuses[mandate.ProviderMandateID] = domain.MandateStatusFailed

	sub, _ := env.subscriptions.Create(context.Background(), domain.Subscription{
		ID:       uuid.New(),
		ClubID:   tier.ClubID,
		PayerID:  payerID,
		MemberID: uuid.New(),
		TierID:   tier.ID,
		Status:   domain.SubscriptionStatusPending,
	})

	diag, err := svc.DiagnoseSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, diag.Blocked())
	assert.Contains(t, diag.SyncBlockers, domain.BlockerMandateNotActive)
	assert.Equal(t, domain.MandateStatusFailed, diag.LocalMandateStatus)
	assert.False(t, diag.NeedsSync)
}

func TestDiagnose_RemoteMandateMismatchNeedsSync(t *testing.T) {
	env := newTestEnv()
	provider := newFakeProvider()
	svc, _ := env.syncSvc(provider)
	tier := env.addTier("25.00", true)
	sub := env.addActiveSubscription(tier, 1)

	mandate, err := env.mandates.GetDefaultByPayer(context.Background(), sub.PayerID)
	require.NoError(t, err)
	provider.mandateStatuses[mandate.ProviderMandateID] = domain.MandateStatusExpired

	diag, err := svc.DiagnoseSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, diag.NeedsSync)
	assert.Equal(t, domain.MandateStatusActive, diag.LocalMandateStatus)
	assert.Equal(t, domain.MandateStatusExpired, diag.RemoteMandateStatus)
	assert.False(t, diag.Blocked())
}

func TestDiagnose_MissingRemoteRecordAndLocalHistory(t *testing.T) {
	env := newTestEnv()
	provider := newFakeProvider()
	svc, _ := env.syncSvc(provider)
	tier := env.addTier("25.00", true)
	sub := env.addActiveSubscription(tier, 1)

	mandate, err := env.mandates.GetDefaultByPayer(context.Background(), sub.PayerID)
	require.NoError(t, err)
	provider.mandateStatuses[mandate.ProviderMandateID] = domain.MandateStatusActive

	sub.ProviderSubscriptionID = "SB-gone"
	require.NoError(t, env.subscriptions.Update(context.Background(), sub))

	diag, err := svc.DiagnoseSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, diag.NeedsSync)
	assert.Contains(t, diag.SyncBlockers, domain.BlockerMissingRemoteRecord)
	assert.Contains(t, diag.SyncBlockers, domain.BlockerMissingLocalPayments)
}

func TestDiagnose_ReportCounts(t *testing.T) {
	env := newTestEnv()
	provider := newFakeProvider()
	svc, _ := env.syncSvc(provider)
	tier := env.addTier("25.00", true)

	// здоровая активная подписка
	healthy := env.addActiveSubscription(tier, 1)
	mandate, err := env.mandates.GetDefaultByPayer(context.Background(), healthy.PayerID)
	require.NoError(t, err)
	provider.mandateStatuses[mandate.ProviderMandateID] = domain.MandateStatusActive

	// ожидающая без мандата
	_, err = env.subscriptions.Create(context.Background(), domain.Subscription{
		ID:       uuid.New(),
		ClubID:   tier.ClubID,
		PayerID:  uuid.New(),
		MemberID: uuid.New(),
		TierID:   tier.ID,
		Status:   domain.SubscriptionStatusPending,
	})
	require.NoError(t, err)

	report, err := svc.Diagnose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.BlockedCount)
	assert.Equal(t, 0, report.NeedingSync)
	assert.Len(t, report.Subscriptions, 2)
}
