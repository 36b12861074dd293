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

func createRequest(tier domain.MembershipTier, payerID uuid.UUID) domain.CreateSubscriptionRequest {
	return domain.CreateSubscriptionRequest{
		ClubID:            tier.ClubID,
		PayerID:           payerID,
		MemberID:          uuid.New(),
		TierID:            tier.ID,
		BillingFrequency:  "monthly",
		BillingDayOfMonth: 1,
	}
}

func TestCreate_PendingWithoutMandate(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("25.00", true)

	sub, err := svc.Create(context.Background(), createRequest(tier, uuid.New()), domain.Actor{Type: domain.ActorTypeUser, ID: "admin"})
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusPending, sub.Status)
	assert.True(t, sub.NextBillingDate.IsZero())
	assert.True(t, tier.Price.Equal(sub.Amount))

	events, err := svc.ListEvents(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.SubscriptionStatusPending, events[0].NewStatus)
	assert.Equal(t, domain.ActorTypeUser, events[0].ActorType)
}

func TestCreate_ActivatesWithUsableDefaultMandate(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("25.00", true)
	payerID := uuid.New()
	env.addMandate(payerID, domain.MandateStatusActive, true)

	sub, err := svc.Create(context.Background(), createRequest(tier, payerID), domain.SystemActor)
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, day(2026, time.April, 1), sub.NextBillingDate)
	assert.Equal(t, sub.CurrentPeriodEnd, sub.NextBillingDate)
	assert.Contains(t, env.publisher.types(), domain.LifecycleSubscriptionCreated)
	assert.Contains(t, env.publisher.types(), domain.LifecycleSubscriptionActivated)
}

func TestCreate_PublishedEventsCarryServiceClock(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("25.00", true)
	payerID := uuid.New()
	env.addMandate(payerID, domain.MandateStatusActive, true)

	_, err := svc.Create(context.Background(), createRequest(tier, payerID), domain.SystemActor)
	require.NoError(t, err)

	require.NotEmpty(t, env.publisher.events)
	for _, event := range env.publisher.events {
		assert.True(t, event.OccurredAt.Equal(env.now), "event %s stamped %s, want %s", event.Type, event.OccurredAt, env.now)
	}
}

func TestCreate_PendingMandateDoesNotActivate(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("25.00", true)
	payerID := uuid.New()
	env.addMandate(payerID, domain.MandateStatusPending, true)

	sub, err := svc.Create(context.Background(), createRequest(tier, payerID), domain.SystemActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPending, sub.Status)
}

func TestCreate_ValidationErrors(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("25.00", true)

	req := createRequest(tier, uuid.New())
	req.BillingDayOfMonth = 42
	req.BillingFrequency = "weekly"

	_, err := svc.Create(context.Background(), req, domain.SystemActor)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	var verrs domain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)
}

func TestCreate_InactiveTierRejected(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("25.00", false)

	_, err := svc.Create(context.Background(), createRequest(tier, uuid.New()), domain.SystemActor)
	assert.ErrorIs(t, err, domain.ErrTierInactive)
}

func TestActivate_RequiresUsableMandate(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("25.00", true)

	sub, err := svc.Create(context.Background(), createRequest(tier, uuid.New()), domain.SystemActor)
	require.NoError(t, err)

	_, err = svc.Activate(context.Background(), sub.ID, domain.SystemActor)
	assert.ErrorIs(t, err, domain.ErrMandateNotReady)
}

func TestActivate_AfterMandateBecomesUsable(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("25.00", true)
	payerID := uuid.New()

	sub, err := svc.Create(context.Background(), createRequest(tier, payerID), domain.SystemActor)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusPending, sub.Status)

	env.addMandate(payerID, domain.MandateStatusActive, true)

	activated, err := svc.Activate(context.Background(), sub.ID, domain.SystemActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, activated.Status)
	assert.Equal(t, day(2026, time.April, 1), activated.NextBillingDate)
}

func TestPauseAndResume(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("25.00", true)
	sub := env.addActiveSubscription(tier, 1)

	resumeDate := env.now.AddDate(0, 1, 0)
	paused, err := svc.Pause(context.Background(), sub.ID, &resumeDate, domain.SystemActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPaused, paused.Status)
	require.NotNil(t, paused.ResumeDate)

	resumed, err := svc.Resume(context.Background(), sub.ID, domain.SystemActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, resumed.Status)
	assert.Nil(t, resumed.PausedAt)
	assert.Nil(t, resumed.ResumeDate)
}

func TestResume_RecomputesScheduleForward(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("25.00", true)
	sub := env.addActiveSubscription(tier, 1)

	_, err := svc.Pause(context.Background(), sub.ID, nil, domain.SystemActor)
	require.NoError(t, err)

	// пауза длилась три месяца; возобновление не должно списать за них
	env.now = env.now.AddDate(0, 3, 0)
	svc.now = env.clock()

	resumed, err := svc.Resume(context.Background(), sub.ID, domain.SystemActor)
	require.NoError(t, err)
	assert.True(t, resumed.NextBillingDate.After(env.now), "next billing %s is not after resume time %s", resumed.NextBillingDate, env.now)
	assert.Equal(t, day(2026, time.July, 1), resumed.NextBillingDate)
}

func TestResume_OnlyFromPaused(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("25.00", true)
	sub := env.addActiveSubscription(tier, 1)

	_, err := svc.Resume(context.Background(), sub.ID, domain.SystemActor)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancel_AtPeriodEndKeepsSubscriptionRunning(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("25.00", true)
	sub := env.addActiveSubscription(tier, 1)

	cancelled, err := svc.Cancel(context.Background(), sub.ID, "moving away", false, domain.SystemActor)
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusActive, cancelled.Status)
	assert.True(t, cancelled.IsCancelledAtPeriodEnd())
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, env.now, *cancelled.CancelledAt)
	assert.Equal(t, "moving away", cancelled.CancellationReason)
}

func TestCancel_FinalizationPreservesOriginalTimestamp(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("25.00", true)
	sub := env.addActiveSubscription(tier, 1)

	requestedAt := env.now
	_, err := svc.Cancel(context.Background(), sub.ID, "moving away", false, domain.SystemActor)
	require.NoError(t, err)

	env.now = env.now.AddDate(0, 1, 2)
	svc.now = env.clock()

	final, err := svc.Cancel(context.Background(), sub.ID, "", true, domain.SystemActor)
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusCancelled, final.Status)
	require.NotNil(t, final.CancelledAt)
	assert.Equal(t, requestedAt, *final.CancelledAt)
	assert.Equal(t, "moving away", final.CancellationReason)
}

func TestCancel_CancelledIsTerminal(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("25.00", true)
	sub := env.addActiveSubscription(tier, 1)

	_, err := svc.Cancel(context.Background(), sub.ID, "", true, domain.SystemActor)
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), sub.ID, "", true, domain.SystemActor)
	assert.ErrorIs(t, err, domain.ErrSubscriptionCancelled)

	_, err = svc.Activate(context.Background(), sub.ID, domain.SystemActor)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.Pause(context.Background(), sub.ID, nil, domain.SystemActor)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSuspend_FromActiveOnly(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("25.00", true)
	sub := env.addActiveSubscription(tier, 1)

	suspended, err := svc.Suspend(context.Background(), sub.ID, SuspensionReasonPaymentFailure)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusSuspended, suspended.Status)

	events, err := svc.ListEvents(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, domain.ActorTypeSystem, last.ActorType)
	assert.Equal(t, SuspensionReasonPaymentFailure, last.Description)

	_, err = svc.Suspend(context.Background(), sub.ID, SuspensionReasonPaymentFailure)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestChangeTier_UpgradeCreatesProrationCollection(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	oldTier := env.addTier("20.00", true)
	newTier := env.addTier("50.00", true)
	sub := env.addActiveSubscription(oldTier, 1)

	changed, err := svc.ChangeTier(context.Background(), sub.ID, newTier.ID, true, domain.SystemActor)
	require.NoError(t, err)
	assert.Equal(t, newTier.ID, changed.TierID)
	assert.True(t, newTier.Price.Equal(changed.Amount))
	// границы периода смена тарифа не двигает
	assert.Equal(t, sub.CurrentPeriodEnd, changed.CurrentPeriodEnd)

	payments, err := env.payments.ListBySubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.ProviderPaymentStatusPendingSubmission, payments[0].Status)
	assert.True(t, payments[0].Amount.IsPositive())
	assert.Equal(t, day(2026, time.March, 15), payments[0].ChargeDate)

	expected := Prorate(oldTier.Price, newTier.Price, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, env.now)
	assert.True(t, expected.Equal(payments[0].Amount), "expected %s, got %s", expected, payments[0].Amount)
}

func TestChangeTier_DowngradeEmitsCreditWithoutCollection(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	oldTier := env.addTier("50.00", true)
	newTier := env.addTier("20.00", true)
	sub := env.addActiveSubscription(oldTier, 1)

	_, err := svc.ChangeTier(context.Background(), sub.ID, newTier.ID, true, domain.SystemActor)
	require.NoError(t, err)

	payments, err := env.payments.ListBySubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Empty(t, payments, "credit must not be submitted to the provider")

	types := env.publisher.types()
	assert.Contains(t, types, domain.LifecycleAdjustmentCredit)

	for _, event := range env.publisher.events {
		if event.Type == domain.LifecycleAdjustmentCredit {
			assert.True(t, event.Amount.IsPositive(), "credit amount is reported as a positive value")
		}
	}
}

func TestChangeTier_NoProrationWhenDisabled(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	oldTier := env.addTier("20.00", true)
	newTier := env.addTier("50.00", true)
	sub := env.addActiveSubscription(oldTier, 1)

	_, err := svc.ChangeTier(context.Background(), sub.ID, newTier.ID, false, domain.SystemActor)
	require.NoError(t, err)

	payments, err := env.payments.ListBySubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestChangeTier_RecordsTierTransitionEvent(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	oldTier := env.addTier("20.00", true)
	newTier := env.addTier("50.00", true)
	sub := env.addActiveSubscription(oldTier, 1)

	_, err := svc.ChangeTier(context.Background(), sub.ID, newTier.ID, true, domain.SystemActor)
	require.NoError(t, err)

	events, err := svc.ListEvents(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].PreviousTierID)
	require.NotNil(t, events[0].NewTierID)
	assert.Equal(t, oldTier.ID, *events[0].PreviousTierID)
	assert.Equal(t, newTier.ID, *events[0].NewTierID)
}

func TestChangeTier_RejectedForCancelledAndInactiveTier(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()
	tier := env.addTier("20.00", true)
	inactive := env.addTier("30.00", false)
	sub := env.addActiveSubscription(tier, 1)

	_, err := svc.ChangeTier(context.Background(), sub.ID, inactive.ID, true, domain.SystemActor)
	assert.ErrorIs(t, err, domain.ErrTierInactive)

	_, err = svc.Cancel(context.Background(), sub.ID, "", true, domain.SystemActor)
	require.NoError(t, err)

	_, err = svc.ChangeTier(context.Background(), sub.ID, tier.ID, true, domain.SystemActor)
	assert.ErrorIs(t, err, domain.ErrSubscriptionCancelled)
}

func TestGetByID_NotFound(t *testing.T) {
	env := newTestEnv()
	svc := env.lifecycle()

	_, err := svc.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
