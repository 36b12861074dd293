package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubhub/billing-engine/internal/domain"
)

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "admin-1")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeSubscription(t *testing.T, w *httptest.ResponseRecorder) domain.Subscription {
	t.Helper()
	var sub domain.Subscription
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	return sub
}

func TestCreateSubscription_EndToEnd(t *testing.T) {
	f := newHandlerFixture()
	tier := f.addTier("42.50")
	payerID := uuid.New()
	f.addMandate(payerID)

	w := f.do(t, http.MethodPost, "/api/v1/subscriptions", gin.H{
		"club_id":              tier.ClubID,
		"payer_id":             payerID,
		"member_id":            uuid.New(),
		"tier_id":              tier.ID,
		"billing_frequency":    "monthly",
		"billing_day_of_month": 1,
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sub := decodeSubscription(t, w)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "42.5", sub.Amount.String())

	// журнал событий доступен сразу и несет инициатора из заголовка
	w = f.do(t, http.MethodGet, "/api/v1/subscriptions/"+sub.ID.String()+"/events", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listing struct {
		Events []domain.SubscriptionEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Events, 1)
	assert.Equal(t, domain.ActorTypeUser, listing.Events[0].ActorType)
	assert.Equal(t, "admin-1", listing.Events[0].ActorID)
}

func TestCreateSubscription_BindingRejectsBadFrequency(t *testing.T) {
	f := newHandlerFixture()
	tier := f.addTier("42.50")

	w := f.do(t, http.MethodPost, "/api/v1/subscriptions", gin.H{
		"club_id":              tier.ClubID,
		"payer_id":             uuid.New(),
		"member_id":            uuid.New(),
		"tier_id":              tier.ID,
		"billing_frequency":    "weekly",
		"billing_day_of_month": 1,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSubscription_ErrorMapping(t *testing.T) {
	f := newHandlerFixture()

	w := f.do(t, http.MethodGet, "/api/v1/subscriptions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"NotFound"`)

	w = f.do(t, http.MethodGet, "/api/v1/subscriptions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"InvalidInput"`)
}

func TestActivateSubscription_MandateNotReady(t *testing.T) {
	f := newHandlerFixture()
	tier := f.addTier("42.50")

	w := f.do(t, http.MethodPost, "/api/v1/subscriptions", gin.H{
		"club_id":              tier.ClubID,
		"payer_id":             uuid.New(),
		"member_id":            uuid.New(),
		"tier_id":              tier.ID,
		"billing_frequency":    "monthly",
		"billing_day_of_month": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	sub := decodeSubscription(t, w)
	require.Equal(t, domain.SubscriptionStatusPending, sub.Status)

	w = f.do(t, http.MethodPost, "/api/v1/subscriptions/"+sub.ID.String()+"/activate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"MandateNotReady"`)
}

func TestCancelSubscription_ConflictAfterTerminal(t *testing.T) {
	f := newHandlerFixture()
	tier := f.addTier("42.50")
	payerID := uuid.New()
	f.addMandate(payerID)

	w := f.do(t, http.MethodPost, "/api/v1/subscriptions", gin.H{
		"club_id":              tier.ClubID,
		"payer_id":             payerID,
		"member_id":            uuid.New(),
		"tier_id":              tier.ID,
		"billing_frequency":    "monthly",
		"billing_day_of_month": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	sub := decodeSubscription(t, w)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/subscriptions/%s/cancel", sub.ID), gin.H{"immediate": true})
	require.Equal(t, http.StatusOK, w.Code)
	cancelled := decodeSubscription(t, w)
	assert.Equal(t, domain.SubscriptionStatusCancelled, cancelled.Status)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/subscriptions/%s/cancel", sub.ID), gin.H{"immediate": true})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"SubscriptionCancelled"`)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/subscriptions/%s/pause", sub.ID), gin.H{})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"InvalidTransition"`)
}

func TestChangeTier_PauseResumeRoundTrip(t *testing.T) {
	f := newHandlerFixture()
	tier := f.addTier("20.00")
	upgrade := f.addTier("50.00")
	payerID := uuid.New()
	f.addMandate(payerID)

	w := f.do(t, http.MethodPost, "/api/v1/subscriptions", gin.H{
		"club_id":              tier.ClubID,
		"payer_id":             payerID,
		"member_id":            uuid.New(),
		"tier_id":              tier.ID,
		"billing_frequency":    "monthly",
		"billing_day_of_month": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	sub := decodeSubscription(t, w)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/subscriptions/%s/tier", sub.ID), gin.H{"tier_id": upgrade.ID, "prorate": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	changed := decodeSubscription(t, w)
	assert.Equal(t, upgrade.ID, changed.TierID)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/subscriptions/%s/pause", sub.ID), gin.H{})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/subscriptions/%s/resume", sub.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	resumed := decodeSubscription(t, w)
	assert.Equal(t, domain.SubscriptionStatusActive, resumed.Status)
}
