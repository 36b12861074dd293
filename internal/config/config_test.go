package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackoffFor_FollowsCurve(t *testing.T) {
	policy := DunningPolicy{RetryLimit: 3, BackoffDays: []int{1, 3, 7}}

	assert.Equal(t, 1, policy.BackoffFor(1))
	assert.Equal(t, 3, policy.BackoffFor(2))
	assert.Equal(t, 7, policy.BackoffFor(3))
}

func TestBackoffFor_ClampsOutsideCurve(t *testing.T) {
	policy := DunningPolicy{RetryLimit: 5, BackoffDays: []int{1, 3, 7}}

	// за пределами кривой действует последнее значение
	assert.Equal(t, 7, policy.BackoffFor(4))
	assert.Equal(t, 7, policy.BackoffFor(99))
	assert.Equal(t, 1, policy.BackoffFor(0))
}

func TestBackoffFor_EmptyCurveDefaultsToOneDay(t *testing.T) {
	policy := DunningPolicy{RetryLimit: 3}
	assert.Equal(t, 1, policy.BackoffFor(1))
}

func TestDunningPolicy_Swap(t *testing.T) {
	cfg := &Config{}
	cfg.SetDunningPolicy(DunningPolicy{RetryLimit: 3, BackoffDays: []int{1, 3, 7}})
	assert.Equal(t, 3, cfg.DunningPolicy().RetryLimit)

	cfg.SetDunningPolicy(DunningPolicy{RetryLimit: 5, BackoffDays: []int{2}})
	assert.Equal(t, 5, cfg.DunningPolicy().RetryLimit)
	assert.Equal(t, []int{2}, cfg.DunningPolicy().BackoffDays)
}
