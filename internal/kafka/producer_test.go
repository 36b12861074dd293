package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clubhub/billing-engine/internal/domain"
	"github.com/clubhub/billing-engine/pkg/logger"
)

func TestTopicFor(t *testing.T) {
	assert.Equal(t, TopicLifecycleEvents, topicFor(domain.LifecycleSubscriptionCreated))
	assert.Equal(t, TopicLifecycleEvents, topicFor(domain.LifecycleSubscriptionSuspended))
	assert.Equal(t, TopicLifecycleEvents, topicFor(domain.LifecycleMandateActive))
	assert.Equal(t, TopicLifecycleEvents, topicFor(domain.LifecycleAdjustmentCredit))

	assert.Equal(t, TopicPaymentEvents, topicFor(domain.LifecyclePaymentSubmitted))
	assert.Equal(t, TopicPaymentEvents, topicFor(domain.LifecyclePaymentConfirmed))
	assert.Equal(t, TopicPaymentEvents, topicFor(domain.LifecyclePaymentFailed))
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(nil, logger.New(logger.ERROR))
	assert.Error(t, err)
}
